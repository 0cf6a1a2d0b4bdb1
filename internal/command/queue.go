package command

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

type job struct {
	cmd    Command
	handle *Handle
}

// Queue is a single-consumer FIFO. Exactly one command (or undo) runs at a time.
type Queue struct {
	logger *log.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	pending   []job
	busy      bool
	closed    bool
	last      Command
	runCancel context.CancelFunc
	// epoch counts drains. A command that started before a drain never
	// becomes the undo target.
	epoch uint64

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewQueue(logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit enqueues cmd and returns immediately.
func (q *Queue) Submit(cmd Command) *Handle {
	h := newHandle()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		h.finish(ErrClosed)
		return h
	}
	q.pending = append(q.pending, job{cmd: cmd, handle: h})
	q.cond.Broadcast()
	return h
}

// Len is the number of commands waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// UndoLast undoes the most recently completed command, provided nothing has
// started since it completed and it has not been undone already.
func (q *Queue) UndoLast(ctx context.Context) bool {
	q.mu.Lock()
	if q.closed || q.busy || q.last == nil {
		q.mu.Unlock()
		return false
	}
	cmd := q.last
	q.busy = true
	q.mu.Unlock()

	err := safeCall(func() error { return cmd.Undo(ctx) })

	q.mu.Lock()
	q.busy = false
	if err == nil {
		q.last = nil
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	if err != nil {
		q.logger.Debug("command.undo_rejected", "err", err)
		return false
	}
	q.logger.Debug("command.undone")
	return true
}

// Drain discards every command that has not started yet and cancels the one
// that is running. It returns the number of discarded commands.
func (q *Queue) Drain() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.last = nil
	q.epoch++
	if q.runCancel != nil {
		q.runCancel()
	}
	q.mu.Unlock()

	for _, j := range dropped {
		j.handle.finish(ErrDiscarded)
	}
	if len(dropped) > 0 {
		q.logger.Debug("command.drained", "count", len(dropped))
	}
	return len(dropped)
}

// Close cancels the running command, rejects pending ones and waits for the
// worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	for _, j := range dropped {
		j.handle.finish(ErrClosed)
	}
	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for (len(q.pending) == 0 || q.busy) && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending = q.pending[1:]
		q.last = nil
		q.busy = true
		epoch := q.epoch
		ctx, cancel := context.WithCancel(q.ctx)
		q.runCancel = cancel
		q.mu.Unlock()

		err := safeCall(func() error { return j.cmd.Execute(ctx) })
		cancel()

		q.mu.Lock()
		q.busy = false
		q.runCancel = nil
		if err == nil && epoch == q.epoch {
			q.last = j.cmd
		}
		q.cond.Broadcast()
		q.mu.Unlock()

		if err != nil {
			q.logger.Debug("command.failed", "err", err)
		}
		j.handle.finish(err)
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return fn()
}

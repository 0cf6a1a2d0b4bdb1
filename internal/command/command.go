// Package command runs player interactions one at a time, in submission order,
// and keeps enough history to undo the most recent one.
package command

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrDiscarded   = errors.New("command discarded before it ran")
	ErrClosed      = errors.New("command queue closed")
	ErrNotUndoable = errors.New("command cannot be undone")
)

// Command is a unit of player interaction. Execute may block (animations,
// collaborator callbacks) and must honor ctx.
type Command interface {
	Execute(ctx context.Context) error
	Undo(ctx context.Context) error
}

// Step adapts a function into a Command that cannot be undone.
type Step func(ctx context.Context) error

func (f Step) Execute(ctx context.Context) error { return f(ctx) }
func (f Step) Undo(context.Context) error        { return ErrNotUndoable }

// Handle resolves once its command has finished, failed or been discarded.
type Handle struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the command's result. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the command finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

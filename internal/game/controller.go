// Package game drives a single player through the level sequence: loading,
// playing against the clock, scoring and advancing.
package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"circuitgrid/internal/command"
	"circuitgrid/internal/levels"
	"circuitgrid/internal/progress"
	"circuitgrid/internal/scoring"
	history "circuitgrid/internal/state"
)

const DefaultTimeLimit = 120 * time.Second

// Board is the playable grid of one level. OnValidated handlers run each time
// the circuit closes.
type Board interface {
	command.Clicker
	OnValidated(fn func()) (unsubscribe func())
}

type BoardFactory func(def *levels.Definition) (Board, error)

type ProgressStore interface {
	CommitScore(ctx context.Context, level, score int) error
	SetLastPlayedLevel(ctx context.Context, level int) error
	LastUnlockedLevel() int
	Record(level int) (progress.LevelRecord, bool)
	TotalScore() int
	Reset(ctx context.Context) error
}

var _ ProgressStore = (*progress.FileStore)(nil)

type RunRecorder interface {
	StartLevelRun(ctx context.Context, run history.LevelRun) (int64, error)
	FinishLevelRun(ctx context.Context, runID int64, result history.RunResult) error
}

type Options struct {
	Catalog levels.Catalog
	Store   ProgressStore
	Boards  BoardFactory
	// Queue defaults to a fresh queue owned by the controller.
	Queue   *command.Queue
	History RunRecorder
	Logger  *log.Logger

	SessionID string
	TimeLimit time.Duration
	// TickInterval drives the countdown. Zero leaves the clock to Tick.
	TickInterval time.Duration
	MaxLevel     int
}

type Controller struct {
	catalog      levels.Catalog
	store        ProgressStore
	boards       BoardFactory
	queue        *command.Queue
	history      RunRecorder
	logger       *log.Logger
	sessionID    string
	timeLimit    time.Duration
	tickInterval time.Duration
	maxLevel     int
	events       *Broadcaster

	mu          sync.Mutex
	state       State
	level       int
	gen         uint64
	def         *levels.Definition
	board       Board
	session     *Session
	unsubscribe func()
	loadCancel  context.CancelFunc
	stopTimer   chan struct{}
	runID       int64
	runOpen     bool
	outbox      []Event
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	queue := opts.Queue
	if queue == nil {
		queue = command.NewQueue(logger)
	}
	limit := opts.TimeLimit
	if limit <= 0 {
		limit = DefaultTimeLimit
	}
	maxLevel := opts.MaxLevel
	if maxLevel <= 0 {
		maxLevel = levels.MaxLevel
	}
	return &Controller{
		catalog:      opts.Catalog,
		store:        opts.Store,
		boards:       opts.Boards,
		queue:        queue,
		history:      opts.History,
		logger:       logger,
		sessionID:    opts.SessionID,
		timeLimit:    limit,
		tickInterval: opts.TickInterval,
		maxLevel:     maxLevel,
		events:       NewBroadcaster(),
	}
}

func (c *Controller) Events() *Broadcaster { return c.events }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Level is the level being loaded or played, 0 when idle.
func (c *Controller) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		return 0
	}
	return c.level
}

func (c *Controller) Session() (SessionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return SessionState{}, false
	}
	return c.session.Snapshot(), true
}

// Board is the board of the loaded level, nil when nothing is loaded.
func (c *Controller) Board() Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board
}

// LoadLevel starts loading level. The returned channel yields nil once the
// level is playable, or the reason it is not. Rejected requests leave the
// controller untouched.
func (c *Controller) LoadLevel(ctx context.Context, level int) (<-chan error, error) {
	c.mu.Lock()
	done, err := c.loadLocked(ctx, "load", level)
	out := c.takeOutboxLocked()
	c.mu.Unlock()
	c.publish(out)
	return done, err
}

// Advance moves from a completed level to the next one.
func (c *Controller) Advance(ctx context.Context) (<-chan error, error) {
	c.mu.Lock()
	if c.state != StateCompleting {
		err := c.rejectLocked("advance", 0, "no completed level to advance from")
		c.mu.Unlock()
		return nil, err
	}
	next := c.level + 1
	if err := c.checkLevelLocked("advance", next); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.setStateLocked(StateAdvancing)
	done, err := c.loadLocked(ctx, "advance", next)
	if err != nil {
		c.setStateLocked(StateCompleting)
	}
	out := c.takeOutboxLocked()
	c.mu.Unlock()
	c.publish(out)
	return done, err
}

func (c *Controller) loadLocked(ctx context.Context, op string, level int) (<-chan error, error) {
	if err := c.checkLevelLocked(op, level); err != nil {
		return nil, err
	}
	c.teardownLocked(ctx, history.OutcomeAbandoned)
	c.gen++
	gen := c.gen
	c.level = level
	loadCtx, cancel := context.WithCancel(ctx)
	c.loadCancel = cancel
	c.setStateLocked(StateLoading)
	c.logger.Info("level.load", "level_no", level, "gen", gen)

	done := make(chan error, 1)
	go c.fetch(loadCtx, cancel, gen, level, done)
	return done, nil
}

func (c *Controller) checkLevelLocked(op string, level int) error {
	if level < 1 || level > c.maxLevel {
		return c.rejectLocked(op, level, fmt.Sprintf("level must be between 1 and %d", c.maxLevel))
	}
	if unlocked := c.store.LastUnlockedLevel(); level > unlocked {
		return c.rejectLocked(op, level, fmt.Sprintf("level is locked, last unlocked is %d", unlocked))
	}
	return nil
}

func (c *Controller) rejectLocked(op string, level int, reason string) error {
	err := &TransitionError{Op: op, State: c.state, Level: level, Reason: reason}
	c.logger.Warn("level.rejected", "op", op, "level_no", level, "state", c.state, "reason", reason)
	return err
}

func (c *Controller) fetch(ctx context.Context, cancel context.CancelFunc, gen uint64, level int, done chan<- error) {
	defer cancel()

	def, err := c.catalog.Get(ctx, level)
	if err == nil && def == nil {
		err = fmt.Errorf("%s: %w", levels.Address(level), levels.ErrNotFound)
	}
	var board Board
	if err == nil {
		board, err = c.boards(def)
		if err != nil {
			err = fmt.Errorf("build board for %s: %w", levels.Address(level), err)
		}
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("level.load_discarded", "level_no", level, "gen", gen)
		done <- ErrSuperseded
		return
	}
	c.loadCancel = nil
	if err != nil {
		c.logger.Error("level.load_failed", "level_no", level, "err", err)
		c.setStateLocked(StateIdle)
		out := c.takeOutboxLocked()
		c.mu.Unlock()
		c.publish(out)
		done <- err
		return
	}

	c.def = def
	c.board = board
	c.session = newSession(level, c.timeLimit)
	c.unsubscribe = board.OnValidated(c.onValidated(gen))
	c.setStateLocked(StatePlaying)
	c.startTimerLocked(gen)

	top := 0
	if rec, ok := c.store.Record(level); ok {
		top = rec.TopScore
	}
	if err := c.store.SetLastPlayedLevel(ctx, level); err != nil {
		c.logger.Warn("level.last_played_failed", "level_no", level, "err", err)
	}
	c.startRunLocked(ctx, level)
	c.logger.Info("level.loaded", "level_no", level, "top_score", top, "min_moves", def.MinMoves, "max_moves", def.MaxMoves)
	c.outbox = append(c.outbox, LevelLoaded{Level: level, TopScore: top, Definition: def})
	out := c.takeOutboxLocked()
	c.mu.Unlock()
	c.publish(out)
	done <- nil
}

// Click queues a click on nodeID for the level being played.
func (c *Controller) Click(nodeID string) (*command.Handle, error) {
	c.mu.Lock()
	if c.state != StatePlaying {
		err := c.rejectLocked("click", 0, "no level in play")
		c.mu.Unlock()
		return nil, err
	}
	cmd := &command.NodeClick{NodeID: nodeID, Board: c.board, Counter: c.session}
	c.mu.Unlock()
	return c.queue.Submit(cmd), nil
}

// Undo reverts the latest click if nothing has happened since.
func (c *Controller) Undo(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state != StatePlaying {
		err := c.rejectLocked("undo", 0, "no level in play")
		c.mu.Unlock()
		return false, err
	}
	c.mu.Unlock()
	return c.queue.UndoLast(ctx), nil
}

// Tick counts elapsed off the level clock. Running out of time wipes all
// progress.
func (c *Controller) Tick(elapsed time.Duration) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.tick(gen, elapsed)
}

func (c *Controller) tick(gen uint64, elapsed time.Duration) bool {
	c.mu.Lock()
	if gen != c.gen || c.state != StatePlaying {
		c.mu.Unlock()
		return false
	}
	level := c.level
	remaining := c.session.elapse(elapsed)
	if remaining > 0 {
		c.outbox = append(c.outbox, TimerTick{Level: level, Remaining: remaining})
		out := c.takeOutboxLocked()
		c.mu.Unlock()
		c.publish(out)
		return true
	}

	ctx := context.Background()
	c.logger.Warn("level.timeout", "level_no", level)
	c.teardownLocked(ctx, history.OutcomeTimeout)
	c.setStateLocked(StateIdle)
	err := c.store.Reset(ctx)
	if err != nil {
		c.logger.Error("level.timeout_reset_failed", "level_no", level, "err", err)
	}
	c.outbox = append(c.outbox, TimerTick{Level: level}, TimedOut{Level: level, Err: err})
	out := c.takeOutboxLocked()
	c.mu.Unlock()
	c.publish(out)
	return false
}

// onValidated runs on the goroutine of the click that closed the circuit.
// That click has already counted its move, so the score is final here.
func (c *Controller) onValidated(gen uint64) func() {
	return func() {
		c.mu.Lock()
		if gen != c.gen || (c.state != StatePlaying && c.state != StateCompleting) {
			c.mu.Unlock()
			return
		}
		c.beginCompletionLocked()
		_ = c.completeLocked(context.Background())
		out := c.takeOutboxLocked()
		c.mu.Unlock()
		c.publish(out)
	}
}

// CompleteLevel scores the level in play. A repeat call while completing
// commits again; the stored top score only ever rises.
func (c *Controller) CompleteLevel(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StatePlaying && c.state != StateCompleting {
		err := c.rejectLocked("complete", 0, "no level in play")
		c.mu.Unlock()
		return err
	}
	c.beginCompletionLocked()
	err := c.completeLocked(ctx)
	out := c.takeOutboxLocked()
	c.mu.Unlock()
	c.publish(out)
	return err
}

// beginCompletionLocked and completeLocked run under one hold of c.mu, so
// nothing observes Completing before the score is committed.
func (c *Controller) beginCompletionLocked() {
	if c.state == StatePlaying {
		c.stopTimerLocked()
		c.session.close()
		c.setStateLocked(StateCompleting)
	}
}

func (c *Controller) completeLocked(ctx context.Context) error {
	level := c.level
	snap := c.session.Snapshot()
	score := scoring.Score(c.def.MinMoves, c.def.MaxMoves, snap.Moves)

	var errs []error
	if err := c.store.CommitScore(ctx, level, score); err != nil {
		errs = append(errs, fmt.Errorf("commit score: %w", err))
	}
	if err := c.store.SetLastPlayedLevel(ctx, level); err != nil {
		errs = append(errs, fmt.Errorf("set last played level: %w", err))
	}
	ev := LevelCompleted{Level: level, Score: score, Moves: snap.Moves}
	if rec, ok := c.store.Record(level); ok {
		ev.TopScore = rec.TopScore
	}
	if level == c.maxLevel {
		ev.Final = true
		ev.TotalScore = c.store.TotalScore()
	}
	ev.Err = errors.Join(errs...)
	c.finishRunLocked(ctx, history.OutcomeCompleted, snap.Moves, score)

	c.logger.Info("level.completed", "level_no", level, "moves", snap.Moves, "score", score, "top_score", ev.TopScore, "final", ev.Final)
	if ev.Err != nil {
		c.logger.Error("level.completion_persist_failed", "level_no", level, "err", ev.Err)
	}
	c.outbox = append(c.outbox, ev)
	return ev.Err
}

// ResetProgress abandons the current level and wipes stored progress.
func (c *Controller) ResetProgress(ctx context.Context) error {
	c.mu.Lock()
	c.teardownLocked(ctx, history.OutcomeAbandoned)
	c.setStateLocked(StateIdle)
	err := c.store.Reset(ctx)
	out := c.takeOutboxLocked()
	c.mu.Unlock()
	c.publish(out)
	return err
}

// Stop abandons whatever is loaded and returns to idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.teardownLocked(context.Background(), history.OutcomeAbandoned)
	c.setStateLocked(StateIdle)
	out := c.takeOutboxLocked()
	c.mu.Unlock()
	c.publish(out)
}

func (c *Controller) Close() {
	c.Stop()
	c.queue.Close()
}

func (c *Controller) teardownLocked(ctx context.Context, outcome history.Outcome) {
	if c.loadCancel != nil {
		c.loadCancel()
		c.loadCancel = nil
	}
	c.stopTimerLocked()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	if c.session != nil {
		c.session.close()
	}
	c.queue.Drain()
	if c.session != nil {
		c.finishRunLocked(ctx, outcome, c.session.Snapshot().Moves, 0)
	}
	c.gen++
	c.def = nil
	c.board = nil
	c.session = nil
}

func (c *Controller) startTimerLocked(gen uint64) {
	if c.tickInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.stopTimer = stop
	interval := c.tickInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := time.Now()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				elapsed := now.Sub(last)
				last = now
				if !c.tick(gen, elapsed) {
					return
				}
			}
		}
	}()
}

func (c *Controller) stopTimerLocked() {
	if c.stopTimer != nil {
		close(c.stopTimer)
		c.stopTimer = nil
	}
}

func (c *Controller) startRunLocked(ctx context.Context, level int) {
	c.runID, c.runOpen = 0, false
	if c.history == nil {
		return
	}
	id, err := c.history.StartLevelRun(ctx, history.LevelRun{SessionID: c.sessionID, Level: level, StartTS: time.Now()})
	if err != nil {
		c.logger.Warn("history.start_failed", "level_no", level, "err", err)
		return
	}
	c.runID, c.runOpen = id, true
}

func (c *Controller) finishRunLocked(ctx context.Context, outcome history.Outcome, moves, score int) {
	if c.history == nil || !c.runOpen {
		return
	}
	c.runOpen = false
	err := c.history.FinishLevelRun(ctx, c.runID, history.RunResult{Outcome: outcome, Moves: moves, Score: score, EndTS: time.Now()})
	if err != nil {
		c.logger.Warn("history.finish_failed", "run_id", c.runID, "outcome", outcome, "err", err)
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	from := c.state
	c.state = s
	c.logger.Debug("level.state", "from", from, "to", s)
	c.outbox = append(c.outbox, StateChanged{From: from, To: s})
}

func (c *Controller) takeOutboxLocked() []Event {
	out := c.outbox
	c.outbox = nil
	return out
}

func (c *Controller) publish(events []Event) {
	for _, ev := range events {
		c.events.Publish(ev)
	}
}

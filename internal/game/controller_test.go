package game

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitgrid/internal/command"
	"circuitgrid/internal/grid"
	"circuitgrid/internal/levels"
	"circuitgrid/internal/progress"
	history "circuitgrid/internal/state"
)

const waitTimeout = 2 * time.Second

type finishedRun struct {
	id     int64
	result history.RunResult
}

type fakeRecorder struct {
	mu       sync.Mutex
	next     int64
	started  []history.LevelRun
	finished []finishedRun
}

func (r *fakeRecorder) StartLevelRun(_ context.Context, run history.LevelRun) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.started = append(r.started, run)
	return r.next, nil
}

func (r *fakeRecorder) FinishLevelRun(_ context.Context, id int64, result history.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, finishedRun{id: id, result: result})
	return nil
}

func (r *fakeRecorder) outcomes() []history.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []history.Outcome
	for _, f := range r.finished {
		out = append(out, f.result.Outcome)
	}
	return out
}

// fakeBoard accepts every click and only closes the circuit on fire().
type fakeBoard struct {
	mu   sync.Mutex
	subs map[int]func()
	next int
}

func newFakeBoard() *fakeBoard { return &fakeBoard{subs: map[int]func(){}} }

func (b *fakeBoard) Click(context.Context, string) error   { return nil }
func (b *fakeBoard) Unclick(context.Context, string) error { return nil }

func (b *fakeBoard) OnValidated(fn func()) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *fakeBoard) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBoard) fire() {
	b.mu.Lock()
	var fns []func()
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// gatedCatalog holds back chosen levels until released, ignoring ctx so a
// stale result really arrives late.
type gatedCatalog struct {
	inner levels.Catalog
	mu    sync.Mutex
	gates map[int]chan struct{}
}

func (c *gatedCatalog) Get(ctx context.Context, level int) (*levels.Definition, error) {
	c.mu.Lock()
	gate := c.gates[level]
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return c.inner.Get(context.Background(), level)
}

type harness struct {
	t        *testing.T
	ctrl     *Controller
	store    *progress.FileStore
	recorder *fakeRecorder
	events   chan Event
}

type harnessOption func(*Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store, err := progress.Open(filepath.Join(t.TempDir(), "progress.json"), nil)
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	require.NoError(t, err)

	rec := &fakeRecorder{}
	o := Options{
		Catalog: levels.NewEmbeddedCatalog(),
		Store:   store,
		Boards: func(def *levels.Definition) (Board, error) {
			b, err := grid.New(def)
			if err != nil {
				return nil, err
			}
			return b, nil
		},
		History:   rec,
		SessionID: "test-session",
		TimeLimit: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h := &harness{t: t, ctrl: New(o), store: store, recorder: rec, events: make(chan Event, 512)}
	h.ctrl.Events().Subscribe(func(ev Event) { h.events <- ev })
	t.Cleanup(h.ctrl.Close)
	return h
}

func withBoard(b Board) harnessOption {
	return func(o *Options) {
		o.Boards = func(*levels.Definition) (Board, error) { return b, nil }
	}
}

func withQueue(q *command.Queue) harnessOption {
	return func(o *Options) { o.Queue = q }
}

// blockQueue parks a step at the head of q until the returned func is called.
func blockQueue(t *testing.T, q *command.Queue) (release func()) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	q.Submit(command.Step(func(context.Context) error {
		close(started)
		<-gate
		return nil
	}))
	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("blocking step never started")
	}
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

func (h *harness) commit(level, score int) {
	h.t.Helper()
	require.NoError(h.t, h.store.CommitScore(context.Background(), level, score))
}

func (h *harness) load(level int) {
	h.t.Helper()
	done, err := h.ctrl.LoadLevel(context.Background(), level)
	require.NoError(h.t, err)
	select {
	case err := <-done:
		require.NoError(h.t, err)
	case <-time.After(waitTimeout):
		h.t.Fatalf("level %d did not load", level)
	}
	require.Equal(h.t, StatePlaying, h.ctrl.State())
}

func (h *harness) click(row, col int) {
	h.t.Helper()
	handle, err := h.ctrl.Click(grid.NodeID(row, col))
	require.NoError(h.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(h.t, handle.Wait(ctx))
}

func (h *harness) clickAndUndo(row, col int) {
	h.t.Helper()
	h.click(row, col)
	ok, err := h.ctrl.Undo(context.Background())
	require.NoError(h.t, err)
	require.True(h.t, ok)
}

func (h *harness) waitFor(kind EventKind) Event {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for event kind %d", kind)
			return nil
		}
	}
}

func (h *harness) assertNoEvent(kind EventKind, within time.Duration) {
	h.t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind() == kind {
				h.t.Fatalf("unexpected event %#v", ev)
			}
		case <-deadline:
			return
		}
	}
}

// solveLevelOne closes the builtin level 1 circuit with the minimum clicks.
func (h *harness) solveLevelOne() {
	h.click(0, 1)
	h.click(1, 1)
	h.click(1, 1)
}

func TestScoreScenarioKeepsBestResult(t *testing.T) {
	h := newHarness(t)

	h.load(1)
	loaded := h.waitFor(EventLevelLoaded).(LevelLoaded)
	assert.Equal(t, 1, loaded.Level)
	assert.Zero(t, loaded.TopScore)

	h.solveLevelOne()
	first := h.waitFor(EventLevelCompleted).(LevelCompleted)
	assert.Equal(t, 3, first.Moves)
	assert.Equal(t, 100, first.Score)
	assert.Equal(t, 100, first.TopScore)
	assert.NoError(t, first.Err)
	assert.Equal(t, StateCompleting, h.ctrl.State())
	assert.Equal(t, 2, h.store.LastUnlockedLevel())

	// Replay with three wasted clicks: undo restores the node, not the count.
	h.load(1)
	loaded = h.waitFor(EventLevelLoaded).(LevelLoaded)
	assert.Equal(t, 100, loaded.TopScore)
	h.clickAndUndo(0, 0)
	h.clickAndUndo(0, 0)
	h.clickAndUndo(0, 0)
	h.solveLevelOne()

	second := h.waitFor(EventLevelCompleted).(LevelCompleted)
	assert.Equal(t, 6, second.Moves)
	assert.Equal(t, 58, second.Score)
	assert.Equal(t, 100, second.TopScore)

	rec, ok := h.store.Record(1)
	require.True(t, ok)
	assert.Equal(t, 100, rec.TopScore)
	assert.Equal(t, 2, h.store.LastUnlockedLevel())
	assert.Equal(t, []history.Outcome{history.OutcomeCompleted, history.OutcomeCompleted}, h.recorder.outcomes())
}

func TestTimeoutWipesProgress(t *testing.T) {
	board := newFakeBoard()
	h := newHarness(t, withBoard(board), func(o *Options) { o.TimeLimit = time.Second })
	h.commit(1, 80)
	h.commit(2, 60)

	h.load(3)
	h.ctrl.Tick(400 * time.Millisecond)
	tick := h.waitFor(EventTimerTick).(TimerTick)
	assert.Equal(t, 600*time.Millisecond, tick.Remaining)
	assert.Equal(t, StatePlaying, h.ctrl.State())

	h.ctrl.Tick(600 * time.Millisecond)
	timedOut := h.waitFor(EventTimedOut).(TimedOut)
	assert.Equal(t, 3, timedOut.Level)
	assert.NoError(t, timedOut.Err)

	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Equal(t, progress.DefaultDocument(), h.store.Snapshot())
	assert.Equal(t, 1, h.store.LastUnlockedLevel())
	assert.Zero(t, board.subscribers(), "validated handler must be released on teardown")

	reopened, err := progress.Open(h.store.Path(), nil)
	require.NoError(t, err)
	doc, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, progress.DefaultDocument(), doc)

	assert.Equal(t, []history.Outcome{history.OutcomeTimeout}, h.recorder.outcomes())
}

func TestTimeoutWinsOverLateCompletion(t *testing.T) {
	board := newFakeBoard()
	h := newHarness(t, withBoard(board), func(o *Options) { o.TimeLimit = time.Second })
	h.load(1)

	h.ctrl.Tick(2 * time.Second)
	h.waitFor(EventTimedOut)

	board.fire()
	err := h.ctrl.CompleteLevel(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
	h.assertNoEvent(EventLevelCompleted, 50*time.Millisecond)
	assert.Equal(t, 1, h.store.LastUnlockedLevel())
}

func TestCompletionStopsTheClock(t *testing.T) {
	board := newFakeBoard()
	h := newHarness(t, withBoard(board), func(o *Options) { o.TimeLimit = time.Second })
	h.load(1)

	board.fire()
	h.ctrl.Tick(5 * time.Second)
	done := h.waitFor(EventLevelCompleted).(LevelCompleted)
	assert.Equal(t, 100, done.Score)
	assert.Equal(t, StateCompleting, h.ctrl.State())
	h.assertNoEvent(EventTimedOut, 50*time.Millisecond)
}

func TestLoadRejectsLockedAndOutOfRangeLevels(t *testing.T) {
	h := newHarness(t)
	h.commit(1, 90)
	h.commit(2, 70)
	require.Equal(t, 3, h.store.LastUnlockedLevel())

	for _, level := range []int{5, 4, 0, -1} {
		done, err := h.ctrl.LoadLevel(context.Background(), level)
		require.Error(t, err, "level %d", level)
		assert.Nil(t, done)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, StateIdle, te.State)
		assert.Equal(t, StateIdle, h.ctrl.State())
	}

	h.load(3)
	_, err := h.ctrl.LoadLevel(context.Background(), 5)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatePlaying, h.ctrl.State())
	assert.Equal(t, 3, h.ctrl.Level())
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	catalog := &gatedCatalog{inner: levels.NewEmbeddedCatalog(), gates: map[int]chan struct{}{1: gate}}
	h := newHarness(t, func(o *Options) { o.Catalog = catalog })
	h.commit(1, 50)

	stale, err := h.ctrl.LoadLevel(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StateLoading, h.ctrl.State())

	h.load(2)
	close(gate)

	select {
	case err := <-stale:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(waitTimeout):
		t.Fatal("stale load never resolved")
	}
	assert.Equal(t, StatePlaying, h.ctrl.State())
	assert.Equal(t, 2, h.ctrl.Level())
	snap, ok := h.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, 2, snap.Level)
}

func TestMissingLevelReturnsToIdle(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Catalog = levels.NewFSCatalog(os.DirFS(t.TempDir())) })
	done, err := h.ctrl.LoadLevel(context.Background(), 1)
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, levels.ErrNotFound)
	case <-time.After(waitTimeout):
		t.Fatal("load never resolved")
	}
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestClickAndUndoOnlyWhilePlaying(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Click(grid.NodeID(0, 0))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.ctrl.Undo(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	h.load(1)
	ok, err := h.ctrl.Undo(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "nothing to undo yet")

	handle, err := h.ctrl.Click(grid.NodeID(1, 0))
	require.NoError(t, err)
	assert.ErrorIs(t, handle.Wait(context.Background()), grid.ErrUnknownNode)
	snap, _ := h.ctrl.Session()
	assert.Zero(t, snap.Moves, "rejected click must not count")
}

func TestRepeatCompletionCommitsAgain(t *testing.T) {
	board := newFakeBoard()
	h := newHarness(t, withBoard(board))
	h.load(1)

	require.NoError(t, h.ctrl.CompleteLevel(context.Background()))
	first := h.waitFor(EventLevelCompleted).(LevelCompleted)
	board.fire()
	second := h.waitFor(EventLevelCompleted).(LevelCompleted)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, 100, second.TopScore)
	assert.Equal(t, StateCompleting, h.ctrl.State())
	assert.Equal(t, 2, h.store.LastUnlockedLevel())
	assert.Equal(t, 1, board.subscribers(), "controller subscribes once per level")
}

func TestFinalLevelReportsTotal(t *testing.T) {
	board := newFakeBoard()
	h := newHarness(t, withBoard(board))
	h.commit(1, 50)
	h.commit(2, 60)
	h.commit(3, 70)

	h.load(levels.MaxLevel)
	require.NoError(t, h.ctrl.CompleteLevel(context.Background()))
	done := h.waitFor(EventLevelCompleted).(LevelCompleted)
	assert.True(t, done.Final)
	assert.Equal(t, 100, done.Score)
	assert.Equal(t, 280, done.TotalScore)

	_, err := h.ctrl.Advance(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateCompleting, h.ctrl.State())
}

func TestAdvanceLoadsNextLevel(t *testing.T) {
	board := newFakeBoard()
	h := newHarness(t, withBoard(board))

	_, err := h.ctrl.Advance(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)

	h.load(1)
	require.NoError(t, h.ctrl.CompleteLevel(context.Background()))

	done, err := h.ctrl.Advance(context.Background())
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("advance never loaded")
	}

	var sawAdvancing bool
	for {
		ev := h.waitFor(EventStateChanged).(StateChanged)
		if ev.To == StateAdvancing {
			sawAdvancing = true
		}
		if ev.To == StatePlaying && sawAdvancing {
			break
		}
	}
	assert.Equal(t, 2, h.ctrl.Level())
	assert.Equal(t, 2, h.store.LastPlayedLevel())
}

func TestStopAbandonsRun(t *testing.T) {
	board := newFakeBoard()
	h := newHarness(t, withBoard(board))
	h.load(1)
	h.click(0, 0)

	h.ctrl.Stop()
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, board.subscribers())
	_, ok := h.ctrl.Session()
	assert.False(t, ok)

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	require.Len(t, h.recorder.finished, 1)
	assert.Equal(t, history.OutcomeAbandoned, h.recorder.finished[0].result.Outcome)
	assert.Equal(t, 1, h.recorder.finished[0].result.Moves)
	assert.Equal(t, "test-session", h.recorder.started[0].SessionID)
}

func TestResetProgressClearsStore(t *testing.T) {
	h := newHarness(t)
	h.commit(1, 90)
	h.load(2)

	require.NoError(t, h.ctrl.ResetProgress(context.Background()))
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Equal(t, 1, h.store.LastUnlockedLevel())
}

func TestCountdownDriverTimesOut(t *testing.T) {
	h := newHarness(t, withBoard(newFakeBoard()), func(o *Options) {
		o.TimeLimit = 30 * time.Millisecond
		o.TickInterval = 5 * time.Millisecond
	})
	h.load(1)
	h.waitFor(EventTimedOut)
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestSharedQueueIsDrainedOnTeardown(t *testing.T) {
	q := command.NewQueue(nil)
	t.Cleanup(q.Close)
	h := newHarness(t, withBoard(newFakeBoard()), withQueue(q))
	h.load(1)

	block := make(chan struct{})
	defer close(block)
	q.Submit(command.Step(func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	}))
	pending, err := h.ctrl.Click(grid.NodeID(0, 0))
	require.NoError(t, err)

	h.ctrl.Stop()
	assert.ErrorIs(t, pending.Wait(context.Background()), command.ErrDiscarded)
}

func TestClicksQueuedBehindTheSolveAreRefused(t *testing.T) {
	q := command.NewQueue(nil)
	h := newHarness(t, withQueue(q))
	h.load(1)
	release := blockQueue(t, q)

	var handles []*command.Handle
	for _, id := range []string{"0:1", "1:1", "1:1", "0:0"} {
		handle, err := h.ctrl.Click(id)
		require.NoError(t, err)
		handles = append(handles, handle)
	}
	release()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	for _, handle := range handles[:3] {
		require.NoError(t, handle.Wait(ctx))
	}
	assert.ErrorIs(t, handles[3].Wait(ctx), ErrLevelOver)

	done := h.waitFor(EventLevelCompleted).(LevelCompleted)
	assert.Equal(t, 3, done.Moves)
	assert.Equal(t, 100, done.Score)

	snap, ok := h.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, 3, snap.Moves)
	b, ok := h.ctrl.Board().(interface{ Connected() bool })
	require.True(t, ok)
	assert.True(t, b.Connected(), "late click must not turn the solved board")
}

func TestSolveIsCommittedBeforeAdvanceOrStop(t *testing.T) {
	for _, tc := range []struct {
		name  string
		leave func(*testing.T, *harness)
	}{
		{"advance", func(t *testing.T, h *harness) {
			done, err := h.ctrl.Advance(context.Background())
			require.NoError(t, err)
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(waitTimeout):
				t.Fatal("advance never loaded")
			}
			assert.Equal(t, 2, h.ctrl.Level())
		}},
		{"stop", func(t *testing.T, h *harness) { h.ctrl.Stop() }},
		{"reload", func(t *testing.T, h *harness) { h.load(1) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			board := newFakeBoard()
			q := command.NewQueue(nil)
			h := newHarness(t, withBoard(board), withQueue(q))
			h.commit(1, 10)
			h.load(1)
			blockQueue(t, q)

			board.fire()
			require.Equal(t, StateCompleting, h.ctrl.State())
			tc.leave(t, h)

			done := h.waitFor(EventLevelCompleted).(LevelCompleted)
			assert.Equal(t, 100, done.Score)
			rec, ok := h.store.Record(1)
			require.True(t, ok)
			assert.Equal(t, 100, rec.TopScore)
			assert.Equal(t, history.OutcomeCompleted, h.recorder.outcomes()[0])
		})
	}
}

func TestStopDiscardsQueuedClicks(t *testing.T) {
	q := command.NewQueue(nil)
	h := newHarness(t, withQueue(q))
	h.commit(1, 10)
	h.load(1)
	release := blockQueue(t, q)

	var handles []*command.Handle
	for _, id := range []string{"0:1", "1:1", "1:1"} {
		handle, err := h.ctrl.Click(id)
		require.NoError(t, err)
		handles = append(handles, handle)
	}
	h.ctrl.Stop()
	release()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	for _, handle := range handles {
		assert.ErrorIs(t, handle.Wait(ctx), command.ErrDiscarded)
	}
	h.assertNoEvent(EventLevelCompleted, 50*time.Millisecond)
	rec, _ := h.store.Record(1)
	assert.Equal(t, 10, rec.TopScore)
}

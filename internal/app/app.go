package app

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"circuitgrid/internal/game"
	"circuitgrid/internal/grid"
	"circuitgrid/internal/levels"
	"circuitgrid/internal/progress"
	"circuitgrid/internal/state"
	"circuitgrid/internal/telemetry"
	"circuitgrid/internal/ui"
)

type App struct {
	cfg Config

	logger  *telemetry.Logger
	store   *progress.FileStore
	history *state.SQLiteStore
	catalog levels.Catalog
	ctrl    *game.Controller
	view    *ui.Root

	sessionID string

	mu    sync.Mutex
	ctx   context.Context
	want  int
	level int
	def   *levels.Definition
}

func New(ctx context.Context, cfg Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	sessionID := uuid.NewString()
	scoped := logger.With("session", sessionID)

	store, err := progress.Open(cfg.ProgressPath(), scoped)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	if _, err := store.Load(ctx); err != nil {
		scoped.Warn("app.progress_unsaved", "path", store.Path(), "err", err)
	}

	history, err := openHistory(ctx, cfg.HistoryPath())
	if err != nil {
		scoped.Warn("app.history_unavailable", "path", cfg.HistoryPath(), "err", err)
	}

	var catalog levels.Catalog = levels.NewEmbeddedCatalog()
	if cfg.LevelsDir != "" {
		catalog = levels.NewDirCatalog(cfg.LevelsDir)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		history:   history,
		catalog:   catalog,
		sessionID: sessionID,
		ctx:       ctx,
	}

	opts := game.Options{
		Catalog:      catalog,
		Store:        store,
		Boards:       a.newBoard,
		Logger:       scoped,
		SessionID:    sessionID,
		TimeLimit:    cfg.TimeLimit,
		TickInterval: cfg.TickInterval,
	}
	if history != nil {
		opts.History = history
	}
	a.ctrl = game.New(opts)
	a.view = ui.New(ui.Options{ASCIIOnly: cfg.ASCIIOnly, Style: cfg.Style, Logger: scoped})
	a.view.SetController(a)
	return a, nil
}

func openHistory(ctx context.Context, path string) (*state.SQLiteStore, error) {
	history, err := state.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := history.EnsureSchema(ctx); err != nil {
		_ = history.Close()
		return nil, err
	}
	return history, nil
}

func (a *App) newBoard(def *levels.Definition) (game.Board, error) {
	b, err := grid.New(def, grid.WithClickDelay(a.cfg.ClickDelay))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (a *App) Controller() *game.Controller { return a.ctrl }
func (a *App) Store() *progress.FileStore   { return a.store }
func (a *App) History() *state.SQLiteStore  { return a.history }
func (a *App) SessionID() string            { return a.sessionID }
func (a *App) Logger() *log.Logger          { return a.logger.Logger }
func (a *App) View() *ui.Root               { return a.view }
func (a *App) Catalog() levels.Catalog      { return a.catalog }

func (a *App) ResetProgress(ctx context.Context) error {
	return a.ctrl.ResetProgress(ctx)
}

// StartLevel is where play resumes: the last played level, as long as it is
// still unlocked.
func (a *App) StartLevel() int {
	level := a.store.LastPlayedLevel()
	level = min(level, a.store.LastUnlockedLevel(), levels.MaxLevel)
	return max(1, level)
}

// Play runs the TUI until the player quits or ctx ends. level 0 resumes.
func (a *App) Play(ctx context.Context, level int) error {
	if level <= 0 {
		level = a.StartLevel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	events := make(chan game.Event, 64)
	unsubscribe := a.ctrl.Events().Subscribe(func(ev game.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	a.logger.Info("app.start", "session", a.sessionID, "level_no", level, "data_dir", a.cfg.DataDir)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return a.view.Run(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				a.handleEvent(ev)
			}
		}
	})
	a.startLevel(level)

	err := g.Wait()
	a.ctrl.Stop()
	a.logger.Info("app.stop", "session", a.sessionID)
	return err
}

func (a *App) Close() {
	a.ctrl.Close()
	if a.history != nil {
		_ = a.history.Close()
	}
	_ = a.logger.Close()
}

func (a *App) playContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

func (a *App) startLevel(level int) {
	a.mu.Lock()
	a.want = level
	a.mu.Unlock()
	a.view.Apply(func(r *ui.Root) { r.SetLoading(level) })
	done, err := a.ctrl.LoadLevel(a.playContext(), level)
	if err != nil {
		a.flash(err.Error())
		return
	}
	go a.awaitLoad(level, done)
}

func (a *App) awaitLoad(level int, done <-chan error) {
	err := <-done
	if err == nil || errors.Is(err, game.ErrSuperseded) {
		return
	}
	a.logger.Error("app.load_failed", "level_no", level, "err", err)
	res := ui.LoadFailedResult(level, err)
	a.view.Apply(func(r *ui.Root) { r.SetResult(res) })
}

func (a *App) handleEvent(ev game.Event) {
	switch ev := ev.(type) {
	case game.LevelLoaded:
		a.mu.Lock()
		a.level = ev.Level
		a.def = ev.Definition
		a.mu.Unlock()
		a.refreshBoard()
	case game.TimerTick:
		remaining := ev.Remaining
		a.view.Apply(func(r *ui.Root) { r.SetRemaining(remaining) })
	case game.LevelCompleted:
		a.refreshBoard()
		res := ui.CompletedResult(ui.Completion{
			Level:      ev.Level,
			Score:      ev.Score,
			Moves:      ev.Moves,
			TopScore:   ev.TopScore,
			Final:      ev.Final,
			TotalScore: ev.TotalScore,
		})
		saveErr := ev.Err
		a.view.Apply(func(r *ui.Root) {
			r.SetResult(res)
			if saveErr != nil {
				r.SetStatus("Progress could not be saved")
			}
		})
	case game.TimedOut:
		res := ui.TimedOutResult(ev.Err)
		a.view.Apply(func(r *ui.Root) { r.SetResult(res) })
	case game.StateChanged:
		a.logger.Debug("app.state", "from", ev.From, "to", ev.To)
	}
}

func (a *App) refreshBoard() {
	b, ok := a.boardState()
	if !ok {
		return
	}
	a.view.Apply(func(r *ui.Root) { r.SetBoard(b) })
}

type nodeLister interface {
	Nodes() []grid.Node
	Connected() bool
}

func (a *App) boardState() (ui.BoardState, bool) {
	a.mu.Lock()
	def := a.def
	level := a.level
	a.mu.Unlock()
	if def == nil {
		return ui.BoardState{}, false
	}

	out := ui.BoardState{
		Level:    level,
		Name:     def.Name,
		Rows:     def.Rows,
		Columns:  def.Columns,
		MinMoves: def.MinMoves,
		Limit:    a.cfg.TimeLimit,
	}
	if rec, ok := a.store.Record(level); ok {
		out.TopScore = rec.TopScore
	}
	if snap, ok := a.ctrl.Session(); ok && snap.Level == level {
		out.Moves = snap.Moves
		out.Remaining = snap.Remaining
	}

	var nodes []grid.Node
	if nl, ok := a.ctrl.Board().(nodeLister); ok {
		nodes = nl.Nodes()
		out.Connected = nl.Connected()
	}
	out.Cells = ui.BoardCells(def, nodes)
	return out, true
}

func (a *App) flash(msg string) {
	a.view.Apply(func(r *ui.Root) { r.SetStatus(msg) })
}

// The On* callbacks run on the UI goroutine, so anything that updates the
// view again goes through a separate goroutine.

func (a *App) OnClick(nodeID string) {
	h, err := a.ctrl.Click(nodeID)
	if err != nil {
		go a.flash(err.Error())
		return
	}
	go func() {
		if err := h.Wait(a.playContext()); err != nil {
			a.logger.Debug("app.click_failed", "node", nodeID, "err", err)
			return
		}
		a.refreshBoard()
	}()
}

func (a *App) OnUndo() {
	go func() {
		ok, err := a.ctrl.Undo(a.playContext())
		switch {
		case err != nil:
			a.flash(err.Error())
		case !ok:
			a.flash("Nothing to undo")
		default:
			a.refreshBoard()
		}
	}()
}

func (a *App) OnNextLevel() {
	go a.advance()
}

func (a *App) advance() {
	a.mu.Lock()
	next := a.level + 1
	a.want = next
	a.mu.Unlock()
	a.view.Apply(func(r *ui.Root) { r.SetLoading(next) })
	done, err := a.ctrl.Advance(a.playContext())
	if err != nil {
		a.flash(err.Error())
		return
	}
	a.awaitLoad(next, done)
}

// OnTryAgain replays the last requested level, or the furthest unlocked one
// when progress was wiped in the meantime.
func (a *App) OnTryAgain() {
	a.mu.Lock()
	level := a.want
	a.mu.Unlock()
	level = max(1, min(level, a.store.LastUnlockedLevel()))
	go a.startLevel(level)
}

func (a *App) OnQuit() {
	a.ctrl.Stop()
}

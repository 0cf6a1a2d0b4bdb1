package devtools

import (
	"context"
	"fmt"
	"time"

	"circuitgrid/internal/grid"
	"circuitgrid/internal/levels"
	"circuitgrid/internal/scoring"
	"circuitgrid/internal/ui"
)

// Scenario is a canned game situation that can be drawn without a session.
type Scenario struct {
	Name      string
	Level     int
	Clicks    []string
	Elapsed   time.Duration
	Loading   bool
	Passed    bool
	TimedOut  bool
	Final     bool
	TopScore  int
	StatusMsg string
}

// Staged is a scenario after its clicks have been played on a real board.
type Staged struct {
	Screen ui.Screen
	Board  ui.BoardState
	Result ui.ResultState
	Status string
}

type Manager struct {
	catalog levels.Catalog
	limit   time.Duration
}

var _ Demo = (*Manager)(nil)

func NewManager(catalog levels.Catalog, limit time.Duration) *Manager {
	if catalog == nil {
		catalog = levels.NewEmbeddedCatalog()
	}
	if limit <= 0 {
		limit = 120 * time.Second
	}
	return &Manager{catalog: catalog, limit: limit}
}

var levelOneSolution = []string{"0:1", "1:1", "1:1"}

func (m *Manager) Names() []string {
	return []string{"loading", "playing", "undo_flash", "results_pass", "results_fail", "final"}
}

func (m *Manager) Resolve(name string) Scenario {
	switch name {
	case "loading":
		return Scenario{Name: name, Level: 1, Loading: true}
	case "undo_flash":
		return Scenario{Name: name, Level: 1, Clicks: []string{"0:1"}, Elapsed: 12 * time.Second, StatusMsg: "Nothing to undo"}
	case "results_pass":
		return Scenario{Name: name, Level: 1, Clicks: levelOneSolution, Elapsed: 9 * time.Second, Passed: true}
	case "results_fail":
		return Scenario{Name: name, Level: 2, Clicks: []string{"0:0", "0:0"}, Elapsed: m.limit, TimedOut: true}
	case "final":
		return Scenario{Name: name, Level: levels.MaxLevel, Elapsed: 47 * time.Second, Passed: true, Final: true, TopScore: 90}
	default:
		return Scenario{Name: "playing", Level: 1, Elapsed: 3 * time.Second}
	}
}

func (m *Manager) Stage(ctx context.Context, sc Scenario) (Staged, error) {
	if sc.Loading {
		return Staged{Screen: ui.ScreenLoading, Board: ui.BoardState{Level: sc.Level}}, nil
	}
	def, err := m.catalog.Get(ctx, sc.Level)
	if err != nil {
		return Staged{}, err
	}
	if def == nil {
		return Staged{}, fmt.Errorf("%s: %w", levels.Address(sc.Level), levels.ErrNotFound)
	}
	board, err := grid.New(def)
	if err != nil {
		return Staged{}, err
	}
	for _, id := range sc.Clicks {
		if err := board.Click(ctx, id); err != nil {
			return Staged{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}

	moves := len(sc.Clicks)
	if sc.Final && moves == 0 {
		moves = def.MinMoves
	}
	out := Staged{
		Screen: ui.ScreenPlaying,
		Status: sc.StatusMsg,
		Board: ui.BoardState{
			Level:     sc.Level,
			Name:      def.Name,
			Rows:      def.Rows,
			Columns:   def.Columns,
			Cells:     ui.BoardCells(def, board.Nodes()),
			Moves:     moves,
			MinMoves:  def.MinMoves,
			TopScore:  sc.TopScore,
			Remaining: max(0, m.limit-sc.Elapsed),
			Limit:     m.limit,
			Connected: board.Connected(),
		},
	}

	switch {
	case sc.TimedOut:
		out.Screen = ui.ScreenResult
		out.Board.Remaining = 0
		out.Result = ui.TimedOutResult(nil)
	case sc.Passed:
		score := scoring.Score(def.MinMoves, def.MaxMoves, moves)
		top := max(score, sc.TopScore)
		out.Board.TopScore = top
		c := ui.Completion{Level: sc.Level, Score: score, Moves: moves, TopScore: top, Final: sc.Final}
		if sc.Final {
			// Every earlier level cleared at the minimum.
			c.TotalScore = score + (levels.MaxLevel-1)*100
		}
		out.Screen = ui.ScreenResult
		out.Result = ui.CompletedResult(c)
	}
	return out, nil
}

// Render draws a scenario once, the way the play screen would show it.
func (m *Manager) Render(ctx context.Context, name string, cols, rows int, opts ui.Options) (string, error) {
	staged, err := m.Stage(ctx, m.Resolve(name))
	if err != nil {
		return "", err
	}
	view := ui.New(opts)
	switch staged.Screen {
	case ui.ScreenLoading:
		view.SetLoading(staged.Board.Level)
	default:
		view.SetBoard(staged.Board)
		view.SetResult(staged.Result)
	}
	view.SetStatus(staged.Status)
	return view.Snapshot(cols, rows), nil
}

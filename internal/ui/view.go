package ui

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/progress"
	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/log"
)

const (
	cellWidth  = 5
	cellHeight = 3
	hudWidth   = 30
)

type applyMsg struct {
	fn func(*Root)
}

type clockMsg time.Time

type keyMap struct {
	Up    key.Binding
	Down  key.Binding
	Left  key.Binding
	Right key.Binding
	Click key.Binding
	Undo  key.Binding
	Next  key.Binding
	Retry key.Binding
	Quit  key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Click, k.Undo, k.Next, k.Retry, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Left, k.Right}, {k.Click, k.Undo}, {k.Next, k.Retry, k.Quit}}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Left:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "left")),
		Right: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "right")),
		Click: key.NewBinding(key.WithKeys("enter", "space"), key.WithHelp("enter", "rotate")),
		Undo:  key.NewBinding(key.WithKeys("u", "ctrl+z"), key.WithHelp("u", "undo")),
		Next:  key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next level")),
		Retry: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type Root struct {
	theme Theme
	ascii bool
	ctrl  Controller

	mu      sync.Mutex
	program *tea.Program
	running bool

	screen Screen
	layout LayoutMode
	cols   int
	rows   int

	board       BoardState
	result      ResultState
	cursorRow   int
	cursorCol   int
	statusFlash string

	help    help.Model
	keymap  keyMap
	timeBar progress.Model
	spin    spinner.Model
	logger  *log.Logger
}

type Options struct {
	ASCIIOnly bool
	Style     string
	Logger    *log.Logger
}

func New(opts Options) *Root {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	theme := ThemeForVariant(opts.Style)
	h := help.New()
	h.Styles = help.DefaultDarkStyles()
	timeBar := progress.New(
		progress.WithWidth(hudWidth-4),
		progress.WithColors(lipgloss.Color("#FF6F91"), lipgloss.Color("#F2D16B"), lipgloss.Color("#79E6A6")),
		progress.WithScaled(true),
	)
	spin := spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(theme.Accent),
	)
	return &Root{
		theme:   theme,
		ascii:   opts.ASCIIOnly,
		screen:  ScreenLoading,
		layout:  LayoutWide,
		cols:    80,
		rows:    24,
		help:    h,
		keymap:  defaultKeyMap(),
		timeBar: timeBar,
		spin:    spin,
		logger:  logger,
	}
}

func (r *Root) SetController(c Controller) { r.ctrl = c }

// Apply runs fn on the UI goroutine, or immediately when the program is not
// running yet.
func (r *Root) Apply(fn func(*Root)) {
	r.mu.Lock()
	p := r.program
	running := r.running
	r.mu.Unlock()
	if running && p != nil {
		p.Send(applyMsg{fn: fn})
		return
	}
	fn(r)
}

func (r *Root) SetLoading(level int) {
	r.screen = ScreenLoading
	r.result = ResultState{}
	r.board = BoardState{Level: level}
	r.statusFlash = ""
}

// SetBoard replaces the board. The cursor survives when the shape is unchanged.
func (r *Root) SetBoard(b BoardState) {
	if b.Rows != r.board.Rows || b.Columns != r.board.Columns || b.Level != r.board.Level {
		r.cursorRow, r.cursorCol = 0, 0
	}
	r.board = b
	if r.screen == ScreenLoading {
		r.screen = ScreenPlaying
	}
	r.layout = DetermineLayoutMode(r.cols, r.rows, b.Rows, b.Columns)
}

func (r *Root) SetRemaining(d time.Duration) {
	r.board.Remaining = d
}

func (r *Root) SetResult(res ResultState) {
	r.result = res
	if res.Visible {
		r.screen = ScreenResult
	} else if r.screen == ScreenResult {
		r.screen = ScreenPlaying
	}
}

func (r *Root) SetStatus(msg string) { r.statusFlash = msg }

func (r *Root) Screen() Screen           { return r.screen }
func (r *Root) BoardState() BoardState   { return r.board }
func (r *Root) ResultState() ResultState { return r.result }
func (r *Root) Status() string           { return r.statusFlash }

func (r *Root) Init() tea.Cmd {
	return tea.Batch(clockTickCmd(), spinnerTickCmd(r.spin))
}

func (r *Root) Update(msg tea.Msg) (model tea.Model, cmd tea.Cmd) {
	defer func() {
		if rec := recover(); rec != nil {
			r.onModelPanic("update", rec, msg)
			model = r
			cmd = nil
		}
	}()

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		r.cols = msg.Width
		r.rows = msg.Height
		r.layout = DetermineLayoutMode(r.cols, r.rows, r.board.Rows, r.board.Columns)
		return r, nil
	case applyMsg:
		if msg.fn != nil {
			msg.fn(r)
		}
		return r, nil
	case clockMsg:
		return r, clockTickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		r.spin, cmd = r.spin.Update(msg)
		return r, cmd
	case tea.KeyPressMsg:
		return r.handleKey(msg)
	}
	return r, nil
}

func (r *Root) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, r.keymap.Quit) {
		r.dispatch(func(c Controller) { c.OnQuit() })
		return r, tea.Quit
	}
	switch r.screen {
	case ScreenResult:
		return r.handleResultKey(msg)
	case ScreenPlaying:
		return r.handlePlayingKey(msg)
	}
	return r, nil
}

func (r *Root) handlePlayingKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, r.keymap.Up):
		r.cursorRow = max(0, r.cursorRow-1)
	case key.Matches(msg, r.keymap.Down):
		r.cursorRow = min(max(0, r.board.Rows-1), r.cursorRow+1)
	case key.Matches(msg, r.keymap.Left):
		r.cursorCol = max(0, r.cursorCol-1)
	case key.Matches(msg, r.keymap.Right):
		r.cursorCol = min(max(0, r.board.Columns-1), r.cursorCol+1)
	case key.Matches(msg, r.keymap.Click):
		cell, ok := r.board.cell(r.cursorRow, r.cursorCol)
		if !ok || cell.Empty {
			r.statusFlash = "Nothing to rotate here"
			return r, nil
		}
		r.statusFlash = ""
		r.dispatch(func(c Controller) { c.OnClick(cell.ID) })
	case key.Matches(msg, r.keymap.Undo):
		r.dispatch(func(c Controller) { c.OnUndo() })
	case key.Matches(msg, r.keymap.Retry):
		r.dispatch(func(c Controller) { c.OnTryAgain() })
	}
	return r, nil
}

func (r *Root) handleResultKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, r.keymap.Next), msg.Code == tea.KeyEnter:
		if r.result.Passed && r.result.CanAdvance {
			r.dispatch(func(c Controller) { c.OnNextLevel() })
			return r, nil
		}
		if msg.Code == tea.KeyEnter {
			r.dispatch(func(c Controller) { c.OnTryAgain() })
		}
	case key.Matches(msg, r.keymap.Retry):
		r.dispatch(func(c Controller) { c.OnTryAgain() })
	case msg.Code == tea.KeyEsc:
		r.result.Visible = false
		r.screen = ScreenPlaying
	}
	return r, nil
}

func (r *Root) dispatch(fn func(Controller)) {
	if r.ctrl == nil {
		return
	}
	fn(r.ctrl)
}

func (r *Root) View() (view tea.View) {
	defer func() {
		if rec := recover(); rec != nil {
			r.onModelPanic("view", rec, nil)
			width := max(1, r.cols)
			view = tea.NewView(r.theme.Fail.Width(width).Render("UI recovered from a rendering panic. Check logs."))
		}
	}()

	v := tea.NewView(r.render())
	v.AltScreen = true
	return v
}

// Snapshot renders the current screen once at the given terminal size.
func (r *Root) Snapshot(cols, rows int) string {
	r.cols, r.rows = cols, rows
	r.layout = DetermineLayoutMode(cols, rows, r.board.Rows, r.board.Columns)
	return r.render()
}

func (r *Root) render() string {
	switch {
	case r.screen == ScreenLoading:
		return r.renderLoading()
	case r.layout == LayoutTooSmall:
		return r.renderTooSmall()
	case r.screen == ScreenResult && r.result.Visible:
		return lipgloss.Place(r.cols, r.rows, lipgloss.Center, lipgloss.Center, r.renderResult())
	default:
		return r.renderPlaying()
	}
}

func (r *Root) renderLoading() string {
	label := "Loading"
	if r.board.Level > 0 {
		label = fmt.Sprintf("Loading level %d", r.board.Level)
	}
	msg := r.theme.Accent.Render(strings.TrimSpace(r.spin.View()) + " " + label + "...")
	return lipgloss.Place(r.cols, r.rows, lipgloss.Center, lipgloss.Center, msg)
}

func (r *Root) renderTooSmall() string {
	need := fmt.Sprintf("Terminal too small: %dx%d, board needs %dx%d",
		r.cols, r.rows, r.board.Columns*cellWidth+4, r.board.Rows*cellHeight+6)
	return lipgloss.Place(r.cols, r.rows, lipgloss.Center, lipgloss.Center, r.theme.Fail.Render(need))
}

func (r *Root) renderPlaying() string {
	header := r.theme.Header.Width(max(1, r.cols)).Render(r.headerText())
	grid := lipgloss.NewStyle().
		BorderStyle(r.border()).
		BorderForeground(r.gridBorderColor()).
		Render(r.renderGrid())

	var body string
	if r.layout == LayoutWide {
		body = lipgloss.JoinHorizontal(lipgloss.Top, grid, "  ", r.renderHUD())
	} else {
		body = lipgloss.JoinVertical(lipgloss.Left, grid, r.renderHUD())
	}
	return header + "\n" + body + "\n" + r.renderStatus()
}

func (r *Root) headerText() string {
	name := r.board.Name
	if name == "" {
		name = fmt.Sprintf("Level %d", r.board.Level)
	}
	return fmt.Sprintf("circuitgrid  %s", name)
}

func (r *Root) border() lipgloss.Border {
	if r.ascii {
		return lipgloss.ASCIIBorder()
	}
	return lipgloss.RoundedBorder()
}

func (r *Root) gridBorderColor() color.Color {
	if r.board.Connected {
		return r.theme.GridLive
	}
	return r.theme.GridIdle
}

func (r *Root) renderGrid() string {
	rows := make([]string, 0, r.board.Rows)
	for row := 0; row < r.board.Rows; row++ {
		cells := make([]string, 0, r.board.Columns)
		for col := 0; col < r.board.Columns; col++ {
			cells = append(cells, r.renderCell(row, col))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (r *Root) renderCell(row, col int) string {
	cell, _ := r.board.cell(row, col)
	style := r.theme.Muted
	switch {
	case cell.Empty:
	case cell.Kind == "wifi":
		style = r.theme.Source
	case cell.Kind == "computer":
		style = r.theme.Sink
	case cell.Rotation == 0:
		style = r.theme.Aligned
	default:
		style = r.theme.Wire
	}
	if row == r.cursorRow && col == r.cursorCol {
		style = r.theme.Cursor
	}
	return style.Width(cellWidth).Height(cellHeight).
		Align(lipgloss.Center, lipgloss.Center).
		Render(glyph(cell, r.ascii))
}

func (r *Root) renderHUD() string {
	b := r.board
	lines := []string{
		r.theme.HUDLabel.Render("Moves"),
		r.theme.HUDValue.Render(fmt.Sprintf("%d (par %d)", b.Moves, b.MinMoves)),
		"",
		r.theme.HUDLabel.Render("Best"),
		r.theme.HUDValue.Render(fmt.Sprintf("%d / 100", b.TopScore)),
		"",
		r.theme.HUDLabel.Render("Time"),
		r.theme.HUDValue.Render(formatRemaining(b.Remaining)),
		r.timeBar.ViewAs(timeFraction(b.Remaining, b.Limit)),
	}
	return lipgloss.NewStyle().Width(hudWidth).Render(strings.Join(lines, "\n"))
}

func (r *Root) renderStatus() string {
	keys := r.help.View(r.keymap)
	if r.statusFlash != "" {
		keys = r.theme.Flash.Render(r.statusFlash) + " | " + keys
	}
	return r.theme.Status.Width(max(1, r.cols)).Render(keys)
}

func (r *Root) renderResult() string {
	title := r.theme.OverlayTitle.Render(r.result.Title)
	summary := r.theme.Fail.Render(r.result.Summary)
	if r.result.Passed {
		summary = r.theme.Pass.Render(r.result.Summary)
	}
	var actions string
	switch {
	case r.result.Passed && r.result.CanAdvance:
		actions = "enter/n: next level   r: replay   q: quit"
	case r.result.Passed && r.result.Final:
		actions = "r: replay   q: quit"
	default:
		actions = "enter/r: try again   q: quit"
	}
	body := lipgloss.JoinVertical(lipgloss.Left, title, "", summary, "", r.theme.Muted.Render(actions))
	return r.theme.Overlay.Render(body)
}

// Run blocks until the program exits or ctx is cancelled.
func (r *Root) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	p := tea.NewProgram(r)
	r.program = p
	r.running = true
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, p.Quit)
	defer stop()

	_, err := p.Run()

	r.mu.Lock()
	r.running = false
	r.program = nil
	r.mu.Unlock()
	return err
}

func (r *Root) onModelPanic(where string, recovered any, msg tea.Msg) {
	if r.statusFlash == "" {
		r.statusFlash = "Recovered UI panic"
	}
	msgType := ""
	if msg != nil {
		msgType = fmt.Sprintf("%T", msg)
	}
	r.logger.Error("ui.panic_recovered",
		"where", where,
		"panic", fmt.Sprintf("%v", recovered),
		"message_type", msgType,
		"screen", r.screen,
		"stack", string(debug.Stack()),
	)
}

func glyph(c CellView, ascii bool) string {
	if c.Empty {
		if ascii {
			return "."
		}
		return "·"
	}
	arrows := []string{"↑", "→", "↓", "←", "↗", "↙"}
	if ascii {
		arrows = []string{"^", ">", "v", "<", "/", "\\"}
	}
	dir := arrows[c.Rotation%len(arrows)]
	switch c.Kind {
	case "wifi":
		return "W" + dir
	case "computer":
		return "C" + dir
	default:
		return "=" + dir
	}
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(100 * time.Millisecond)
	m := int(d / time.Minute)
	s := (d % time.Minute).Seconds()
	return fmt.Sprintf("%d:%04.1f", m, s)
}

func timeFraction(remaining, limit time.Duration) float64 {
	if limit <= 0 {
		return 0
	}
	f := float64(remaining) / float64(limit)
	return min(1, max(0, f))
}

func clockTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func spinnerTickCmd(model spinner.Model) tea.Cmd {
	return func() tea.Msg {
		return model.Tick()
	}
}

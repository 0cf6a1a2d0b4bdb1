package ui

import "time"

// Controller receives player intents. Calls are made from the UI goroutine
// and must not block.
type Controller interface {
	OnClick(nodeID string)
	OnUndo()
	OnNextLevel()
	OnTryAgain()
	OnQuit()
}

type Screen int

const (
	ScreenLoading Screen = iota
	ScreenPlaying
	ScreenResult
)

type LayoutMode int

const (
	LayoutWide LayoutMode = iota
	LayoutCompact
	LayoutTooSmall
)

type CellView struct {
	ID       string
	Kind     string
	Rotation int
	Empty    bool
}

// BoardState is everything the play screen draws.
type BoardState struct {
	Level     int
	Name      string
	Rows      int
	Columns   int
	Cells     []CellView
	Moves     int
	MinMoves  int
	TopScore  int
	Remaining time.Duration
	Limit     time.Duration
	Connected bool
}

func (b BoardState) cell(row, col int) (CellView, bool) {
	if row < 0 || col < 0 || row >= b.Rows || col >= b.Columns {
		return CellView{}, false
	}
	i := row*b.Columns + col
	if i >= len(b.Cells) {
		return CellView{}, false
	}
	return b.Cells[i], true
}

type ResultState struct {
	Visible    bool
	Passed     bool
	Title      string
	Summary    string
	Final      bool
	CanAdvance bool
}

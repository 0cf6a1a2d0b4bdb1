package levels

import (
	"errors"
	"strings"
	"testing"
)

func squareDef(rows, cols int) *Definition {
	cells := make([]*Cell, rows*cols)
	for i := range cells {
		cells[i] = &Cell{Kind: NodeCable}
	}
	return &Definition{
		Kind:          LevelKind,
		SchemaVersion: 1,
		Name:          "Level 1",
		Rows:          rows,
		Columns:       cols,
		MinMoves:      1,
		MaxMoves:      5,
		GridType:      GridSquare,
		Cells:         cells,
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	if err := squareDef(2, 3).Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	def := squareDef(2, 2)
	def.Columns = 3
	def.Cells[1] = nil
	def.MaxMoves = 0
	def.Cells[2].Rotation = 4

	err := def.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	if len(verr.Problems) != 4 {
		t.Fatalf("expected 4 problems, got %d: %#v", len(verr.Problems), verr.Problems)
	}
	if !strings.Contains(verr.Problems[0], "grid has 4 cells") {
		t.Fatalf("expected size problem first, got %q", verr.Problems[0])
	}
	if !strings.Contains(verr.Problems[1], "cells[1] is missing") {
		t.Fatalf("expected missing cell problem second, got %q", verr.Problems[1])
	}
}

func TestValidateRejectsNonPositiveDimensions(t *testing.T) {
	def := squareDef(1, 1)
	def.Rows = 0
	def.Cells = nil
	err := def.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(verr.Problems[0], "rows and columns must be > 0") {
		t.Fatalf("unexpected first problem: %q", verr.Problems[0])
	}
}

func TestValidateRejectsHexagonalGrid(t *testing.T) {
	def := squareDef(1, 2)
	def.GridType = GridHexagonal
	if err := def.Validate(); err == nil {
		t.Fatalf("expected hexagonal grid to be rejected")
	}
}

func TestTotalComputerNodes(t *testing.T) {
	def := squareDef(2, 2)
	def.Cells[0].Kind = NodeComputer
	def.Cells[3].Kind = NodeComputer
	if got := def.TotalComputerNodes(); got != 2 {
		t.Fatalf("expected 2 computers, got %d", got)
	}
}

func TestWithCellRoundTrip(t *testing.T) {
	def := squareDef(3, 4)
	want := Cell{Kind: NodeComputer, Rotation: 2}
	for r := 0; r < def.Rows; r++ {
		for c := 0; c < def.Columns; c++ {
			next, err := def.WithCell(r, c, want)
			if err != nil {
				t.Fatalf("WithCell(%d,%d): %v", r, c, err)
			}
			got, err := next.Cell(r, c)
			if err != nil {
				t.Fatalf("Cell(%d,%d): %v", r, c, err)
			}
			if got != want {
				t.Fatalf("Cell(%d,%d) = %#v, want %#v", r, c, got, want)
			}
			orig, _ := def.Cell(r, c)
			if orig.Kind != NodeCable {
				t.Fatalf("original definition was modified at (%d,%d)", r, c)
			}
		}
	}
}

func TestCellAccessOutOfRange(t *testing.T) {
	def := squareDef(2, 2)
	positions := [][2]int{{-1, 0}, {0, -1}, {2, 0}, {0, 2}, {5, 5}}
	for _, p := range positions {
		var oor *OutOfRangeError
		if _, err := def.Cell(p[0], p[1]); !errors.As(err, &oor) {
			t.Fatalf("Cell(%d,%d): expected OutOfRangeError, got %v", p[0], p[1], err)
		}
		next, err := def.WithCell(p[0], p[1], Cell{Kind: NodeWiFi})
		if !errors.As(err, &oor) {
			t.Fatalf("WithCell(%d,%d): expected OutOfRangeError, got %v", p[0], p[1], err)
		}
		if next != nil {
			t.Fatalf("WithCell(%d,%d): expected no new definition", p[0], p[1])
		}
	}
	for i, c := range def.Cells {
		if c.Kind != NodeCable {
			t.Fatalf("cells[%d] changed after rejected writes", i)
		}
	}
}

func TestCellOnShortGridNeverPanics(t *testing.T) {
	def := squareDef(2, 2)
	def.Cells = def.Cells[:2]
	var oor *OutOfRangeError
	if _, err := def.Cell(1, 1); !errors.As(err, &oor) {
		t.Fatalf("expected OutOfRangeError on short grid, got %v", err)
	}
}

func TestCellReportsMissingSlot(t *testing.T) {
	def := squareDef(1, 2)
	def.Cells[1] = nil
	if _, err := def.Cell(0, 1); !errors.Is(err, ErrMissingCell) {
		t.Fatalf("expected ErrMissingCell, got %v", err)
	}
}

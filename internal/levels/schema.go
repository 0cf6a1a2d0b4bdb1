package levels

import (
	"errors"
	"fmt"
	"strings"
)

const (
	LevelKind              = "level"
	SupportedSchemaVersion = 1
)

type GridType string

const (
	GridSquare    GridType = "square"
	GridHexagonal GridType = "hexagonal"
)

// MaxRotation is the number of distinct orientations a node has on this grid.
func (g GridType) MaxRotation() int {
	switch g {
	case GridHexagonal:
		return 6
	default:
		return 4
	}
}

type NodeKind string

const (
	NodeWiFi     NodeKind = "wifi"
	NodeComputer NodeKind = "computer"
	NodeCable    NodeKind = "cable"
	NodeEmpty    NodeKind = "empty"
)

func (k NodeKind) valid() bool {
	switch k {
	case NodeWiFi, NodeComputer, NodeCable, NodeEmpty:
		return true
	}
	return false
}

type Cell struct {
	Kind     NodeKind `yaml:"kind"`
	Rotation int      `yaml:"rotation"`
}

// Definition is the configuration of one puzzle level. Treat it as read-only
// once validated; WithCell produces modified copies.
type Definition struct {
	Kind          string   `yaml:"kind"`
	SchemaVersion int      `yaml:"schema_version"`
	Name          string   `yaml:"name"`
	Rows          int      `yaml:"rows"`
	Columns       int      `yaml:"columns"`
	MinMoves      int      `yaml:"min_moves"`
	MaxMoves      int      `yaml:"max_moves"`
	GridType      GridType `yaml:"grid_type"`
	NodeSize      float64  `yaml:"node_size"`
	Spacing       float64  `yaml:"spacing"`
	Cells         []*Cell  `yaml:"cells"`

	Path string `yaml:"-"`
}

// ValidationError lists every problem found in a definition.
type ValidationError struct {
	Name     string
	Problems []string
}

func (e *ValidationError) Error() string {
	name := e.Name
	if name == "" {
		name = "level"
	}
	return fmt.Sprintf("%s is invalid: %s", name, strings.Join(e.Problems, "; "))
}

// OutOfRangeError reports grid access outside [0,rows)x[0,columns).
type OutOfRangeError struct {
	Row, Column   int
	Rows, Columns int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("grid position (%d,%d) out of bounds for %dx%d grid", e.Row, e.Column, e.Rows, e.Columns)
}

var ErrMissingCell = errors.New("grid cell is not set")

// Validate checks every rule and reports all violations at once.
func (d *Definition) Validate() error {
	var problems []string
	if d.Rows <= 0 || d.Columns <= 0 {
		problems = append(problems, fmt.Sprintf("rows and columns must be > 0 (got %dx%d)", d.Rows, d.Columns))
	}
	if want := d.Rows * d.Columns; len(d.Cells) != want || len(d.Cells) == 0 {
		problems = append(problems, fmt.Sprintf("grid has %d cells, rows*columns is %d", len(d.Cells), want))
	}
	for i, c := range d.Cells {
		if c == nil {
			problems = append(problems, fmt.Sprintf("cells[%d] is missing", i))
		}
	}
	if d.MinMoves < 0 {
		problems = append(problems, "min_moves must be >= 0")
	}
	if d.MaxMoves < d.MinMoves {
		problems = append(problems, fmt.Sprintf("max_moves (%d) must be >= min_moves (%d)", d.MaxMoves, d.MinMoves))
	}
	switch d.GridType {
	case "", GridSquare:
	case GridHexagonal:
		problems = append(problems, "grid_type hexagonal is not supported yet")
	default:
		problems = append(problems, fmt.Sprintf("unknown grid_type %q", d.GridType))
	}
	maxRot := d.GridType.MaxRotation()
	for i, c := range d.Cells {
		if c == nil {
			continue
		}
		if !c.Kind.valid() {
			problems = append(problems, fmt.Sprintf("cells[%d] has unknown kind %q", i, c.Kind))
		}
		if c.Rotation < 0 || c.Rotation >= maxRot {
			problems = append(problems, fmt.Sprintf("cells[%d] rotation %d outside [0,%d)", i, c.Rotation, maxRot))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Name: d.Name, Problems: problems}
	}
	return nil
}

// TotalComputerNodes counts the computer nodes the circuit has to reach.
func (d *Definition) TotalComputerNodes() int {
	n := 0
	for _, c := range d.Cells {
		if c != nil && c.Kind == NodeComputer {
			n++
		}
	}
	return n
}

func (d *Definition) index(row, col int) (int, error) {
	if row < 0 || row >= d.Rows || col < 0 || col >= d.Columns {
		return 0, &OutOfRangeError{Row: row, Column: col, Rows: d.Rows, Columns: d.Columns}
	}
	idx := row*d.Columns + col
	if idx >= len(d.Cells) {
		return 0, &OutOfRangeError{Row: row, Column: col, Rows: d.Rows, Columns: d.Columns}
	}
	return idx, nil
}

// Cell returns the cell at (row, col).
func (d *Definition) Cell(row, col int) (Cell, error) {
	idx, err := d.index(row, col)
	if err != nil {
		return Cell{}, err
	}
	if d.Cells[idx] == nil {
		return Cell{}, ErrMissingCell
	}
	return *d.Cells[idx], nil
}

// WithCell returns a copy of d with (row, col) replaced. d is never modified.
func (d *Definition) WithCell(row, col int, cell Cell) (*Definition, error) {
	idx, err := d.index(row, col)
	if err != nil {
		return nil, err
	}
	out := d.Clone()
	out.Cells[idx] = &cell
	return out, nil
}

// Clone deep-copies the definition.
func (d *Definition) Clone() *Definition {
	out := *d
	out.Cells = make([]*Cell, len(d.Cells))
	for i, c := range d.Cells {
		if c == nil {
			continue
		}
		cp := *c
		out.Cells[i] = &cp
	}
	return &out
}

func (d *Definition) validateHeader() error {
	if d.Kind != LevelKind {
		return fmt.Errorf("kind must be %q", LevelKind)
	}
	if d.SchemaVersion == 0 {
		return fmt.Errorf("schema_version is required")
	}
	if d.SchemaVersion > SupportedSchemaVersion {
		return fmt.Errorf("unsupported level schema_version %d (max supported %d)", d.SchemaVersion, SupportedSchemaVersion)
	}
	return nil
}

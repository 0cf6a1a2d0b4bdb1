package ui

import (
	"circuitgrid/internal/grid"
	"circuitgrid/internal/levels"
)

// BoardCells lays def out row-major. Rotations come from nodes when the
// board has them, otherwise from the definition.
func BoardCells(def *levels.Definition, nodes []grid.Node) []CellView {
	live := make(map[string]int, len(nodes))
	for _, n := range nodes {
		live[n.ID] = n.Rotation
	}
	cells := make([]CellView, 0, def.Rows*def.Columns)
	for r := 0; r < def.Rows; r++ {
		for c := 0; c < def.Columns; c++ {
			id := grid.NodeID(r, c)
			cell, err := def.Cell(r, c)
			if err != nil || cell.Kind == levels.NodeEmpty {
				cells = append(cells, CellView{ID: id, Kind: string(levels.NodeEmpty), Empty: true})
				continue
			}
			rot, ok := live[id]
			if !ok {
				rot = cell.Rotation
			}
			cells = append(cells, CellView{ID: id, Kind: string(cell.Kind), Rotation: rot})
		}
	}
	return cells
}

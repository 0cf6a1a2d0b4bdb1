package ui

// DetermineLayoutMode picks how much chrome fits around a board of the given
// size. Each cell is drawn five columns wide and three rows tall.
func DetermineLayoutMode(cols, rows, boardRows, boardCols int) LayoutMode {
	needW := boardCols*cellWidth + 4
	needH := boardRows*cellHeight + 6
	if cols < needW || rows < needH {
		return LayoutTooSmall
	}
	if cols >= needW+hudWidth+2 {
		return LayoutWide
	}
	return LayoutCompact
}

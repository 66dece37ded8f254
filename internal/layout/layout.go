// Package layout holds the dashboard's responsive breakpoints as a pure
// function of viewport width.
package layout

// SmallScreenWidth is the first width that gets the side-by-side layout.
const SmallScreenWidth = 768

// Chart arrangement values.
const (
	DirectionColumn = "column"
	DirectionRow    = "row"
	WidthFull       = "100%"
	WidthHalf       = "50%"
)

// Layout describes how the analytics charts are arranged.
type Layout struct {
	Small      bool   `json:"small"`
	Direction  string `json:"direction"`
	ChartWidth string `json:"chartWidth"`
}

// For returns the layout for a viewport width in pixels. Charts stack on
// small screens and sit side by side otherwise.
func For(width int) Layout {
	if width < SmallScreenWidth {
		return Layout{Small: true, Direction: DirectionColumn, ChartWidth: WidthFull}
	}
	return Layout{Direction: DirectionRow, ChartWidth: WidthHalf}
}

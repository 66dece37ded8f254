package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	tests := []struct {
		width int
		want  Layout
	}{
		{0, Layout{Small: true, Direction: DirectionColumn, ChartWidth: WidthFull}},
		{375, Layout{Small: true, Direction: DirectionColumn, ChartWidth: WidthFull}},
		{767, Layout{Small: true, Direction: DirectionColumn, ChartWidth: WidthFull}},
		{768, Layout{Direction: DirectionRow, ChartWidth: WidthHalf}},
		{1920, Layout{Direction: DirectionRow, ChartWidth: WidthHalf}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, For(tt.width), "width %d", tt.width)
	}
}

// Package layout places buzzer avatars around a virtual table on the shared
// screen and handles presenter drag interactions. Purely presentational:
// nothing here touches scoring or round state.
package layout

import (
	"buzzmaster-console/internal/domain"
)

// Geometry describes the virtual canvas the positions live in.
type Geometry struct {
	CanvasWidth  float64 `yaml:"canvas_width"`
	CanvasHeight float64 `yaml:"canvas_height"`
	// Table region as fractions of the canvas, centered.
	TableWidthRatio  float64 `yaml:"table_width_ratio"`
	TableHeightRatio float64 `yaml:"table_height_ratio"`
	BoxWidth         float64 `yaml:"box_width"`
	BoxHeight        float64 `yaml:"box_height"`
	Margin           float64 `yaml:"margin"`
	ControlBarHeight float64 `yaml:"control_bar_height"`
	EdgePadding      float64 `yaml:"edge_padding"`
}

// DefaultGeometry matches the 1920x1080 presenter screen.
func DefaultGeometry() Geometry {
	return Geometry{
		CanvasWidth:      1920,
		CanvasHeight:     1080,
		TableWidthRatio:  0.54,
		TableHeightRatio: 0.68,
		BoxWidth:         150,
		BoxHeight:        120,
		Margin:           16,
		ControlBarHeight: 50,
		EdgePadding:      10,
	}
}

// FallbackPosition is used for participants that joined after the initial
// layout and were never placed.
var FallbackPosition = domain.Position{X: 100, Y: 100}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampToCanvas keeps a box fully on screen, above the control bar.
func (g Geometry) clampToCanvas(p domain.Position) domain.Position {
	return domain.Position{
		X: clamp(p.X, g.EdgePadding, g.CanvasWidth-g.BoxWidth-g.EdgePadding),
		Y: clamp(p.Y, g.EdgePadding, g.CanvasHeight-g.BoxHeight-g.ControlBarHeight-g.EdgePadding),
	}
}

// Compute spreads the given participants around the four sides of the table,
// round-robin top/right/bottom/left. Within a side of n boxes the s-th
// (1-indexed) box center sits at the s/(n+1) fractional point along the table
// edge, offset outward by the margin. Every coordinate is clamped inside the
// canvas, which keeps all boxes on screen for any roster size at the cost of
// uneven spacing at the extremes.
func Compute(ids []string, g Geometry) map[string]domain.Position {
	positions := make(map[string]domain.Position, len(ids))
	if len(ids) == 0 {
		return positions
	}

	tableW := g.CanvasWidth * g.TableWidthRatio
	tableH := g.CanvasHeight * g.TableHeightRatio
	tableLeft := (g.CanvasWidth - tableW) / 2
	tableTop := (g.CanvasHeight - tableH) / 2

	// Side order is fixed: top, right, bottom, left; participant i sits on
	// side i mod 4.
	var sides [4][]string
	for i, id := range ids {
		sides[i%4] = append(sides[i%4], id)
	}

	for s, id := range sides[0] {
		n := float64(len(sides[0]))
		positions[id] = g.clampToCanvas(domain.Position{
			X: tableLeft + (float64(s+1)/(n+1))*tableW - g.BoxWidth/2,
			Y: tableTop - g.BoxHeight - g.Margin,
		})
	}
	for s, id := range sides[1] {
		n := float64(len(sides[1]))
		positions[id] = g.clampToCanvas(domain.Position{
			X: tableLeft + tableW + g.Margin,
			Y: tableTop + (float64(s+1)/(n+1))*tableH - g.BoxHeight/2,
		})
	}
	for s, id := range sides[2] {
		n := float64(len(sides[2]))
		positions[id] = g.clampToCanvas(domain.Position{
			X: tableLeft + (float64(s+1)/(n+1))*tableW - g.BoxWidth/2,
			Y: tableTop + tableH + g.Margin,
		})
	}
	for s, id := range sides[3] {
		n := float64(len(sides[3]))
		positions[id] = g.clampToCanvas(domain.Position{
			X: tableLeft - g.BoxWidth - g.Margin,
			Y: tableTop + (float64(s+1)/(n+1))*tableH - g.BoxHeight/2,
		})
	}
	return positions
}

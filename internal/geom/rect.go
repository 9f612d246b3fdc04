// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/geom/rect.go
// Summary: Shared integer-cell rectangle and cell-metrics math.
// Usage: Used by the layout engine and the Kitty graphics renderer to
// avoid duplicating rectangle intersection/clip logic.

package geom

// Rect is an integer cell-grid rectangle, absolute within the viewport.
// W and H are always >= 0; a Rect with W==0 or H==0 is empty.
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether r covers no cells.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Contains reports whether (x,y) falls within r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Intersect returns the overlapping rectangle of r and o, which is
// empty (W==0 or H==0) when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.X+r.W, o.X+o.W)
	y1 := min(r.Y+r.H, o.Y+o.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Subtract removes every rectangle in cuts from r, returning zero, one
// or several non-overlapping fragments that together cover what is
// left of r. Used by the
// Kitty renderer to clip a placement against exclusion zones.
func Subtract(r Rect, cuts []Rect) []Rect {
	frags := []Rect{r}
	for _, cut := range cuts {
		var next []Rect
		for _, f := range frags {
			next = append(next, subtractOne(f, cut)...)
		}
		frags = next
	}
	return frags
}

func subtractOne(r, cut Rect) []Rect {
	ix := r.Intersect(cut)
	if ix.Empty() {
		return []Rect{r}
	}
	var out []Rect
	// Top strip.
	if ix.Y > r.Y {
		out = append(out, Rect{X: r.X, Y: r.Y, W: r.W, H: ix.Y - r.Y})
	}
	// Bottom strip.
	if ix.Y+ix.H < r.Y+r.H {
		out = append(out, Rect{X: r.X, Y: ix.Y + ix.H, W: r.W, H: (r.Y + r.H) - (ix.Y + ix.H)})
	}
	// Left strip (within the intersected row band).
	if ix.X > r.X {
		out = append(out, Rect{X: r.X, Y: ix.Y, W: ix.X - r.X, H: ix.H})
	}
	// Right strip (within the intersected row band).
	if ix.X+ix.W < r.X+r.W {
		out = append(out, Rect{X: ix.X + ix.W, Y: ix.Y, W: (r.X + r.W) - (ix.X + ix.W), H: ix.H})
	}
	return out
}

// CellMetrics describes the host terminal's pixel-per-cell size, used
// to translate Kitty placement columns/rows into source pixel crops.
type CellMetrics struct {
	CellWidthPx  int
	CellHeightPx int
}

// PixelsForCells converts a cell-unit size to pixels using m.
func (m CellMetrics) PixelsForCells(cols, rows int) (w, h int) {
	return cols * m.CellWidthPx, rows * m.CellHeightPx
}

// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/layout/rect.go
// Summary: Master-stack rectangle computation and per-workspace recalculation.
// Usage: Invoked by the reducer after any geometry-relevant action.
// Notes: The recursive split partition is adapted from the teacher's
// texel/tree.go resizeNode, narrowed to the spec's fixed 50/50 binary
// split (the teacher supports arbitrary N-ary ratios; openmux's Split
// node only ever has two children).

package layout

import "github.com/openmux/openmux/internal/geom"

// recalcWorkspace assigns Rect to every node reachable from w,
// following spec.md §4.A's master-stack algorithm.
func recalcWorkspace(w *Workspace, viewport geom.Rect) {
	if w.MainPane == nil && len(w.StackPanes) == 0 {
		return
	}

	if w.Zoomed {
		clearAllRects(w.MainPane)
		for _, s := range w.StackPanes {
			clearAllRects(s)
		}
		if focused := findFocusedNode(w); focused != nil {
			assignRect(focused, viewport)
		}
		return
	}

	if w.MainPane != nil && len(w.StackPanes) == 0 {
		assignRect(w.MainPane, viewport)
		return
	}

	if w.MainPane == nil {
		// No main; the stack alone fills the viewport, sliced per mode.
		layoutStackOnly(w, viewport)
		return
	}

	ratio := w.MasterRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}

	switch w.LayoutMode {
	case ModeHorizontal:
		mainH := int(float64(viewport.H) * ratio)
		mainRect := geom.Rect{X: viewport.X, Y: viewport.Y, W: viewport.W, H: mainH}
		stackRect := geom.Rect{X: viewport.X, Y: viewport.Y + mainH, W: viewport.W, H: viewport.H - mainH}
		assignRect(w.MainPane, mainRect)
		sliceStackHorizontal(w, stackRect)
	case ModeStacked:
		mainW := int(float64(viewport.W) * ratio)
		mainRect := geom.Rect{X: viewport.X, Y: viewport.Y, W: mainW, H: viewport.H}
		stackRect := geom.Rect{X: viewport.X + mainW, Y: viewport.Y, W: viewport.W - mainW, H: viewport.H}
		assignRect(w.MainPane, mainRect)
		for i, s := range w.StackPanes {
			if i == w.ActiveStackIndex {
				assignRect(s, stackRect)
			} else {
				clearAllRects(s)
			}
		}
	default: // ModeVertical
		mainW := int(float64(viewport.W) * ratio)
		mainRect := geom.Rect{X: viewport.X, Y: viewport.Y, W: mainW, H: viewport.H}
		stackRect := geom.Rect{X: viewport.X + mainW, Y: viewport.Y, W: viewport.W - mainW, H: viewport.H}
		assignRect(w.MainPane, mainRect)
		sliceStackVertical(w, stackRect)
	}
}

func layoutStackOnly(w *Workspace, viewport geom.Rect) {
	switch w.LayoutMode {
	case ModeHorizontal:
		sliceStackHorizontal(w, viewport)
	case ModeStacked:
		for i, s := range w.StackPanes {
			if i == w.ActiveStackIndex {
				assignRect(s, viewport)
			} else {
				clearAllRects(s)
			}
		}
	default:
		sliceStackVertical(w, viewport)
	}
}

// sliceStackVertical divides rect into len(StackPanes) equal
// floor(H/N) horizontal slices stacked top-to-bottom, the last
// absorbing the remainder.
func sliceStackVertical(w *Workspace, rect geom.Rect) {
	n := len(w.StackPanes)
	if n == 0 {
		return
	}
	sliceH := rect.H / n
	y := rect.Y
	for i, s := range w.StackPanes {
		h := sliceH
		if i == n-1 {
			h = rect.H - (y - rect.Y)
		}
		assignRect(s, geom.Rect{X: rect.X, Y: y, W: rect.W, H: h})
		y += h
	}
}

// sliceStackHorizontal divides rect into len(StackPanes) equal
// floor(W/N) vertical slices left-to-right, the last absorbing the
// remainder.
func sliceStackHorizontal(w *Workspace, rect geom.Rect) {
	n := len(w.StackPanes)
	if n == 0 {
		return
	}
	sliceW := rect.W / n
	x := rect.X
	for i, s := range w.StackPanes {
		width := sliceW
		if i == n-1 {
			width = rect.W - (x - rect.X)
		}
		assignRect(s, geom.Rect{X: x, Y: rect.Y, W: width, H: rect.H})
		x += width
	}
}

// assignRect partitions rect depth-first through a Split subtree,
// dividing 50/50 along each split's direction, until every Pane leaf
// has a concrete rectangle.
func assignRect(n *Node, rect geom.Rect) {
	if n == nil {
		return
	}
	if n.Pane != nil {
		r := rect
		n.Pane.Rect = &r
		return
	}
	s := n.SplitInfo
	r := rect
	s.Rect = &r
	if s.Direction == Vertical {
		firstW := rect.W / 2
		assignRect(s.First, geom.Rect{X: rect.X, Y: rect.Y, W: firstW, H: rect.H})
		assignRect(s.Second, geom.Rect{X: rect.X + firstW, Y: rect.Y, W: rect.W - firstW, H: rect.H})
	} else {
		firstH := rect.H / 2
		assignRect(s.First, geom.Rect{X: rect.X, Y: rect.Y, W: rect.W, H: firstH})
		assignRect(s.Second, geom.Rect{X: rect.X, Y: rect.Y + firstH, W: rect.W, H: rect.H - firstH})
	}
}

// clearAllRects walks a subtree clearing every Rect, used when a pane
// leaves the viewport under zoom.
func clearAllRects(n *Node) {
	if n == nil {
		return
	}
	if n.Pane != nil {
		n.Pane.Rect = nil
		return
	}
	n.SplitInfo.Rect = nil
	clearAllRects(n.SplitInfo.First)
	clearAllRects(n.SplitInfo.Second)
}

func findFocusedNode(w *Workspace) *Node {
	if w.FocusedPaneID == nil {
		return firstFocusCandidate(w)
	}
	if n, _, _, found := locatePane(w, *w.FocusedPaneID); found {
		return n
	}
	return firstFocusCandidate(w)
}

func firstFocusCandidate(w *Workspace) *Node {
	if w.MainPane != nil {
		return firstLeaf(w.MainPane)
	}
	if len(w.StackPanes) > 0 {
		return firstLeaf(w.StackPanes[0])
	}
	return nil
}

// recalcAll recomputes rectangles for every non-empty workspace
// against the current viewport, bumping LayoutGeometryVersion.
func recalcAll(s *LayoutState) {
	for _, w := range s.Workspaces {
		recalcWorkspace(w, s.Viewport)
	}
	s.LayoutGeometryVersion++
}

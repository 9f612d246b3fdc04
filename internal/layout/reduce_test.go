// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package layout

import (
	"testing"

	"github.com/openmux/openmux/internal/geom"
)

func newTestState() *LayoutState {
	s := NewLayoutState()
	s.Viewport = geom.Rect{X: 0, Y: 0, W: 100, H: 40}
	return s
}

func focusedTitle(t *testing.T, s *LayoutState) PaneID {
	t.Helper()
	w := s.Workspaces[s.ActiveWorkspaceID]
	if w == nil || w.FocusedPaneID == nil {
		t.Fatalf("no focused pane")
	}
	return *w.FocusedPaneID
}

// Scenario 1: split chain.
func TestSplitChain(t *testing.T) {
	s := newTestState()
	Reduce(s, Action{Kind: ActionNewPane})
	Reduce(s, Action{Kind: ActionSplitPane, SplitDir: Vertical})
	Reduce(s, Action{Kind: ActionSplitPane, SplitDir: Horizontal})

	w := s.Workspaces[s.ActiveWorkspaceID]
	if w.MainPane == nil || w.MainPane.SplitInfo == nil {
		t.Fatalf("expected main to be a split")
	}
	if w.MainPane.SplitInfo.Direction != Vertical {
		t.Fatalf("expected outer split to be vertical")
	}
	second := w.MainPane.SplitInfo.Second
	if second.SplitInfo == nil || second.SplitInfo.Direction != Horizontal {
		t.Fatalf("expected inner split to be horizontal")
	}

	panes := CollectPanes(w.MainPane)
	if len(panes) != 3 {
		t.Fatalf("expected 3 panes, got %d", len(panes))
	}
	for _, p := range panes {
		r := p.Pane.Rect
		if r == nil || r.W <= 0 || r.H <= 0 {
			t.Fatalf("pane %d missing positive rectangle: %+v", p.Pane.ID, r)
		}
	}
	if focusedTitle(t, s) != PaneID(3) {
		t.Fatalf("expected focus on pane 3, got %d", focusedTitle(t, s))
	}
}

// Scenario 2: navigation wrap.
func TestNavigationWithinStack(t *testing.T) {
	s := newTestState()
	w := &Workspace{
		ID:   1,
		MainPane: &Node{ID: 1, Pane: &PaneData{ID: 1}},
		StackPanes: []*Node{
			{ID: 2, Pane: &PaneData{ID: 2}},
			{ID: 3, Pane: &PaneData{ID: 3}},
			{ID: 4, Pane: &PaneData{ID: 4}},
		},
		ActiveStackIndex: 1,
		LayoutMode:       ModeVertical,
		MasterRatio:      0.5,
	}
	focus := PaneID(3)
	w.FocusedPaneID = &focus
	s.Workspaces[1] = w
	recalcWorkspace(w, s.Viewport)

	Reduce(s, Action{Kind: ActionNavigate, Direction: North})
	if focusedTitle(t, s) != 2 {
		t.Fatalf("north: expected pane 2, got %d", focusedTitle(t, s))
	}

	Reduce(s, Action{Kind: ActionNavigate, Direction: South})
	if focusedTitle(t, s) != 3 {
		t.Fatalf("south(1): expected pane 3, got %d", focusedTitle(t, s))
	}
	Reduce(s, Action{Kind: ActionNavigate, Direction: South})
	if focusedTitle(t, s) != 4 {
		t.Fatalf("south(2): expected pane 4, got %d", focusedTitle(t, s))
	}
	// south again: no wrap, stays at 4.
	Reduce(s, Action{Kind: ActionNavigate, Direction: South})
	if focusedTitle(t, s) != 4 {
		t.Fatalf("south(3): expected to stay at pane 4, got %d", focusedTitle(t, s))
	}

	Reduce(s, Action{Kind: ActionNavigate, Direction: West})
	if focusedTitle(t, s) != 1 {
		t.Fatalf("west: expected pane 1 (main), got %d", focusedTitle(t, s))
	}
}

// Scenario 3: close promotes.
func TestClosePromotesStackEntry(t *testing.T) {
	s := newTestState()
	w := &Workspace{
		ID:          1,
		MainPane:    &Node{ID: 1, Pane: &PaneData{ID: 1}},
		StackPanes:  []*Node{{ID: 2, Pane: &PaneData{ID: 2}}, {ID: 3, Pane: &PaneData{ID: 3}}},
		LayoutMode:  ModeVertical,
		MasterRatio: 0.5,
	}
	focus := PaneID(1)
	w.FocusedPaneID = &focus
	s.Workspaces[1] = w
	recalcWorkspace(w, s.Viewport)

	Reduce(s, Action{Kind: ActionClosePane})

	if w.MainPane == nil || w.MainPane.Pane == nil || w.MainPane.Pane.ID != 2 {
		t.Fatalf("expected pane 2 promoted to main")
	}
	if len(w.StackPanes) != 1 || w.StackPanes[0].Pane.ID != 3 {
		t.Fatalf("expected stack to contain only pane 3")
	}
	if focusedTitle(t, s) != 2 {
		t.Fatalf("expected focus on promoted main pane 2, got %d", focusedTitle(t, s))
	}
}

func TestZoomInvariant(t *testing.T) {
	s := newTestState()
	Reduce(s, Action{Kind: ActionNewPane})
	Reduce(s, Action{Kind: ActionSplitPane, SplitDir: Vertical})
	Reduce(s, Action{Kind: ActionToggleZoom})

	w := s.Workspaces[s.ActiveWorkspaceID]
	var withRect, total int
	for _, p := range CollectPanes(w.MainPane) {
		total++
		if p.Pane.Rect != nil {
			withRect++
			if *p.Pane.Rect != s.Viewport {
				t.Fatalf("zoomed pane rect does not match viewport: %+v", p.Pane.Rect)
			}
		}
	}
	if withRect != 1 {
		t.Fatalf("expected exactly 1 pane with a rectangle under zoom, got %d of %d", withRect, total)
	}
}

func TestLayoutVersionMonotonic(t *testing.T) {
	s := newTestState()
	before := s.LayoutVersion
	Reduce(s, Action{Kind: ActionNewPane})
	if s.LayoutVersion <= before {
		t.Fatalf("expected layout version to strictly increase after NewPane")
	}
	before = s.LayoutVersion
	Reduce(s, Action{Kind: ActionSetViewport, Rect: geom.Rect{X: 0, Y: 0, W: 120, H: 40}})
	if s.LayoutVersion != before {
		t.Fatalf("SetViewport must not bump layout_version (geometry-only)")
	}
	if s.LayoutGeometryVersion == 0 {
		t.Fatalf("expected layout_geometry_version to bump on SetViewport")
	}
}

func TestCloseByIDPrunesUnlabeledEmptyWorkspace(t *testing.T) {
	s := newTestState()
	Reduce(s, Action{Kind: ActionNewPane})
	w := s.Workspaces[s.ActiveWorkspaceID]
	id := w.MainPane.Pane.ID
	Reduce(s, Action{Kind: ActionClosePaneByID, PaneID: id})
	if _, ok := s.Workspaces[s.ActiveWorkspaceID]; ok {
		t.Fatalf("expected empty unlabeled workspace to be pruned")
	}
}

func TestLoadSessionSyncsCounters(t *testing.T) {
	s := newTestState()
	loaded := map[WorkspaceID]*Workspace{
		5: {ID: 5, MainPane: &Node{ID: 1, Pane: &PaneData{ID: 42}}, LayoutMode: ModeVertical, MasterRatio: 0.5},
	}
	Reduce(s, Action{
		Kind:                    ActionLoadSession,
		LoadedWorkspaces:        loaded,
		LoadedActiveWorkspaceID: 5,
		MaxLoadedPaneID:         42,
		MaxLoadedSplitID:        1,
	})
	nextID := s.generatePaneID()
	if nextID <= 42 {
		t.Fatalf("expected generated pane id to exceed loaded max 42, got %d", nextID)
	}
	if s.ActiveWorkspaceID != 5 {
		t.Fatalf("expected active workspace 5")
	}
}

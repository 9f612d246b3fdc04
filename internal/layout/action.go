// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/layout/action.go
// Summary: Action types dispatched to Reduce.
// Usage: Callers build one of these and pass it to Reduce; the
// reducer never allocates ids or times itself (see types.go).

package layout

import "github.com/openmux/openmux/internal/geom"

type ActionKind int

const (
	ActionFocusPane ActionKind = iota
	ActionNavigate
	ActionNewPane
	ActionSplitPane
	ActionClosePane
	ActionClosePaneByID
	ActionSetViewport
	ActionSwitchWorkspace
	ActionSetLayoutMode
	ActionSetWorkspaceLabel
	ActionSetPanePty
	ActionSetPaneTitle
	ActionSwapMain
	ActionMovePane
	ActionToggleZoom
	ActionLoadSession
	ActionClearAll
)

type Direction int

const (
	North Direction = iota
	South
	East
	West
)

// Action is a tagged union of every reducer action in spec.md §4.A.
// Only the fields relevant to Kind are read.
type Action struct {
	Kind ActionKind

	PaneID      PaneID
	Direction   Direction
	Title       string
	HasTitle    bool
	PtyID       *PtyID
	SplitDir    SplitDirection
	Rect        geom.Rect
	WorkspaceID WorkspaceID
	LayoutMode  LayoutMode
	Label       string

	LoadedWorkspaces        map[WorkspaceID]*Workspace
	LoadedActiveWorkspaceID WorkspaceID
	MaxLoadedPaneID         int64
	MaxLoadedSplitID        int64
}

// persistenceRelevant reports whether an action's fields, if applied,
// can change persisted state (as opposed to being purely geometric,
// e.g. SetViewport, which only recomputes rectangles; ToggleZoom flips
// the saved zoomed flag and so counts as persistence-relevant). Per spec.md
// §8, layout_version strictly increases iff this is true AND the
// state actually changed.
func (k ActionKind) persistenceRelevant() bool {
	switch k {
	case ActionSetViewport:
		return false
	default:
		return true
	}
}

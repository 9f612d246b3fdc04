// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/layout/types.go
// Summary: Data model for the pane/workspace layout tree.
// Usage: Shared by the reducer, the master-stack rectangle algorithm,
// and the session persistence layer.
// Notes: Generalizes the teacher's texel/tree.go n-ary ratio-split
// tree down to the spec's binary Split node, and adds the
// master/stack workspace shape that the teacher has no concept of
// (borrowed from dodorz-tuios's MasterRatio tiling).

package layout

import "github.com/openmux/openmux/internal/geom"

// PaneID, PtyID and WorkspaceID are process-unique monotonic tokens.
type PaneID int64
type PtyID int64
type WorkspaceID int

// SplitDirection is the axis a Split divides its children along.
type SplitDirection int

const (
	Vertical SplitDirection = iota
	Horizontal
)

// LayoutMode selects how a workspace arranges its main pane against
// its stack.
type LayoutMode int

const (
	ModeVertical LayoutMode = iota
	ModeHorizontal
	ModeStacked
)

// Node is either a Pane leaf or a Split internal node. Exactly one of
// Pane/SplitInfo is non-nil.
type Node struct {
	ID        int64
	Pane      *PaneData
	SplitInfo *SplitData
}

// PaneData is the leaf payload: a rectangular viewport bound to at
// most one PTY.
type PaneData struct {
	ID     PaneID
	PtyID  *PtyID
	Title  string
	Rect   *geom.Rect
}

// SplitData is the internal-node payload: two children divided along
// Direction. Nesting is unbounded.
type SplitData struct {
	Direction SplitDirection
	First     *Node
	Second    *Node
	Rect      *geom.Rect
}

func (n *Node) isSplit() bool { return n != nil && n.SplitInfo != nil }

// Rectangle returns the node's current rectangle (Pane or Split),
// or nil if none has been assigned yet.
func (n *Node) Rectangle() *geom.Rect {
	if n == nil {
		return nil
	}
	if n.Pane != nil {
		return n.Pane.Rect
	}
	if n.SplitInfo != nil {
		return n.SplitInfo.Rect
	}
	return nil
}

// Workspace is a named collection of panes with one layout mode and
// one focus.
type Workspace struct {
	ID               WorkspaceID
	Label            string
	HasLabel         bool
	MainPane         *Node
	StackPanes       []*Node
	FocusedPaneID    *PaneID
	ActiveStackIndex int
	LayoutMode       LayoutMode
	Zoomed           bool

	// MasterRatio is the fraction of the viewport given to MainPane
	// along the primary axis, named after dodorz-tuios's MasterRatio.
	MasterRatio float64
}

// LayoutState is the top-level, serializable state the reducer
// transforms.
type LayoutState struct {
	Workspaces             map[WorkspaceID]*Workspace
	ActiveWorkspaceID      WorkspaceID
	Viewport               geom.Rect
	Config                 Config
	LayoutVersion          uint64
	LayoutGeometryVersion  uint64

	nextPaneID  int64
	nextSplitID int64
}

// Config holds layout-affecting tunables.
type Config struct {
	DefaultMasterRatio float64
	MinThumbHeight     int
}

// DefaultConfig matches the values implied by spec.md's master-stack
// algorithm and scrollbar section.
func DefaultConfig() Config {
	return Config{
		DefaultMasterRatio: 0.5,
		MinThumbHeight:     1,
	}
}

// NewLayoutState creates an empty state ready for lazy workspace
// creation.
func NewLayoutState() *LayoutState {
	return &LayoutState{
		Workspaces:        make(map[WorkspaceID]*Workspace),
		ActiveWorkspaceID: 1,
		Config:            DefaultConfig(),
	}
}

func newWorkspace(id WorkspaceID, cfg Config) *Workspace {
	return &Workspace{
		ID:          id,
		LayoutMode:  ModeVertical,
		MasterRatio: cfg.DefaultMasterRatio,
	}
}

// generatePaneID / generateSplitID implement the monotonic-counter
// policy spec.md §4.A requires: the reducer itself never allocates
// IDs, but these are the caller-supplied policy wrapped in the state
// so that LoadSession can resync the counter to max(loaded)+1.
func (s *LayoutState) generatePaneID() PaneID {
	s.nextPaneID++
	return PaneID(s.nextPaneID)
}

func (s *LayoutState) generateSplitID() int64 {
	s.nextSplitID++
	return s.nextSplitID
}

// syncCounters bumps the internal counters so that newly generated
// IDs cannot collide with ids already present in a loaded workspace
// set. Called by LoadSession.
func (s *LayoutState) syncCounters(maxPaneID int64, maxSplitID int64) {
	if maxPaneID >= s.nextPaneID {
		s.nextPaneID = maxPaneID
	}
	if maxSplitID >= s.nextSplitID {
		s.nextSplitID = maxSplitID
	}
}

// CollectPanes returns every Pane leaf reachable from n, depth-first.
func CollectPanes(n *Node) []*Node {
	if n == nil {
		return nil
	}
	if n.Pane != nil {
		return []*Node{n}
	}
	var out []*Node
	out = append(out, CollectPanes(n.SplitInfo.First)...)
	out = append(out, CollectPanes(n.SplitInfo.Second)...)
	return out
}

// FindPane locates the leaf node carrying the given PaneID.
func FindPane(n *Node, id PaneID) *Node {
	if n == nil {
		return nil
	}
	if n.Pane != nil {
		if n.Pane.ID == id {
			return n
		}
		return nil
	}
	if found := FindPane(n.SplitInfo.First, id); found != nil {
		return found
	}
	return FindPane(n.SplitInfo.Second, id)
}

// findParent returns the Split node whose First or Second is target,
// or nil if target is the subtree root.
func findParent(root, target *Node) *Node {
	if root == nil || root.SplitInfo == nil {
		return nil
	}
	if root.SplitInfo.First == target || root.SplitInfo.Second == target {
		return root
	}
	if p := findParent(root.SplitInfo.First, target); p != nil {
		return p
	}
	return findParent(root.SplitInfo.Second, target)
}

// sibling returns the other child of parent.
func sibling(parent, child *Node) *Node {
	if parent == nil || parent.SplitInfo == nil {
		return nil
	}
	if parent.SplitInfo.First == child {
		return parent.SplitInfo.Second
	}
	if parent.SplitInfo.Second == child {
		return parent.SplitInfo.First
	}
	return nil
}

// firstLeaf descends to the left-most (First-most) Pane leaf.
func firstLeaf(n *Node) *Node {
	if n == nil {
		return nil
	}
	for n.SplitInfo != nil {
		n = n.SplitInfo.First
	}
	return n
}

// workspaceRoots returns the roots worth walking for this workspace:
// the main pane and every stack entry.
func workspaceRoots(w *Workspace) []*Node {
	roots := make([]*Node, 0, 1+len(w.StackPanes))
	if w.MainPane != nil {
		roots = append(roots, w.MainPane)
	}
	roots = append(roots, w.StackPanes...)
	return roots
}

// locatePane finds which root (main, or a stack index) contains id,
// and the node itself.
func locatePane(w *Workspace, id PaneID) (node *Node, inMain bool, stackIdx int, found bool) {
	if w.MainPane != nil {
		if n := FindPane(w.MainPane, id); n != nil {
			return n, true, -1, true
		}
	}
	for i, s := range w.StackPanes {
		if n := FindPane(s, id); n != nil {
			return n, false, i, true
		}
	}
	return nil, false, -1, false
}

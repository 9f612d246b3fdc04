// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/layout/reduce.go
// Summary: The pure layout reducer: Reduce(state, action) -> state'.
// Usage: The only entry point structural changes to a LayoutState go
// through; callers never mutate a Workspace/Node by hand.
// Notes: Grounded on the teacher's texel/tree.go (SplitActive,
// CloseActiveLeaf, SwapActivePane, findNeighbor) and texel/workspace.go
// (Direction, navigation-by-role), generalized from the teacher's
// single always-active tree to per-workspace master/stack trees with
// explicit focus ids instead of a live *Node pointer, so the state is
// trivially serializable for session persistence (spec.md §6).

package layout

// Reduce applies action to state and returns it. The reducer mutates
// state in place and returns the same pointer: single-threaded
// ownership (spec.md §5) makes this equivalent to returning a fresh
// value, without the allocation cost of deep-cloning the tree on
// every dispatch.
func Reduce(state *LayoutState, action Action) *LayoutState {
	before := state.LayoutVersion
	changed := apply(state, action)
	if action.Kind.persistenceRelevant() && changed {
		state.LayoutVersion = before + 1
	}
	return state
}

func apply(state *LayoutState, action Action) (changed bool) {
	switch action.Kind {
	case ActionFocusPane:
		return doFocusPane(state, action.PaneID)
	case ActionNavigate:
		return doNavigate(state, action.Direction)
	case ActionNewPane:
		return doNewPane(state, action) != nil
	case ActionSplitPane:
		return doSplitPane(state, action) != nil
	case ActionClosePane:
		return doClosePane(state, nil)
	case ActionClosePaneByID:
		id := action.PaneID
		return doClosePane(state, &id)
	case ActionSetViewport:
		state.Viewport = action.Rect
		recalcAll(state)
		return false
	case ActionSwitchWorkspace:
		return doSwitchWorkspace(state, action.WorkspaceID)
	case ActionSetLayoutMode:
		return doSetLayoutMode(state, action.LayoutMode)
	case ActionSetWorkspaceLabel:
		return doSetWorkspaceLabel(state, action.Label)
	case ActionSetPanePty:
		return doSetPanePty(state, action.PaneID, action.PtyID)
	case ActionSetPaneTitle:
		return doSetPaneTitle(state, action.PaneID, action.Title)
	case ActionSwapMain:
		return doSwapMain(state)
	case ActionMovePane:
		return doMovePane(state, action.Direction)
	case ActionToggleZoom:
		return doToggleZoom(state)
	case ActionLoadSession:
		return doLoadSession(state, action)
	case ActionClearAll:
		return doClearAll(state)
	}
	return false
}

func activeWorkspace(state *LayoutState) *Workspace {
	w, ok := state.Workspaces[state.ActiveWorkspaceID]
	if !ok {
		w = newWorkspace(state.ActiveWorkspaceID, state.Config)
		state.Workspaces[state.ActiveWorkspaceID] = w
	}
	return w
}

// doFocusPane implements FocusPane(id): sets focused_pane_id, updates
// active_stack_index if the pane is in the stack, and recomputes
// layout if zoomed (so the new focus fills the viewport).
func doFocusPane(state *LayoutState, id PaneID) bool {
	w := activeWorkspace(state)
	node, inMain, stackIdx, found := locatePane(w, id)
	if !found || node.Pane == nil {
		return false
	}
	prevFocus := w.FocusedPaneID
	w.FocusedPaneID = &id
	if !inMain {
		w.ActiveStackIndex = stackIdx
	}
	if w.Zoomed {
		recalcWorkspace(w, state.Viewport)
		state.LayoutGeometryVersion++
	}
	return prevFocus == nil || *prevFocus != id
}

// doNavigate implements Navigate(direction) per spec.md §4.A: within
// splits, step to the geometrically adjacent sibling; at a split
// root, east/west crosses main<->stack in vertical/stacked modes
// (roles swap in horizontal mode), north/south moves within the
// stack. No-op silently if no target exists.
func doNavigate(state *LayoutState, dir Direction) bool {
	w := activeWorkspace(state)
	if w.FocusedPaneID == nil {
		return false
	}
	node, inMain, stackIdx, found := locatePane(w, *w.FocusedPaneID)
	if !found {
		return false
	}

	// First, try stepping within the enclosing Split subtree.
	root := w.MainPane
	if !inMain {
		root = w.StackPanes[stackIdx]
	}
	if target := navigateWithinSplit(root, node, dir); target != nil {
		return setFocusToNode(state, w, target, inMain, stackIdx)
	}

	// No sibling within this pane's own subtree; cross master<->stack
	// or move within the stack, per layout mode.
	vertOrStacked := w.LayoutMode == ModeVertical || w.LayoutMode == ModeStacked
	crossDir := func(d Direction) bool {
		if vertOrStacked {
			return d == East || d == West
		}
		return d == North || d == South
	}
	withinStackDir := func(d Direction) bool {
		if vertOrStacked {
			return d == North || d == South
		}
		return d == East || d == West
	}

	switch {
	case inMain && crossDir(dir):
		if len(w.StackPanes) == 0 {
			return false
		}
		idx := w.ActiveStackIndex
		if idx < 0 || idx >= len(w.StackPanes) {
			idx = 0
		}
		target := firstLeaf(w.StackPanes[idx])
		return setFocusToNode(state, w, target, false, idx)

	case !inMain && crossDir(dir):
		towardMain := (vertOrStacked && dir == West) || (!vertOrStacked && dir == North)
		if !towardMain {
			return false
		}
		if w.MainPane == nil {
			return false
		}
		target := firstLeaf(w.MainPane)
		return setFocusToNode(state, w, target, true, stackIdx)

	case !inMain && withinStackDir(dir):
		delta := 1
		if (vertOrStacked && dir == North) || (!vertOrStacked && dir == West) {
			delta = -1
		}
		newIdx := stackIdx + delta
		if newIdx < 0 || newIdx >= len(w.StackPanes) {
			return false // do not wrap past the ends
		}
		target := firstLeaf(w.StackPanes[newIdx])
		return setFocusToNode(state, w, target, false, newIdx)
	}
	return false
}

// navigateWithinSplit walks up from leaf toward root looking for the
// first ancestor split whose direction matches dir, and returns the
// adjacent child's first leaf.
func navigateWithinSplit(root, leaf *Node, dir Direction) *Node {
	wantVertical := dir == East || dir == West
	forward := dir == East || dir == South

	cur := leaf
	for cur != root {
		parent := findParent(root, cur)
		if parent == nil {
			return nil
		}
		s := parent.SplitInfo
		matches := (s.Direction == Vertical) == wantVertical
		if matches {
			if forward && s.First == cur {
				return firstLeaf(s.Second)
			}
			if !forward && s.Second == cur {
				return firstLeaf(s.First)
			}
		}
		cur = parent
	}
	return nil
}

func setFocusToNode(state *LayoutState, w *Workspace, target *Node, inMain bool, stackIdx int) bool {
	if target == nil || target.Pane == nil {
		return false
	}
	prev := w.FocusedPaneID
	w.FocusedPaneID = &target.Pane.ID
	if !inMain {
		w.ActiveStackIndex = stackIdx
	}
	if w.Zoomed {
		recalcWorkspace(w, state.Viewport)
		state.LayoutGeometryVersion++
	}
	return prev == nil || *prev != target.Pane.ID
}

// doNewPane implements NewPane: first pane becomes main, subsequent
// ones append to the stack; focus and active_stack_index follow it.
func doNewPane(state *LayoutState, action Action) *Node {
	w := activeWorkspace(state)
	id := state.generatePaneID()
	pd := &PaneData{ID: id}
	if action.HasTitle {
		pd.Title = action.Title
	}
	if action.PtyID != nil {
		pty := *action.PtyID
		pd.PtyID = &pty
	}
	node := &Node{ID: state.generateSplitID(), Pane: pd}

	if w.MainPane == nil {
		w.MainPane = node
	} else {
		w.StackPanes = append(w.StackPanes, node)
		w.ActiveStackIndex = len(w.StackPanes) - 1
	}
	w.FocusedPaneID = &id
	recalcWorkspace(w, state.Viewport)
	state.LayoutGeometryVersion++
	return node
}

// doSplitPane implements SplitPane(direction): replaces the focused
// Pane with a Split{first: old, second: new}; new pane gets focus.
func doSplitPane(state *LayoutState, action Action) *Node {
	w := activeWorkspace(state)
	if w.FocusedPaneID == nil {
		return nil
	}
	node, _, _, found := locatePane(w, *w.FocusedPaneID)
	if !found || node.Pane == nil {
		return nil
	}

	oldPane := node.Pane
	newID := state.generatePaneID()
	newPaneData := &PaneData{ID: newID}
	if action.HasTitle {
		newPaneData.Title = action.Title
	}

	first := &Node{ID: state.generateSplitID(), Pane: oldPane}
	second := &Node{ID: state.generateSplitID(), Pane: newPaneData}

	node.Pane = nil
	node.SplitInfo = &SplitData{Direction: action.SplitDir, First: first, Second: second}

	w.FocusedPaneID = &newID
	recalcWorkspace(w, state.Viewport)
	state.LayoutGeometryVersion++
	return second
}

// doClosePane implements ClosePane / ClosePaneById. If id is nil, the
// focused pane is closed.
func doClosePane(state *LayoutState, id *PaneID) bool {
	w := activeWorkspace(state)
	target := w.FocusedPaneID
	if id != nil {
		target = id
	}
	if target == nil {
		return false
	}

	node, inMain, stackIdx, found := locatePane(w, *target)
	if !found {
		return false
	}

	var nextFocus *Node

	if inMain {
		parent := findParent(w.MainPane, node)
		if parent == nil {
			// node IS MainPane: promote first stack entry.
			w.MainPane = nil
			if len(w.StackPanes) > 0 {
				w.MainPane = w.StackPanes[0]
				w.StackPanes = append(w.StackPanes[:0:0], w.StackPanes[1:]...)
				nextFocus = firstLeaf(w.MainPane)
				if w.ActiveStackIndex > 0 {
					w.ActiveStackIndex--
				}
			}
		} else {
			sib := sibling(parent, node)
			replaceInTree(&w.MainPane, parent, sib)
			nextFocus = firstLeaf(sib)
		}
	} else {
		root := w.StackPanes[stackIdx]
		parent := findParent(root, node)
		if parent == nil {
			// node IS the stack entry's root: remove the slot.
			w.StackPanes = append(w.StackPanes[:stackIdx], w.StackPanes[stackIdx+1:]...)
			nextFocus = pickNeighbourAfterStackRemoval(w, stackIdx)
		} else {
			sib := sibling(parent, node)
			rootPtr := &w.StackPanes[stackIdx]
			replaceInTree(rootPtr, parent, sib)
			nextFocus = firstLeaf(sib)
		}
	}

	if len(w.StackPanes) > 0 && w.ActiveStackIndex >= len(w.StackPanes) {
		w.ActiveStackIndex = len(w.StackPanes) - 1
	}

	if nextFocus != nil && nextFocus.Pane != nil {
		w.FocusedPaneID = &nextFocus.Pane.ID
	} else if w.MainPane != nil {
		leaf := firstLeaf(w.MainPane)
		if leaf != nil {
			w.FocusedPaneID = &leaf.Pane.ID
		}
	} else {
		w.FocusedPaneID = nil
	}

	if w.MainPane == nil && len(w.StackPanes) == 0 && !w.HasLabel {
		delete(state.Workspaces, w.ID)
	} else {
		recalcWorkspace(w, state.Viewport)
	}
	state.LayoutGeometryVersion++
	return true
}

// pickNeighbourAfterStackRemoval chooses the best geometric neighbour
// after the stack entry at the removed index disappears: the entry
// that slid into that slot, or the new last entry, or main.
func pickNeighbourAfterStackRemoval(w *Workspace, removedIdx int) *Node {
	if len(w.StackPanes) == 0 {
		if w.MainPane != nil {
			return firstLeaf(w.MainPane)
		}
		return nil
	}
	idx := removedIdx
	if idx >= len(w.StackPanes) {
		idx = len(w.StackPanes) - 1
	}
	return firstLeaf(w.StackPanes[idx])
}

// replaceInTree swaps parent's occurrence in the tree rooted at *root
// with replacement. If parent has no parent of its own, replacement
// becomes the new *root.
func replaceInTree(root **Node, parent *Node, replacement *Node) {
	grandparent := findParent(*root, parent)
	if grandparent == nil {
		*root = replacement
		return
	}
	if grandparent.SplitInfo.First == parent {
		grandparent.SplitInfo.First = replacement
	} else {
		grandparent.SplitInfo.Second = replacement
	}
}

func doSwitchWorkspace(state *LayoutState, id WorkspaceID) bool {
	if _, ok := state.Workspaces[id]; !ok {
		state.Workspaces[id] = newWorkspace(id, state.Config)
	}
	changed := state.ActiveWorkspaceID != id
	state.ActiveWorkspaceID = id
	return changed
}

func doSetLayoutMode(state *LayoutState, mode LayoutMode) bool {
	w := activeWorkspace(state)
	if w.LayoutMode == mode {
		return false
	}
	w.LayoutMode = mode
	recalcWorkspace(w, state.Viewport)
	state.LayoutGeometryVersion++
	return true
}

func doSetWorkspaceLabel(state *LayoutState, label string) bool {
	w := activeWorkspace(state)
	changed := !w.HasLabel || w.Label != label
	w.Label = label
	w.HasLabel = true
	return changed
}

func doSetPanePty(state *LayoutState, id PaneID, pty *PtyID) bool {
	w := activeWorkspace(state)
	node, _, _, found := locatePane(w, id)
	if !found {
		return false
	}
	node.Pane.PtyID = pty
	return true
}

func doSetPaneTitle(state *LayoutState, id PaneID, title string) bool {
	w := activeWorkspace(state)
	node, _, _, found := locatePane(w, id)
	if !found || node.Pane.Title == title {
		return false
	}
	node.Pane.Title = title
	return true
}

// doSwapMain implements SwapMain: swaps the focused stack pane's
// entire subtree with the main subtree. No-op if main is focused.
func doSwapMain(state *LayoutState) bool {
	w := activeWorkspace(state)
	if w.FocusedPaneID == nil || w.MainPane == nil {
		return false
	}
	_, inMain, stackIdx, found := locatePane(w, *w.FocusedPaneID)
	if !found || inMain {
		return false
	}
	w.MainPane, w.StackPanes[stackIdx] = w.StackPanes[stackIdx], w.MainPane
	recalcWorkspace(w, state.Viewport)
	state.LayoutGeometryVersion++
	return true
}

// doMovePane implements MovePane(direction): swaps the focused pane
// with its geometric neighbour, reordering stack entries when the
// move crosses the main/stack boundary with no in-split sibling.
func doMovePane(state *LayoutState, dir Direction) bool {
	w := activeWorkspace(state)
	if w.FocusedPaneID == nil {
		return false
	}
	node, inMain, stackIdx, found := locatePane(w, *w.FocusedPaneID)
	if !found {
		return false
	}

	root := w.MainPane
	if !inMain {
		root = w.StackPanes[stackIdx]
	}
	if target := navigateWithinSplit(root, node, dir); target != nil {
		node.Pane, target.Pane = target.Pane, node.Pane
		recalcWorkspace(w, state.Viewport)
		state.LayoutGeometryVersion++
		return true
	}

	// Crossing main<->stack with no split sibling: reorder slots.
	vertOrStacked := w.LayoutMode == ModeVertical || w.LayoutMode == ModeStacked
	crossDir := func(d Direction) bool {
		if vertOrStacked {
			return d == East || d == West
		}
		return d == North || d == South
	}
	if !crossDir(dir) {
		return false
	}

	if inMain {
		if len(w.StackPanes) == 0 {
			return false
		}
		idx := w.ActiveStackIndex
		if idx < 0 || idx >= len(w.StackPanes) {
			idx = 0
		}
		w.MainPane, w.StackPanes[idx] = w.StackPanes[idx], w.MainPane
		w.ActiveStackIndex = idx
	} else {
		towardMain := (vertOrStacked && dir == West) || (!vertOrStacked && dir == North)
		if !towardMain || w.MainPane == nil {
			return false
		}
		w.MainPane, w.StackPanes[stackIdx] = w.StackPanes[stackIdx], w.MainPane
	}
	recalcWorkspace(w, state.Viewport)
	state.LayoutGeometryVersion++
	return true
}

func doToggleZoom(state *LayoutState) bool {
	w := activeWorkspace(state)
	w.Zoomed = !w.Zoomed
	recalcWorkspace(w, state.Viewport)
	state.LayoutGeometryVersion++
	return true
}

// doLoadSession implements LoadSession: replaces workspaces wholesale,
// recomputes every rectangle, and syncs id counters.
func doLoadSession(state *LayoutState, action Action) bool {
	state.Workspaces = action.LoadedWorkspaces
	if state.Workspaces == nil {
		state.Workspaces = make(map[WorkspaceID]*Workspace)
	}
	state.ActiveWorkspaceID = action.LoadedActiveWorkspaceID
	state.syncCounters(action.MaxLoadedPaneID, action.MaxLoadedSplitID)
	recalcAll(state)
	return true
}

func doClearAll(state *LayoutState) bool {
	state.Workspaces = make(map[WorkspaceID]*Workspace)
	state.ActiveWorkspaceID = 1
	return true
}

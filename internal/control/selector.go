// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/control/selector.go
// Summary: Pane selector grammar (spec.md §6): focused | main |
// stack:N | pane:<id> | pty:<id> | bare pane-N.
// Usage: Parsed from `--pane` CLI flags and resolved against the live
// layout.LayoutState by the control server.
// Notes: Grounded on the teacher's small hand-rolled parser style
// (no parser-combinator library in the pack for this shape of
// grammar); see config/ package's readConfig for the same
// stdlib-only string-switch approach to small surface parsing.

package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openmux/openmux/internal/layout"
)

// SelectorKind distinguishes the parsed selector forms.
type SelectorKind int

const (
	SelectFocused SelectorKind = iota
	SelectMain
	SelectStackIndex
	SelectPaneID
	SelectPtyID
)

// Selector is a parsed pane selector.
type Selector struct {
	Kind  SelectorKind
	Index int // 1-based, for SelectStackIndex
	ID    int64
}

// ErrNotFound is returned when a selector cannot be resolved, mapped
// to exit code 2 per spec.md §6.
var ErrNotFound = fmt.Errorf("not_found")

// ParseSelector parses the pane selector grammar.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "focused" || s == "":
		return Selector{Kind: SelectFocused}, nil
	case s == "main":
		return Selector{Kind: SelectMain}, nil
	case strings.HasPrefix(s, "stack:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "stack:"))
		if err != nil || n < 1 {
			return Selector{}, fmt.Errorf("control: bad selector %q: %w", s, ErrNotFound)
		}
		return Selector{Kind: SelectStackIndex, Index: n}, nil
	case strings.HasPrefix(s, "pane:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(s, "pane:"), 10, 64)
		if err != nil {
			return Selector{}, fmt.Errorf("control: bad selector %q: %w", s, ErrNotFound)
		}
		return Selector{Kind: SelectPaneID, ID: id}, nil
	case strings.HasPrefix(s, "pty:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(s, "pty:"), 10, 64)
		if err != nil {
			return Selector{}, fmt.Errorf("control: bad selector %q: %w", s, ErrNotFound)
		}
		return Selector{Kind: SelectPtyID, ID: id}, nil
	case strings.HasPrefix(s, "pane-"):
		id, err := strconv.ParseInt(strings.TrimPrefix(s, "pane-"), 10, 64)
		if err != nil {
			return Selector{}, fmt.Errorf("control: bad selector %q: %w", s, ErrNotFound)
		}
		return Selector{Kind: SelectPaneID, ID: id}, nil
	default:
		return Selector{}, fmt.Errorf("control: unrecognised selector %q: %w", s, ErrNotFound)
	}
}

// Resolve resolves a parsed selector against the active workspace of
// state, returning not_found when it cannot be matched to a live
// pane.
func Resolve(state *layout.LayoutState, sel Selector) (layout.PaneID, error) {
	ws, ok := state.Workspaces[state.ActiveWorkspaceID]
	if !ok {
		return 0, ErrNotFound
	}

	switch sel.Kind {
	case SelectFocused:
		if ws.FocusedPaneID == nil {
			return 0, ErrNotFound
		}
		return *ws.FocusedPaneID, nil
	case SelectMain:
		if ws.MainPane == nil || ws.MainPane.Pane == nil {
			return 0, ErrNotFound
		}
		return ws.MainPane.Pane.ID, nil
	case SelectStackIndex:
		idx := sel.Index - 1
		if idx < 0 || idx >= len(ws.StackPanes) {
			return 0, ErrNotFound
		}
		node := ws.StackPanes[idx]
		leaf := firstPaneLeaf(node)
		if leaf == nil {
			return 0, ErrNotFound
		}
		return leaf.Pane.ID, nil
	case SelectPaneID:
		for _, root := range allRoots(ws) {
			if n := layout.FindPane(root, layout.PaneID(sel.ID)); n != nil {
				return n.Pane.ID, nil
			}
		}
		return 0, ErrNotFound
	case SelectPtyID:
		for _, root := range allRoots(ws) {
			for _, n := range layout.CollectPanes(root) {
				if n.Pane != nil && n.Pane.PtyID != nil && int64(*n.Pane.PtyID) == sel.ID {
					return n.Pane.ID, nil
				}
			}
		}
		return 0, ErrNotFound
	default:
		return 0, ErrNotFound
	}
}

func allRoots(ws *layout.Workspace) []*layout.Node {
	roots := make([]*layout.Node, 0, len(ws.StackPanes)+1)
	if ws.MainPane != nil {
		roots = append(roots, ws.MainPane)
	}
	roots = append(roots, ws.StackPanes...)
	return roots
}

func firstPaneLeaf(n *layout.Node) *layout.Node {
	for _, leaf := range layout.CollectPanes(n) {
		return leaf
	}
	return nil
}

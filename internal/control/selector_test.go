// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package control

import (
	"testing"

	"github.com/openmux/openmux/internal/geom"
	"github.com/openmux/openmux/internal/layout"
)

func buildTestState() *layout.LayoutState {
	st := layout.NewLayoutState()
	st = layout.Reduce(st, layout.Action{Kind: layout.ActionSetViewport, Rect: geom.Rect{W: 100, H: 40}})
	st = layout.Reduce(st, layout.Action{Kind: layout.ActionNewPane})
	st = layout.Reduce(st, layout.Action{Kind: layout.ActionNewPane})
	st = layout.Reduce(st, layout.Action{Kind: layout.ActionNewPane})
	return st
}

func TestParseSelectorGrammar(t *testing.T) {
	cases := map[string]SelectorKind{
		"focused":  SelectFocused,
		"main":     SelectMain,
		"stack:2":  SelectStackIndex,
		"pane:5":   SelectPaneID,
		"pty:7":    SelectPtyID,
		"pane-3":   SelectPaneID,
	}
	for input, want := range cases {
		sel, err := ParseSelector(input)
		if err != nil {
			t.Fatalf("ParseSelector(%q): %v", input, err)
		}
		if sel.Kind != want {
			t.Fatalf("ParseSelector(%q): got kind %v, want %v", input, sel.Kind, want)
		}
	}
}

func TestParseSelectorUnrecognisedIsNotFound(t *testing.T) {
	_, err := ParseSelector("???")
	if err == nil {
		t.Fatalf("expected an error for an unrecognised selector")
	}
}

func TestResolveMainAndStack(t *testing.T) {
	st := buildTestState()
	ws := st.Workspaces[st.ActiveWorkspaceID]

	mainID, err := Resolve(st, Selector{Kind: SelectMain})
	if err != nil {
		t.Fatalf("resolve main: %v", err)
	}
	if mainID != ws.MainPane.Pane.ID {
		t.Fatalf("expected main pane id %d, got %d", ws.MainPane.Pane.ID, mainID)
	}

	stackID, err := Resolve(st, Selector{Kind: SelectStackIndex, Index: 1})
	if err != nil {
		t.Fatalf("resolve stack:1: %v", err)
	}
	if stackID != ws.StackPanes[0].Pane.ID {
		t.Fatalf("expected first stack pane id %d, got %d", ws.StackPanes[0].Pane.ID, stackID)
	}

	_, err = Resolve(st, Selector{Kind: SelectStackIndex, Index: 99})
	if err != ErrNotFound {
		t.Fatalf("expected not_found for an out-of-range stack index, got %v", err)
	}
}

func TestResolveFocused(t *testing.T) {
	st := buildTestState()
	ws := st.Workspaces[st.ActiveWorkspaceID]

	focusedID, err := Resolve(st, Selector{Kind: SelectFocused})
	if err != nil {
		t.Fatalf("resolve focused: %v", err)
	}
	if ws.FocusedPaneID == nil || focusedID != *ws.FocusedPaneID {
		t.Fatalf("expected the focused pane id, got %d", focusedID)
	}
}

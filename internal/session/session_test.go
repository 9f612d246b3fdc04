// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"testing"
	"time"

	"github.com/openmux/openmux/internal/layout"
	"github.com/openmux/openmux/internal/session/store"
)

type fakeLauncher struct {
	next      layout.PtyID
	exitChans map[layout.PtyID]chan struct{}
	destroyed map[layout.PtyID]bool
	suspended map[layout.PtyID]bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		exitChans: make(map[layout.PtyID]chan struct{}),
		destroyed: make(map[layout.PtyID]bool),
		suspended: make(map[layout.PtyID]bool),
	}
}

func (f *fakeLauncher) Spawn(cols, colsPx, rows, rowsPx int, cwd string) (layout.PtyID, <-chan struct{}, error) {
	f.next++
	ch := make(chan struct{})
	f.exitChans[f.next] = ch
	return f.next, ch, nil
}

func (f *fakeLauncher) Suspend(pty layout.PtyID) { f.suspended[pty] = true }
func (f *fakeLauncher) Resume(pty layout.PtyID) error {
	f.suspended[pty] = false
	return nil
}
func (f *fakeLauncher) Destroy(pty layout.PtyID) { f.destroyed[pty] = true }

func newTestManager(t *testing.T) (*Manager, *fakeLauncher) {
	t.Helper()
	dir := t.TempDir()
	idx, err := store.Open(dir + "/sessions.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	launch := newFakeLauncher()
	m := NewManager(dir, idx, launch, CellMetrics{CellWidthPx: 8, CellHeightPx: 16})
	m.now = func() time.Time { return time.Unix(1000, 0) }
	return m, launch
}

func TestPtyExitClosesPaneEvenAfterMapCleared(t *testing.T) {
	m, launch := newTestManager(t)
	id, err := m.Create("work", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pty, err := m.NewPaneWithPty(id, layout.PaneID(1), 80, 24, "")
	if err != nil {
		t.Fatalf("new pane with pty: %v", err)
	}

	var closed []layout.PaneID
	m.SetHandlers(func(p layout.PaneID) { closed = append(closed, p) }, nil, nil)

	// Simulate the map already being cleared before exit fires.
	delete(m.ptyToPane, pty)
	m.ptyToSession[pty] = sessionPane{session: id, pane: layout.PaneID(1)}

	m.HandlePtyExit(pty)

	if len(closed) != 1 || closed[0] != layout.PaneID(1) {
		t.Fatalf("expected pane 1 closed via the session fallback map, got %v", closed)
	}
	if _, stillThere := m.ptyToSession[pty]; stillThere {
		t.Fatalf("expected ptyToSession entry cleared")
	}
	_ = launch
}

func TestSwitchSuspendsThenResumes(t *testing.T) {
	m, launch := newTestManager(t)
	first, _ := m.Create("first", false)
	second, _ := m.Create("second", false)

	pty, err := m.NewPaneWithPty(first, layout.PaneID(1), 80, 24, "")
	if err != nil {
		t.Fatalf("new pane: %v", err)
	}
	m.active = first

	if err := m.saveSession(first, map[layout.WorkspaceID]*layout.Workspace{}, 1, nil); err != nil {
		t.Fatalf("presave: %v", err)
	}
	if err := writeSessionFile(m.sessionDir(second), Data{
		Metadata:   Metadata{ID: second, Name: "second"},
		Workspaces: map[string]*layout.Workspace{},
		CwdMap:     map[string]string{},
	}); err != nil {
		t.Fatalf("presave second: %v", err)
	}

	var loaded bool
	m.SetHandlers(nil, func(d Data, allowPrune bool) { loaded = true }, nil)

	if err := m.Switch(second, map[layout.WorkspaceID]*layout.Workspace{}, 1, func(layout.PaneID) string { return "" }); err != nil {
		t.Fatalf("switch: %v", err)
	}

	if !launch.suspended[pty] {
		t.Fatalf("expected pty from the prior session to be suspended, not destroyed")
	}
	if launch.destroyed[pty] {
		t.Fatalf("switch must never destroy PTYs (spec.md §4.G: suspend, not destroy)")
	}
	if !loaded {
		t.Fatalf("expected onSessionLoad to fire")
	}
	if m.Active() != second {
		t.Fatalf("expected active session to be %q, got %q", second, m.Active())
	}

	if err := m.Switch(first, map[layout.WorkspaceID]*layout.Workspace{}, 1, func(layout.PaneID) string { return "" }); err != nil {
		t.Fatalf("switch back: %v", err)
	}
	if launch.suspended[pty] {
		t.Fatalf("expected pty to be resumed on switching back to its session")
	}
}

func TestDeleteLastSessionCreatesEmptyReplacement(t *testing.T) {
	m, launch := newTestManager(t)
	id, _ := m.Create("only", false)
	pty, _ := m.NewPaneWithPty(id, layout.PaneID(1), 80, 24, "")

	if err := writeSessionFile(m.sessionDir(id), Data{
		Metadata:   Metadata{ID: id, Name: "only"},
		Workspaces: map[string]*layout.Workspace{},
		CwdMap:     map[string]string{},
	}); err != nil {
		t.Fatalf("presave: %v", err)
	}
	m.active = id

	var prunedFlag bool
	var sawLoad bool
	m.SetHandlers(nil, func(d Data, allowPrune bool) { sawLoad = true; prunedFlag = allowPrune }, nil)

	if err := m.Delete(id, func() string { return "empty" }); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if !launch.destroyed[pty] {
		t.Fatalf("expected the deleted session's ptys to be destroyed")
	}
	if !sawLoad {
		t.Fatalf("expected a replacement session to be created and loaded")
	}
	if prunedFlag {
		t.Fatalf("expected allow_prune=false when hydrating the empty replacement")
	}
	if m.Active() == id {
		t.Fatalf("expected the active session to move off the deleted one")
	}
}

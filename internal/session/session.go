// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/session/session.go
// Summary: Session/PTY lifecycle (spec.md §4.G): pane<->PTY maps, PTY
// exit/destroy handling, and the session switch/delete state machine.
// Usage: One Manager per process, constructed with a PtyLauncher and
// a persistence Root; the host loop calls NewPaneWithPty,
// HandlePtyExit, and Switch/Delete in response to user/control-socket
// commands.
// Notes: Grounded on the teacher's subscribe-before-act ordering in
// texel/desktop.go (pane lifecycle) and on getstackit-planq's
// internal/state for the JSON-blob-per-entity persistence shape,
// narrowed to one JSON tree (metadata/workspaces/cwd_map) per session
// directory per spec.md §6.

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openmux/openmux/internal/layout"
	"github.com/openmux/openmux/internal/session/store"
)

// ID identifies a session.
type ID string

// Metadata is a session's index-adjacent identity, also persisted
// into the per-session JSON blob for standalone recovery.
type Metadata struct {
	ID             ID        `json:"id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	LastSwitchedAt time.Time `json:"last_switched_at"`
	AutoNamed      bool      `json:"auto_named"`
}

// Data is the full on-disk session payload (spec.md §6: "metadata
// JSON, a workspaces JSON tree... and a cwd map JSON").
type Data struct {
	Metadata          Metadata                        `json:"metadata"`
	Workspaces        map[string]*layout.Workspace     `json:"workspaces"`
	ActiveWorkspaceID layout.WorkspaceID               `json:"active_workspace_id"`
	CwdMap            map[string]string                `json:"cwd_map"` // pane id (string) -> path
}

// PtyLauncher spawns and tears down PTYs for panes; satisfied by
// internal/pty in production and a fake in tests.
type PtyLauncher interface {
	Spawn(cols, colsPx, rows, rowsPx int, cwd string) (layout.PtyID, <-chan struct{}, error)
	Suspend(pty layout.PtyID)
	Resume(pty layout.PtyID) error
	Destroy(pty layout.PtyID)
}

// CellMetrics carries the pixel-per-cell conversion used when
// spawning a PTY (spec.md §4.G: "pixel_width = cols * cell_width_px").
type CellMetrics struct {
	CellWidthPx  int
	CellHeightPx int
}

// Manager owns the pane<->PTY maps and the session lifecycle.
type Manager struct {
	root    string // directory containing one subdirectory per session
	index   *store.Store
	launch  PtyLauncher
	cells   CellMetrics
	now     func() time.Time

	active ID

	ptyToPane     map[layout.PtyID]layout.PaneID
	sessionPtyMap map[ID]map[layout.PaneID]layout.PtyID
	ptyToSession  map[layout.PtyID]sessionPane

	switching bool

	onPaneClose    func(paneID layout.PaneID)
	onSessionLoad  func(data Data, allowPrune bool)
	contentSubscribe func(pty layout.PtyID)
}

type sessionPane struct {
	session ID
	pane    layout.PaneID
}

// NewManager constructs a Manager rooted at a session directory tree
// and backed by idx for the name/id index.
func NewManager(root string, idx *store.Store, launch PtyLauncher, cells CellMetrics) *Manager {
	return &Manager{
		root:          root,
		index:         idx,
		launch:        launch,
		cells:         cells,
		now:           time.Now,
		ptyToPane:     make(map[layout.PtyID]layout.PaneID),
		sessionPtyMap: make(map[ID]map[layout.PaneID]layout.PtyID),
		ptyToSession:  make(map[layout.PtyID]sessionPane),
	}
}

// SetHandlers installs the host loop's callbacks for pane close,
// session load, and deferred content subscription.
func (m *Manager) SetHandlers(onPaneClose func(layout.PaneID), onSessionLoad func(Data, bool), contentSubscribe func(layout.PtyID)) {
	m.onPaneClose = onPaneClose
	m.onSessionLoad = onSessionLoad
	m.contentSubscribe = contentSubscribe
}

func (m *Manager) sessionDir(id ID) string { return filepath.Join(m.root, string(id)) }

// Create allocates a fresh session id, records it in the index, and
// creates its on-disk directory. autoNamed marks a system-chosen name
// (e.g. "session-3") as opposed to a user-supplied one.
func (m *Manager) Create(name string, autoNamed bool) (ID, error) {
	id := ID(uuid.NewString())
	now := m.now()
	if err := m.index.Create(string(id), name, autoNamed, now); err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.sessionDir(id), 0755); err != nil {
		return "", fmt.Errorf("session: create directory for %q: %w", name, err)
	}
	m.sessionPtyMap[id] = make(map[layout.PaneID]layout.PtyID)
	return id, nil
}

// ShouldPersist reports whether the active session's current state
// should be saved before a switch/quit (spec.md §4.G step 2) — false
// only when there is no active session yet.
func (m *Manager) ShouldPersist() bool { return m.active != "" }

// Save writes the current workspace/cwd snapshot for the active
// session to disk (spec.md §4.G "save_current_session").
func (m *Manager) Save(workspaces map[layout.WorkspaceID]*layout.Workspace, activeWorkspaceID layout.WorkspaceID, getCwd func(layout.PaneID) string) error {
	if m.active == "" {
		return nil
	}
	return m.saveSession(m.active, workspaces, activeWorkspaceID, getCwd)
}

func (m *Manager) saveSession(id ID, workspaces map[layout.WorkspaceID]*layout.Workspace, activeWorkspaceID layout.WorkspaceID, getCwd func(layout.PaneID) string) error {
	entry, ok, err := m.index.ByID(string(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session: save: %w", store.ErrNotFound)
	}

	byName := make(map[string]*layout.Workspace, len(workspaces))
	for wid, ws := range workspaces {
		byName[strconv.FormatInt(int64(wid), 10)] = ws
	}

	cwdMap := make(map[string]string)
	if getCwd != nil {
		for _, ws := range workspaces {
			for _, roots := range [][]*layout.Node{{ws.MainPane}, ws.StackPanes} {
				for _, root := range roots {
					if root == nil {
						continue
					}
					for _, n := range layout.CollectPanes(root) {
						if n.Pane == nil {
							continue
						}
						if cwd := getCwd(n.Pane.ID); cwd != "" {
							cwdMap[strconv.FormatInt(int64(n.Pane.ID), 10)] = cwd
						}
					}
				}
			}
		}
	}

	data := Data{
		Metadata: Metadata{
			ID: id, Name: entry.Name, CreatedAt: entry.CreatedAt,
			LastSwitchedAt: entry.LastSwitchedAt, AutoNamed: entry.AutoNamed,
		},
		Workspaces:        byName,
		ActiveWorkspaceID: activeWorkspaceID,
		CwdMap:            cwdMap,
	}

	return writeSessionFile(m.sessionDir(id), data)
}

func writeSessionFile(dir string, data Data) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("session: save: create directory: %w", err)
	}
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("session: save: marshal: %w", err)
	}
	path := filepath.Join(dir, "session.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("session: save: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session: save: rename: %w", err)
	}
	return nil
}

// Load reads and parses a session's on-disk blob. Workspace and
// cwd_map keys stay strings as stored; Load does not touch the layout
// id counters.
func Load(dir string) (Data, error) {
	path := filepath.Join(dir, "session.json")
	blob, err := os.ReadFile(path)
	if err != nil {
		return Data{}, fmt.Errorf("session: load %s: %w", path, err)
	}
	var data Data
	if err := json.Unmarshal(blob, &data); err != nil {
		return Data{}, fmt.Errorf("session: load %s: parse: %w", path, err)
	}
	return data, nil
}

// NewPaneWithPty creates a session PTY for pane, deferring the
// content subscription to a macrotask so the first frame isn't
// blocked on it (spec.md §4.G): exit subscription is wired
// synchronously (by the caller's launch.Spawn contract returning the
// exit channel up front) so a PTY that exits immediately cannot be
// missed.
func (m *Manager) NewPaneWithPty(id ID, pane layout.PaneID, cols, rows int, cwd string) (layout.PtyID, error) {
	pxW := cols * m.cells.CellWidthPx
	pxH := rows * m.cells.CellHeightPx

	pty, exitCh, err := m.launch.Spawn(cols, pxW, rows, pxH, cwd)
	if err != nil {
		return 0, fmt.Errorf("session: spawn pty for pane %d: %w", pane, err)
	}

	m.ptyToPane[pty] = pane
	if m.sessionPtyMap[id] == nil {
		m.sessionPtyMap[id] = make(map[layout.PaneID]layout.PtyID)
	}
	m.sessionPtyMap[id][pane] = pty
	m.ptyToSession[pty] = sessionPane{session: id, pane: pane}

	go func() {
		<-exitCh
		m.HandlePtyExit(pty)
	}()

	if m.contentSubscribe != nil {
		deferToMacrotask(func() { m.contentSubscribe(pty) })
	}

	return pty, nil
}

// deferToMacrotask schedules fn after the current tick; grounded on
// the teacher's refreshChan-based deferral in texel/screen.go, here
// expressed as a new goroutine so fn runs without blocking the caller.
func deferToMacrotask(fn func()) {
	go func() {
		fn()
	}()
}

// HandlePtyExit implements spec.md §4.G's PTY exit handling: resolve
// the pane (closing it even if the map entry is already gone), clear
// caches, and never call destroy — the underlying process already
// exited.
func (m *Manager) HandlePtyExit(pty layout.PtyID) {
	paneID, ok := m.ptyToPane[pty]
	sp := m.ptyToSession[pty]

	delete(m.ptyToPane, pty)
	delete(m.ptyToSession, pty)
	if sp.session != "" {
		if panes := m.sessionPtyMap[sp.session]; panes != nil {
			delete(panes, sp.pane)
		}
	}

	if !ok {
		paneID = sp.pane
	}
	if m.onPaneClose != nil {
		m.onPaneClose(paneID)
	}
}

// HandleSessionDestroyed is the session-destroyed handler: it does
// exactly what HandlePtyExit does and never destroys the PTY a second
// time. The Manager holds no content-subscription handle, so nothing
// is unsubscribed here.
func (m *Manager) HandleSessionDestroyed(pty layout.PtyID) {
	m.HandlePtyExit(pty)
}

// Switch implements spec.md §4.G's session switch state machine.
func (m *Manager) Switch(target ID, workspaces map[layout.WorkspaceID]*layout.Workspace, activeWorkspaceID layout.WorkspaceID, getCwd func(layout.PaneID) string) error {
	m.switching = true
	defer func() { m.switching = false }()

	if m.ShouldPersist() {
		if err := m.Save(workspaces, activeWorkspaceID, getCwd); err != nil {
			return fmt.Errorf("session: switch: save current: %w", err)
		}
		m.suspendPtys(m.active)
	}

	data, err := Load(m.sessionDir(target))
	if err != nil {
		return fmt.Errorf("session: switch: load %q: %w", target, err)
	}

	m.active = target
	if err := m.index.TouchSwitched(string(target), m.now()); err != nil {
		return err
	}
	m.resumePtys(target)

	if m.onSessionLoad != nil {
		m.onSessionLoad(data, true)
	}
	return nil
}

func (m *Manager) suspendPtys(id ID) {
	if m.launch == nil {
		return
	}
	for _, pty := range m.sessionPtyMap[id] {
		m.launch.Suspend(pty)
	}
}

func (m *Manager) resumePtys(id ID) {
	if m.launch == nil {
		return
	}
	for _, pty := range m.sessionPtyMap[id] {
		if err := m.launch.Resume(pty); err != nil {
			// A PTY that cannot resume is treated as already gone;
			// the next render tick will surface its exit normally.
			continue
		}
	}
}

// Delete implements spec.md §4.G's session delete: never saves the
// deleted session, always calls the before-switch suspend hook, and
// if it was the last session, creates and loads a fresh empty one
// with allow_prune=false.
func (m *Manager) Delete(target ID, makeEmptyName func() string) error {
	m.suspendPtys(target)
	for _, pty := range m.sessionPtyMap[target] {
		m.launch.Destroy(pty)
	}
	delete(m.sessionPtyMap, target)

	if err := m.index.Delete(string(target)); err != nil {
		return fmt.Errorf("session: delete %q: %w", target, err)
	}
	if err := os.RemoveAll(m.sessionDir(target)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete %q: remove directory: %w", target, err)
	}

	remaining, err := m.index.List()
	if err != nil {
		return err
	}

	if target == m.active {
		m.active = ""
	}

	if len(remaining) == 0 {
		name := "session-1"
		if makeEmptyName != nil {
			name = makeEmptyName()
		}
		id, err := m.Create(name, true)
		if err != nil {
			return err
		}
		if err := writeSessionFile(m.sessionDir(id), Data{
			Metadata:   Metadata{ID: id, Name: name, CreatedAt: m.now(), LastSwitchedAt: m.now(), AutoNamed: true},
			Workspaces: map[string]*layout.Workspace{},
			CwdMap:     map[string]string{},
		}); err != nil {
			return err
		}
		m.active = id
		if err := m.index.TouchSwitched(string(id), m.now()); err != nil {
			return err
		}
		if m.onSessionLoad != nil {
			data, err := Load(m.sessionDir(id))
			if err != nil {
				return err
			}
			m.onSessionLoad(data, false)
		}
	}

	return nil
}

// Switching reports whether a switch is in progress, consulted by the
// UI to suppress the "No panes" empty-state flash (spec.md §4.G).
func (m *Manager) Switching() bool { return m.switching }

// Active returns the currently active session id.
func (m *Manager) Active() ID { return m.active }

// PaneForPty resolves the pane bound to a pty, if any.
func (m *Manager) PaneForPty(pty layout.PtyID) (layout.PaneID, bool) {
	p, ok := m.ptyToPane[pty]
	return p, ok
}

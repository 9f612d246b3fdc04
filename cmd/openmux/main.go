// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/openmux/main.go
// Summary: Attach-mode host process: owns the host TTY, the layout
// reducer, the session manager, and the Kitty broker/renderer
// pipeline, and serves the control socket.
// Usage: `openmux [--session <name>]` — run directly inside a
// terminal; cmd/omux talks to this process over the control socket.
// Notes: Grounded on cmd/texelation/main.go's flag-based entry point
// and texel/driver_tcell.go's tcell.Screen wiring, adapted from the
// texelation client/server split to a single attach-mode process per
// spec.md §6's CLI surface.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/term"

	"github.com/openmux/openmux/internal/config"
	"github.com/openmux/openmux/internal/control"
	"github.com/openmux/openmux/internal/geom"
	"github.com/openmux/openmux/internal/kitty/broker"
	"github.com/openmux/openmux/internal/kitty/relay"
	"github.com/openmux/openmux/internal/kitty/render"
	"github.com/openmux/openmux/internal/layout"
	"github.com/openmux/openmux/internal/pty"
	"github.com/openmux/openmux/internal/session"
	"github.com/openmux/openmux/internal/session/store"
	"github.com/openmux/openmux/internal/visibility"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "openmux: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("openmux", flag.ContinueOnError)
	sessionName := fs.String("session", "", "session name to attach to (created if absent)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()

	h, err := newHost(cfg, screen)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.attach(*sessionName); err != nil {
		return err
	}

	// tcell only reports a size on the first EventResize; query it
	// up front so the very first Flush has a real viewport instead of
	// a zero rectangle, the way the teacher seeds its terminal size
	// before the event loop starts (texel/desktop.go).
	if w, ht, err := term.GetSize(int(os.Stdin.Fd())); err == nil && w > 0 && ht > 0 {
		h.layout = layout.Reduce(h.layout, layout.Action{
			Kind: layout.ActionSetViewport,
			Rect: geom.Rect{W: w, H: ht},
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	socketAddr := cfg.Control.SocketPath
	if socketAddr == "" {
		socketAddr = control.SocketPath()
	}
	ctrl := control.NewServer(socketAddr, h.handleControl)
	if err := ctrl.Start(); err != nil {
		log.Printf("openmux: control socket unavailable: %v", err)
	} else {
		defer ctrl.Stop()
	}

	return h.eventLoop(sigCh)
}

// host bundles every process-wide singleton the render pipeline and
// session lifecycle depend on (spec.md §9: "explicit context handles
// threaded through the render pipeline, not mutable globals").
type host struct {
	cfg      *config.Config
	screen   tcell.Screen
	layout   *layout.LayoutState
	sessions *session.Manager
	index    *store.Store
	launcher *pty.Launcher
	vis      *visibility.Registry
	broker   *broker.Broker
	relay    *relay.Relay
	render   *render.Renderer
	views    map[layout.PaneID]struct{}
	quit     chan struct{}
}

func newHost(cfg *config.Config, screen tcell.Screen) (*host, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}

	idx, err := store.Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}

	launcher := pty.NewLauncher()
	cells := geom.CellMetrics{CellWidthPx: 9, CellHeightPx: 18}

	cleanupDelay := time.Duration(cfg.Kitty.OffloadCleanupMS) * time.Millisecond
	sink := relay.NewFileSink(os.TempDir(), cleanupDelay)
	b := broker.New(sink)
	if tty, ok := screen.Tty(); ok {
		b.SetWriter(func(p []byte) (int, error) { return tty.Write(p) })
	}

	r := relay.New(relay.Config{
		OffloadThreshold: cfg.Kitty.OffloadThresholdBytes,
		CleanupDelay:     cleanupDelay,
		StubAllFormats:   cfg.Kitty.StubAllFormats,
		StubPNG:          true,
	}, sink)

	rend := render.New(b, cells)
	vis := visibility.NewRegistry(nil)
	mgr := session.NewManager(filepath.Join(dir, "sessions"), idx, launcher, session.CellMetrics(cells))

	h := &host{
		cfg:      cfg,
		screen:   screen,
		layout:   layout.NewLayoutState(),
		sessions: mgr,
		index:    idx,
		launcher: launcher,
		vis:      vis,
		broker:   b,
		relay:    r,
		render:   rend,
		views:    make(map[layout.PaneID]struct{}),
		quit:     make(chan struct{}),
	}

	mgr.SetHandlers(h.onPaneClose, h.onSessionLoad, h.onContentSubscribe)
	return h, nil
}

func dataDir() (string, error) {
	if d := os.Getenv("OPENMUX_DATA_DIR"); d != "" {
		return d, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	return filepath.Join(dir, "openmux"), nil
}

// attach switches into the named session, creating it on first use.
func (h *host) attach(name string) error {
	if name == "" {
		name = "default"
	}
	entry, ok, err := h.index.ByName(name)
	if err != nil {
		return fmt.Errorf("look up session %q: %w", name, err)
	}
	if !ok {
		id, err := h.sessions.Create(name, name == "default")
		if err != nil {
			return fmt.Errorf("create session %q: %w", name, err)
		}
		entry = store.Entry{ID: string(id)}
	}
	return h.sessions.Switch(session.ID(entry.ID), h.layout.Workspaces, h.layout.ActiveWorkspaceID, h.cwdOf)
}

func (h *host) cwdOf(layout.PaneID) string { return "" }

func (h *host) onPaneClose(id layout.PaneID) {
	h.render.RemovePane(id)
	delete(h.views, id)
}

func (h *host) onSessionLoad(data session.Data, allowPrune bool) {
	workspaces := make(map[layout.WorkspaceID]*layout.Workspace, len(data.Workspaces))
	for key, ws := range data.Workspaces {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.Printf("openmux: skipping malformed workspace id %q: %v", key, err)
			continue
		}
		workspaces[layout.WorkspaceID(id)] = ws
	}
	h.layout.Workspaces = workspaces
	h.layout.ActiveWorkspaceID = data.ActiveWorkspaceID
	// allowPrune is false when Manager.Delete hydrates the fresh empty
	// replacement session, so that no workspace is pruned during that
	// load. This host never prunes workspaces on load, so it is unused.
	_ = allowPrune
	h.render.Flush()
	h.screen.Sync()
}

func (h *host) onContentSubscribe(pty layout.PtyID) {
	h.vis.RegisterVisible(pty, nil)
}

func (h *host) Close() {
	close(h.quit)
	_ = h.sessions.Save(h.layout.Workspaces, h.layout.ActiveWorkspaceID, h.cwdOf)
	h.index.Close()
}

// handleControl dispatches one control.Request to the host's live
// state, implementing the command surface in spec.md §6. pane.capture
// is the one command this host cannot execute: see DESIGN.md's
// cmd/openmux entry for why (no production emulator.Emulator is ever
// constructed here, only the interface + its test fake, per the
// VT-parsing Non-goal).
func (h *host) handleControl(req control.Request) control.Response {
	switch req.Command {
	case "session.list":
		return h.handleSessionList()
	case "session.create":
		return h.handleSessionCreate(req.Args)
	case "session.rename":
		return h.handleSessionRename(req.Args)
	case "session.delete":
		return h.handleSessionDelete(req.Args)
	case "pane.split":
		return h.handlePaneSplit(req.Args)
	case "pane.send":
		return h.handlePaneSend(req.Args)
	case "pane.capture":
		return control.Response{Code: control.ExitBadArgs, Error: "pane.capture: no live terminal emulator is wired host-side (see DESIGN.md)"}
	default:
		return control.Response{Code: control.ExitBadArgs, Error: "unknown command: " + req.Command}
	}
}

func (h *host) handleSessionList() control.Response {
	entries, err := h.index.List()
	if err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	result := control.SessionListResult{}
	for _, e := range entries {
		result.Sessions = append(result.Sessions, control.SessionInfo{
			ID:             e.ID,
			Name:           e.Name,
			CreatedAt:      e.CreatedAt.Unix(),
			LastSwitchedAt: e.LastSwitchedAt.Unix(),
			AutoNamed:      e.AutoNamed,
		})
	}
	return okResult(result)
}

func (h *host) handleSessionCreate(raw json.RawMessage) control.Response {
	var args control.SessionCreateArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Name == "" {
		return control.Response{Code: control.ExitBadArgs, Error: "session.create: missing name"}
	}
	if _, err := h.sessions.Create(args.Name, false); err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	return okResult(struct{}{})
}

func (h *host) handleSessionRename(raw json.RawMessage) control.Response {
	var args control.SessionRenameArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.From == "" || args.To == "" {
		return control.Response{Code: control.ExitBadArgs, Error: "session.rename: missing from/to"}
	}
	entry, ok, err := h.index.ByName(args.From)
	if err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	if !ok {
		return control.Response{Code: control.ExitNotFound, Error: "session.rename: no such session: " + args.From}
	}
	if err := h.index.Rename(entry.ID, args.To); err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	return okResult(struct{}{})
}

func (h *host) handleSessionDelete(raw json.RawMessage) control.Response {
	var args control.SessionDeleteArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Name == "" {
		return control.Response{Code: control.ExitBadArgs, Error: "session.delete: missing name"}
	}
	entry, ok, err := h.index.ByName(args.Name)
	if err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	if !ok {
		return control.Response{Code: control.ExitNotFound, Error: "session.delete: no such session: " + args.Name}
	}
	makeEmptyName := func() string { return fmt.Sprintf("session-%d", time.Now().Unix()) }
	if err := h.sessions.Delete(session.ID(entry.ID), makeEmptyName); err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	h.render.Flush()
	h.screen.Sync()
	return okResult(struct{}{})
}

// handlePaneSplit resolves the selector, focuses that pane so
// doSplitPane operates on it, reduces the split, and gives the new
// leaf its own PTY sized to the rectangle the reducer just assigned
// it (spec.md §4.G's "pixel_width = cols * cell_width_px").
func (h *host) handlePaneSplit(raw json.RawMessage) control.Response {
	var args control.PaneSplitArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return control.Response{Code: control.ExitBadArgs, Error: "pane.split: bad args"}
	}
	dir := layout.Vertical
	if args.Direction == "horizontal" {
		dir = layout.Horizontal
	}

	target, resp, ok := h.resolvePane(args.Pane)
	if !ok {
		return resp
	}
	h.layout = layout.Reduce(h.layout, layout.Action{Kind: layout.ActionFocusPane, PaneID: target})
	h.layout = layout.Reduce(h.layout, layout.Action{Kind: layout.ActionSplitPane, SplitDir: dir})

	ws, ok := h.layout.Workspaces[h.layout.ActiveWorkspaceID]
	if !ok || ws.FocusedPaneID == nil {
		return control.Response{Code: control.ExitTransport, Error: "pane.split: no focused pane after split"}
	}
	newID := *ws.FocusedPaneID
	node := h.paneNode(newID)
	if node == nil || node.Pane == nil || node.Pane.Rect == nil {
		return control.Response{Code: control.ExitTransport, Error: "pane.split: new pane has no rectangle"}
	}
	rect := *node.Pane.Rect

	pty, err := h.sessions.NewPaneWithPty(h.sessions.Active(), newID, rect.W, rect.H, h.cwdOf(newID))
	if err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	h.layout = layout.Reduce(h.layout, layout.Action{Kind: layout.ActionSetPanePty, PaneID: newID, PtyID: &pty})

	h.render.Flush()
	h.screen.Sync()
	return okResult(struct{}{})
}

func (h *host) handlePaneSend(raw json.RawMessage) control.Response {
	var args control.PaneSendArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return control.Response{Code: control.ExitBadArgs, Error: "pane.send: bad args"}
	}
	target, resp, ok := h.resolvePane(args.Pane)
	if !ok {
		return resp
	}
	node := h.paneNode(target)
	if node == nil || node.Pane == nil || node.Pane.PtyID == nil {
		return control.Response{Code: control.ExitNotFound, Error: "pane.send: pane has no pty"}
	}
	f := h.launcher.File(*node.Pane.PtyID)
	if f == nil {
		return control.Response{Code: control.ExitNotFound, Error: "pane.send: pty not found"}
	}
	if _, err := f.Write([]byte(args.Text)); err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	return okResult(struct{}{})
}

// resolvePane parses and resolves a selector string against the
// active workspace, translating control.ErrNotFound into the exit
// code spec.md §6 assigns it.
func (h *host) resolvePane(selector string) (layout.PaneID, control.Response, bool) {
	sel, err := control.ParseSelector(selector)
	if err != nil {
		return 0, control.Response{Code: control.ExitNotFound, Error: err.Error()}, false
	}
	id, err := control.Resolve(h.layout, sel)
	if err != nil {
		return 0, control.Response{Code: control.ExitNotFound, Error: err.Error()}, false
	}
	return id, control.Response{}, true
}

// paneNode finds id's node in the active workspace.
func (h *host) paneNode(id layout.PaneID) *layout.Node {
	ws, ok := h.layout.Workspaces[h.layout.ActiveWorkspaceID]
	if !ok {
		return nil
	}
	roots := ws.StackPanes
	if ws.MainPane != nil {
		roots = append([]*layout.Node{ws.MainPane}, roots...)
	}
	for _, root := range roots {
		if n := layout.FindPane(root, id); n != nil {
			return n
		}
	}
	return nil
}

func okResult(v interface{}) control.Response {
	blob, err := json.Marshal(v)
	if err != nil {
		return control.Response{Code: control.ExitTransport, Error: err.Error()}
	}
	return control.Response{OK: true, Result: blob}
}

func (h *host) eventLoop(sigCh chan os.Signal) error {
	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := h.screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	for {
		select {
		case <-sigCh:
			return nil
		case <-h.quit:
			return nil
		case ev := <-events:
			h.handleEvent(ev)
		}
	}
}

func (h *host) handleEvent(ev tcell.Event) {
	switch e := ev.(type) {
	case *tcell.EventResize:
		w, ht := e.Size()
		h.layout = layout.Reduce(h.layout, layout.Action{
			Kind: layout.ActionSetViewport,
			Rect: geom.Rect{W: w, H: ht},
		})
		h.render.Flush()
		h.screen.Sync()
	case *tcell.EventKey:
		if e.Key() == tcell.KeyCtrlC {
			close(h.quit)
		}
	}
}

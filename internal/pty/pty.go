// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/pty/pty.go
// Summary: PTY spawn/resize wrapper satisfying session.PtyLauncher,
// grounded on creack/pty.
// Usage: One Launcher per process, shared by every session's PTYs.
// Notes: Grounded directly on apps/texelterm/term.go's startPTY
// (pty.StartWithSize with a pty.Winsize) and its cmd.Wait-driven exit
// detection in runPtyReaderLoop, generalized from a single-shell app
// to a per-pane PTY registry keyed by layout.PtyID.

package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	creackpty "github.com/creack/pty"

	"github.com/openmux/openmux/internal/layout"
)

// Shell resolves the command to run for a new PTY; overridable for
// tests, defaults to $SHELL.
var Shell = func() *exec.Cmd {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return exec.Command(shell)
}

type handle struct {
	cmd     *exec.Cmd
	file    *os.File
	exitCh  chan struct{}
	suspended bool
}

// Launcher spawns and manages PTYs, grouped by layout.PtyID.
type Launcher struct {
	mu      sync.Mutex
	next    layout.PtyID
	handles map[layout.PtyID]*handle
}

// NewLauncher creates an empty PTY launcher.
func NewLauncher() *Launcher {
	return &Launcher{handles: make(map[layout.PtyID]*handle)}
}

// Spawn starts a new shell PTY sized to cols x rows (pxW/pxH carried
// through to the Winsize, per spec.md §4.G's pixel_width/pixel_height
// fields) in cwd, returning its id and a channel closed on exit.
func (l *Launcher) Spawn(cols, pxW, rows, pxH int, cwd string) (layout.PtyID, <-chan struct{}, error) {
	cmd := Shell()
	if cwd != "" {
		cmd.Dir = cwd
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Rows: uint16(rows), Cols: uint16(cols), X: uint16(pxW), Y: uint16(pxH),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("pty: start: %w", err)
	}

	l.mu.Lock()
	l.next++
	id := l.next
	h := &handle{cmd: cmd, file: ptmx, exitCh: make(chan struct{})}
	l.handles[id] = h
	l.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		ptmx.Close()
		close(h.exitCh)
	}()

	return id, h.exitCh, nil
}

// File returns the underlying PTY file for reading/writing, or nil if
// the pty is unknown.
func (l *Launcher) File(id layout.PtyID) *os.File {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.handles[id]; ok {
		return h.file
	}
	return nil
}

// Resize applies a new cell/pixel size to a running PTY.
func (l *Launcher) Resize(id layout.PtyID, cols, pxW, rows, pxH int) error {
	l.mu.Lock()
	h, ok := l.handles[id]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("pty: resize: unknown pty %d", id)
	}
	return creackpty.Setsize(h.file, &creackpty.Winsize{
		Rows: uint16(rows), Cols: uint16(cols), X: uint16(pxW), Y: uint16(pxH),
	})
}

// Suspend marks a PTY suspended across a session switch (spec.md
// §4.G: "suspend — not destroy — its PTYs"). The process keeps
// running; only read-loop consumption is expected to pause, which is
// the caller's responsibility via visibility.Registry.
func (l *Launcher) Suspend(id layout.PtyID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.handles[id]; ok {
		h.suspended = true
	}
}

// Resume un-suspends a PTY on switch-back.
func (l *Launcher) Resume(id layout.PtyID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[id]
	if !ok {
		return fmt.Errorf("pty: resume: unknown pty %d", id)
	}
	h.suspended = false
	return nil
}

// Destroy terminates the PTY's process and releases its handle.
func (l *Launcher) Destroy(id layout.PtyID) {
	l.mu.Lock()
	h, ok := l.handles[id]
	delete(l.handles, id)
	l.mu.Unlock()
	if !ok {
		return
	}
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

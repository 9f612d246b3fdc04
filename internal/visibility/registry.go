// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/visibility/registry.go
// Summary: Reference-counted on/off switch per PTY driving the
// emulator update-gate.
// Usage: Owned by the render/UI control task; touched only between
// suspension points (spec.md §5), so no internal locking is needed.
// Notes: Grounded on the teacher's single-threaded ownership model
// (texel/workspace.go, texel/desktop.go run entirely on one goroutine
// driven by a dispatcher loop); the emulator interface is the one
// from internal/emulator.

package visibility

import (
	"log"

	"github.com/openmux/openmux/internal/emulator"
	"github.com/openmux/openmux/internal/layout"
)

// Bridge streams asynchronous update deltas for a PTY; Registry
// enables/disables it alongside the emulator itself so both stop
// producing work for an invisible pane.
type Bridge interface {
	SetUpdateEnabled(pty layout.PtyID, enabled bool)
}

// Registry tracks how many live view subscriptions reference each
// PTY.
type Registry struct {
	bridge Bridge
	counts map[layout.PtyID]uint32
}

// NewRegistry creates a registry bound to bridge, the async streaming
// side-channel that also needs to be told when a PTY stops mattering.
func NewRegistry(bridge Bridge) *Registry {
	return &Registry{
		bridge: bridge,
		counts: make(map[layout.PtyID]uint32),
	}
}

// Count returns the current reference count for pty (>= 0, per
// spec.md §8's universal invariant).
func (r *Registry) Count(pty layout.PtyID) uint32 {
	return r.counts[pty]
}

// RegisterVisible increments pty's reference count. On a 0->1
// transition it enables update streaming on both the bridge and the
// emulator directly.
func (r *Registry) RegisterVisible(pty layout.PtyID, em emulator.Emulator) {
	r.counts[pty]++
	if r.counts[pty] == 1 {
		log.Printf("visibility: pty %d became visible, enabling updates", pty)
		if r.bridge != nil {
			r.bridge.SetUpdateEnabled(pty, true)
		}
		if em != nil {
			em.SetUpdateEnabled(true)
		}
	}
}

// AttachVisibleEmulator is idempotent: if pty is already visible, it
// re-enables updates on a freshly attached emulator (e.g. after a
// reconnect) without touching the reference count.
func (r *Registry) AttachVisibleEmulator(pty layout.PtyID, em emulator.Emulator) {
	if em == nil || r.counts[pty] == 0 {
		return
	}
	em.SetUpdateEnabled(true)
}

// UnregisterVisible decrements pty's reference count. At 0 it
// disables updates on both the bridge and, if given, the emulator.
func (r *Registry) UnregisterVisible(pty layout.PtyID, em emulator.Emulator) {
	if r.counts[pty] == 0 {
		return
	}
	r.counts[pty]--
	if r.counts[pty] == 0 {
		log.Printf("visibility: pty %d no longer visible, disabling updates", pty)
		delete(r.counts, pty)
		if r.bridge != nil {
			r.bridge.SetUpdateEnabled(pty, false)
		}
		if em != nil {
			em.SetUpdateEnabled(false)
		}
	}
}

// ClearVisible forcibly drops pty's count with no disable write, used
// when the PTY is destroyed so teardown cannot race a disable call
// against an emulator that is already gone.
func (r *Registry) ClearVisible(pty layout.PtyID) {
	delete(r.counts, pty)
}

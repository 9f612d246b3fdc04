// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package broker

import (
	"testing"

	"github.com/openmux/openmux/internal/emulator"
	"github.com/openmux/openmux/internal/layout"
)

func zeroInfo() emulator.KittyImageInfo { return emulator.KittyImageInfo{} }

func TestResolveHostIDConsistentForSameIdentity(t *testing.T) {
	b := New(nil)
	pty := layout.PtyID(1)

	id1 := b.AllocateHostID(pty, "i:10")
	id2, ok := b.ResolveHostID(pty, "i:10", zeroInfo())
	if !ok || id2 != id1 {
		t.Fatalf("expected resolve to return the allocated id, got %d ok=%v (want %d)", id2, ok, id1)
	}

	// A second allocate call for the same guest key must not mint a
	// new id (first transmit wins).
	id3 := b.AllocateHostID(pty, "i:10")
	if id3 != id1 {
		t.Fatalf("expected AllocateHostID to be idempotent, got %d want %d", id3, id1)
	}
}

func TestDropMappingAllowsReallocation(t *testing.T) {
	b := New(nil)
	pty := layout.PtyID(1)
	id1 := b.AllocateHostID(pty, "i:5")
	b.DropMapping(pty, "i:5")
	if _, ok := b.ResolveHostID(pty, "i:5", zeroInfo()); ok {
		t.Fatalf("expected mapping to be gone after DropMapping")
	}
	id2 := b.AllocateHostID(pty, "i:5")
	if id2 == id1 {
		t.Fatalf("expected a fresh host id after drop+reallocate, both were %d", id1)
	}
}

func TestMappingIsPerPty(t *testing.T) {
	b := New(nil)
	idA := b.AllocateHostID(layout.PtyID(1), "i:1")
	idB := b.AllocateHostID(layout.PtyID(2), "i:1")
	if idA == idB {
		t.Fatalf("expected distinct host ids per PTY for the same guest key, got %d and %d", idA, idB)
	}
}

func TestFlushPendingDrainsQueueBeforeWriter(t *testing.T) {
	b := New(nil)
	b.DeleteImage(7) // queued: no writer installed yet

	var got [][]byte
	b.FlushPending(func(p []byte) (int, error) {
		cp := append([]byte(nil), p...)
		got = append(got, cp)
		return len(p), nil
	})
	if len(got) != 1 {
		t.Fatalf("expected exactly one flushed write, got %d", len(got))
	}
}

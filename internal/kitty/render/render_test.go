// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"testing"

	"github.com/openmux/openmux/internal/emulator"
	"github.com/openmux/openmux/internal/geom"
	"github.com/openmux/openmux/internal/kitty/broker"
	"github.com/openmux/openmux/internal/layout"
)

func newTestRenderer() (*Renderer, *broker.Broker, *captureWriter) {
	b := broker.New(nil)
	cap := &captureWriter{}
	b.SetWriter(cap.write)
	r := New(b, geom.CellMetrics{CellWidthPx: 8, CellHeightPx: 16})
	return r, b, cap
}

type captureWriter struct {
	writes []string
}

func (c *captureWriter) write(p []byte) (int, error) {
	c.writes = append(c.writes, string(p))
	return len(p), nil
}

func (c *captureWriter) containsSubstr(sub string) bool {
	for _, w := range c.writes {
		if contains(w, sub) {
			return true
		}
	}
	return false
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}

func withImage10(em *emulator.Fake) {
	em.ImageIDs = []uint32{10}
	em.Images[10] = emulator.KittyImageInfo{ID: 10, Width: 4, Height: 4, Format: emulator.FormatRGBA, DataLength: 64}
	em.ImageData[10] = make([]byte, 64)
	em.ImagesDirty = true
}

// Scenario 4: Kitty main/alt retention.
func TestMainAltRetention(t *testing.T) {
	r, _, cap := newTestRenderer()
	em := emulator.NewFake()
	withImage10(em)
	em.Placements = []emulator.KittyPlacement{
		{ImageID: 10, PlacementID: 1, ScreenX: 0, ScreenY: 0, Columns: 4, Rows: 4},
	}

	pane := layout.PaneID(1)
	pty := layout.PtyID(1)
	rect := geom.Rect{X: 0, Y: 0, W: 20, H: 20}

	r.UpdatePane(pane, PaneState{Pty: pty, Emulator: em, Rect: rect})
	r.Flush()

	if !cap.containsSubstr("a=t") {
		t.Fatalf("expected a transmit command on first flush, writes=%v", cap.writes)
	}
	if !cap.containsSubstr("a=p") {
		t.Fatalf("expected a display command on first flush, writes=%v", cap.writes)
	}
	cap.writes = nil

	// Switch to alternate screen: no placements reported by the
	// emulator this frame (teacher semantics: alt screen starts
	// blank). Expect the placement to be deleted, but no image
	// delete since the image is still tracked.
	em.ImagesDirty = false
	em.Placements = nil
	r.UpdatePane(pane, PaneState{Pty: pty, Emulator: em, Rect: rect, IsAlternateScreen: true})
	r.Flush()

	if !cap.containsSubstr("a=d,d=i") {
		t.Fatalf("expected placement delete on alt switch, writes=%v", cap.writes)
	}
	if cap.containsSubstr("d=I") {
		t.Fatalf("did not expect an image delete on alt switch, writes=%v", cap.writes)
	}
	cap.writes = nil

	// Switch back to main with the placement restored by the
	// emulator: expect a=p again with no fresh transmit (host id
	// reused).
	em.Placements = []emulator.KittyPlacement{
		{ImageID: 10, PlacementID: 1, ScreenX: 0, ScreenY: 0, Columns: 4, Rows: 4},
	}
	r.UpdatePane(pane, PaneState{Pty: pty, Emulator: em, Rect: rect, IsAlternateScreen: false})
	r.Flush()

	if !cap.containsSubstr("a=p") {
		t.Fatalf("expected a=p on switch back, writes=%v", cap.writes)
	}
	if cap.containsSubstr("a=t") {
		t.Fatalf("did not expect a fresh transmit on switch back, writes=%v", cap.writes)
	}
}

func TestDeletedImageDeletesItsPlacements(t *testing.T) {
	r, _, _ := newTestRenderer()
	em := emulator.NewFake()
	withImage10(em)
	em.Placements = []emulator.KittyPlacement{
		{ImageID: 10, PlacementID: 1, ScreenX: 0, ScreenY: 0, Columns: 2, Rows: 2},
	}
	pane := layout.PaneID(1)
	pty := layout.PtyID(1)
	rect := geom.Rect{X: 0, Y: 0, W: 10, H: 10}
	r.UpdatePane(pane, PaneState{Pty: pty, Emulator: em, Rect: rect})
	r.Flush()

	if len(r.placementsByPane[pane]) == 0 {
		t.Fatalf("expected at least one tracked placement before deletion")
	}

	em.ImageIDs = nil
	em.ImagesDirty = true
	r.UpdatePane(pane, PaneState{Pty: pty, Emulator: em, Rect: rect})
	r.Flush()

	if len(r.placementsByPane[pane]) != 0 {
		t.Fatalf("expected placements referencing the deleted image to be gone, got %v", r.placementsByPane[pane])
	}
}

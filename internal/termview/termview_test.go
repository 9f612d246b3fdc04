// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package termview

import (
	"testing"

	"github.com/openmux/openmux/internal/emulator"
)

type capBuffer struct {
	cells map[[2]int]rune
}

func newCapBuffer() *capBuffer { return &capBuffer{cells: make(map[[2]int]rune)} }

func (c *capBuffer) SetCell(x, y int, ch rune, fg, bg emulator.RGB, style emulator.StyleBits) {
	c.cells[[2]int{x, y}] = ch
}

func fullState(rows, cols int, fill rune) *emulator.TerminalState {
	st := &emulator.TerminalState{Cols: cols, Rows: rows, Cells: make([][]emulator.Cell, rows)}
	for y := 0; y < rows; y++ {
		row := make([]emulator.Cell, cols)
		for x := 0; x < cols; x++ {
			row[x] = emulator.Cell{Char: fill, Width: 1}
		}
		st.Cells[y] = row
	}
	return st
}

func TestRowFetchLiveEdge(t *testing.T) {
	v := NewView(1, nil, emulator.NewFake())
	v.ApplyFull(fullState(5, 10, 'x'), emulator.ScrollState{IsAtBottom: true})

	cells, missing := v.rowAt(2, 0, 0)
	if missing {
		t.Fatalf("did not expect missing at live edge")
	}
	if len(cells) != 10 || cells[0].Char != 'x' {
		t.Fatalf("expected live cells row, got %v", cells)
	}
}

func TestRowFetchScrollbackMissingDefersToLastStable(t *testing.T) {
	em := emulator.NewFake()
	v := NewView(1, nil, em)
	v.ApplyFull(fullState(5, 10, 'a'), emulator.ScrollState{IsAtBottom: true, ScrollbackLength: 0})

	buf := newCapBuffer()
	v.Draw(buf, 0, 0, 10, 5, emulator.RGB{}, nil)

	// Now the user scrolls back into a scrollback range the emulator
	// has not populated yet: the guard must defer to the last-stable
	// snapshot rather than flash a blank/incomplete frame.
	v.scroll = emulator.ScrollState{ViewportOffset: 3, ScrollbackLength: 50}

	buf2 := newCapBuffer()
	v.Draw(buf2, 0, 0, 10, 5, emulator.RGB{}, nil)

	if buf2.cells[[2]int{0, 0}] != 'a' {
		t.Fatalf("expected deferred render to reuse the last-stable frame, got %q", buf2.cells[[2]int{0, 0}])
	}
}

func TestRowFetchScrollbackAvailableRendersLive(t *testing.T) {
	em := emulator.NewFake()
	for i := 10; i < 15; i++ {
		em.ScrollbackLines[i] = []emulator.Cell{{Char: 'z', Width: 1}}
	}
	v := NewView(1, nil, em)
	v.ApplyFull(fullState(5, 10, 'a'), emulator.ScrollState{IsAtBottom: true, ScrollbackLength: 50})

	v.lastObservedScrollbackLength = 50
	v.lastObservedViewportOffset = 40
	v.stable = stableSnapshot{valid: true, viewportOffset: 40, scrollbackLength: 50, rows: &rowCache{rows: fullState(5, 10, 'a').Cells}}

	// absolute_y = scrollbackLength - viewportOffset + y = 50-40+0=10, populated.
	v.scroll = emulator.ScrollState{ViewportOffset: 40, ScrollbackLength: 50}

	buf := newCapBuffer()
	v.Draw(buf, 0, 0, 10, 5, emulator.RGB{}, nil)

	if buf.cells[[2]int{0, 0}] != 'z' {
		t.Fatalf("expected scrollback line to render, got %q", buf.cells[[2]int{0, 0}])
	}
}

func TestWideCellWritesContinuationMarker(t *testing.T) {
	st := fullState(2, 4, ' ')
	st.Cells[0][0] = emulator.Cell{Char: '字', Width: 2}
	v := NewView(1, nil, emulator.NewFake())
	v.ApplyFull(st, emulator.ScrollState{IsAtBottom: true})

	buf := newCapBuffer()
	v.Draw(buf, 0, 0, 4, 2, emulator.RGB{}, nil)

	if buf.cells[[2]int{0, 0}] != '字' {
		t.Fatalf("expected wide glyph at origin")
	}
	if buf.cells[[2]int{1, 0}] != 0 {
		t.Fatalf("expected continuation marker (rune 0) after a wide cell, got %q", buf.cells[[2]int{1, 0}])
	}
}

func TestComputePrefetchWindowsAroundMissingRange(t *testing.T) {
	req := computePrefetch(1, 40, 60, 500)
	if req.Start != 40-PrefetchWindow {
		t.Fatalf("expected start buffered by window, got %d", req.Start)
	}
	if req.Count != (60+PrefetchWindow)-(40-PrefetchWindow) {
		t.Fatalf("unexpected count %d", req.Count)
	}
}

func TestRequestPrefetchStashesWhileInFlight(t *testing.T) {
	v := NewView(1, nil, emulator.NewFake())
	first := make(chan struct{})
	calls := 0
	issue := func(req PrefetchRequest) <-chan struct{} {
		calls++
		return first
	}

	v.RequestPrefetch(PrefetchRequest{Start: 0, Count: 10}, issue)
	v.RequestPrefetch(PrefetchRequest{Start: 5, Count: 10}, issue)

	if calls != 1 {
		t.Fatalf("expected the second request to stash rather than issue immediately, got %d calls", calls)
	}
	v.mu.Lock()
	stashed := v.pendingPrefetch
	v.mu.Unlock()
	if stashed == nil || stashed.Start != 5 {
		t.Fatalf("expected the later request stashed as pending, got %v", stashed)
	}
	close(first)
}

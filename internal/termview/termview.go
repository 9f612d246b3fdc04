// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/termview/termview.go
// Summary: Terminal view renderer (spec.md §4.C): per-pane render
// state, row fetch/prefetch, the scrollback render guard, and cell
// drawing including the scrollbar overlay.
// Usage: One View per mounted pane; the host loop calls ApplyFull or
// ApplyDelta on each unified emulator update and Draw once per coalesced render
// tick via Scheduler.
// Notes: Grounded on the teacher's screen/pane render loop
// (texel/screen.go, texel/driver_tcell.go) for the draw-to-buffer
// shape, and on apps/texelterm/parser/viewport_scroll_manager.go for
// the scrollback-offset/live-edge model this view's guard logic
// adapts. The scrollbar overlay is grounded on
// texelui/scroll/indicators.go's glyph-painting style, generalized to
// a thumb + floating label per spec.md §4.C.

package termview

import (
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/openmux/openmux/internal/emulator"
	"github.com/openmux/openmux/internal/layout"
	"github.com/openmux/openmux/internal/visibility"
)

// PrefetchWindow is the default buffer-zone window (spec.md §4.C:
// "typically rows ± a small window, default window 32").
const PrefetchWindow = 32

// Buffer is the drawing sink a View paints into; satisfied by the
// host's screen buffer (tcell SetContent or an equivalent pane
// framebuffer).
type Buffer interface {
	SetCell(x, y int, ch rune, fg, bg emulator.RGB, style emulator.StyleBits)
}

// PtyID aliases the layout package's pty identifier type, used
// throughout this package to avoid a parallel identifier space.
type PtyID = layout.PtyID

// PrefetchRequest is the computed buffer-zone request for a batch of
// missing scrollback rows.
type PrefetchRequest struct {
	Pty   PtyID
	Start int
	Count int
}

// rowCache holds the last-rendered set of rows for a pane, keyed by
// screen row index.
type rowCache struct {
	rows [][]emulator.Cell
}

func newRowCache(rows int) *rowCache {
	return &rowCache{rows: make([][]emulator.Cell, rows)}
}

// stableSnapshot is the last known-good render state, promoted when
// the scrollback render guard is satisfied.
type stableSnapshot struct {
	viewportOffset   int
	scrollbackLength int
	rows             *rowCache
	valid            bool
}

// SelectionKind distinguishes the overlapping highlight sources that
// can override a cell's base style, in spec.md §4.C priority order.
type SelectionKind int

const (
	SelectionNone SelectionKind = iota
	SelectionOtherSearch
	SelectionCurrentSearch
	SelectionMouse
	SelectionCopyMode
	SelectionCursor
)

// Highlight is one active highlight region a View consults while
// drawing, in ascending priority (later entries win ties).
type Highlight struct {
	Kind SelectionKind
	X, Y int
	Fg, Bg emulator.RGB
	HasFg, HasBg bool
}

// View is the per-pane terminal render state described by spec.md
// §4.C.
type View struct {
	mu sync.Mutex

	pty      PtyID
	registry *visibility.Registry
	emu      emulator.Emulator

	terminal *emulator.TerminalState
	scroll   emulator.ScrollState

	cachedRows *rowCache

	lastObservedViewportOffset   int
	lastObservedScrollbackLength int

	stable stableSnapshot

	pendingPrefetch   *PrefetchRequest
	prefetchInFlight  bool

	version uint64

	focused  bool
	atBottom bool

	highlights []Highlight
}

// NewView creates the view for pty, storing registry and the emulator
// handle em. It does not call registry.RegisterVisible: the pty is not
// marked visible by constructing a View.
func NewView(pty PtyID, registry *visibility.Registry, em emulator.Emulator) *View {
	v := &View{pty: pty, registry: registry, emu: em, atBottom: true}
	return v
}

// Close unregisters the view's visibility, decrementing the pty's
// reference count (spec.md §4.B).
func (v *View) Close(unregister func()) {
	if unregister != nil {
		unregister()
	}
}

// SetFocused marks whether this pane currently holds input focus,
// consulted by the cursor-highlight priority rule.
func (v *View) SetFocused(focused bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.focused = focused
}

// ApplyFull replaces the cached terminal state wholesale (spec.md
// §4.C: "on full update the cache is rebuilt").
func (v *View) ApplyFull(state *emulator.TerminalState, scroll emulator.ScrollState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.terminal = state
	v.scroll = scroll
	v.atBottom = scroll.IsAtBottom
	v.cachedRows = newRowCache(len(state.Cells))
	for i := range state.Cells {
		v.cachedRows.rows[i] = state.Cells[i]
	}
	v.version++
}

// DeltaRow is one sparse row replacement in a delta update.
type DeltaRow struct {
	Index int
	Cells []emulator.Cell
}

// ApplyDelta applies sparse row replacements over cached_rows plus a
// fresh cursor/mode snapshot (spec.md §4.C).
func (v *View) ApplyDelta(rows []DeltaRow, cursor emulator.Cursor, scroll emulator.ScrollState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.terminal == nil {
		return
	}
	v.terminal.Cursor = cursor
	v.scroll = scroll
	v.atBottom = scroll.IsAtBottom
	if v.cachedRows == nil {
		v.cachedRows = newRowCache(len(v.terminal.Cells))
	}
	for _, dr := range rows {
		if dr.Index < 0 {
			continue
		}
		for len(v.cachedRows.rows) <= dr.Index {
			v.cachedRows.rows = append(v.cachedRows.rows, nil)
		}
		v.cachedRows.rows[dr.Index] = dr.Cells
		if dr.Index < len(v.terminal.Cells) {
			v.terminal.Cells[dr.Index] = dr.Cells
		}
	}
	v.version++
}

// SetHighlights replaces the view's active highlight regions. It does
// not bump the terminal version and does not itself schedule a render.
func (v *View) SetHighlights(h []Highlight) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.highlights = h
}

// Scheduler coalesces bursts of view updates into one render per tick
// via a deferred macrotask, so the render thread is never blocked by
// a burst (spec.md §4.C "Render batching").
type Scheduler struct {
	mu      sync.Mutex
	pending map[PtyID]bool
	timer   *time.Timer
	delay   time.Duration
	flush   func(PtyID)
}

// NewScheduler creates a coalescing scheduler that invokes flush once
// per pty per tick.
func NewScheduler(delay time.Duration, flush func(PtyID)) *Scheduler {
	return &Scheduler{pending: make(map[PtyID]bool), delay: delay, flush: flush}
}

// Request marks pty dirty for the next tick, arming the deferred
// flush timer if one isn't already running.
func (s *Scheduler) Request(pty PtyID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pty] = true
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.delay, s.tick)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[PtyID]bool)
	s.timer = nil
	s.mu.Unlock()

	for pty := range pending {
		s.flush(pty)
	}
}

// rowAt implements spec.md §4.C's row fetch algorithm for one visible
// row y, given the draw region's geometry. missing is true when the
// row falls in the scrollback range but the emulator has no cached
// line for it yet.
func (v *View) rowAt(y, viewportOffset, scrollbackLength int) (cells []emulator.Cell, missing bool) {
	if viewportOffset == 0 {
		if v.terminal != nil && y < len(v.terminal.Cells) {
			return v.terminal.Cells[y], false
		}
		return nil, false
	}

	absoluteY := scrollbackLength - viewportOffset + y
	if absoluteY < 0 {
		return nil, false
	}
	if absoluteY < scrollbackLength {
		if v.emu == nil {
			return nil, true
		}
		line, ok := v.emu.GetScrollbackLine(absoluteY)
		if !ok {
			return nil, true
		}
		return line, false
	}
	idx := absoluteY - scrollbackLength
	if v.terminal != nil && idx < len(v.terminal.Cells) {
		return v.terminal.Cells[idx], false
	}
	return nil, false
}

// fetchRows runs the row fetch algorithm across the whole draw
// region, recording the first/last missing offsets for the prefetch
// computation.
func (v *View) fetchRows(rows, viewportOffset, scrollbackLength int) (out [][]emulator.Cell, firstMissing, lastMissing int, anyMissing bool) {
	out = make([][]emulator.Cell, rows)
	firstMissing, lastMissing = -1, -1
	for y := 0; y < rows; y++ {
		cells, missing := v.rowAt(y, viewportOffset, scrollbackLength)
		out[y] = cells
		if missing {
			anyMissing = true
			if firstMissing == -1 {
				firstMissing = scrollbackLength - viewportOffset + y
			}
			lastMissing = scrollbackLength - viewportOffset + y
		}
	}
	return out, firstMissing, lastMissing, anyMissing
}

// computePrefetch builds the buffer-zoned prefetch request for a
// batch of missing scrollback rows (spec.md §4.C "Prefetch").
func computePrefetch(pty PtyID, firstMissing, lastMissing, scrollbackLength int) PrefetchRequest {
	start := firstMissing - PrefetchWindow
	if start < 0 {
		start = 0
	}
	end := lastMissing + PrefetchWindow
	if end > scrollbackLength {
		end = scrollbackLength
	}
	count := end - start
	if count < 1 {
		count = 1
	}
	return PrefetchRequest{Pty: pty, Start: start, Count: count}
}

// RequestPrefetch enqueues at most one in-flight prefetch; if one is
// already running the latest request is stashed and replayed when
// the in-flight completion re-runs (spec.md §4.C).
func (v *View) RequestPrefetch(req PrefetchRequest, issue func(PrefetchRequest) <-chan struct{}) {
	v.mu.Lock()
	if v.prefetchInFlight {
		v.pendingPrefetch = &req
		v.mu.Unlock()
		return
	}
	v.prefetchInFlight = true
	v.mu.Unlock()

	done := issue(req)
	go func() {
		<-done
		v.mu.Lock()
		v.prefetchInFlight = false
		next := v.pendingPrefetch
		v.pendingPrefetch = nil
		v.mu.Unlock()
		if next != nil {
			v.RequestPrefetch(*next, issue)
		}
	}()
}

// guardDecision is the outcome of the scrollback render guard.
type guardDecision struct {
	viewportOffset   int
	scrollbackLength int
	rows             [][]emulator.Cell
	deferred         bool
	firstMissing     int
	lastMissing      int
	hasMissing       bool
}

// evaluateGuard implements spec.md §4.C's scrollback render guard:
// it decides whether to render the desired state or fall back to the
// last-stable snapshot to avoid a seam artefact. firstMissing/
// lastMissing/hasMissing always describe the live desired viewport
// (never the deferred one), since prefetch exists to fill the gap
// that caused the defer in the first place.
func (v *View) evaluateGuard(desiredViewportOffset, desiredScrollbackLength, rowsCount int) guardDecision {
	scrollbackDelta := desiredScrollbackLength - v.lastObservedScrollbackLength
	expected := desiredViewportOffset
	if v.lastObservedViewportOffset > 0 || v.lastObservedScrollbackLength > 0 {
		expected = clamp(v.lastObservedViewportOffset+scrollbackDelta, 0, desiredScrollbackLength)
	}
	isUserScroll := desiredViewportOffset != expected

	rows, firstMissing, lastMissing, hasMissing := v.fetchRows(rowsCount, desiredViewportOffset, desiredScrollbackLength)

	v.lastObservedViewportOffset = desiredViewportOffset
	v.lastObservedScrollbackLength = desiredScrollbackLength

	if (isUserScroll || desiredViewportOffset > 0) && hasMissing {
		if v.stable.valid {
			return guardDecision{
				viewportOffset:   v.stable.viewportOffset,
				scrollbackLength: v.stable.scrollbackLength,
				rows:             v.stable.rows.rows,
				deferred:         true,
				firstMissing:     firstMissing,
				lastMissing:      lastMissing,
				hasMissing:       hasMissing,
			}
		}
		// No stable snapshot yet: render what we have rather than
		// blank the pane.
		return guardDecision{viewportOffset: desiredViewportOffset, scrollbackLength: desiredScrollbackLength, rows: rows, firstMissing: firstMissing, lastMissing: lastMissing, hasMissing: hasMissing}
	}

	v.stable = stableSnapshot{
		viewportOffset:   desiredViewportOffset,
		scrollbackLength: desiredScrollbackLength,
		rows:             &rowCache{rows: rows},
		valid:            true,
	}
	return guardDecision{viewportOffset: desiredViewportOffset, scrollbackLength: desiredScrollbackLength, rows: rows, firstMissing: firstMissing, lastMissing: lastMissing, hasMissing: hasMissing}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Draw renders the pane into buf at (offsetX, offsetY), covering a
// box of width x height cells. cols/rows is the live terminal's
// content size, which may be smaller than the box when a resize is
// in flight.
func (v *View) Draw(buf Buffer, offsetX, offsetY, width, height int, fallbackBg emulator.RGB, issuePrefetch func(PrefetchRequest)) {
	v.mu.Lock()
	defer v.mu.Unlock()

	scrollbackLength := v.scroll.ScrollbackLength
	viewportOffset := v.scroll.ViewportOffset

	decision := v.evaluateGuard(viewportOffset, scrollbackLength, height)

	cols := width
	if v.terminal != nil && v.terminal.Cols < cols {
		cols = v.terminal.Cols
	}

	for y := 0; y < height; y++ {
		var cells []emulator.Cell
		if y < len(decision.rows) {
			cells = decision.rows[y]
		}
		x := 0
		for x < cols {
			var cell emulator.Cell
			if x < len(cells) {
				cell = cells[x]
			}
			fg, bg, style := v.resolveStyle(x, y, cell, decision.viewportOffset == 0)
			ch := cell.Char
			if ch == 0 {
				ch = ' '
			}
			buf.SetCell(offsetX+x, offsetY+y, ch, fg, bg, style)
			if cell.Width == 2 {
				if x+1 < cols {
					buf.SetCell(offsetX+x+1, offsetY+y, 0, fg, bg, style)
				}
				x += 2
				continue
			}
			if cell.Width == 0 && ch != ' ' {
				w := runewidth.RuneWidth(ch)
				if w == 2 && x+1 < cols {
					buf.SetCell(offsetX+x+1, offsetY+y, 0, fg, bg, style)
				}
			}
			x++
		}
		for ; x < width; x++ {
			buf.SetCell(offsetX+x, offsetY+y, ' ', fallbackBg, fallbackBg, 0)
		}
	}
	for y := len(decision.rows); y < height; y++ {
		for x := 0; x < width; x++ {
			buf.SetCell(offsetX+x, offsetY+y, ' ', fallbackBg, fallbackBg, 0)
		}
	}

	if !decision.deferred && scrollbackLength > 0 && viewportOffset > 0 {
		drawScrollbar(buf, offsetX, offsetY, width, height, viewportOffset, scrollbackLength)
	}

	if issuePrefetch != nil && decision.hasMissing {
		req := computePrefetch(v.pty, decision.firstMissing, decision.lastMissing, scrollbackLength)
		issuePrefetch(req)
	}
}

// resolveStyle computes a cell's final (fg, bg, style) honouring
// style bits and the highlight priority order in spec.md §4.C:
// cursor > copy-mode selection > mouse selection > current search
// match > other search match.
func (v *View) resolveStyle(x, y int, cell emulator.Cell, atBottomScreen bool) (fg, bg emulator.RGB, style emulator.StyleBits) {
	fg, bg = cell.Fg, cell.Bg
	style = cell.Style

	if style&emulator.Dim != 0 {
		fg = RGB{R: fg.R / 2, G: fg.G / 2, B: fg.B / 2}
	}
	if style&emulator.Inverse != 0 {
		fg, bg = bg, fg
	}

	var best *Highlight
	for i := range v.highlights {
		h := &v.highlights[i]
		if h.X != x || h.Y != y {
			continue
		}
		if h.Kind == SelectionCursor && !(v.focused && v.atBottom && atBottomScreen) {
			continue
		}
		if best == nil || h.Kind >= best.Kind {
			best = h
		}
	}
	if best != nil {
		if best.HasFg {
			fg = best.Fg
		}
		if best.HasBg {
			bg = best.Bg
		}
	}
	return fg, bg, style
}

type RGB = emulator.RGB

// drawScrollbar overlays the rightmost column with a thumb and an
// optional floating offset label (spec.md §4.C "Scrollbar").
func drawScrollbar(buf Buffer, offsetX, offsetY, width, height, viewportOffset, scrollbackLength int) {
	const minThumb = 1
	x := offsetX + width - 1

	thumbHeight := minThumb
	if scrollbackLength+height > 0 {
		computed := (height * height) / (scrollbackLength + height)
		if computed > thumbHeight {
			thumbHeight = computed
		}
	}
	if thumbHeight > height {
		thumbHeight = height
	}

	thumbPos := 0
	if scrollbackLength > 0 && height > thumbHeight {
		frac := 1 - float64(viewportOffset)/float64(scrollbackLength)
		thumbPos = int(frac * float64(height-thumbHeight))
	}
	if thumbPos < 0 {
		thumbPos = 0
	}
	if thumbPos+thumbHeight > height {
		thumbPos = height - thumbHeight
	}

	for y := thumbPos; y < thumbPos+thumbHeight && y < height; y++ {
		buf.SetCell(x, offsetY+y, 0, emulator.RGB{}, emulator.RGB{R: 120, G: 120, B: 120}, emulator.StyleBits(0))
	}

	if offsetY > 0 {
		label := formatOffsetLabel(viewportOffset, scrollbackLength)
		labelX := offsetX + width - len(label)
		if labelX < offsetX {
			labelX = offsetX
		}
		for i, r := range label {
			buf.SetCell(labelX+i, offsetY-1, r, emulator.RGB{R: 220, G: 220, B: 220}, emulator.RGB{R: 40, G: 40, B: 40}, 0)
		}
	}
}

// formatOffsetLabel renders " <viewport_offset>/<scrollback_length> "
// with k/m suffixes above 1000/1,000,000.
func formatOffsetLabel(viewportOffset, scrollbackLength int) string {
	return fmt.Sprintf(" %s/%s ", suffixed(viewportOffset), suffixed(scrollbackLength))
}

func suffixed(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fm", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

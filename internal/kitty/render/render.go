// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/kitty/render/render.go
// Summary: Kitty graphics renderer (spec.md §4.F): per-pane per-screen
// image/placement reconciliation, viewport clipping, layered
// visibility.
// Usage: One Renderer per process (spec.md §9 process-wide singleton,
// modeled as an explicit handle rather than a mutable global),
// Flush() called once per frame after the emulator side has produced
// fresh Kitty state.
// Notes: The pty/screen state-machine shape (per-screen initialised
// markers; placements always follow what the emulator reports for the
// current screen, while host image ids are shared across both screens
// of a pty) and the per-frame flush loop are
// grounded on spec.md §4.F directly; the rectangle/clip math reuses
// internal/geom, whose Subtract is grounded on the teacher's viewport
// composition style in apps/texelterm/parser/viewport_physical_builder.go
// (clip-by-subtraction against an occluding region).

package render

import (
	"log"

	"github.com/openmux/openmux/internal/emulator"
	"github.com/openmux/openmux/internal/geom"
	"github.com/openmux/openmux/internal/kitty/broker"
	"github.com/openmux/openmux/internal/kitty/seq"
	"github.com/openmux/openmux/internal/layout"
)

// Layer is a visibility layer a pane can be drawn on.
type Layer int

const (
	LayerBase Layer = iota
	LayerOverlay
)

type screenKind int

const (
	screenMain screenKind = iota
	screenAlternate
)

// PaneState is the per-pane input to the renderer, refreshed by the
// caller every frame before Flush.
type PaneState struct {
	Pty              layout.PtyID
	Emulator         emulator.Emulator
	Rect             geom.Rect
	ViewportOffset   int
	ScrollbackLength int
	IsAlternateScreen bool
	Layer            Layer
	Hidden           bool
	Removed          bool
}

type paneKey = layout.PaneID

type screenKey struct {
	pty    layout.PtyID
	screen screenKind
}

type imageCache struct {
	hostID uint32
	info   emulator.KittyImageInfo
}

type placementKey struct {
	imageID      uint32
	tag          emulator.PlacementTag
	placementID  uint32
	fragmentIdx  int
}

// PlacementRender is one clipped, positioned fragment of a placement
// ready to emit as a display command.
type PlacementRender struct {
	Key     placementKey
	HostID  uint32
	Dest    geom.Rect // absolute cell rectangle on the viewport
	SrcX, SrcY, SrcW, SrcH int
	Z       int32
}

// Renderer holds all per-pty/per-screen and per-pane Kitty graphics
// state across frames.
type Renderer struct {
	broker *broker.Broker
	cells  geom.CellMetrics

	panes         map[paneKey]*PaneState
	prevScreenKind map[paneKey]screenKind

	registry map[layout.PtyID]map[uint32]imageCache // pty -> guestID -> cache
	screens  map[screenKey]bool                     // initialised marker

	placementsByPane map[paneKey]map[placementKey]PlacementRender

	clipRects     []geom.Rect
	visibleLayers map[Layer]bool

	pendingPtyDeletes []layout.PtyID
}

// New creates a Renderer bound to a broker and the host's cell pixel
// metrics (used to translate placement columns/rows to pixel crops).
func New(b *broker.Broker, cells geom.CellMetrics) *Renderer {
	return &Renderer{
		broker:           b,
		cells:            cells,
		panes:            make(map[paneKey]*PaneState),
		prevScreenKind:   make(map[paneKey]screenKind),
		registry:         make(map[layout.PtyID]map[uint32]imageCache),
		screens:          make(map[screenKey]bool),
		placementsByPane: make(map[paneKey]map[placementKey]PlacementRender),
		visibleLayers:    map[Layer]bool{LayerBase: true, LayerOverlay: true},
	}
}

// SetClipRects installs the global exclusion zones (e.g. overlays)
// placements are clipped against.
func (r *Renderer) SetClipRects(rects []geom.Rect) { r.clipRects = rects }

// SetLayerVisible toggles whether a layer's panes are drawn at all.
func (r *Renderer) SetLayerVisible(l Layer, visible bool) { r.visibleLayers[l] = visible }

// UpdatePane registers/refreshes a pane's per-frame geometry/state.
func (r *Renderer) UpdatePane(id paneKey, state PaneState) {
	r.panes[id] = &state
}

// RemovePane marks a pane gone; its placements are deleted on the
// next Flush.
func (r *Renderer) RemovePane(id paneKey) {
	if ps, ok := r.panes[id]; ok {
		ps.Removed = true
	}
}

// MarkPtyDestroyed queues every image belonging to pty for deletion
// from the host on the next Flush.
func (r *Renderer) MarkPtyDestroyed(pty layout.PtyID) {
	r.pendingPtyDeletes = append(r.pendingPtyDeletes, pty)
}

func (k screenKind) of(alt bool) screenKind {
	if alt {
		return screenAlternate
	}
	return screenMain
}

// Flush performs one frame's worth of reconciliation: image sync,
// placement reuse/diff, clip, and host command emission.
func (r *Renderer) Flush() {
	visitedPty := make(map[screenKey]bool)

	for id, ps := range r.panes {
		if ps.Removed {
			r.deletePanePlacements(id)
			delete(r.panes, id)
			delete(r.prevScreenKind, id)
			continue
		}
		sk := screenKey{pty: ps.Pty, screen: screenMain.of(ps.IsAlternateScreen)}
		transitioning := r.prevScreenKind[id] != sk.screen && r.screens[sk]
		r.prevScreenKind[id] = sk.screen

		if !visitedPty[sk] {
			visitedPty[sk] = true
			r.screens[sk] = true
			if ps.Emulator != nil {
				r.syncImages(ps.Pty, ps.Emulator)
			}
		}

		if !r.visibleLayers[ps.Layer] || ps.Hidden {
			r.deletePanePlacements(id)
			continue
		}

		r.reconcilePlacements(id, ps, transitioning)
	}

	for _, pty := range r.pendingPtyDeletes {
		r.deletePtyImages(pty)
	}
	r.pendingPtyDeletes = nil
}

// syncImages reconciles the emulator's reported image set against the
// broker/registry, transmitting new images and deleting unused ones.
func (r *Renderer) syncImages(pty layout.PtyID, em emulator.Emulator) {
	if !em.GetKittyImagesDirty() {
		return
	}
	defer em.ClearKittyImagesDirty()

	cache := r.registry[pty]
	if cache == nil {
		cache = make(map[uint32]imageCache)
		r.registry[pty] = cache
	}

	seen := make(map[uint32]bool)
	for _, guestID := range em.GetKittyImageIDs() {
		info, ok := em.GetKittyImageInfo(guestID)
		if !ok {
			continue
		}
		seen[guestID] = true
		guestKey := guestKeyFor(guestID)

		hostID, resolved := r.broker.ResolveHostID(pty, guestKey, info)
		existing, hadEntry := cache[guestID]
		changed := !hadEntry || existing.info.IdentityTuple() != info.IdentityTuple()

		if !resolved {
			hostID = r.broker.AllocateHostID(pty, guestKey)
			if changed {
				r.transmitImage(em, guestID, hostID, info)
			}
		}
		cache[guestID] = imageCache{hostID: hostID, info: info}
	}

	for guestID, entry := range cache {
		if seen[guestID] {
			continue
		}
		r.broker.DeleteImage(entry.hostID)
		r.broker.DropMapping(pty, guestKeyFor(guestID))
		delete(cache, guestID)
		r.deleteImagePlacements(entry.hostID)
	}
}

func guestKeyFor(guestID uint32) string {
	return "i:" + itoa(guestID)
}

func (r *Renderer) transmitImage(em emulator.Emulator, guestID, hostID uint32, info emulator.KittyImageInfo) {
	data, ok := em.GetKittyImageData(guestID)
	if !ok {
		log.Printf("kitty/render: no image data for guest id %d, skipping transmit", guestID)
		return
	}
	r.broker.Transmit(hostID, info.Width, info.Height, toSeqFormat(info.Format), data)
}

func toSeqFormat(f emulator.ImageFormat) seq.Format {
	switch f {
	case emulator.FormatPNG:
		return seq.FormatPNG
	case emulator.FormatRGB:
		return seq.FormatRGB
	default:
		return seq.FormatRGBA
	}
}

// reconcilePlacements computes the pane's visible placement fragments
// and diffs them against the previous frame, emitting display/delete
// commands as needed.
func (r *Renderer) reconcilePlacements(id paneKey, ps *PaneState, transitioning bool) {
	cache := r.registry[ps.Pty]
	var placements []emulator.KittyPlacement
	if ps.Emulator != nil {
		placements = ps.Emulator.GetKittyPlacements()
	}

	prev := r.placementsByPane[id]
	next := make(map[placementKey]PlacementRender)

	// Each (pty, screen) carries its own placement list from the
	// emulator (spec.md §4.F's per-screen state machine), so a
	// transition to a screen the emulator reports as empty (e.g. a
	// freshly entered alternate screen) legitimately has no
	// placements this frame: diffAndEmit below deletes whatever was
	// displayed for the previous screen. Placement *host ids* are
	// still reused from the pty-wide image registry below, which is
	// the "reuse" spec.md §4.F means: no re-transmit on return, only
	// no stale on-screen display while away.
	_ = transitioning
	for _, pl := range placements {
		entry, ok := cache[pl.ImageID]
		if !ok {
			continue
		}
		for _, frag := range r.renderFragments(ps, pl, entry.hostID) {
			next[frag.Key] = frag
		}
	}

	r.diffAndEmit(id, prev, next)
	r.placementsByPane[id] = next
}

// renderFragments computes the clipped, positioned render fragments
// for one placement within one pane.
func (r *Renderer) renderFragments(ps *PaneState, pl emulator.KittyPlacement, hostID uint32) []PlacementRender {
	viewportRow := pl.ScreenY - (ps.ScrollbackLength - ps.ViewportOffset)
	viewportCol := pl.ScreenX

	cols, rows := pl.Columns, pl.Rows
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}

	dest := geom.Rect{
		X: ps.Rect.X + viewportCol,
		Y: ps.Rect.Y + viewportRow,
		W: cols,
		H: rows,
	}
	visible := dest.Intersect(ps.Rect)
	if visible.Empty() {
		return nil
	}

	fragments := geom.Subtract(visible, r.clipRects)
	out := make([]PlacementRender, 0, len(fragments))
	for idx, frag := range fragments {
		if frag.Empty() {
			continue
		}
		srcX, srcY, srcW, srcH := cropToFragment(dest, frag, pl)
		out = append(out, PlacementRender{
			Key:    placementKey{imageID: pl.ImageID, tag: pl.Tag, placementID: pl.PlacementID, fragmentIdx: idx},
			HostID: hostID,
			Dest:   frag,
			SrcX:   srcX, SrcY: srcY, SrcW: srcW, SrcH: srcH,
			Z: int32(pl.Z),
		})
	}
	return out
}

// cropToFragment scales a clipped cell-rectangle back to the
// placement's source pixel crop.
func cropToFragment(full, frag geom.Rect, pl emulator.KittyPlacement) (x, y, w, h int) {
	if full.W == 0 || full.H == 0 {
		return pl.SourceX, pl.SourceY, pl.SourceWidth, pl.SourceHeight
	}
	srcW, srcH := pl.SourceWidth, pl.SourceHeight
	if srcW == 0 {
		srcW = full.W
	}
	if srcH == 0 {
		srcH = full.H
	}
	scaleX := float64(srcW) / float64(full.W)
	scaleY := float64(srcH) / float64(full.H)

	offX := frag.X - full.X
	offY := frag.Y - full.Y
	return pl.SourceX + int(float64(offX)*scaleX),
		pl.SourceY + int(float64(offY)*scaleY),
		int(float64(frag.W) * scaleX),
		int(float64(frag.H) * scaleY)
}

// diffAndEmit compares prev/next placement sets for a pane and emits
// delete commands for vanished fragments, display commands for
// changed/new ones.
func (r *Renderer) diffAndEmit(id paneKey, prev, next map[placementKey]PlacementRender) {
	for key, old := range prev {
		if _, stillThere := next[key]; !stillThere {
			r.broker.DeletePlacement(old.HostID, old.Key.placementID)
		}
	}
	for key, cur := range next {
		if old, existed := prev[key]; existed && old == cur {
			continue
		}
		r.emitDisplay(cur)
	}
}

func (r *Renderer) emitDisplay(p PlacementRender) {
	params := seq.DisplayParams(p.HostID, p.Key.placementID, p.SrcX, p.SrcY, p.SrcW, p.SrcH, p.Dest.W, p.Dest.H, p.Z)
	params = append(params, seq.Param{Key: 'q', Value: "2"})
	cmd := seq.BuildAPC(params, "")
	framed := seq.WithCursorFrame(p.Dest.Y, p.Dest.X, cmd)
	r.broker.HandleSequence(0, framed)
}

func (r *Renderer) deletePanePlacements(id paneKey) {
	prev := r.placementsByPane[id]
	for _, p := range prev {
		r.broker.DeletePlacement(p.HostID, p.Key.placementID)
	}
	delete(r.placementsByPane, id)
}

func (r *Renderer) deleteImagePlacements(hostID uint32) {
	for id, prev := range r.placementsByPane {
		changed := false
		for key, p := range prev {
			if p.HostID == hostID {
				delete(prev, key)
				changed = true
			}
		}
		if changed {
			r.placementsByPane[id] = prev
		}
	}
}

func (r *Renderer) deletePtyImages(pty layout.PtyID) {
	cache := r.registry[pty]
	for guestID, entry := range cache {
		r.broker.DeleteImage(entry.hostID)
		r.broker.DropMapping(pty, guestKeyFor(guestID))
		r.deleteImagePlacements(entry.hostID)
	}
	delete(r.registry, pty)
	delete(r.screens, screenKey{pty: pty, screen: screenMain})
	delete(r.screens, screenKey{pty: pty, screen: screenAlternate})
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/kitty/broker/broker.go
// Summary: Per-host Kitty transmit broker (spec.md §4.E): the single
// process-wide sink that writes all Kitty graphics bytes to the host
// TTY and owns guest<->host image id mapping.
// Usage: One Broker per process, installed via SetWriter at startup
// (spec.md §9: "explicit context handle... not a mutable global").
// Notes: The at-most-one-writer, ordered-per-PTY guarantee mirrors the
// teacher's single render/UI task ownership model (texel/desktop.go);
// no example repo implements Kitty id brokering specifically, so the
// mapping/ordering policy here is grounded directly on spec.md §4.E.

package broker

import (
	"bytes"
	"log"
	"sync"

	"github.com/openmux/openmux/internal/emulator"
	"github.com/openmux/openmux/internal/kitty/relay"
	"github.com/openmux/openmux/internal/kitty/seq"
	"github.com/openmux/openmux/internal/layout"
)

// Writer is the single sink that writes bytes to the host TTY.
type Writer func(data []byte) (int, error)

type mappingKey struct {
	pty      layout.PtyID
	guestKey string
}

// Broker owns guest->host image id mapping and serializes writes to
// the host TTY.
type Broker struct {
	mu sync.Mutex

	writer Writer
	queue  [][]byte // pending writes awaiting a writer, drained by flush

	mapping   map[mappingKey]uint32
	nextHost  uint32
	offloader *relay.FileSink
}

// New creates a Broker with no writer installed yet.
func New(offloader *relay.FileSink) *Broker {
	return &Broker{
		mapping:  make(map[mappingKey]uint32),
		nextHost: 1,
		offloader: offloader,
	}
}

// SetWriter installs the single sink that writes to the host TTY and
// flushes anything queued while no writer was present.
func (b *Broker) SetWriter(w Writer) {
	b.mu.Lock()
	b.writer = w
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, p := range pending {
		b.write(p)
	}
}

func (b *Broker) write(data []byte) {
	if b.writer == nil {
		b.mu.Lock()
		b.queue = append(b.queue, data)
		b.mu.Unlock()
		return
	}
	if _, err := b.writer(data); err != nil {
		log.Printf("kitty/broker: host write failed: %v", err)
	}
}

// ResolveHostID returns the host id already mapped for (pty,
// guestKey); ok is false if that pair has never been mapped. The
// lookup is by guest key only: info is not consulted, so the
// KittyImageInfo 6-tuple plays no part and an image re-transmitted
// under the same guest key resolves to the same host id. Mapping is
// strictly per-PTY (spec.md §9 open question, resolved
// conservatively).
func (b *Broker) ResolveHostID(pty layout.PtyID, guestKey string, info emulator.KittyImageInfo) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.mapping[mappingKey{pty: pty, guestKey: guestKey}]
	return id, ok
}

// AllocateHostID assigns and records a fresh host id for (pty,
// guestKey). The first pane to transmit for a given guest key wins
// the host id; later attachments reuse it via ResolveHostID.
func (b *Broker) AllocateHostID(pty layout.PtyID, guestKey string) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := mappingKey{pty: pty, guestKey: guestKey}
	if id, ok := b.mapping[key]; ok {
		return id
	}
	id := b.nextHost
	b.nextHost++
	b.mapping[key] = id
	return id
}

// DropMapping removes the (pty, guestKey) mapping; invoked when the
// graphics renderer deletes the image. The next reappearance
// allocates a new host id.
func (b *Broker) DropMapping(pty layout.PtyID, guestKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.mapping, mappingKey{pty: pty, guestKey: guestKey})
}

// ClearPty drops every mapping for pty and aborts any half-written
// offload state belonging to it.
func (b *Broker) ClearPty(pty layout.PtyID, abortPaths []string) {
	b.mu.Lock()
	for key := range b.mapping {
		if key.pty == pty {
			delete(b.mapping, key)
		}
	}
	b.mu.Unlock()

	if b.offloader != nil {
		for _, p := range abortPaths {
			b.offloader.Abort(p)
		}
	}
}

// HandleSequence is the direct-write path used by the graphics
// renderer for its display commands (and by test harnesses that
// bypass the relay): it emits a fully-built APC sequence
// to the host, preserving per-PTY ordering via the broker's single
// write queue.
func (b *Broker) HandleSequence(pty layout.PtyID, rawSequence string) {
	b.write([]byte(rawSequence))
}

// Transmit emits a chunked host transmit command for an image,
// assembled via seq.ChunkBase64, quiet (q=2) per spec.md §6.
func (b *Broker) Transmit(hostID uint32, width, height int, format seq.Format, data []byte) {
	params := seq.TransmitParamsOf(hostID, width, height, format, seq.CompressionNone, seq.MediumDirect)
	chunks := seq.ChunkBase64(params, data, true)
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.WriteString(c)
	}
	b.write(buf.Bytes())
}

// DeleteImage emits a host image+data delete command.
func (b *Broker) DeleteImage(hostID uint32) {
	p := append(seq.DeleteImageParams(hostID), seq.Param{Key: 'q', Value: "2"})
	b.write([]byte(seq.BuildAPC(p, "")))
}

// DeletePlacement emits a host placement delete command.
func (b *Broker) DeletePlacement(hostID, placementID uint32) {
	p := append(seq.DeletePlacementParams(hostID, placementID), seq.Param{Key: 'q', Value: "2"})
	b.write([]byte(seq.BuildAPC(p, "")))
}

// FlushPending drains any writes queued while no writer was present.
// If w is non-nil it is used for this flush only, without becoming
// the installed writer (used to coalesce host writes with the
// renderer's own output so nothing interleaves).
func (b *Broker) FlushPending(w Writer) {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	writer := w
	if writer == nil {
		writer = b.writer
	}
	b.mu.Unlock()

	if writer == nil {
		b.mu.Lock()
		b.queue = append(b.queue, pending...)
		b.mu.Unlock()
		return
	}
	for _, p := range pending {
		if _, err := writer(p); err != nil {
			log.Printf("kitty/broker: flush write failed: %v", err)
		}
	}
}

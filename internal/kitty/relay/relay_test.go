// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

// A minimal 1x1 PNG (signature + IHDR only, no real image data needed
// for the stub path since the relay only sniffs width/height).
func onePixelPNG() []byte {
	return []byte{
		0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n',
		0, 0, 0, 13, 'I', 'H', 'D', 'R',
		0, 0, 0, 1,
		0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 0, 0, // remaining IHDR + CRC, contents irrelevant to the sniff
	}
}

// Scenario 5: Relay PNG stub.
func TestRelayPNGStub(t *testing.T) {
	r := New(DefaultConfig(), nil)
	png := onePixelPNG()
	encoded := base64.StdEncoding.EncodeToString(png)
	input := []byte("a=t,f=100,i=7;" + encoded)

	result := r.Process(input)

	if !result.HasForward || result.ForwardSequence != string(input) {
		t.Fatalf("expected forward_sequence == input, got %q", result.ForwardSequence)
	}
	if !strings.Contains(result.EmuSequence, "f=100") || !strings.Contains(result.EmuSequence, "s=1") ||
		!strings.Contains(result.EmuSequence, "v=1") || !strings.Contains(result.EmuSequence, "i=7") {
		t.Fatalf("emu_sequence missing expected fields: %q", result.EmuSequence)
	}
	if strings.Contains(result.EmuSequence, encoded) {
		t.Fatalf("emu_sequence must not contain the base64 payload")
	}
}

// Scenario 6: Relay shared memory stub.
func TestRelaySharedMemoryStub(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StubAllFormats = true
	r := New(cfg, nil)
	input := []byte("a=t,t=s,s=10,v=12,i=7;SHMKEY")

	result := r.Process(input)

	if !result.HasForward || result.ForwardSequence != string(input) {
		t.Fatalf("expected forward_sequence == input, got %q", result.ForwardSequence)
	}
	if !strings.Contains(result.EmuSequence, "f=100") || !strings.Contains(result.EmuSequence, "s=10") ||
		!strings.Contains(result.EmuSequence, "v=12") {
		t.Fatalf("emu_sequence missing expected dims: %q", result.EmuSequence)
	}
	if strings.Contains(result.EmuSequence, "t=s") {
		t.Fatalf("emu_sequence must not contain t=s")
	}
	if strings.Contains(result.EmuSequence, "SHMKEY") {
		t.Fatalf("emu_sequence must not contain the shared memory key")
	}
}

func TestRelayDeleteForwardsWithTarget(t *testing.T) {
	r := New(DefaultConfig(), nil)
	input := []byte("a=d,d=I,i=9")
	result := r.Process(input)
	if !result.HasForward || result.ForwardSequence != string(input) {
		t.Fatalf("expected delete with target to forward unchanged")
	}
	if result.EmuSequence != "" {
		t.Fatalf("delete must not produce an emulator stub")
	}
}

type fakeHandle struct{ buf bytes.Buffer }

func (h *fakeHandle) Write(p []byte) (int, error) { return h.buf.Write(p) }
func (h *fakeHandle) Close() error                { return nil }

type fakeSink struct {
	handle *fakeHandle
	path   string
}

func (s *fakeSink) Open() (OffloadHandle, string, error) {
	s.handle = &fakeHandle{}
	return s.handle, s.path, nil
}

func TestRelayOffloadsLargeDirectPayload(t *testing.T) {
	sink := &fakeSink{path: "/tmp/openmux-tty-graphics-protocol-test.bin"}
	cfg := DefaultConfig()
	cfg.OffloadThreshold = 16 // force offload for this test
	r := New(cfg, sink)

	raw := bytes.Repeat([]byte{0x42}, 64)
	encoded := base64.StdEncoding.EncodeToString(raw)
	input := []byte("a=t,t=d,f=24,s=8,v=8,i=3;" + encoded)

	result := r.Process(input)
	if !result.HasForward {
		t.Fatalf("expected a forward sequence for the offloaded transmit")
	}
	if !strings.Contains(result.ForwardSequence, "t=f") {
		t.Fatalf("expected file-transfer rewrite, got %q", result.ForwardSequence)
	}
	if !bytes.Equal(sink.handle.buf.Bytes(), raw) {
		t.Fatalf("offloaded temp file content does not match original payload bytes")
	}
}

// A multi-chunk direct offload whose split point falls mid base64
// group must still decode to the exact original bytes: each Process
// call only sees its own chunk's raw text, so the relay has to carry
// the undecoded tail across the boundary itself.
func TestRelayOffloadMultiChunkNonAlignedSplitDecodesByteIdentically(t *testing.T) {
	sink := &fakeSink{path: "/tmp/openmux-tty-graphics-protocol-test-multi.bin"}
	cfg := DefaultConfig()
	cfg.OffloadThreshold = 16
	r := New(cfg, sink)

	raw := bytes.Repeat([]byte{0x37}, 64)
	encoded := base64.StdEncoding.EncodeToString(raw)

	split := 50 // not a multiple of 4: splits a base64 group in half
	first := []byte("a=t,t=d,f=24,s=8,v=8,i=3,m=1;" + encoded[:split])
	second := []byte("m=0;" + encoded[split:])

	r1 := r.Process(first)
	if r1.HasForward {
		t.Fatalf("interior offload chunk must not forward yet, got %q", r1.ForwardSequence)
	}

	r2 := r.Process(second)
	if !r2.HasForward || !strings.Contains(r2.ForwardSequence, "t=f") {
		t.Fatalf("expected final chunk to forward a file-transfer rewrite, got %q", r2.ForwardSequence)
	}
	if !bytes.Equal(sink.handle.buf.Bytes(), raw) {
		t.Fatalf("offloaded temp file content diverged at the chunk boundary: got %d bytes, want %d", sink.handle.buf.Len(), len(raw))
	}
}

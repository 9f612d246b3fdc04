// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package seq

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestParseAPCBasic(t *testing.T) {
	data := []byte("a=t,f=100,i=7;SGVsbG8=")
	p, payload, err := ParseAPC(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Action != ActionTransmit || p.Format != FormatPNG || p.ImageID != 7 {
		t.Fatalf("unexpected params: %+v", p)
	}
	if string(payload) != "SGVsbG8=" {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestGuestKeyPriority(t *testing.T) {
	p := TransmitParams{ImageID: 5, ImageNumber: 9}
	key, ok := p.GuestKey()
	if !ok || key != "i:5" {
		t.Fatalf("expected i:5, got %q ok=%v", key, ok)
	}
	p2 := TransmitParams{ImageNumber: 9}
	key2, ok2 := p2.GuestKey()
	if !ok2 || key2 != "I:9" {
		t.Fatalf("expected I:9, got %q ok=%v", key2, ok2)
	}
	p3 := TransmitParams{}
	if _, ok3 := p3.GuestKey(); ok3 {
		t.Fatalf("expected no guest key when both i and I are absent")
	}
}

func TestMergeInheritsPending(t *testing.T) {
	prior := TransmitParams{Format: FormatPNG, HasFormat: true, ImageID: 3}
	cur := TransmitParams{}
	merged := cur.Merge(prior)
	if !merged.HasFormat || merged.Format != FormatPNG || merged.ImageID != 3 {
		t.Fatalf("expected merged params to inherit from prior: %+v", merged)
	}
}

func TestChunkBase64RoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 4000) // > one 4KiB encoded chunk
	base := TransmitParamsOf(42, 10, 10, FormatPNG, CompressionNone, MediumDirect)
	chunks := ChunkBase64(base, raw, true)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for large payload, got %d", len(chunks))
	}

	var decoded bytes.Buffer
	for idx, c := range chunks {
		parsed, payload, err := ParseAPC([]byte(c[len(apcPrefix) : len(c)-len(apcSuffix)]))
		if err != nil {
			t.Fatalf("chunk %d: parse error: %v", idx, err)
		}
		isLast := idx == len(chunks)-1
		if parsed.More == isLast {
			t.Fatalf("chunk %d: More=%v, isLast=%v", idx, parsed.More, isLast)
		}
		b, err := base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			t.Fatalf("chunk %d: base64 decode error: %v", idx, err)
		}
		decoded.Write(b)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("round-tripped payload does not match original")
	}
}

func TestSniffPNGDimensions(t *testing.T) {
	// Minimal 1x1 PNG IHDR header bytes (signature + IHDR length/type/dims).
	data := []byte{
		0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n',
		0, 0, 0, 13, 'I', 'H', 'D', 'R',
		0, 0, 0, 1, // width = 1
		0, 0, 0, 1, // height = 1
	}
	w, h, ok := SniffPNGDimensions(data)
	if !ok || w != 1 || h != 1 {
		t.Fatalf("expected 1x1, got %d x %d ok=%v", w, h, ok)
	}

	if _, _, ok := SniffPNGDimensions([]byte("not a png")); ok {
		t.Fatalf("expected non-PNG data to fail sniff")
	}
}

// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/kitty/seq/build.go
// Summary: Builds outgoing Kitty APC sequences and chunks base64
// payloads, per spec.md §6's wire-format rules.
// Usage: Used by the relay (host-facing rewrites and emulator stubs),
// the broker (host transmits and deletes) and the renderer (display
// and delete commands).

package seq

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	apcPrefix = "\x1b_G"
	apcSuffix = "\x1b\\"

	// ChunkSize is the base64-chunk span spec.md §6 specifies.
	ChunkSize = 4096
)

// Param is one key=value control-data pair in emission order.
type Param struct {
	Key   byte
	Value string
}

func u(v uint32) string { return fmt.Sprintf("%d", v) }
func i(v int32) string  { return fmt.Sprintf("%d", v) }

// BuildAPC assembles one complete "ESC _ G <params> ; <data> ESC \"
// sequence. data is raw bytes (pre-encoding is the caller's job for
// non-base64 payloads, e.g. file paths).
func BuildAPC(params []Param, data string) string {
	var b strings.Builder
	b.WriteString(apcPrefix)
	for idx, p := range params {
		if idx > 0 {
			b.WriteByte(',')
		}
		b.WriteByte(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	if data != "" {
		b.WriteByte(';')
		b.WriteString(data)
	}
	b.WriteString(apcSuffix)
	return b.String()
}

// ChunkBase64 splits raw bytes into base64-encoded spans of at most
// ChunkSize encoded characters each (spec.md §6: "chunked in 4 KiB
// spans"), returning one BuildAPC-ready sequence per chunk with
// m=1 on all but the last.
func ChunkBase64(baseParams []Param, raw []byte, quiet bool) []string {
	encoded := base64.StdEncoding.EncodeToString(raw)
	if encoded == "" {
		return []string{BuildAPC(withQuiet(baseParams, quiet), "")}
	}

	var out []string
	for off := 0; off < len(encoded); off += ChunkSize {
		end := off + ChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		isLast := end == len(encoded)

		params := make([]Param, 0, len(baseParams)+1)
		if off == 0 {
			params = append(params, baseParams...)
		} else {
			// Continuation chunks only need the image id and m=.
			params = append(params, Param{Key: 'i', Value: findImageID(baseParams)})
		}
		if !isLast {
			params = append(params, Param{Key: 'm', Value: "1"})
		} else {
			params = append(params, Param{Key: 'm', Value: "0"})
		}
		params = withQuiet(params, quiet)
		out = append(out, BuildAPC(params, encoded[off:end]))
	}
	return out
}

func withQuiet(params []Param, quiet bool) []Param {
	if !quiet {
		return params
	}
	return append(append([]Param{}, params...), Param{Key: 'q', Value: "2"})
}

func findImageID(params []Param) string {
	for _, p := range params {
		if p.Key == 'i' {
			return p.Value
		}
	}
	return "0"
}

// TransmitParamsOf builds the base Param list for a transmit of an
// image with the given host id, dimensions and format.
func TransmitParamsOf(hostID uint32, width, height int, format Format, compression Compression, medium Medium) []Param {
	params := []Param{
		{Key: 'a', Value: string(ActionTransmit)},
		{Key: 'i', Value: u(hostID)},
		{Key: 'f', Value: u(uint32(format))},
	}
	if medium != 0 {
		params = append(params, Param{Key: 't', Value: string(medium)})
	}
	if width > 0 {
		params = append(params, Param{Key: 's', Value: u(uint32(width))})
	}
	if height > 0 {
		params = append(params, Param{Key: 'v', Value: u(uint32(height))})
	}
	if compression == CompressionZlib {
		params = append(params, Param{Key: 'o', Value: "z"})
	}
	return params
}

// DisplayParams builds the "a=p,C=1" display command param list for
// one placement render, per spec.md §6.
func DisplayParams(hostID uint32, placementID uint32, srcX, srcY, srcW, srcH, cols, rows int, z int32) []Param {
	params := []Param{
		{Key: 'a', Value: string(ActionPlace)},
		{Key: 'i', Value: u(hostID)},
		{Key: 'C', Value: "1"},
	}
	if placementID != 0 {
		params = append(params, Param{Key: 'p', Value: u(placementID)})
	}
	if srcW > 0 || srcH > 0 {
		params = append(params,
			Param{Key: 'x', Value: u(uint32(srcX))},
			Param{Key: 'y', Value: u(uint32(srcY))},
			Param{Key: 'w', Value: u(uint32(srcW))},
			Param{Key: 'h', Value: u(uint32(srcH))},
		)
	}
	if cols > 0 {
		params = append(params, Param{Key: 'c', Value: u(uint32(cols))})
	}
	if rows > 0 {
		params = append(params, Param{Key: 'r', Value: u(uint32(rows))})
	}
	if z != 0 {
		params = append(params, Param{Key: 'z', Value: i(z)})
	}
	return params
}

// DeleteImageParams builds "a=d,d=I,i=<host>" (image + data delete).
func DeleteImageParams(hostID uint32) []Param {
	return []Param{
		{Key: 'a', Value: string(ActionDelete)},
		{Key: 'd', Value: "I"},
		{Key: 'i', Value: u(hostID)},
	}
}

// DeletePlacementParams builds "a=d,d=i,i=<host>,p=<placement>".
func DeletePlacementParams(hostID, placementID uint32) []Param {
	return []Param{
		{Key: 'a', Value: string(ActionDelete)},
		{Key: 'd', Value: "i"},
		{Key: 'i', Value: u(hostID)},
		{Key: 'p', Value: u(placementID)},
	}
}

// WithCursorFrame wraps seq in a cursor save/restore + CUP move to
// (row,col) in 0-based cell coordinates, per spec.md §6.
func WithCursorFrame(row, col int, seq string) string {
	return fmt.Sprintf("\x1b7\x1b[%d;%dH%s\x1b8", row+1, col+1, seq)
}

// SniffPNGDimensions reads width/height from a PNG IHDR chunk if data
// looks like a valid PNG signature + IHDR, per spec.md §4.D step 6.
func SniffPNGDimensions(data []byte) (width, height int, ok bool) {
	sig := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	if len(data) < 24 || !bytes.Equal(data[:8], sig) {
		return 0, 0, false
	}
	// IHDR chunk: 4-byte length, "IHDR", 4-byte width, 4-byte height, ...
	if string(data[12:16]) != "IHDR" {
		return 0, 0, false
	}
	w := int(data[16])<<24 | int(data[17])<<16 | int(data[18])<<8 | int(data[19])
	h := int(data[20])<<24 | int(data[21])<<16 | int(data[22])<<8 | int(data[23])
	return w, h, true
}

// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/kitty/seq/params.go
// Summary: Parses and serializes the comma-separated key=value control
// data of a Kitty Graphics Protocol APC sequence.
// Usage: Shared by the transmit relay (D), transmit broker (E) and
// graphics renderer (F) — spec.md component H.
// Notes: Field set and parsing approach are grounded on
// danielgatis-go-headless-term's kitty.go KittyCommand/ParseKittyGraphics,
// narrowed and renamed to match spec.md §4.D's TransmitParams naming
// and trimmed to the fields the relay/broker/renderer actually touch.

package seq

import (
	"bytes"
	"fmt"
	"strconv"
)

// Action is the Kitty graphics command verb ('a=').
type Action byte

const (
	ActionTransmit        Action = 't'
	ActionTransmitDisplay Action = 'T'
	ActionPlace           Action = 'p'
	ActionDelete          Action = 'd'
	ActionQuery           Action = 'q'
)

// Medium is how the payload is carried ('t=').
type Medium byte

const (
	MediumDirect   Medium = 'd'
	MediumFile     Medium = 'f'
	MediumTempFile Medium = 't'
	MediumSharedMem Medium = 's'
)

// Format is the pixel format ('f=').
type Format uint32

const (
	FormatRGB  Format = 24
	FormatRGBA Format = 32
	FormatPNG  Format = 100
)

// Compression is the payload compression ('o=').
type Compression byte

const (
	CompressionNone Compression = 0
	CompressionZlib Compression = 'z'
)

// TransmitParams is the parsed control-data of one APC chunk, per
// spec.md §4.D.
type TransmitParams struct {
	Action       Action
	Format       Format
	HasFormat    bool
	Medium       Medium
	HasMedium    bool
	Width        uint32
	Height       uint32
	HasWidth     bool
	HasHeight    bool
	Compression  Compression
	More         bool
	ImageID      uint32
	ImageNumber  uint32
	PlacementID  uint32
	Quiet        uint32

	// Placement-only fields, carried through untouched by the relay.
	XOffset, YOffset   uint32
	SrcX, SrcY         uint32
	SrcW, SrcH         uint32
	Cols, Rows         uint32
	Z                  int32
	DoNotMoveCursor    bool
	Delete             byte

	Payload []byte
}

// ParseAPC parses the control-data/payload split of one Kitty APC
// chunk. data is the content between the "ESC _ G" (or 8-bit APC G)
// prefix and the "ESC \" / ST terminator, not including either.
func ParseAPC(data []byte) (TransmitParams, []byte, error) {
	var p TransmitParams

	sep := bytes.IndexByte(data, ';')
	control := data
	var rawPayload []byte
	if sep >= 0 {
		control = data[:sep]
		rawPayload = data[sep+1:]
	}

	for _, pair := range bytes.Split(control, []byte(",")) {
		eq := bytes.IndexByte(pair, '=')
		if eq <= 0 {
			continue
		}
		key := pair[0]
		val := pair[eq+1:]
		switch key {
		case 'a':
			if len(val) > 0 {
				p.Action = Action(val[0])
			}
		case 't':
			if len(val) > 0 {
				p.Medium = Medium(val[0])
				p.HasMedium = true
			}
		case 'f':
			p.Format = Format(parseUint(val))
			p.HasFormat = true
		case 'o':
			if len(val) > 0 {
				p.Compression = Compression(val[0])
			}
		case 's':
			p.Width = parseUint(val)
			p.HasWidth = true
		case 'v':
			p.Height = parseUint(val)
			p.HasHeight = true
		case 'm':
			p.More = parseUint(val) == 1
		case 'i':
			p.ImageID = parseUint(val)
		case 'I':
			p.ImageNumber = parseUint(val)
		case 'p':
			p.PlacementID = parseUint(val)
		case 'q':
			p.Quiet = parseUint(val)
		case 'x':
			p.SrcX = parseUint(val)
		case 'y':
			p.SrcY = parseUint(val)
		case 'w':
			p.SrcW = parseUint(val)
		case 'h':
			p.SrcH = parseUint(val)
		case 'c':
			p.Cols = parseUint(val)
		case 'r':
			p.Rows = parseUint(val)
		case 'X':
			p.XOffset = parseUint(val)
		case 'Y':
			p.YOffset = parseUint(val)
		case 'z':
			n, _ := strconv.Atoi(string(val))
			p.Z = int32(n)
		case 'C':
			p.DoNotMoveCursor = parseUint(val) == 1
		case 'd':
			if len(val) > 0 {
				p.Delete = val[0]
			}
		}
	}

	return p, rawPayload, nil
}

func parseUint(v []byte) uint32 {
	n, err := strconv.ParseUint(string(v), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// Merge fills zero/unset fields of p from prior (the pending chunk
// state), used when a continuation chunk omits most keys.
func (p TransmitParams) Merge(prior TransmitParams) TransmitParams {
	if !p.HasFormat {
		p.Format, p.HasFormat = prior.Format, prior.HasFormat
	}
	if !p.HasMedium {
		p.Medium, p.HasMedium = prior.Medium, prior.HasMedium
	}
	if !p.HasWidth {
		p.Width, p.HasWidth = prior.Width, prior.HasWidth
	}
	if !p.HasHeight {
		p.Height, p.HasHeight = prior.Height, prior.HasHeight
	}
	if p.ImageID == 0 {
		p.ImageID = prior.ImageID
	}
	if p.ImageNumber == 0 {
		p.ImageNumber = prior.ImageNumber
	}
	return p
}

// GuestKey computes the per-PTY guest key spec.md §4.D defines:
// "i:<id>" if i>0, else "I:<num>" if I>0, else empty (caller must
// inherit pending state or synthesize a fresh id).
func (p TransmitParams) GuestKey() (string, bool) {
	if p.ImageID > 0 {
		return fmt.Sprintf("i:%d", p.ImageID), true
	}
	if p.ImageNumber > 0 {
		return fmt.Sprintf("I:%d", p.ImageNumber), true
	}
	return "", false
}

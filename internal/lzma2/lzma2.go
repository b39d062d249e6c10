// Copyright (c) 2025 Niema Moshiri and The Zaparoo Project.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-gameid.
//
// go-gameid is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-gameid is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-gameid.  If not, see <https://www.gnu.org/licenses/>.

// Package lzma2 implements the LZMA2 chunk framing layer over the raw LZMA
// bitstream decoder in internal/lzma: a sequence of control-byte-prefixed
// chunks, each either stored verbatim or LZMA-compressed, with properties
// and dictionary reset flags carried per chunk.
package lzma2

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-sevenzip/internal/lzma"
)

// ErrCorruptChunk is returned for any control-byte/size combination that
// violates the LZMA2 framing rules.
var ErrCorruptChunk = errors.New("lzma2: corrupt chunk header")

const (
	controlEOF          = 0x00
	controlUncompNoReset = 0x01
	controlUncompReset   = 0x02
	controlLZMAMask      = 0x80
)

// DicSizeFromProp converts a single LZMA2 dictionary-size property byte (as
// stored in the 7z coder properties, §4.E) into a byte count.
func DicSizeFromProp(p byte) (uint32, error) {
	if p > 40 {
		return 0, fmt.Errorf("%w: dictionary size property %d out of range", ErrCorruptChunk, p)
	}
	if p == 40 {
		return 0xFFFFFFFF, nil
	}
	bit := uint32(p&1) | 2
	shift := p/2 + 11
	return bit << shift, nil
}

// Decode decompresses a complete LZMA2 stream (in) into out, which must be
// sized exactly to the expected unpacked length. dicSize is the dictionary
// size declared in the coder's properties.
func Decode(in, out []byte, dicSize uint32) error {
	dicSize = lzma.NormalizeDicSize(dicSize)

	var dec *lzma.Decoder
	var needInitProp = true
	var needInitState = true
	var needInitDic = true

	pos := 0
	outPos := 0

	for {
		if pos >= len(in) {
			return fmt.Errorf("%w: truncated stream", ErrCorruptChunk)
		}
		control := in[pos]
		pos++

		if control == controlEOF {
			if outPos != len(out) {
				return fmt.Errorf("%w: end marker before full output produced", ErrCorruptChunk)
			}
			return nil
		}

		if control == controlUncompNoReset || control == controlUncompReset {
			if pos+2 > len(in) {
				return fmt.Errorf("%w: truncated uncompressed chunk size", ErrCorruptChunk)
			}
			size := int(in[pos])<<8 | int(in[pos+1])
			size++
			pos += 2
			if control == controlUncompReset {
				needInitDic = false
			} else if needInitDic {
				return fmt.Errorf("%w: first chunk must reset dictionary", ErrCorruptChunk)
			}
			if pos+size > len(in) || outPos+size > len(out) {
				return fmt.Errorf("%w: uncompressed chunk exceeds buffer", ErrCorruptChunk)
			}
			copy(out[outPos:outPos+size], in[pos:pos+size])
			pos += size
			outPos += size
			if dec != nil {
				dec.SetOutPos(outPos)
			}
			needInitState = true
			continue
		}

		if control&controlLZMAMask == 0 {
			return fmt.Errorf("%w: invalid control byte 0x%02x", ErrCorruptChunk, control)
		}

		unpackSize := (int(control&0x1F) << 16)
		if pos+4 > len(in) {
			return fmt.Errorf("%w: truncated LZMA chunk header", ErrCorruptChunk)
		}
		unpackSize |= int(in[pos])<<8 | int(in[pos+1])
		unpackSize++
		packSize := (int(in[pos+2])<<8 | int(in[pos+3])) + 1
		pos += 4

		resetMode := (control >> 5) & 0x3

		if resetMode >= 2 {
			if pos >= len(in) {
				return fmt.Errorf("%w: truncated properties byte", ErrCorruptChunk)
			}
			lc, lp, pb, err := lzma.DecodeProps(in[pos])
			if err != nil {
				return err
			}
			pos++
			dec = lzma.NewDecoder(out, lzma.Props{LC: lc, LP: lp, PB: pb, DicSize: dicSize})
			dec.SetOutPos(outPos)
			needInitProp = false
			needInitState = false
		} else {
			if needInitProp {
				return fmt.Errorf("%w: first chunk must carry properties", ErrCorruptChunk)
			}
			if resetMode == 1 {
				dec.ResetState()
				needInitState = false
			} else if needInitState {
				return fmt.Errorf("%w: state used before being reset", ErrCorruptChunk)
			}
		}

		if resetMode == 3 {
			dec.ResetDic()
			needInitDic = false
		} else if needInitDic {
			return fmt.Errorf("%w: first chunk must reset dictionary", ErrCorruptChunk)
		}

		if pos+packSize > len(in) || outPos+unpackSize > len(out) {
			return fmt.Errorf("%w: LZMA chunk exceeds buffer", ErrCorruptChunk)
		}
		if err := dec.InitRangeCoder(in[pos : pos+packSize]); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptChunk, err)
		}
		marker, err := dec.DecodeToPos(outPos + unpackSize)
		if err != nil {
			return fmt.Errorf("lzma2: chunk decode: %w", err)
		}
		if marker {
			return fmt.Errorf("%w: unexpected end marker inside chunk", ErrCorruptChunk)
		}
		if dec.OutPos() != outPos+unpackSize {
			return fmt.Errorf("%w: chunk produced wrong output length", ErrCorruptChunk)
		}
		pos += packSize
		outPos = dec.OutPos()
	}
}

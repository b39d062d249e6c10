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

package filters

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-sevenzip/internal/rangecoder"
)

// ErrBCJ2Truncated is returned when one of BCJ2's four input streams runs
// out before the output buffer (sized from the folder's declared unpack
// size) is filled.
var ErrBCJ2Truncated = errors.New("bcj2: input stream truncated")

const (
	bcj2ProbJump = 256
	bcj2ProbJcc  = 257
	bcj2NumProbs = 258
)

// DecodeBCJ2 reconstructs out from the four BCJ2 input streams: main (plain
// bytes with branch opcodes left in place), call (absolute CALL targets),
// jump (absolute JMP/Jcc targets) and rc (a tiny range-coded stream of
// per-context "was this occurrence converted" bits). ip is the absolute
// load address of out[0] (0 for every folder in this reader, §4.F).
func DecodeBCJ2(main, call, jump, rc []byte, out []byte, ip uint32) error {
	probs := rangecoder.NewProbs(bcj2NumProbs)
	dec := &rangecoder.Decoder{}
	if err := dec.Init(rc); err != nil {
		return fmt.Errorf("bcj2: range coder init: %w", err)
	}

	var mainPos, callPos, jumpPos, outPos int
	var prevByte byte

	for outPos < len(out) {
		if mainPos >= len(main) {
			return fmt.Errorf("%w: main", ErrBCJ2Truncated)
		}
		b := main[mainPos]
		mainPos++
		out[outPos] = b
		outPos++

		isCall := b == 0xE8
		isJump := b == 0xE9
		isJcc := prevByte == 0x0F && b&0xF0 == 0x80
		if !isCall && !isJump && !isJcc {
			prevByte = b
			continue
		}
		var probIdx int
		switch {
		case isCall:
			probIdx = int(prevByte)
		case isJump:
			probIdx = bcj2ProbJump
		default:
			probIdx = bcj2ProbJcc
		}
		// The IsJ control bit is read whenever the opcode matches, regardless
		// of how much output space remains: the rc stream's bit sequence is
		// fixed at encode time and doesn't skip bits for a near-end opcode,
		// so desyncing the read here would corrupt every bit after it.
		bit, err := dec.DecodeBit(&probs[probIdx])
		if err != nil {
			return fmt.Errorf("bcj2: range coder: %w", err)
		}
		if bit == 0 {
			prevByte = b
			continue
		}
		if outPos+4 > len(out) {
			return fmt.Errorf("%w: output", ErrBCJ2Truncated)
		}

		var src []byte
		if isCall {
			if callPos+4 > len(call) {
				return fmt.Errorf("%w: call", ErrBCJ2Truncated)
			}
			src = call[callPos : callPos+4]
			callPos += 4
		} else {
			if jumpPos+4 > len(jump) {
				return fmt.Errorf("%w: jump", ErrBCJ2Truncated)
			}
			src = jump[jumpPos : jumpPos+4]
			jumpPos += 4
		}
		absolute := uint32(src[0])<<24 | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
		dest := absolute - (ip + uint32(outPos) + 4) //nolint:gosec // wraps intentionally, matches reference
		out[outPos] = byte(dest)
		out[outPos+1] = byte(dest >> 8)
		out[outPos+2] = byte(dest >> 16)
		out[outPos+3] = byte(dest >> 24)
		prevByte = byte(dest >> 24)
		outPos += 4
	}
	return nil
}

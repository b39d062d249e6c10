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

package header

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/icza/bitio"
)

// ErrArchive reports a violation of the 7z header grammar: truncated
// sections, a size field that overruns the remaining bytes, or any other
// structural inconsistency detected while parsing.
var ErrArchive = fmt.Errorf("header: archive structure error")

// ErrUnsupported reports a grammatically valid but unimplemented header
// feature: too many coders/streams, an externally-stored property blob, or
// an unrecognised tag inside a streams-info section.
var ErrUnsupported = fmt.Errorf("header: unsupported feature")

// Cursor is a stateful reader over one contiguous header byte slice,
// implementing the primitives §4.H specifies.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for sequential header parsing.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// ReadByte consumes and returns the next byte.
func (c *Cursor) ReadByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, fmt.Errorf("%w: unexpected end of header", ErrArchive)
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// ReadBytes consumes and returns the next n bytes as a sub-slice of the
// cursor's backing buffer (no copy).
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, fmt.Errorf("%w: unexpected end of header", ErrArchive)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Skip advances the cursor by n bytes without returning them.
func (c *Cursor) Skip(n int) error {
	_, err := c.ReadBytes(n)
	return err
}

// Remaining reports how many bytes are left unconsumed.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// ReadUInt32 reads a little-endian u32.
func (c *Cursor) ReadUInt32() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUInt64 reads a little-endian u64.
func (c *Cursor) ReadUInt64() (uint64, error) {
	b, err := c.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadNumber decodes 7z's variable-length integer: the leading run of
// 1-bits in the first byte selects how many extension bytes follow (0..8);
// byte 0's remaining low bits supply the value's high bits.
func (c *Cursor) ReadNumber() (uint64, error) {
	first, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	var value uint64
	mask := byte(0x80)
	for i := range 8 {
		if first&mask == 0 {
			highPart := uint64(first & (mask - 1))
			value |= highPart << (8 * i)
			return value, nil
		}
		b, err := c.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b) << (8 * i)
		mask >>= 1
	}
	return value, nil
}

// ReadNumber32 is ReadNumber restricted to values that fit a non-negative
// 32-bit count, rejecting anything ≥ 2^31 as Unsupported (matching
// SzReadNumber32's size_t-fit check, simplified to the 32-bit-count case
// this reader always operates in).
func (c *Cursor) ReadNumber32() (uint32, error) {
	v, err := c.ReadNumber()
	if err != nil {
		return 0, err
	}
	if v >= 0x80000000 {
		return 0, fmt.Errorf("%w: count %d exceeds 32 bits", ErrUnsupported, v)
	}
	return uint32(v), nil
}

// ReadID reads the next tag identifier (a ReadNumber value).
func (c *Cursor) ReadID() (uint64, error) {
	return c.ReadNumber()
}

// ReadBoolVector reads n MSB-first packed bits.
func (c *Cursor) ReadBoolVector(n int) ([]bool, error) {
	res := make([]bool, n)
	if n == 0 {
		return res, nil
	}
	nBytes := (n + 7) / 8
	raw, err := c.ReadBytes(nBytes)
	if err != nil {
		return nil, err
	}
	br := bitio.NewReader(bytes.NewReader(raw))
	for i := range n {
		bit, err := br.ReadBool()
		if err != nil {
			return nil, fmt.Errorf("%w: bool vector: %v", ErrArchive, err)
		}
		res[i] = bit
	}
	return res, nil
}

// ReadBoolVector2 reads a single all-defined flag byte; when zero it
// delegates to ReadBoolVector, otherwise returns n true values without
// consuming further bytes.
func (c *Cursor) ReadBoolVector2(n int) ([]bool, error) {
	allDefined, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	if allDefined != 0 {
		res := make([]bool, n)
		for i := range res {
			res[i] = true
		}
		return res, nil
	}
	return c.ReadBoolVector(n)
}

// ReadHashDigests reads a ReadBoolVector2 followed by one u32 CRC per
// defined slot; undefined slots are left zero.
func (c *Cursor) ReadHashDigests(n int) ([]bool, []uint32, error) {
	defined, err := c.ReadBoolVector2(n)
	if err != nil {
		return nil, nil, err
	}
	crcs := make([]uint32, n)
	for i := range n {
		if !defined[i] {
			continue
		}
		v, err := c.ReadUInt32()
		if err != nil {
			return nil, nil, err
		}
		crcs[i] = v
	}
	return defined, crcs, nil
}

// ReadSwitch reads the "external" byte that precedes externally-stored data
// (names, properties); this reader supports only the inline (0) form.
func (c *Cursor) ReadSwitch() error {
	external, err := c.ReadByte()
	if err != nil {
		return err
	}
	if external != 0 {
		return fmt.Errorf("%w: externally stored data", ErrUnsupported)
	}
	return nil
}

// WaitAttribute scans forward, skipping any tag's payload, until it finds
// tag id attr; returns ErrArchive if idEnd is reached first.
func (c *Cursor) WaitAttribute(attr uint64) error {
	for {
		id, err := c.ReadID()
		if err != nil {
			return err
		}
		if id == attr {
			return nil
		}
		if id == idEnd {
			return fmt.Errorf("%w: expected tag %d before end", ErrArchive, attr)
		}
		if err := c.SkipData(); err != nil {
			return err
		}
	}
}

// SkipData reads a ReadNumber-prefixed length and skips that many bytes:
// the generic "unknown section" skip used throughout the header grammar.
func (c *Cursor) SkipData() error {
	size, err := c.ReadNumber()
	if err != nil {
		return err
	}
	if size > uint64(c.Remaining()) {
		return fmt.Errorf("%w: section size overruns header", ErrArchive)
	}
	return c.Skip(int(size))
}

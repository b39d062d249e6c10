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

package folder

import (
	"errors"
	"hash/crc32"
	"testing"

	"github.com/ZaparooProject/go-sevenzip/internal/header"
	"github.com/ZaparooProject/go-sevenzip/internal/source"
)

func newIndex(t *testing.T, packSizes []uint64, folders []header.Folder) *header.ArchiveIndex {
	t.Helper()
	pi := header.PackInfo{PackSizes: packSizes}
	return header.BuildPackIndex(pi, folders)
}

func TestDecodeSingleCopyCoder(t *testing.T) {
	t.Parallel()
	data := []byte("hello")
	idx := newIndex(t, []uint64{5}, []header.Folder{{
		Coders:      []header.CoderInfo{{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1}},
		PackStreams: []int{0},
		UnpackSizes: []uint64{5},
	}})
	r := source.NewReader(source.NewMemSource(data))

	out, err := Decode(r, idx, 0, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != "hello" {
		t.Errorf("out = %q, want %q", out, "hello")
	}
}

func TestDecodeSingleCopyCoderCRCSuccess(t *testing.T) {
	t.Parallel()
	data := []byte("hello")
	idx := newIndex(t, []uint64{5}, []header.Folder{{
		Coders:           []header.CoderInfo{{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1}},
		PackStreams:      []int{0},
		UnpackSizes:      []uint64{5},
		UnpackCRCDefined: true,
		UnpackCRC:        crc32.ChecksumIEEE(data),
	}})
	r := source.NewReader(source.NewMemSource(data))

	if _, err := Decode(r, idx, 0, 0); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestDecodeSingleCopyCoderCRCMismatch(t *testing.T) {
	t.Parallel()
	data := []byte("hello")
	idx := newIndex(t, []uint64{5}, []header.Folder{{
		Coders:           []header.CoderInfo{{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1}},
		PackStreams:      []int{0},
		UnpackSizes:      []uint64{5},
		UnpackCRCDefined: true,
		UnpackCRC:        0xDEADBEEF,
	}})
	r := source.NewReader(source.NewMemSource(data))

	if _, err := Decode(r, idx, 0, 0); !errors.Is(err, ErrCRC) {
		t.Errorf("err = %v, want ErrCRC", err)
	}
}

func TestDecodeCopySizeMismatch(t *testing.T) {
	t.Parallel()
	data := []byte("hello")
	idx := newIndex(t, []uint64{5}, []header.Folder{{
		Coders:      []header.CoderInfo{{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1}},
		PackStreams: []int{0},
		UnpackSizes: []uint64{4},
	}})
	r := source.NewReader(source.NewMemSource(data))

	if _, err := Decode(r, idx, 0, 0); !errors.Is(err, ErrData) {
		t.Errorf("err = %v, want ErrData", err)
	}
}

// TestDecodeMainPlusFilter exercises the two-coder Copy+ARM topology with
// data containing no 0xEB candidate bytes, so the filter pass is a no-op and
// the decoded output matches the Copy stage's plain output.
func TestDecodeMainPlusFilter(t *testing.T) {
	t.Parallel()
	data := []byte("ABCDEFGH")
	idx := newIndex(t, []uint64{8}, []header.Folder{{
		Coders: []header.CoderInfo{
			{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1},
			{MethodID: header.MethodARM, NumInStreams: 1, NumOutStreams: 1},
		},
		PackStreams: []int{0},
		UnpackSizes: []uint64{8, 8},
	}})
	r := source.NewReader(source.NewMemSource(data))

	out, err := Decode(r, idx, 0, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != "ABCDEFGH" {
		t.Errorf("out = %q, want %q", out, "ABCDEFGH")
	}
}

// TestDecodeBCJ2Topology wires the same hand-computed single-CALL-target
// vector used by the filters package's own BCJ2 test through the full
// four-coder folder dispatch: three Copy coders feeding the jump/call/main
// streams (read from local pack-stream indices 3/2/0 per the hardcoded
// SzFolder_Decode2 wiring) plus the raw range-coded control stream at local
// pack-stream index 1.
func TestDecodeBCJ2Topology(t *testing.T) {
	t.Parallel()
	// Local pack-stream order is 0:main 1:rc 2:call 3:jump.
	main := []byte{0xE8}
	rc := []byte{0, 0xFF, 0xFF, 0xFF, 0xFF}
	call := []byte{0x00, 0x00, 0x00, 0x05}
	jump := []byte{}
	data := append(append(append(append([]byte{}, main...), rc...), call...), jump...)

	idx := newIndex(t, []uint64{
		uint64(len(main)), uint64(len(rc)), uint64(len(call)), uint64(len(jump)),
	}, []header.Folder{{
		Coders: []header.CoderInfo{
			{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1},
			{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1},
			{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1},
			{MethodID: header.MethodBCJ2, NumInStreams: 4, NumOutStreams: 1},
		},
		PackStreams: []int{0, 1, 2, 3},
		UnpackSizes: []uint64{uint64(len(jump)), uint64(len(call)), uint64(len(main)), 5},
	}})
	r := source.NewReader(source.NewMemSource(data))

	out, err := Decode(r, idx, 0, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []byte{0xE8, 0x00, 0x00, 0x00, 0x00}
	if string(out) != string(want) {
		t.Errorf("out = %x, want %x", out, want)
	}
}

func TestDecodeUnsupportedTopology(t *testing.T) {
	t.Parallel()
	idx := newIndex(t, []uint64{1, 1, 1}, []header.Folder{{
		Coders: []header.CoderInfo{
			{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1},
			{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1},
			{MethodID: header.MethodCopy, NumInStreams: 1, NumOutStreams: 1},
		},
		PackStreams: []int{0, 1, 2},
		UnpackSizes: []uint64{1, 1, 1},
	}})
	r := source.NewReader(source.NewMemSource([]byte{1, 2, 3}))

	if _, err := Decode(r, idx, 0, 0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestDecodeLZMA2MainCoder(t *testing.T) {
	t.Parallel()
	// Uncompressed LZMA2 chunk framing (control 0x02: dictionary reset),
	// wrapping the raw bytes "xyz".
	packed := []byte{0x02, 0x00, 0x02, 'x', 'y', 'z', 0x00}
	idx := newIndex(t, []uint64{uint64(len(packed))}, []header.Folder{{
		Coders: []header.CoderInfo{{
			MethodID:      header.MethodLZMA2,
			NumInStreams:  1,
			NumOutStreams: 1,
			Properties:    []byte{40}, // dic size prop -> 0xFFFFFFFF, plenty large
		}},
		PackStreams: []int{0},
		UnpackSizes: []uint64{3},
	}})
	r := source.NewReader(source.NewMemSource(packed))

	out, err := Decode(r, idx, 0, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != "xyz" {
		t.Errorf("out = %q, want %q", out, "xyz")
	}
}

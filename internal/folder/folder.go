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

// Package folder dispatches a parsed folder's coder graph (§4.I) to the
// underlying Copy/LZMA/LZMA2 decoders and BCJ/ARM/BCJ2 filters, producing
// the folder's complete decoded output in one caller-owned buffer.
package folder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/ZaparooProject/go-sevenzip/internal/filters"
	"github.com/ZaparooProject/go-sevenzip/internal/header"
	"github.com/ZaparooProject/go-sevenzip/internal/lzma"
	"github.com/ZaparooProject/go-sevenzip/internal/lzma2"
	"github.com/ZaparooProject/go-sevenzip/internal/source"
)

// ErrUnsupported is returned for any coder graph shape other than the
// three topologies §4.I enumerates.
var ErrUnsupported = errors.New("folder: unsupported coder topology")

// ErrData reports a coder producing a different amount of output than its
// folder declared, or any other grammatically-valid-but-wrong payload.
var ErrData = errors.New("folder: data error")

// ErrCRC reports a folder whose declared UnpackCRC does not match its
// decoded output.
var ErrCRC = errors.New("folder: crc mismatch")

func isMainMethod(id uint64) bool {
	switch id {
	case header.MethodCopy, header.MethodLZMA, header.MethodLZMA2:
		return true
	}
	return false
}

func isFilterMethod(id uint64) bool {
	switch id {
	case header.MethodBCJ, header.MethodARM:
		return true
	}
	return false
}

func checkSupported(f *header.Folder) error {
	switch len(f.Coders) {
	case 1:
		if !isMainMethod(f.Coders[0].MethodID) {
			return fmt.Errorf("%w: single coder must be Copy/LZMA/LZMA2", ErrUnsupported)
		}
	case 2:
		if !isMainMethod(f.Coders[0].MethodID) || !isFilterMethod(f.Coders[1].MethodID) {
			return fmt.Errorf("%w: two-coder folder must be main+filter", ErrUnsupported)
		}
	case 4:
		if !isMainMethod(f.Coders[0].MethodID) || !isMainMethod(f.Coders[1].MethodID) || !isMainMethod(f.Coders[2].MethodID) {
			return fmt.Errorf("%w: four-coder folder must have three main coders", ErrUnsupported)
		}
		if f.Coders[3].MethodID != header.MethodBCJ2 {
			return fmt.Errorf("%w: fourth coder of a four-coder folder must be BCJ2", ErrUnsupported)
		}
	default:
		return fmt.Errorf("%w: %d coders", ErrUnsupported, len(f.Coders))
	}
	return nil
}

// Decode reads folder folderIndex's pack streams from r (positioned
// relative to dataPos, the archive's post-signature data origin) and
// returns its complete decoded output, verifying the folder CRC if
// declared.
func Decode(r *source.Reader, idx *header.ArchiveIndex, dataPos uint64, folderIndex int) ([]byte, error) {
	f := &idx.Folders[folderIndex]
	if err := checkSupported(f); err != nil {
		return nil, err
	}

	out := make([]byte, f.UnpackSize())

	switch len(f.Coders) {
	case 1:
		packed, err := readPackStream(r, idx, dataPos, folderIndex, 0)
		if err != nil {
			return nil, err
		}
		if err := decodeMain(f.Coders[0], packed, out); err != nil {
			return nil, err
		}
	case 2:
		packed, err := readPackStream(r, idx, dataPos, folderIndex, 0)
		if err != nil {
			return nil, err
		}
		if err := decodeMain(f.Coders[0], packed, out); err != nil {
			return nil, err
		}
		if err := applyFilter(f.Coders[1], out); err != nil {
			return nil, err
		}
	case 4:
		if err := decodeBCJ2(r, idx, dataPos, folderIndex, f, out); err != nil {
			return nil, err
		}
	}

	if f.UnpackCRCDefined {
		if crc32.ChecksumIEEE(out) != f.UnpackCRC {
			return nil, ErrCRC
		}
	}
	return out, nil
}

// decodeBCJ2 mirrors the reference SzFolder_Decode2's hardcoded BCJ2 wiring:
// coder 0's output feeds BCJ2's jump-target stream, coder 1's output feeds
// the call-target stream, coder 2's output lands directly in the tail of
// the final output buffer as the main code stream, and coder 2 reads pack
// stream 0 while coders 0/1 read pack streams 3/2 respectively; BCJ2's own
// range-coded control stream is pack stream 1, consumed undecoded.
func decodeBCJ2(r *source.Reader, idx *header.ArchiveIndex, dataPos uint64, folderIndex int, f *header.Folder, out []byte) error {
	packed0, err := readPackStream(r, idx, dataPos, folderIndex, 3)
	if err != nil {
		return err
	}
	jump := make([]byte, f.UnpackSizes[0])
	if err := decodeMain(f.Coders[0], packed0, jump); err != nil {
		return err
	}

	packed1, err := readPackStream(r, idx, dataPos, folderIndex, 2)
	if err != nil {
		return err
	}
	call := make([]byte, f.UnpackSizes[1])
	if err := decodeMain(f.Coders[1], packed1, call); err != nil {
		return err
	}

	mainSize := f.UnpackSizes[2]
	if mainSize > uint64(len(out)) {
		return fmt.Errorf("%w: BCJ2 main stream larger than folder output", ErrData)
	}
	mainBuf := out[uint64(len(out))-mainSize:]
	packed2, err := readPackStream(r, idx, dataPos, folderIndex, 0)
	if err != nil {
		return err
	}
	if err := decodeMain(f.Coders[2], packed2, mainBuf); err != nil {
		return err
	}

	rc, err := readPackStream(r, idx, dataPos, folderIndex, 1)
	if err != nil {
		return err
	}

	return filters.DecodeBCJ2(mainBuf, call, jump, rc, out, 0)
}

func readPackStream(r *source.Reader, idx *header.ArchiveIndex, dataPos uint64, folderIndex, localPackIndex int) ([]byte, error) {
	pos := idx.FolderStreamPos(dataPos, folderIndex, localPackIndex)
	size := idx.FolderPackStreamSize(folderIndex, localPackIndex)
	buf := make([]byte, size)
	if err := r.SeekTo(int64(pos)); err != nil { //nolint:gosec // archive offsets fit int64
		return nil, err
	}
	if err := r.ReadAll(buf); err != nil {
		return nil, fmt.Errorf("folder: reading pack stream: %w", err)
	}
	return buf, nil
}

func decodeMain(coder header.CoderInfo, packed, out []byte) error {
	switch coder.MethodID {
	case header.MethodCopy:
		if len(packed) != len(out) {
			return fmt.Errorf("%w: Copy coder size mismatch", ErrData)
		}
		copy(out, packed)
		return nil
	case header.MethodLZMA:
		return decodeLZMA(coder.Properties, packed, out)
	case header.MethodLZMA2:
		return decodeLZMA2(coder.Properties, packed, out)
	default:
		return fmt.Errorf("%w: method 0x%X", ErrUnsupported, coder.MethodID)
	}
}

func decodeLZMA(props, packed, out []byte) error {
	if len(props) != 5 {
		return fmt.Errorf("%w: LZMA properties must be 5 bytes", ErrData)
	}
	lc, lp, pb, err := lzma.DecodeProps(props[0])
	if err != nil {
		return err
	}
	dicSize := lzma.NormalizeDicSize(binary.LittleEndian.Uint32(props[1:5]))
	dec := lzma.NewDecoder(out, lzma.Props{LC: lc, LP: lp, PB: pb, DicSize: dicSize})
	if err := dec.InitRangeCoder(packed); err != nil {
		return fmt.Errorf("folder: LZMA range coder init: %w", err)
	}
	if _, err := dec.DecodeToPos(len(out)); err != nil {
		return fmt.Errorf("folder: LZMA decode: %w", err)
	}
	if dec.OutPos() != len(out) {
		return fmt.Errorf("%w: LZMA coder produced wrong output length", ErrData)
	}
	return nil
}

func decodeLZMA2(props, packed, out []byte) error {
	if len(props) != 1 {
		return fmt.Errorf("%w: LZMA2 properties must be 1 byte", ErrData)
	}
	dicSize, err := lzma2.DicSizeFromProp(props[0])
	if err != nil {
		return err
	}
	return lzma2.Decode(packed, out, dicSize)
}

func applyFilter(coder header.CoderInfo, buf []byte) error {
	switch coder.MethodID {
	case header.MethodBCJ:
		filters.X86(buf, 0, false)
		return nil
	case header.MethodARM:
		filters.ARM(buf, 0, false)
		return nil
	default:
		return fmt.Errorf("%w: filter method 0x%X", ErrUnsupported, coder.MethodID)
	}
}

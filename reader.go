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

// Package sevenzip reads the 7z archive container format: LZMA/LZMA2
// compressed streams, the Copy pseudo-codec, and the BCJ/BCJ2/ARM branch
// filters, enough to locate and extract a single file from an in-memory or
// file-backed archive image with full CRC-32 verification.
package sevenzip

import (
	lebinary "encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/ZaparooProject/go-sevenzip/internal/binary"
	"github.com/ZaparooProject/go-sevenzip/internal/folder"
	"github.com/ZaparooProject/go-sevenzip/internal/header"
	"github.com/ZaparooProject/go-sevenzip/internal/lzma"
	"github.com/ZaparooProject/go-sevenzip/internal/lzma2"
	"github.com/ZaparooProject/go-sevenzip/internal/rangecoder"
	"github.com/ZaparooProject/go-sevenzip/internal/source"
	"github.com/spf13/afero"
)

// signatureScanLimit is the maximum distance into the source searched for
// the 7z signature, tolerating an SFX stub prepended to the archive.
const signatureScanLimit = 2 << 20

// startHeaderSize is the length of the fixed-layout start header counted
// from the first signature byte: the 6-byte signature, major/minor version,
// a CRC over the following 20 bytes, then the next-header offset/size/CRC.
const startHeaderSize = 32

// sevenZTail is the signature's bytes after the leading '7', compared
// separately so a statically-linked caller embedding this same byte
// sequence in its own read-only data never false-positives against itself.
var sevenZTail = []byte{'z', 0xBC, 0xAF, 0x27, 0x1C}

// noCachedFolder marks the extraction cache as empty.
const noCachedFolder = -1

// Reader is an opened 7z archive: its parsed index plus the per-extraction
// decoded-folder cache (§3, §5).
type Reader struct {
	src        source.Source
	r          *source.Reader
	idx        *header.ArchiveIndex
	dataOrigin uint64 // startPosAfterHeader: byte following the 32-byte start header

	cacheFolder int
	cacheBuf    []byte
}

// Open locates the 7z signature in src, parses its header (transparently
// decoding an encoded header if present), and returns a Reader ready for
// FileMeta/Extract calls.
func Open(src source.Source) (*Reader, error) {
	r := source.NewReader(src)

	sigOffset, err := findSignature(src)
	if err != nil {
		return nil, err
	}

	// sigHash is reused across both the start-header and next-header CRC
	// checks, fed by a single CRCTee wrapping src: the checksum accrues as
	// the relevant bytes are actually read off the source, rather than
	// being recomputed over an already-buffered copy. Mirrors the teacher's
	// own init(), which tees one crc32.NewIEEE() hash through every
	// signature-header/header read and resets it between sections.
	sigHash := crc32.NewIEEE()
	teed := source.CRCTee(src, sigHash)

	preamble, err := binary.ReadBytesAt(src, sigOffset, 12)
	if err != nil {
		return nil, newError(CodeNoArchive, "reading start header", err)
	}
	if preamble[6] != 0 {
		return nil, newError(CodeUnsupported, fmt.Sprintf("archive version %d.%d", preamble[6], preamble[7]), nil)
	}
	storedCRC := lebinary.LittleEndian.Uint32(preamble[8:12])

	sigHash.Reset()
	tail, err := binary.ReadBytesAt(teed, sigOffset+12, 20)
	if err != nil {
		return nil, newError(CodeNoArchive, "reading start header", err)
	}
	if sigHash.Sum32() != storedCRC {
		return nil, newError(CodeCRC, "start header", nil)
	}
	nextHeaderOffset := lebinary.LittleEndian.Uint64(tail[0:8])
	nextHeaderSize := lebinary.LittleEndian.Uint64(tail[8:16])
	nextHeaderCRC := lebinary.LittleEndian.Uint32(tail[16:20])

	dataOrigin := uint64(sigOffset) + startHeaderSize //nolint:gosec // sigOffset is bounded by signatureScanLimit

	out := &Reader{src: src, r: r, dataOrigin: dataOrigin, cacheFolder: noCachedFolder}

	if nextHeaderSize == 0 {
		out.idx = &header.ArchiveIndex{}
		return out, nil
	}

	nextHeaderPos := dataOrigin + nextHeaderOffset
	if nextHeaderPos > uint64(src.Size()) || nextHeaderSize > uint64(src.Size())-nextHeaderPos { //nolint:gosec // Size() is non-negative
		return nil, newError(CodeArchive, "next header out of bounds", nil)
	}
	sigHash.Reset()
	headerBuf, err := binary.ReadBytesAt(teed, int64(nextHeaderPos), int(nextHeaderSize)) //nolint:gosec // bounds checked above
	if err != nil {
		return nil, newError(CodeInputEOF, "reading next header", err)
	}
	if sigHash.Sum32() != nextHeaderCRC {
		return nil, newError(CodeCRC, "next header", nil)
	}

	decodeFn := func(pi header.PackInfo, folders []header.Folder) ([]byte, error) {
		idx2 := header.BuildPackIndex(pi, folders)
		return folder.Decode(r, idx2, dataOrigin+pi.DataOffset, 0)
	}
	idx, err := header.ParseOuter(headerBuf, decodeFn)
	if err != nil {
		return nil, wrapHeaderError(err)
	}
	out.idx = idx
	return out, nil
}

// OpenReader opens the 7z archive at name on the local filesystem, mirroring
// bodgit/sevenzip's own OpenReader convenience constructor: name is resolved
// through afero.NewOsFs() rather than the os package directly, so the same
// Source plumbing backs both this and a test fixture built on
// afero.NewMemMapFs. The caller must Close the returned Reader.
func OpenReader(name string) (*Reader, error) {
	src, err := source.NewFileSource(afero.NewOsFs(), name)
	if err != nil {
		return nil, newError(CodeRead, "opening file", err)
	}
	r, err := Open(src)
	if err != nil {
		if c, ok := src.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return r, nil
}

// findSignature scans the first signatureScanLimit bytes of src for the 7z
// signature, returning its absolute offset. The leading '7' byte and the
// five-byte sevenZTail are compared separately, rather than as one 6-byte
// literal, so a statically-linked caller carrying this same byte sequence in
// its own rodata never matches its own copy before the real archive's.
func findSignature(src source.Source) (int64, error) {
	limit := src.Size()
	if limit > signatureScanLimit {
		limit = signatureScanLimit
	}
	if limit < 6 {
		return 0, newError(CodeNoArchive, "source too small for a 7z signature", nil)
	}
	buf := make([]byte, limit)
	n, err := src.ReadAt(buf, 0)
	if err != nil && n < 6 {
		return 0, newError(CodeRead, "reading signature search window", err)
	}
	buf = buf[:n]
	for i := 0; i+6 <= len(buf); i++ {
		if buf[i] == '7' && binary.BytesEqual(buf[i+1:i+6], sevenZTail) {
			return int64(i), nil
		}
	}
	return 0, newError(CodeNoArchive, "7z signature not found", nil)
}

// NumFiles returns the archive's total file-table entry count.
func (r *Reader) NumFiles() int { return len(r.idx.Files) }

// FileMeta returns file i's metadata.
func (r *Reader) FileMeta(i int) header.FileItem { return r.idx.Files[i] }

// FileNameUtf16 returns file i's name as raw UTF-16LE code units, excluding
// the trailing NUL.
func (r *Reader) FileNameUtf16(i int) []uint16 { return r.idx.FileName(i) }

// Extract decodes (or reuses the cached decode of) file i's folder and
// returns the slice of that folder's output holding file i's bytes,
// verifying the file's CRC if declared. The returned slice aliases the
// Reader's internal cache and is invalidated by the next Extract call that
// targets a different folder.
func (r *Reader) Extract(i int) ([]byte, error) {
	if i < 0 || i >= len(r.idx.Files) {
		return nil, newError(CodeParam, "file index out of range", nil)
	}
	file := r.idx.Files[i]
	if !file.HasStream {
		return nil, nil
	}

	folderIndex := r.idx.FileIndexToFolderIndexMap[i]
	if folderIndex < 0 {
		return nil, newError(CodeArchive, "file has a stream but no folder", nil)
	}

	if folderIndex != r.cacheFolder {
		buf, err := folder.Decode(r.r, r.idx, r.dataOrigin+r.idx.PackPos, folderIndex)
		if err != nil {
			return nil, wrapFolderError(err)
		}
		r.cacheBuf = buf
		r.cacheFolder = folderIndex
	}

	offset := r.fileOffsetInFolder(i, folderIndex)
	end := offset + file.Size
	if end > uint64(len(r.cacheBuf)) { //nolint:gosec // cacheBuf length is non-negative
		return nil, newError(CodeArchive, "file extent exceeds folder output", nil)
	}
	slice := r.cacheBuf[offset:end]

	if file.CrcDefined && crcOf(slice) != file.Crc {
		return nil, newError(CodeCRC, fmt.Sprintf("file %d", i), nil)
	}
	return slice, nil
}

// fileOffsetInFolder sums the sizes of every earlier file sharing fileIndex's
// folder to find its byte offset within the folder's decoded output.
func (r *Reader) fileOffsetInFolder(fileIndex, folderIndex int) uint64 {
	var offset uint64
	start := r.idx.FolderStartFileIndex[folderIndex]
	for j := start; j < fileIndex; j++ {
		if r.idx.FileIndexToFolderIndexMap[j] != folderIndex {
			break
		}
		if r.idx.Files[j].HasStream {
			offset += r.idx.Files[j].Size
		}
	}
	return offset
}

// Close releases the underlying source, if it owns a closable resource
// (a file-backed Source); a purely in-memory source is a no-op.
func (r *Reader) Close() error {
	if c, ok := r.src.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// wrapHeaderError classifies an error surfaced from internal/header parsing.
func wrapHeaderError(err error) error {
	switch {
	case errors.Is(err, header.ErrUnsupported):
		return newError(CodeUnsupported, "header", err)
	case errors.Is(err, header.ErrArchive):
		return newError(CodeArchive, "header", err)
	case errors.Is(err, source.ErrInputEOF):
		return newError(CodeInputEOF, "header", err)
	case errors.Is(err, source.ErrRead):
		return newError(CodeRead, "header", err)
	default:
		return newError(CodeFail, "header", err)
	}
}

// wrapFolderError classifies an error surfaced from folder decoding.
func wrapFolderError(err error) error {
	switch {
	case errors.Is(err, folder.ErrCRC):
		return newError(CodeCRC, "folder", err)
	case errors.Is(err, folder.ErrUnsupported):
		return newError(CodeUnsupported, "folder", err)
	case errors.Is(err, folder.ErrData):
		return newError(CodeData, "folder", err)
	case errors.Is(err, lzma.ErrUnsupportedProps), errors.Is(err, lzma2.ErrCorruptChunk):
		return newError(CodeData, "folder", err)
	case errors.Is(err, lzma.ErrDataError), errors.Is(err, rangecoder.ErrInputEOF):
		return newError(CodeData, "folder", err)
	case errors.Is(err, source.ErrInputEOF):
		return newError(CodeInputEOF, "folder", err)
	case errors.Is(err, source.ErrRead):
		return newError(CodeRead, "folder", err)
	default:
		return newError(CodeFail, "folder", err)
	}
}

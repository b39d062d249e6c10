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

// Package header parses the 7z variable-length, tag-driven header format:
// pack/unpack stream descriptions, folder (decoder pipeline) graphs, and
// per-file metadata.
package header

// CoderInfo describes one coder within a folder: its method identifier, the
// number of input/output streams it exposes (usually 1/1; 4/1 for BCJ2),
// and an opaque properties blob (5 bytes for LZMA, 1 for LZMA2).
type CoderInfo struct {
	MethodID      uint64
	NumInStreams  int
	NumOutStreams int
	Properties    []byte
}

// BindPair connects an output stream of one coder to an input stream of
// another, both addressed in the folder's flattened, cumulative stream
// index space.
type BindPair struct {
	InIndex  int
	OutIndex int
}

// Folder is one decoder-pipeline description: an ordered coder list, the
// bind-pairs wiring their streams together, the folder-local pack-stream
// index list (inputs fed from outside the folder), and one declared unpack
// size per coder output stream.
type Folder struct {
	Coders            []CoderInfo
	BindPairs         []BindPair
	PackStreams       []int
	UnpackSizes       []uint64
	UnpackCRCDefined  bool
	UnpackCRC         uint32
	NumUnpackStreams  int
}

// NumOutStreams returns the total output-stream count across all coders.
func (f *Folder) NumOutStreams() int {
	n := 0
	for _, c := range f.Coders {
		n += c.NumOutStreams
	}
	return n
}

// NumInStreams returns the total input-stream count across all coders.
func (f *Folder) NumInStreams() int {
	n := 0
	for _, c := range f.Coders {
		n += c.NumInStreams
	}
	return n
}

// FindBindPairForInStream returns the bind-pair index binding the given
// global input-stream index, or -1 if it is fed by a pack stream instead.
func (f *Folder) FindBindPairForInStream(in int) int {
	for i, bp := range f.BindPairs {
		if bp.InIndex == in {
			return i
		}
	}
	return -1
}

// FindBindPairForOutStream returns the bind-pair index consuming the given
// global output-stream index, or -1 if it is the folder's final output.
func (f *Folder) FindBindPairForOutStream(out int) int {
	for i, bp := range f.BindPairs {
		if bp.OutIndex == out {
			return i
		}
	}
	return -1
}

// MainOutIndex returns the global output-stream index that is the folder's
// final decoded product: the highest-indexed output not consumed by any
// bind-pair.
func (f *Folder) MainOutIndex() int {
	for i := f.NumOutStreams() - 1; i >= 0; i-- {
		if f.FindBindPairForOutStream(i) < 0 {
			return i
		}
	}
	return -1
}

// UnpackSize returns the declared size of the folder's main output stream.
func (f *Folder) UnpackSize() uint64 {
	i := f.MainOutIndex()
	if i < 0 {
		return 0
	}
	return f.UnpackSizes[i]
}

// PackInfo is the parsed PackInfo section: the data origin and the sizes
// (and optional CRCs) of every pack stream in the archive.
type PackInfo struct {
	DataOffset      uint64
	PackSizes       []uint64
	PackCRCsDefined []bool
	PackCRCs        []uint32
}

// FileItem is one entry in the archive's file table.
type FileItem struct {
	Size          uint64
	HasStream     bool
	IsDir         bool
	CrcDefined    bool
	Crc           uint32
	AttribDefined bool
	Attrib        uint32
	MTimeDefined  bool
	MTimeLow      uint32
	MTimeHigh     uint32
}

// ArchiveIndex is the fully parsed, self-contained table built from the
// outer 7z header: pack-stream layout, folder graphs, file metadata and the
// auxiliary prefix-sum tables used to map a file to its folder and byte
// range.
type ArchiveIndex struct {
	PackPos         uint64
	PackSizes       []uint64
	PackCRCsDefined []bool
	PackCRCs        []uint32
	Folders         []Folder
	Files           []FileItem

	FolderStartPackStreamIndex []int
	PackStreamStartPositions   []uint64
	FolderStartFileIndex       []int
	FileIndexToFolderIndexMap  []int

	// NameBlob is the contiguous UTF-16LE filename blob straight out of
	// the header; FileNameOffsets indexes into it in uint16 units.
	NameBlob        []uint16
	FileNameOffsets []int
}

// noFolder is the FileIndexToFolderIndexMap sentinel for an empty file.
const noFolder = -1

// FileName returns file i's name as a raw UTF-16LE code-unit slice,
// excluding the trailing NUL.
func (idx *ArchiveIndex) FileName(i int) []uint16 {
	start := idx.FileNameOffsets[i]
	end := idx.FileNameOffsets[i+1]
	if end > start && idx.NameBlob[end-1] == 0 {
		end--
	}
	return idx.NameBlob[start:end]
}

// FolderPackStreamSize returns the size of the streamIndex-th pack stream
// consumed by folder folderIndex.
func (idx *ArchiveIndex) FolderPackStreamSize(folderIndex, streamIndex int) uint64 {
	return idx.PackSizes[idx.FolderStartPackStreamIndex[folderIndex]+streamIndex]
}

// FolderStreamPos returns the absolute archive-body offset of the
// streamIndex-th pack stream consumed by folder folderIndex.
func (idx *ArchiveIndex) FolderStreamPos(dataPos uint64, folderIndex, streamIndex int) uint64 {
	return dataPos + idx.PackStreamStartPositions[idx.FolderStartPackStreamIndex[folderIndex]+streamIndex]
}

// Method identifiers recognised by this reader (§6).
const (
	MethodCopy = 0x00
	MethodLZMA2 = 0x21
	MethodLZMA  = 0x030101
	MethodBCJ   = 0x03030103
	MethodBCJ2  = 0x0303011B
	MethodARM   = 0x03030501
)

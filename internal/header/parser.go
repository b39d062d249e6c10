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
	"fmt"
)

const (
	maxFolderCoders = 32
	maxCoderStreams = 32
)

// Parse reads a complete outer (or encoded-header-decoded) 7z header from
// buf and returns the resulting archive index. Coder property blobs in the
// index are sub-slices of buf; file names are copied into the index's own
// NameBlob, which FileName views reference.
func Parse(buf []byte) (*ArchiveIndex, error) {
	c := NewCursor(buf)
	id, err := c.ReadID()
	if err != nil {
		return nil, err
	}
	if id != idHeader {
		return nil, fmt.Errorf("%w: expected Header tag, got %d", ErrArchive, id)
	}
	return readHeader(c)
}

func readHeader(c *Cursor) (*ArchiveIndex, error) {
	idx := &ArchiveIndex{}

	id, err := c.ReadID()
	if err != nil {
		return nil, err
	}

	if id == idArchiveProperties {
		if err := readArchiveProperties(c); err != nil {
			return nil, err
		}
		id, err = c.ReadID()
		if err != nil {
			return nil, err
		}
	}

	if id == idAdditionalStreamsInfo {
		return nil, fmt.Errorf("%w: additional streams info", ErrUnsupported)
	}

	var numUnpackStreamsTotal int
	var subSizes []uint64
	var subDefined []bool
	var subCRCs []uint32

	if id == idMainStreamsInfo {
		n, sizes, defined, crcs, err := readStreamsInfo(c, idx)
		if err != nil {
			return nil, err
		}
		numUnpackStreamsTotal = n
		subSizes, subDefined, subCRCs = sizes, defined, crcs
		id, err = c.ReadID()
		if err != nil {
			return nil, err
		}
	}

	if id == idEnd {
		return idx, nil
	}
	if id != idFilesInfo {
		return nil, fmt.Errorf("%w: expected FilesInfo tag, got %d", ErrArchive, id)
	}

	if err := readFilesInfo(c, idx, numUnpackStreamsTotal, subSizes, subDefined, subCRCs); err != nil {
		return nil, err
	}

	fill(idx)
	return idx, nil
}

func readArchiveProperties(c *Cursor) error {
	for {
		id, err := c.ReadID()
		if err != nil {
			return err
		}
		if id == idEnd {
			return nil
		}
		if err := c.SkipData(); err != nil {
			return err
		}
	}
}

// readStreamsInfo parses PackInfo/UnpackInfo/SubStreamsInfo and returns the
// substream bookkeeping SubStreamsInfo produces (needed later by
// readFilesInfo to populate FileItem.Size/Crc).
func readStreamsInfo(c *Cursor, idx *ArchiveIndex) (numUnpackStreams int, unpackSizes []uint64, digestsDefined []bool, digests []uint32, err error) {
	for {
		id, err := c.ReadID()
		if err != nil {
			return 0, nil, nil, nil, err
		}
		switch id {
		case idEnd:
			return numUnpackStreams, unpackSizes, digestsDefined, digests, nil
		case idPackInfo:
			pi, err := readPackInfo(c)
			if err != nil {
				return 0, nil, nil, nil, err
			}
			idx.PackPos = pi.DataOffset
			idx.PackSizes = pi.PackSizes
			idx.PackCRCsDefined = pi.PackCRCsDefined
			idx.PackCRCs = pi.PackCRCs
		case idUnpackInfo:
			folders, err := readUnpackInfo(c)
			if err != nil {
				return 0, nil, nil, nil, err
			}
			idx.Folders = folders
		case idSubStreamsInfo:
			n, sizes, defined, crcs, err := readSubStreamsInfo(c, idx.Folders)
			if err != nil {
				return 0, nil, nil, nil, err
			}
			numUnpackStreams, unpackSizes, digestsDefined, digests = n, sizes, defined, crcs
		default:
			return 0, nil, nil, nil, fmt.Errorf("%w: unexpected tag %d in streams info", ErrUnsupported, id)
		}
	}
}

func readPackInfo(c *Cursor) (PackInfo, error) {
	var pi PackInfo
	dataOffset, err := c.ReadNumber()
	if err != nil {
		return pi, err
	}
	numPackStreams, err := c.ReadNumber32()
	if err != nil {
		return pi, err
	}
	if err := c.WaitAttribute(idSize); err != nil {
		return pi, err
	}
	sizes := make([]uint64, numPackStreams)
	for i := range sizes {
		v, err := c.ReadNumber()
		if err != nil {
			return pi, err
		}
		sizes[i] = v
	}
	pi.DataOffset = dataOffset
	pi.PackSizes = sizes

	for {
		id, err := c.ReadID()
		if err != nil {
			return pi, err
		}
		if id == idEnd {
			break
		}
		if id == idCRC {
			defined, crcs, err := c.ReadHashDigests(int(numPackStreams))
			if err != nil {
				return pi, err
			}
			pi.PackCRCsDefined = defined
			pi.PackCRCs = crcs
			continue
		}
		if err := c.SkipData(); err != nil {
			return pi, err
		}
	}
	if pi.PackCRCsDefined == nil {
		pi.PackCRCsDefined = make([]bool, numPackStreams)
		pi.PackCRCs = make([]uint32, numPackStreams)
	}
	return pi, nil
}

func readUnpackInfo(c *Cursor) ([]Folder, error) {
	if err := c.WaitAttribute(idFolder); err != nil {
		return nil, err
	}
	numFolders, err := c.ReadNumber32()
	if err != nil {
		return nil, err
	}
	if err := c.ReadSwitch(); err != nil {
		return nil, err
	}
	folders := make([]Folder, numFolders)
	for i := range folders {
		f, err := readFolder(c)
		if err != nil {
			return nil, err
		}
		folders[i] = f
	}

	if err := c.WaitAttribute(idCodersUnpackSize); err != nil {
		return nil, err
	}
	for i := range folders {
		n := folders[i].NumOutStreams()
		sizes := make([]uint64, n)
		for j := range sizes {
			v, err := c.ReadNumber()
			if err != nil {
				return nil, err
			}
			sizes[j] = v
		}
		folders[i].UnpackSizes = sizes
	}

	for {
		id, err := c.ReadID()
		if err != nil {
			return nil, err
		}
		if id == idEnd {
			return folders, nil
		}
		if id == idCRC {
			defined, crcs, err := c.ReadHashDigests(int(numFolders))
			if err != nil {
				return nil, err
			}
			for i := range folders {
				folders[i].UnpackCRCDefined = defined[i]
				folders[i].UnpackCRC = crcs[i]
			}
			continue
		}
		if err := c.SkipData(); err != nil {
			return nil, err
		}
	}
}

func readFolder(c *Cursor) (Folder, error) {
	var f Folder
	numCoders, err := c.ReadNumber32()
	if err != nil {
		return f, err
	}
	if numCoders > maxFolderCoders {
		return f, fmt.Errorf("%w: %d coders exceeds limit", ErrUnsupported, numCoders)
	}
	coders := make([]CoderInfo, numCoders)
	var numInStreams, numOutStreams int

	for i := range coders {
		mainByte, err := c.ReadByte()
		if err != nil {
			return f, err
		}
		idSize := int(mainByte & 0xF)
		idBytes, err := c.ReadBytes(idSize)
		if err != nil {
			return f, err
		}
		if idSize > 8 {
			return f, fmt.Errorf("%w: method id longer than 8 bytes", ErrUnsupported)
		}
		var methodID uint64
		for j, b := range idBytes {
			methodID |= uint64(b) << (8 * (idSize - 1 - j))
		}
		coder := CoderInfo{MethodID: methodID}

		if mainByte&0x10 != 0 {
			ni, err := c.ReadNumber32()
			if err != nil {
				return f, err
			}
			no, err := c.ReadNumber32()
			if err != nil {
				return f, err
			}
			if ni > maxCoderStreams || no > maxCoderStreams {
				return f, fmt.Errorf("%w: coder stream count exceeds limit", ErrUnsupported)
			}
			coder.NumInStreams = int(ni)
			coder.NumOutStreams = int(no)
		} else {
			coder.NumInStreams = 1
			coder.NumOutStreams = 1
		}

		if mainByte&0x20 != 0 {
			propsSize, err := c.ReadNumber()
			if err != nil {
				return f, err
			}
			props, err := c.ReadBytes(int(propsSize))
			if err != nil {
				return f, err
			}
			coder.Properties = props
		}

		for mainByte&0x80 != 0 {
			mainByte, err = c.ReadByte()
			if err != nil {
				return f, err
			}
			if err := c.Skip(int(mainByte & 0xF)); err != nil {
				return f, err
			}
			if mainByte&0x10 != 0 {
				if _, err := c.ReadNumber32(); err != nil {
					return f, err
				}
				if _, err := c.ReadNumber32(); err != nil {
					return f, err
				}
			}
			if mainByte&0x20 != 0 {
				propsSize, err := c.ReadNumber()
				if err != nil {
					return f, err
				}
				if err := c.Skip(int(propsSize)); err != nil {
					return f, err
				}
			}
		}

		coders[i] = coder
		numInStreams += coder.NumInStreams
		numOutStreams += coder.NumOutStreams
	}
	if numOutStreams == 0 {
		return f, fmt.Errorf("%w: folder with no output streams", ErrUnsupported)
	}
	f.Coders = coders

	numBindPairs := numOutStreams - 1
	bindPairs := make([]BindPair, numBindPairs)
	for i := range bindPairs {
		in, err := c.ReadNumber32()
		if err != nil {
			return f, err
		}
		out, err := c.ReadNumber32()
		if err != nil {
			return f, err
		}
		bindPairs[i] = BindPair{InIndex: int(in), OutIndex: int(out)}
	}
	f.BindPairs = bindPairs

	if numInStreams < numBindPairs {
		return f, fmt.Errorf("%w: fewer input streams than bind pairs", ErrUnsupported)
	}
	numPackStreams := numInStreams - numBindPairs
	packStreams := make([]int, numPackStreams)
	if numPackStreams == 1 {
		found := -1
		for i := range numInStreams {
			if f.FindBindPairForInStream(i) < 0 {
				found = i
				break
			}
		}
		if found < 0 {
			return f, fmt.Errorf("%w: no free input stream for sole pack stream", ErrUnsupported)
		}
		packStreams[0] = found
	} else {
		for i := range packStreams {
			v, err := c.ReadNumber32()
			if err != nil {
				return f, err
			}
			packStreams[i] = int(v)
		}
	}
	f.PackStreams = packStreams
	return f, nil
}

func readSubStreamsInfo(c *Cursor, folders []Folder) (numUnpackStreams int, unpackSizes []uint64, digestsDefined []bool, digests []uint32, err error) {
	for i := range folders {
		folders[i].NumUnpackStreams = 1
	}
	numUnpackStreams = len(folders)

	id, err := c.ReadID()
	if err != nil {
		return 0, nil, nil, nil, err
	}
	if id == idNumUnpackStream {
		numUnpackStreams = 0
		for i := range folders {
			n, err := c.ReadNumber32()
			if err != nil {
				return 0, nil, nil, nil, err
			}
			folders[i].NumUnpackStreams = int(n)
			numUnpackStreams += int(n)
		}
		id, err = c.ReadID()
		if err != nil {
			return 0, nil, nil, nil, err
		}
	}
	for id != idCRC && id != idSize && id != idEnd {
		if err := c.SkipData(); err != nil {
			return 0, nil, nil, nil, err
		}
		id, err = c.ReadID()
		if err != nil {
			return 0, nil, nil, nil, err
		}
	}

	unpackSizes = make([]uint64, numUnpackStreams)
	si := 0
	for i := range folders {
		numSubstreams := folders[i].NumUnpackStreams
		if numSubstreams == 0 {
			continue
		}
		var sum uint64
		if id == idSize {
			for range numSubstreams - 1 {
				v, err := c.ReadNumber()
				if err != nil {
					return 0, nil, nil, nil, err
				}
				unpackSizes[si] = v
				si++
				sum += v
			}
		}
		unpackSizes[si] = folders[i].UnpackSize() - sum
		si++
	}
	if id == idSize {
		id, err = c.ReadID()
		if err != nil {
			return 0, nil, nil, nil, err
		}
	}

	digestsDefined = make([]bool, numUnpackStreams)
	digests = make([]uint32, numUnpackStreams)

	var numDigests int
	for i := range folders {
		n := folders[i].NumUnpackStreams
		if n != 1 || !folders[i].UnpackCRCDefined {
			numDigests += n
		}
	}

	si = 0
	for {
		switch id {
		case idCRC:
			defined2, digests2, err := c.ReadHashDigests(numDigests)
			if err != nil {
				return 0, nil, nil, nil, err
			}
			digestIndex := 0
			for i := range folders {
				n := folders[i].NumUnpackStreams
				if n == 1 && folders[i].UnpackCRCDefined {
					digestsDefined[si] = true
					digests[si] = folders[i].UnpackCRC
					si++
					continue
				}
				for range n {
					digestsDefined[si] = defined2[digestIndex]
					digests[si] = digests2[digestIndex]
					si++
					digestIndex++
				}
			}
		case idEnd:
			return numUnpackStreams, unpackSizes, digestsDefined, digests, nil
		default:
			if err := c.SkipData(); err != nil {
				return 0, nil, nil, nil, err
			}
		}
		id, err = c.ReadID()
		if err != nil {
			return 0, nil, nil, nil, err
		}
	}
}

func readFilesInfo(c *Cursor, idx *ArchiveIndex, numUnpackStreams int, unpackSizes []uint64, digestsDefined []bool, digests []uint32) error {
	numFiles, err := c.ReadNumber32()
	if err != nil {
		return err
	}
	files := make([]FileItem, numFiles)
	for i := range files {
		files[i].Attrib = 0xFFFFFFFF
	}

	var emptyStreamVector []bool
	var emptyFileVector []bool
	var numEmptyStreams int

	for {
		id, err := c.ReadID()
		if err != nil {
			return err
		}
		if id == idEnd {
			break
		}
		size, err := c.ReadNumber()
		if err != nil {
			return err
		}
		if size > uint64(c.Remaining()) {
			return fmt.Errorf("%w: FilesInfo subsection size overruns header", ErrArchive)
		}
		subStart := c.pos
		switch id {
		case idName:
			if err := c.ReadSwitch(); err != nil {
				return err
			}
			namesSize := int(size) - 1
			if namesSize%2 != 0 {
				return fmt.Errorf("%w: odd-length name blob", ErrArchive)
			}
			raw, err := c.ReadBytes(namesSize)
			if err != nil {
				return err
			}
			blob := make([]uint16, namesSize/2)
			for i := range blob {
				blob[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
			}
			offsets := make([]int, numFiles+1)
			pos := 0
			for i := range int(numFiles) {
				offsets[i] = pos
				for {
					if pos >= len(blob) {
						return fmt.Errorf("%w: unterminated file name", ErrArchive)
					}
					unit := blob[pos]
					pos++
					if unit == 0 {
						break
					}
				}
			}
			offsets[numFiles] = pos
			if pos != len(blob) {
				return fmt.Errorf("%w: trailing bytes after file names", ErrArchive)
			}
			idx.NameBlob = blob
			idx.FileNameOffsets = offsets
		case idEmptyStream:
			v, err := c.ReadBoolVector(int(numFiles))
			if err != nil {
				return err
			}
			emptyStreamVector = v
			numEmptyStreams = 0
			for _, b := range v {
				if b {
					numEmptyStreams++
				}
			}
		case idEmptyFile:
			v, err := c.ReadBoolVector(numEmptyStreams)
			if err != nil {
				return err
			}
			emptyFileVector = v
		case idWinAttributes:
			defined, err := c.ReadBoolVector2(int(numFiles))
			if err != nil {
				return err
			}
			if err := c.ReadSwitch(); err != nil {
				return err
			}
			for i := range files {
				if defined[i] {
					v, err := c.ReadUInt32()
					if err != nil {
						return err
					}
					files[i].Attrib = v
					files[i].AttribDefined = true
				}
			}
		case idMTime:
			defined, err := c.ReadBoolVector2(int(numFiles))
			if err != nil {
				return err
			}
			if err := c.ReadSwitch(); err != nil {
				return err
			}
			for i := range files {
				if defined[i] {
					low, err := c.ReadUInt32()
					if err != nil {
						return err
					}
					high, err := c.ReadUInt32()
					if err != nil {
						return err
					}
					files[i].MTimeDefined = true
					files[i].MTimeLow = low
					files[i].MTimeHigh = high
				}
			}
		default:
			if err := c.Skip(int(size)); err != nil {
				return err
			}
		}
		consumed := c.pos - subStart
		if consumed != int(size) {
			return fmt.Errorf("%w: FilesInfo subsection %d declared size %d, consumed %d", ErrArchive, id, size, consumed)
		}
	}

	sizeIndex := 0
	emptyFileIndex := 0
	for i := range files {
		file := &files[i]
		file.HasStream = emptyStreamVector == nil || !emptyStreamVector[i]
		if file.HasStream {
			file.IsDir = false
			file.Size = unpackSizes[sizeIndex]
			file.Crc = digests[sizeIndex]
			file.CrcDefined = digestsDefined[sizeIndex]
			sizeIndex++
		} else {
			file.IsDir = emptyFileVector == nil || !emptyFileVector[emptyFileIndex]
			file.Size = 0
			emptyFileIndex++
		}
	}
	idx.Files = files
	_ = numUnpackStreams
	return nil
}

func fill(idx *ArchiveIndex) {
	numFolders := len(idx.Folders)
	numPackStreams := len(idx.PackSizes)

	folderStartPackStreamIndex := make([]int, numFolders)
	startPos := 0
	for i := range numFolders {
		folderStartPackStreamIndex[i] = startPos
		startPos += idx.Folders[i].NumPackStreams()
	}
	idx.FolderStartPackStreamIndex = folderStartPackStreamIndex

	packStreamStartPositions := make([]uint64, numPackStreams)
	var startPosSize uint64
	for i := range numPackStreams {
		packStreamStartPositions[i] = startPosSize
		startPosSize += idx.PackSizes[i]
	}
	idx.PackStreamStartPositions = packStreamStartPositions

	numFiles := len(idx.Files)
	folderStartFileIndex := make([]int, numFolders)
	fileIndexToFolderIndexMap := make([]int, numFiles)

	folderIndex := 0
	indexInFolder := 0
	for i := range numFiles {
		file := &idx.Files[i]
		emptyStream := !file.HasStream
		if emptyStream && indexInFolder == 0 {
			fileIndexToFolderIndexMap[i] = noFolder
			continue
		}
		if indexInFolder == 0 {
			for {
				if folderIndex >= numFolders {
					fileIndexToFolderIndexMap[i] = noFolder
					break
				}
				folderStartFileIndex[folderIndex] = i
				if idx.Folders[folderIndex].NumUnpackStreams != 0 {
					break
				}
				folderIndex++
			}
		}
		fileIndexToFolderIndexMap[i] = folderIndex
		if emptyStream {
			continue
		}
		indexInFolder++
		if folderIndex < numFolders && indexInFolder >= idx.Folders[folderIndex].NumUnpackStreams {
			folderIndex++
			indexInFolder = 0
		}
	}
	idx.FolderStartFileIndex = folderStartFileIndex
	idx.FileIndexToFolderIndexMap = fileIndexToFolderIndexMap
}

// NumPackStreams returns the number of folder-local pack streams, i.e. the
// folder's external input count.
func (f *Folder) NumPackStreams() int { return len(f.PackStreams) }

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

import "fmt"

// DecodeFunc decodes the single folder described by pi/folders (a
// one-folder archive body, exactly as a normal folder extraction would)
// and returns its complete unpacked output. The archive facade supplies
// this so the header package never needs to import the folder decoder.
type DecodeFunc func(pi PackInfo, folders []Folder) ([]byte, error)

// BuildPackIndex assembles the minimal ArchiveIndex a folder decoder needs
// to locate folders[0]'s pack streams: just the pack-stream sizes and the
// prefix-sum auxiliary tables, with no file table. Used for the
// single-folder stream an EncodedHeader describes.
func BuildPackIndex(pi PackInfo, folders []Folder) *ArchiveIndex {
	idx := &ArchiveIndex{PackSizes: pi.PackSizes, Folders: folders}
	fill(idx)
	return idx
}

// ParseOuter reads the outer 7z header: if it begins with EncodedHeader,
// the referenced single-folder stream is decoded via decode and the real
// header is parsed recursively from its output; otherwise buf is parsed
// directly as a Header section.
func ParseOuter(buf []byte, decode DecodeFunc) (*ArchiveIndex, error) {
	c := NewCursor(buf)
	id, err := c.ReadID()
	if err != nil {
		return nil, err
	}

	if id == idEncodedHeader {
		tmp := &ArchiveIndex{}
		if _, _, _, _, err := readStreamsInfo(c, tmp); err != nil {
			return nil, err
		}
		if len(tmp.Folders) != 1 {
			return nil, fmt.Errorf("%w: encoded header must describe exactly one folder", ErrArchive)
		}
		pi := PackInfo{
			DataOffset:      tmp.PackPos,
			PackSizes:       tmp.PackSizes,
			PackCRCsDefined: tmp.PackCRCsDefined,
			PackCRCs:        tmp.PackCRCs,
		}
		real, err := decode(pi, tmp.Folders)
		if err != nil {
			return nil, err
		}
		return Parse(real)
	}

	if id != idHeader {
		return nil, fmt.Errorf("%w: expected Header tag, got %d", ErrArchive, id)
	}
	return readHeader(c)
}

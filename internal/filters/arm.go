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

// ARM applies (or reverses) the 32-bit ARM BCJ branch filter over data in
// place. Candidate instructions are 4-byte aligned words whose top byte is
// 0xEB (an unconditional BL); the embedded 24-bit word offset is rewritten
// between PC-relative and absolute addressing, mirroring ARM_Convert.
func ARM(data []byte, ip uint32, encoding bool) {
	if len(data) < 4 {
		return
	}
	i := 0
	for i <= len(data)-4 {
		if data[i+3] == 0xEB {
			src := uint32(data[i+2])<<16 | uint32(data[i+1])<<8 | uint32(data[i])
			src <<= 2
			var dest uint32
			if encoding {
				dest = src + (ip + uint32(i) + 8) //nolint:gosec // wraps intentionally, matches reference
			} else {
				dest = src - (ip + uint32(i) + 8)
			}
			dest >>= 2
			data[i+2] = byte(dest >> 16)
			data[i+1] = byte(dest >> 8)
			data[i] = byte(dest)
		}
		i += 4
	}
}

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

package sevenzip

import (
	"hash/crc32"
	"testing"
)

func TestCrcOf(t *testing.T) {
	t.Parallel()
	data := []byte("the quick brown fox jumps over the lazy dog")
	if got := crcOf(data); got != crc32.ChecksumIEEE(data) {
		t.Errorf("crcOf = %#x, want %#x", got, crc32.ChecksumIEEE(data))
	}
}

func TestCrcOfEmpty(t *testing.T) {
	t.Parallel()
	if got := crcOf(nil); got != 0 {
		t.Errorf("crcOf(nil) = %#x, want 0", got)
	}
}

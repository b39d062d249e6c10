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
	"bytes"
	"errors"
	"testing"
)

func TestX86RoundTrip(t *testing.T) {
	t.Parallel()
	original := []byte{
		0x90, 0xE8, 0x01, 0x02, 0x03, 0x00, 0xAA,
		0xE8, 0xFF, 0xEE, 0xDD, 0xFF, 0xBB, 0xCC,
	}
	data := append([]byte(nil), original...)
	X86(data, 0, true)
	if bytes.Equal(data, original) {
		t.Fatal("encoding did not change any candidate branch")
	}
	X86(data, 0, false)
	if !bytes.Equal(data, original) {
		t.Errorf("round trip mismatch:\n got  %x\n want %x", data, original)
	}
}

func TestX86ShortInputNoOp(t *testing.T) {
	t.Parallel()
	data := []byte{0xE8, 0x01, 0x02}
	want := append([]byte(nil), data...)
	X86(data, 0, true)
	if !bytes.Equal(data, want) {
		t.Errorf("short input was modified: got %x, want %x", data, want)
	}
}

func TestARMRoundTrip(t *testing.T) {
	t.Parallel()
	original := []byte{
		0x01, 0x02, 0x03, 0xEB,
		0x04, 0x05, 0x06, 0xEB,
		0x10, 0x20, 0x30, 0x40,
	}
	data := append([]byte(nil), original...)
	ARM(data, 0, true)
	if bytes.Equal(data, original) {
		t.Fatal("encoding did not change any candidate branch")
	}
	ARM(data, 0, false)
	if !bytes.Equal(data, original) {
		t.Errorf("round trip mismatch:\n got  %x\n want %x", data, original)
	}
}

func TestARMShortInputNoOp(t *testing.T) {
	t.Parallel()
	data := []byte{0xEB, 0x01, 0x02}
	want := append([]byte(nil), data...)
	ARM(data, 0, true)
	if !bytes.Equal(data, want) {
		t.Errorf("short input was modified: got %x, want %x", data, want)
	}
}

// TestDecodeBCJ2Call exercises the CALL-target branch: a single 0xE8 opcode
// byte from main, a control bit forced to 1 by a range-coder stream whose
// Code saturates high, and a 4-byte absolute call target, checking the
// rewritten relative displacement against a hand-computed value.
func TestDecodeBCJ2Call(t *testing.T) {
	t.Parallel()
	main := []byte{0xE8}
	call := []byte{0x00, 0x00, 0x00, 0x05} // absolute target 5
	jump := []byte{}
	rc := []byte{0, 0xFF, 0xFF, 0xFF, 0xFF} // forces the first DecodeBit to 1
	out := make([]byte, 5)

	if err := DecodeBCJ2(main, call, jump, rc, out, 0); err != nil {
		t.Fatalf("DecodeBCJ2: %v", err)
	}
	want := []byte{0xE8, 0x00, 0x00, 0x00, 0x00} // dest = 5 - (0+1+4) = 0
	if !bytes.Equal(out, want) {
		t.Errorf("out = %x, want %x", out, want)
	}
}

func TestDecodeBCJ2MainTruncated(t *testing.T) {
	t.Parallel()
	out := make([]byte, 1)
	rc := []byte{0, 0, 0, 0, 0}
	if err := DecodeBCJ2(nil, nil, nil, rc, out, 0); !errors.Is(err, ErrBCJ2Truncated) {
		t.Errorf("err = %v, want ErrBCJ2Truncated", err)
	}
}

func TestDecodeBCJ2CallStreamTruncated(t *testing.T) {
	t.Parallel()
	main := []byte{0xE8}
	rc := []byte{0, 0xFF, 0xFF, 0xFF, 0xFF}
	out := make([]byte, 5)
	if err := DecodeBCJ2(main, nil, nil, rc, out, 0); !errors.Is(err, ErrBCJ2Truncated) {
		t.Errorf("err = %v, want ErrBCJ2Truncated", err)
	}
}

func TestDecodeBCJ2RangeCoderInitError(t *testing.T) {
	t.Parallel()
	out := make([]byte, 1)
	if err := DecodeBCJ2(nil, nil, nil, []byte{0, 0}, out, 0); err == nil {
		t.Error("expected an error for a too-short range coder stream")
	}
}

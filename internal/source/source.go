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

// Package source separates the two capabilities the reference CLookToRead
// struct fused together (§9): an abstract "read at absolute offset" source,
// and a buffered look-ahead view over one.
package source

import (
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/bodgit/plumbing"
	"github.com/spf13/afero"
)

// ErrRead reports a failure to satisfy a read against the underlying
// source: a seek past its end, or an I/O error from a file-backed source.
var ErrRead = errors.New("source: read error")

// Source is an abstract seekable byte source (§4.G): anything that can
// report its total size and serve reads at an absolute byte offset.
type Source interface {
	io.ReaderAt
	Size() int64
}

// memSource is the common case: an archive already fully materialised in
// memory.
type memSource []byte

// NewMemSource wraps an in-memory byte slice as a Source.
func NewMemSource(data []byte) Source { return memSource(data) }

func (m memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m)) {
		return 0, fmt.Errorf("%w: offset %d out of range", ErrRead, off)
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m memSource) Size() int64 { return int64(len(m)) }

// fileSource backs Source with an afero.Fs file, mirroring bodgit/sevenzip's
// own use of afero.Fs in its file-opening path: the same reader works
// unmodified against afero.NewMemMapFs fixtures in tests and real files via
// afero.NewOsFs() without this package importing os directly.
type fileSource struct {
	f    afero.File
	size int64
}

// NewFileSource opens name on fs and wraps it as a Source. The caller is
// responsible for closing the returned Source if it implements io.Closer.
func NewFileSource(fs afero.Fs, name string) (Source, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return &fileSource{f: f, size: info.Size()}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileSource) Size() int64                             { return s.size }

// Close releases the underlying file handle.
func (s *fileSource) Close() error { return s.f.Close() }

// teeSource wraps a Source so that every byte actually read through it is
// also fed into an attached hash, eliminating a separate
// buffer-then-checksum pass for start-header and next-header verification.
type teeSource struct {
	io.ReaderAt
	size int64
}

// CRCTee returns a Source that mirrors src but additionally writes every
// byte read through it into h.
func CRCTee(src Source, h hash.Hash32) Source {
	return &teeSource{ReaderAt: plumbing.TeeReaderAt(src, h), size: src.Size()}
}

func (t *teeSource) Size() int64 { return t.size }

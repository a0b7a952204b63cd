// Copyright (C) 2024 rico3 contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package source provides the byte sources the scanner reads from: a
// regular file opened sequentially, and a process-memory range located by
// mapping size. Both satisfy Source, which is exactly the subset of
// io.Reader/io.Closer the scanner needs.
package source

import (
	"io"
	"os"
)

// Source is a sequential byte source the Scanner reads in fixed-size
// chunks until EOF or error.
type Source interface {
	io.Reader
	io.Closer
}

// FileSource wraps a regular file opened for sequential reading.
type FileSource struct {
	f *os.File
}

// OpenFile opens path for sequential reading.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f}, nil
}

func (s *FileSource) Read(p []byte) (int, error) { return s.f.Read(p) }
func (s *FileSource) Close() error               { return s.f.Close() }

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

//go:build linux

package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Mapping is one parsed /proc/<pid>/maps record.
type Mapping struct {
	Start, End uint64
	Perms      string
	Pathname   string
}

// Size returns the byte length of the mapping.
func (m Mapping) Size() uint64 { return m.End - m.Start }

// ReadMaps enumerates the memory mappings of pid by parsing
// /proc/<pid>/maps. This is the direct OS-primitive replacement for the
// "process-memory mapping enumeration" service spec.md calls out as an
// external collaborator: there is no separate process providing that
// service here, so this package owns the parse.
func ReadMaps(pid int) ([]Mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var maps []Mapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m, ok := parseMapsLine(sc.Text())
		if ok {
			maps = append(maps, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return maps, nil
}

// parseMapsLine parses one "start-end perms offset dev inode pathname"
// line from /proc/<pid>/maps.
func parseMapsLine(line string) (Mapping, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Mapping{}, false
	}
	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return Mapping{}, false
	}
	start, err := strconv.ParseUint(bounds[0], 16, 64)
	if err != nil {
		return Mapping{}, false
	}
	end, err := strconv.ParseUint(bounds[1], 16, 64)
	if err != nil {
		return Mapping{}, false
	}
	m := Mapping{Start: start, End: end, Perms: fields[1]}
	if len(fields) >= 6 {
		m.Pathname = fields[5]
	}
	return m, true
}

// ProcessMemorySource reads a fixed-size range of a target process's
// address space via /proc/<pid>/mem. The mapping is selected by size alone
// (spec.md §4.4: "Matching is by size alone; the tool does no content
// sniffing"), matching the first mapping whose size exactly equals want.
type ProcessMemorySource struct {
	fd       int
	cur, end uint64
}

// OpenProcessMemory locates the first memory mapping of pid whose size is
// exactly want bytes and returns a Source over that range.
func OpenProcessMemory(pid int, want uint64) (*ProcessMemorySource, error) {
	maps, err := ReadMaps(pid)
	if err != nil {
		return nil, fmt.Errorf("source: reading maps for pid %d: %w", pid, err)
	}
	var found *Mapping
	for i := range maps {
		if maps[i].Size() == want {
			found = &maps[i]
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("source: no mapping of size %d in pid %d", want, pid)
	}
	fd, err := unix.Open(fmt.Sprintf("/proc/%d/mem", pid), unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("source: opening /proc/%d/mem: %w", pid, err)
	}
	return &ProcessMemorySource{fd: fd, cur: found.Start, end: found.End}, nil
}

// Read implements io.Reader by issuing pread(2) calls at the current
// offset into the target's address space, advancing past what was read.
func (s *ProcessMemorySource) Read(p []byte) (int, error) {
	if s.cur >= s.end {
		return 0, io.EOF
	}
	remaining := s.end - s.cur
	if uint64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := unix.Pread(s.fd, p, int64(s.cur))
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	s.cur += uint64(n)
	return n, nil
}

// Close closes the underlying /proc/<pid>/mem file descriptor.
func (s *ProcessMemorySource) Close() error { return unix.Close(s.fd) }

// OpenRawMemoryRange opens /proc/<pid>/mem and returns a Source over
// [start, start+length), bypassing the /proc/<pid>/maps size match
// OpenProcessMemory does. internal/bufvis uses this: it already knows the
// exact address range it wants to read (bracketed by the buffer-header
// addresses it was given), so there is no mapping to look up by size.
func OpenRawMemoryRange(pid int, start, length uint64) (*ProcessMemorySource, error) {
	fd, err := unix.Open(fmt.Sprintf("/proc/%d/mem", pid), unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("source: opening /proc/%d/mem: %w", pid, err)
	}
	return &ProcessMemorySource{fd: fd, cur: start, end: start + length}, nil
}

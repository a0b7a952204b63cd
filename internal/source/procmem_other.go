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

//go:build !linux

package source

import "fmt"

// ProcessMemorySource is unavailable outside Linux; /proc/<pid>/mem has no
// portable equivalent this tool targets.
type ProcessMemorySource struct{}

// OpenProcessMemory always fails on non-Linux platforms.
func OpenProcessMemory(pid int, want uint64) (*ProcessMemorySource, error) {
	return nil, fmt.Errorf("source: process-memory scanning is only supported on linux")
}

func (s *ProcessMemorySource) Read(p []byte) (int, error) { return 0, fmt.Errorf("source: unsupported") }
func (s *ProcessMemorySource) Close() error                { return nil }

// OpenRawMemoryRange always fails on non-Linux platforms.
func OpenRawMemoryRange(pid int, start, length uint64) (*ProcessMemorySource, error) {
	return nil, fmt.Errorf("source: process-memory scanning is only supported on linux")
}

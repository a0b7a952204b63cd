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

// Package bufvis implements the "visualize buffers" diagnostic: given a
// text file of hex buffer-header addresses in a live process, it reads the
// byte range spanning all of them once, walks each address as a
// fixed-size cache-buffer-header structure, and reports which ones belong
// to a target object id. This is kept deliberately thin (spec.md scopes it
// as an out-of-core diagnostic view) and is built entirely on top of
// internal/source's process-memory primitives.
package bufvis

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ora600pl/rico3/internal/source"
)

// xbhSize is the width of the cache-buffer-header structure this walks.
// Only the object id field (at xbhObjdOffset) is actually inspected; the
// rest of the layout is unknown/reserved bytes carried only to compute the
// structure's total width.
const (
	xbhSize       = 360
	xbhObjdOffset = 208
)

// ReadAddresses parses one hex address per line from path, as produced by
// whatever upstream tool dumped the buffer headers of interest.
func ReadAddresses(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addrs []uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		addr, err := strconv.ParseUint(line, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("bufvis: parsing address %q: %w", line, err)
		}
		addrs = append(addrs, addr)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return addrs, nil
}

// Result summarizes one Visualize run.
type Result struct {
	Matches int // addresses whose xbh.objd == the target object id
	Total   int // addresses successfully read as a full xbh structure
}

// Visualize reads addrFile, sorts its addresses, and reads the single byte
// range spanning the lowest address through xbhSize bytes past the
// highest. For every address it walks the bytes there as an xbh structure;
// a successful read whose embedded object id matches objd writes "X" to w,
// any other successful read writes "." (coalesced: one "." per 100 misses,
// matching the original tool's throttled progress output). A short read
// (the walk has run off the end of the captured range) stops the walk
// early rather than reporting a false miss.
func Visualize(w io.Writer, addrFile string, objd uint32, pid int) (Result, error) {
	addrs, err := ReadAddresses(addrFile)
	if err != nil {
		return Result{}, err
	}
	if len(addrs) == 0 {
		return Result{}, fmt.Errorf("bufvis: %s contains no addresses", addrFile)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	start := addrs[0]
	length := addrs[len(addrs)-1] - addrs[0] + xbhSize

	src, err := source.OpenRawMemoryRange(pid, start, length)
	if err != nil {
		return Result{}, fmt.Errorf("bufvis: opening pid %d memory: %w", pid, err)
	}
	defer src.Close()

	buf := make([]byte, length)
	if _, err := io.ReadFull(src, buf); err != nil {
		return Result{}, fmt.Errorf("bufvis: reading %d bytes from pid %d: %w", length, pid, err)
	}

	return walk(w, buf, addrs, start, objd), nil
}

// walk is the pure, testable core of Visualize: given the captured byte
// range and the sorted addresses it covers, it renders the X/. stream and
// tallies matches.
func walk(w io.Writer, buf []byte, addrs []uint64, rangeStart uint64, objd uint32) Result {
	var res Result
	misses := 0
	for _, addr := range addrs {
		off := addr - rangeStart
		if off+xbhSize > uint64(len(buf)) {
			break
		}
		res.Total++
		got := binary.LittleEndian.Uint32(buf[off+xbhObjdOffset : off+xbhObjdOffset+4])
		if got == objd {
			res.Matches++
			fmt.Fprint(w, "X")
		} else {
			misses++
			if misses == 100 {
				fmt.Fprint(w, ".")
				misses = 0
			}
		}
	}
	return res
}

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

// Package scan implements the streaming block scanner: it reads a byte
// source in fixed-size chunks, fans them out to a bounded pool of
// goroutines over a bounded channel, and each worker filters and dispatches
// the 8192-byte sub-ranges of its chunk to either the raw-block sink
// (consolidate mode) or the block parser (extract mode).
package scan

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ora600pl/rico3/internal/block"
	"github.com/ora600pl/rico3/internal/rlog"
	"github.com/ora600pl/rico3/internal/sink"
	"github.com/ora600pl/rico3/internal/source"
)

// Mode selects what a worker does with a candidate block.
type Mode int

const (
	Consolidate Mode = iota
	Extract
)

// chunkSize is the read granularity; it also bounds peak memory to
// roughly Parallel*chunkSize (spec.md §5).
const chunkSize = 1 << 20 // 1 MiB

// Options configures a Scanner run.
type Options struct {
	Workdir  string
	Mode     Mode
	Parallel int
	Compress bool // consolidate mode only: write zstd-framed .dat.zst
	Verbose  bool // extract mode only: emit the per-block structural trace
}

// Scanner partitions a byte source into candidate blocks and dispatches
// them to a worker pool. A Scanner has no mutable state of its own beyond
// its configuration and logger, so a single instance can be reused across
// multiple Run calls (spec.md's config action loops over several
// data_files against the same workdir).
type Scanner struct {
	opts Options
	log  *rlog.Logger
}

// New constructs a Scanner. parallel is clamped to at least 1.
func New(opts Options, log *rlog.Logger) *Scanner {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Scanner{opts: opts, log: log}
}

// Run reads src to completion, dispatching every candidate block it finds.
// A read error or an output-write error from any worker cancels the whole
// run and is returned; a malformed block is logged and abandoned (any rows
// decoded before the fault are still written), and does not affect the
// return value.
func (s *Scanner) Run(ctx context.Context, src source.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan []byte, s.opts.Parallel)
	var wg sync.WaitGroup

	var errMu sync.Mutex
	var firstErr error
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	for id := 0; id < s.opts.Parallel; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.log.Printf("Starting worker %d", id)
			defer s.log.Printf("Stopping worker %d", id)
			for {
				select {
				case <-ctx.Done():
					return
				case chunk, ok := <-chunks:
					if !ok {
						return
					}
					if err := s.processChunk(chunk); err != nil {
						fail(err)
					}
				}
			}
		}(id)
	}

	buf := make([]byte, chunkSize)
readLoop:
	for {
		select {
		case <-ctx.Done():
			break readLoop
		default:
		}

		n, err := src.Read(buf)
		if err != nil && err != io.EOF {
			fail(fmt.Errorf("scan: read error: %w", err))
			break
		}
		if n == 0 {
			break
		}

		// The full 1 MiB buffer is copied and sent even on a short final
		// read, so up to chunkSize-n stale bytes from the previous
		// iteration ride along. spec.md §9 open question 1 documents this
		// rather than silently truncating the send. Trailing bytes that are
		// still zero are filter-rejected by IsCandidate; trailing bytes left
		// over from the previous chunk are not, so a candidate block in that
		// stale tail is dispatched a second time.
		cp := make([]byte, chunkSize)
		copy(cp, buf)

		select {
		case chunks <- cp:
		case <-ctx.Done():
			break readLoop
		}

		if err == io.EOF {
			break
		}
	}
	close(chunks)
	wg.Wait()
	return firstErr
}

func (s *Scanner) processChunk(chunk []byte) error {
	n := len(chunk) / block.Size
	for i := 0; i < n; i++ {
		b := chunk[i*block.Size : (i+1)*block.Size]
		if !block.IsCandidate(b) {
			continue
		}
		var err error
		switch s.opts.Mode {
		case Consolidate:
			err = s.consolidateBlock(b)
		case Extract:
			err = s.extractBlock(b, i)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) consolidateBlock(b []byte) error {
	objd := block.ObjectID(b)
	var err error
	if s.opts.Compress {
		err = sink.AppendBlockCompressed(s.opts.Workdir, objd, b)
	} else {
		err = sink.AppendBlock(s.opts.Workdir, objd, b)
	}
	if err != nil {
		return fmt.Errorf("scan: writing object %d: %w", objd, err)
	}
	return nil
}

func (s *Scanner) extractBlock(b []byte, position int) error {
	s.log.Printf("Trying to extract from block %d", position)

	// On error Parse still returns the rows it decoded before the fault;
	// they are written below before the block is abandoned.
	parsed, err := block.Parse(b)
	if err != nil {
		s.log.Printf("\tabandoning malformed block at position %d: %v", position, err)
	}

	if s.opts.Verbose {
		s.log.Printf("\tobjd=%d itl_count=%d ntab=%d nrow=%d deleted=%d skipped=%d",
			parsed.Tx.ObjectID, parsed.Tx.ITLCount, parsed.Data.NTab, parsed.Data.NRow, parsed.Deleted, parsed.Skipped)
		if !block.ChecksumOK(b, parsed.Cache) {
			s.log.Printf("\tchecksum mismatch for objd=%d (diagnostic digest, not the original algorithm)", parsed.Tx.ObjectID)
		}
	}

	for i, row := range parsed.Rows {
		line := row.Line()
		if len(line) <= 1 {
			continue
		}
		s.log.Printf("\tProcessing row %d", i)
		if err := sink.AppendLine(s.opts.Workdir, parsed.Tx.ObjectID, line); err != nil {
			return fmt.Errorf("scan: writing csv for object %d: %w", parsed.Tx.ObjectID, err)
		}
	}
	return nil
}

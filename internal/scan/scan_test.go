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

package scan_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ora600pl/rico3/internal/block"
	"github.com/ora600pl/rico3/internal/rlog"
	"github.com/ora600pl/rico3/internal/scan"
)

// byteSource adapts a bytes.Reader to source.Source for tests.
type byteSource struct{ *bytes.Reader }

func (byteSource) Close() error { return nil }

func newLogger(t *testing.T) (*rlog.Logger, string) {
	t.Helper()
	dir := t.TempDir()
	lg, err := rlog.Open(dir)
	if err != nil {
		t.Fatalf("rlog.Open: %v", err)
	}
	t.Cleanup(func() { lg.Close() })
	return lg, dir
}

// buildCandidateBlock returns a minimal valid, parseable table-data block
// for the given object id with one live row containing a single short
// column, placed at a fixed offset far enough from the directory to be
// unambiguous.
func buildCandidateBlock(objd uint32) []byte {
	buf := make([]byte, block.Size)
	le := binary.LittleEndian

	buf[0] = 6  // CacheHeader.Type: table-data block
	buf[20] = 1 // TxHeader.Type: table block

	le.PutUint32(buf[24:28], objd) // TxHeader.ObjectID
	buf[20+16] = 2                 // ITLCount == 2, so the row-const offset term vanishes

	const p1 = 20 + 24 + 2*24 // cacheHeaderSize + txHeaderFixedSize + itlCount*itlSlotSize
	const dataOff = p1 + 8    // ModFlags both zero => bias 8

	buf[dataOff] = 0   // DataHeader.Flag
	buf[dataOff+1] = 0 // DataHeader.NTab
	le.PutUint16(buf[dataOff+2:dataOff+4], 1) // DataHeader.NRow == 1

	const tablesOff = dataOff + 14 // dataHeaderSize
	const dirEnd = tablesOff       // NTab == 0, no table entries

	const rowAbs = 2000
	const rowPointerConstBothZero = 100
	raw := rowAbs - rowPointerConstBothZero
	le.PutUint16(buf[dirEnd:dirEnd+2], uint16(int16(raw)))

	buf[rowAbs] = 44   // live row header
	buf[rowAbs+2] = 1  // one column
	buf[rowAbs+3] = 3  // short length 3
	copy(buf[rowAbs+4:], "ABC")

	return buf
}

func TestScannerConsolidate(t *testing.T) {
	lg, dir := newLogger(t)

	payload := append(buildCandidateBlock(42), make([]byte, 0)...)
	src := byteSource{bytes.NewReader(payload)}

	s := scan.New(scan.Options{Workdir: dir, Mode: scan.Consolidate, Parallel: 2}, lg)
	if err := s.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "42.dat"))
	if err != nil {
		t.Fatalf("reading consolidated output: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("consolidated output length = %d, want %d", len(out), len(payload))
	}
}

func TestScannerConsolidateSkipsNonCandidates(t *testing.T) {
	lg, dir := newLogger(t)

	a := buildCandidateBlock(7)
	b := buildCandidateBlock(7)
	notCandidate := make([]byte, block.Size) // all zero, fails IsCandidate
	payload := append(append(append([]byte{}, a...), notCandidate...), b...)

	src := byteSource{bytes.NewReader(payload)}
	s := scan.New(scan.Options{Workdir: dir, Mode: scan.Consolidate, Parallel: 1}, lg)
	if err := s.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "7.dat"))
	if err != nil {
		t.Fatalf("reading consolidated output: %v", err)
	}
	if len(out) != 2*block.Size {
		t.Fatalf("consolidated output length = %d, want %d", len(out), 2*block.Size)
	}
}

func TestScannerExtract(t *testing.T) {
	lg, dir := newLogger(t)

	payload := buildCandidateBlock(99)
	src := byteSource{bytes.NewReader(payload)}

	s := scan.New(scan.Options{Workdir: dir, Mode: scan.Extract, Parallel: 1, Verbose: true}, lg)
	if err := s.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "99.csv"))
	if err != nil {
		t.Fatalf("reading extracted csv: %v", err)
	}
	if string(out) != "|ABC\n" {
		t.Fatalf("csv content = %q, want %q", out, "|ABC\n")
	}
}

func TestScannerPropagatesReadError(t *testing.T) {
	lg, dir := newLogger(t)

	errSrc := errorSource{}
	s := scan.New(scan.Options{Workdir: dir, Mode: scan.Consolidate, Parallel: 1}, lg)
	if err := s.Run(context.Background(), errSrc); err == nil {
		t.Fatal("expected error from failing source")
	}
}

type errorSource struct{}

func (errorSource) Read(p []byte) (int, error) { return 0, os.ErrClosed }
func (errorSource) Close() error               { return nil }

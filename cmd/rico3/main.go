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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ora600pl/rico3/internal/bufvis"
	"github.com/ora600pl/rico3/internal/config"
	"github.com/ora600pl/rico3/internal/rlog"
	"github.com/ora600pl/rico3/internal/scan"
	"github.com/ora600pl/rico3/internal/source"
	"github.com/ora600pl/rico3/internal/typeguess"
)

var (
	dashp   string
	dashm   string
	dashP   int
	dashz   bool
	dashv   bool
)

func init() {
	flag.StringVar(&dashp, "p", "params.json", "path to the JSON configuration")
	flag.StringVar(&dashp, "param-file", "params.json", "path to the JSON configuration")
	flag.StringVar(&dashm, "m", "NO", "hex-encoded bytes to run through TypeGuesser directly")
	flag.StringVar(&dashm, "manual-string", "NO", "hex-encoded bytes to run through TypeGuesser directly")
	flag.IntVar(&dashP, "P", 2, "worker count")
	flag.IntVar(&dashP, "parallel", 2, "worker count")
	flag.BoolVar(&dashz, "z", false, "write zstd-compressed .dat.zst instead of .dat in consolidate mode")
	flag.BoolVar(&dashz, "compress", false, "write zstd-compressed .dat.zst instead of .dat in consolidate mode")
	flag.BoolVar(&dashv, "v", false, "emit the per-block structural trace to rico3.log")
	flag.BoolVar(&dashv, "verbose", false, "emit the per-block structural trace to rico3.log")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Parse()

	if dashm != "NO" {
		v, err := typeguess.GuessHex(dashm)
		if err != nil {
			exitf("manual decode: %s", err)
		}
		fmt.Printf("%s\t%s\n", v.Kind, v.Text)
		return
	}

	params, err := config.Load(dashp)
	if err != nil {
		exitf("%s", err)
	}

	lg, err := rlog.Open(params.Workdir)
	if err != nil {
		exitf("opening rico3.log: %s", err)
	}
	defer lg.Close()

	if err := run(lg, params); err != nil {
		lg.Printf("run=%s fatal: %s", lg.Run, err)
		exitf("%s", err)
	}
	lg.Printf("run=%s finished", lg.Run)
}

func run(lg *rlog.Logger, params config.Params) error {
	switch params.Action {
	case config.ConsolidateObjects:
		return runFileScans(lg, params, scan.Consolidate, false)
	case config.ExtractDataFromFile:
		return runFileScans(lg, params, scan.Extract, true)
	case config.ConsolidateObjectsFromMemory:
		return runMemoryConsolidate(lg, params)
	case config.VisualizeBuffers:
		return runVisualizeBuffers(params)
	default:
		return fmt.Errorf("unrecognized action %q", params.Action)
	}
}

func runFileScans(lg *rlog.Logger, params config.Params, mode scan.Mode, relativeToWorkdir bool) error {
	opts := scan.Options{
		Workdir:  params.Workdir,
		Mode:     mode,
		Parallel: dashP,
		Compress: dashz,
		Verbose:  dashv,
	}
	s := scan.New(opts, lg)

	for _, f := range params.DataFiles {
		path := f
		if relativeToWorkdir {
			path = filepath.Join(params.Workdir, f)
		}
		lg.Printf("scanning %s", path)

		src, err := source.OpenFile(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		err = s.Run(context.Background(), src)
		src.Close()
		if err != nil {
			return fmt.Errorf("scanning %s: %w", path, err)
		}
	}
	return nil
}

func runMemoryConsolidate(lg *rlog.Logger, params config.Params) error {
	pid, err := strconv.Atoi(params.DataFiles[0])
	if err != nil {
		return fmt.Errorf("parsing pid %q: %w", params.DataFiles[0], err)
	}
	segmentSize, err := strconv.ParseUint(params.DataFiles[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing segment size %q: %w", params.DataFiles[1], err)
	}

	src, err := source.OpenProcessMemory(pid, segmentSize)
	if err != nil {
		return fmt.Errorf("opening pid %d memory: %w", pid, err)
	}
	defer src.Close()

	s := scan.New(scan.Options{
		Workdir:  params.Workdir,
		Mode:     scan.Consolidate,
		Parallel: dashP,
		Compress: dashz,
	}, lg)
	return s.Run(context.Background(), src)
}

func runVisualizeBuffers(params config.Params) error {
	addrFile := params.DataFiles[0]
	objd, err := strconv.ParseUint(params.DataFiles[1], 10, 32)
	if err != nil {
		return fmt.Errorf("parsing object id %q: %w", params.DataFiles[1], err)
	}
	pid, err := strconv.Atoi(params.DataFiles[2])
	if err != nil {
		return fmt.Errorf("parsing pid %q: %w", params.DataFiles[2], err)
	}

	res, err := bufvis.Visualize(os.Stdout, addrFile, uint32(objd), pid)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d/%d buffer headers matched objd=%d\n", res.Matches, res.Total, objd)
	return nil
}

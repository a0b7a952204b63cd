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

// Package config decodes and validates the JSON parameter file (spec.md
// §6), the same plain stdlib-json-and-hand-rolled-validation pattern the
// teacher uses for its own definition files (db/def.go's DecodeDefinition).
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Action names recognized in the "action" field.
const (
	ConsolidateObjects           = "consolidate objects"
	ExtractDataFromFile          = "extract data from file"
	ConsolidateObjectsFromMemory = "consolidate objects from memory"
	VisualizeBuffers             = "visualize buffers"
)

// Params is the decoded parameter file.
type Params struct {
	Action     string   `json:"action"`
	Workdir    string   `json:"workdir"`
	DataFiles  []string `json:"data_files"`
}

// Load reads and validates the parameter file at path. A missing/malformed
// file, an unrecognized action, or a workdir that doesn't exist are all
// config errors (spec.md §7: fatal, abort before any work).
func Load(path string) (Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return Params{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the invariants spec.md §6/§7 require before any work
// starts: a recognized action, an existing workdir, and the minimum
// data_files each action needs.
func (p Params) Validate() error {
	switch p.Action {
	case ConsolidateObjects, ExtractDataFromFile:
		if len(p.DataFiles) == 0 {
			return fmt.Errorf("config: action %q requires at least one entry in data_files", p.Action)
		}
	case ConsolidateObjectsFromMemory:
		if len(p.DataFiles) < 2 {
			return fmt.Errorf("config: action %q requires data_files = [pid, segment_size]", p.Action)
		}
	case VisualizeBuffers:
		if len(p.DataFiles) < 3 {
			return fmt.Errorf("config: action %q requires data_files = [address_file, object_id, pid]", p.Action)
		}
	default:
		return fmt.Errorf("config: unrecognized action %q", p.Action)
	}

	info, err := os.Stat(p.Workdir)
	if err != nil {
		return fmt.Errorf("config: workdir %q: %w", p.Workdir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: workdir %q is not a directory", p.Workdir)
	}
	return nil
}

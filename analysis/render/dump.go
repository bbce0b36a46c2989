// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package render

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/argus-analysis/argus/analysis/algebra"
	"github.com/argus-analysis/argus/analysis/config"
	"github.com/argus-analysis/argus/analysis/flow"
	"github.com/argus-analysis/argus/analysis/ir"
)

// Dumper writes intermediate graphs and equation listings under the config's reports
// directory. It implements flow.Dumper; dump failures are logged and otherwise ignored, debug
// output must not fail an analysis.
type Dumper struct {
	Logger *config.LogGroup
	Config *config.Config
}

// DumpGraph implements flow.Dumper.
func (d *Dumper) DumpGraph(s *flow.State, stage string, proc ir.ProcID, g *flow.InlinedGraph) {
	b, err := MarshalDot(s, fileStem(proc), g.Graph)
	if err != nil {
		d.Logger.Warnf("could not render %s graph of %s: %v", stage, proc, err)
		return
	}
	d.writeFile(fmt.Sprintf("%s.%s.dot", fileStem(proc), stage), b)
}

// DumpEquations implements flow.Dumper.
func (d *Dumper) DumpEquations(_ *flow.State, proc ir.ProcID, eqs []algebra.Equation[ir.GlobalLocal]) {
	d.writeFile(fileStem(proc)+".eqs", []byte(algebra.DumpEquations(eqs)))
}

func (d *Dumper) writeFile(name string, b []byte) {
	dir := d.Config.ReportsDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		d.Logger.Warnf("could not create reports directory %s: %v", dir, err)
		return
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0600); err != nil {
		d.Logger.Warnf("could not write %s: %v", path, err)
		return
	}
	d.Logger.Debugf("wrote %s", path)
}

// fileStem turns a procedure name into a safe file name stem.
func fileStem(proc ir.ProcID) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, string(proc))
}

// WriteFlowJSON serializes the call-only flow of one entry point to w in its portable form.
func WriteFlowJSON(w *bufio.Writer, in *ir.Interner, res flow.EntryResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Flow.Raw(in)); err != nil {
		return fmt.Errorf("could not serialize flow of %s: %w", res.Proc, err)
	}
	return w.Flush()
}

// FlowJSONToFile writes the call-only flow of one entry point to a file in the reports
// directory, returning the path written.
func FlowJSONToFile(cfg *config.Config, in *ir.Interner, res flow.EntryResult) (string, error) {
	dir := cfg.ReportsDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("could not create reports directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, fileStem(res.Proc)+".flow.json")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("could not create file: %w", err)
	}
	defer f.Close()
	if err := WriteFlowJSON(bufio.NewWriter(f), in, res); err != nil {
		return "", err
	}
	return path, nil
}

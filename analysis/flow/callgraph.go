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

package flow

import (
	"github.com/yourbasic/graph"

	"github.com/argus-analysis/argus/analysis/ir"
)

// RecursiveProcedures returns the procedures that participate in a call cycle, including direct
// self-calls. Inlining cuts these cycles via its in-progress memoization; this set exists for
// diagnostics, so a run can report up front which procedures will not be fully expanded.
func RecursiveProcedures(program ProgramOracle) map[ir.ProcID]bool {
	procs := program.Procedures()
	index := make(map[ir.ProcID]int, len(procs))
	for i, p := range procs {
		index[p] = i
	}

	g := graph.New(len(procs))
	selfLoop := make([]bool, len(procs))
	for i, p := range procs {
		for _, site := range program.CallSites(p) {
			j, ok := index[site.Callee]
			if !ok {
				continue
			}
			if j == i {
				selfLoop[i] = true
				continue
			}
			g.Add(i, j)
		}
	}

	out := map[ir.ProcID]bool{}
	for _, comp := range graph.StrongComponents(g) {
		if len(comp) < 2 {
			continue
		}
		for _, v := range comp {
			out[procs[v]] = true
		}
	}
	for i, loop := range selfLoop {
		if loop {
			out[procs[i]] = true
		}
	}
	return out
}

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
	"fmt"

	"github.com/argus-analysis/argus/analysis/ir"
	"github.com/argus-analysis/argus/internal/funcutil"
)

// LocSet is a set of global locations.
type LocSet map[ir.Loc]bool

// CallDeps describes one call of a call-only flow: for each argument position, the call
// locations whose results feed it, and the call locations whose results steer whether it runs.
// Formal arguments of the entry procedure appear as synthetic argument locations.
type CallDeps struct {
	Callee   ir.ProcID
	CtrlDeps LocSet
	// InputDeps has one entry per argument position that receives any flow; trailing argument
	// positions without dependencies are not materialized.
	InputDeps []LocSet
}

// CallOnlyFlow is the final analysis artifact: the inlined flow graph projected onto call
// sites. Every node is a call location; arguments and plain statements have been folded into
// the edges.
type CallOnlyFlow struct {
	Calls      map[ir.Loc]*CallDeps
	ReturnDeps LocSet
}

// ExtractCallOnlyFlow projects an inlined graph onto its call nodes. mkArg supplies the
// synthetic location standing in for the i-th formal argument of the entry procedure. A call
// location appearing twice in the graph is a programmer error upstream and panics.
func ExtractCallOnlyFlow(s *State, gwr *InlinedGraph, mkArg func(int) ir.Loc) *CallOnlyFlow {
	g := gwr.Graph
	out := &CallOnlyFlow{
		Calls:      make(map[ir.Loc]*CallDeps, g.NodeCount()),
		ReturnDeps: LocSet{},
	}

	sourceLoc := func(src Node) ir.Loc {
		switch src.Kind {
		case KindCall:
			return src.Loc
		case KindArgument:
			return mkArg(src.Arg)
		default:
			panic("flow: return node cannot be an edge source")
		}
	}

	for _, n := range g.Nodes() {
		switch n.Kind {
		case KindArgument:
			continue
		case KindReturn:
			for src, w := range g.In(n) {
				if w.Data != 0 {
					out.ReturnDeps[sourceLoc(src)] = true
				}
			}
		case KindCall:
			if _, dup := out.Calls[n.Loc]; dup {
				panic(fmt.Sprintf("flow: call location %s extracted twice", s.Interner.String(n.Loc)))
			}
			deps := &CallDeps{Callee: n.Callee, CtrlDeps: LocSet{}}
			for src, w := range g.In(n) {
				loc := sourceLoc(src)
				if w.Control {
					deps.CtrlDeps[loc] = true
				}
				for _, i := range w.Data.Indices() {
					for len(deps.InputDeps) <= i {
						deps.InputDeps = append(deps.InputDeps, LocSet{})
					}
					deps.InputDeps[i][loc] = true
				}
			}
			out.Calls[n.Loc] = deps
		}
	}
	return out
}

// RawCallDeps is the portable form of CallDeps.
type RawCallDeps struct {
	Callee    ir.ProcID           `json:"callee,omitempty"`
	CtrlDeps  []*ir.RawLocation   `json:"ctrl_deps"`
	InputDeps [][]*ir.RawLocation `json:"input_deps"`
}

// RawCall pairs a call location with its dependencies.
type RawCall struct {
	Location *ir.RawLocation `json:"location"`
	Deps     RawCallDeps     `json:"deps"`
}

// RawCallOnlyFlow is the portable, deterministic form of a CallOnlyFlow: locations are spelled
// out recursively and all collections are sorted, so two runs over the same program produce
// byte-identical serializations.
type RawCallOnlyFlow struct {
	Calls      []RawCall         `json:"calls"`
	ReturnDeps []*ir.RawLocation `json:"return_deps"`
}

// Raw expands the flow into its portable form.
func (f *CallOnlyFlow) Raw(in *ir.Interner) *RawCallOnlyFlow {
	out := &RawCallOnlyFlow{
		Calls:      make([]RawCall, 0, len(f.Calls)),
		ReturnDeps: rawLocs(in, f.ReturnDeps),
	}
	for loc, deps := range f.Calls {
		rc := RawCall{
			Location: in.Raw(loc),
			Deps: RawCallDeps{
				Callee:    deps.Callee,
				CtrlDeps:  rawLocs(in, deps.CtrlDeps),
				InputDeps: make([][]*ir.RawLocation, len(deps.InputDeps)),
			},
		}
		for i, set := range deps.InputDeps {
			rc.Deps.InputDeps[i] = rawLocs(in, set)
		}
		out.Calls = append(out.Calls, rc)
	}
	funcutil.SortedBy(out.Calls, func(c RawCall) string { return c.Location.Key() })
	return out
}

func rawLocs(in *ir.Interner, set LocSet) []*ir.RawLocation {
	out := make([]*ir.RawLocation, 0, len(set))
	for loc := range set {
		out = append(out, in.Raw(loc))
	}
	return funcutil.SortedBy(out, (*ir.RawLocation).Key)
}

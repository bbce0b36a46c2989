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
	"sort"

	"github.com/argus-analysis/argus/analysis/algebra"
	"github.com/argus-analysis/argus/analysis/ir"
	"github.com/argus-analysis/argus/internal/funcutil"
)

// TargetKind discriminates the two shapes a dependency can resolve to inside a single
// procedure.
type TargetKind uint8

const (
	// TargetCall is a dependency on the result or side effect of a call instruction.
	TargetCall TargetKind = iota
	// TargetArgument is a dependency on the initial value of a formal argument.
	TargetArgument
)

// Target is an intra-procedural dependency source: either a call site, named by its point, or a
// formal argument, named by its index. Plain statements never appear as targets; the summary
// builder chases through them until it bottoms out at calls and arguments.
type Target struct {
	Kind  TargetKind
	Point ir.Point
	Index int
}

// CallTarget returns the target for the call at point.
func CallTarget(point ir.Point) Target {
	return Target{Kind: TargetCall, Point: point}
}

// ArgumentTarget returns the target for the i-th formal argument.
func ArgumentTarget(i int) Target {
	return Target{Kind: TargetArgument, Index: i}
}

func (t Target) String() string {
	if t.Kind == TargetArgument {
		return fmt.Sprintf("arg%d", t.Index)
	}
	return "call@" + t.Point.String()
}

func (t Target) compare(o Target) int {
	if t.Kind != o.Kind {
		if t.Kind < o.Kind {
			return -1
		}
		return 1
	}
	if t.Kind == TargetArgument {
		switch {
		case t.Index < o.Index:
			return -1
		case t.Index > o.Index:
			return 1
		}
		return 0
	}
	return t.Point.Compare(o.Point)
}

// TargetSet is a set of dependency targets.
type TargetSet map[Target]bool

// Add inserts a target into the set.
func (s TargetSet) Add(t Target) { s[t] = true }

// Sorted returns the targets in a deterministic order.
func (s TargetSet) Sorted() []Target {
	out := make([]Target, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].compare(out[j]) < 0 })
	return out
}

// ArgDependency is the dependency set of one argument position of a call, together with the
// place passed there (None for constant operands).
type ArgDependency struct {
	Place funcutil.Optional[ir.Place]
	Deps  TargetSet
}

// CallDependencies summarizes one call site of a procedure: where each argument's value comes
// from and which conditions guard the call.
type CallDependencies struct {
	// Callee is the resolved target, or empty for indirect calls.
	Callee ir.ProcID
	// Args holds one dependency set per argument position.
	Args []ArgDependency
	// CtrlDeps are the targets feeding the conditions the call is control-dependent on.
	CtrlDeps TargetSet
	// ReturnTo is the place receiving the return value, if used.
	ReturnTo funcutil.Optional[ir.Place]
}

// Summary is the self-contained flow model of a single procedure: per-call dependency sets, the
// dependencies of its return value and of its writable arguments, and its place equations.
// Everything downstream (graph construction, inlining, pruning) works from summaries alone.
type Summary struct {
	Proc ir.ProcID
	Sig  Signature

	// Calls maps each call point to its dependency description.
	Calls map[ir.Point]*CallDependencies

	// ReturnDeps are the targets the return value depends on, merged over all return points.
	ReturnDeps TargetSet

	// ReturnArgDeps holds, for each mutable argument listed in Sig.MutableArgs (same order),
	// the targets its final value depends on. Writes through by-reference arguments are
	// observable by the caller just like the return value.
	ReturnArgDeps []TargetSet

	// Equations are the procedure's intra-procedural place equations.
	Equations []algebra.Equation[ir.Place]
}

// CallPoints returns the call points of the summary in a deterministic order.
func (sum *Summary) CallPoints() []ir.Point {
	out := make([]ir.Point, 0, len(sum.Calls))
	for p := range sum.Calls {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// buildSummary computes the summary of a procedure from the oracles. It fails when the dataflow
// oracle is missing a row it must have by contract, naming the procedure and point.
func buildSummary(s *State, proc ir.ProcID) (*Summary, error) {
	sig, ok := s.Program.Signature(proc)
	if !ok {
		return nil, fmt.Errorf("no signature for procedure %s", proc)
	}
	calls := s.Program.CallSites(proc)
	sum := &Summary{
		Proc:       proc,
		Sig:        sig,
		Calls:      make(map[ir.Point]*CallDependencies, len(calls)),
		ReturnDeps: TargetSet{},
		Equations:  s.Dataflow.PlaceEquations(proc),
	}

	for point, site := range calls {
		cd := &CallDependencies{
			Callee:   site.Callee,
			Args:     make([]ArgDependency, len(site.Args)),
			CtrlDeps: TargetSet{},
			ReturnTo: site.ReturnTo,
		}
		for i, arg := range site.Args {
			deps := TargetSet{}
			if arg.IsSome() {
				if err := resolveTargets(s, proc, calls, point, arg.Value(), deps); err != nil {
					return nil, err
				}
			}
			cd.Args[i] = ArgDependency{Place: arg, Deps: deps}
		}
		for _, cond := range s.Dataflow.ControlDeps(proc, point) {
			if err := resolveTargets(s, proc, calls, cond.Point, cond.Place, cd.CtrlDeps); err != nil {
				return nil, err
			}
		}
		sum.Calls[point] = cd
	}

	sum.ReturnArgDeps = make([]TargetSet, len(sig.MutableArgs))
	for i := range sum.ReturnArgDeps {
		sum.ReturnArgDeps[i] = TargetSet{}
	}
	for _, rp := range s.Program.ReturnPoints(proc) {
		if sig.HasReturn {
			if err := resolveTargets(s, proc, calls, rp, ir.ReturnPlace, sum.ReturnDeps); err != nil {
				return nil, err
			}
		}
		for i, a := range sig.MutableArgs {
			if err := resolveTargets(s, proc, calls, rp, ir.ArgPlace(a), sum.ReturnArgDeps[i]); err != nil {
				return nil, err
			}
		}
	}
	return sum, nil
}

// resolveTargets resolves the writers of place at point down to calls and formal arguments,
// chasing transitively through plain statements, and accumulates the results in out.
func resolveTargets(s *State, proc ir.ProcID, calls map[ir.Point]CallSite, point ir.Point, place ir.Place, out TargetSet) error {
	seen := map[ir.Point]bool{}
	var visit func(writers []ir.Point) error
	visit = func(writers []ir.Point) error {
		for _, w := range writers {
			if w.IsArg() {
				out.Add(ArgumentTarget(w.ArgIndex()))
				continue
			}
			if _, isCall := calls[w]; isCall {
				out.Add(CallTarget(w))
				continue
			}
			if seen[w] {
				continue
			}
			seen[w] = true
			row, ok := s.Dataflow.DependencyRow(proc, w)
			if !ok {
				return fmt.Errorf("dataflow oracle has no row for %s at %v (reached while resolving %v at %v)",
					proc, w, place, point)
			}
			for _, q := range s.Program.UsedPlaces(proc, w) {
				if err := visit(row[q]); err != nil {
					return err
				}
			}
		}
		return nil
	}

	row, ok := s.Dataflow.DependencyRow(proc, point)
	if !ok {
		return fmt.Errorf("dataflow oracle has no row for %s at %v", proc, point)
	}
	return visit(row[place])
}

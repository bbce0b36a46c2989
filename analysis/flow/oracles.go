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
	"github.com/argus-analysis/argus/analysis/algebra"
	"github.com/argus-analysis/argus/analysis/ir"
	"github.com/argus-analysis/argus/internal/funcutil"
)

// DepRow maps each place read at a program point to the points that may have written the value
// observed there. An empty writer list means the value does not come from inside the procedure
// (a constant, for example).
type DepRow map[ir.Place][]ir.Point

// DataflowOracle exposes the per-procedure dataflow facts computed by the host front end. The
// analysis never inspects procedure bodies directly; everything it knows about intra-procedural
// flow comes through this interface.
type DataflowOracle interface {
	// DependencyRow returns the reaching-writes row for a point of a procedure. The second
	// result is false when the oracle has no facts for that point; for points the analysis was
	// led to by the oracle's own rows this is a contract violation and aborts the entry point.
	DependencyRow(proc ir.ProcID, point ir.Point) (DepRow, bool)

	// ControlDeps returns the conditions the execution of a point depends on, each as the
	// branching point together with the place it reads.
	ControlDeps(proc ir.ProcID, point ir.Point) []ir.ConditionRef

	// PlaceEquations returns the intra-procedural place equations of a procedure: the aliasing
	// and projection relations between its places.
	PlaceEquations(proc ir.ProcID) []algebra.Equation[ir.Place]
}

// Signature describes the calling surface of a procedure as far as the analysis cares: how many
// formal arguments it takes and which of them it may write through.
type Signature struct {
	// NumArgs is the number of formal arguments.
	NumArgs int
	// MutableArgs lists the indices of formals the procedure may write through (by-reference
	// arguments). Used to model opaque calls conservatively and to surface argument
	// side-channels in summaries.
	MutableArgs []int
	// HasReturn is false for procedures that never produce a value.
	HasReturn bool
}

// CallSite describes one call instruction of a procedure body.
type CallSite struct {
	// Callee is the statically resolved target, or empty when the target is indirect and
	// unresolved.
	Callee ir.ProcID
	// Args holds the place passed at each argument position. None marks operands without a
	// place, such as constants.
	Args []funcutil.Optional[ir.Place]
	// ReturnTo is the place the return value is written to, if the result is used.
	ReturnTo funcutil.Optional[ir.Place]
}

// ArgPlaces returns the places of the value-carrying arguments, dropping constant operands.
func (c CallSite) ArgPlaces() []ir.Place {
	out := make([]ir.Place, 0, len(c.Args))
	for _, a := range c.Args {
		if a.IsSome() {
			out = append(out, a.Value())
		}
	}
	return out
}

// ProgramOracle exposes the structure of the analyzed program: which procedures exist, their
// call sites and signatures, and the two special shapes the inliner handles out of band
// (closure dispatch and poll-style wrappers).
type ProgramOracle interface {
	// Procedures returns every known procedure, in a stable order. The order fixes location
	// comparison ranks for the run.
	Procedures() []ir.ProcID

	// HasBody returns true when the procedure's body is available for analysis. Library and
	// foreign procedures have no body and always stay opaque.
	HasBody(proc ir.ProcID) bool

	// Signature returns the calling surface of a procedure. The second result is false for
	// procedures the oracle knows nothing about.
	Signature(proc ir.ProcID) (Signature, bool)

	// CallSites returns every call instruction of a procedure body, keyed by its point.
	CallSites(proc ir.ProcID) map[ir.Point]CallSite

	// ReturnPoints returns the points of the procedure's return instructions.
	ReturnPoints(proc ir.ProcID) []ir.Point

	// UsedPlaces returns the places read by a non-call instruction, for chasing dependencies
	// through plain statements.
	UsedPlaces(proc ir.ProcID, point ir.Point) []ir.Place

	// IsPollWrapper returns true for compiler-generated poll-style wrappers around suspended
	// computations. With drop-poll-wrappers enabled their call nodes are elided and the wrapped
	// value input is spliced directly to the consumers of the result.
	IsPollWrapper(proc ir.ProcID) bool

	// ClosureCall resolves a call that dispatches a closure: it returns the closure body and
	// the place holding the closure object. The third result is false for ordinary calls.
	ClosureCall(proc ir.ProcID, point ir.Point) (ir.ProcID, ir.Place, bool)
}

// InliningOracle decides which call sites get expanded and which call nodes carry semantic
// meaning of their own. ConfigPolicy is the standard implementation; tests substitute their
// own.
type InliningOracle interface {
	// ShouldInline returns true when calls to the procedure are replaced by its flow graph.
	ShouldInline(proc ir.ProcID) bool

	// IsSemanticallyMeaningful returns true when call nodes for the procedure must survive
	// inconsequential-call removal regardless of their connectivity.
	IsSemanticallyMeaningful(proc ir.ProcID) bool
}

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
	"github.com/argus-analysis/argus/analysis/config"
	"github.com/argus-analysis/argus/analysis/ir"
)

// edgeCheckedBefore reports whether an edge needs no fresh examination. Two calls nested
// through the same outermost call site were connected inside that callee's graph, which was
// pruned when it was built. An edge whose call endpoint sits at the root came straight out of
// the local dataflow facts, as did edges between argument and return nodes only; those are
// justified by construction.
func edgeCheckedBefore(s *State, src, dst Node) bool {
	if src.Kind == KindCall && dst.Kind == KindCall {
		sp, sproc := s.Interner.Outermost(src.Loc)
		dp, dproc := s.Interner.Outermost(dst.Loc)
		return sp == dp && sproc == dproc
	}
	if src.Kind == KindCall {
		return s.Interner.IsAtRoot(src.Loc)
	}
	if dst.Kind == KindCall {
		return s.Interner.IsAtRoot(dst.Loc)
	}
	return true
}

// findPrunableEdges collects every edge of the graph that no previous pass can have examined.
func findPrunableEdges(s *State, gwr *InlinedGraph) EdgeSet {
	out := EdgeSet{}
	for _, src := range gwr.Graph.Nodes() {
		for dst := range gwr.Graph.Out(src) {
			if !edgeCheckedBefore(s, src, dst) {
				out[EdgePair{Src: src, Dst: dst}] = true
			}
		}
	}
	return out
}

// pruneImpossibleEdges asks the equation system, for each data bit of each candidate edge,
// whether the place read at the destination can reach any place the source writes. Bits with no
// such connection are cleared; edges left with an empty label are removed. Control bits are
// never pruned; a condition value does not need a memory path to its dependents.
func (inl *Inliner) pruneImpossibleEdges(gwr *InlinedGraph, edges EdgeSet) {
	if len(edges) == 0 {
		return
	}
	s := inl.s
	solver := algebra.NewSolver(gwr.Equations)

	pairs := make([]EdgePair, 0, len(edges))
	for p := range edges {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if c := s.CompareNodes(pairs[i].Src, pairs[j].Src); c != 0 {
			return c < 0
		}
		return s.CompareNodes(pairs[i].Dst, pairs[j].Dst) < 0
	})

	pruned := 0
	for _, p := range pairs {
		w, ok := gwr.Graph.Edge(p.Src, p.Dst)
		if !ok {
			continue
		}
		sources := inl.writtenLocals(p.Src)
		for _, i := range w.Data.Indices() {
			target := inl.readLocal(p.Dst, i)
			reachable := solver.Reachable(algebra.NewTerm(target), func(b ir.GlobalLocal) bool {
				return sources[b]
			})
			if !reachable {
				w.Data.Clear(i)
				pruned++
			}
		}
		gwr.Graph.SetEdge(p.Src, p.Dst, w)
	}
	if pruned > 0 {
		s.Logger.Debugf("%s: pruned %d edge bits without a memory justification", gwr.Proc, pruned)
	}
}

// readLocal returns the global local a node reads through data slot i: the place passed at
// argument position i for call nodes, the return place for the return node, the argument's own
// place for argument nodes.
func (inl *Inliner) readLocal(n Node, i int) ir.GlobalLocal {
	s := inl.s
	switch n.Kind {
	case KindReturn:
		return ir.AtRoot(ir.ReturnPlace)
	case KindArgument:
		return ir.AtRoot(ir.ArgPlace(n.Arg))
	}
	cd := inl.callDescription(n.Loc)
	if i >= len(cd.Args) || cd.Args[i].Place.IsNone() {
		panic(fmt.Sprintf("flow: data edge into %s slot %d has no place", s.NodeString(n), i))
	}
	place := cd.Args[i].Place.Value()
	if parent, ok := s.Interner.Parent(n.Loc); ok {
		return ir.Relative(place, parent)
	}
	return ir.AtRoot(place)
}

// writtenLocals returns the global locals a node may write: everything an argument node holds,
// or all argument places and the return destination of a call.
func (inl *Inliner) writtenLocals(n Node) map[ir.GlobalLocal]bool {
	s := inl.s
	out := map[ir.GlobalLocal]bool{}
	switch n.Kind {
	case KindArgument:
		out[ir.AtRoot(ir.ArgPlace(n.Arg))] = true
		return out
	case KindReturn:
		panic("flow: return node cannot be an edge source")
	}
	cd := inl.callDescription(n.Loc)
	at := func(place ir.Place) ir.GlobalLocal {
		if parent, ok := s.Interner.Parent(n.Loc); ok {
			return ir.Relative(place, parent)
		}
		return ir.AtRoot(place)
	}
	for _, arg := range cd.Args {
		if arg.Place.IsSome() {
			out[at(arg.Place.Value())] = true
		}
	}
	if cd.ReturnTo.IsSome() {
		out[at(cd.ReturnTo.Value())] = true
	}
	return out
}

// callDescription looks up the summary entry behind a call node, however deeply nested its
// location is: the innermost link names the procedure that contains the original call
// instruction.
func (inl *Inliner) callDescription(loc ir.Loc) *CallDependencies {
	point, proc := inl.s.Interner.Innermost(loc)
	sum, err := inl.s.Summary(proc)
	if err != nil {
		// the summary was built once already or the graph could not exist
		panic(fmt.Sprintf("flow: summary for %s vanished: %v", proc, err))
	}
	cd := sum.Calls[point]
	if cd == nil {
		panic(fmt.Sprintf("flow: no call at %v in %s", point, proc))
	}
	return cd
}

// removeInconsequentialCalls drops call nodes that carry no meaning of their own and merely
// relay data: top-level calls that were not selected for inlining, are not marked meaningful,
// have at least one incoming data edge, and whose outgoing edges the policy allows to bypass.
// Incoming edges are rewired directly to the node's consumers. Returns the number of nodes
// removed.
func (inl *Inliner) removeInconsequentialCalls(gwr *InlinedGraph, policy config.RemovalPolicy) int {
	s := inl.s
	g := gwr.Graph
	removed := 0
	for _, n := range s.SortedNodes(g) {
		if n.Kind != KindCall || !s.Interner.IsAtRoot(n.Loc) {
			continue
		}
		if n.Callee == "" || s.Policy.IsSemanticallyMeaningful(n.Callee) {
			continue
		}
		if s.Program.IsPollWrapper(n.Callee) {
			continue
		}
		if s.Program.HasBody(n.Callee) && s.Policy.ShouldInline(n.Callee) {
			continue
		}
		if !bypassable(g, n, policy) {
			continue
		}
		var ins []EdgePair
		for src := range g.In(n) {
			ins = append(ins, EdgePair{Src: src, Dst: n})
		}
		succ := make(map[Node]Edge, len(g.Out(n)))
		for dst, w := range g.Out(n) {
			succ[dst] = w
		}
		for _, in := range ins {
			for dst, w := range succ {
				g.AddEdge(in.Src, dst, w)
			}
		}
		g.RemoveNode(n)
		removed++
	}
	return removed
}

// bypassable decides whether a call node's connectivity allows removal: it must have an
// incoming data edge to relay, at least one outgoing edge, and no outgoing control edge unless
// the policy permits removing control-flow sources. Removing a node whose result steers
// branches rewires its inputs as if they steered those branches directly, which
// over-approximates only under the aggressive policy's explicit opt-in.
func bypassable(g *Graph, n Node, policy config.RemovalPolicy) bool {
	hasDataIn := false
	for _, w := range g.In(n) {
		if w.Data != 0 {
			hasDataIn = true
			break
		}
	}
	if !hasDataIn {
		return false
	}
	if len(g.Out(n)) == 0 {
		return false
	}
	for _, w := range g.Out(n) {
		if w.Control && !policy.RemoveCtrlFlowSource() {
			return false
		}
	}
	return true
}

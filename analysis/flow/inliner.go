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

	"github.com/argus-analysis/argus/analysis/algebra"
	"github.com/argus-analysis/argus/analysis/config"
	"github.com/argus-analysis/argus/analysis/ir"
)

type inlineEntry struct {
	state cacheState
	g     *InlinedGraph
	err   error
}

// Inliner memoizes fully inlined graphs per procedure. Recursion is handled with an in-progress
// placeholder: when a procedure's construction reaches a call back into a procedure whose graph
// is still being built, that call stays opaque, so every cycle is expanded exactly once and then
// cut.
type Inliner struct {
	s    *State
	memo map[ir.ProcID]*inlineEntry
}

func newInliner(s *State) *Inliner {
	return &Inliner{s: s, memo: map[ir.ProcID]*inlineEntry{}}
}

// inlinedGraph returns the memoized inlined graph of a procedure. The second result is false
// when the procedure's graph is currently under construction further up the stack; the caller
// must then treat the call as opaque.
func (inl *Inliner) inlinedGraph(proc ir.ProcID) (*InlinedGraph, bool, error) {
	e := inl.memo[proc]
	if e == nil {
		e = &inlineEntry{}
		inl.memo[proc] = e
	}
	switch e.state {
	case cacheInProgress:
		return nil, false, nil
	case cacheDone:
		return e.g, true, e.err
	}
	e.state = cacheInProgress
	e.g, e.err = inl.build(proc)
	e.state = cacheDone
	return e.g, true, e.err
}

func (inl *Inliner) build(proc ir.ProcID) (*InlinedGraph, error) {
	s := inl.s
	sum, err := s.Summary(proc)
	if err != nil {
		return nil, err
	}
	gwr := graphFromSummary(s, sum)
	if s.Dumper != nil && s.Config.DumpPreInlineGraphs {
		s.Dumper.DumpGraph(s, "pre-inline", proc, gwr)
	}

	newEdges := EdgeSet{}
	if s.Config.Inline {
		if err := inl.performInlining(sum, gwr, newEdges); err != nil {
			return nil, err
		}
		s.Logger.Debugf("%s: inlined %d bodies, max call depth %d", proc, gwr.NumInlined, gwr.MaxCallStackDepth)
	}

	if policy := s.Config.RemovalPolicy(); policy.IsEnabled() {
		removed := inl.removeInconsequentialCalls(gwr, policy)
		s.Logger.Debugf("%s: removed %d inconsequential call nodes", proc, removed)
	}

	if s.Dumper != nil && s.Config.DumpInlinedGraphs {
		s.Dumper.DumpGraph(s, "inlined", proc, gwr)
	}
	if s.Dumper != nil && s.Config.DumpEquations {
		s.Dumper.DumpEquations(s, proc, gwr.Equations)
	}

	if s.Config.UsePruning() {
		var edges EdgeSet
		switch s.Config.PruningMode() {
		case config.PruneNewEdges:
			edges = newEdges
		case config.PruneNewNotPreviouslyPruned:
			edges = EdgeSet{}
			for p := range newEdges {
				if !edgeCheckedBefore(s, p.Src, p.Dst) {
					edges[p] = true
				}
			}
		default:
			edges = findPrunableEdges(s, gwr)
		}
		inl.pruneImpossibleEdges(gwr, edges)
		if s.Dumper != nil && s.Config.DumpPrunedGraphs {
			s.Dumper.DumpGraph(s, "pruned", proc, gwr)
		}
	}
	return gwr, nil
}

type actionKind uint8

const (
	// actionInline splices the callee's inlined graph into the caller.
	actionInline actionKind = iota
	// actionSpliceClosure inlines a closure body reached through a dispatch call. The closure
	// environment is the single formal of the spliced body.
	actionSpliceClosure
	// actionDropWrapper elides a poll-style wrapper node, splicing its value input directly to
	// its consumers.
	actionDropWrapper
)

type inlineAction struct {
	node         Node
	kind         actionKind
	callee       ir.ProcID
	closurePlace ir.Place
}

// performInlining classifies every call node of the graph and then applies the selected
// actions. Calls with no action stay opaque and contribute conservative may-write equations
// instead: any argument the callee could write through may depend on any argument it can read.
func (inl *Inliner) performInlining(sum *Summary, gwr *InlinedGraph, newEdges EdgeSet) error {
	s := inl.s
	var actions []inlineAction
	for _, n := range s.SortedNodes(gwr.Graph) {
		if !n.IsCall() {
			continue
		}
		// before inlining every call node sits at a root location of this procedure
		point := s.Interner.Point(n.Loc)
		cd := sum.Calls[point]
		if cd == nil {
			return fmt.Errorf("call node %s has no summary entry", s.NodeString(n))
		}
		if act, ok := inl.chooseAction(sum.Proc, point, n, cd); ok {
			actions = append(actions, act)
			continue
		}
		gwr.Equations = append(gwr.Equations, opaqueCallEquations(s, cd)...)
	}
	for _, act := range actions {
		if err := inl.apply(sum, gwr, act, newEdges); err != nil {
			return err
		}
	}
	return nil
}

func (inl *Inliner) chooseAction(proc ir.ProcID, point ir.Point, n Node, cd *CallDependencies) (inlineAction, bool) {
	s := inl.s
	if closure, cplace, ok := s.Program.ClosureCall(proc, point); ok && s.Policy.ShouldInline(closure) {
		return inlineAction{node: n, kind: actionSpliceClosure, callee: closure, closurePlace: cplace}, true
	}
	if cd.Callee == "" {
		return inlineAction{}, false
	}
	if s.Config.DropPollWrappers && s.Program.IsPollWrapper(cd.Callee) {
		return inlineAction{node: n, kind: actionDropWrapper, callee: cd.Callee}, true
	}
	if s.Policy.ShouldInline(cd.Callee) {
		return inlineAction{node: n, kind: actionInline, callee: cd.Callee}, true
	}
	return inlineAction{}, false
}

// opaqueCallEquations models a call that stays opaque: every place the callee may write (its
// by-reference arguments and the return destination) may contain some unknown part of every
// place it can read. When the callee is unresolved or has no known signature, every argument
// counts as writable.
func opaqueCallEquations(s *State, cd *CallDependencies) []algebra.Equation[ir.GlobalLocal] {
	var writes []ir.Place
	sig, known := s.Program.Signature(cd.Callee)
	if cd.Callee != "" && known {
		for _, a := range sig.MutableArgs {
			if a < len(cd.Args) && cd.Args[a].Place.IsSome() {
				writes = append(writes, cd.Args[a].Place.Value())
			}
		}
	} else {
		for _, arg := range cd.Args {
			if arg.Place.IsSome() {
				writes = append(writes, arg.Place.Value())
			}
		}
	}
	if cd.ReturnTo.IsSome() {
		writes = append(writes, cd.ReturnTo.Value())
	}

	var eqs []algebra.Equation[ir.GlobalLocal]
	for _, w := range writes {
		for _, arg := range cd.Args {
			if arg.Place.IsNone() || arg.Place.Value() == w {
				continue
			}
			eqs = append(eqs, algebra.NewEquation(
				algebra.NewTerm(ir.AtRoot(w)).AddUnknown(),
				algebra.NewTerm(ir.AtRoot(arg.Place.Value())),
			))
		}
	}
	return eqs
}

// apply executes one inlining action on the graph.
func (inl *Inliner) apply(sum *Summary, gwr *InlinedGraph, act inlineAction, newEdges EdgeSet) error {
	s := inl.s
	g := gwr.Graph
	n := act.node
	rootLoc := n.Loc
	point := s.Interner.Point(rootLoc)
	cd := sum.Calls[point]

	if act.kind == actionDropWrapper {
		inl.dropWrapper(gwr, n, cd, newEdges)
		return nil
	}

	calleeG, ready, err := inl.inlinedGraph(act.callee)
	if err != nil {
		return fmt.Errorf("inlining %s at %s: %w", act.callee, s.Interner.String(rootLoc), err)
	}
	if !ready {
		s.Logger.Debugf("cutting recursion: call to %s at %s stays opaque", act.callee, s.Interner.String(rootLoc))
		gwr.Equations = append(gwr.Equations, opaqueCallEquations(s, cd)...)
		return nil
	}

	gwr.NumInlined += 1 + calleeG.NumInlined
	if d := calleeG.MaxCallStackDepth + 1; d > gwr.MaxCallStackDepth {
		gwr.MaxCallStackDepth = d
	}
	s.Logger.Tracef("splicing %s into %s at %s", act.callee, sum.Proc, s.Interner.String(rootLoc))

	ref := s.Interner.At(point, sum.Proc)
	numArgs := len(cd.Args)
	if act.kind == actionSpliceClosure {
		numArgs = 1
	}

	// caller-side sources feeding each argument position, and the call's control inputs
	argSources := make([][]Node, numArgs)
	var ctrlSources []Node
	for src, w := range g.In(n) {
		for _, i := range w.Data.Indices() {
			if i < numArgs {
				argSources[i] = append(argSources[i], src)
			}
		}
		if w.Control {
			ctrlSources = append(ctrlSources, src)
		}
	}
	callerSucc := make(map[Node]Edge, len(g.Out(n)))
	for dst, w := range g.Out(n) {
		callerSucc[dst] = w
	}

	// the callee's equations move into the caller's frame, and formals bind to actuals
	gwr.Equations = append(gwr.Equations, algebra.MapBases(calleeG.Equations, ref.RelativizeLocal)...)
	bind := func(actual, formal ir.Place) {
		gwr.Equations = append(gwr.Equations, algebra.NewEquation(
			algebra.NewTerm(ir.AtRoot(actual)),
			algebra.NewTerm(ir.Relative(formal, rootLoc)),
		))
	}
	if act.kind == actionSpliceClosure {
		bind(act.closurePlace, ir.ArgPlace(0))
	} else {
		for i, arg := range cd.Args {
			if arg.Place.IsSome() {
				bind(arg.Place.Value(), ir.ArgPlace(i))
			}
		}
	}
	if cd.ReturnTo.IsSome() {
		bind(cd.ReturnTo.Value(), ir.ReturnPlace)
	}

	record := func(src, dst Node, e Edge) {
		g.AddEdge(src, dst, e)
		newEdges[EdgePair{Src: src, Dst: dst}] = true
	}
	// resolveSource maps a callee-side edge source to caller-side nodes: nested calls get the
	// call site prepended to their location, argument sources expand to whatever fed that
	// argument at the call.
	resolveSource := func(src Node, each func(Node)) {
		switch src.Kind {
		case KindCall:
			each(CallNodeAt(ref.Relativize(src.Loc), src.Callee))
		case KindArgument:
			if src.Arg < numArgs {
				for _, cs := range argSources[src.Arg] {
					each(cs)
				}
			}
		default:
			panic("flow: return node cannot be an edge source")
		}
	}

	cg := calleeG.Graph
	var splicedCalls []Node
	for _, old := range s.SortedNodes(cg) {
		if old.IsCall() {
			repl := CallNodeAt(ref.Relativize(old.Loc), old.Callee)
			g.AddNode(repl)
			splicedCalls = append(splicedCalls, repl)
			for src, w := range cg.In(old) {
				w := w
				resolveSource(src, func(from Node) { record(from, repl, w) })
			}
			continue
		}
		// edges into the callee's return and argument nodes are its outputs: they redirect to
		// the consumers of the call
		for src := range cg.In(old) {
			for dst, out := range callerSucc {
				out := out
				resolveSource(src, func(from Node) { record(from, dst, out) })
			}
		}
	}

	// everything inside the callee runs under the conditions that guarded the call
	for _, repl := range splicedCalls {
		for _, cs := range ctrlSources {
			record(cs, repl, ControlEdge())
		}
	}

	g.RemoveNode(n)
	return nil
}

// dropWrapper elides a poll-style wrapper call: sources of its wrapped value (argument slot 0)
// connect directly to the consumers of its result, and the result place is equated with the
// wrapped place.
func (inl *Inliner) dropWrapper(gwr *InlinedGraph, n Node, cd *CallDependencies, newEdges EdgeSet) {
	g := gwr.Graph
	var sources []Node
	for src, w := range g.In(n) {
		if w.Data.Has(0) {
			sources = append(sources, src)
		}
	}
	succ := make(map[Node]Edge, len(g.Out(n)))
	for dst, w := range g.Out(n) {
		succ[dst] = w
	}
	for _, src := range sources {
		for dst, w := range succ {
			g.AddEdge(src, dst, w)
			newEdges[EdgePair{Src: src, Dst: dst}] = true
		}
	}
	if cd.ReturnTo.IsSome() && len(cd.Args) > 0 && cd.Args[0].Place.IsSome() {
		gwr.Equations = append(gwr.Equations, algebra.NewEquation(
			algebra.NewTerm(ir.AtRoot(cd.ReturnTo.Value())),
			algebra.NewTerm(ir.AtRoot(cd.Args[0].Place.Value())),
		))
	}
	g.RemoveNode(n)
}

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
	"strings"

	"github.com/argus-analysis/argus/analysis/algebra"
	"github.com/argus-analysis/argus/analysis/ir"
)

// NodeKind discriminates the three node shapes of a flow graph.
type NodeKind uint8

const (
	// KindReturn is the unique return node of the procedure under analysis.
	KindReturn NodeKind = iota
	// KindArgument represents a formal argument of the procedure under analysis.
	KindArgument
	// KindCall represents one call instruction, at its (possibly nested) global location.
	KindCall
)

// Node is a vertex of a flow graph. Nodes are comparable values, so structurally equal nodes
// are the same vertex; this is what lets inlining merge a callee's return and argument nodes
// into the caller's edges.
type Node struct {
	Kind NodeKind
	// Arg is the argument index for KindArgument nodes.
	Arg int
	// Loc is the global location for KindCall nodes.
	Loc ir.Loc
	// Callee is the resolved target for KindCall nodes, empty for indirect calls.
	Callee ir.ProcID
}

// ReturnNode returns the return node.
func ReturnNode() Node { return Node{Kind: KindReturn} }

// ArgumentNode returns the node for the i-th formal argument.
func ArgumentNode(i int) Node { return Node{Kind: KindArgument, Arg: i} }

// CallNodeAt returns the call node for the call to callee at loc.
func CallNodeAt(loc ir.Loc, callee ir.ProcID) Node {
	return Node{Kind: KindCall, Loc: loc, Callee: callee}
}

// IsCall returns true for call nodes.
func (n Node) IsCall() bool { return n.Kind == KindCall }

// maxEdgeArgs bounds the argument positions an edge bitset can carry.
const maxEdgeArgs = 64

// BitSet is a set of argument indices below maxEdgeArgs.
type BitSet uint64

// Has returns true when index i is in the set.
func (b BitSet) Has(i int) bool { return b&(1<<uint(i)) != 0 }

// Set adds index i to the set.
func (b *BitSet) Set(i int) {
	if i < 0 || i >= maxEdgeArgs {
		panic(fmt.Sprintf("flow: argument index %d out of edge range", i))
	}
	*b |= 1 << uint(i)
}

// Clear removes index i from the set.
func (b *BitSet) Clear(i int) { *b &^= 1 << uint(i) }

// Indices returns the members of the set in ascending order.
func (b BitSet) Indices() []int {
	var out []int
	for i := 0; i < maxEdgeArgs; i++ {
		if b.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// Count returns the number of members.
func (b BitSet) Count() int {
	n := 0
	for ; b != 0; b &= b - 1 {
		n++
	}
	return n
}

// Edge is the label of a flow edge: the set of target argument positions the source value flows
// into, plus a control bit set when the source feeds a condition guarding the target.
type Edge struct {
	Data    BitSet
	Control bool
}

// DataEdge returns an edge carrying a single data flow into argument position i.
func DataEdge(i int) Edge {
	var e Edge
	e.Data.Set(i)
	return e
}

// ControlEdge returns an edge carrying only a control dependency.
func ControlEdge() Edge { return Edge{Control: true} }

// IsEmpty returns true when the edge carries neither data nor control.
func (e Edge) IsEmpty() bool { return e.Data == 0 && !e.Control }

// Merge returns the union of two edge labels.
func (e Edge) Merge(o Edge) Edge {
	return Edge{Data: e.Data | o.Data, Control: e.Control || o.Control}
}

func (e Edge) String() string {
	var parts []string
	for _, i := range e.Data.Indices() {
		parts = append(parts, fmt.Sprintf("arg%d", i))
	}
	if e.Control {
		parts = append(parts, "ctrl")
	}
	return strings.Join(parts, ",")
}

// Graph is a directed graph over flow nodes with mergeable edge labels. Parallel flows between
// the same pair of nodes collapse into one edge whose label is the union; an edge whose label
// becomes empty is removed.
type Graph struct {
	succ map[Node]map[Node]Edge
	pred map[Node]map[Node]Edge
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		succ: map[Node]map[Node]Edge{},
		pred: map[Node]map[Node]Edge{},
	}
}

// AddNode inserts a node without edges. Idempotent.
func (g *Graph) AddNode(n Node) {
	if _, ok := g.succ[n]; !ok {
		g.succ[n] = map[Node]Edge{}
		g.pred[n] = map[Node]Edge{}
	}
}

// HasNode returns true when the node is in the graph.
func (g *Graph) HasNode(n Node) bool {
	_, ok := g.succ[n]
	return ok
}

// AddEdge merges e into the edge from src to dst, inserting both nodes as needed. Empty labels
// are ignored.
func (g *Graph) AddEdge(src, dst Node, e Edge) {
	if e.IsEmpty() {
		return
	}
	g.AddNode(src)
	g.AddNode(dst)
	merged := g.succ[src][dst].Merge(e)
	g.succ[src][dst] = merged
	g.pred[dst][src] = merged
}

// Edge returns the label of the edge from src to dst.
func (g *Graph) Edge(src, dst Node) (Edge, bool) {
	e, ok := g.succ[src][dst]
	return e, ok
}

// SetEdge replaces the label of the edge from src to dst, removing the edge when the label is
// empty.
func (g *Graph) SetEdge(src, dst Node, e Edge) {
	if e.IsEmpty() {
		g.RemoveEdge(src, dst)
		return
	}
	g.AddNode(src)
	g.AddNode(dst)
	g.succ[src][dst] = e
	g.pred[dst][src] = e
}

// RemoveEdge deletes the edge from src to dst if present.
func (g *Graph) RemoveEdge(src, dst Node) {
	delete(g.succ[src], dst)
	delete(g.pred[dst], src)
}

// RemoveNode deletes a node and all its edges.
func (g *Graph) RemoveNode(n Node) {
	for dst := range g.succ[n] {
		delete(g.pred[dst], n)
	}
	for src := range g.pred[n] {
		delete(g.succ[src], n)
	}
	delete(g.succ, n)
	delete(g.pred, n)
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.succ) }

// EdgeCount returns the number of labelled edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, out := range g.succ {
		n += len(out)
	}
	return n
}

// Nodes returns all nodes in unspecified order. Callers needing determinism sort with a node
// comparator; see State.CompareNodes.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.succ))
	for n := range g.succ {
		out = append(out, n)
	}
	return out
}

// Out returns the successor edge map of n. The map is the graph's own storage; callers must
// not mutate it and must copy before modifying the graph while iterating.
func (g *Graph) Out(n Node) map[Node]Edge { return g.succ[n] }

// In returns the predecessor edge map of n, under the same aliasing rules as Out.
func (g *Graph) In(n Node) map[Node]Edge { return g.pred[n] }

// EdgePair is an ordered (source, destination) node pair, used to track edge subsets across
// passes.
type EdgePair struct {
	Src Node
	Dst Node
}

// EdgeSet is a set of edges identified by their endpoints.
type EdgeSet map[EdgePair]bool

// InlinedGraph is a procedure flow graph together with the place equations accumulated while
// building it, and counters describing how much inlining went into it.
type InlinedGraph struct {
	Graph     *Graph
	Proc      ir.ProcID
	Equations []algebra.Equation[ir.GlobalLocal]

	// NumInlined counts the procedure bodies spliced into this graph, transitively.
	NumInlined int
	// MaxCallStackDepth is the deepest call chain the splicing reached.
	MaxCallStackDepth int
}

// graphFromSummary builds the pre-inlining flow graph of a summary: one argument node per
// formal, one return node, one call node per call site at its root location, and edges from
// each dependency target into the consuming argument position, condition, or return.
func graphFromSummary(s *State, sum *Summary) *InlinedGraph {
	g := NewGraph()
	proc := sum.Proc

	nodeFor := func(t Target) Node {
		if t.Kind == TargetArgument {
			return ArgumentNode(t.Index)
		}
		return CallNodeAt(s.Interner.Root(t.Point, proc), sum.Calls[t.Point].Callee)
	}

	for _, point := range sum.CallPoints() {
		cd := sum.Calls[point]
		n := CallNodeAt(s.Interner.Root(point, proc), cd.Callee)
		g.AddNode(n)
		for i, arg := range cd.Args {
			for _, t := range arg.Deps.Sorted() {
				g.AddEdge(nodeFor(t), n, DataEdge(i))
			}
		}
		for _, t := range cd.CtrlDeps.Sorted() {
			g.AddEdge(nodeFor(t), n, ControlEdge())
		}
	}

	for _, t := range sum.ReturnDeps.Sorted() {
		g.AddEdge(nodeFor(t), ReturnNode(), DataEdge(0))
	}
	// The final value of a by-reference argument is an output of the procedure: model it as a
	// flow back into the argument node, so callers splicing this graph can pick it up.
	for i, deps := range sum.ReturnArgDeps {
		arg := sum.Sig.MutableArgs[i]
		for _, t := range deps.Sorted() {
			if t.Kind == TargetArgument && t.Index == arg {
				continue
			}
			g.AddEdge(nodeFor(t), ArgumentNode(arg), DataEdge(0))
		}
	}

	eqs := make([]algebra.Equation[ir.GlobalLocal], 0, len(sum.Equations))
	eqs = append(eqs, algebra.MapBases(sum.Equations, func(p ir.Place) ir.GlobalLocal {
		return ir.AtRoot(p)
	})...)

	return &InlinedGraph{Graph: g, Proc: proc, Equations: eqs}
}

// CompareNodes is a total order over nodes of one analysis run: return first, then arguments by
// index, then calls by location order.
func (s *State) CompareNodes(a, b Node) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindArgument:
		switch {
		case a.Arg < b.Arg:
			return -1
		case a.Arg > b.Arg:
			return 1
		}
		return 0
	case KindCall:
		if c := s.Interner.Compare(a.Loc, b.Loc); c != 0 {
			return c
		}
		return strings.Compare(string(a.Callee), string(b.Callee))
	}
	return 0
}

// SortedNodes returns the graph's nodes in the run's canonical order.
func (s *State) SortedNodes(g *Graph) []Node {
	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return s.CompareNodes(nodes[i], nodes[j]) < 0 })
	return nodes
}

// NodeString renders a node for logs and graph dumps.
func (s *State) NodeString(n Node) string {
	switch n.Kind {
	case KindReturn:
		return "return"
	case KindArgument:
		return fmt.Sprintf("arg%d", n.Arg)
	default:
		callee := string(n.Callee)
		if callee == "" {
			callee = "<indirect>"
		}
		return fmt.Sprintf("%s @ %s", callee, s.Interner.String(n.Loc))
	}
}

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

// Package render turns flow graphs and call-only flows into artifacts on disk: DOT renderings
// of intermediate graphs, equation listings and the JSON form of the final result.
package render

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/iterator"

	"github.com/argus-analysis/argus/analysis/flow"
	"github.com/argus-analysis/argus/internal/formatutil"
	"github.com/argus-analysis/argus/internal/funcutil"
)

// dotNode adapts a flow node to the gonum graph and DOT interfaces.
type dotNode struct {
	id    int64
	label string
	kind  flow.NodeKind
}

func (n dotNode) ID() int64     { return n.id }
func (n dotNode) DOTID() string { return n.label }

// Attributes implements encoding.Attributer: call nodes render as boxes, the procedure
// interface (arguments and return) as ellipses.
func (n dotNode) Attributes() []encoding.Attribute {
	shape := "ellipse"
	if n.kind == flow.KindCall {
		shape = "box"
	}
	return []encoding.Attribute{{Key: "shape", Value: shape}}
}

type dotEdge struct {
	from, to dotNode
	w        flow.Edge
}

func (e dotEdge) From() graph.Node { return e.from }
func (e dotEdge) To() graph.Node   { return e.to }
func (e dotEdge) ReversedEdge() graph.Edge {
	return dotEdge{from: e.to, to: e.from, w: e.w}
}

// Attributes labels the edge with its argument slots; pure control edges render dashed.
func (e dotEdge) Attributes() []encoding.Attribute {
	attrs := []encoding.Attribute{{Key: "label", Value: e.w.String()}}
	if e.w.Data == 0 && e.w.Control {
		attrs = append(attrs, encoding.Attribute{Key: "style", Value: "dashed"})
	}
	return attrs
}

// dotGraph adapts a flow graph to gonum's graph.Directed so dot.Marshal can serialize it.
// Node ids follow the run's canonical node order, keeping renderings stable.
type dotGraph struct {
	g     *flow.Graph
	nodes []dotNode
	index map[flow.Node]int64
	flown []flow.Node
}

func newDotGraph(s *flow.State, g *flow.Graph) *dotGraph {
	sorted := s.SortedNodes(g)
	d := &dotGraph{
		g:     g,
		nodes: make([]dotNode, len(sorted)),
		index: make(map[flow.Node]int64, len(sorted)),
		flown: sorted,
	}
	for i, n := range sorted {
		d.nodes[i] = dotNode{
			id:    int64(i),
			label: formatutil.Sanitize(s.NodeString(n)),
			kind:  n.Kind,
		}
		d.index[n] = int64(i)
	}
	return d
}

func (d *dotGraph) Node(id int64) graph.Node {
	if id < 0 || id >= int64(len(d.nodes)) {
		return nil
	}
	return d.nodes[id]
}

func (d *dotGraph) Nodes() graph.Nodes {
	return iterator.NewOrderedNodes(funcutil.Map(d.nodes, func(n dotNode) graph.Node { return n }))
}

func (d *dotGraph) From(id int64) graph.Nodes {
	return d.neighbors(d.g.Out(d.flown[id]))
}

func (d *dotGraph) To(id int64) graph.Nodes {
	return d.neighbors(d.g.In(d.flown[id]))
}

func (d *dotGraph) neighbors(edges map[flow.Node]flow.Edge) graph.Nodes {
	var out []graph.Node
	for n := range edges {
		out = append(out, d.nodes[d.index[n]])
	}
	return iterator.NewOrderedNodes(out)
}

func (d *dotGraph) HasEdgeFromTo(uid, vid int64) bool {
	_, ok := d.g.Edge(d.flown[uid], d.flown[vid])
	return ok
}

func (d *dotGraph) HasEdgeBetween(xid, yid int64) bool {
	return d.HasEdgeFromTo(xid, yid) || d.HasEdgeFromTo(yid, xid)
}

func (d *dotGraph) Edge(uid, vid int64) graph.Edge {
	w, ok := d.g.Edge(d.flown[uid], d.flown[vid])
	if !ok {
		return nil
	}
	return dotEdge{from: d.nodes[uid], to: d.nodes[vid], w: w}
}

// MarshalDot renders a flow graph in DOT format.
func MarshalDot(s *flow.State, name string, g *flow.Graph) ([]byte, error) {
	return dot.Marshal(newDotGraph(s, g), name, "", "  ")
}

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

package ir

import (
	"strings"
	"sync"
)

// Loc is a handle to an interned global location. The zero value means "no location". Two
// handles from the same Interner are equal exactly when the chains they address are
// structurally equal.
type Loc uint32

// locNode is one link of a location chain. The head link is the outermost frame; Next walks
// toward the innermost point. When Next is non-zero, Point must be a call instruction of Proc.
type locNode struct {
	Proc  ProcID
	Point Point
	Next  Loc
}

// Interner owns the arena of location chains for one analysis run. Chains are deduplicated, so
// handle equality coincides with structural equality. The arena is append-only and must outlive
// every graph derived from it.
type Interner struct {
	mu       sync.Mutex
	nodes    []locNode
	dedup    map[locNode]Loc
	procRank map[ProcID]int
}

// NewInterner returns an empty location interner.
func NewInterner() *Interner {
	return &Interner{
		nodes:    make([]locNode, 1), // index 0 is the "no location" sentinel
		dedup:    map[locNode]Loc{},
		procRank: map[ProcID]int{},
	}
}

// RegisterProcs fixes the comparison rank of procedures to their declaration order. Procedures
// seen later get ranks in order of first use.
func (in *Interner) RegisterProcs(procs []ProcID) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, p := range procs {
		if _, ok := in.procRank[p]; !ok {
			in.procRank[p] = len(in.procRank)
		}
	}
}

func (in *Interner) rank(p ProcID) int {
	if r, ok := in.procRank[p]; ok {
		return r
	}
	r := len(in.procRank)
	in.procRank[p] = r
	return r
}

func (in *Interner) intern(n locNode) Loc {
	in.mu.Lock()
	defer in.mu.Unlock()
	if l, ok := in.dedup[n]; ok {
		return l
	}
	in.rank(n.Proc)
	l := Loc(len(in.nodes))
	in.nodes = append(in.nodes, n)
	in.dedup[n] = l
	return l
}

func (in *Interner) node(l Loc) locNode {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.nodes[l]
}

// Root interns a top-level location: point inside proc, not nested in any call.
func (in *Interner) Root(point Point, proc ProcID) Loc {
	return in.intern(locNode{Proc: proc, Point: point, Next: 0})
}

// Nest interns the location representing inner as reached through the call at callPoint in
// callProc. The new link becomes the outermost frame of the chain.
func (in *Interner) Nest(inner Loc, callPoint Point, callProc ProcID) Loc {
	if inner == 0 {
		panic("ir: cannot nest the empty location")
	}
	return in.intern(locNode{Proc: callProc, Point: callPoint, Next: inner})
}

// Proc returns the procedure of the outermost link.
func (in *Interner) Proc(l Loc) ProcID { return in.node(l).Proc }

// Point returns the point of the outermost link.
func (in *Interner) Point(l Loc) Point { return in.node(l).Point }

// Next returns the chain nested under the outermost link, or zero for a root location.
func (in *Interner) Next(l Loc) Loc { return in.node(l).Next }

// IsAtRoot returns true when the chain has a single link.
func (in *Interner) IsAtRoot(l Loc) bool { return in.node(l).Next == 0 }

// Innermost walks to the end of the chain and returns its point and procedure.
func (in *Interner) Innermost(l Loc) (Point, ProcID) {
	n := in.node(l)
	for n.Next != 0 {
		n = in.node(n.Next)
	}
	return n.Point, n.Proc
}

// InnermostPoint returns the point of the innermost link.
func (in *Interner) InnermostPoint(l Loc) Point {
	p, _ := in.Innermost(l)
	return p
}

// InnermostProc returns the procedure of the innermost link.
func (in *Interner) InnermostProc(l Loc) ProcID {
	_, proc := in.Innermost(l)
	return proc
}

// Outermost returns the point and procedure of the outermost link.
func (in *Interner) Outermost(l Loc) (Point, ProcID) {
	n := in.node(l)
	return n.Point, n.Proc
}

// Parent returns the location of the enclosing call site: the chain with its innermost link
// dropped. Returns false for root locations.
func (in *Interner) Parent(l Loc) (Loc, bool) {
	n := in.node(l)
	if n.Next == 0 {
		return 0, false
	}
	if rest, ok := in.Parent(n.Next); ok {
		return in.intern(locNode{Proc: n.Proc, Point: n.Point, Next: rest}), true
	}
	return in.intern(locNode{Proc: n.Proc, Point: n.Point, Next: 0}), true
}

// Depth returns the number of links in the chain.
func (in *Interner) Depth(l Loc) int {
	d := 0
	for l != 0 {
		d++
		l = in.node(l).Next
	}
	return d
}

// Compare is a total order over locations: procedures compare by registration rank, equal
// points compare by their nested chains with the empty chain first, unequal points compare
// directly.
func (in *Interner) Compare(a, b Loc) int {
	if a == b {
		return 0
	}
	if a == 0 {
		return -1
	}
	if b == 0 {
		return 1
	}
	na, nb := in.node(a), in.node(b)
	if na.Proc != nb.Proc {
		in.mu.Lock()
		ra, rb := in.rank(na.Proc), in.rank(nb.Proc)
		in.mu.Unlock()
		if ra < rb {
			return -1
		}
		return 1
	}
	if c := na.Point.Compare(nb.Point); c != 0 {
		return c
	}
	return in.Compare(na.Next, nb.Next)
}

// String renders the chain outermost to innermost.
func (in *Interner) String(l Loc) string {
	var parts []string
	for l != 0 {
		n := in.node(l)
		parts = append(parts, string(n.Proc)+":"+n.Point.String())
		l = n.Next
	}
	return strings.Join(parts, " -> ")
}

// Size returns the number of interned locations.
func (in *Interner) Size() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.nodes) - 1
}

// CallSiteRef is a cursor for relativizing locations and locals to a specific call site. It
// mirrors the shape of the inlining step: everything inside the callee becomes nested under the
// call point in the caller.
type CallSiteRef struct {
	in    *Interner
	point Point
	proc  ProcID
}

// At returns a relativization cursor for the call at point in proc.
func (in *Interner) At(point Point, proc ProcID) CallSiteRef {
	return CallSiteRef{in: in, point: point, proc: proc}
}

// Location returns the root location of the call site itself.
func (r CallSiteRef) Location() Loc {
	return r.in.Root(r.point, r.proc)
}

// Relativize nests l under the call site.
func (r CallSiteRef) Relativize(l Loc) Loc {
	return r.in.Nest(l, r.point, r.proc)
}

// RelativizeLocal rewrites a callee-relative global local to be caller-relative: a root-relative
// local becomes relative to the call site, a nested one gets the call site prepended to its
// chain.
func (r CallSiteRef) RelativizeLocal(g GlobalLocal) GlobalLocal {
	if g.Loc == 0 {
		return Relative(g.Place, r.Location())
	}
	return Relative(g.Place, r.Relativize(g.Loc))
}

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

package algebra

import "fmt"

// maxTermOps bounds the projection chains built during solving. Longer chains are abandoned;
// combined with the visited set this makes exploration finite.
const maxTermOps = 10

// Solver explores the equality graph of a fixed equation set. Build one per pruning pass and
// reuse it across queries; the base index is computed once.
type Solver[B comparable] struct {
	eqs   []Equation[B]
	index map[B][]int
}

// NewSolver indexes the equations by the bases they mention.
func NewSolver[B comparable](eqs []Equation[B]) *Solver[B] {
	s := &Solver[B]{eqs: eqs, index: make(map[B][]int, len(eqs))}
	for i, e := range eqs {
		s.index[e.Lhs.Base] = append(s.index[e.Lhs.Base], i)
		if e.Rhs.Base != e.Lhs.Base {
			s.index[e.Rhs.Base] = append(s.index[e.Rhs.Base], i)
		}
	}
	return s
}

type visitKey[B comparable] struct {
	base B
	ops  string
}

func keyOf[B comparable](t Term[B]) visitKey[B] {
	ops := make([]byte, 0, 3*len(t.Ops))
	for _, o := range t.Ops {
		f := uint16(int16(o.Field))
		ops = append(ops, byte(o.Kind), byte(f>>8), byte(f))
	}
	return visitKey[B]{base: t.Base, ops: string(ops)}
}

// Solve explores all terms equal to from under the equation set, calling found for every term
// whose base satisfies isTarget. Exploration stops when found returns false or the space is
// exhausted. Finding nothing is not an error; it means the two locations cannot be connected
// through the known equalities.
func (s *Solver[B]) Solve(from Term[B], isTarget func(B) bool, found func(Term[B]) bool) {
	visited := map[visitKey[B]]bool{}
	worklist := []Term[B]{from}
	visited[keyOf(from)] = true

	for len(worklist) > 0 {
		t := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if isTarget(t.Base) {
			if !found(t) {
				return
			}
		}

		for _, i := range s.index[t.Base] {
			e := s.eqs[i]
			for _, orient := range [2][2]Term[B]{{e.Lhs, e.Rhs}, {e.Rhs, e.Lhs}} {
				side, other := orient[0], orient[1]
				if side.Base != t.Base {
					continue
				}
				next, ok := rewrite(t, side, other)
				if !ok || len(next.Ops) > maxTermOps {
					continue
				}
				k := keyOf(next)
				if !visited[k] {
					visited[k] = true
					worklist = append(worklist, next)
				}
			}
		}
	}
}

// Reachable reports whether any term with a base satisfying isTarget is equal to from.
func (s *Solver[B]) Reachable(from Term[B], isTarget func(B) bool) bool {
	reached := false
	s.Solve(from, isTarget, func(Term[B]) bool {
		reached = true
		return false
	})
	return reached
}

// rewrite unifies t with the equation side and returns the corresponding instance of the other
// side. Three shapes match:
//   - side's projections are a prefix of t's: the leftover projections transfer onto other;
//   - side ends in the unknown projection and its stem prefixes t: the unknown absorbs the
//     leftover, yielding other as-is;
//   - t's projections are a proper prefix of side's: the surplus is inverted onto other.
func rewrite[B comparable](t, side, other Term[B]) (Term[B], bool) {
	n := len(side.Ops)
	if n > 0 && side.Ops[n-1].Kind == OpUnknown && isPrefix(side.Ops[:n-1], t.Ops) {
		return Term[B]{Base: other.Base, Ops: other.Ops}, true
	}
	if isPrefix(side.Ops, t.Ops) {
		rest := t.Ops[len(side.Ops):]
		return compose(other, rest)
	}
	if isPrefix(t.Ops, side.Ops) {
		extra := side.Ops[len(t.Ops):]
		inv := make([]Op, 0, len(extra))
		for i := len(extra) - 1; i >= 0; i-- {
			inv = append(inv, extra[i].Inverse())
		}
		return compose(other, inv)
	}
	return Term[B]{}, false
}

func compose[B comparable](base Term[B], rest []Op) (Term[B], bool) {
	ops := make([]Op, 0, len(base.Ops)+len(rest))
	ops = append(ops, base.Ops...)
	ops = append(ops, rest...)
	simplified, ok := simplify(ops)
	if !ok {
		return Term[B]{}, false
	}
	return Term[B]{Base: base.Base, Ops: simplified}, true
}

func isPrefix(prefix, ops []Op) bool {
	if len(prefix) > len(ops) {
		return false
	}
	for i, o := range prefix {
		if ops[i] != o {
			return false
		}
	}
	return true
}

// SolveWith runs a one-shot query without building a reusable solver.
func SolveWith[B comparable](eqs []Equation[B], from Term[B], isTarget func(B) bool, found func(Term[B]) bool) {
	NewSolver(eqs).Solve(from, isTarget, found)
}

// DumpEquations renders an equation set one equation per line, for debug output.
func DumpEquations[B comparable](eqs []Equation[B]) string {
	out := ""
	for _, e := range eqs {
		out += fmt.Sprintf("  %v\n", e)
	}
	return out
}

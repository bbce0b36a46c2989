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

// Package algebra implements the symbolic place-equation system used to decide whether a
// dependency edge is memory-plausible. Terms are a base (a symbolic memory location) under a
// chain of projections; equations relate two terms and are treated as bidirectional. The system
// over-approximates aliasing: reachability through the equality graph is a sufficient condition
// for "may alias", never a proof of must-alias.
package algebra

import (
	"fmt"
	"strings"
)

// OpKind enumerates the projections a term can apply to its base.
type OpKind uint8

const (
	// OpDeref is the value behind a pointer: *x.
	OpDeref OpKind = iota + 1
	// OpRef is the address of a place: &x. Inverse of OpDeref.
	OpRef
	// OpField is a field projection: x.f.
	OpField
	// OpFieldOf is the enclosing struct of a field: the y such that y.f == x. Inverse of
	// OpField.
	OpFieldOf
	// OpUnknown is the existential projection injected for opaque writes: some unknown part of
	// x. It unifies with any projection chain.
	OpUnknown
)

// Op is a single projection. Field carries the field index for OpField/OpFieldOf.
type Op struct {
	Kind  OpKind
	Field int
}

// Deref returns the pointer-dereference projection.
func Deref() Op { return Op{Kind: OpDeref} }

// Ref returns the address-of projection.
func Ref() Op { return Op{Kind: OpRef} }

// Field returns the field projection for field index f.
func Field(f int) Op { return Op{Kind: OpField, Field: f} }

// FieldOf returns the enclosing-struct projection for field index f.
func FieldOf(f int) Op { return Op{Kind: OpFieldOf, Field: f} }

// Unknown returns the existential projection.
func Unknown() Op { return Op{Kind: OpUnknown} }

// Inverse returns the projection q such that q(o(x)) == x.
func (o Op) Inverse() Op {
	switch o.Kind {
	case OpDeref:
		return Op{Kind: OpRef}
	case OpRef:
		return Op{Kind: OpDeref}
	case OpField:
		return Op{Kind: OpFieldOf, Field: o.Field}
	case OpFieldOf:
		return Op{Kind: OpField, Field: o.Field}
	default:
		return o
	}
}

func (o Op) String() string {
	switch o.Kind {
	case OpDeref:
		return "*"
	case OpRef:
		return "&"
	case OpField:
		return fmt.Sprintf(".%d", o.Field)
	case OpFieldOf:
		return fmt.Sprintf("@%d", o.Field)
	case OpUnknown:
		return ".?"
	default:
		return "!"
	}
}

// Term is a base under a chain of projections, applied from the base outward: Ops[0] first.
type Term[B comparable] struct {
	Base B
	Ops  []Op
}

// NewTerm returns the bare term for a base.
func NewTerm[B comparable](base B) Term[B] {
	return Term[B]{Base: base}
}

// Apply returns a new term with the projection appended. The receiver is not modified.
func (t Term[B]) Apply(o Op) Term[B] {
	ops := make([]Op, len(t.Ops), len(t.Ops)+1)
	copy(ops, t.Ops)
	return Term[B]{Base: t.Base, Ops: append(ops, o)}
}

// DerefOf returns *t.
func (t Term[B]) DerefOf() Term[B] { return t.Apply(Deref()) }

// RefOf returns &t.
func (t Term[B]) RefOf() Term[B] { return t.Apply(Ref()) }

// FieldAt returns t.f.
func (t Term[B]) FieldAt(f int) Term[B] { return t.Apply(Field(f)) }

// AddUnknown returns t.? — some unknown part of t.
func (t Term[B]) AddUnknown() Term[B] { return t.Apply(Unknown()) }

// IsBase returns true when the term carries no projections.
func (t Term[B]) IsBase() bool { return len(t.Ops) == 0 }

func (t Term[B]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v", t.Base)
	for _, o := range t.Ops {
		sb.WriteString(o.String())
	}
	return sb.String()
}

// simplify cancels adjacent inverse projection pairs. It returns false when the chain composes
// two provably disjoint projections (distinct fields of the same struct), refuting the term.
func simplify(ops []Op) ([]Op, bool) {
	var stack []Op
	for _, o := range ops {
		if n := len(stack); n > 0 && o.Kind != OpUnknown {
			top := stack[n-1]
			if cancels(top, o) {
				stack = stack[:n-1]
				continue
			}
			if refutes(top, o) {
				return nil, false
			}
		}
		stack = append(stack, o)
	}
	return stack, true
}

func cancels(a, b Op) bool {
	switch {
	case a.Kind == OpDeref && b.Kind == OpRef:
		return true
	case a.Kind == OpRef && b.Kind == OpDeref:
		return true
	case a.Kind == OpField && b.Kind == OpFieldOf && a.Field == b.Field:
		return true
	case a.Kind == OpFieldOf && b.Kind == OpField && a.Field == b.Field:
		return true
	}
	return false
}

func refutes(a, b Op) bool {
	switch {
	case a.Kind == OpField && b.Kind == OpFieldOf && a.Field != b.Field:
		return true
	case a.Kind == OpFieldOf && b.Kind == OpField && a.Field != b.Field:
		return true
	}
	return false
}

// Equation is an equality between two terms. Equations are symmetric; orientation carries no
// meaning.
type Equation[B comparable] struct {
	Lhs Term[B]
	Rhs Term[B]
}

// NewEquation returns the equation lhs == rhs.
func NewEquation[B comparable](lhs, rhs Term[B]) Equation[B] {
	return Equation[B]{Lhs: lhs, Rhs: rhs}
}

func (e Equation[B]) String() string {
	return e.Lhs.String() + " = " + e.Rhs.String()
}

// MapBases rewrites the bases of every equation with f, keeping the projection chains. Used to
// relativize a callee's equations to a call site.
func MapBases[B comparable, C comparable](eqs []Equation[B], f func(B) C) []Equation[C] {
	out := make([]Equation[C], 0, len(eqs))
	for _, e := range eqs {
		out = append(out, Equation[C]{
			Lhs: Term[C]{Base: f(e.Lhs.Base), Ops: e.Lhs.Ops},
			Rhs: Term[C]{Base: f(e.Rhs.Base), Ops: e.Rhs.Ops},
		})
	}
	return out
}

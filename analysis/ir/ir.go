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

// Package ir defines the program-representation vocabulary shared by the flow analyses:
// procedure identifiers, program points, places, and the interned global locations that
// address a program point through an arbitrarily deep call chain.
package ir

import "fmt"

// ProcID identifies a procedure of the analyzed program. The surrounding tooling chooses the
// representation; full function names work well.
type ProcID string

// Point addresses a single instruction inside a procedure body as a (basic block, instruction
// index) pair. Formal arguments are addressed by synthetic points with a negative block, so a
// dependency row can report "the initial value of argument i" as a writer.
type Point struct {
	Block int `json:"block"`
	Index int `json:"index"`
}

const argBlock = -1

// ArgPoint returns the synthetic point representing the initial write of the i-th formal
// argument (0-indexed).
func ArgPoint(i int) Point {
	return Point{Block: argBlock, Index: i}
}

// IsArg returns true when the point is a synthetic argument point.
func (p Point) IsArg() bool { return p.Block == argBlock }

// ArgIndex returns the argument index of a synthetic argument point.
func (p Point) ArgIndex() int { return p.Index }

// Compare orders points lexicographically by block then index.
func (p Point) Compare(q Point) int {
	if p.Block != q.Block {
		if p.Block < q.Block {
			return -1
		}
		return 1
	}
	if p.Index != q.Index {
		if p.Index < q.Index {
			return -1
		}
		return 1
	}
	return 0
}

func (p Point) String() string {
	if p.IsArg() {
		return fmt.Sprintf("arg%d", p.Index)
	}
	return fmt.Sprintf("b%d[%d]", p.Block, p.Index)
}

// Place is a storage slot of a procedure. Slot 0 is the return place; slot i+1 holds the i-th
// formal argument; the remaining slots are procedure-local temporaries. Field and dereference
// structure on top of places is expressed by the equation system, not by the place itself.
type Place int

// ReturnPlace is the slot holding a procedure's return value.
const ReturnPlace Place = 0

// ArgPlace returns the slot holding the i-th formal argument (0-indexed).
func ArgPlace(i int) Place { return Place(i + 1) }

func (p Place) String() string { return fmt.Sprintf("_%d", int(p)) }

// ConditionRef names a place read by a branching point, used to report control dependencies.
type ConditionRef struct {
	Point Point
	Place Place
}

// GlobalLocal is a symbolic reference to a place as seen at a specific depth of the inlined call
// chain. A zero Loc means the place is relative to the procedure under analysis; otherwise the
// place lives inside the call nested at that location.
type GlobalLocal struct {
	Place Place
	Loc   Loc
}

// AtRoot returns the global local for a place of the procedure under analysis.
func AtRoot(place Place) GlobalLocal {
	return GlobalLocal{Place: place}
}

// Relative returns the global local for a place inside the call nested at loc.
func Relative(place Place, loc Loc) GlobalLocal {
	return GlobalLocal{Place: place, Loc: loc}
}

func (g GlobalLocal) String() string {
	if g.Loc == 0 {
		return fmt.Sprintf("%v @ root", g.Place)
	}
	return fmt.Sprintf("%v @ %d", g.Place, g.Loc)
}

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

// RawLocation is the portable form of a global location: the chain is spelled out recursively
// instead of referring into an interner, so it survives serialization and can be compared across
// runs.
type RawLocation struct {
	Proc  ProcID       `json:"proc"`
	Point Point        `json:"point"`
	Next  *RawLocation `json:"next,omitempty"`
}

// Raw expands an interned location into its portable form.
func (in *Interner) Raw(l Loc) *RawLocation {
	if l == 0 {
		return nil
	}
	n := in.node(l)
	return &RawLocation{Proc: n.Proc, Point: n.Point, Next: in.Raw(n.Next)}
}

// Intern re-interns a portable location into the interner, returning a handle that compares
// equal to the handle the location was expanded from.
func (in *Interner) Intern(raw *RawLocation) Loc {
	if raw == nil {
		return 0
	}
	if raw.Next == nil {
		return in.Root(raw.Point, raw.Proc)
	}
	return in.Nest(in.Intern(raw.Next), raw.Point, raw.Proc)
}

// Equal compares two portable locations structurally.
func (r *RawLocation) Equal(o *RawLocation) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Proc == o.Proc && r.Point == o.Point && r.Next.Equal(o.Next)
}

func (r *RawLocation) String() string {
	if r == nil {
		return ""
	}
	s := string(r.Proc) + ":" + r.Point.String()
	if r.Next != nil {
		s += " -> " + r.Next.String()
	}
	return s
}

// Key returns a stable string form usable as a map key in serialized artifacts.
func (r *RawLocation) Key() string {
	return r.String()
}

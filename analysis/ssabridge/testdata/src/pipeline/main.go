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

package main

type record struct {
	value int
	tag   string
}

func source() record {
	return record{value: 42, tag: "raw"}
}

func annotate(r record) record {
	r.tag = "seen"
	return r
}

func push(r record, out *[]record) {
	*out = append(*out, r)
}

func counter() func() int {
	n := 0
	return func() int {
		n++
		return n
	}
}

func audit(r record) {
	_ = r
}

func main() {
	var sink []record
	r := source()
	r = annotate(r)
	if r.value > 0 {
		audit(r)
	}
	push(r, &sink)
	next := counter()
	next()
}

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

// Package flow builds whole-program information-flow models. The pipeline is:
//
//  1. Per-procedure summaries are built from the external dataflow oracle: every call site is
//     described by the call sites and formal arguments its argument values depend on
//     (summary.go).
//  2. Summaries become graphs over {return, argument, call} nodes, and callees selected by the
//     inlining policy are spliced into their callers, with locations and place equations
//     relativized across each call boundary (graph.go, inliner.go). Recursion is broken by
//     memoization with in-progress placeholders: a cycle is inlined up to, but not through, its
//     repeating procedure.
//  3. Inconsequential call nodes are removed and edges the equation system cannot justify are
//     pruned (prune.go).
//  4. The result is projected onto call sites only: for each call, the set of upstream call
//     locations feeding each argument slot and its control dependencies (callonly.go).
//
// The host front end supplies the per-procedure dataflow facts, procedure introspection and the
// inlining policy through the oracle interfaces in oracles.go.
package flow

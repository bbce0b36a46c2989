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

package ssabridge

import (
	"go/token"
	"go/types"
	"sort"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/argus-analysis/argus/analysis/algebra"
	"github.com/argus-analysis/argus/analysis/flow"
	"github.com/argus-analysis/argus/analysis/ir"
	"github.com/argus-analysis/argus/internal/funcutil"
)

// Oracle answers the flow engine's dataflow and program-structure queries from the SSA form of
// a Go program. It implements both flow.DataflowOracle and flow.ProgramOracle.
//
// The dependency rows it produces are flow-insensitive: a place's writers are every instruction
// that may define it anywhere in the function. SSA registers have a unique definition, so this
// only over-approximates flows through memory (allocs, globals, mutable arguments), which is
// the safe direction.
type Oracle struct {
	prog   *ssa.Program
	procs  []ir.ProcID
	byName map[ir.ProcID]*ssa.Function
	infos  map[ir.ProcID]*funcInfo
}

// NewOracle indexes every function of the program. Procedure order is name order, which fixes
// location comparison ranks deterministically.
func NewOracle(prog *ssa.Program) *Oracle {
	all := ssautil.AllFunctions(prog)
	o := &Oracle{
		prog:   prog,
		byName: make(map[ir.ProcID]*ssa.Function, len(all)),
		infos:  map[ir.ProcID]*funcInfo{},
	}
	for f := range all {
		id := ir.ProcID(f.String())
		o.byName[id] = f
		o.procs = append(o.procs, id)
	}
	sort.Slice(o.procs, func(i, j int) bool { return o.procs[i] < o.procs[j] })
	return o
}

// Procedures implements flow.ProgramOracle.
func (o *Oracle) Procedures() []ir.ProcID { return o.procs }

// HasBody implements flow.ProgramOracle.
func (o *Oracle) HasBody(proc ir.ProcID) bool {
	f := o.byName[proc]
	return f != nil && len(f.Blocks) > 0
}

// Signature implements flow.ProgramOracle. Free variables of closures are modeled as extra
// formals appended after the declared parameters; call sites through MakeClosure pass the
// closure bindings there.
func (o *Oracle) Signature(proc ir.ProcID) (flow.Signature, bool) {
	info := o.info(proc)
	if info == nil {
		return flow.Signature{}, false
	}
	return info.sig, true
}

// CallSites implements flow.ProgramOracle.
func (o *Oracle) CallSites(proc ir.ProcID) map[ir.Point]flow.CallSite {
	info := o.info(proc)
	if info == nil {
		return nil
	}
	return info.calls
}

// ReturnPoints implements flow.ProgramOracle.
func (o *Oracle) ReturnPoints(proc ir.ProcID) []ir.Point {
	info := o.info(proc)
	if info == nil {
		return nil
	}
	return info.returns
}

// UsedPlaces implements flow.ProgramOracle.
func (o *Oracle) UsedPlaces(proc ir.ProcID, point ir.Point) []ir.Place {
	info := o.info(proc)
	if info == nil {
		return nil
	}
	return info.used[point]
}

// IsPollWrapper implements flow.ProgramOracle. Go SSA has no poll-style desugaring; goroutine
// scheduling never materializes as wrapper calls.
func (o *Oracle) IsPollWrapper(ir.ProcID) bool { return false }

// ClosureCall implements flow.ProgramOracle. Closure dispatch in SSA resolves statically
// through MakeClosure and the environment travels through the appended formals (see Signature),
// so the dedicated splicing path is never needed here.
func (o *Oracle) ClosureCall(ir.ProcID, ir.Point) (ir.ProcID, ir.Place, bool) {
	return "", 0, false
}

// DependencyRow implements flow.DataflowOracle.
func (o *Oracle) DependencyRow(proc ir.ProcID, point ir.Point) (flow.DepRow, bool) {
	info := o.info(proc)
	if info == nil {
		return nil, false
	}
	return info.row, true
}

// ControlDeps implements flow.DataflowOracle.
func (o *Oracle) ControlDeps(proc ir.ProcID, point ir.Point) []ir.ConditionRef {
	info := o.info(proc)
	if info == nil {
		return nil
	}
	return info.ctrl[point.Block]
}

// PlaceEquations implements flow.DataflowOracle.
func (o *Oracle) PlaceEquations(proc ir.ProcID) []algebra.Equation[ir.Place] {
	info := o.info(proc)
	if info == nil {
		return nil
	}
	return info.eqs
}

func (o *Oracle) info(proc ir.ProcID) *funcInfo {
	if info, ok := o.infos[proc]; ok {
		return info
	}
	f := o.byName[proc]
	var info *funcInfo
	if f != nil && len(f.Blocks) > 0 {
		info = buildFuncInfo(f)
	}
	o.infos[proc] = info
	return info
}

// funcInfo is the per-function model: place numbering, writer rows, call sites, equations and
// control conditions.
type funcInfo struct {
	fn     *ssa.Function
	sig    flow.Signature
	places map[ssa.Value]ir.Place
	next   ir.Place

	row     flow.DepRow
	calls   map[ir.Point]flow.CallSite
	returns []ir.Point
	used    map[ir.Point][]ir.Place
	eqs     []algebra.Equation[ir.Place]
	ctrl    map[int][]ir.ConditionRef
}

func buildFuncInfo(fn *ssa.Function) *funcInfo {
	numFormals := len(fn.Params) + len(fn.FreeVars)
	info := &funcInfo{
		fn:     fn,
		places: make(map[ssa.Value]ir.Place),
		next:   ir.ArgPlace(numFormals),
		row:    flow.DepRow{},
		calls:  map[ir.Point]flow.CallSite{},
		used:   map[ir.Point][]ir.Place{},
		ctrl:   map[int][]ir.ConditionRef{},
	}

	info.sig = flow.Signature{
		NumArgs:   numFormals,
		HasReturn: fn.Signature.Results().Len() > 0,
	}
	for i, p := range fn.Params {
		info.places[p] = ir.ArgPlace(i)
		info.row[ir.ArgPlace(i)] = []ir.Point{ir.ArgPoint(i)}
		if mutableType(p.Type()) {
			info.sig.MutableArgs = append(info.sig.MutableArgs, i)
		}
	}
	// free variables are captured by reference; always writable
	for j, fv := range fn.FreeVars {
		i := len(fn.Params) + j
		info.places[fv] = ir.ArgPlace(i)
		info.row[ir.ArgPlace(i)] = []ir.Point{ir.ArgPoint(i)}
		info.sig.MutableArgs = append(info.sig.MutableArgs, i)
	}

	for _, b := range fn.Blocks {
		for i, instr := range b.Instrs {
			point := ir.Point{Block: b.Index, Index: i}
			info.visit(point, instr)
		}
	}

	for _, b := range fn.Blocks {
		info.ctrl[b.Index] = controlConditions(info, b)
	}
	return info
}

// placeOf returns the place of a value, allocating one on first use. Constants, functions and
// builtins carry no place.
func (info *funcInfo) placeOf(v ssa.Value) (ir.Place, bool) {
	switch v.(type) {
	case *ssa.Const, *ssa.Function, *ssa.Builtin, nil:
		return 0, false
	}
	if p, ok := info.places[v]; ok {
		return p, true
	}
	p := info.next
	info.next++
	info.places[v] = p
	return p, true
}

func (info *funcInfo) optPlace(v ssa.Value) funcutil.Optional[ir.Place] {
	if p, ok := info.placeOf(v); ok {
		return funcutil.Some(p)
	}
	return funcutil.None[ir.Place]()
}

func (info *funcInfo) addWriter(p ir.Place, point ir.Point) {
	info.row[p] = append(info.row[p], point)
}

func (info *funcInfo) equate(lhs, rhs algebra.Term[ir.Place]) {
	info.eqs = append(info.eqs, algebra.NewEquation(lhs, rhs))
}

func (info *funcInfo) visit(point ir.Point, instr ssa.Instruction) {
	// every operand with a place is a read at this point
	var rands []*ssa.Value
	for _, op := range instr.Operands(rands) {
		if op == nil || *op == nil {
			continue
		}
		if p, ok := info.placeOf(*op); ok {
			info.used[point] = append(info.used[point], p)
		}
	}

	// value-producing instructions define their register here
	if v, ok := instr.(ssa.Value); ok {
		if p, ok := info.placeOf(v); ok {
			info.addWriter(p, point)
		}
	}

	switch it := instr.(type) {
	case *ssa.Return:
		info.returns = append(info.returns, point)
		info.addWriter(ir.ReturnPlace, point)
		// tie the return place to the returned registers so pruning can justify
		// edges that flow through the return value
		if len(it.Results) == 1 {
			if p, ok := info.placeOf(it.Results[0]); ok {
				info.equate(algebra.NewTerm(ir.ReturnPlace), algebra.NewTerm(p))
			}
		} else {
			for i, r := range it.Results {
				if p, ok := info.placeOf(r); ok {
					info.equate(algebra.NewTerm(ir.ReturnPlace).FieldAt(i), algebra.NewTerm(p))
				}
			}
		}

	case *ssa.Store:
		if p, ok := info.placeOf(it.Addr); ok {
			info.addWriter(p, point)
			if q, ok := info.placeOf(it.Val); ok {
				info.equate(algebra.NewTerm(p).DerefOf(), algebra.NewTerm(q))
			}
		}

	case *ssa.MapUpdate:
		if p, ok := info.placeOf(it.Map); ok {
			info.addWriter(p, point)
		}

	case *ssa.Send:
		if p, ok := info.placeOf(it.Chan); ok {
			info.addWriter(p, point)
		}

	case *ssa.UnOp:
		if it.Op == token.MUL {
			if r, ok := info.placeOf(it); ok {
				if x, ok := info.placeOf(it.X); ok {
					info.equate(algebra.NewTerm(r), algebra.NewTerm(x).DerefOf())
				}
			}
		}

	case *ssa.FieldAddr:
		info.project(it, it.X, func(t algebra.Term[ir.Place]) algebra.Term[ir.Place] {
			return t.DerefOf().FieldAt(it.Field).RefOf()
		})

	case *ssa.Field:
		info.project(it, it.X, func(t algebra.Term[ir.Place]) algebra.Term[ir.Place] {
			return t.FieldAt(it.Field)
		})

	case *ssa.IndexAddr:
		info.project(it, it.X, func(t algebra.Term[ir.Place]) algebra.Term[ir.Place] {
			return t.DerefOf().AddUnknown().RefOf()
		})

	case *ssa.Index:
		info.project(it, it.X, func(t algebra.Term[ir.Place]) algebra.Term[ir.Place] {
			return t.AddUnknown()
		})

	case *ssa.Extract:
		info.project(it, it.Tuple, func(t algebra.Term[ir.Place]) algebra.Term[ir.Place] {
			return t.FieldAt(it.Index)
		})

	case *ssa.Phi:
		if r, ok := info.placeOf(it); ok {
			for _, e := range it.Edges {
				if p, ok := info.placeOf(e); ok {
					info.equate(algebra.NewTerm(r), algebra.NewTerm(p))
				}
			}
		}

	case *ssa.ChangeType:
		info.project(it, it.X, nil)
	case *ssa.Convert:
		info.project(it, it.X, nil)
	case *ssa.ChangeInterface:
		info.project(it, it.X, nil)
	case *ssa.MakeInterface:
		info.project(it, it.X, nil)
	case *ssa.Slice:
		// a slice aliases its operand's backing store
		info.project(it, it.X, nil)
	}

	if call, ok := instr.(ssa.CallInstruction); ok {
		info.visitCall(point, call)
	}
}

// project equates the register of v with a projection over the place of x: v = proj(x). A nil
// proj equates the places directly. Nothing is recorded when either side has no place.
func (info *funcInfo) project(v, x ssa.Value, proj func(algebra.Term[ir.Place]) algebra.Term[ir.Place]) {
	xp, ok := info.placeOf(x)
	if !ok {
		return
	}
	vp, ok := info.placeOf(v)
	if !ok {
		return
	}
	rhs := algebra.NewTerm(xp)
	if proj != nil {
		rhs = proj(rhs)
	}
	info.equate(algebra.NewTerm(vp), rhs)
}

func (info *funcInfo) visitCall(point ir.Point, call ssa.CallInstruction) {
	common := call.Common()
	site := flow.CallSite{ReturnTo: funcutil.None[ir.Place]()}

	if callee := common.StaticCallee(); callee != nil {
		site.Callee = ir.ProcID(callee.String())
	}
	for _, a := range common.Args {
		site.Args = append(site.Args, info.optPlace(a))
	}
	// closure bindings travel as extra arguments, matching the appended formals of the callee
	if mc, ok := common.Value.(*ssa.MakeClosure); ok {
		for _, b := range mc.Bindings {
			site.Args = append(site.Args, info.optPlace(b))
		}
	}
	if v := call.Value(); v != nil {
		if p, ok := info.placeOf(v); ok {
			site.ReturnTo = funcutil.Some(p)
		}
	}

	// an opaque callee may write through pointer-like arguments; record the call as a writer
	for _, a := range common.Args {
		if mutableType(a.Type()) {
			if p, ok := info.placeOf(a); ok {
				info.addWriter(p, point)
			}
		}
	}

	info.calls[point] = site
}

// controlConditions walks the dominator chain of a block and collects the branch conditions
// along it. A block dominated by a branching block may or may not execute depending on that
// condition; taking the whole chain over-approximates exact control dependence.
func controlConditions(info *funcInfo, b *ssa.BasicBlock) []ir.ConditionRef {
	var out []ir.ConditionRef
	for d := b.Idom(); d != nil; d = d.Idom() {
		if len(d.Instrs) == 0 {
			continue
		}
		last := d.Instrs[len(d.Instrs)-1]
		iff, ok := last.(*ssa.If)
		if !ok {
			continue
		}
		if _, hasPlace := info.placeOf(iff.Cond); !hasPlace {
			continue
		}
		out = append(out, ir.ConditionRef{
			Point: ir.Point{Block: d.Index, Index: len(d.Instrs) - 1},
			Place: mustPlace(info, iff.Cond),
		})
	}
	return out
}

func mustPlace(info *funcInfo, v ssa.Value) ir.Place {
	p, _ := info.placeOf(v)
	return p
}

// mutableType reports whether values of the type can carry writes visible to the caller.
func mutableType(t types.Type) bool {
	switch t.Underlying().(type) {
	case *types.Pointer, *types.Slice, *types.Map, *types.Chan:
		return true
	}
	return false
}

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

	"github.com/argus-analysis/argus/analysis/algebra"
	"github.com/argus-analysis/argus/analysis/config"
	"github.com/argus-analysis/argus/analysis/ir"
	"github.com/argus-analysis/argus/internal/funcutil"
)

// Dumper receives intermediate artifacts for debug output. The render package provides a
// file-writing implementation; a nil dumper disables all dumps regardless of config flags.
type Dumper interface {
	// DumpGraph is called with a stage name ("pre-inline", "inlined", "pruned") and the graph
	// of a procedure at that stage.
	DumpGraph(s *State, stage string, proc ir.ProcID, g *InlinedGraph)
	// DumpEquations is called with the accumulated equations of a procedure after inlining.
	DumpEquations(s *State, proc ir.ProcID, eqs []algebra.Equation[ir.GlobalLocal])
}

type cacheState uint8

const (
	cacheNotStarted cacheState = iota
	cacheInProgress
	cacheDone
)

type summaryEntry struct {
	state cacheState
	sum   *Summary
	err   error
}

// State bundles everything one analysis run shares: configuration, logging, the location
// interner, the oracles and the memoized per-procedure results. A State is built once and used
// for all entry points, so procedures analyzed for one entry are reused by the others.
type State struct {
	Logger   *config.LogGroup
	Config   *config.Config
	Interner *ir.Interner

	Dataflow DataflowOracle
	Program  ProgramOracle
	Policy   InliningOracle

	// Dumper is optional; when nil no debug artifacts are written.
	Dumper Dumper

	summaries map[ir.ProcID]*summaryEntry
	inliner   *Inliner
}

// NewState builds the shared analysis state. A nil policy defaults to the config-driven one.
// Procedure ranks are registered with the interner up front so location comparison is stable
// across entry points.
func NewState(cfg *config.Config, logger *config.LogGroup, dataflow DataflowOracle, program ProgramOracle, policy InliningOracle) *State {
	s := &State{
		Logger:    logger,
		Config:    cfg,
		Interner:  ir.NewInterner(),
		Dataflow:  dataflow,
		Program:   program,
		Policy:    policy,
		summaries: map[ir.ProcID]*summaryEntry{},
	}
	if s.Policy == nil {
		s.Policy = &ConfigPolicy{Config: cfg, Program: program}
	}
	s.Interner.RegisterProcs(program.Procedures())
	s.inliner = newInliner(s)
	return s
}

// Summary returns the memoized summary of a procedure, building it on first use. Failures are
// memoized too: a procedure whose facts are broken fails the same way for every caller.
func (s *State) Summary(proc ir.ProcID) (*Summary, error) {
	e := s.summaries[proc]
	if e == nil {
		e = &summaryEntry{}
		s.summaries[proc] = e
	}
	switch e.state {
	case cacheInProgress:
		return nil, fmt.Errorf("summary construction for %s depends on itself", proc)
	case cacheDone:
		return e.sum, e.err
	}
	e.state = cacheInProgress
	e.sum, e.err = buildSummary(s, proc)
	e.state = cacheDone
	return e.sum, e.err
}

// EntryResult is the analysis output for one entry procedure.
type EntryResult struct {
	Proc ir.ProcID
	// Graph is the fully inlined and reduced flow graph.
	Graph *InlinedGraph
	// Flow is the call-only projection of Graph.
	Flow *CallOnlyFlow
}

// Analyze runs the full pipeline for one entry procedure: inlined graph construction, reduction
// and the call-only projection.
func (s *State) Analyze(entry ir.ProcID) (EntryResult, error) {
	gwr, ok, err := s.inliner.inlinedGraph(entry)
	if err != nil {
		return EntryResult{}, err
	}
	if !ok {
		return EntryResult{}, fmt.Errorf("entry point %s is part of an inlining cycle in progress", entry)
	}
	flow := ExtractCallOnlyFlow(s, gwr, func(i int) ir.Loc {
		return s.Interner.Root(ir.ArgPoint(i), entry)
	})
	return EntryResult{Proc: entry, Graph: gwr, Flow: flow}, nil
}

// AnalyzeAll analyzes every procedure matching the config's entry-point patterns. A failing
// entry is reported and skipped; it does not abort the others. The second result holds one
// error per failed entry.
func (s *State) AnalyzeAll() ([]EntryResult, []error) {
	var results []EntryResult
	var errs []error

	recursive := RecursiveProcedures(s.Program)
	if len(recursive) > 0 {
		s.Logger.Debugf("%d procedures participate in recursion; their cycles will be cut during inlining: %v",
			len(recursive), funcutil.SetToOrderedSlice(recursive))
	}

	for _, proc := range s.Program.Procedures() {
		if !config.MatchesAny(s.Config.EntryPoints, string(proc)) {
			continue
		}
		s.Logger.Infof("analyzing entry point %s", proc)
		res, err := s.Analyze(proc)
		if err != nil {
			s.Logger.Errorf("entry point %s failed: %v", proc, err)
			errs = append(errs, fmt.Errorf("entry point %s: %w", proc, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// ConfigPolicy is the standard inlining policy: inline every procedure with a body unless a
// skip-inline pattern matches, and treat the meaningful-calls patterns as semantically
// meaningful.
type ConfigPolicy struct {
	Config  *config.Config
	Program ProgramOracle
}

// ShouldInline implements InliningOracle.
func (p *ConfigPolicy) ShouldInline(proc ir.ProcID) bool {
	return p.Program.HasBody(proc) && !config.MatchesAny(p.Config.SkipInline, string(proc))
}

// IsSemanticallyMeaningful implements InliningOracle.
func (p *ConfigPolicy) IsSemanticallyMeaningful(proc ir.ProcID) bool {
	return config.MatchesAny(p.Config.MeaningfulCalls, string(proc))
}

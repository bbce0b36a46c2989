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

package config

import (
	"fmt"
	"os"
	"path"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/argus-analysis/argus/internal/funcutil"
)

var (
	// The global config file
	configFile string
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config drives which entry procedures get analyzed and how aggressively the inliner reduces the
// resulting graphs. If some field is not defined in the config file, it will be empty/zero in the
// struct. Private fields are not populated from a yaml file, but computed after initialization.
type Config struct {
	Options `yaml:",inline"`

	sourceFile string

	// EntryPoints lists the procedures for which a call-only flow is constructed. Each entry is a
	// regular expression matched against the full procedure name.
	EntryPoints []ProcPattern `yaml:"entry-points"`

	// SkipInline lists procedures that are never inlined; their call sites stay opaque and receive
	// conservative may-write equations.
	SkipInline []ProcPattern `yaml:"skip-inline"`

	// MeaningfulCalls lists procedures whose call nodes are exempt from inconsequential-call
	// removal.
	MeaningfulCalls []ProcPattern `yaml:"meaningful-calls"`
}

// ProcPattern is a regular expression over full procedure names.
type ProcPattern struct {
	Pattern string `yaml:"pattern"`

	compiled *regexp.Regexp
}

// Matches returns true when the pattern matches the procedure name. An uncompiled or invalid
// pattern matches nothing.
func (p *ProcPattern) Matches(procName string) bool {
	if p.compiled == nil {
		return false
	}
	return p.compiled.MatchString(procName)
}

// MatchesAny returns true when any of the patterns matches the procedure name.
func MatchesAny(patterns []ProcPattern, procName string) bool {
	return funcutil.Exists(patterns, func(p ProcPattern) bool { return p.Matches(procName) })
}

// Options holds the global options for the analysis.
type Options struct {
	// ReportsDir is the directory where reports and graph dumps are stored. If empty, dumps are
	// written to the working directory.
	ReportsDir string `yaml:"reports-dir"`

	// LogLevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`

	// Inline enables the recursive (interprocedural) analysis. When false every callee is treated
	// as opaque and only single-procedure summaries feed the graphs.
	Inline bool `yaml:"inline"`

	// RemoveInconsequentialCalls selects the call-node removal policy. One of "off",
	// "conservative" (a call node that is a control-flow source is kept) or "aggressive"
	// (control-flow sources may be removed too).
	RemoveInconsequentialCalls string `yaml:"remove-inconsequential-calls"`

	// DropPollWrappers elides poll-style wrapper calls generated by asynchronous control-flow
	// desugaring, splicing their value input directly to their consumers.
	DropPollWrappers bool `yaml:"drop-poll-wrappers"`

	// PruningStrategy selects which edges are examined by the memory-plausibility pruning pass.
	// One of "off", "not-previously-pruned" (the default), "new-edges" or
	// "new-not-previously-pruned".
	PruningStrategy string `yaml:"pruning-strategy"`

	// DumpPreInlineGraphs dumps each procedure graph in DOT format before inlining.
	DumpPreInlineGraphs bool `yaml:"dump-pre-inline-graphs"`

	// DumpInlinedGraphs dumps each procedure graph in DOT format after inlining.
	DumpInlinedGraphs bool `yaml:"dump-inlined-graphs"`

	// DumpPrunedGraphs dumps each procedure graph in DOT format after pruning.
	DumpPrunedGraphs bool `yaml:"dump-pruned-graphs"`

	// DumpEquations dumps the accumulated place equations of each procedure.
	DumpEquations bool `yaml:"dump-equations"`
}

// NewDefault returns a config with the default analysis settings: inlining on, call removal off,
// pruning over all not-previously-pruned edges.
func NewDefault() *Config {
	return &Config{
		Options: Options{
			LogLevel:                   int(InfoLevel),
			Inline:                     true,
			RemoveInconsequentialCalls: "off",
			PruningStrategy:            "not-previously-pruned",
		},
	}
}

// Load reads a config from a yaml file.
func Load(filename string) (*Config, error) {
	cfg := NewDefault()
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", filename, err)
	}
	cfg.sourceFile = filename
	if err := cfg.Compile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Compile compiles the procedure patterns of the config. Load calls it; configs built
// programmatically must call it themselves.
func (c *Config) Compile() error {
	for _, group := range [][]ProcPattern{c.EntryPoints, c.SkipInline, c.MeaningfulCalls} {
		for i := range group {
			r, err := regexp.Compile(group[i].Pattern)
			if err != nil {
				return fmt.Errorf("invalid procedure pattern %q: %w", group[i].Pattern, err)
			}
			group[i].compiled = r
		}
	}
	return nil
}

// RelPath returns filename interpreted relative to the directory of the config's source file.
func (c *Config) RelPath(filename string) string {
	if c.sourceFile == "" || path.IsAbs(filename) {
		return filename
	}
	return path.Join(path.Dir(c.sourceFile), filename)
}

// RemovalPolicy describes how inconsequential call nodes are removed from inlined graphs.
type RemovalPolicy int

const (
	// RemovalOff disables inconsequential-call removal.
	RemovalOff RemovalPolicy = iota
	// RemovalConservative removes call nodes that are not control-flow sources.
	RemovalConservative
	// RemovalAggressive also removes call nodes with outgoing control edges. Removing a node
	// that controls other calls is not always sound; this policy trades that for smaller graphs.
	RemovalAggressive
)

// IsEnabled returns true when the policy removes any nodes at all.
func (p RemovalPolicy) IsEnabled() bool { return p != RemovalOff }

// RemoveCtrlFlowSource returns true when nodes with outgoing control edges may be removed.
func (p RemovalPolicy) RemoveCtrlFlowSource() bool { return p == RemovalAggressive }

// RemovalPolicy returns the removal policy encoded in the options. Unknown values disable
// removal.
func (c *Config) RemovalPolicy() RemovalPolicy {
	switch c.RemoveInconsequentialCalls {
	case "conservative":
		return RemovalConservative
	case "aggressive":
		return RemovalAggressive
	default:
		return RemovalOff
	}
}

// Pruning describes which edges the memory-plausibility pass examines.
type Pruning int

const (
	// PruningOff disables edge pruning.
	PruningOff Pruning = iota
	// PruneNotPreviouslyPruned examines every edge that has not been examined by a previous
	// pruning pass.
	PruneNotPreviouslyPruned
	// PruneNewEdges examines only the edges introduced by the latest round of inlining.
	PruneNewEdges
	// PruneNewNotPreviouslyPruned examines newly introduced edges that have not been examined
	// before.
	PruneNewNotPreviouslyPruned
)

// PruningMode returns the pruning strategy encoded in the options. The zero value of the option
// defaults to PruneNotPreviouslyPruned.
func (c *Config) PruningMode() Pruning {
	switch c.PruningStrategy {
	case "off":
		return PruningOff
	case "new-edges":
		return PruneNewEdges
	case "new-not-previously-pruned":
		return PruneNewNotPreviouslyPruned
	default:
		return PruneNotPreviouslyPruned
	}
}

// UsePruning returns true when edge pruning is enabled.
func (c *Config) UsePruning() bool { return c.PruningMode() != PruningOff }

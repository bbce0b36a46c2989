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
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ReportsDir != "out" {
		t.Errorf("reports-dir not loaded: %q", cfg.ReportsDir)
	}
	if cfg.LogLevel != int(DebugLevel) {
		t.Errorf("log-level not loaded: %d", cfg.LogLevel)
	}
	if !cfg.Inline || !cfg.DropPollWrappers || !cfg.DumpInlinedGraphs {
		t.Errorf("boolean options not loaded")
	}
	if cfg.RemovalPolicy() != RemovalConservative {
		t.Errorf("removal policy wrong: %v", cfg.RemovalPolicy())
	}
	if cfg.PruningMode() != PruneNewEdges {
		t.Errorf("pruning mode wrong: %v", cfg.PruningMode())
	}

	if !MatchesAny(cfg.EntryPoints, "example.com/app.Main") {
		t.Errorf("entry point pattern should match")
	}
	if !MatchesAny(cfg.EntryPoints, "example.com/srv.RequestHandler") {
		t.Errorf("suffix entry pattern should match")
	}
	if MatchesAny(cfg.EntryPoints, "example.com/app.Helper") {
		t.Errorf("entry pattern should not match helper")
	}
	if !MatchesAny(cfg.SkipInline, "runtime.growslice") {
		t.Errorf("skip-inline pattern should match")
	}
	if !MatchesAny(cfg.MeaningfulCalls, "example.com/net.Send") {
		t.Errorf("meaningful-calls pattern should match")
	}
}

func TestDefaultsWhenOptionsOmitted(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.Compile(); err != nil {
		t.Fatal(err)
	}
	if !cfg.Inline {
		t.Errorf("inlining must default to on")
	}
	if cfg.RemovalPolicy() != RemovalOff {
		t.Errorf("removal must default to off")
	}
	if cfg.PruningMode() != PruneNotPreviouslyPruned {
		t.Errorf("pruning must default to not-previously-pruned")
	}
	if !cfg.UsePruning() {
		t.Errorf("pruning must be enabled by default")
	}
}

func TestRelPath(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.RelPath("out"); got != "testdata/out" {
		t.Errorf("relative paths resolve against the config file directory, got %q", got)
	}
	if got := cfg.RelPath("/abs/out"); got != "/abs/out" {
		t.Errorf("absolute paths pass through, got %q", got)
	}
}

func TestInvalidPatternFailsCompile(t *testing.T) {
	cfg := NewDefault()
	cfg.EntryPoints = []ProcPattern{{Pattern: "("}}
	if err := cfg.Compile(); err == nil {
		t.Fatalf("unbalanced pattern must fail compilation")
	}
}

func TestUncompiledPatternMatchesNothing(t *testing.T) {
	p := ProcPattern{Pattern: ".*"}
	if p.Matches("anything") {
		t.Fatalf("uncompiled patterns must not match")
	}
}

func TestRemovalPolicyFlags(t *testing.T) {
	if RemovalOff.IsEnabled() {
		t.Errorf("off policy must be disabled")
	}
	if !RemovalConservative.IsEnabled() || RemovalConservative.RemoveCtrlFlowSource() {
		t.Errorf("conservative policy keeps control-flow sources")
	}
	if !RemovalAggressive.RemoveCtrlFlowSource() {
		t.Errorf("aggressive policy may remove control-flow sources")
	}
}

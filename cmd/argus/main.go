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

// argus: whole-program information-flow analysis.
// For every entry point named in the config, argus builds a fully inlined flow graph, reduces
// it, and writes the call-only flow as JSON into the reports directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/tools/go/ssa"

	"github.com/argus-analysis/argus/analysis/config"
	"github.com/argus-analysis/argus/analysis/flow"
	"github.com/argus-analysis/argus/analysis/render"
	"github.com/argus-analysis/argus/analysis/ssabridge"
	"github.com/argus-analysis/argus/internal/formatutil"
)

var (
	configPath = flag.String("config", "", "Config file path for the analysis")
	buildmode  = ssa.BuilderMode(0)
)

func init() {
	flag.Var(&buildmode, "build", ssa.BuilderModeDoc)
}

const usage = ` Compute call-only information flows for your packages.
Usage:
    argus -config config.yaml [options] <package path(s)>
Examples:
% argus -config config.yaml ./...
The config file selects entry points, inlining behavior and output locations.
`

func main() {
	flag.Parse()

	if flag.NArg() == 0 || *configPath == "" {
		_, _ = fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
		os.Exit(2)
	}

	config.SetGlobalConfig(*configPath)
	cfg, err := config.LoadGlobal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	// the reports directory is resolved relative to the config file, like every
	// other path named in a config
	if cfg.ReportsDir != "" {
		cfg.ReportsDir = cfg.RelPath(cfg.ReportsDir)
	}
	logger := config.NewLogGroup(cfg)

	logger.Infof(formatutil.Faint("Reading sources"))
	program, err := ssabridge.LoadProgram(nil, "", buildmode, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load program: %v\n", err)
		os.Exit(1)
	}

	oracle := ssabridge.NewOracle(program.Program)
	state := flow.NewState(cfg, logger, oracle, oracle, nil)
	state.Dumper = &render.Dumper{Logger: logger, Config: cfg}

	start := time.Now()
	results, errs := state.AnalyzeAll()
	logger.Infof("Analysis took %3.4f s", time.Since(start).Seconds())

	for _, res := range results {
		path, err := render.FlowJSONToFile(cfg, state.Interner, res)
		if err != nil {
			logger.Errorf("could not write flow for %s: %v", res.Proc, err)
			errs = append(errs, err)
			continue
		}
		logger.Infof("%s: %d calls, written to %s",
			formatutil.Sanitize(string(res.Proc)), len(res.Flow.Calls), path)
	}

	if len(errs) > 0 {
		logger.Errorf("%d entry points failed", len(errs))
		os.Exit(1)
	}
	if len(results) == 0 {
		logger.Warnf("no procedure matched the configured entry points")
	}
}

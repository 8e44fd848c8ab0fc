// Copyright 2021 Google LLC
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

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/n2build/n2go"
)

type options struct {
	workingDir string
	inputFile  string
	debugTool  string
	subtool    string
	parallel   int
	dryRun     bool
	verbose    bool
	help       bool
}

func parseFlags(args []string) (*options, []string, error) {
	fs := pflag.NewFlagSet("n2", pflag.ContinueOnError)
	o := &options{}
	fs.StringVarP(&o.workingDir, "chdir", "C", "", "change to DIR before doing anything else")
	fs.StringVarP(&o.inputFile, "file", "f", "build.ninja", "specify input build file")
	fs.StringVarP(&o.debugTool, "debug", "d", "", "enable debugging (trace, explain, stats)")
	fs.StringVarP(&o.subtool, "tool", "t", "", "run a subtool (restat)")
	fs.IntVarP(&o.parallel, "parallel", "j", 0, "run N jobs in parallel (0 means auto-detect)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "don't actually run commands")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "accepted for compatibility; output is the same without it")
	fs.BoolVarP(&o.help, "help", "h", false, "show this help")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs.Args(), nil
}

func run(args []string) int {
	o, targets, err := parseFlags(args)
	if err != nil {
		fatalf("%s", err)
		return 1
	}
	if o.help {
		fmt.Println("usage: n2 [options] [targets...]")
		return 0
	}

	if o.workingDir != "" {
		if err := os.Chdir(o.workingDir); err != nil {
			fatalf("chdir: %s", err)
			return 1
		}
	}

	n2.EnableExplanations(o.debugTool == "explain")
	n2.EnableMetrics(o.debugTool == "stats")
	n2.WatchInterrupts()

	di := n2.RealDiskInterface{}

	state, err := loadManifest(o.inputFile, di)
	if err != nil {
		fatalf("%s", err)
		return 1
	}

	status := n2.NewStatusPrinter()

	dbPath := filepath.Join(filepath.Dir(o.inputFile), n2.BuildLogFileName)
	depsPath := filepath.Join(filepath.Dir(o.inputFile), n2.DepsLogFileName)
	buildLog := n2.NewBuildLog()
	if err := buildLog.Open(dbPath); err != nil {
		fatalf("%s", err)
		return 1
	}
	defer buildLog.Close()
	depsLog := n2.NewDepsLog()
	if err := depsLog.Open(depsPath); err != nil {
		fatalf("%s", err)
		return 1
	}
	defer depsLog.Close()

	config := n2.BuildConfig{Parallelism: o.parallel, DryRun: o.dryRun, Verbose: o.verbose}
	ctx := context.Background()

	if needsReload, err := n2.RunGeneratorPrepass(ctx, state, o.inputFile, config, di, &buildLog, status); err != nil {
		fatalf("failed: %s", err)
		return 1
	} else if needsReload {
		state, err = loadManifest(o.inputFile, di)
		if err != nil {
			fatalf("%s", err)
			return 1
		}
	}

	if o.subtool == "restat" {
		if err := n2.RestatTool(state, di, &buildLog, targets); err != nil {
			fatalf("%s", err)
			return 1
		}
		return 0
	}

	var wanted []*n2.Node
	if len(targets) > 0 {
		for _, t := range targets {
			p := n2.CanonicalizePath(t)
			n := state.Paths[p]
			if n == nil {
				msg := fmt.Sprintf("unknown target '%s'", t)
				if s := state.SpellcheckNode(p); s != "" {
					msg += fmt.Sprintf(", did you mean '%s'?", s)
				}
				fatalf("%s", msg)
				return 1
			}
			wanted = append(wanted, n)
		}
	} else {
		nodes, err := state.DefaultNodes()
		if err != nil {
			fmt.Println("error: no path specified and no default")
			return 1
		}
		wanted = nodes
	}

	var trace *n2.Trace
	if o.debugTool == "trace" {
		trace, err = n2.NewTrace("trace.json")
		if err != nil {
			fatalf("%s", err)
			return 1
		}
		defer trace.Close()
	}

	builder := n2.NewBuilder(state, config, di, &buildLog, status)
	builder.SetDepsLog(&depsLog)
	if trace != nil {
		builder.SetTrace(trace)
	}
	builder.WantTargets(wanted)

	if err := builder.Build(ctx); err != nil {
		fmt.Printf("failed: %s\n", err)
		return 1
	}

	if builder.Ran() == 0 {
		fmt.Println("n2: no work to do.")
	}

	if o.debugTool == "stats" {
		n2.ReportMetrics()
	}
	return 0
}

// diskFileReader adapts n2.DiskInterface.ReadFile to the manifest
// parser's FileReader collaborator.
type diskFileReader struct{ di n2.DiskInterface }

func (d diskFileReader) ReadFile(path string) ([]byte, error) { return d.di.ReadFile(path) }

// loadManifest reads and parses inputFile into a fresh State.
func loadManifest(inputFile string, di n2.DiskInterface) (*n2.State, error) {
	content, err := di.ReadFile(inputFile)
	if err != nil {
		return nil, err
	}

	state := n2.NewState()
	opts := n2.ParseManifestOpts{}
	if err := n2.ParseManifest(state, diskFileReader{di}, opts, inputFile, content); err != nil {
		return nil, err
	}
	if err := state.CheckAcyclic(); err != nil {
		return nil, err
	}
	return state, nil
}

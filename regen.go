// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package n2

import (
	"bytes"
	"context"
)

// FindGeneratorEdges returns the output node of every edge in state
// marked `generator = 1` that produces buildFile itself -- the trigger
// condition for the self-regeneration pre-pass.
func FindGeneratorEdges(state *State, buildFile string) []*Node {
	canon := CanonicalizePath(buildFile)
	var out []*Node
	for _, n := range state.Nodes {
		if n.In != nil && n.In.Generator && n.Path == canon {
			out = append(out, n)
		}
	}
	return out
}

// RunGeneratorPrepass handles self-regeneration: if the graph contains a
// generator edge producing the build file itself, run only that edge (and
// its dependencies) to completion before any other scheduling happens. If
// doing so actually changed the build file's bytes, the caller must
// reload the graph from scratch and restart -- the special rule that
// avoids a stale graph missing its own regeneration obligation. Returns
// true when a reload is required.
func RunGeneratorPrepass(ctx context.Context, state *State, buildFile string, config BuildConfig, di DiskInterface, buildLog *BuildLog, status Status) (bool, error) {
	targets := FindGeneratorEdges(state, buildFile)
	if len(targets) == 0 {
		return false, nil
	}

	before, _ := di.ReadFile(buildFile)

	b := NewBuilder(state, config, di, buildLog, status)
	b.WantTargets(targets)
	if err := b.Build(ctx); err != nil {
		return false, err
	}

	after, err := di.ReadFile(buildFile)
	if err != nil {
		return false, wrapErr(KindIO, "", err)
	}
	return !bytes.Equal(before, after), nil
}

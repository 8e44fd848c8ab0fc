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

// RestatTool implements the `-t restat` subtool: for each named file,
// stat it and rewrite its producing edge's persisted fingerprint to match
// its current inputs, so a later normal invocation sees it as already
// clean without running its command.
func RestatTool(state *State, di DiskInterface, buildLog *BuildLog, paths []string) error {
	targets := paths
	if len(targets) == 0 {
		for _, n := range state.Nodes {
			if n.In != nil {
				targets = append(targets, n.Path)
			}
		}
	}

	seen := map[*Edge]bool{}
	for _, p := range targets {
		n := state.Paths[CanonicalizePath(p)]
		if n == nil || n.In == nil {
			continue
		}
		e := n.In
		if seen[e] {
			continue
		}
		seen[e] = true

		// Re-attach previously recorded depfile-discovered inputs so the
		// rewritten fingerprint covers the same input set the builder's
		// staleness check will.
		if rec, ok := buildLog.Lookup(primaryOutputKey(e)); ok && len(rec.ExtraInputs) > 0 {
			existing := make(map[string]bool, len(e.Inputs))
			for _, in := range e.Inputs {
				existing[in.Path] = true
			}
			for _, p := range rec.ExtraInputs {
				if existing[p] {
					continue
				}
				existing[p] = true
				insertImplicitInput(e, state.GetNode(p))
			}
		}

		for _, in := range e.fingerprintRegion() {
			mt, err := di.Stat(in.Path)
			if err != nil {
				return wrapErr(KindIO, e.Location, err)
			}
			in.MTime = mt
			in.Statted = true
		}
		for _, out := range e.Outputs {
			mt, err := di.Stat(out.Path)
			if err != nil {
				return wrapErr(KindIO, e.Location, err)
			}
			out.MTime = mt
			out.Statted = true
		}

		fp := computeFingerprint(e)
		extra := e.Inputs[e.ExplicitDeps : e.ExplicitDeps+e.ImplicitDeps]
		extraNames := make([]string, len(extra))
		for i, in := range extra {
			extraNames[i] = in.Path
		}
		if err := buildLog.Record(primaryOutputKey(e), fp, extraNames); err != nil {
			return err
		}
	}
	return nil
}

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

import "os"

// SetDepsLog attaches the compiler-native dependency cache to the
// builder. Optional: edges whose rule names no `deps` binding never
// consult it.
func (b *Builder) SetDepsLog(d *DepsLog) {
	b.depsLog = d
}

// mergeDepfile folds discovered dependencies back into the graph after a
// successful run: read the edge's depfile (or fall back to a previously
// cached deps record if the depfile itself is gone), canonicalize and
// dedupe the discovered paths against the edge's existing inputs, and
// append genuinely new ones to the implicit-input region. A discovered
// path that turns out to be the not-yet-finished output of another edge
// in this same run is rejected as a GraphError.
func (b *Builder) mergeDepfile(e *Edge) error {
	depfile := e.GetBinding("depfile")
	deps := e.GetBinding("deps")

	var paths []string
	switch {
	case depfile != "":
		content, err := b.di.ReadFile(depfile)
		if err != nil {
			if os.IsNotExist(err) {
				// No depfile was produced (e.g. the rule has no headers this
				// time); nothing to merge. Fall through to the deps-log cache
				// only when the rule is deps-log backed.
				if deps == "" || b.depsLog == nil {
					return nil
				}
				cached, ok := b.depsLog.Lookup(primaryOutputKey(e))
				if !ok {
					return nil
				}
				paths = cached
				break
			}
			return wrapErr(KindDepfile, e.Location, err)
		}
		content = append(content, 0)
		var dp DepfileParser
		if err := dp.Parse(content); err != nil {
			return wrapErr(KindDepfile, e.Location, err)
		}
		paths = dp.ins
		if deps != "" && b.depsLog != nil {
			if err := b.depsLog.Record(primaryOutputKey(e), paths); err != nil {
				return err
			}
		}
	case deps != "" && b.depsLog != nil:
		cached, ok := b.depsLog.Lookup(primaryOutputKey(e))
		if !ok {
			return nil
		}
		paths = cached
	default:
		return nil
	}

	if len(paths) == 0 {
		return nil
	}

	existing := make(map[string]bool, len(e.Inputs))
	for _, n := range e.Inputs {
		existing[n.Path] = true
	}

	for _, p := range paths {
		cp := CanonicalizePath(p)
		if existing[cp] {
			continue
		}
		existing[cp] = true

		node := b.state.GetNode(cp)
		if node.In != nil && node.In != e && node.In.state != edgeDone {
			return newErr(KindGraph, e.Location,
				"depfile path %s names the not-yet-finished output of another edge", cp)
		}
		if node.In == nil {
			if err := b.statIfNeeded(node); err != nil {
				return err
			}
		}
		insertImplicitInput(e, node)
	}
	return nil
}

// insertImplicitInput appends node to e's implicit-input region (after
// the explicit inputs and any existing implicit ones, before order-only
// inputs), keeping the three-region input partition intact.
func insertImplicitInput(e *Edge, node *Node) {
	idx := int(e.ExplicitDeps + e.ImplicitDeps)
	e.Inputs = append(e.Inputs, nil)
	copy(e.Inputs[idx+1:], e.Inputs[idx:])
	e.Inputs[idx] = node
	e.ImplicitDeps++
	node.Outs = append(node.Outs, e)
}

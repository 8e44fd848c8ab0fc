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
	"fmt"

	"github.com/pkg/errors"
)

// State is the whole in-memory build graph plus the bindings and pools it
// was loaded with. It is immutable-after-load except for the two
// documented mutation paths: a generator edge's self-regeneration pre-pass
// (which discards and reloads this value wholesale) and depfile-discovered
// inputs being appended to a single edge's input tail after that edge runs.
type State struct {
	Paths    map[string]*Node
	Nodes    []*Node
	Edges    []*Edge
	Pools    map[string]*Pool
	Defaults []string
	Bindings *BindingEnv
}

// NewState returns an empty State with the default (unbounded) pool and
// the built-in phony rule pre-registered: every edge without an explicit
// pool binding uses the former, and `build x: phony ...` lines resolve
// against the latter without any rule declaration in the manifest.
func NewState() *State {
	s := &State{
		Paths:    map[string]*Node{},
		Pools:    map[string]*Pool{"": NewPool("", 0)},
		Bindings: NewBindingEnv(nil),
	}
	s.Bindings.Rules["phony"] = NewRule("phony")
	return s
}

// GetNode returns the Node for a canonicalized path, creating it (as a
// source file with no producer) if this is the first reference.
func (s *State) GetNode(path string) *Node {
	if n, ok := s.Paths[path]; ok {
		return n
	}
	n := &Node{ID: len(s.Nodes), Path: path}
	s.Nodes = append(s.Nodes, n)
	s.Paths[path] = n
	return n
}

// addEdge appends a new edge bound to rule and returns it.
func (s *State) addEdge(rule *Rule) *Edge {
	e := &Edge{ID: len(s.Edges), Rule: rule, Pool: s.Pools[""]}
	s.Edges = append(s.Edges, e)
	return e
}

// addOut binds path as an output of edge, canonicalizing first. Returns
// false if path already has a different producer (invariant 2).
func (s *State) addOut(edge *Edge, path string) bool {
	n := s.GetNode(CanonicalizePath(path))
	return bindOutput(edge, n)
}

// addIn binds path as an input of edge, canonicalizing first.
func (s *State) addIn(edge *Edge, path string) {
	n := s.GetNode(CanonicalizePath(path))
	addFileDependency(edge, n)
}

// addDefault records path as a default target, failing if no node exists
// for it yet (defaults must name something the file already built).
func (s *State) addDefault(path string) error {
	if _, ok := s.Paths[path]; !ok {
		return errors.Errorf("unknown target '%s'", path)
	}
	s.Defaults = append(s.Defaults, path)
	return nil
}

// DefaultNodes returns the nodes requested by `default` statements, or, if
// there were none, every node with no dependents (a reasonable "build
// everything" default).
func (s *State) DefaultNodes() ([]*Node, error) {
	if len(s.Defaults) > 0 {
		out := make([]*Node, 0, len(s.Defaults))
		for _, p := range s.Defaults {
			out = append(out, s.Paths[p])
		}
		return out, nil
	}
	return s.RootNodes()
}

// RootNodes returns every node that is an output (explicit or implicit) of
// some edge and has no dependents -- the natural "leaves" of the dependency DAG from the
// consumer's point of view.
func (s *State) RootNodes() ([]*Node, error) {
	var out []*Node
	for _, e := range s.Edges {
		for _, n := range e.Outputs {
			if len(n.Outs) == 0 {
				out = append(out, n)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("could not determine root nodes of build graph")
	}
	return out, nil
}

// SpellcheckNode returns the closest known path to path (edit distance <=
// a small threshold), for "did you mean" diagnostics, or "" if nothing is
// close enough.
func (s *State) SpellcheckNode(path string) string {
	const maxValidEditDistance = 3
	best := ""
	bestDistance := maxValidEditDistance + 1
	for candidate := range s.Paths {
		d := editDistance(path, candidate, true, bestDistance)
		if d < bestDistance {
			bestDistance = d
			best = candidate
		}
	}
	return best
}

// visitMark is the 3-color DFS state used by checkAcyclic: a node is
// either never visited, currently on the recursion stack, or fully
// processed.
type visitMark int

const (
	visitNone visitMark = iota
	visitInStack
	visitDone
)

// CheckAcyclic walks the edge->output->edge closure and returns a
// GraphError naming the members of the first cycle found, if any. It runs
// once at load time, before scheduling begins.
func (s *State) CheckAcyclic() error {
	return s.checkAcyclic()
}

func (s *State) checkAcyclic() error {
	marks := make([]visitMark, len(s.Edges))
	var stack []*Edge

	var visit func(e *Edge) error
	visit = func(e *Edge) error {
		switch marks[e.ID] {
		case visitDone:
			return nil
		case visitInStack:
			return s.describeCycle(stack, e)
		}
		marks[e.ID] = visitInStack
		stack = append(stack, e)
		for _, in := range e.Inputs {
			if in.In != nil {
				if err := visit(in.In); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		marks[e.ID] = visitDone
		return nil
	}

	for _, e := range s.Edges {
		if marks[e.ID] == visitNone {
			if err := visit(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// describeCycle renders the cycle starting at the repeated edge for the
// GraphError message, listing one representative output path per edge.
func (s *State) describeCycle(stack []*Edge, repeated *Edge) error {
	start := 0
	for i, e := range stack {
		if e == repeated {
			start = i
			break
		}
	}
	names := make([]string, 0, len(stack)-start+1)
	for _, e := range stack[start:] {
		names = append(names, edgeLabel(e))
	}
	names = append(names, edgeLabel(repeated))
	return newErr(KindGraph, repeated.Location, "dependency cycle: %s", joinArrow(names))
}

func edgeLabel(e *Edge) string {
	if len(e.Outputs) == 0 {
		return fmt.Sprintf("<edge %d>", e.ID)
	}
	return e.Outputs[0].Path
}

func joinArrow(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " -> "
		}
		out += n
	}
	return out
}

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

// MTime is a file's modification time as observed by a single stat() call.
// The zero value is Unknown (not yet statted this run). A missing file is
// not an error at stat time; it is represented as Missing, distinct from
// any real timestamp including zero.
type MTime struct {
	Known   bool
	Missing bool
	Stamp   int64 // seconds since epoch, valid when Known && !Missing
}

// word encodes the mtime as a fingerprint input word: a missing file
// contributes the distinguished value 0, while a present file contributes
// Stamp+1, so the two can never collide.
func (m MTime) word() uint64 {
	if m.Missing || !m.Known {
		return 0
	}
	return uint64(m.Stamp) + 1
}

// Node is a file in the build graph: at most one producing Edge (nil for a
// source file) and the set of Edges that consume it, together with the
// per-run stat state.
type Node struct {
	ID   int
	Path string

	In   *Edge   // producing edge, nil if this is a source file
	Outs []*Edge // edges that consume this node as an input

	MTime   MTime
	Statted bool // stat() has been called this run, even if file was missing
}

// edgeState tracks an edge through the scheduler:
// Unknown -> Want -> Waiting -> Ready -> Running -> Done/Failed.
type edgeState int

const (
	edgeUnknown edgeState = iota
	edgeWant
	edgeWaiting
	edgeReady
	edgeRunning
	edgeDone
	edgeFailed
	edgeFailedCancel
)

// Edge is one rule invocation binding ordered inputs to ordered outputs.
type Edge struct {
	ID   int
	Rule *Rule
	Env  *BindingEnv
	Pool *Pool

	// Location is "file:line" for diagnostics, set by the parser.
	Location string

	// Inputs is ordered explicit, then implicit, then order-only. ExplicitDeps
	// and ImplicitDeps give the length of the first two regions; the rest is
	// order-only.
	Inputs        []*Node
	ExplicitDeps  int32
	ImplicitDeps  int32
	OrderOnlyDeps int32

	// Outputs is ordered explicit, then implicit. ImplicitOuts gives the
	// length of the implicit region.
	Outputs      []*Node
	ImplicitOuts int32

	Generator bool
	Restat    bool

	// Scheduling state, owned by the work engine.
	state             edgeState
	outstandingInputs int
}

// IsPhony reports whether this edge has no command to run.
func (e *Edge) IsPhony() bool {
	return e.GetBinding("command") == ""
}

// GetBinding evaluates key against the edge's own scope, which chains to
// the owning rule's bindings and then the file-level bindings. A rule-level
// binding (the common case, including "command") is evaluated with $in,
// $in_newline and $out bound to this edge's actual files.
func (e *Edge) GetBinding(key string) string {
	if e.Env == nil {
		return ""
	}
	if v, ok := e.Env.Bindings[key]; ok {
		return v
	}
	if e.Rule != nil {
		if ev := e.Rule.GetBinding(key); ev != nil {
			return ev.Evaluate(newEdgeEnv(e))
		}
	}
	return newEdgeEnv(e).LookupVariable(key)
}

// EvaluateCommand returns the fully expanded command line for this edge.
func (e *Edge) EvaluateCommand() string {
	return e.GetBinding("command")
}

// explicitInputs returns the edge's explicit input files only (used to
// build the substituted command line elsewhere, e.g. $in).
func (e *Edge) explicitInputs() []*Node {
	return e.Inputs[:e.ExplicitDeps]
}

// explicitOutputs returns the edge's explicit output files only ($out).
func (e *Edge) explicitOutputs() []*Node {
	return e.Outputs[:len(e.Outputs)-int(e.ImplicitOuts)]
}

// fingerprintRegion returns the inputs that participate in the fingerprint:
// explicit and implicit, excluding order-only.
func (e *Edge) fingerprintRegion() []*Node {
	return e.Inputs[:e.ExplicitDeps+e.ImplicitDeps]
}

// maybePhonycycleDiagnostic reports whether this looks like the
// CMake-generated "phony target names itself as input" pattern.
func (e *Edge) maybePhonycycleDiagnostic() bool {
	return e.IsPhony() && len(e.Outputs) == 1
}

// Pool is a named concurrency bucket. Depth == 0 means unbounded (the
// default pool and any pool explicitly declared with unlimited depth).
type Pool struct {
	Name  string
	Depth int

	// Running/queue bookkeeping lives in the Builder's pool scheduler,
	// keyed by *Pool, to keep this declaration free of concurrency-control
	// fields.
}

// NewPool returns a named pool with the given depth.
func NewPool(name string, depth int) *Pool {
	return &Pool{Name: name, Depth: depth}
}

// addFileDependency links node as an input of edge, recording edge among
// node's dependents.
func addFileDependency(edge *Edge, node *Node) {
	edge.Inputs = append(edge.Inputs, node)
	node.Outs = append(node.Outs, edge)
}

// bindOutput links node as an output of edge, enforcing invariant 2 (every
// file has at most one producer). Returns false if node already has a
// different producer -- the caller (parser) decides whether that is a
// warning or a ParseError.
func bindOutput(edge *Edge, node *Node) bool {
	if node.In != nil && node.In != edge {
		return false
	}
	node.In = edge
	edge.Outputs = append(edge.Outputs, node)
	return true
}

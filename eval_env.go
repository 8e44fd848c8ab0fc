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

// Env is a scope for variable ("$foo") lookups.
type Env interface {
	LookupVariable(name string) string
}

// TokenListItem is one piece of a tokenized EvalString: either a literal
// run of bytes (Special == false) or the name of a variable to substitute
// (Special == true).
type TokenListItem struct {
	Text    string
	Special bool
}

// EvalString is a tokenized string that contains variable references. It is
// parsed once by the lexer and can be cheaply evaluated many times against
// different Envs (e.g. the same rule command bound against every edge using
// that rule).
type EvalString struct {
	Parsed []TokenListItem
}

// Evaluate expands every variable reference against env and concatenates
// the result.
func (e EvalString) Evaluate(env Env) string {
	if len(e.Parsed) == 1 && !e.Parsed[0].Special {
		return e.Parsed[0].Text
	}
	var sb []byte
	for _, tok := range e.Parsed {
		if tok.Special {
			sb = append(sb, env.LookupVariable(tok.Text)...)
		} else {
			sb = append(sb, tok.Text...)
		}
	}
	return string(sb)
}

// Unparse renders the EvalString back into its "$var"/"${var}" source form,
// used for diagnostics (e.g. echoing a rule's command in an error).
func (e EvalString) Unparse() string {
	var sb []byte
	for _, tok := range e.Parsed {
		if tok.Special {
			sb = append(sb, '$', '{')
			sb = append(sb, tok.Text...)
			sb = append(sb, '}')
		} else {
			sb = append(sb, tok.Text...)
		}
	}
	return string(sb)
}

// reservedBindings are the rule/edge attribute names with engine-defined
// meaning; everything else written on a rule or build-edge indent block is
// an ordinary user variable.
var reservedBindings = map[string]bool{
	"command":     true,
	"depfile":     true,
	"deps":        true,
	"description": true,
	"generator":   true,
	"restat":      true,
	"pool":        true,
}

// IsReservedBinding reports whether key names an engine-reserved attribute.
func IsReservedBinding(key string) bool {
	return reservedBindings[key]
}

// Rule is an invocable build command and its associated bindings
// (description, depfile, etc.), shared by every edge that names it.
type Rule struct {
	Name     string
	Bindings map[string]*EvalString
}

// NewRule returns an empty Rule named name.
func NewRule(name string) *Rule {
	return &Rule{Name: name, Bindings: map[string]*EvalString{}}
}

// GetBinding returns the unevaluated EvalString bound to key, or nil.
func (r *Rule) GetBinding(key string) *EvalString {
	return r.Bindings[key]
}

// BindingEnv is an Env holding a mapping of variables to already-evaluated
// string values, plus the rules declared in its scope, with a pointer to a
// parent scope for lexical fallback (used for per-edge and subninja
// scoping).
type BindingEnv struct {
	Bindings map[string]string
	Rules    map[string]*Rule
	Parent   *BindingEnv
}

// NewBindingEnv returns a BindingEnv chained to parent (nil for the root).
func NewBindingEnv(parent *BindingEnv) *BindingEnv {
	return &BindingEnv{
		Bindings: map[string]string{},
		Rules:    map[string]*Rule{},
		Parent:   parent,
	}
}

// LookupVariable implements Env, falling back to the parent scope.
func (b *BindingEnv) LookupVariable(name string) string {
	if v, ok := b.Bindings[name]; ok {
		return v
	}
	if b.Parent != nil {
		return b.Parent.LookupVariable(name)
	}
	return ""
}

// LookupRuleCurrentScope looks up a rule without falling back to the parent,
// used to reject a duplicate rule declaration within the same file scope.
func (b *BindingEnv) LookupRuleCurrentScope(name string) *Rule {
	return b.Rules[name]
}

// LookupRule looks up a rule, falling back to parent scopes.
func (b *BindingEnv) LookupRule(name string) *Rule {
	if r, ok := b.Rules[name]; ok {
		return r
	}
	if b.Parent != nil {
		return b.Parent.LookupRule(name)
	}
	return nil
}

// addBinding sets a binding in this scope (self-shadowing; used by the
// parser for `key = value` lines).
func (b *BindingEnv) addBinding(key, value string) {
	b.Bindings[key] = value
}

// edgeEnv is an Env for evaluating a Rule's EvalStrings (command, depfile,
// description, ...) against one specific Edge: it supplies $in, $in_newline
// and $out from the edge's actual input/output lists and falls back to the
// edge's own scope for everything else. $in/$out are edge-specific and
// cannot live in the ordinary lexically-scoped BindingEnv chain.
type edgeEnv struct {
	edge *Edge
}

func newEdgeEnv(e *Edge) edgeEnv {
	return edgeEnv{edge: e}
}

func (e edgeEnv) LookupVariable(name string) string {
	switch name {
	case "in":
		return joinPaths(e.edge.explicitInputs(), " ")
	case "in_newline":
		return joinPaths(e.edge.explicitInputs(), "\n")
	case "out":
		return joinPaths(e.edge.explicitOutputs(), " ")
	}
	if e.edge.Env == nil {
		return ""
	}
	return e.edge.Env.LookupVariable(name)
}

func joinPaths(nodes []*Node, sep string) string {
	var sb []byte
	for i, n := range nodes {
		if i > 0 {
			sb = append(sb, sep...)
		}
		sb = append(sb, n.Path...)
	}
	return string(sb)
}

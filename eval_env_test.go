package n2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalString_Evaluate(t *testing.T) {
	env := NewBindingEnv(nil)
	env.addBinding("cc", "gcc")

	ev := EvalString{Parsed: []TokenListItem{
		{Text: "cc", Special: true},
		{Text: " -c foo.c"},
	}}
	assert.Equal(t, "gcc -c foo.c", ev.Evaluate(env))
}

func TestEvalString_Unparse(t *testing.T) {
	ev := EvalString{Parsed: []TokenListItem{
		{Text: "cc", Special: true},
		{Text: " -c foo.c"},
	}}
	assert.Equal(t, "${cc} -c foo.c", ev.Unparse())
}

// TestEdge_CommandSubstitutesInOut exercises the $in/$out wiring a
// typical "command = touch $out" rule depends on: a rule-level command
// binding is evaluated against the edge's actual input/output paths, not
// the file-level scope.
func TestEdge_CommandSubstitutesInOut(t *testing.T) {
	s := NewState()
	rule := NewRule("touch")
	rule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{
		{Text: "touch "},
		{Text: "out", Special: true},
	}}

	e := s.addEdge(rule)
	e.Env = s.Bindings
	require.True(t, s.addOut(e, "built/thing"))
	s.addIn(e, "src/thing.in")
	e.ExplicitDeps = 1

	assert.Equal(t, "touch built/thing", e.EvaluateCommand())
}

func TestEdge_CommandJoinsMultipleInputsAndOutputs(t *testing.T) {
	s := NewState()
	rule := NewRule("cat")
	rule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{
		{Text: "cat "},
		{Text: "in", Special: true},
		{Text: " > "},
		{Text: "out", Special: true},
	}}

	e := s.addEdge(rule)
	e.Env = s.Bindings
	require.True(t, s.addOut(e, "combined"))
	s.addIn(e, "a.txt")
	s.addIn(e, "b.txt")
	e.ExplicitDeps = 2

	assert.Equal(t, "cat a.txt b.txt > combined", e.EvaluateCommand())
}

func TestEdge_CommandInNewline(t *testing.T) {
	s := NewState()
	rule := NewRule("list")
	rule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{
		{Text: "in_newline", Special: true},
	}}

	e := s.addEdge(rule)
	e.Env = s.Bindings
	require.True(t, s.addOut(e, "manifest.txt"))
	s.addIn(e, "a.txt")
	s.addIn(e, "b.txt")
	e.ExplicitDeps = 2

	assert.Equal(t, "a.txt\nb.txt", e.EvaluateCommand())
}

func TestEdge_IsPhony(t *testing.T) {
	s := NewState()
	rule := NewRule("phony")

	e := s.addEdge(rule)
	e.Env = s.Bindings
	require.True(t, s.addOut(e, "alias"))

	assert.True(t, e.IsPhony())
}

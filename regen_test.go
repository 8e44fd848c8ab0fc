package n2

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindGeneratorEdges(t *testing.T) {
	s := NewState()
	genRule := NewRule("configure")
	genRule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{{Text: "configure > build.ninja"}}}

	e := s.addEdge(genRule)
	e.Env = s.Bindings
	e.Generator = true
	require.True(t, s.addOut(e, "build.ninja"))

	other := s.addEdge(touchRule())
	other.Env = s.Bindings
	require.True(t, s.addOut(other, "out"))

	gens := FindGeneratorEdges(s, "build.ninja")
	require.Len(t, gens, 1)
	assert.Equal(t, "build.ninja", gens[0].Path)
}

func TestRunGeneratorPrepass_NoGeneratorEdgeIsANoop(t *testing.T) {
	s := NewState()
	e := s.addEdge(touchRule())
	e.Env = s.Bindings
	require.True(t, s.addOut(e, "out"))

	disk := newFakeDisk()
	reload, err := RunGeneratorPrepass(context.Background(), s, "build.ninja", BuildConfig{Parallelism: 1}, disk, nil, quietStatus{})
	require.NoError(t, err)
	assert.False(t, reload)
}

// TestRunGeneratorPrepass_ReloadWhenBuildFileChanges runs the pre-pass
// against a real filesystem: a generator edge that actually rewrites
// build.ninja's bytes must tell its caller to reload the graph.
func TestRunGeneratorPrepass_ReloadWhenBuildFileChanges(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("build.ninja", []byte("old\n"), 0666))
	require.NoError(t, os.WriteFile("configure.py", nil, 0666))

	s := NewState()
	genRule := NewRule("configure")
	genRule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{
		{Text: "echo new > build.ninja"},
	}}
	genEdge := s.addEdge(genRule)
	genEdge.Env = s.Bindings
	genEdge.Generator = true
	require.True(t, s.addOut(genEdge, "build.ninja"))
	s.addIn(genEdge, "configure.py")
	genEdge.ExplicitDeps = 1

	bl := openBuildLog(t, dir)
	reload, err := RunGeneratorPrepass(context.Background(), s, "build.ninja", BuildConfig{Parallelism: 1}, RealDiskInterface{}, bl, quietStatus{})
	require.NoError(t, err)
	assert.True(t, reload, "a generator edge that changes build.ninja's bytes must request a reload")

	content, err := os.ReadFile(filepath.Join(dir, "build.ninja"))
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(content))
}

// TestRunGeneratorPrepass_FailingGeneratorAborts: a generator command
// that exits non-zero fails the pre-pass, and no fingerprint is persisted
// for the failed edge.
func TestRunGeneratorPrepass_FailingGeneratorAborts(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("build.ninja", []byte("old\n"), 0666))

	s := NewState()
	genRule := NewRule("configure")
	genRule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{{Text: "false"}}}
	genEdge := s.addEdge(genRule)
	genEdge.Env = s.Bindings
	genEdge.Generator = true
	require.True(t, s.addOut(genEdge, "build.ninja"))

	bl := openBuildLog(t, dir)
	_, err := RunGeneratorPrepass(context.Background(), s, "build.ninja", BuildConfig{Parallelism: 1}, RealDiskInterface{}, bl, quietStatus{})
	require.Error(t, err)

	_, ok := bl.Lookup("build.ninja")
	assert.False(t, ok, "a failed generator edge must not have its fingerprint recorded")
}

// TestRunGeneratorPrepass_NoReloadWhenBytesUnchanged covers the opposite
// case: a generator edge whose command happens not to change build.ninja's
// bytes (e.g. it decided nothing needed regenerating) must not force a
// reload.
func TestRunGeneratorPrepass_NoReloadWhenBytesUnchanged(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("build.ninja", []byte("same\n"), 0666))
	require.NoError(t, os.WriteFile("configure.py", nil, 0666))

	s := NewState()
	genRule := NewRule("configure")
	genRule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{{Text: "true"}}}
	genEdge := s.addEdge(genRule)
	genEdge.Env = s.Bindings
	genEdge.Generator = true
	require.True(t, s.addOut(genEdge, "build.ninja"))
	s.addIn(genEdge, "configure.py")
	genEdge.ExplicitDeps = 1

	bl := openBuildLog(t, dir)
	reload, err := RunGeneratorPrepass(context.Background(), s, "build.ninja", BuildConfig{Parallelism: 1}, RealDiskInterface{}, bl, quietStatus{})
	require.NoError(t, err)
	assert.False(t, reload)
}

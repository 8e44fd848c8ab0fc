package n2

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// quietStatus discards all progress output, so these tests aren't noisy.
type quietStatus struct{}

func (quietStatus) EdgeStarted(*Edge)                        {}
func (quietStatus) EdgeFinished(*Edge, bool, string)         {}
func (quietStatus) BuildStarted(int)                         {}
func (quietStatus) BuildFinished()                           {}
func (quietStatus) Warn(format string, args ...interface{})  {}
func (quietStatus) Error(format string, args ...interface{}) {}

// chdirTemp switches the process into a fresh temp dir for the duration of
// the test and restores the previous working directory on cleanup. The
// builder's DiskInterface and the edges under test all use plain relative
// paths, the same way a real build file does.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func touchRule() *Rule {
	r := NewRule("touch")
	r.Bindings["command"] = &EvalString{Parsed: []TokenListItem{
		{Text: "touch "},
		{Text: "out", Special: true},
	}}
	return r
}

// mkEdge wires an edge with one explicit output and the given explicit
// inputs, bound to rule, with a plain file-scope Env (no per-edge
// overrides), mirroring what the parser produces for a build statement
// with no indented bindings.
func mkEdge(s *State, rule *Rule, out string, ins ...string) *Edge {
	e := s.addEdge(rule)
	e.Env = s.Bindings
	if !s.addOut(e, out) {
		panic("duplicate producer in test fixture: " + out)
	}
	for _, in := range ins {
		s.addIn(e, in)
	}
	e.ExplicitDeps = int32(len(ins))
	return e
}

func openBuildLog(t *testing.T, dir string) *BuildLog {
	t.Helper()
	bl := NewBuildLog()
	require.NoError(t, bl.Open(filepath.Join(dir, ".n2_db")))
	t.Cleanup(func() { bl.Close() })
	return &bl
}

// TestBuilder_BasicRunThenNoWork: a clean build runs the edge once, and a
// second invocation against the same build log finds nothing stale.
func TestBuilder_BasicRunThenNoWork(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("in", nil, 0666))

	s := NewState()
	mkEdge(s, touchRule(), "out", "in")

	bl := openBuildLog(t, dir)
	b := NewBuilder(s, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
	b.WantTargets([]*Node{s.GetNode("out")})
	require.NoError(t, b.Build(context.Background()))
	require.Equal(t, 1, b.Ran())
	require.FileExists(t, filepath.Join(dir, "out"))

	// Second build: fresh graph and Builder, but the same persisted log,
	// so the fingerprint should match and nothing should run.
	s2 := NewState()
	mkEdge(s2, touchRule(), "out", "in")
	b2 := NewBuilder(s2, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
	b2.WantTargets([]*Node{s2.GetNode("out")})
	require.NoError(t, b2.Build(context.Background()))
	require.Equal(t, 0, b2.Ran(), "second build must find the edge clean")
}

// TestBuilder_RerunsWhenInputChanges exercises the other half of property
// 2 (monotone cleanliness): advancing an input's mtime must invalidate the
// cached fingerprint and force a rebuild.
func TestBuilder_RerunsWhenInputChanges(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("in", nil, 0666))

	s := NewState()
	mkEdge(s, touchRule(), "out", "in")
	bl := openBuildLog(t, dir)
	b := NewBuilder(s, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
	b.WantTargets([]*Node{s.GetNode("out")})
	require.NoError(t, b.Build(context.Background()))
	require.Equal(t, 1, b.Ran())

	// Advance "in"'s mtime well past "out"'s without changing its content.
	future := time.Now().Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "in"), future, future))

	s2 := NewState()
	mkEdge(s2, touchRule(), "out", "in")
	b2 := NewBuilder(s2, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
	b2.WantTargets([]*Node{s2.GetNode("out")})
	require.NoError(t, b2.Build(context.Background()))
	require.Equal(t, 1, b2.Ran(), "a newer input must invalidate the cached fingerprint")
}

// TestBuilder_CreatesOutputSubdir: an edge whose output lives in a
// directory that doesn't exist yet must have that directory created
// before its command runs.
func TestBuilder_CreatesOutputSubdir(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("in", nil, 0666))

	s := NewState()
	mkEdge(s, touchRule(), "subdir/out", "in")
	bl := openBuildLog(t, dir)
	b := NewBuilder(s, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
	b.WantTargets([]*Node{s.GetNode("subdir/out")})
	require.NoError(t, b.Build(context.Background()))
	require.FileExists(t, filepath.Join(dir, "subdir", "out"))
}

// TestBuilder_PoolLimitsConcurrency: two edges sharing a depth-1 pool
// must never run at once, observed by each command appending a start/end
// marker to a shared marker file around a short sleep.
func TestBuilder_PoolLimitsConcurrency(t *testing.T) {
	dir := chdirTemp(t)
	trace := filepath.Join(dir, "trace")

	pool := NewPool("serial", 1)
	s := NewState()
	s.Pools["serial"] = pool

	rule := NewRule("trace")
	rule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{
		{Text: "echo start >> " + trace + " && sleep 0.2 && echo end >> " + trace + " && touch "},
		{Text: "out", Special: true},
	}}

	e1 := mkEdge(s, rule, "out1")
	e1.Pool = pool
	e2 := mkEdge(s, rule, "out2")
	e2.Pool = pool

	bl := openBuildLog(t, dir)
	b := NewBuilder(s, BuildConfig{Parallelism: 4}, RealDiskInterface{}, bl, quietStatus{})
	b.WantTargets([]*Node{s.GetNode("out1"), s.GetNode("out2")})
	require.NoError(t, b.Build(context.Background()))
	require.Equal(t, 2, b.Ran())

	content, err := os.ReadFile(trace)
	require.NoError(t, err)
	require.Equal(t, "start\nend\nstart\nend\n", string(content), "a depth-1 pool must fully serialize its edges")
}

// TestBuilder_FailureCancelsQueuedSiblings exercises the cooperative
// cancellation rule: once an edge fails, any sibling still waiting in a
// pool queue (never dispatched) must not run.
func TestBuilder_FailureCancelsQueuedSiblings(t *testing.T) {
	dir := chdirTemp(t)

	failRule := NewRule("fail")
	failRule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{{Text: "false"}}}
	touchSibling := touchRule()

	s := NewState()
	mkEdge(s, failRule, "bad")
	mkEdge(s, touchSibling, "good")

	bl := openBuildLog(t, dir)
	// Parallelism 1 forces strict FIFO dispatch: "bad" (enqueued first via
	// WantTargets order) runs before "good" ever gets a chance.
	b := NewBuilder(s, BuildConfig{Parallelism: 1}, RealDiskInterface{}, bl, quietStatus{})
	b.WantTargets([]*Node{s.GetNode("bad"), s.GetNode("good")})
	err := b.Build(context.Background())
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(dir, "good"), "a queued sibling must be cancelled, not run, after a failure")
}

// TestBuilder_FromParsedManifest drives the whole load-then-build path
// the CLI uses: parse a manifest, want its default target, run it, and
// verify a second invocation against the same log does nothing.
func TestBuilder_FromParsedManifest(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("in", nil, 0666))

	manifest := `rule touch
  command = touch $out
build out: touch in
default out
`
	bl := openBuildLog(t, dir)

	runOnce := func() int {
		s := NewState()
		require.NoError(t, ParseManifest(s, nil, ParseManifestOpts{}, "build.ninja", []byte(manifest)))
		require.NoError(t, s.CheckAcyclic())
		targets, err := s.DefaultNodes()
		require.NoError(t, err)

		b := NewBuilder(s, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
		b.WantTargets(targets)
		require.NoError(t, b.Build(context.Background()))
		return b.Ran()
	}

	require.Equal(t, 1, runOnce())
	require.FileExists(t, filepath.Join(dir, "out"))
	require.Equal(t, 0, runOnce(), "an unchanged manifest and filesystem must be a no-op")
}

// TestBuilder_DepfileInputsSurviveAcrossRuns: implicit inputs discovered
// through a depfile must participate in the next run's staleness
// decision -- the edge stays clean while they are unchanged and goes
// dirty when one of them is touched.
func TestBuilder_DepfileInputsSurviveAcrossRuns(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("in", nil, 0666))
	require.NoError(t, os.WriteFile("extra.h", nil, 0666))

	rule := NewRule("cc")
	rule.Bindings["command"] = &EvalString{Parsed: []TokenListItem{
		{Text: "touch out && echo 'out: in extra.h' > out.d"},
	}}
	rule.Bindings["depfile"] = &EvalString{Parsed: []TokenListItem{{Text: "out.d"}}}

	bl := openBuildLog(t, dir)
	runOnce := func() int {
		s := NewState()
		e := s.addEdge(rule)
		e.Env = s.Bindings
		require.True(t, s.addOut(e, "out"))
		s.addIn(e, "in")
		e.ExplicitDeps = 1

		b := NewBuilder(s, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
		b.WantTargets([]*Node{s.GetNode("out")})
		require.NoError(t, b.Build(context.Background()))
		return b.Ran()
	}

	require.Equal(t, 1, runOnce())
	require.Equal(t, 0, runOnce(), "unchanged depfile-discovered inputs must leave the edge clean")

	future := time.Now().Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "extra.h"), future, future))
	require.Equal(t, 1, runOnce(), "touching a depfile-discovered input must dirty the edge")
}

// TestBuilder_PhonyGroupsItsInputs: a phony edge never dispatches a
// command but still waits for (and triggers) its inputs' producers.
func TestBuilder_PhonyGroupsItsInputs(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("in", nil, 0666))

	s := NewState()
	mkEdge(s, touchRule(), "real", "in")
	phony := s.addEdge(s.Bindings.Rules["phony"])
	phony.Env = s.Bindings
	require.True(t, s.addOut(phony, "all"))
	s.addIn(phony, "real")
	phony.ExplicitDeps = 1

	bl := openBuildLog(t, dir)
	b := NewBuilder(s, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
	b.WantTargets([]*Node{s.GetNode("all")})
	require.NoError(t, b.Build(context.Background()))
	require.Equal(t, 1, b.Ran(), "only the real edge dispatches a command")
	require.FileExists(t, filepath.Join(dir, "real"))
}

// TestBuilder_DryRunDoesNotTouchDiskOrLog verifies that --dry-run never
// writes outputs or persists a fingerprint, so a real run afterwards still
// sees the edge as dirty.
func TestBuilder_DryRunDoesNotTouchDiskOrLog(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile("in", nil, 0666))

	s := NewState()
	mkEdge(s, touchRule(), "out", "in")
	bl := openBuildLog(t, dir)
	b := NewBuilder(s, BuildConfig{Parallelism: 2, DryRun: true}, RealDiskInterface{}, bl, quietStatus{})
	b.WantTargets([]*Node{s.GetNode("out")})
	require.NoError(t, b.Build(context.Background()))
	require.Equal(t, 1, b.Ran())
	require.NoFileExists(t, filepath.Join(dir, "out"))

	s2 := NewState()
	mkEdge(s2, touchRule(), "out", "in")
	b2 := NewBuilder(s2, BuildConfig{Parallelism: 2}, RealDiskInterface{}, bl, quietStatus{})
	b2.WantTargets([]*Node{s2.GetNode("out")})
	require.NoError(t, b2.Build(context.Background()))
	require.Equal(t, 1, b2.Ran(), "dry-run must not have persisted a fingerprint")
	require.FileExists(t, filepath.Join(dir, "out"))
}

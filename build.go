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
	"context"
	"runtime"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// BuildConfig holds the knobs a caller (the CLI) sets before running a
// build: how many subprocesses may run at once, and whether to actually
// execute commands at all.
type BuildConfig struct {
	// Parallelism is the global `-j` cap. Zero or negative means "pick a
	// sensible default from the host's core count".
	Parallelism int
	// DryRun reports what would run without actually invoking anything,
	// still walking the dirty/clean decision and printing commands.
	DryRun bool
	// Verbose records the command line's -v flag. The Builder does not read
	// it: progress output and command echoing are the same with or without it.
	Verbose bool
}

// GuessParallelism derives a default -j value from the number of usable
// cores, the same heuristic ninja uses: a couple of extra jobs beyond the
// core count keeps the pipeline full while one command waits on I/O.
func GuessParallelism() int {
	n := runtime.NumCPU()
	switch {
	case n <= 1:
		return 2
	case n == 2:
		return 3
	default:
		return n + 2
	}
}

// edgeResult is the message a dispatched edge's goroutine sends back to
// the engine's single-consumer completion channel.
type edgeResult struct {
	edge   *Edge
	result commandResult
	err    error
}

// poolQueue is the per-pool FIFO of ready-but-not-yet-dispatched edges,
// plus the semaphore that caps how many of that pool's edges run at once.
type poolQueue struct {
	pool    *Pool
	sem     *semaphore.Weighted // nil means unbounded (depth == 0)
	pending []*Edge
}

// Builder is the work engine plus the pool scheduler: it owns the
// Unknown->Want->Waiting->Ready->Running->Done/Failed state machine for
// every edge and drives it to completion against a DiskInterface and
// subprocess runner.
type Builder struct {
	state    *State
	config   BuildConfig
	di       DiskInterface
	buildLog *BuildLog
	depsLog  *DepsLog
	status   Status
	trace    *Trace
	ctx      context.Context

	globalSem    *semaphore.Weighted
	pools        map[*Pool]*poolQueue
	pendingCount int // edges Want/Waiting/Ready/Running but not terminal
	running      int

	// errg tracks every dispatched subprocess goroutine so cancellation
	// (ctx done or a sibling edge's failure) can drain in-flight commands
	// before Build returns instead of leaking goroutines that are still
	// writing to results after the caller stopped reading.
	errg *errgroup.Group

	results chan edgeResult

	firstFailure error // first synchronous stat/mkdir failure, fatal
	cancelled    bool
	builtCount   int
}

// NewBuilder wires a Builder to the loaded graph, ready to accept
// want-file requests and then Build.
func NewBuilder(state *State, config BuildConfig, di DiskInterface, buildLog *BuildLog, status Status) *Builder {
	if config.Parallelism <= 0 {
		config.Parallelism = GuessParallelism()
	}
	b := &Builder{
		state:     state,
		config:    config,
		di:        di,
		buildLog:  buildLog,
		status:    status,
		globalSem: semaphore.NewWeighted(int64(config.Parallelism)),
		pools:     map[*Pool]*poolQueue{},
		errg:      &errgroup.Group{},
		results:   make(chan edgeResult, 64),
	}
	for _, p := range state.Pools {
		b.pools[p] = &poolQueue{pool: p, sem: poolSemaphore(p)}
	}
	b.restoreDiscoveredInputs()
	return b
}

// restoreDiscoveredInputs re-attaches the implicit inputs a previous
// run's depfile merges recorded alongside each fingerprint, so staleness
// this run is decided over the same input set the stored fingerprint was
// computed from. Without this, every depfile edge would look dirty on
// every run.
func (b *Builder) restoreDiscoveredInputs() {
	if b.buildLog == nil {
		return
	}
	for _, e := range b.state.Edges {
		rec, ok := b.buildLog.Lookup(primaryOutputKey(e))
		if !ok || len(rec.ExtraInputs) == 0 {
			continue
		}
		existing := make(map[string]bool, len(e.Inputs))
		for _, n := range e.Inputs {
			existing[n.Path] = true
		}
		for _, p := range rec.ExtraInputs {
			if existing[p] {
				continue
			}
			existing[p] = true
			insertImplicitInput(e, b.state.GetNode(p))
		}
	}
}

func poolSemaphore(p *Pool) *semaphore.Weighted {
	if p.Depth <= 0 {
		return nil
	}
	return semaphore.NewWeighted(int64(p.Depth))
}

// poolFor returns the edge's pool queue, registering a pool seen only
// after NewBuilder was constructed (shouldn't normally happen, but a
// generator reload can introduce a freshly parsed State).
func (b *Builder) poolFor(e *Edge) *poolQueue {
	pq, ok := b.pools[e.Pool]
	if !ok {
		pq = &poolQueue{pool: e.Pool, sem: poolSemaphore(e.Pool)}
		b.pools[e.Pool] = pq
	}
	return pq
}

// WantTargets marks every node in targets (and transitively everything
// that produces them) as wanted.
func (b *Builder) WantTargets(targets []*Node) {
	for _, n := range targets {
		b.wantNode(n)
	}
}

// wantNode marks the node's producing edge, if any, as Want (unless
// already visited this run) and recurses into its inputs; source files
// need no marking, only an eventual stat. An input edge that turns out to
// be clean completes synchronously during the recursion, before this
// edge's own outstanding-input count is computed from the survivors.
func (b *Builder) wantNode(n *Node) {
	e := n.In
	if e == nil {
		return // source file; stat happens lazily when an edge reads it
	}
	if e.state != edgeUnknown {
		return
	}
	e.state = edgeWant
	b.pendingCount++
	for _, in := range e.Inputs {
		b.wantNode(in)
	}
	outstanding := 0
	for _, in := range e.Inputs {
		if in.In != nil && in.In.state != edgeDone {
			outstanding++
		}
	}
	e.outstandingInputs = outstanding
	if outstanding == 0 {
		b.moveToReady(e)
	} else {
		e.state = edgeWaiting
	}
}

// Build drains the scheduler until every wanted edge reaches a terminal
// state, dispatching ready edges through the pool scheduler and
// subprocess runner as capacity allows. It returns the first command or
// I/O failure encountered; in-flight edges are always drained to
// completion first.
func (b *Builder) Build(ctx context.Context) error {
	b.ctx = ctx
	b.status.BuildStarted(b.pendingCount)
	defer b.status.BuildFinished()

	b.dispatchReady()

	var firstErr error
loop:
	for b.pendingCount > 0 {
		if b.running == 0 {
			// Nothing in flight but work remains: a synchronous failure left
			// dependents Waiting on an edge that will never finish. Exit and
			// report the recorded failure.
			break
		}
		select {
		case <-ctx.Done():
			b.cancelQueued()
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break loop
		case res := <-b.results:
			b.running--
			b.builtCount++
			if err := b.onEdgeResult(res); err != nil && firstErr == nil {
				firstErr = err
			}
			b.dispatchReady()
		}
	}
	// Drain every goroutine this build dispatched, whether the loop above
	// exited on success, failure, or ctx cancellation, so none are still
	// blocked sending to b.results once this call returns. b.running still
	// in flight goroutines must be read off the channel first: errg.Wait
	// only returns once they've sent, and the channel's buffer isn't
	// guaranteed to hold all of them when Parallelism is large.
	for b.running > 0 {
		<-b.results
		b.running--
	}
	b.errg.Wait()
	if firstErr == nil {
		firstErr = b.firstFailure
	}
	if firstErr == nil && b.cancelled && Interrupted() {
		firstErr = errors.New("interrupted by user")
	}
	return firstErr
}

// Ran reports how many edges actually dispatched a command this build,
// distinguishing a build that found nothing stale from one that did work.
func (b *Builder) Ran() int {
	return b.builtCount
}

// moveToReady implements the Ready-state staleness decision: compute the
// fingerprint, compare against last_hashes, and either short-circuit to
// Done (clean) or enqueue into the owning pool.
func (b *Builder) moveToReady(e *Edge) {
	e.state = edgeReady

	if e.IsPhony() {
		// Phony edges never run a command and always "succeed"; they exist
		// purely for grouping, so skip straight to completion bookkeeping.
		b.completeSync(e)
		return
	}

	for _, in := range e.fingerprintRegion() {
		if err := b.statIfNeeded(in); err != nil {
			b.fail(e, err)
			return
		}
	}
	fp := computeFingerprint(e)

	outputsExist := true
	for _, out := range e.Outputs {
		if err := b.statIfNeeded(out); err != nil {
			b.fail(e, err)
			return
		}
		if out.MTime.Missing {
			outputsExist = false
		}
	}

	if rec, ok := b.buildLog.Lookup(primaryOutputKey(e)); ok && rec.Fingerprint == fp && outputsExist {
		explain("%s: clean (fingerprint match)", edgeLabel(e))
		b.completeSync(e)
		return
	}

	b.enqueue(e)
}

func (b *Builder) statIfNeeded(n *Node) error {
	if n.Statted {
		return nil
	}
	mt, err := b.di.Stat(n.Path)
	if err != nil {
		return wrapErr(KindIO, "", err)
	}
	n.MTime = mt
	n.Statted = true
	return nil
}

// enqueue pushes a Ready edge onto its pool's FIFO queue. Within a pool,
// dispatch order is the order edges became ready; edges that became ready
// at the same completion event keep their edge-id order because
// notifyDependents moves them to Ready sorted by edge id.
func (b *Builder) enqueue(e *Edge) {
	pq := b.poolFor(e)
	pq.pending = append(pq.pending, e)
}

// dispatchReady drains every pool's queue as far as the global and
// per-pool concurrency caps allow. FIFO order within a pool is
// maintained by always taking from the front; across pools there is no
// ordering guarantee, so pools are simply visited in a stable (sorted by
// name) order each pass.
func (b *Builder) dispatchReady() {
	if b.cancelled {
		return
	}
	if Interrupted() {
		b.cancelQueued()
		return
	}
	names := make([]string, 0, len(b.pools))
	for p := range b.pools {
		names = append(names, p.Name)
	}
	sort.Strings(names)

	progress := true
	for progress {
		progress = false
		for _, name := range names {
			pq := b.poolByName(name)
			if pq == nil || len(pq.pending) == 0 {
				continue
			}
			if !b.globalSem.TryAcquire(1) {
				continue
			}
			if pq.sem != nil && !pq.sem.TryAcquire(1) {
				b.globalSem.Release(1)
				continue
			}
			e := pq.pending[0]
			pq.pending = pq.pending[1:]
			b.dispatch(e, pq)
			progress = true
		}
	}
}

func (b *Builder) poolByName(name string) *poolQueue {
	for _, pq := range b.pools {
		if pq.pool.Name == name {
			return pq
		}
	}
	return nil
}

// dispatch transitions e to Running and launches its subprocess on its
// own goroutine; the goroutine's only job is to run the command and
// report back on b.results, the single consumer endpoint.
func (b *Builder) dispatch(e *Edge, pq *poolQueue) {
	for _, out := range e.Outputs {
		if err := b.di.MakeDirs(out.Path); err != nil {
			b.globalSem.Release(1)
			if pq.sem != nil {
				pq.sem.Release(1)
			}
			b.fail(e, err)
			return
		}
	}

	e.state = edgeRunning
	b.running++
	b.status.EdgeStarted(e)

	if b.trace != nil {
		b.trace.begin(edgeLabel(e))
	}

	if b.config.DryRun {
		b.errg.Go(func() error {
			b.globalSem.Release(1)
			if pq.sem != nil {
				pq.sem.Release(1)
			}
			b.results <- edgeResult{edge: e, result: commandResult{success: true}}
			return nil
		})
		return
	}

	cmd := e.EvaluateCommand()
	ctx := b.ctx
	b.errg.Go(func() error {
		res, err := runCommand(ctx, cmd, false)
		b.globalSem.Release(1)
		if pq.sem != nil {
			pq.sem.Release(1)
		}
		b.results <- edgeResult{edge: e, result: res, err: err}
		return nil
	})
}

// onEdgeResult applies a completed (or cancelled) edge's outcome: depfile
// merge, restat, persistence, and dependent notification on success;
// cooperative cancellation on failure.
func (b *Builder) onEdgeResult(res edgeResult) error {
	e := res.edge
	if b.trace != nil {
		b.trace.end(edgeLabel(e))
	}

	success := res.err == nil && res.result.success
	b.status.EdgeFinished(e, success, res.result.output)

	if !success {
		e.state = edgeFailed
		b.pendingCount--
		b.status.Error("build stopped: %s", edgeLabel(e))
		b.cancelQueued()
		return newErr(KindCommand, e.Location, "%s", e.EvaluateCommand())
	}

	if b.config.DryRun {
		// Nothing actually ran, so there is nothing to restat, merge a
		// depfile for, or persist a fingerprint of: just unblock dependents
		// as if this edge had succeeded.
		e.state = edgeDone
		b.pendingCount--
		b.notifyDependents(e)
		return nil
	}

	if err := b.mergeDepfile(e); err != nil {
		e.state = edgeFailed
		b.pendingCount--
		b.cancelQueued()
		return err
	}

	if err := b.finishSuccess(e); err != nil {
		e.state = edgeFailed
		b.pendingCount--
		b.cancelQueued()
		return err
	}
	return nil
}

// finishSuccess applies an edge's successful completion: re-stat outputs,
// recompute and persist the fingerprint (flushed before dependents may
// see it), then unblock dependents.
func (b *Builder) finishSuccess(e *Edge) error {
	maxUpstream := int64(0)
	for _, in := range e.fingerprintRegion() {
		if in.MTime.Known && !in.MTime.Missing && in.MTime.Stamp > maxUpstream {
			maxUpstream = in.MTime.Stamp
		}
	}

	advanced := false
	for _, out := range e.Outputs {
		out.Statted = false
		if err := b.statIfNeeded(out); err != nil {
			return err
		}
		if out.MTime.Missing {
			return newErr(KindIO, e.Location, "missing expected output after build: %s", out.Path)
		}
		if out.MTime.Stamp > maxUpstream {
			advanced = true
		}
	}
	if e.Restat && !advanced {
		explain("%s: restat - outputs did not advance past upstream inputs", edgeLabel(e))
	}

	fp := computeFingerprint(e)
	extra := e.Inputs[e.ExplicitDeps : e.ExplicitDeps+e.ImplicitDeps]
	extraNames := make([]string, len(extra))
	for i, n := range extra {
		extraNames[i] = n.Path
	}
	if err := b.buildLog.Record(primaryOutputKey(e), fp, extraNames); err != nil {
		return err
	}

	e.state = edgeDone
	b.pendingCount--
	b.notifyDependents(e)
	return nil
}

// completeSync marks a Ready edge Done without ever dispatching it --
// either it was phony (no command) or its fingerprint matched last_hashes
// with all outputs present. Unlike a dispatched edge's completion this
// happens inline, during want-marking or a dependent's notification, so
// it must not touch the results channel.
func (b *Builder) completeSync(e *Edge) {
	e.state = edgeDone
	b.pendingCount--
	b.notifyDependents(e)
}

// notifyDependents decrements each waiting dependent's outstanding-input
// counter, moving those that reach zero to Ready in edge-id order. Dependents
// still in the Want state are skipped: wantNode is mid-recursion over their
// inputs and will count this edge as already finished when it computes their
// counter.
func (b *Builder) notifyDependents(e *Edge) {
	var ready []*Edge
	for _, out := range e.Outputs {
		for _, dep := range out.Outs {
			if dep.state != edgeWaiting {
				continue
			}
			dep.outstandingInputs--
			if dep.outstandingInputs <= 0 {
				ready = append(ready, dep)
			}
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	for _, dep := range ready {
		if dep.state == edgeWaiting {
			b.moveToReady(dep)
		}
	}
}

// cancelQueued implements cooperative cancellation: queued-but-not-yet-
// running edges are dropped (Failed-by-cancel); in-flight edges are left
// alone to run to completion, and Build's loop keeps draining b.results
// until none of them is still running.
func (b *Builder) cancelQueued() {
	if b.cancelled {
		return
	}
	b.cancelled = true
	for _, pq := range b.pools {
		for _, e := range pq.pending {
			e.state = edgeFailedCancel
			b.pendingCount--
		}
		pq.pending = nil
	}
}

// fail marks e Failed after a synchronous stat or mkdir error. Staleness
// cannot be decided without the stat, so the failure is fatal: it is
// surfaced as Build's return value once in-flight edges have drained.
func (b *Builder) fail(e *Edge, err error) {
	e.state = edgeFailed
	b.pendingCount--
	if b.firstFailure == nil {
		b.firstFailure = err
	}
	b.status.Error("%s", err)
	b.cancelQueued()
}

// primaryOutputKey is the persistence log key for an edge: its first
// explicit output's canonical path, stable across runs even though the
// in-memory edge id is not.
func primaryOutputKey(e *Edge) string {
	outs := e.explicitOutputs()
	if len(outs) == 0 {
		if len(e.Outputs) == 0 {
			return ""
		}
		return e.Outputs[0].Path
	}
	return outs[0].Path
}

// computeFingerprint hashes, for each input in the fingerprint region
// (explicit + implicit, order-only excluded), the canonicalized name, the
// encoded mtime word, and a 0x1F separator, followed by the command line
// (empty for a phony edge). The hash is xxhash, a fixed 64-bit
// non-cryptographic stream hash; changing it would invalidate every
// existing persistence log.
func computeFingerprint(e *Edge) uint64 {
	h := xxhash.New()
	var word [8]byte
	for _, in := range e.fingerprintRegion() {
		h.Write([]byte(in.Path))
		putLittleEndian64(word[:], in.MTime.word())
		h.Write(word[:])
		h.Write([]byte{0x1F})
	}
	if !e.IsPhony() {
		h.Write([]byte(e.EvaluateCommand()))
	}
	return h.Sum64()
}

func putLittleEndian64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

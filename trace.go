// Copyright 2021 Google LLC
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
	"os"
	"sync"
	"time"
)

// Trace is the Chrome-catapult-compatible trace sink behind `-d trace`:
// one sink instance injected into the engine, so nothing here is
// process-wide state.
type Trace struct {
	mu      sync.Mutex
	f       *os.File
	start   time.Time
	wrote   bool
	pending map[string]time.Time
}

// NewTrace opens path and writes the leading `[`.
func NewTrace(path string) (*Trace, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, wrapErr(KindIO, "", err)
	}
	if _, err := f.WriteString("["); err != nil {
		f.Close()
		return nil, wrapErr(KindIO, "", err)
	}
	return &Trace{f: f, start: time.Now(), pending: map[string]time.Time{}}, nil
}

// begin records the start of a named scope (one edge's execution).
func (t *Trace) begin(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[name] = time.Now()
}

// end emits a completed ("X", duration) event for name:
// {pid, name, ts, tid, ph, dur}.
func (t *Trace) end(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.pending[name]
	if !ok {
		return
	}
	delete(t.pending, name)
	now := time.Now()
	ts := started.Sub(t.start).Microseconds()
	dur := now.Sub(started).Microseconds()

	if t.wrote {
		t.f.WriteString(",")
	}
	t.wrote = true
	fmt.Fprintf(t.f, "{\"pid\":1,\"tid\":1,\"ph\":\"X\",\"name\":%q,\"ts\":%d,\"dur\":%d}", name, ts, dur)
}

// Close writes the closing `]` and closes the file.
func (t *Trace) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	t.f.WriteString("]")
	err := t.f.Close()
	t.f = nil
	return err
}

// SetTrace attaches a trace sink so every dispatched edge emits a begin/
// end event pair.
func (b *Builder) SetTrace(t *Trace) {
	b.trace = t
}

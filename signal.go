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
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// interrupted is a single-writer, many-reader atomic flag: set once from
// the goroutine watching SIGINT, read by the engine's dispatch loop
// between edge completions. A second signal terminates the process
// immediately rather than waiting for in-flight edges to drain.
var interrupted int32

// Interrupted reports whether the first interrupt signal has arrived.
func Interrupted() bool {
	return atomic.LoadInt32(&interrupted) != 0
}

// WatchInterrupts installs the SIGINT/SIGTERM handler: the first signal
// sets the flag so the running engine can stop dispatching new edges and
// drain in-flight ones; a second signal exits the process immediately.
func WatchInterrupts() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		atomic.StoreInt32(&interrupted, 1)
		<-ch
		os.Exit(130)
	}()
}

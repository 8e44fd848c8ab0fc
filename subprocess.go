// Copyright 2012 Google Inc. All Rights Reserved.
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
	"bytes"
	"context"
)

// commandResult is what a single edge's command produced: its combined
// stdout+stderr (piped together so output ordering matches what a user
// would see in a terminal) and whether it exited zero.
type commandResult struct {
	output  string
	success bool
}

// runCommand runs command through the posix shell (see createCmd in
// subprocess_posix.go) and blocks until it exits or ctx is canceled.
//
// A canceled context kills the shell process exec.CommandContext started
// (other members of its process group are not signalled) and returns
// ctx.Err(). The work engine does not cancel the context when an edge
// fails: in-flight commands run to completion.
func runCommand(ctx context.Context, command string, useConsole bool) (commandResult, error) {
	cmd := createCmd(ctx, command, useConsole)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		return commandResult{}, err
	}
	err := cmd.Wait()
	if ctx.Err() != nil {
		return commandResult{output: buf.String(), success: false}, ctx.Err()
	}
	return commandResult{output: buf.String(), success: err == nil}, nil
}

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

// Kind classifies the errors this engine can surface, matching the
// propagation policy: parse/graph errors are fatal at load time, command
// and depfile failures only fail the owning edge, log corruption is
// recoverable by truncation at the tail and fatal elsewhere.
type Kind int

const (
	// KindParse is a build-file syntax or semantic error.
	KindParse Kind = iota
	// KindGraph is a cycle, double-producer, or unknown reference.
	KindGraph
	// KindIO is a stat/read/write/spawn failure.
	KindIO
	// KindCommand is a non-zero subprocess exit.
	KindCommand
	// KindDepfile is a malformed depfile.
	KindDepfile
	// KindLogCorruption is an unrecoverable persistence log.
	KindLogCorruption
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindGraph:
		return "graph error"
	case KindIO:
		return "io error"
	case KindCommand:
		return "command failure"
	case KindDepfile:
		return "depfile error"
	case KindLogCorruption:
		return "log corruption"
	}
	return "error"
}

// EngineError carries a Kind plus, when known, the source location of the
// offending edge (file:line), so user-visible failures can print it
// alongside the full command line and captured output.
type EngineError struct {
	Kind     Kind
	Location string // "file:line", empty when not applicable
	Err      error
}

func (e *EngineError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s: %s: %s", e.Location, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// newErr wraps msg with a stack-annotated error of the given kind.
func newErr(kind Kind, location, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Location: location, Err: errors.Errorf(format, args...)}
}

// wrapErr annotates an existing error with a Kind and location, preserving
// its stack via pkg/errors. Returns an untyped nil for a nil err so the
// result can be returned directly from functions with an error result.
func wrapErr(kind Kind, location string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Kind: kind, Location: location, Err: errors.WithStack(err)}
}

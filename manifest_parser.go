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

// FileReader reads an included or subninja'd file's raw bytes, given its
// path. The core engine never touches the filesystem to load the build
// graph itself; it only requires this narrow collaborator. The parser
// appends its own NUL scan sentinel, so implementations return the file
// contents untouched.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// ParseManifestOpts controls the leniency of a manifest parse.
type ParseManifestOpts struct {
	// ErrOnDupeEdge turns a second producer for the same output into a
	// ParseError instead of a warning (ninja's "-w dupbuild=err").
	ErrOnDupeEdge bool
	// ErrOnPhonyCycle turns a phony edge naming itself as an input into a
	// ParseError instead of a silently-filtered warning.
	ErrOnPhonyCycle bool
	// Quiet suppresses the warnings above entirely.
	Quiet bool
}

// subninja carries the result of asynchronously reading a subninja file, so
// the file I/O can overlap with parsing the remainder of the including
// file.
type subninja struct {
	filename string
	input    []byte
	ls       lexerState
	err      error
}

// readSubninjaAsync reads filename via fr and reports the result on out;
// it never parses -- the parse happens back on the owning manifestParser's
// goroutine once the current file finishes.
func readSubninjaAsync(fr FileReader, filename string, out chan<- subninja, ls lexerState) {
	input, err := fr.ReadFile(filename)
	out <- subninja{filename: filename, input: input, ls: ls, err: err}
}

// ParseManifest parses a build-description file's raw bytes into state,
// starting at state's root bindings scope.
func ParseManifest(state *State, fr FileReader, opts ParseManifestOpts, filename string, input []byte) error {
	m := &manifestParserSerial{
		fr:      fr,
		options: opts,
		state:   state,
		env:     state.Bindings,
	}
	return m.parse(filename, append(input, 0))
}

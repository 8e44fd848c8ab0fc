// Copyright 2016 Google Inc. All Rights Reserved.
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
	"strconv"
	"sync"

	"github.com/fatih/color"
)

// Status reports build progress as edges start and finish. The engine calls
// every method, Warn and Error included, from the goroutine running Build;
// the goroutines that run commands never call it.
type Status interface {
	EdgeStarted(edge *Edge)
	EdgeFinished(edge *Edge, success bool, output string)
	BuildStarted(totalEdges int)
	BuildFinished()

	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// StatusPrinter prints a running "[%f/%t]" progress line plus, for each
// failing edge, a FAILED line with its command and captured output, in the spirit of $NINJA_STATUS but built on fatih/color so
// failures stand out on a real terminal and degrade to plain text otherwise.
type StatusPrinter struct {
	mu sync.Mutex

	format string

	startedEdges  int
	finishedEdges int
	totalEdges    int

	failed  *color.Color
	warning *color.Color
}

// NewStatusPrinter returns a StatusPrinter honoring $NINJA_STATUS if set,
// defaulting to "[%f/%t] " otherwise.
func NewStatusPrinter() *StatusPrinter {
	format := os.Getenv("NINJA_STATUS")
	if format == "" {
		format = "[%f/%t] "
	}
	return &StatusPrinter{
		format:  format,
		failed:  color.New(color.FgRed, color.Bold),
		warning: color.New(color.FgYellow),
	}
}

func (s *StatusPrinter) BuildStarted(totalEdges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedEdges = 0
	s.finishedEdges = 0
	s.totalEdges = totalEdges
}

func (s *StatusPrinter) BuildFinished() {
	fmt.Println()
}

func (s *StatusPrinter) EdgeStarted(edge *Edge) {
	s.mu.Lock()
	s.startedEdges++
	line := s.progressLine() + s.describe(edge)
	s.mu.Unlock()
	fmt.Print("\r\x1b[K" + line)
}

func (s *StatusPrinter) EdgeFinished(edge *Edge, success bool, output string) {
	s.mu.Lock()
	s.finishedEdges++
	line := s.progressLine() + s.describe(edge)
	s.mu.Unlock()

	if success {
		fmt.Print("\r\x1b[K" + line)
		return
	}
	fmt.Println()
	outs := ""
	for i, o := range edge.explicitOutputs() {
		if i > 0 {
			outs += " "
		}
		outs += o.Path
	}
	s.failed.Printf("FAILED: %s\n", outs)
	fmt.Println(edge.EvaluateCommand())
	if output != "" {
		fmt.Println(output)
	}
}

func (s *StatusPrinter) Warn(format string, args ...interface{}) {
	s.warning.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}

func (s *StatusPrinter) Error(format string, args ...interface{}) {
	s.failed.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

func (s *StatusPrinter) describe(edge *Edge) string {
	if d := edge.GetBinding("description"); d != "" {
		return d
	}
	return edge.EvaluateCommand()
}

// progressLine expands the status format. The commonly used $NINJA_STATUS
// placeholders are supported: %s started, %t total, %r running,
// %u unstarted, %f finished, %p percentage, %%.
func (s *StatusPrinter) progressLine() string {
	out := make([]byte, 0, len(s.format)+8)
	for i := 0; i < len(s.format); i++ {
		c := s.format[i]
		if c != '%' || i == len(s.format)-1 {
			out = append(out, c)
			continue
		}
		i++
		switch s.format[i] {
		case '%':
			out = append(out, '%')
		case 's':
			out = append(out, strconv.Itoa(s.startedEdges)...)
		case 't':
			out = append(out, strconv.Itoa(s.totalEdges)...)
		case 'r':
			out = append(out, strconv.Itoa(s.startedEdges-s.finishedEdges)...)
		case 'u':
			out = append(out, strconv.Itoa(s.totalEdges-s.startedEdges)...)
		case 'f':
			out = append(out, strconv.Itoa(s.finishedEdges)...)
		case 'p':
			pct := 0
			if s.totalEdges > 0 {
				pct = 100 * s.finishedEdges / s.totalEdges
			}
			out = append(out, fmt.Sprintf("%3d%%", pct)...)
		default:
			out = append(out, '%', s.format[i])
		}
	}
	return string(out)
}

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
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// metric accumulates the count and total duration of every call recorded
// under a given name.
type metric struct {
	count int
	sum   time.Duration
}

var (
	metricsMu      sync.Mutex
	metricsByName  = map[string]*metric{}
	metricsEnabled = false
)

// EnableMetrics turns on metric collection, off by default since wrapping a
// stopwatch around every hot-path call is wasted work when nobody reads the
// report.
func EnableMetrics(enabled bool) {
	metricsMu.Lock()
	metricsEnabled = enabled
	metricsMu.Unlock()
}

// metricRecord starts timing name and returns a function that stops the
// timer and records the sample. Used as `defer metricRecord("foo")()` at
// the top of a function.
func metricRecord(name string) func() {
	if !metricsEnabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		dt := time.Since(start)
		metricsMu.Lock()
		m := metricsByName[name]
		if m == nil {
			m = &metric{}
			metricsByName[name] = m
		}
		m.count++
		m.sum += dt
		metricsMu.Unlock()
	}
}

// ReportMetrics logs a summary of every recorded metric, sorted by name for
// stable output.
func ReportMetrics() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if len(metricsByName) == 0 {
		return
	}
	names := make([]string, 0, len(metricsByName))
	for name := range metricsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := metricsByName[name]
		avg := m.sum / time.Duration(m.count)
		logrus.WithFields(logrus.Fields{
			"count": m.count,
			"avg":   avg,
			"total": m.sum,
		}).Infof("metric %s", name)
	}
}

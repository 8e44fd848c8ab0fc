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

import "github.com/sirupsen/logrus"

// explaining, toggled by the -d explain flag, turns on the "why is this
// edge dirty" trace the work engine emits as it walks the graph.
var explaining = false

// EnableExplanations turns the explain trace on or off. The trace is
// emitted at debug level, so turning it on also lowers the log threshold.
func EnableExplanations(enabled bool) {
	explaining = enabled
	if enabled {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// explain logs a dirtiness explanation if -d explain is active.
func explain(f string, args ...interface{}) {
	if explaining {
		logrus.Debugf(f, args...)
	}
}

// warningf logs a non-fatal parse or graph warning.
func warningf(f string, args ...interface{}) {
	logrus.Warnf(f, args...)
}

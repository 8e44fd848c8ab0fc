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
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DiskInterface is the engine's contact with the filesystem: stat for
// staleness decisions, depfile reads, and parent directory creation before
// a command runs. The persistence logs open their files with the os package
// directly, not through this interface. Abstracted so tests can
// substitute an in-memory fake instead of touching a real filesystem.
type DiskInterface interface {
	// Stat returns the modification time of path; for a path that does not
	// exist it returns a Known MTime with Missing set, and a nil error.
	Stat(path string) (MTime, error)
	WriteFile(path, contents string) error
	MakeDir(path string) error
	// MakeDirs creates every parent directory of path, the way the engine
	// prepares an edge's output directory before dispatching its command
	// (`build subdir/out: ...` must not require subdir to already exist).
	MakeDirs(path string) error
	ReadFile(path string) ([]byte, error)
	RemoveFile(path string) error
}

// RealDiskInterface is the DiskInterface that actually hits the disk.
type RealDiskInterface struct{}

// Stat calls os.Stat and translates its result into an MTime. A missing
// file is not an error at stat time; it surfaces as MTime.Missing.
func (RealDiskInterface) Stat(path string) (MTime, error) {
	defer metricRecord("node stat")()
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return MTime{Known: true, Missing: true}, nil
		}
		return MTime{}, errors.Wrapf(err, "stat(%s)", path)
	}
	return MTime{Known: true, Stamp: fi.ModTime().Unix()}, nil
}

// MakeDirs creates every parent directory of path, like `mkdir -p
// $(dirname path)`.
func (r RealDiskInterface) MakeDirs(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "/" {
		return nil
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		return errors.Wrapf(err, "mkdir(%s)", dir)
	}
	return nil
}

// MakeDir creates a single directory, succeeding if it already exists.
func (RealDiskInterface) MakeDir(path string) error {
	if err := os.Mkdir(path, 0777); err != nil && !os.IsExist(err) {
		return errors.Wrapf(err, "mkdir(%s)", path)
	}
	return nil
}

// WriteFile writes contents to path, truncating any existing file.
func (RealDiskInterface) WriteFile(path, contents string) error {
	if err := os.WriteFile(path, []byte(contents), 0666); err != nil {
		return errors.Wrapf(err, "WriteFile(%s)", path)
	}
	return nil
}

// ReadFile reads the full contents of path. A missing file is reported as
// a plain *PathError so callers can distinguish it from other I/O errors
// with os.IsNotExist.
func (RealDiskInterface) ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RemoveFile removes path, succeeding (as a no-op) if it does not exist.
func (RealDiskInterface) RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove(%s)", path)
	}
	return nil
}

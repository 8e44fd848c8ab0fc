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
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DepsLogFileName is the sibling file `deps =`-annotated edges persist
// their discovered implicit inputs to, so a depfile can be deleted after
// its one use without losing the dependency information on the next run.
const DepsLogFileName = ".n2_deps"

const depsLogMagic = "# n2deps\n"

// DepsLog is a small append-only log, structurally identical to BuildLog,
// mapping an edge's primary output to the list of implicit input paths
// discovered the last time its depfile was actually read.
type DepsLog struct {
	mu      sync.Mutex
	f       *os.File
	entries map[string][]string
}

// NewDepsLog returns an unopened DepsLog; call Open before using it.
func NewDepsLog() DepsLog {
	return DepsLog{entries: map[string][]string{}}
}

// Open loads path (if present) and reopens it for appending, truncating a
// corrupt tail exactly like BuildLog.Open.
func (d *DepsLog) Open(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = map[string][]string{}

	validLen, err := d.replay(path)
	if err != nil {
		return wrapErr(KindLogCorruption, "", err)
	}
	if err := truncateLogTo(path, validLen); err != nil {
		return wrapErr(KindLogCorruption, "", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0666)
	if err != nil {
		return wrapErr(KindIO, "", err)
	}
	if validLen == 0 {
		if _, err := f.WriteString(depsLogMagic); err != nil {
			f.Close()
			return wrapErr(KindIO, "", err)
		}
	}
	d.f = f
	return nil
}

func (d *DepsLog) replay(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(depsLogMagic))
	n, _ := io.ReadFull(r, magic)
	if n < len(depsLogMagic) || string(magic) != depsLogMagic {
		if n == 0 {
			return 0, nil
		}
		return 0, errors.New("deps log: bad magic")
	}

	validLen := int64(len(depsLogMagic))
	for {
		key, deps, recLen, err := readDepsFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			logrus.Warnf("deps log: truncating corrupt tail at offset %d: %v", validLen, err)
			break
		}
		d.entries[key] = deps
		validLen += recLen
	}
	return validLen, nil
}

func readDepsFrame(r *bufio.Reader) (string, []string, int64, error) {
	var buf []byte
	readUint32 := func() (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		buf = append(buf, b[:]...)
		return binary.LittleEndian.Uint32(b[:]), nil
	}
	readBytes := func(n uint32) ([]byte, error) {
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		buf = append(buf, b...)
		return b, nil
	}

	keyLen, err := readUint32()
	if err != nil {
		return "", nil, 0, err
	}
	keyBytes, err := readBytes(keyLen)
	if err != nil {
		return "", nil, 0, err
	}
	numDeps, err := readUint32()
	if err != nil {
		return "", nil, 0, err
	}
	deps := make([]string, 0, numDeps)
	for i := uint32(0); i < numDeps; i++ {
		l, err := readUint32()
		if err != nil {
			return "", nil, 0, err
		}
		db, err := readBytes(l)
		if err != nil {
			return "", nil, 0, err
		}
		deps = append(deps, string(db))
	}

	var checksumBuf [8]byte
	if _, err := io.ReadFull(r, checksumBuf[:]); err != nil {
		return "", nil, 0, err
	}
	want := binary.LittleEndian.Uint64(checksumBuf[:])
	if xxhash.Sum64(buf) != want {
		return "", nil, 0, errors.New("checksum mismatch")
	}
	return string(keyBytes), deps, int64(len(buf) + 8), nil
}

// Lookup returns the deps previously recorded for key, if any.
func (d *DepsLog) Lookup(key string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	deps, ok := d.entries[key]
	return deps, ok
}

// Record appends a fresh deps list for key, replacing any prior record in
// memory (the log itself is append-only; Lookup always returns the last
// one seen during replay).
func (d *DepsLog) Record(key string, deps []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = deps

	var buf []byte
	appendUint32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	appendUint32(uint32(len(key)))
	buf = append(buf, key...)
	appendUint32(uint32(len(deps)))
	for _, p := range deps {
		appendUint32(uint32(len(p)))
		buf = append(buf, p...)
	}
	checksum := xxhash.Sum64(buf)
	var cb [8]byte
	binary.LittleEndian.PutUint64(cb[:], checksum)
	buf = append(buf, cb[:]...)

	if d.f == nil {
		return errors.New("deps log not open")
	}
	if _, err := d.f.Write(buf); err != nil {
		return wrapErr(KindIO, "", err)
	}
	return wrapErr(KindIO, "", d.f.Sync())
}

// Close flushes and closes the underlying file handle, if open.
func (d *DepsLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// truncateLogTo is shared between BuildLog and DepsLog recovery.
func truncateLogTo(path string, validLen int64) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.Size() == validLen {
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(validLen)
}

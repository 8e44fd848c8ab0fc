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
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BuildLogFileName is the fixed name of the log file, a sibling of the
// build-description file.
const BuildLogFileName = ".n2_db"

const buildLogMagic = "# n2db\n"

// fingerprintRecord is the persisted state for one edge: the canonical
// per-edge fingerprint, plus the implicit inputs a depfile merge appended
// to the edge the record was written for, so a later run can reconstruct
// the exact input set the fingerprint was computed over without
// re-running the depfile parser.
type fingerprintRecord struct {
	Fingerprint uint64
	ExtraInputs []string
}

// BuildLog is the append-only persistence log: an on-disk record of
// (edge, fingerprint) pairs, replayed at startup into an in-memory map
// and appended to after every edge that finishes successfully. Edges are
// identified by their primary (first explicit) output path rather than
// their in-memory id, since ids are only stable within a single run.
type BuildLog struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	entries map[string]*fingerprintRecord
}

// NewBuildLog returns an unopened BuildLog; call Open before using it.
func NewBuildLog() BuildLog {
	return BuildLog{entries: map[string]*fingerprintRecord{}}
}

// Open loads path (if it exists), replaying every well-formed record into
// the in-memory map, then reopens it for appending. A corrupt tail --
// typically the result of a crash mid-write -- is truncated and a warning
// logged; corruption anywhere else is fatal.
func (b *BuildLog) Open(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.path = path
	b.entries = map[string]*fingerprintRecord{}

	validLen, err := b.replay(path)
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
		if _, err := f.WriteString(buildLogMagic); err != nil {
			f.Close()
			return wrapErr(KindIO, "", err)
		}
	}
	b.f = f
	return nil
}

// replay reads every frame in path, updating b.entries as it goes, and
// returns the byte offset of the last well-formed record (the point the
// file should be truncated to if a later record is corrupt).
func (b *BuildLog) replay(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(buildLogMagic))
	n, _ := io.ReadFull(r, magic)
	if n < len(buildLogMagic) || string(magic) != buildLogMagic {
		// An empty file is treated as an absent log; any other file without
		// the magic header is reported as an error rather than discarded.
		if n == 0 {
			return 0, nil
		}
		return 0, errors.New("build log: bad magic")
	}

	validLen := int64(len(buildLogMagic))
	for {
		rec, recLen, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			logrus.Warnf("build log: truncating corrupt tail at offset %d: %v", validLen, err)
			break
		}
		b.entries[rec.key] = &fingerprintRecord{Fingerprint: rec.fingerprint, ExtraInputs: rec.extraInputs}
		validLen += recLen
	}
	return validLen, nil
}

type logFrame struct {
	key         string
	fingerprint uint64
	extraInputs []string
}

// readFrame decodes one record: [u32 keyLen][key][u64 fingerprint]
// [u32 numExtra][u32 len + bytes]*numExtra][u64 xxhash of the preceding
// bytes]. Any short read or checksum mismatch is reported as an error so
// the caller can truncate there.
func readFrame(r *bufio.Reader) (logFrame, int64, error) {
	var buf []byte

	readUint32 := func() (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		buf = append(buf, b[:]...)
		return binary.LittleEndian.Uint32(b[:]), nil
	}
	readUint64 := func() (uint64, error) {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		buf = append(buf, b[:]...)
		return binary.LittleEndian.Uint64(b[:]), nil
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
		return logFrame{}, 0, err
	}
	keyBytes, err := readBytes(keyLen)
	if err != nil {
		return logFrame{}, 0, err
	}
	fingerprint, err := readUint64()
	if err != nil {
		return logFrame{}, 0, err
	}
	numExtra, err := readUint32()
	if err != nil {
		return logFrame{}, 0, err
	}
	extras := make([]string, 0, numExtra)
	for i := uint32(0); i < numExtra; i++ {
		l, err := readUint32()
		if err != nil {
			return logFrame{}, 0, err
		}
		eb, err := readBytes(l)
		if err != nil {
			return logFrame{}, 0, err
		}
		extras = append(extras, string(eb))
	}

	wantChecksum, err := func() (uint64, error) {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	}()
	if err != nil {
		return logFrame{}, 0, err
	}
	if xxhash.Sum64(buf) != wantChecksum {
		return logFrame{}, 0, errors.New("checksum mismatch")
	}

	return logFrame{key: string(keyBytes), fingerprint: fingerprint, extraInputs: extras}, int64(len(buf) + 8), nil
}

// Lookup returns the previously persisted fingerprint for key and whether
// one exists -- the prior run's committed view of the edge.
func (b *BuildLog) Lookup(key string) (fingerprintRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.entries[key]; ok {
		return *r, true
	}
	return fingerprintRecord{}, false
}

// Record appends a new (key, fingerprint) frame and flushes it to disk
// before returning, so a dependent edge only observes readiness after the
// log write for its upstream edge durably completed.
func (b *BuildLog) Record(key string, fingerprint uint64, extraInputs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = &fingerprintRecord{Fingerprint: fingerprint, ExtraInputs: append([]string(nil), extraInputs...)}

	var buf []byte
	appendUint32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	appendUint64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}

	appendUint32(uint32(len(key)))
	buf = append(buf, key...)
	appendUint64(fingerprint)
	appendUint32(uint32(len(extraInputs)))
	for _, e := range extraInputs {
		appendUint32(uint32(len(e)))
		buf = append(buf, e...)
	}

	checksum := xxhash.Sum64(buf)
	appendUint64Slice := make([]byte, 8)
	binary.LittleEndian.PutUint64(appendUint64Slice, checksum)
	buf = append(buf, appendUint64Slice...)

	if b.f == nil {
		return errors.New("build log not open")
	}
	if _, err := b.f.Write(buf); err != nil {
		return wrapErr(KindIO, "", err)
	}
	return wrapErr(KindIO, "", b.f.Sync())
}

// Close flushes and closes the underlying file handle, if open.
func (b *BuildLog) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

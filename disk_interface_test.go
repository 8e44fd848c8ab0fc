package n2

import (
	"os"
	"path"
	"sync"
)

// fakeDisk is an in-memory DiskInterface: a map of path to (mtime,
// contents) plus a logical clock so tests can express "this file is newer
// than that one" without sleeping.
type fakeDisk struct {
	mu    sync.Mutex
	now   int64
	files map[string]*fakeFile
	dirs  map[string]bool
}

type fakeFile struct {
	mtime    int64
	contents string
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{now: 1, files: map[string]*fakeFile{}, dirs: map[string]bool{}}
}

// tick advances the logical clock, so a subsequent Create/WriteFile sorts
// after anything written before this call.
func (d *fakeDisk) tick() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now++
	return d.now
}

// create sets path's contents and mtime to the current tick, as if a test
// setup step (not the engine) produced it.
func (d *fakeDisk) create(path, contents string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[path] = &fakeFile{mtime: d.now, contents: contents}
}

func (d *fakeDisk) Stat(p string) (MTime, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[p]
	if !ok {
		return MTime{Known: true, Missing: true}, nil
	}
	return MTime{Known: true, Stamp: f.mtime}, nil
}

func (d *fakeDisk) WriteFile(p, contents string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now++
	d.files[p] = &fakeFile{mtime: d.now, contents: contents}
	return nil
}

func (d *fakeDisk) MakeDir(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirs[p] = true
	return nil
}

func (d *fakeDisk) MakeDirs(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir := path.Dir(p)
	for dir != "." && dir != "/" {
		d.dirs[dir] = true
		dir = path.Dir(dir)
	}
	return nil
}

// ReadFile returns a real *os.PathError wrapping os.ErrNotExist for a
// missing path so callers relying on os.IsNotExist --
// mergeDepfile's "no depfile was produced" branch -- see the same outcome
// they would against a real filesystem.
func (d *fakeDisk) ReadFile(p string) ([]byte, error) {
	d.mu.Lock()
	f, ok := d.files[p]
	d.mu.Unlock()
	if !ok {
		return nil, &os.PathError{Op: "open", Path: p, Err: os.ErrNotExist}
	}
	return []byte(f.contents), nil
}

func (d *fakeDisk) RemoveFile(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, p)
	return nil
}

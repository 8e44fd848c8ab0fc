package n2

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLog_RecordThenLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".n2_db")

	bl := NewBuildLog()
	require.NoError(t, bl.Open(path))
	require.NoError(t, bl.Record("out", 0xdeadbeef, []string{"a.h", "b.h"}))

	rec, ok := bl.Lookup("out")
	require.True(t, ok)
	assert.EqualValues(t, 0xdeadbeef, rec.Fingerprint)
	assert.Equal(t, []string{"a.h", "b.h"}, rec.ExtraInputs)
	require.NoError(t, bl.Close())
}

// TestBuildLog_SurvivesReopen exercises the replay path: a record written
// by one BuildLog instance must be visible to a fresh one opened against
// the same path, the way two successive n2 invocations share the file.
func TestBuildLog_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".n2_db")

	bl := NewBuildLog()
	require.NoError(t, bl.Open(path))
	require.NoError(t, bl.Record("out1", 111, nil))
	require.NoError(t, bl.Record("out2", 222, []string{"x"}))
	require.NoError(t, bl.Close())

	bl2 := NewBuildLog()
	require.NoError(t, bl2.Open(path))
	defer bl2.Close()

	rec1, ok := bl2.Lookup("out1")
	require.True(t, ok)
	assert.EqualValues(t, 111, rec1.Fingerprint)

	rec2, ok := bl2.Lookup("out2")
	require.True(t, ok)
	assert.EqualValues(t, 222, rec2.Fingerprint)
	assert.Equal(t, []string{"x"}, rec2.ExtraInputs)
}

// TestBuildLog_TruncatesCorruptTail exercises the corruption recovery
// rule: a well-formed record followed by garbage bytes must be replayed
// up to the last good record, with the corrupt tail discarded rather
// than the whole log being rejected.
func TestBuildLog_TruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".n2_db")

	bl := NewBuildLog()
	require.NoError(t, bl.Open(path))
	require.NoError(t, bl.Record("good", 42, nil))
	require.NoError(t, bl.Close())

	// Append garbage that looks like the start of another frame but is
	// truncated mid-record, simulating a crash during a write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0666)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x05, 0x00, 0x00, 0x00, 'b', 'r', 'o'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fiBefore, err := os.Stat(path)
	require.NoError(t, err)

	bl2 := NewBuildLog()
	require.NoError(t, bl2.Open(path))
	defer bl2.Close()

	rec, ok := bl2.Lookup("good")
	require.True(t, ok, "the well-formed record before the corruption must survive")
	assert.EqualValues(t, 42, rec.Fingerprint)

	_, ok = bl2.Lookup("bro")
	assert.False(t, ok, "the truncated trailing frame must not be replayed")

	fiAfter, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, fiAfter.Size(), fiBefore.Size(), "the corrupt tail must be truncated on disk")
}

func TestBuildLog_MissingKeyLookupMiss(t *testing.T) {
	dir := t.TempDir()
	bl := NewBuildLog()
	require.NoError(t, bl.Open(filepath.Join(dir, ".n2_db")))
	defer bl.Close()

	_, ok := bl.Lookup("never-written")
	assert.False(t, ok)
}

package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lassejlv/fedis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	entries []store.SnapshotEntry
	block   chan struct{}
}

func (f fakeSource) Snapshot() []store.SnapshotEntry {
	if f.block != nil {
		<-f.block
	}
	return f.entries
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.fedis")
	e := NewEngine(path, 0)

	src := fakeSource{entries: []store.SnapshotEntry{
		{Key: "a", Value: store.StringValue([]byte("1"))},
		{Key: "b", Value: store.JSONValue(map[string]interface{}{"x": float64(1)}, []byte(`{"x":1}`)), ExpiresAt: 99999},
	}}

	require.NoError(t, e.Save(src))
	assert.NotZero(t, e.LastSave())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "a", loaded[0].Key)
	assert.Equal(t, store.KindString, loaded[0].Value.Kind)
	assert.Equal(t, []byte("1"), loaded[0].Value.Str)

	assert.Equal(t, "b", loaded[1].Key)
	assert.Equal(t, store.KindJSON, loaded[1].Value.Kind)
	assert.Equal(t, int64(99999), loaded[1].ExpiresAt)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, loaded[1].Value.JSON)
}

func TestLoadMissingFileReturnsNotExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.fedis"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.fedis")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot file"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadRejectsTruncatedEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.fedis")
	e := NewEngine(path, 0)
	require.NoError(t, e.Save(fakeSource{entries: []store.SnapshotEntry{
		{Key: "a", Value: store.StringValue([]byte("1"))},
	}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-2], 0o644))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.fedis")
	e := NewEngine(path, 0)
	require.NoError(t, e.Save(fakeSource{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(magic)] = currentVer + 1
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestBGSaveRejectsConcurrentSave(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(filepath.Join(dir, "dump.fedis"), 0)

	block := make(chan struct{})
	require.NoError(t, e.BGSave(fakeSource{block: block}))
	err := e.BGSave(fakeSource{})
	assert.ErrorIs(t, err, ErrSaveInProgress)

	close(block)
	require.Eventually(t, func() bool { return e.LastSave() != 0 }, time.Second, 5*time.Millisecond)
}

func TestRunIntervalTriggerSkipsWhenNotDirty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.fedis")
	e := NewEngine(path, 0)
	e.intervalSec = 1

	stop := make(chan struct{})
	go e.RunIntervalTrigger(stop, fakeSource{})

	// Wait past one full interval so at least one tick fires while clean.
	time.Sleep(1500 * time.Millisecond)
	close(stop)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunIntervalTriggerSavesWhenDirty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.fedis")
	e := NewEngine(path, 0)
	e.intervalSec = 1
	e.MarkDirty()

	stop := make(chan struct{})
	defer close(stop)
	go e.RunIntervalTrigger(stop, fakeSource{})

	require.Eventually(t, func() bool { return e.LastSave() != 0 }, 2*time.Second, 10*time.Millisecond)
}

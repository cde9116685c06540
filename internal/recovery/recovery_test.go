package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lassejlv/fedis/internal/aof"
	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/snapshot"
	"github.com/lassejlv/fedis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	calls [][][]byte
}

func (a *recordingApplier) ApplyForRecovery(args [][]byte) error {
	a.calls = append(a.calls, args)
	return nil
}

type fixedSource struct{ entries []store.SnapshotEntry }

func (s fixedSource) Snapshot() []store.SnapshotEntry { return s.entries }

func appendRaw(t *testing.T, path string, args ...string) {
	t.Helper()
	bargs := make([][]byte, len(args))
	for i, a := range args {
		bargs[i] = []byte(a)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	raw := resp.AppendFrame(nil, aof.BuildRecordFrame(bargs))
	_, err = f.Write(raw)
	require.NoError(t, err)
}

func TestRecoverNoFilesIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	st := store.New(4, func() int64 { return 1000 })
	applier := &recordingApplier{}

	stats, err := Recover(filepath.Join(dir, "dump.fedis"), filepath.Join(dir, "fedis.aof"), st, applier)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SnapshotKeys)
	assert.Equal(t, 0, stats.ReplayedCmds)
	assert.Empty(t, applier.calls)
}

func TestRecoverReplaysAOFCommandsInOrder(t *testing.T) {
	dir := t.TempDir()
	aofPath := filepath.Join(dir, "fedis.aof")

	appendRaw(t, aofPath, "SET", "a", "1")
	appendRaw(t, aofPath, "SET", "b", "2")

	st := store.New(4, func() int64 { return 1000 })
	applier := &recordingApplier{}

	stats, err := Recover(filepath.Join(dir, "dump.fedis"), aofPath, st, applier)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ReplayedCmds)
	require.Len(t, applier.calls, 2)
	assert.Equal(t, []byte("a"), applier.calls[0][1])
	assert.Equal(t, []byte("b"), applier.calls[1][1])
}

func TestRecoverTruncatedTailIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	aofPath := filepath.Join(dir, "fedis.aof")
	appendRaw(t, aofPath, "SET", "a", "1")

	data, err := os.ReadFile(aofPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(aofPath, append(data, []byte("*2\r\n$3\r\nSET\r\n$1")...), 0o644))

	st := store.New(4, func() int64 { return 1000 })
	applier := &recordingApplier{}

	stats, err := Recover(filepath.Join(dir, "dump.fedis"), aofPath, st, applier)
	require.NoError(t, err)
	assert.True(t, stats.TailTruncated)
	assert.Equal(t, 1, stats.ReplayedCmds)
}

func TestRecoverCorruptMidFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	aofPath := filepath.Join(dir, "fedis.aof")
	require.NoError(t, os.WriteFile(aofPath, []byte("*1\r\n$-5\r\n"), 0o644))

	st := store.New(4, func() int64 { return 1000 })
	applier := &recordingApplier{}

	_, err := Recover(filepath.Join(dir, "dump.fedis"), aofPath, st, applier)
	assert.ErrorIs(t, err, ErrCorruptAOF)
}

func TestRecoverLoadsSnapshotExcludingExpiredKeys(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "dump.fedis")

	eng := snapshot.NewEngine(snapPath, 0)
	require.NoError(t, eng.Save(fixedSource{entries: []store.SnapshotEntry{
		{Key: "live", Value: store.StringValue([]byte("1")), ExpiresAt: 9000},
		{Key: "expired", Value: store.StringValue([]byte("2")), ExpiresAt: 1000},
	}}))

	st := store.New(4, func() int64 { return 5000 })
	applier := &recordingApplier{}
	stats, err := Recover(snapPath, filepath.Join(dir, "fedis.aof"), st, applier)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.SnapshotKeys)

	_, liveOK := st.Get("live")
	assert.True(t, liveOK)
	_, expiredOK := st.Get("expired")
	assert.False(t, expiredOK)
}

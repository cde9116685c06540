package aof

import (
	"os"
	"strconv"

	"github.com/lassejlv/fedis/internal/logging"
	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/store"
)

// SnapshotEntrySource is the subset of store.Store needed to drive a
// rewrite, kept narrow so this package doesn't need to import the full
// store API surface for anything else.
type SnapshotEntrySource interface {
	Snapshot() []store.SnapshotEntry
}

// BeginRewrite starts a background BGREWRITEAOF against src. It returns
// ErrRewriteInProgress immediately if a rewrite is already running;
// otherwise it returns nil right away and the rewrite proceeds
// asynchronously, logging its own completion or failure.
func (w *Writer) BeginRewrite(src SnapshotEntrySource) error {
	if !w.rewriting.CompareAndSwap(false, true) {
		return ErrRewriteInProgress
	}
	go w.doRewrite(src)
	return nil
}

// Rewriting reports whether a rewrite is currently in flight.
func (w *Writer) Rewriting() bool { return w.rewriting.Load() }

func (w *Writer) doRewrite(src SnapshotEntrySource) {
	defer w.rewriting.Store(false)

	start := make(chan struct{})
	w.queue <- queueEntry{rewriteStart: start}
	<-start

	snap := src.Snapshot()
	tmpPath := w.path + ".rewrite"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		logging.Errorf("aof: rewrite: creating %s: %v", tmpPath, err)
		w.abortRewrite()
		return
	}
	for _, e := range snap {
		args := setCommandArgs(e)
		if _, err := tmpFile.Write(resp.AppendFrame(nil, BuildRecordFrame(args))); err != nil {
			logging.Errorf("aof: rewrite: writing %s: %v", tmpPath, err)
			tmpFile.Close()
			os.Remove(tmpPath)
			w.abortRewrite()
			return
		}
	}
	if err := tmpFile.Close(); err != nil {
		logging.Errorf("aof: rewrite: closing %s: %v", tmpPath, err)
		w.abortRewrite()
		return
	}

	finish := make(chan error, 1)
	w.queue <- queueEntry{rewriteFinish: &rewriteFinish{tmpPath: tmpPath, result: finish}}
	if err := <-finish; err != nil {
		logging.Errorf("aof: rewrite: finishing: %v", err)
		return
	}
	logging.Infof("aof: rewrite complete, %d keys", len(snap))
}

// abortRewrite cancels an in-flight rewrite's side-buffering when the
// snapshot-writing phase fails before reaching finishRewrite.
func (w *Writer) abortRewrite() {
	result := make(chan error, 1)
	w.queue <- queueEntry{rewriteFinish: &rewriteFinish{tmpPath: "", result: result}}
	<-result
}

// finishRewrite runs on the Writer's own goroutine (invoked from
// handleEntry): it appends the buffered side log onto the rewrite file,
// atomically replaces the live AOF, and swaps the writer's file handle.
func (w *Writer) finishRewrite(tmpPath string) error {
	defer func() { w.sideBuf = nil }()

	if tmpPath == "" {
		// Abort path: nothing to finish, just drop the side buffer.
		return nil
	}

	tmpFile, err := os.OpenFile(tmpPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if w.sideBuf != nil && w.sideBuf.Len() > 0 {
		if _, err := tmpFile.Write(w.sideBuf.Bytes()); err != nil {
			tmpFile.Close()
			return err
		}
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}
	newHandle, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	old := w.file
	w.file = newHandle
	return old.Close()
}

// setCommandArgs builds the minimal replay-safe form of one snapshot
// entry for a rewrite file: "SET k v [PXAT t]" for strings, or
// "JSON.SET k $ <doc> [PXAT t]" for the root-path JSON variant.
func setCommandArgs(e store.SnapshotEntry) [][]byte {
	var args [][]byte
	switch e.Value.Kind {
	case store.KindJSON:
		args = [][]byte{[]byte("JSON.SET"), []byte(e.Key), []byte("$"), e.Value.Str}
	default:
		args = [][]byte{[]byte("SET"), []byte(e.Key), e.Value.Str}
	}
	if e.ExpiresAt != 0 {
		args = append(args, []byte("PXAT"), []byte(strconv.FormatInt(e.ExpiresAt, 10)))
	}
	return args
}

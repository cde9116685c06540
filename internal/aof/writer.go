// Package aof implements the append-only log writer: batched/always-fsync
// writes, bounded backpressure, and background rewrite without blocking
// live writers (spec §4.5).
package aof

import (
	"bytes"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/lassejlv/fedis/internal/logging"
	"github.com/lassejlv/fedis/internal/resp"
)

// FsyncPolicy selects when the AOF is flushed to disk.
type FsyncPolicy string

const (
	FsyncAlways   FsyncPolicy = "always"
	FsyncEverySec FsyncPolicy = "everysec"
	FsyncNo       FsyncPolicy = "no"
)

// ErrRewriteInProgress is returned by BeginRewrite while another rewrite
// is still running (spec §4.5: exactly one rewrite at a time).
var ErrRewriteInProgress = errors.New("aof: rewrite already in progress")

// maxConsecutiveFailures bounds how many back-to-back write/fsync errors
// the writer tolerates under everysec/no before escalating to fatal
// (spec §7).
const maxConsecutiveFailures = 10

type writeRecord struct {
	bytes []byte
	done  chan error // non-nil only under FsyncAlways
}

type rewriteFinish struct {
	tmpPath string
	result  chan error
}

type queueEntry struct {
	record        *writeRecord
	rewriteStart  chan struct{}
	rewriteFinish *rewriteFinish
}

// Writer is the AOF append task. Exactly one Writer owns the live AOF file
// handle at a time; BeginRewrite swaps that handle atomically.
type Writer struct {
	path   string
	policy FsyncPolicy
	queue  chan queueEntry

	file *os.File

	rewriting atomic.Bool
	sideBuf   *bytes.Buffer // only ever touched by run()

	failures int // only ever touched by run()
	onFatal  func(error)
}

// Open opens (creating if absent) the AOF file at path for appending and
// returns a Writer whose background loop has not yet started; call Run in
// its own goroutine.
func Open(path string, policy FsyncPolicy, queueSize int) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Writer{
		path:    path,
		policy:  policy,
		queue:   make(chan queueEntry, queueSize),
		file:    f,
		onFatal: func(err error) { logging.Fatalf("aof: unrecoverable write failure: %v", err) },
	}, nil
}

// Run drains the write queue until stop is closed. It performs all record
// writes and rewrite hand-offs; Append and BeginRewrite communicate with it
// only through the queue, so no lock guards the file handle. Flush and
// Close are the exceptions: they act on the current file handle directly
// from the caller's goroutine.
func (w *Writer) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case e := <-w.queue:
			w.handleEntry(e)
		case <-ticker.C:
			if w.policy == FsyncEverySec {
				if err := w.file.Sync(); err != nil {
					w.noteFailure(err)
				}
			}
		}
	}
}

func (w *Writer) handleEntry(e queueEntry) {
	switch {
	case e.record != nil:
		w.writeOne(e.record)
	case e.rewriteStart != nil:
		w.sideBuf = &bytes.Buffer{}
		close(e.rewriteStart)
	case e.rewriteFinish != nil:
		e.rewriteFinish.result <- w.finishRewrite(e.rewriteFinish.tmpPath)
	}
}

func (w *Writer) writeOne(rec *writeRecord) {
	_, err := w.file.Write(rec.bytes)
	if err == nil && w.sideBuf != nil {
		w.sideBuf.Write(rec.bytes)
	}
	if err == nil && w.policy == FsyncAlways {
		err = w.file.Sync()
	}
	if err != nil {
		w.noteFailure(err)
	} else {
		w.failures = 0
	}
	if rec.done != nil {
		rec.done <- err
	}
}

func (w *Writer) noteFailure(err error) {
	w.failures++
	if w.policy == FsyncAlways {
		logging.Errorf("aof: write/fsync failed: %v", err)
		return
	}
	logging.Warnf("aof: write/fsync failed (%d consecutive): %v", w.failures, err)
	if w.failures >= maxConsecutiveFailures {
		w.onFatal(err)
	}
}

// Append encodes args as a RESP array and enqueues it for writing.
//
// Under FsyncAlways the call blocks until the record has been written and
// fsynced, per spec §4.5. Under everysec/no, enqueueing itself may block
// when the queue is full — the documented backpressure mechanism (spec
// §5) — but the call returns as soon as the record is queued.
func (w *Writer) Append(args [][]byte) error {
	frame := BuildRecordFrame(args)
	raw := resp.AppendFrame(nil, frame)

	if w.policy == FsyncAlways {
		done := make(chan error, 1)
		w.queue <- queueEntry{record: &writeRecord{bytes: raw, done: done}}
		return <-done
	}
	w.queue <- queueEntry{record: &writeRecord{bytes: raw}}
	return nil
}

// BuildRecordFrame builds the RESP array frame for a single AOF record:
// a command plus its already-resolved, replay-safe arguments.
func BuildRecordFrame(args [][]byte) resp.Frame {
	items := make([]resp.Frame, len(args))
	for i, a := range args {
		items[i] = resp.Bulk(a)
	}
	return resp.Arr(items...)
}

// Close stops accepting new records is the caller's job (stop the Run
// loop first); Close then closes the underlying file handle.
func (w *Writer) Close() error {
	return w.file.Close()
}

// Flush forces an immediate fsync of the current file, used during
// graceful shutdown (spec §5: "flushes the AOF (fsync once)").
func (w *Writer) Flush() error {
	return w.file.Sync()
}

// QueueDepth reports the number of records currently buffered in the
// append queue, exposed to internal/metrics as a gauge.
func (w *Writer) QueueDepth() int {
	return len(w.queue)
}

// Package snapshot implements the full-keyspace dump described in spec
// §4.6: SAVE performs it synchronously, BGSAVE backgrounds it, and an
// optional interval trigger fires it periodically when dirty.
//
// Format stability is a durability requirement (spec §4.6): the header
// carries a magic string and version so a future format change can be
// detected and rejected with a clear error rather than silently
// misreading bytes.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/lassejlv/fedis/internal/logging"
	"github.com/lassejlv/fedis/internal/store"
)

const (
	magic      = "FEDISDUMP"
	formatVer1 = 1
	currentVer = formatVer1
	tagString  = byte(0)
	tagJSON    = byte(1)

	// BGSaveStartedReply is the reply text BGSAVE sends once the
	// background goroutine has been launched (spec §4.6).
	BGSaveStartedReply = "Background saving started"

	busyReplyMsg = "ERR Background save already in progress"
)

// ErrUnsupportedVersion is returned by Load when the on-disk format
// version is newer than this binary understands.
var ErrUnsupportedVersion = errors.New("snapshot: unsupported format version")

// ErrCorrupt is returned by Load on any structural inconsistency. Unlike
// AOF replay, a snapshot is never observed mid-write (SAVE/BGSAVE write
// to a temp file and rename atomically), so corruption here is always
// fatal (spec §4.7).
var ErrCorrupt = errors.New("snapshot: corrupt file")

// Source is the read side of the keyspace a snapshot is taken from.
type Source interface {
	Snapshot() []store.SnapshotEntry
}

// Engine owns the snapshot file path, the dirty flag driving interval
// snapshots, and mutual exclusion between concurrent background saves.
type Engine struct {
	path        string
	intervalSec int

	lastSaveUnix atomic.Int64
	dirty        atomic.Bool
	saving       atomic.Bool
}

// NewEngine builds an Engine for path. intervalSec of 0 disables the
// interval trigger (RunIntervalTrigger becomes a no-op loop).
func NewEngine(path string, intervalSec int) *Engine {
	return &Engine{path: path, intervalSec: intervalSec}
}

// MarkDirty records that at least one write happened since the last save,
// called by command dispatch after every successful write (spec §4.6).
func (e *Engine) MarkDirty() { e.dirty.Store(true) }

// LastSave returns the wall-clock seconds of the last successful save, or
// 0 if none has happened yet this process.
func (e *Engine) LastSave() int64 { return e.lastSaveUnix.Load() }

// Save performs a synchronous full dump: write to a temp file, fsync,
// atomically rename over the live snapshot path.
func (e *Engine) Save(src Source) error {
	tmpPath := e.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", tmpPath, err)
	}
	w := bufio.NewWriter(f)

	entries := src.Snapshot()
	if err := writeHeader(w, uint64(len(entries))); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	for _, ent := range entries {
		if err := writeEntry(w, ent); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, e.path); err != nil {
		return fmt.Errorf("snapshot: rename %s to %s: %w", tmpPath, e.path, err)
	}
	e.lastSaveUnix.Store(time.Now().Unix())
	e.dirty.Store(false)
	return nil
}

// BGSave launches Save on a background goroutine, returning immediately.
// It refuses a second concurrent save with ErrSaveInProgress.
func (e *Engine) BGSave(src Source) error {
	if !e.saving.CompareAndSwap(false, true) {
		return ErrSaveInProgress
	}
	go func() {
		defer e.saving.Store(false)
		if err := e.Save(src); err != nil {
			logging.Errorf("snapshot: background save failed: %v", err)
			return
		}
		logging.Infof("snapshot: background save complete")
	}()
	return nil
}

// ErrSaveInProgress mirrors Redis's BUSY-class reply for a concurrent
// BGSAVE request.
var ErrSaveInProgress = errors.New(busyReplyMsg)

// RunIntervalTrigger fires Save every intervalSec seconds as long as at
// least one write happened since the last save (spec §4.6). It returns
// when stop is closed.
func (e *Engine) RunIntervalTrigger(stop <-chan struct{}, src Source) {
	if e.intervalSec <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(time.Duration(e.intervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.dirty.Load() {
				continue
			}
			if err := e.Save(src); err != nil {
				logging.Errorf("snapshot: interval save failed: %v", err)
			} else {
				logging.Infof("snapshot: interval save complete")
			}
		}
	}
}

func writeHeader(w io.Writer, count uint64) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint8(currentVer)); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, count)
}

func writeEntry(w io.Writer, e store.SnapshotEntry) error {
	if err := writeBytes(w, []byte(e.Key)); err != nil {
		return err
	}
	tag := tagString
	if e.Value.Kind == store.KindJSON {
		tag = tagJSON
	}
	if err := binary.Write(w, binary.BigEndian, tag); err != nil {
		return err
	}
	if err := writeBytes(w, e.Value.Str); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, e.ExpiresAt)
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// Load reads a snapshot file fully into memory. A missing file is
// reported via the standard os.IsNotExist-checkable error, letting
// recovery treat "no snapshot yet" as a normal startup case.
func Load(path string) ([]store.SnapshotEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, fmt.Errorf("%w: reading magic: %v", ErrCorrupt, err)
	}
	if string(magicBuf) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	var ver uint8
	if err := binary.Read(r, binary.BigEndian, &ver); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrCorrupt, err)
	}
	if ver > currentVer {
		return nil, fmt.Errorf("%w: file version %d, binary supports up to %d", ErrUnsupportedVersion, ver, currentVer)
	}

	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading entry count: %v", ErrCorrupt, err)
	}

	entries := make([]store.SnapshotEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		e, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorrupt, i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readEntry(r io.Reader) (store.SnapshotEntry, error) {
	key, err := readBytes(r)
	if err != nil {
		return store.SnapshotEntry{}, err
	}
	var tag uint8
	if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
		return store.SnapshotEntry{}, err
	}
	payload, err := readBytes(r)
	if err != nil {
		return store.SnapshotEntry{}, err
	}
	var expiresAt int64
	if err := binary.Read(r, binary.BigEndian, &expiresAt); err != nil {
		return store.SnapshotEntry{}, err
	}

	var val store.Value
	switch tag {
	case tagString:
		val = store.StringValue(payload)
	case tagJSON:
		doc, err := decodeJSONDoc(payload)
		if err != nil {
			return store.SnapshotEntry{}, err
		}
		val = store.JSONValue(doc, payload)
	default:
		return store.SnapshotEntry{}, fmt.Errorf("unknown value tag %d", tag)
	}
	return store.SnapshotEntry{Key: string(key), Value: val, ExpiresAt: expiresAt}, nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// decodeJSONDoc parses a KindJSON entry's serialized payload back into a
// tree so JSON.* path operations work on freshly loaded data exactly as
// they would on data written during this process's lifetime.
func decodeJSONDoc(payload []byte) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decoding JSON payload: %w", err)
	}
	return doc, nil
}

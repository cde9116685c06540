// Package recovery rebuilds the keyspace at startup: load the last
// snapshot if one exists, then replay the AOF on top of it through the
// same RESP codec used for live connections, with AOF emission disabled
// (spec §4.7).
package recovery

import (
	"errors"
	"fmt"
	"os"

	"github.com/lassejlv/fedis/internal/logging"
	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/snapshot"
	"github.com/lassejlv/fedis/internal/store"
)

// Applier executes one already-decoded command's argument vector against
// the keyspace during replay, bypassing auth, ACL, stat counters, and AOF
// emission. The command dispatcher implements this.
type Applier interface {
	ApplyForRecovery(args [][]byte) error
}

// ErrCorruptAOF wraps a protocol-level decode failure encountered before
// the end of the file, which (unlike a truncated trailing record) is
// treated as fatal (spec §4.7).
var ErrCorruptAOF = errors.New("recovery: corrupt AOF")

// Stats summarizes what Recover did, for a one-line startup log.
type Stats struct {
	SnapshotKeys  int
	ReplayedCmds  int
	TailTruncated bool
}

// Recover loads snapshotPath (if present) into st, then replays aofPath
// (if present) through applier. A missing snapshot or missing AOF is not
// an error: both are normal on first boot.
func Recover(snapshotPath, aofPath string, st *store.Store, applier Applier) (Stats, error) {
	var stats Stats

	entries, err := snapshot.Load(snapshotPath)
	switch {
	case err == nil:
		now := st.Now()
		for _, e := range entries {
			if e.ExpiresAt != 0 && e.ExpiresAt <= now {
				continue
			}
			st.Set(e.Key, e.Value, e.ExpiresAt)
		}
		stats.SnapshotKeys = len(entries)
		logging.Infof("recovery: loaded %d keys from snapshot %s", len(entries), snapshotPath)
	case os.IsNotExist(err):
		logging.Infof("recovery: no snapshot at %s, starting empty", snapshotPath)
	default:
		return stats, fmt.Errorf("recovery: loading snapshot: %w", err)
	}

	data, err := os.ReadFile(aofPath)
	switch {
	case err == nil:
		n, truncated, replayErr := replay(data, applier)
		stats.ReplayedCmds = n
		stats.TailTruncated = truncated
		if replayErr != nil {
			return stats, replayErr
		}
		logging.Infof("recovery: replayed %d AOF commands from %s", n, aofPath)
	case os.IsNotExist(err):
		logging.Infof("recovery: no AOF at %s", aofPath)
	default:
		return stats, fmt.Errorf("recovery: reading AOF: %w", err)
	}

	return stats, nil
}

func replay(data []byte, applier Applier) (n int, tailTruncated bool, err error) {
	limits := resp.DefaultLimits()
	offset := 0
	for offset < len(data) {
		frame, consumed, decErr := resp.Decode(data[offset:], limits)
		if decErr != nil {
			return n, false, fmt.Errorf("%w at byte offset %d: %v", ErrCorruptAOF, offset, decErr)
		}
		if consumed == 0 {
			// Incomplete trailing record: the process almost certainly
			// crashed mid-append. Non-fatal, per spec §4.7.
			logging.Warnf("recovery: AOF has a truncated trailing record at offset %d, ignoring it", offset)
			return n, true, nil
		}
		args, convErr := frameToArgs(frame)
		if convErr != nil {
			return n, false, fmt.Errorf("%w at byte offset %d: %v", ErrCorruptAOF, offset, convErr)
		}
		if len(args) > 0 {
			if applyErr := applier.ApplyForRecovery(args); applyErr != nil {
				logging.Warnf("recovery: replaying %q failed: %v", args[0], applyErr)
			}
		}
		offset += consumed
		n++
	}
	return n, false, nil
}

func frameToArgs(f resp.Frame) ([][]byte, error) {
	if f.Type != resp.Array {
		return nil, fmt.Errorf("AOF record is not an array frame")
	}
	args := make([][]byte, len(f.Array))
	for i, item := range f.Array {
		if item.Type != resp.BulkString {
			return nil, fmt.Errorf("AOF record element %d is not a bulk string", i)
		}
		args[i] = item.Bulk
	}
	return args, nil
}

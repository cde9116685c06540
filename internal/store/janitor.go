package store

import (
	"context"
	"time"

	"github.com/lassejlv/fedis/internal/logging"
)

// JanitorConfig tunes the background expiry sampler.
type JanitorConfig struct {
	Interval   time.Duration
	SampleSize int
}

// DefaultJanitorConfig matches spec §4.3: every 100ms, 20 keys per shard.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{Interval: 100 * time.Millisecond, SampleSize: 20}
}

// RunJanitor samples and purges expired keys on a fixed cadence until ctx
// is cancelled. It is meant to run as its own long-running task alongside
// the connection, AOF, and snapshot tasks (spec §2, §5).
func RunJanitor(ctx context.Context, s *Store, cfg JanitorConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.PurgeExpiredSample(cfg.SampleSize); n > 0 {
				logging.Debugf("janitor purged %d expired key(s)", n)
			}
		}
	}
}

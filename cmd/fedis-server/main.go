// Command fedis-server is the process entrypoint: it wires configuration,
// logging, recovery, the keyspace, AOF, snapshotting, metrics, and the
// connection listener together and drives a signal-triggered graceful
// shutdown.
//
// The overall shape — build the long-running pieces, start them as
// goroutines, block on a signal channel, then tear down — descends
// directly from the teacher's own main()/Start() (lukluk-rendang/main.go):
// a listener goroutine, a signal.Notify(SIGINT, SIGTERM) watcher that
// closes the listener on receipt. fedis extends that pattern with the
// extra long-running tasks spec §5 names (AOF writer, snapshot interval
// trigger, expiry sampler, metrics listener) and a forced-shutdown
// deadline the stateless proxy never needed.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lassejlv/fedis/internal/aof"
	"github.com/lassejlv/fedis/internal/auth"
	"github.com/lassejlv/fedis/internal/command"
	"github.com/lassejlv/fedis/internal/config"
	"github.com/lassejlv/fedis/internal/logging"
	"github.com/lassejlv/fedis/internal/metrics"
	"github.com/lassejlv/fedis/internal/recovery"
	"github.com/lassejlv/fedis/internal/server"
	"github.com/lassejlv/fedis/internal/snapshot"
	"github.com/lassejlv/fedis/internal/store"
)

// shutdownDeadline bounds graceful shutdown (spec §5: "Forced shutdown
// after a deadline (default 5 s)").
const shutdownDeadline = 5 * time.Second

// numShards is the keyspace partition count (spec §9's recommended
// sharded-by-key-hash path).
const numShards = 16

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Configuration failures happen before logging is configured;
		// stderr is the only sink available yet.
		println("fedis: " + err.Error())
		os.Exit(1)
	}
	logging.Configure(cfg.LogLevel)

	userSpecs, err := cfg.UserSpecs()
	if err != nil {
		logging.Fatalf("fedis: %v", err)
	}
	users := auth.NewTable(userSpecs)

	st := store.New(numShards, nil)

	var aofWriter *aof.Writer
	aofStop := make(chan struct{})
	if cfg.AOFPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.AOFPath), 0o755); err != nil {
			logging.Fatalf("fedis: creating AOF directory for %s: %v", cfg.AOFPath, err)
		}
		w, err := aof.Open(cfg.AOFPath, aof.FsyncPolicy(cfg.AOFFsync), 4096)
		if err != nil {
			logging.Fatalf("fedis: opening AOF %s: %v", cfg.AOFPath, err)
		}
		aofWriter = w
	}

	var snapEngine *snapshot.Engine
	if cfg.SnapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SnapshotPath), 0o755); err != nil {
			logging.Fatalf("fedis: creating snapshot directory for %s: %v", cfg.SnapshotPath, err)
		}
		snapEngine = snapshot.NewEngine(cfg.SnapshotPath, cfg.SnapshotIntervalSec)
	}

	dispatcher := command.NewDispatcher(st, users, aofWriter, snapEngine, cfg.MaxMemoryBytes)

	// Recovery runs with AOF emission disabled by construction: Dispatcher
	// is built above with aofWriter already attached, but ApplyForRecovery
	// bypasses Dispatch (and therefore AOF emission) entirely (spec §4.7).
	dispatcher.Loading.Store(true)
	if cfg.SnapshotPath != "" || cfg.AOFPath != "" {
		stats, err := recovery.Recover(cfg.SnapshotPath, cfg.AOFPath, st, dispatcher)
		if err != nil {
			logging.Fatalf("fedis: recovery failed: %v", err)
		}
		logging.Infof("fedis: recovered %d snapshot keys, replayed %d AOF commands (tail truncated: %v)",
			stats.SnapshotKeys, stats.ReplayedCmds, stats.TailTruncated)
	}
	dispatcher.Loading.Store(false)

	if aofWriter != nil {
		go aofWriter.Run(aofStop)
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go store.RunJanitor(janitorCtx, st, store.DefaultJanitorConfig())

	snapshotStop := make(chan struct{})
	if snapEngine != nil {
		go snapEngine.RunIntervalTrigger(snapshotStop, st)
	}

	srv := server.New(server.Config{
		ListenAddr:     cfg.ListenAddr,
		MaxConnections: cfg.MaxConnections,
		MaxRequestSize: cfg.MaxRequestSize,
		IdleTimeout:    cfg.IdleTimeout(),
	}, dispatcher)

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector(metrics.Sources{
			Stats:            dispatcher.Stats,
			Store:            st,
			AOF:              aofWriter,
			ConnectedClients: srv.ActiveConnections,
		})
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, collector)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil {
				logging.Errorf("fedis: metrics listener: %v", err)
			}
		}()
		logging.Infof("fedis: metrics listening on %s", cfg.MetricsAddr)
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Infof("fedis: received %s, shutting down", sig)
	case err := <-listenErr:
		if err != nil {
			logging.Errorf("fedis: listener exited: %v", err)
		}
	}

	srv.Shutdown(shutdownDeadline)
	stopJanitor()
	close(snapshotStop)

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		metricsSrv.Shutdown(ctx)
		cancel()
	}

	if aofWriter != nil {
		if err := aofWriter.Flush(); err != nil {
			logging.Errorf("fedis: final AOF flush: %v", err)
		}
		close(aofStop)
		aofWriter.Close()
	}

	logging.Infof("fedis: shutdown complete")
}

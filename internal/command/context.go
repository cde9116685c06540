// Package command implements the verb table and dispatch pipeline from
// spec §4.2: arity validation, auth/ACL enforcement, handler execution,
// per-verb stat counters, and AOF emission for successful writes.
package command

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lassejlv/fedis/internal/aof"
	"github.com/lassejlv/fedis/internal/auth"
	"github.com/lassejlv/fedis/internal/snapshot"
	"github.com/lassejlv/fedis/internal/store"
)

// ConnState is the per-connection mutable state from spec §3's
// "Connection state": auth identity, negotiated protocol, client name,
// and client ID. A connection's commands run one at a time (spec §4.8),
// so ConnState needs no internal locking.
type ConnState struct {
	ID            uint64
	User          *auth.User
	Authenticated bool
	Protocol      int // 2 or 3
	Name          string
	CreatedAt     time.Time
}

// NewConnState builds the initial state for a freshly accepted
// connection, defaulting to RESP2 and no authenticated identity.
func NewConnState(id uint64) *ConnState {
	return &ConnState{ID: id, Protocol: 2, CreatedAt: time.Now()}
}

// Dispatcher owns every shared collaborator the command table needs:
// the keyspace, the user table, the AOF writer, the snapshot engine, and
// the stat registry. One Dispatcher is built per process and shared by
// every connection goroutine and the recovery replay path.
type Dispatcher struct {
	Store    *store.Store
	Users    *auth.Table
	AOF      *aof.Writer // nil disables AOF emission entirely (e.g. persistence off)
	Snapshot *snapshot.Engine
	Stats    *StatRegistry

	StartedAt      time.Time
	MaxMemoryBytes int64

	// Loading is set while recovery replay is in flight; Dispatch rejects
	// everything but the spec §7 LOADING-exempt verbs while it is true.
	Loading atomic.Bool

	clientSeq atomic.Uint64
}

// NewDispatcher builds a Dispatcher. aofWriter and snapshotEngine may be
// nil when the corresponding subsystem is disabled.
func NewDispatcher(st *store.Store, users *auth.Table, aofWriter *aof.Writer, snapEngine *snapshot.Engine, maxMemoryBytes int64) *Dispatcher {
	return &Dispatcher{
		Store:          st,
		Users:          users,
		AOF:            aofWriter,
		Snapshot:       snapEngine,
		Stats:          NewStatRegistry(),
		StartedAt:      time.Now(),
		MaxMemoryBytes: maxMemoryBytes,
	}
}

// NextClientID returns a fresh monotonically increasing client ID (spec
// §3: "client_id (monotonic u64)").
func (d *Dispatcher) NextClientID() uint64 {
	return d.clientSeq.Add(1)
}

// StatRegistry tracks spec §3's command-stat counter per verb.
type StatRegistry struct {
	mu     sync.Mutex
	counts map[string]*statCounter
}

type statCounter struct {
	calls      uint64
	totalUsec  uint64
}

// NewStatRegistry builds an empty registry.
func NewStatRegistry() *StatRegistry {
	return &StatRegistry{counts: make(map[string]*statCounter)}
}

// Record adds one call of verb taking elapsed to the running totals.
func (r *StatRegistry) Record(verb string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[verb]
	if !ok {
		c = &statCounter{}
		r.counts[verb] = c
	}
	c.calls++
	c.totalUsec += uint64(elapsed.Microseconds())
}

// Snapshot returns a point-in-time copy of (calls, total_usec) per verb,
// used by internal/metrics.
func (r *StatRegistry) Snapshot() map[string][2]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][2]uint64, len(r.counts))
	for verb, c := range r.counts {
		out[verb] = [2]uint64{c.calls, c.totalUsec}
	}
	return out
}

// Context is handed to every handler invocation: the shared Dispatcher
// plus the calling connection's state.
type Context struct {
	*Dispatcher
	Conn *ConnState
}

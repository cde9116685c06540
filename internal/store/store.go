// Package store implements the shared, concurrently-accessed keyspace:
// a map of key to Entry with lazy plus background expiration.
//
// The keyspace is sharded by key hash into a fixed number of independently
// locked partitions (spec §5, §9's recommended path to reduce write
// contention). Read commands take a shard's read lock; write commands and
// any lazy-expiry deletion take its write lock. Multi-key writes lock the
// shards they touch in ascending index order so MSET/MSETNX can never
// deadlock against a concurrent multi-key write touching an overlapping
// key set.
package store

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// Clock returns the current wall-clock time in milliseconds. Exists as a
// seam so tests can control expiry without sleeping.
type Clock func() int64

// RealClock is the production Clock.
func RealClock() int64 { return time.Now().UnixMilli() }

type shard struct {
	mu   sync.RWMutex
	data map[string]*Entry
}

// Store is the shared keyspace. The zero value is not usable; construct
// with New.
type Store struct {
	shards []*shard
	clock  Clock
}

// New builds a Store with the given number of shards (rounded up to at
// least 1). A nil clock defaults to RealClock.
func New(numShards int, clock Clock) *Store {
	if numShards < 1 {
		numShards = 1
	}
	if clock == nil {
		clock = RealClock
	}
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = &shard{data: make(map[string]*Entry)}
	}
	return &Store{shards: shards, clock: clock}
}

// Now returns the store's notion of the current time in milliseconds.
func (s *Store) Now() int64 { return s.clock() }

func (s *Store) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.shards)))
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[s.shardIndex(key)]
}

// Get returns the live value for key, treating an expired entry as absent
// and lazily purging it.
func (s *Store) Get(key string) (Value, bool) {
	e, ok := s.GetEntry(key)
	if !ok {
		return Value{}, false
	}
	return e.Value, true
}

// GetEntry is like Get but also returns the ExpiresAt deadline.
func (s *Store) GetEntry(key string) (Entry, bool) {
	sh := s.shardFor(key)
	now := s.clock()

	sh.mu.RLock()
	e, ok := sh.data[key]
	if ok && !e.expired(now) {
		cp := *e
		sh.mu.RUnlock()
		return cp, true
	}
	sh.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	// Entry is expired: purge it under the write lock, re-checking in
	// case a concurrent writer replaced it in the meantime.
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok = sh.data[key]
	if !ok {
		return Entry{}, false
	}
	if e.expired(s.clock()) {
		delete(sh.data, key)
		return Entry{}, false
	}
	return *e, true
}

// Set unconditionally stores v under key with the given absolute expiry
// (0 = no TTL).
func (s *Store) Set(key string, v Value, expiresAt int64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.data[key] = &Entry{Value: v, ExpiresAt: expiresAt}
}

// Delete removes keys unconditionally (treating already-expired keys as
// not present) and returns how many were actually removed.
func (s *Store) Delete(keys ...string) int {
	now := s.clock()
	n := 0
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if e, ok := sh.data[key]; ok {
			if !e.expired(now) {
				n++
			}
			delete(sh.data, key)
		}
		sh.mu.Unlock()
	}
	return n
}

// Exists counts how many of keys are currently live, counting duplicates
// (spec §4.2).
func (s *Store) Exists(keys ...string) int {
	n := 0
	for _, key := range keys {
		if _, ok := s.Get(key); ok {
			n++
		}
	}
	return n
}

// Type reports the Kind.String() of key, or "" if absent.
func (s *Store) Type(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	return v.Kind.String(), true
}

// MutateResult carries the outcome of a MutateFunc back through Mutate.
type MutateResult struct {
	Value interface{}
	Err   error
}

// MutateFunc inspects the current entry for a key (nil, exists=false if
// absent or expired) and returns:
//   - result: an arbitrary value returned to the Mutate caller
//   - next: the entry to store, if write is true
//   - write: whether to store next
//   - del: whether to delete the key (write is ignored if del is true)
//   - err: an error that aborts the mutation with no change to the store
type MutateFunc func(cur *Entry, exists bool) (result interface{}, next *Entry, write bool, del bool, err error)

// Mutate performs an atomic read-modify-write against a single key. This
// is the primitive every write command builds on: it gives a command
// handler a consistent view of one key for the duration of its own logic,
// satisfying the "within a single command the keyspace appears consistent"
// rule in spec §5.
func (s *Store) Mutate(key string, fn MutateFunc) (interface{}, error) {
	sh := s.shardFor(key)
	now := s.clock()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.data[key]
	if ok && e.expired(now) {
		delete(sh.data, key)
		ok = false
		e = nil
	}

	var cur *Entry
	if ok {
		cp := *e
		cur = &cp
	}

	result, next, write, del, err := fn(cur, ok)
	if err != nil {
		return result, err
	}
	if del {
		delete(sh.data, key)
	} else if write {
		sh.data[key] = next
	}
	return result, nil
}

// MultiMutateFunc receives the live entries for the requested keys
// (expired ones absent) and returns the entries to write and the keys to
// delete.
type MultiMutateFunc func(cur map[string]*Entry) (writes map[string]*Entry, deletes []string, result interface{}, err error)

// MutateMulti performs an atomic read-modify-write across several keys at
// once, locking their shards in ascending index order regardless of key
// order to avoid deadlocking against another concurrent multi-key write
// (spec §5).
func (s *Store) MutateMulti(keys []string, fn MultiMutateFunc) (interface{}, error) {
	idxSet := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		idxSet[s.shardIndex(k)] = struct{}{}
	}
	idxs := make([]int, 0, len(idxSet))
	for i := range idxSet {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	for _, i := range idxs {
		s.shards[i].mu.Lock()
	}
	defer func() {
		for _, i := range idxs {
			s.shards[i].mu.Unlock()
		}
	}()

	now := s.clock()
	cur := make(map[string]*Entry, len(keys))
	for _, k := range keys {
		sh := s.shards[s.shardIndex(k)]
		if e, ok := sh.data[k]; ok && !e.expired(now) {
			cp := *e
			cur[k] = &cp
		}
	}

	writes, deletes, result, err := fn(cur)
	if err != nil {
		return result, err
	}
	for k, e := range writes {
		sh := s.shards[s.shardIndex(k)]
		sh.data[k] = e
	}
	for _, k := range deletes {
		sh := s.shards[s.shardIndex(k)]
		delete(sh.data, k)
	}
	return result, nil
}

// SnapshotEntry is a single live key/value/expiry triple as observed by
// Snapshot.
type SnapshotEntry struct {
	Key       string
	Value     Value
	ExpiresAt int64
}

// Snapshot returns every currently live key, in no particular order, for
// use by SAVE/BGSAVE and BGREWRITEAOF. Expired-but-not-yet-purged entries
// are excluded.
func (s *Store) Snapshot() []SnapshotEntry {
	now := s.clock()
	var out []SnapshotEntry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.data {
			if e.expired(now) {
				continue
			}
			out = append(out, SnapshotEntry{Key: k, Value: e.Value, ExpiresAt: e.ExpiresAt})
		}
		sh.mu.RUnlock()
	}
	return out
}

// Keys returns every currently live key, in no particular order.
func (s *Store) Keys() []string {
	now := s.clock()
	var out []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.data {
			if !e.expired(now) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// DBSize reports the number of live keys, excluding entries whose expiry
// is known-past at call time — the reference choice for the ambiguity
// spec §9 calls out explicitly.
func (s *Store) DBSize() int {
	now := s.clock()
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.data {
			if !e.expired(now) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}

// PurgeExpiredSample visits up to sampleSize keys per shard and removes
// any that are expired, reporting the total removed. This backs the
// background janitor task (spec §4.3).
func (s *Store) PurgeExpiredSample(sampleSize int) int {
	now := s.clock()
	purged := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		i := 0
		for k, e := range sh.data {
			if i >= sampleSize {
				break
			}
			i++
			if e.expired(now) {
				delete(sh.data, k)
				purged++
			}
		}
		sh.mu.Unlock()
	}
	return purged
}

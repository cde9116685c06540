package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock(now *int64) Clock {
	return func() int64 { return *now }
}

func TestGetSetRoundTrip(t *testing.T) {
	now := int64(1000)
	s := New(4, testClock(&now))

	s.Set("foo", StringValue([]byte("bar")), 0)
	v, ok := s.Get("foo")
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), v.Str)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestExpiryIsLazy(t *testing.T) {
	now := int64(1000)
	s := New(4, testClock(&now))

	s.Set("k", StringValue([]byte("v")), 1500)
	_, ok := s.Get("k")
	require.True(t, ok)

	now = 1600
	_, ok = s.Get("k")
	assert.False(t, ok)

	// lazily purged: DBSize should not count it even via raw scan
	assert.Equal(t, 0, s.DBSize())
}

func TestDeleteCountsOnlyLiveKeys(t *testing.T) {
	now := int64(0)
	s := New(2, testClock(&now))
	s.Set("a", StringValue([]byte("1")), 0)
	s.Set("b", StringValue([]byte("1")), 10)
	now = 20 // b now expired

	n := s.Delete("a", "b", "missing")
	assert.Equal(t, 1, n)
}

func TestExistsCountsDuplicates(t *testing.T) {
	now := int64(0)
	s := New(2, testClock(&now))
	s.Set("a", StringValue([]byte("1")), 0)
	assert.Equal(t, 3, s.Exists("a", "a", "missing", "a"))
}

func TestMutateIncrementLikeFlow(t *testing.T) {
	now := int64(0)
	s := New(1, testClock(&now))
	s.Set("n", StringValue([]byte("41")), 0)

	result, err := s.Mutate("n", func(cur *Entry, exists bool) (interface{}, *Entry, bool, bool, error) {
		require.True(t, exists)
		return "ok", &Entry{Value: StringValue([]byte("42")), ExpiresAt: cur.ExpiresAt}, true, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	v, _ := s.Get("n")
	assert.Equal(t, []byte("42"), v.Str)
}

func TestMutateDelete(t *testing.T) {
	now := int64(0)
	s := New(1, testClock(&now))
	s.Set("n", StringValue([]byte("1")), 0)

	_, err := s.Mutate("n", func(cur *Entry, exists bool) (interface{}, *Entry, bool, bool, error) {
		return nil, nil, false, true, nil
	})
	require.NoError(t, err)
	_, ok := s.Get("n")
	assert.False(t, ok)
}

func TestMutateMultiLocksDistinctShardsInOrder(t *testing.T) {
	now := int64(0)
	s := New(8, testClock(&now))

	_, err := s.MutateMulti([]string{"a", "b", "c"}, func(cur map[string]*Entry) (map[string]*Entry, []string, interface{}, error) {
		writes := map[string]*Entry{
			"a": {Value: StringValue([]byte("1"))},
			"b": {Value: StringValue([]byte("2"))},
			"c": {Value: StringValue([]byte("3"))},
		}
		return writes, nil, nil, nil
	})
	require.NoError(t, err)

	for k, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		v, ok := s.Get(k)
		require.True(t, ok)
		assert.Equal(t, want, string(v.Str))
	}
}

func TestSnapshotExcludesExpired(t *testing.T) {
	now := int64(0)
	s := New(2, testClock(&now))
	s.Set("live", StringValue([]byte("1")), 0)
	s.Set("dead", StringValue([]byte("1")), 5)
	now = 10

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "live", snap[0].Key)
}

func TestPurgeExpiredSample(t *testing.T) {
	now := int64(0)
	s := New(1, testClock(&now))
	for i := 0; i < 5; i++ {
		s.Set(string(rune('a'+i)), StringValue([]byte("1")), 5)
	}
	now = 10
	purged := s.PurgeExpiredSample(20)
	assert.Equal(t, 5, purged)
	assert.Equal(t, 0, s.DBSize())
}

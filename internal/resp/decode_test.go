package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSimpleFrames(t *testing.T) {
	limits := DefaultLimits()

	f, n, err := Decode([]byte("+OK\r\n"), limits)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, Simple("OK"), f)

	f, n, err = Decode([]byte("-ERR boom\r\n"), limits)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, Err("ERR boom"), f)

	f, n, err = Decode([]byte(":1000\r\n"), limits)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, Int(1000), f)

	f, n, err = Decode([]byte(":-7\r\n"), limits)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, Int(-7), f)
}

func TestDecodeBulkString(t *testing.T) {
	limits := DefaultLimits()

	f, n, err := Decode([]byte("$3\r\nfoo\r\n"), limits)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, []byte("foo"), f.Bulk)

	f, n, err = Decode([]byte("$0\r\n\r\n"), limits)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{}, f.Bulk)
	assert.False(t, f.Null)

	f, n, err = Decode([]byte("$-1\r\n"), limits)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, f.IsNil())
}

func TestDecodeArray(t *testing.T) {
	limits := DefaultLimits()
	raw := "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"
	f, n, err := Decode([]byte(raw), limits)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	require.Len(t, f.Array, 2)
	assert.Equal(t, []byte("GET"), f.Array[0].Bulk)
	assert.Equal(t, []byte("foo"), f.Array[1].Bulk)
}

func TestDecodeNilArray(t *testing.T) {
	f, n, err := Decode([]byte("*-1\r\n"), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, f.IsNil())
}

func TestDecodeNeedsMoreData(t *testing.T) {
	limits := DefaultLimits()
	partials := []string{
		"*2\r\n$3\r\nGET\r\n$3\r\nfo",
		"*2\r\n$3\r\nGET\r\n",
		"*2\r\n",
		"*",
		"$5\r\nhel",
		"+OK",
		":12",
	}
	for _, p := range partials {
		_, n, err := Decode([]byte(p), limits)
		require.NoError(t, err, p)
		assert.Equal(t, 0, n, p)
	}
}

func TestDecodePipelinedFrames(t *testing.T) {
	limits := DefaultLimits()
	buf := []byte("+OK\r\n+OK\r\n")
	f1, n1, err := Decode(buf, limits)
	require.NoError(t, err)
	assert.Equal(t, Simple("OK"), f1)
	f2, n2, err := Decode(buf[n1:], limits)
	require.NoError(t, err)
	assert.Equal(t, Simple("OK"), f2)
	assert.Equal(t, len(buf), n1+n2)
}

func TestDecodeInlineCommand(t *testing.T) {
	f, n, err := Decode([]byte("PING\r\n"), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.Len(t, f.Array, 1)
	assert.Equal(t, []byte("PING"), f.Array[0].Bulk)
}

func TestDecodeInlineCommandWithArgs(t *testing.T) {
	f, n, err := Decode([]byte("SET foo bar\r\n"), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	require.Len(t, f.Array, 3)
	assert.Equal(t, []byte("SET"), f.Array[0].Bulk)
	assert.Equal(t, []byte("foo"), f.Array[1].Bulk)
	assert.Equal(t, []byte("bar"), f.Array[2].Bulk)
}

func TestDecodeRejectsLeadingPlusInteger(t *testing.T) {
	_, _, err := Decode([]byte(":+5\r\n"), DefaultLimits())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeRejectsOversizedBulk(t *testing.T) {
	limits := Limits{MaxArray: 16, MaxBulk: 4}
	_, _, err := Decode([]byte("$100\r\n"), limits)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDecodeRejectsOversizedArray(t *testing.T) {
	limits := Limits{MaxArray: 2, MaxBulk: 1024}
	_, _, err := Decode([]byte("*5\r\n"), limits)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
}

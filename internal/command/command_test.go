package command

import (
	"testing"
	"time"

	"github.com/lassejlv/fedis/internal/auth"
	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCtx(t *testing.T) *Context {
	t.Helper()
	st := store.New(4, nil)
	users := auth.NewTable(nil)
	d := NewDispatcher(st, users, nil, nil, 0)
	return &Context{Dispatcher: d, Conn: NewConnState(1)}
}

func call(ctx *Context, args ...string) resp.Frame {
	bargs := make([][]byte, len(args))
	for i, a := range args {
		bargs[i] = []byte(a)
	}
	return Dispatch(ctx, bargs)
}

func TestPingPong(t *testing.T) {
	ctx := newTestCtx(t)
	assert.Equal(t, resp.Simple("PONG"), call(ctx, "PING"))
	assert.Equal(t, resp.Bulk([]byte("hi")), call(ctx, "PING", "hi"))
}

func TestUnknownCommand(t *testing.T) {
	ctx := newTestCtx(t)
	reply := call(ctx, "NOSUCHCOMMAND")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "unknown command")
}

func TestWrongArity(t *testing.T) {
	ctx := newTestCtx(t)
	reply := call(ctx, "GET")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "wrong number of arguments")
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := newTestCtx(t)
	require.Equal(t, resp.OK(), call(ctx, "SET", "foo", "bar"))
	assert.Equal(t, resp.Bulk([]byte("bar")), call(ctx, "GET", "foo"))
}

func TestSetNXAndXX(t *testing.T) {
	ctx := newTestCtx(t)
	assert.Equal(t, resp.OK(), call(ctx, "SET", "k", "1", "NX"))
	assert.Equal(t, resp.NilBulk(), call(ctx, "SET", "k", "2", "NX"))
	assert.Equal(t, resp.Bulk([]byte("1")), call(ctx, "GET", "k"))

	assert.Equal(t, resp.OK(), call(ctx, "SET", "k", "3", "XX"))
	assert.Equal(t, resp.NilBulk(), call(ctx, "SET", "missing", "1", "XX"))
}

func TestSetMutuallyExclusiveModifiers(t *testing.T) {
	ctx := newTestCtx(t)
	reply := call(ctx, "SET", "k", "v", "NX", "XX")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "syntax")
}

func TestIncrDecr(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "n", "10")
	assert.Equal(t, resp.Int(11), call(ctx, "INCR", "n"))
	assert.Equal(t, resp.Int(10), call(ctx, "DECR", "n"))
	assert.Equal(t, resp.Int(15), call(ctx, "INCRBY", "n", "5"))
	assert.Equal(t, resp.Int(5), call(ctx, "DECRBY", "n", "10"))
}

func TestIncrOnNonIntFails(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "s", "notanint")
	reply := call(ctx, "INCR", "s")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "not an integer")
}

func TestIncrOverflow(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "n", "9223372036854775807")
	reply := call(ctx, "INCR", "n")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "overflow")
}

func TestAppendAndStrlen(t *testing.T) {
	ctx := newTestCtx(t)
	assert.Equal(t, resp.Int(5), call(ctx, "APPEND", "k", "hello"))
	assert.Equal(t, resp.Int(11), call(ctx, "APPEND", "k", " world"))
	assert.Equal(t, resp.Int(11), call(ctx, "STRLEN", "k"))
}

func TestSetrangeZeroPads(t *testing.T) {
	ctx := newTestCtx(t)
	reply := call(ctx, "SETRANGE", "k", "5", "x")
	assert.Equal(t, resp.Int(6), reply)
	v, _ := ctx.Store.Get("k")
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 'x'}, v.Str)
}

func TestGetrangeNegativeIndices(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "k", "Hello World")
	assert.Equal(t, resp.Bulk([]byte("World")), call(ctx, "GETRANGE", "k", "-5", "-1"))
}

func TestMsetMget(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "MSET", "a", "1", "b", "2")
	reply := call(ctx, "MGET", "a", "b", "c")
	assert.Equal(t, resp.Arr(resp.Bulk([]byte("1")), resp.Bulk([]byte("2")), resp.NilBulk()), reply)
}

func TestMsetnxAllOrNothing(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "a", "exists")
	reply := call(ctx, "MSETNX", "a", "1", "b", "2")
	assert.Equal(t, resp.Int(0), reply)
	_, ok := ctx.Store.Get("b")
	assert.False(t, ok)
}

func TestExpireDeletesOnZeroOrPast(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "k", "v")
	reply := call(ctx, "EXPIRE", "k", "0")
	assert.Equal(t, resp.Int(1), reply)
	_, ok := ctx.Store.Get("k")
	assert.False(t, ok)
}

func TestTTLStates(t *testing.T) {
	ctx := newTestCtx(t)
	assert.Equal(t, resp.Int(-2), call(ctx, "TTL", "missing"))
	call(ctx, "SET", "k", "v")
	assert.Equal(t, resp.Int(-1), call(ctx, "TTL", "k"))
	call(ctx, "EXPIRE", "k", "100")
	ttl := call(ctx, "TTL", "k")
	assert.Equal(t, resp.Integer, ttl.Type)
	assert.True(t, ttl.Int > 0 && ttl.Int <= 100)
}

func TestPersistRemovesTTL(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "k", "v", "EX", "100")
	assert.Equal(t, resp.Int(1), call(ctx, "PERSIST", "k"))
	assert.Equal(t, resp.Int(-1), call(ctx, "TTL", "k"))
}

func TestDelCountsRemoved(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "a", "1")
	reply := call(ctx, "DEL", "a", "b")
	assert.Equal(t, resp.Int(1), reply)
}

func TestExistsCountsDuplicates(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "a", "1")
	assert.Equal(t, resp.Int(2), call(ctx, "EXISTS", "a", "a"))
}

func TestKeysGlob(t *testing.T) {
	ctx := newTestCtx(t)
	call(ctx, "SET", "foo1", "1")
	call(ctx, "SET", "foo2", "2")
	call(ctx, "SET", "bar", "3")
	reply := call(ctx, "KEYS", "foo*")
	assert.Len(t, reply.Array, 2)
}

func TestScanVisitsAllKeys(t *testing.T) {
	ctx := newTestCtx(t)
	for i := 0; i < 25; i++ {
		call(ctx, "SET", string(rune('a'+i)), "v")
	}
	seen := map[string]bool{}
	cursor := "0"
	for {
		reply := call(ctx, "SCAN", cursor, "COUNT", "5")
		cursor = string(reply.Array[0].Bulk)
		for _, f := range reply.Array[1].Array {
			seen[string(f.Bulk)] = true
		}
		if cursor == "0" {
			break
		}
	}
	assert.Len(t, seen, 25)
}

func TestAuthRequiredWhenPasswordConfigured(t *testing.T) {
	st := store.New(4, nil)
	users := auth.NewTable([]auth.UserSpec{{Name: "default", Password: "secret", Enabled: true, Commands: []string{"ALL"}}})
	d := NewDispatcher(st, users, nil, nil, 0)
	ctx := &Context{Dispatcher: d, Conn: NewConnState(1)}

	reply := call(ctx, "GET", "k")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "NOAUTH")

	authReply := call(ctx, "AUTH", "secret")
	assert.Equal(t, resp.OK(), authReply)
	assert.Equal(t, resp.NilBulk(), call(ctx, "GET", "k"))
}

func TestAuthWrongPassword(t *testing.T) {
	st := store.New(4, nil)
	users := auth.NewTable([]auth.UserSpec{{Name: "default", Password: "secret", Enabled: true, Commands: []string{"ALL"}}})
	d := NewDispatcher(st, users, nil, nil, 0)
	ctx := &Context{Dispatcher: d, Conn: NewConnState(1)}

	reply := call(ctx, "AUTH", "wrong")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "WRONGPASS")
}

func TestACLDeniesDisallowedVerb(t *testing.T) {
	st := store.New(4, nil)
	users := auth.NewTable([]auth.UserSpec{{Name: "default", Enabled: true, Commands: []string{"GET"}}})
	d := NewDispatcher(st, users, nil, nil, 0)
	ctx := &Context{Dispatcher: d, Conn: NewConnState(1)}

	reply := call(ctx, "SET", "k", "v")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "NOPERM")
}

func TestJSONSetGetRoundTrip(t *testing.T) {
	ctx := newTestCtx(t)
	reply := call(ctx, "JSON.SET", "doc", "$", `{"a":1}`)
	assert.Equal(t, resp.OK(), reply)
	got := call(ctx, "JSON.GET", "doc")
	assert.JSONEq(t, `{"a":1}`, string(got.Bulk))
}

func TestApplyForRecoverySkipsAuthAndAOF(t *testing.T) {
	st := store.New(4, nil)
	users := auth.NewTable(nil)
	d := NewDispatcher(st, users, nil, nil, 0)

	require.NoError(t, d.ApplyForRecovery([][]byte{[]byte("SET"), []byte("k"), []byte("v")}))
	v, ok := st.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v.Str)
}

func TestLoadingBlocksCommandsExceptExempt(t *testing.T) {
	ctx := newTestCtx(t)
	ctx.Loading.Store(true)
	reply := call(ctx, "GET", "k")
	assert.Equal(t, resp.Error, reply.Type)
	assert.Contains(t, reply.Str, "LOADING")
	assert.Equal(t, resp.Simple("PONG"), call(ctx, "PING"))
}

func TestResetClearsConnState(t *testing.T) {
	ctx := newTestCtx(t)
	ctx.Conn.Name = "x"
	reply := call(ctx, "RESET")
	assert.Equal(t, resp.Simple("RESET"), reply)
	assert.Equal(t, "", ctx.Conn.Name)
}

func TestHelloNegotiatesProtocol(t *testing.T) {
	ctx := newTestCtx(t)
	reply := call(ctx, "HELLO", "3")
	assert.Equal(t, resp.Map, reply.Type)
	assert.Equal(t, 3, ctx.Conn.Protocol)
}

func TestTimeReturnsTwoElementArray(t *testing.T) {
	ctx := newTestCtx(t)
	reply := call(ctx, "TIME")
	require.Len(t, reply.Array, 2)
	_ = time.Now()
}

package command

import (
	"strconv"

	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/store"
)

func init() {
	register(&Descriptor{Name: "INCR", MinArgs: 2, MaxArgs: 2, Write: true, Handler: handleIncrBy(1)})
	register(&Descriptor{Name: "DECR", MinArgs: 2, MaxArgs: 2, Write: true, Handler: handleIncrBy(-1)})
	register(&Descriptor{Name: "INCRBY", MinArgs: 3, MaxArgs: 3, Write: true, Handler: handleIncrByArg(1)})
	register(&Descriptor{Name: "DECRBY", MinArgs: 3, MaxArgs: 3, Write: true, Handler: handleIncrByArg(-1)})
}

// handleIncrBy builds INCR/DECR, whose delta is fixed at 1/-1.
func handleIncrBy(sign int64) HandlerFunc {
	return func(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
		return incrByDelta(ctx, args[1], sign)
	}
}

// handleIncrByArg builds INCRBY/DECRBY, whose delta is the command's own
// argument (DECRBY negates it).
func handleIncrByArg(sign int64) HandlerFunc {
	return func(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
		delta, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return errNotInt(), nil, false
		}
		return incrByDelta(ctx, args[1], sign*delta)
	}
}

type incrResult struct {
	n         int64
	expiresAt int64
}

func incrByDelta(ctx *Context, keyb []byte, delta int64) (resp.Frame, [][]byte, bool) {
	key := string(keyb)
	result, mErr := ctx.Store.Mutate(key, func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		var n int64
		var expiresAt int64
		if exists {
			if cur.Value.Kind != store.KindString {
				return nil, nil, false, false, errGetOnNonString
			}
			parsed, err := strconv.ParseInt(string(cur.Value.Str), 10, 64)
			if err != nil {
				return nil, nil, false, false, errNotIntSentinel
			}
			n = parsed
			expiresAt = cur.ExpiresAt
		}
		if (delta > 0 && n > maxInt64-delta) || (delta < 0 && n < minInt64-delta) {
			return nil, nil, false, false, errOverflowSentinel
		}
		next := n + delta
		entry := &store.Entry{Value: store.StringValue([]byte(strconv.FormatInt(next, 10))), ExpiresAt: expiresAt}
		return incrResult{n: next, expiresAt: expiresAt}, entry, true, false, nil
	})
	if mErr != nil {
		switch mErr {
		case errGetOnNonString:
			return errWrongType(), nil, false
		case errNotIntSentinel:
			return errNotInt(), nil, false
		case errOverflowSentinel:
			return errOverflow(), nil, false
		}
		return resp.Err("ERR " + mErr.Error()), nil, false
	}
	r := result.(incrResult)
	replay := [][]byte{[]byte("SET"), keyb, []byte(strconv.FormatInt(r.n, 10))}
	if r.expiresAt != 0 {
		replay = append(replay, []byte("PXAT"), []byte(strconv.FormatInt(r.expiresAt, 10)))
	}
	return resp.Int(r.n), replay, true
}

const (
	maxInt64 = 1<<63 - 1
	minInt64 = -1 << 63
)

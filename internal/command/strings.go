package command

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/store"
)

func init() {
	register(&Descriptor{Name: "GET", MinArgs: 2, MaxArgs: 2, Handler: handleGet})
	register(&Descriptor{Name: "GETRANGE", MinArgs: 4, MaxArgs: 4, Handler: handleGetRange})
	register(&Descriptor{Name: "STRLEN", MinArgs: 2, MaxArgs: 2, Handler: handleStrlen})
	register(&Descriptor{Name: "MGET", MinArgs: 2, MaxArgs: -1, Handler: handleMget})
	register(&Descriptor{Name: "TYPE", MinArgs: 2, MaxArgs: 2, Handler: handleType})

	register(&Descriptor{Name: "SET", MinArgs: 3, MaxArgs: -1, Write: true, Handler: handleSet})
	register(&Descriptor{Name: "SETNX", MinArgs: 3, MaxArgs: 3, Write: true, Handler: handleSetnx})
	register(&Descriptor{Name: "SETEX", MinArgs: 4, MaxArgs: 4, Write: true, Handler: handleSetex(false)})
	register(&Descriptor{Name: "PSETEX", MinArgs: 4, MaxArgs: 4, Write: true, Handler: handleSetex(true)})
	register(&Descriptor{Name: "GETSET", MinArgs: 3, MaxArgs: 3, Write: true, Handler: handleGetset})
	register(&Descriptor{Name: "GETDEL", MinArgs: 2, MaxArgs: 2, Write: true, Handler: handleGetdel})
	register(&Descriptor{Name: "GETEX", MinArgs: 2, MaxArgs: -1, Write: true, Handler: handleGetex})
	register(&Descriptor{Name: "APPEND", MinArgs: 3, MaxArgs: 3, Write: true, Handler: handleAppend})
	register(&Descriptor{Name: "SETRANGE", MinArgs: 4, MaxArgs: 4, Write: true, Handler: handleSetrange})
	register(&Descriptor{Name: "MSET", MinArgs: 3, MaxArgs: -1, Parity: ParityOdd, Write: true, Handler: handleMset})
	register(&Descriptor{Name: "MSETNX", MinArgs: 3, MaxArgs: -1, Parity: ParityOdd, Write: true, Handler: handleMsetnx})
}

func handleGet(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	v, ok := ctx.Store.Get(string(args[1]))
	if !ok {
		return resp.NilBulk(), nil, false
	}
	if v.Kind != store.KindString {
		return errWrongType(), nil, false
	}
	return resp.Bulk(v.Str), nil, false
}

func handleGetRange(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	start, err1 := strconv.Atoi(string(args[2]))
	end, err2 := strconv.Atoi(string(args[3]))
	if err1 != nil || err2 != nil {
		return errNotInt(), nil, false
	}
	v, ok := ctx.Store.Get(string(args[1]))
	if !ok {
		return resp.Bulk(nil), nil, false
	}
	if v.Kind != store.KindString {
		return errWrongType(), nil, false
	}
	return resp.Bulk(byteRange(v.Str, start, end)), nil, false
}

// byteRange applies Redis's inclusive, negative-from-end GETRANGE indexing.
func byteRange(b []byte, start, end int) []byte {
	n := len(b)
	if n == 0 {
		return []byte{}
	}
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if start > end || start >= n {
		return []byte{}
	}
	out := make([]byte, end-start+1)
	copy(out, b[start:end+1])
	return out
}

func handleStrlen(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	v, ok := ctx.Store.Get(string(args[1]))
	if !ok {
		return resp.Int(0), nil, false
	}
	if v.Kind != store.KindString {
		return errWrongType(), nil, false
	}
	return resp.Int(int64(len(v.Str))), nil, false
}

func handleMget(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	items := make([]resp.Frame, len(args)-1)
	for i, k := range args[1:] {
		v, ok := ctx.Store.Get(string(k))
		if !ok || v.Kind != store.KindString {
			items[i] = resp.NilBulk()
			continue
		}
		items[i] = resp.Bulk(v.Str)
	}
	return resp.Arr(items...), nil, false
}

func handleType(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	kind, ok := ctx.Store.Type(string(args[1]))
	if !ok {
		return resp.Simple("none"), nil, false
	}
	return resp.Simple(kind), nil, false
}

var errGetOnNonString = errors.New("command: GET modifier against non-string value")

type setOutcome struct {
	hadOld         bool
	old            []byte
	aborted        bool
	finalExpiresAt int64
}

// handleSet implements SET with its EX/PX/EXAT/PXAT/NX/XX/KEEPTTL/GET
// modifiers (spec §4.2).
func handleSet(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	key := string(args[1])
	val := args[2]

	var nx, xx, keepttl, getFlag bool
	var ttlMode string
	var ttlVal int64

	rest := args[3:]
	for i := 0; i < len(rest); {
		tok := strings.ToUpper(string(rest[i]))
		switch tok {
		case "NX":
			if xx {
				return errSyntax(), nil, false
			}
			nx = true
			i++
		case "XX":
			if nx {
				return errSyntax(), nil, false
			}
			xx = true
			i++
		case "KEEPTTL":
			if ttlMode != "" {
				return errSyntax(), nil, false
			}
			keepttl = true
			i++
		case "GET":
			getFlag = true
			i++
		case "EX", "PX", "EXAT", "PXAT":
			if ttlMode != "" || keepttl || i+1 >= len(rest) {
				return errSyntax(), nil, false
			}
			n, err := strconv.ParseInt(string(rest[i+1]), 10, 64)
			if err != nil {
				return errNotInt(), nil, false
			}
			ttlMode, ttlVal = tok, n
			i += 2
		default:
			return errSyntax(), nil, false
		}
	}
	if (ttlMode == "EX" || ttlMode == "PX") && ttlVal <= 0 {
		return resp.Err("ERR invalid expire time in 'set' command"), nil, false
	}

	now := ctx.Store.Now()
	var expiresAt int64
	switch ttlMode {
	case "EX":
		expiresAt = now + ttlVal*1000
	case "PX":
		expiresAt = now + ttlVal
	case "EXAT":
		expiresAt = ttlVal * 1000
	case "PXAT":
		expiresAt = ttlVal
	}

	result, mErr := ctx.Store.Mutate(key, func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		oc := setOutcome{}
		if exists {
			oc.hadOld = true
			if cur.Value.Kind == store.KindString {
				oc.old = append([]byte(nil), cur.Value.Str...)
			} else if getFlag {
				return nil, nil, false, false, errGetOnNonString
			}
		}
		if (nx && exists) || (xx && !exists) {
			oc.aborted = true
			return oc, nil, false, false, nil
		}
		newExpiresAt := expiresAt
		if keepttl && exists {
			newExpiresAt = cur.ExpiresAt
		}
		oc.finalExpiresAt = newExpiresAt
		next := &store.Entry{Value: store.StringValue(val), ExpiresAt: newExpiresAt}
		return oc, next, true, false, nil
	})
	if mErr != nil {
		return errWrongType(), nil, false
	}
	oc := result.(setOutcome)

	if oc.aborted {
		if getFlag {
			if oc.hadOld {
				return resp.Bulk(oc.old), nil, false
			}
		}
		return resp.NilBulk(), nil, false
	}

	replay := [][]byte{[]byte("SET"), args[1], val}
	if oc.finalExpiresAt != 0 {
		replay = append(replay, []byte("PXAT"), []byte(strconv.FormatInt(oc.finalExpiresAt, 10)))
	}
	if getFlag {
		if oc.hadOld {
			return resp.Bulk(oc.old), replay, true
		}
		return resp.NilBulk(), replay, true
	}
	return resp.OK(), replay, true
}

func handleSetnx(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	result, _ := ctx.Store.Mutate(string(args[1]), func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		if exists {
			return int64(0), nil, false, false, nil
		}
		return int64(1), &store.Entry{Value: store.StringValue(args[2])}, true, false, nil
	})
	n := result.(int64)
	if n == 0 {
		return resp.Int(0), nil, false
	}
	return resp.Int(1), [][]byte{[]byte("SET"), args[1], args[2]}, true
}

// handleSetex builds SETEX/PSETEX handlers; ms selects whether the TTL
// argument is seconds (false) or milliseconds (true).
func handleSetex(ms bool) HandlerFunc {
	return func(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
		n, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return errNotInt(), nil, false
		}
		if n <= 0 {
			verb := "setex"
			if ms {
				verb = "psetex"
			}
			return resp.Err("ERR invalid expire time in '" + verb + "' command"), nil, false
		}
		now := ctx.Store.Now()
		var expiresAt int64
		if ms {
			expiresAt = now + n
		} else {
			expiresAt = now + n*1000
		}
		ctx.Store.Set(string(args[1]), store.StringValue(args[3]), expiresAt)
		replay := [][]byte{[]byte("SET"), args[1], args[3], []byte("PXAT"), []byte(strconv.FormatInt(expiresAt, 10))}
		return resp.OK(), replay, true
	}
}

func handleGetset(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	result, mErr := ctx.Store.Mutate(string(args[1]), func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		var old []byte
		hadOld := false
		if exists {
			if cur.Value.Kind != store.KindString {
				return nil, nil, false, false, errGetOnNonString
			}
			old, hadOld = cur.Value.Str, true
		}
		next := &store.Entry{Value: store.StringValue(args[2])}
		return setOutcome{hadOld: hadOld, old: old}, next, true, false, nil
	})
	if mErr != nil {
		return errWrongType(), nil, false
	}
	oc := result.(setOutcome)
	replay := [][]byte{[]byte("SET"), args[1], args[2]}
	if oc.hadOld {
		return resp.Bulk(oc.old), replay, true
	}
	return resp.NilBulk(), replay, true
}

func handleGetdel(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	v, ok := ctx.Store.Get(string(args[1]))
	if !ok {
		return resp.NilBulk(), nil, false
	}
	if v.Kind != store.KindString {
		return errWrongType(), nil, false
	}
	ctx.Store.Delete(string(args[1]))
	return resp.Bulk(v.Str), [][]byte{[]byte("DEL"), args[1]}, true
}

// handleGetex sets or clears TTL without changing the value, returning
// the current value (spec §4.2). With no modifiers it behaves like GET
// and performs no write.
func handleGetex(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	var persist bool
	var ttlMode string
	var ttlVal int64

	rest := args[2:]
	for i := 0; i < len(rest); {
		tok := strings.ToUpper(string(rest[i]))
		switch tok {
		case "PERSIST":
			persist = true
			i++
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(rest) {
				return errSyntax(), nil, false
			}
			n, err := strconv.ParseInt(string(rest[i+1]), 10, 64)
			if err != nil {
				return errNotInt(), nil, false
			}
			ttlMode, ttlVal = tok, n
			i += 2
		default:
			return errSyntax(), nil, false
		}
	}
	if persist && ttlMode != "" {
		return errSyntax(), nil, false
	}
	if ttlMode == "" && !persist {
		v, ok := ctx.Store.Get(string(args[1]))
		if !ok {
			return resp.NilBulk(), nil, false
		}
		if v.Kind != store.KindString {
			return errWrongType(), nil, false
		}
		return resp.Bulk(v.Str), nil, false
	}

	now := ctx.Store.Now()
	var newExpiresAt int64
	switch ttlMode {
	case "EX":
		newExpiresAt = now + ttlVal*1000
	case "PX":
		newExpiresAt = now + ttlVal
	case "EXAT":
		newExpiresAt = ttlVal * 1000
	case "PXAT":
		newExpiresAt = ttlVal
	}

	type outcome struct {
		val    []byte
		exists bool
	}
	result, mErr := ctx.Store.Mutate(string(args[1]), func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		if !exists {
			return outcome{}, nil, false, false, nil
		}
		if cur.Value.Kind != store.KindString {
			return nil, nil, false, false, errGetOnNonString
		}
		next := &store.Entry{Value: cur.Value, ExpiresAt: newExpiresAt}
		return outcome{val: cur.Value.Str, exists: true}, next, true, false, nil
	})
	if mErr != nil {
		return errWrongType(), nil, false
	}
	oc := result.(outcome)
	if !oc.exists {
		return resp.NilBulk(), nil, false
	}
	var replay [][]byte
	if persist {
		replay = [][]byte{[]byte("PERSIST"), args[1]}
	} else {
		replay = [][]byte{[]byte("SET"), args[1], oc.val, []byte("PXAT"), []byte(strconv.FormatInt(newExpiresAt, 10))}
	}
	return resp.Bulk(oc.val), replay, true
}

func handleAppend(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	result, mErr := ctx.Store.Mutate(string(args[1]), func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		if exists && cur.Value.Kind != store.KindString {
			return nil, nil, false, false, errGetOnNonString
		}
		var combined []byte
		var expiresAt int64
		if exists {
			combined = append(append([]byte(nil), cur.Value.Str...), args[2]...)
			expiresAt = cur.ExpiresAt
		} else {
			combined = append([]byte(nil), args[2]...)
		}
		next := &store.Entry{Value: store.StringValue(combined), ExpiresAt: expiresAt}
		return int64(len(combined)), next, true, false, nil
	})
	if mErr != nil {
		return errWrongType(), nil, false
	}
	n := result.(int64)
	return resp.Int(n), [][]byte{[]byte("SET"), args[1], finalStringValue(ctx, string(args[1]))}, true
}

func finalStringValue(ctx *Context, key string) []byte {
	v, _ := ctx.Store.Get(key)
	return v.Str
}

func handleSetrange(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	offset, err := strconv.Atoi(string(args[2]))
	if err != nil || offset < 0 {
		return resp.Err("ERR offset is out of range"), nil, false
	}
	patch := args[3]

	result, mErr := ctx.Store.Mutate(string(args[1]), func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		if exists && cur.Value.Kind != store.KindString {
			return nil, nil, false, false, errGetOnNonString
		}
		if len(patch) == 0 {
			if !exists {
				return int64(0), nil, false, false, nil
			}
			return int64(len(cur.Value.Str)), nil, false, false, nil
		}
		var base []byte
		var expiresAt int64
		if exists {
			base = append([]byte(nil), cur.Value.Str...)
			expiresAt = cur.ExpiresAt
		}
		need := offset + len(patch)
		if len(base) < need {
			grown := make([]byte, need)
			copy(grown, base)
			base = grown
		}
		copy(base[offset:], patch)
		next := &store.Entry{Value: store.StringValue(base), ExpiresAt: expiresAt}
		return int64(len(base)), next, true, false, nil
	})
	if mErr != nil {
		return errWrongType(), nil, false
	}
	n := result.(int64)
	if len(patch) == 0 {
		return resp.Int(n), nil, false
	}
	return resp.Int(n), [][]byte{[]byte("SET"), args[1], finalStringValue(ctx, string(args[1]))}, true
}

func handleMset(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	pairs := args[1:]
	keys := make([]string, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		keys = append(keys, string(pairs[i]))
	}
	_, _ = ctx.Store.MutateMulti(keys, func(cur map[string]*store.Entry) (map[string]*store.Entry, []string, interface{}, error) {
		writes := make(map[string]*store.Entry, len(keys))
		for i := 0; i < len(pairs); i += 2 {
			writes[string(pairs[i])] = &store.Entry{Value: store.StringValue(pairs[i+1])}
		}
		return writes, nil, nil, nil
	})
	return resp.OK(), args, true
}

func handleMsetnx(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	pairs := args[1:]
	keys := make([]string, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		keys = append(keys, string(pairs[i]))
	}
	result, _ := ctx.Store.MutateMulti(keys, func(cur map[string]*store.Entry) (map[string]*store.Entry, []string, interface{}, error) {
		for _, k := range keys {
			if _, exists := cur[k]; exists {
				return nil, nil, int64(0), nil
			}
		}
		writes := make(map[string]*store.Entry, len(keys))
		for i := 0; i < len(pairs); i += 2 {
			writes[string(pairs[i])] = &store.Entry{Value: store.StringValue(pairs[i+1])}
		}
		return writes, nil, int64(1), nil
	})
	n := result.(int64)
	if n == 0 {
		return resp.Int(0), nil, false
	}
	return resp.Int(1), args, true
}

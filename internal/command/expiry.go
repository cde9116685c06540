package command

import (
	"strconv"
	"strings"

	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/store"
)

func init() {
	register(&Descriptor{Name: "EXPIRE", MinArgs: 3, MaxArgs: 4, Write: true, Handler: handleExpireFamily(1000, false)})
	register(&Descriptor{Name: "PEXPIRE", MinArgs: 3, MaxArgs: 4, Write: true, Handler: handleExpireFamily(1, false)})
	register(&Descriptor{Name: "EXPIREAT", MinArgs: 3, MaxArgs: 4, Write: true, Handler: handleExpireFamily(1000, true)})
	register(&Descriptor{Name: "PEXPIREAT", MinArgs: 3, MaxArgs: 4, Write: true, Handler: handleExpireFamily(1, true)})
	register(&Descriptor{Name: "TTL", MinArgs: 2, MaxArgs: 2, Handler: handleTTL(1000)})
	register(&Descriptor{Name: "PTTL", MinArgs: 2, MaxArgs: 2, Handler: handleTTL(1)})
	register(&Descriptor{Name: "PERSIST", MinArgs: 2, MaxArgs: 2, Write: true, Handler: handlePersist})
}

// handleExpireFamily builds EXPIRE/PEXPIRE/EXPIREAT/PEXPIREAT.
// unitMsPerTick converts the command's own time unit to milliseconds;
// absolute selects EXPIREAT-style (already-absolute) inputs.
func handleExpireFamily(unitMsPerTick int64, absolute bool) HandlerFunc {
	return func(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
		n, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return errNotInt(), nil, false
		}
		var mode string
		if len(args) == 4 {
			mode = strings.ToUpper(string(args[3]))
			switch mode {
			case "NX", "XX", "GT", "LT":
			default:
				return errSyntax(), nil, false
			}
		}

		now := ctx.Store.Now()
		var target int64
		if absolute {
			target = n * unitMsPerTick
		} else {
			target = now + n*unitMsPerTick
		}

		if target <= now {
			// EXPIRE ... 0 or an already-past deadline deletes the key
			// immediately (spec §8 boundary behavior).
			deleted := ctx.Store.Delete(string(args[1]))
			if deleted == 0 {
				return resp.Int(0), nil, false
			}
			return resp.Int(1), [][]byte{[]byte("DEL"), args[1]}, true
		}

		result, mErr := ctx.Store.Mutate(string(args[1]), func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
			if !exists {
				return int64(0), nil, false, false, nil
			}
			switch mode {
			case "NX":
				if cur.ExpiresAt != 0 {
					return int64(0), nil, false, false, nil
				}
			case "XX":
				if cur.ExpiresAt == 0 {
					return int64(0), nil, false, false, nil
				}
			case "GT":
				if cur.ExpiresAt == 0 || target <= cur.ExpiresAt {
					return int64(0), nil, false, false, nil
				}
			case "LT":
				if cur.ExpiresAt != 0 && target >= cur.ExpiresAt {
					return int64(0), nil, false, false, nil
				}
			}
			next := &store.Entry{Value: cur.Value, ExpiresAt: target}
			return int64(1), next, true, false, nil
		})
		_ = mErr
		n2 := result.(int64)
		if n2 == 0 {
			return resp.Int(0), nil, false
		}
		return resp.Int(1), [][]byte{[]byte("PEXPIREAT"), args[1], []byte(strconv.FormatInt(target, 10))}, true
	}
}

func handleTTL(msPerUnit int64) HandlerFunc {
	return func(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
		e, ok := ctx.Store.GetEntry(string(args[1]))
		if !ok {
			return resp.Int(-2), nil, false
		}
		if e.ExpiresAt == 0 {
			return resp.Int(-1), nil, false
		}
		remainingMs := e.ExpiresAt - ctx.Store.Now()
		if remainingMs < 0 {
			remainingMs = 0
		}
		return resp.Int(remainingMs / msPerUnit), nil, false
	}
}

func handlePersist(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	result, _ := ctx.Store.Mutate(string(args[1]), func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		if !exists || cur.ExpiresAt == 0 {
			return int64(0), nil, false, false, nil
		}
		next := &store.Entry{Value: cur.Value, ExpiresAt: 0}
		return int64(1), next, true, false, nil
	})
	n := result.(int64)
	if n == 0 {
		return resp.Int(0), nil, false
	}
	return resp.Int(1), args, true
}

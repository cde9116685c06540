package command

import (
	"sort"
	"strconv"
	"strings"

	"github.com/lassejlv/fedis/internal/resp"
)

func init() {
	register(&Descriptor{Name: "DEL", MinArgs: 2, MaxArgs: -1, Write: true, Handler: handleDel})
	register(&Descriptor{Name: "UNLINK", MinArgs: 2, MaxArgs: -1, Write: true, Handler: handleDel})
	register(&Descriptor{Name: "EXISTS", MinArgs: 2, MaxArgs: -1, Handler: handleExists})
	register(&Descriptor{Name: "DBSIZE", MinArgs: 1, MaxArgs: 1, Handler: handleDbsize})
	register(&Descriptor{Name: "KEYS", MinArgs: 2, MaxArgs: 2, Handler: handleKeys})
	register(&Descriptor{Name: "SCAN", MinArgs: 2, MaxArgs: -1, Handler: handleScan})
}

func handleDel(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	keys := make([]string, len(args)-1)
	for i, k := range args[1:] {
		keys[i] = string(k)
	}
	n := ctx.Store.Delete(keys...)
	if n == 0 {
		return resp.Int(0), nil, false
	}
	return resp.Int(int64(n)), args, true
}

func handleExists(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	keys := make([]string, len(args)-1)
	for i, k := range args[1:] {
		keys[i] = string(k)
	}
	return resp.Int(int64(ctx.Store.Exists(keys...))), nil, false
}

func handleDbsize(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	return resp.Int(int64(ctx.Store.DBSize())), nil, false
}

func handleKeys(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	pattern := string(args[1])
	all := ctx.Store.Keys()
	items := make([]resp.Frame, 0, len(all))
	for _, k := range all {
		if matchGlob(pattern, k) {
			items = append(items, resp.BulkFromString(k))
		}
	}
	return resp.Arr(items...), nil, false
}

// handleScan implements the stateless cursor-over-a-freshly-sorted-
// snapshot semantics from spec §4.2: the server recomputes the matching
// key set on every call (no server-side cursor state survives between
// calls), sorts it for a stable cursor meaning within one logical scan,
// and returns a slice of it starting at the cursor offset.
func handleScan(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	cursor, err := strconv.Atoi(string(args[1]))
	if err != nil || cursor < 0 {
		return resp.Err("ERR invalid cursor"), nil, false
	}

	pattern := "*"
	count := 10
	var typeFilter string

	rest := args[2:]
	for i := 0; i < len(rest); i += 2 {
		if i+1 >= len(rest) {
			return errSyntax(), nil, false
		}
		switch strings.ToUpper(string(rest[i])) {
		case "MATCH":
			pattern = string(rest[i+1])
		case "COUNT":
			n, err := strconv.Atoi(string(rest[i+1]))
			if err != nil || n <= 0 {
				return errNotInt(), nil, false
			}
			count = n
		case "TYPE":
			typeFilter = strings.ToLower(string(rest[i+1]))
		default:
			return errSyntax(), nil, false
		}
	}

	all := ctx.Store.Keys()
	matching := make([]string, 0, len(all))
	for _, k := range all {
		if !matchGlob(pattern, k) {
			continue
		}
		if typeFilter != "" {
			kind, ok := ctx.Store.Type(k)
			if !ok || kind != typeFilter {
				continue
			}
		}
		matching = append(matching, k)
	}
	sort.Strings(matching)

	if cursor >= len(matching) {
		return resp.Arr(resp.BulkFromString("0"), resp.Arr()), nil, false
	}
	end := cursor + count
	nextCursor := "0"
	if end < len(matching) {
		nextCursor = strconv.Itoa(end)
	} else {
		end = len(matching)
	}
	batch := make([]resp.Frame, end-cursor)
	for i, k := range matching[cursor:end] {
		batch[i] = resp.BulkFromString(k)
	}
	return resp.Arr(resp.BulkFromString(nextCursor), resp.Arr(batch...)), nil, false
}

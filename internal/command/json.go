package command

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/store"
)

// JSON.SET/JSON.GET are the minimal mutator/accessor pair for the
// "root-path JSON value variant" spec §1/§3 name in the data model but
// never assign a command to: Value is explicitly a tagged
// StringValue/JsonValue union, so something has to be able to produce a
// JsonValue. Restricted to the root path "$", matching the literal
// phrase "root-path JSON value" rather than inventing a full JSONPath
// surface, which spec §1's Non-goals would rule out anyway (no new
// composite data structures beyond this one value kind).
func init() {
	register(&Descriptor{Name: "JSON.SET", MinArgs: 4, MaxArgs: 6, Write: true, Handler: handleJSONSet})
	register(&Descriptor{Name: "JSON.GET", MinArgs: 2, MaxArgs: 3, Handler: handleJSONGet})
}

// handleJSONSet accepts an optional trailing "PXAT ms" pair, the
// replay-safe absolute-deadline form a BGREWRITEAOF-produced record
// carries (internal/aof's setCommandArgs); a live client-issued JSON.SET
// never sends it and keeps whatever TTL the key already had.
func handleJSONSet(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	if string(args[2]) != "$" {
		return resp.Err("ERR JSON.SET only supports the root path '$'"), nil, false
	}
	var explicitExpiresAt int64
	hasExplicit := false
	if len(args) == 6 {
		if strings.ToUpper(string(args[4])) != "PXAT" {
			return errSyntax(), nil, false
		}
		n, err := strconv.ParseInt(string(args[5]), 10, 64)
		if err != nil {
			return errNotInt(), nil, false
		}
		explicitExpiresAt, hasExplicit = n, true
	} else if len(args) != 4 {
		return errSyntax(), nil, false
	}

	var doc interface{}
	if err := json.Unmarshal(args[3], &doc); err != nil {
		return resp.Err("ERR invalid JSON: " + err.Error()), nil, false
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return resp.Err("ERR " + err.Error()), nil, false
	}

	_, mErr := ctx.Store.Mutate(string(args[1]), func(cur *store.Entry, exists bool) (interface{}, *store.Entry, bool, bool, error) {
		expiresAt := explicitExpiresAt
		if !hasExplicit && exists {
			expiresAt = cur.ExpiresAt
		}
		next := &store.Entry{Value: store.JSONValue(doc, canonical), ExpiresAt: expiresAt}
		return nil, next, true, false, nil
	})
	if mErr != nil {
		return resp.Err("ERR " + mErr.Error()), nil, false
	}
	return resp.OK(), [][]byte{[]byte("JSON.SET"), args[1], []byte("$"), canonical}, true
}

func handleJSONGet(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	if len(args) == 3 && string(args[2]) != "$" {
		return resp.Err("ERR JSON.GET only supports the root path '$'"), nil, false
	}
	v, ok := ctx.Store.Get(string(args[1]))
	if !ok {
		return resp.NilBulk(), nil, false
	}
	if v.Kind != store.KindJSON {
		return errWrongType(), nil, false
	}
	return resp.Bulk(v.Str), nil, false
}

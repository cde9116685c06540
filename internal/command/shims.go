package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lassejlv/fedis/internal/resp"
)

// Shims satisfy clients that probe for these commands but have no
// meaningful server-side effect on a single-node, non-replicated, non-
// clustered deployment (spec §4.2, GLOSSARY "Shim").
func init() {
	register(&Descriptor{Name: "HELLO", MinArgs: 1, MaxArgs: -1, Handler: handleHello})
	register(&Descriptor{Name: "CLIENT", MinArgs: 2, MaxArgs: -1, Handler: handleClient})
	register(&Descriptor{Name: "COMMAND", MinArgs: 1, MaxArgs: -1, Handler: handleCommand})
	register(&Descriptor{Name: "CONFIG", MinArgs: 2, MaxArgs: -1, Handler: handleConfig})
	register(&Descriptor{Name: "LATENCY", MinArgs: 2, MaxArgs: -1, Handler: handleStubArray})
	register(&Descriptor{Name: "SLOWLOG", MinArgs: 2, MaxArgs: -1, Handler: handleSlowlog})
	register(&Descriptor{Name: "MEMORY", MinArgs: 2, MaxArgs: -1, Handler: handleMemory})
	register(&Descriptor{Name: "OBJECT", MinArgs: 3, MaxArgs: -1, Handler: handleObject})
	register(&Descriptor{Name: "ACL", MinArgs: 2, MaxArgs: -1, Handler: handleACL})
	register(&Descriptor{Name: "MODULE", MinArgs: 2, MaxArgs: -1, Handler: handleModule})
	register(&Descriptor{Name: "RESET", MinArgs: 1, MaxArgs: 1, Handler: handleReset})
	register(&Descriptor{Name: "WAIT", MinArgs: 3, MaxArgs: 3, Handler: handleWait})
	register(&Descriptor{Name: "FAILOVER", MinArgs: 1, MaxArgs: -1, Handler: handleFailover})
}

func handleHello(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	proto := ctx.Conn.Protocol
	if len(args) >= 2 {
		n, err := strconv.Atoi(string(args[1]))
		if err != nil || (n != 2 && n != 3) {
			return resp.Err("NOPROTO unsupported protocol version"), nil, false
		}
		proto = n
	}
	ctx.Conn.Protocol = proto

	fields := []resp.Frame{
		resp.BulkFromString("server"), resp.BulkFromString("fedis"),
		resp.BulkFromString("version"), resp.BulkFromString("7.0.0-fedis"),
		resp.BulkFromString("proto"), resp.Int(int64(proto)),
		resp.BulkFromString("id"), resp.Int(int64(ctx.Conn.ID)),
		resp.BulkFromString("mode"), resp.BulkFromString("standalone"),
		resp.BulkFromString("role"), resp.BulkFromString("master"),
		resp.BulkFromString("modules"), resp.Arr(),
	}
	if proto == 3 {
		return resp.Frame{Type: resp.Map, Array: fields}, nil, false
	}
	return resp.Arr(fields...), nil, false
}

func handleClient(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	sub := strings.ToUpper(string(args[1]))
	switch sub {
	case "SETNAME":
		if len(args) != 3 {
			return errWrongArgs("client|setname"), nil, false
		}
		ctx.Conn.Name = string(args[2])
		return resp.OK(), nil, false
	case "GETNAME":
		return resp.BulkFromString(ctx.Conn.Name), nil, false
	case "ID":
		return resp.Int(int64(ctx.Conn.ID)), nil, false
	case "SETINFO":
		return resp.OK(), nil, false
	case "TRACKING":
		return resp.OK(), nil, false
	case "LIST":
		line := fmt.Sprintf("id=%d addr=? name=%s age=%d\n", ctx.Conn.ID, ctx.Conn.Name, 0)
		return resp.BulkFromString(line), nil, false
	case "NO-EVICT", "NO-TOUCH":
		return resp.OK(), nil, false
	default:
		return resp.Err("ERR Unknown CLIENT subcommand or wrong number of arguments for '" + sub + "'"), nil, false
	}
}

func handleCommand(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	if len(args) == 1 {
		items := make([]resp.Frame, 0, len(registry))
		for name := range registry {
			items = append(items, resp.Arr(resp.BulkFromString(strings.ToLower(name))))
		}
		return resp.Arr(items...), nil, false
	}
	sub := strings.ToUpper(string(args[1]))
	switch sub {
	case "COUNT":
		return resp.Int(int64(len(registry))), nil, false
	case "DOCS", "INFO":
		return resp.Arr(), nil, false
	default:
		return resp.Arr(), nil, false
	}
}

func handleConfig(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	sub := strings.ToUpper(string(args[1]))
	switch sub {
	case "GET":
		if len(args) != 3 {
			return errWrongArgs("config|get"), nil, false
		}
		// Configuration values are resolved at startup and not exposed
		// back through CONFIG GET beyond the shim response shape (spec
		// §4.2: "returns configured value if known, else empty").
		return resp.Arr(), nil, false
	case "SET":
		return resp.OK(), nil, false
	case "RESETSTAT":
		return resp.OK(), nil, false
	default:
		return resp.Err("ERR Unknown CONFIG subcommand '" + sub + "'"), nil, false
	}
}

func handleStubArray(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	return resp.Arr(), nil, false
}

func handleSlowlog(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	sub := strings.ToUpper(string(args[1]))
	switch sub {
	case "GET":
		return resp.Arr(), nil, false
	case "LEN":
		return resp.Int(0), nil, false
	case "RESET":
		return resp.OK(), nil, false
	default:
		return resp.Arr(), nil, false
	}
}

func handleMemory(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	sub := strings.ToUpper(string(args[1]))
	switch sub {
	case "USAGE":
		if len(args) < 3 {
			return errWrongArgs("memory|usage"), nil, false
		}
		v, ok := ctx.Store.Get(string(args[2]))
		if !ok {
			return resp.NilBulk(), nil, false
		}
		return resp.Int(int64(len(v.Str)) + 48), nil, false
	case "STATS":
		return resp.Arr(), nil, false
	default:
		return resp.Arr(), nil, false
	}
}

func handleObject(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	sub := strings.ToUpper(string(args[1]))
	key := string(args[2])
	switch sub {
	case "ENCODING":
		kind, ok := ctx.Store.Type(key)
		if !ok {
			return resp.NilBulk(), nil, false
		}
		if kind == "json" {
			return resp.BulkFromString("embstr"), nil, false
		}
		return resp.BulkFromString("raw"), nil, false
	case "IDLETIME":
		return resp.Int(0), nil, false
	case "FREQ":
		return resp.Int(0), nil, false
	case "REFCOUNT":
		if _, ok := ctx.Store.Get(key); !ok {
			return resp.NilBulk(), nil, false
		}
		return resp.Int(1), nil, false
	default:
		return resp.Err("ERR Unknown OBJECT subcommand '" + sub + "'"), nil, false
	}
}

func handleACL(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	sub := strings.ToUpper(string(args[1]))
	switch sub {
	case "WHOAMI":
		if ctx.Conn.User != nil {
			return resp.BulkFromString(ctx.Conn.User.Name), nil, false
		}
		return resp.BulkFromString("default"), nil, false
	case "LIST":
		return resp.Arr(resp.BulkFromString("user default on nopass ~* &* +@all")), nil, false
	default:
		return resp.Arr(), nil, false
	}
}

func handleModule(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	return resp.Arr(), nil, false
}

func handleReset(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	ctx.Conn.Authenticated = false
	ctx.Conn.User = nil
	ctx.Conn.Name = ""
	ctx.Conn.Protocol = 2
	return resp.Simple("RESET"), nil, false
}

func handleWait(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	return resp.Int(0), nil, false
}

func handleFailover(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	return resp.Err("ERR FAILOVER requires connected replicas."), nil, false
}

package command

import (
	"errors"

	"github.com/lassejlv/fedis/internal/resp"
)

// Sentinel errors threaded through store.Mutate closures to distinguish
// failure reasons once control returns to the handler.
var (
	errNotIntSentinel   = errors.New("command: value is not an integer")
	errOverflowSentinel = errors.New("command: increment would overflow")
)

// Shared error replies, named after the spec §7 prefixes they carry.
func errWrongType() resp.Frame {
	return resp.Err("WRONGTYPE Operation against a key holding the wrong kind of value")
}

func errSyntax() resp.Frame {
	return resp.Err("SYNTAX syntax error")
}

func errNotInt() resp.Frame {
	return resp.Err("ERR value is not an integer or out of range")
}

func errOverflow() resp.Frame {
	return resp.Err("ERR increment or decrement would overflow")
}

func errWrongArgs(verb string) resp.Frame {
	return resp.Err("ERR wrong number of arguments for '" + verb + "' command")
}

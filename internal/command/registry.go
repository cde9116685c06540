package command

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/lassejlv/fedis/internal/resp"
)

// HandlerFunc executes one command.
//
// replay is the replay-safe argument vector to write to the AOF; nil
// falls back to the original args unchanged (the common case — only
// TTL-bearing commands need to resolve relative time into an absolute
// deadline). wrote reports whether this call actually changed the
// keyspace: a no-op write command (SETNX on an existing key, DEL of a
// missing key, EXPIRE NX that loses the race) emits no AOF record at
// all, mirroring Redis's own dirty-counter gate on propagation.
type HandlerFunc func(ctx *Context, args [][]byte) (reply resp.Frame, replay [][]byte, wrote bool)

// Parity constrains the argument count beyond MinArgs.
type Parity byte

const (
	ParityAny Parity = iota
	ParityEven
	ParityOdd
)

// Descriptor is one verb's registration (spec §4.2: "{ name, arity_spec,
// write_flag, handler }").
type Descriptor struct {
	Name    string
	MinArgs int // counts the verb itself, e.g. GET key => MinArgs 2
	MaxArgs int // -1 = unbounded
	Parity  Parity
	Write   bool
	Handler HandlerFunc
}

func (d *Descriptor) arityOK(n int) bool {
	if n < d.MinArgs {
		return false
	}
	if d.MaxArgs >= 0 && n > d.MaxArgs {
		return false
	}
	switch d.Parity {
	case ParityEven:
		if (n-1)%2 != 0 {
			return false
		}
	case ParityOdd:
		if (n-1)%2 == 0 {
			return false
		}
	}
	return true
}

var registry = make(map[string]*Descriptor)

func register(d *Descriptor) {
	registry[d.Name] = d
}

// loadingAllowed is the spec §7 LOADING-exempt verb set.
var loadingAllowed = map[string]bool{
	"PING": true, "INFO": true, "AUTH": true, "HELLO": true,
}

// unauthAllowed is the spec §4.2 step-3 pre-auth allowlist.
var unauthAllowed = map[string]bool{
	"AUTH": true, "HELLO": true, "PING": true, "QUIT": true, "COMMAND": true,
}

// Dispatch runs the full pipeline from spec §4.2 for one decoded command
// frame's argument vector (args[0] is the verb).
func Dispatch(ctx *Context, args [][]byte) resp.Frame {
	verb := strings.ToUpper(string(args[0]))

	d, ok := registry[verb]
	if !ok {
		return resp.Err(fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
	if !d.arityOK(len(args)) {
		return resp.Err(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(verb)))
	}
	if ctx.Loading.Load() && !loadingAllowed[verb] {
		return resp.Err("LOADING fedis is loading the dataset in memory")
	}

	passwordConfigured := ctx.Users.DefaultRequiresPassword()
	if passwordConfigured && !ctx.Conn.Authenticated && !unauthAllowed[verb] {
		return resp.Err("NOAUTH Authentication required.")
	}

	effectiveUser := ctx.Conn.User
	if effectiveUser == nil {
		effectiveUser, _ = ctx.Users.User("default")
	}
	if effectiveUser != nil && !effectiveUser.Allows(verb) {
		return resp.Err(fmt.Sprintf("NOPERM User %s has no permissions to run the '%s' command", effectiveUser.Name, strings.ToLower(verb)))
	}

	if d.Write && ctx.MaxMemoryBytes > 0 && currentMemoryUsage() > uint64(ctx.MaxMemoryBytes) {
		return resp.Err("OOM command not allowed when used memory > 'maxmemory'")
	}

	start := time.Now()
	reply, replayArgs, wrote := d.Handler(ctx, args)
	ctx.Stats.Record(verb, time.Since(start))

	if d.Write && wrote && reply.Type != resp.Error {
		emitArgs := replayArgs
		if emitArgs == nil {
			emitArgs = args
		}
		if ctx.AOF != nil {
			if err := ctx.AOF.Append(emitArgs); err != nil {
				return resp.Err("ERR " + err.Error())
			}
		}
		if ctx.Snapshot != nil {
			ctx.Snapshot.MarkDirty()
		}
	}
	return reply
}

// ApplyForRecovery executes args directly against the keyspace with no
// auth/ACL/arity gate and no AOF emission, implementing
// recovery.Applier. AOF records were themselves produced by this same
// dispatch pipeline, so they are always well-formed and always
// write-flagged; replaying them is just "run the handler."
func (d *Dispatcher) ApplyForRecovery(args [][]byte) error {
	if len(args) == 0 {
		return nil
	}
	verb := strings.ToUpper(string(args[0]))
	desc, ok := registry[verb]
	if !ok {
		return fmt.Errorf("command: unknown verb %q in AOF replay", verb)
	}
	replayConn := &ConnState{Protocol: 2, Authenticated: true, CreatedAt: time.Now()}
	ctx := &Context{Dispatcher: d, Conn: replayConn}
	reply, _, _ := desc.Handler(ctx, args)
	if reply.Type == resp.Error {
		return fmt.Errorf("command: replaying %q: %s", verb, reply.Str)
	}
	return nil
}

func currentMemoryUsage() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}

package command

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/lassejlv/fedis/internal/aof"
	"github.com/lassejlv/fedis/internal/resp"
	"github.com/lassejlv/fedis/internal/snapshot"
)

func init() {
	register(&Descriptor{Name: "PING", MinArgs: 1, MaxArgs: 2, Handler: handlePing})
	register(&Descriptor{Name: "ECHO", MinArgs: 2, MaxArgs: 2, Handler: handleEcho})
	register(&Descriptor{Name: "TIME", MinArgs: 1, MaxArgs: 1, Handler: handleTime})
	register(&Descriptor{Name: "INFO", MinArgs: 1, MaxArgs: 2, Handler: handleInfo})
	register(&Descriptor{Name: "SELECT", MinArgs: 2, MaxArgs: 2, Handler: handleSelect})
	register(&Descriptor{Name: "QUIT", MinArgs: 1, MaxArgs: 1, Handler: handleQuit})
	register(&Descriptor{Name: "SAVE", MinArgs: 1, MaxArgs: 1, Handler: handleSave})
	register(&Descriptor{Name: "BGSAVE", MinArgs: 1, MaxArgs: 1, Handler: handleBgsave})
	register(&Descriptor{Name: "LASTSAVE", MinArgs: 1, MaxArgs: 1, Handler: handleLastsave})
	register(&Descriptor{Name: "BGREWRITEAOF", MinArgs: 1, MaxArgs: 1, Handler: handleBgrewriteaof})
}

func handlePing(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	if len(args) == 2 {
		return resp.Bulk(args[1]), nil, false
	}
	return resp.Simple("PONG"), nil, false
}

func handleEcho(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	return resp.Bulk(args[1]), nil, false
}

func handleTime(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	now := time.Now()
	sec := now.Unix()
	usec := now.UnixMicro() - sec*1_000_000
	return resp.Arr(
		resp.BulkFromString(strconv.FormatInt(sec, 10)),
		resp.BulkFromString(strconv.FormatInt(usec, 10)),
	), nil, false
}

// handleInfo renders a real, populated INFO body (the SPEC_FULL.md
// supplement over a static stub) since canonical-redis_exporter shows
// INFO output is load-bearing for real client tooling.
func handleInfo(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lastSave := int64(0)
	if ctx.Snapshot != nil {
		lastSave = ctx.Snapshot.LastSave()
	}
	aofEnabled := 0
	if ctx.AOF != nil {
		aofEnabled = 1
	}

	body := fmt.Sprintf(
		"# Server\r\nredis_version:7.0.0-fedis\r\nrole:master\r\nprocess_id:%d\r\nuptime_in_seconds:%d\r\n\r\n"+
			"# Memory\r\nused_memory:%d\r\nused_memory_human:%.2fM\r\n\r\n"+
			"# Persistence\r\naof_enabled:%d\r\nrdb_last_save_time:%d\r\n\r\n"+
			"# Keyspace\r\ndb0:keys=%d,expires=0,avg_ttl=0\r\n",
		os.Getpid(), int(time.Since(ctx.StartedAt).Seconds()),
		m.Alloc, float64(m.Alloc)/(1<<20),
		aofEnabled, lastSave,
		ctx.Store.DBSize(),
	)
	return resp.Bulk([]byte(body)), nil, false
}

func handleSelect(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	n, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return errNotInt(), nil, false
	}
	if n != 0 {
		return resp.Err("ERR SELECT is not allowed in fedis (only database 0 exists)"), nil, false
	}
	return resp.OK(), nil, false
}

func handleQuit(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	return resp.OK(), nil, false
}

func handleSave(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	if ctx.Snapshot == nil {
		return resp.Err("ERR snapshotting is disabled"), nil, false
	}
	if err := ctx.Snapshot.Save(ctx.Store); err != nil {
		return resp.Err("ERR " + err.Error()), nil, false
	}
	return resp.OK(), nil, false
}

func handleBgsave(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	if ctx.Snapshot == nil {
		return resp.Err("ERR snapshotting is disabled"), nil, false
	}
	if err := ctx.Snapshot.BGSave(ctx.Store); err != nil {
		return resp.Err("BUSY " + err.Error()), nil, false
	}
	return resp.Simple(snapshot.BGSaveStartedReply), nil, false
}

func handleLastsave(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	if ctx.Snapshot == nil {
		return resp.Int(0), nil, false
	}
	return resp.Int(ctx.Snapshot.LastSave()), nil, false
}

func handleBgrewriteaof(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	if ctx.AOF == nil {
		return resp.Err("ERR AOF is disabled"), nil, false
	}
	if err := ctx.AOF.BeginRewrite(ctx.Store); err != nil {
		if err == aof.ErrRewriteInProgress {
			return resp.Err("BUSY " + err.Error()), nil, false
		}
		return resp.Err("ERR " + err.Error()), nil, false
	}
	return resp.Simple("Background append only file rewriting started"), nil, false
}

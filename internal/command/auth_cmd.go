package command

import (
	"github.com/lassejlv/fedis/internal/auth"
	"github.com/lassejlv/fedis/internal/resp"
)

func init() {
	register(&Descriptor{Name: "AUTH", MinArgs: 2, MaxArgs: 3, Handler: handleAuth})
}

// handleAuth implements spec §4.4: "AUTH [user] password" against the
// frozen user table, with the distinct no-password-configured reply.
func handleAuth(ctx *Context, args [][]byte) (resp.Frame, [][]byte, bool) {
	var username, password string
	switch len(args) {
	case 2:
		username, password = auth.DefaultUserName, string(args[1])
	case 3:
		username, password = string(args[1]), string(args[2])
	}

	u, err := ctx.Users.Authenticate(username, password)
	if err != nil {
		switch err {
		case auth.ErrNoPasswordSet:
			return resp.Err("ERR Client sent AUTH, but no password is set. Did you mean AUTH <username> <password>?"), nil, false
		case auth.ErrNoSuchUser, auth.ErrWrongPassword:
			return resp.Err("WRONGPASS invalid username-password pair or user is disabled."), nil, false
		case auth.ErrUserDisabled:
			return resp.Err("WRONGPASS invalid username-password pair or user is disabled."), nil, false
		default:
			return resp.Err("ERR " + err.Error()), nil, false
		}
	}
	ctx.Conn.User = u
	ctx.Conn.Authenticated = true
	return resp.OK(), nil, false
}

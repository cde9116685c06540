// Package auth implements the user table and per-user command allowlist
// described in spec §4.4. Users are loaded once at startup (see
// internal/config) and frozen for the process lifetime.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// DefaultUserName is the unconditionally-present user spec §3 requires.
const DefaultUserName = "default"

// AllowAllSentinel is the FEDIS_USER_COMMANDS / UserSpec.Commands value
// that grants every command.
const AllowAllSentinel = "ALL"

var (
	// ErrNoSuchUser is returned by Authenticate for an unknown username.
	ErrNoSuchUser = errors.New("auth: no such user")
	// ErrUserDisabled is returned by Authenticate for a disabled user.
	ErrUserDisabled = errors.New("auth: user disabled")
	// ErrWrongPassword is returned by Authenticate on a password mismatch.
	ErrWrongPassword = errors.New("auth: wrong password")
	// ErrNoPasswordSet is returned by Authenticate("default", ...) against
	// a default user with no configured password — the distinct
	// "Client sent AUTH, but no password is set" case in spec §4.4.
	ErrNoPasswordSet = errors.New("auth: no password set")
)

// User is a single row of the user table (spec §3).
type User struct {
	Name     string
	password string
	Enabled  bool
	allowAll bool
	allowed  map[string]struct{}
}

// Allows reports whether verb (already uppercased) is permitted for u.
func (u *User) Allows(verb string) bool {
	if u.allowAll {
		return true
	}
	_, ok := u.allowed[verb]
	return ok
}

// UserSpec is the startup-time description of a user, built by
// internal/config from FEDIS_PASSWORD/FEDIS_USERNAME/FEDIS_USERS/
// FEDIS_USER_COMMANDS/FEDIS_USER_ENABLED.
type UserSpec struct {
	Name     string
	Password string
	Enabled  bool
	// Commands is either {"ALL"} or an explicit uppercased verb list.
	Commands []string
}

// Table is the frozen, process-lifetime user table.
type Table struct {
	users map[string]*User
}

// NewTable builds a Table from specs. If no spec names DefaultUserName,
// an enabled, all-commands default user with no password is added, so the
// table always satisfies "the default user exists unconditionally."
func NewTable(specs []UserSpec) *Table {
	t := &Table{users: make(map[string]*User, len(specs)+1)}
	sawDefault := false
	for _, spec := range specs {
		t.users[spec.Name] = buildUser(spec)
		if spec.Name == DefaultUserName {
			sawDefault = true
		}
	}
	if !sawDefault {
		t.users[DefaultUserName] = buildUser(UserSpec{
			Name:     DefaultUserName,
			Enabled:  true,
			Commands: []string{AllowAllSentinel},
		})
	}
	return t
}

func buildUser(spec UserSpec) *User {
	u := &User{Name: spec.Name, password: spec.Password, Enabled: spec.Enabled}
	allowed := make(map[string]struct{}, len(spec.Commands))
	for _, c := range spec.Commands {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == AllowAllSentinel {
			u.allowAll = true
			continue
		}
		if c != "" {
			allowed[c] = struct{}{}
		}
	}
	u.allowed = allowed
	return u
}

// DefaultRequiresPassword reports whether the default user has a
// configured password — the gate that determines whether anonymous
// connections must AUTH at all (spec §4.2 step 3).
func (t *Table) DefaultRequiresPassword() bool {
	u, ok := t.users[DefaultUserName]
	return ok && u.password != ""
}

// Authenticate checks name/password and returns the User on success.
func (t *Table) Authenticate(name, password string) (*User, error) {
	u, ok := t.users[name]
	if !ok {
		return nil, ErrNoSuchUser
	}
	if !u.Enabled {
		return nil, ErrUserDisabled
	}
	if u.password == "" {
		if name == DefaultUserName {
			return nil, ErrNoPasswordSet
		}
		// A non-default user configured with an empty password never
		// authenticates; there is no way to "send no password" over AUTH.
		return nil, ErrWrongPassword
	}
	if subtle.ConstantTimeCompare([]byte(u.password), []byte(password)) != 1 {
		return nil, ErrWrongPassword
	}
	return u, nil
}

// User looks up a user by name without authenticating, used by the
// connection driver to resolve the implicit "default" identity for
// deployments that never configured a password.
func (t *Table) User(name string) (*User, bool) {
	u, ok := t.users[name]
	return u, ok
}

// Package auth defines the interface of the authentication collaborator
// and the errors it reports.
package auth

import (
	"context"
	"encoding/json"
)

// Err is a structure for reporting an error condition.
type Err string

func (e Err) Error() string {
	return string(e)
}

const (
	// ErrInternal means a store or other internal failure.
	ErrInternal = Err("internal")
	// ErrMalformed means the credentials cannot be parsed or are otherwise wrong.
	ErrMalformed = Err("malformed")
	// ErrFailed means authentication failed (wrong login or password).
	ErrFailed = Err("failed")
	// ErrDuplicate means a non-unique login.
	ErrDuplicate = Err("duplicate")
)

// Handler is the interface which must be implemented by the
// authentication collaborator. The issued identity is an opaque stable
// string token; it is the only key correlating a party to its profile.
type Handler interface {
	// Init initializes the handler from a config string.
	Init(jsonconf json.RawMessage) error

	// Create registers a new account and returns its identity.
	Create(ctx context.Context, email, password string) (string, error)

	// Login authenticates an existing account and returns its identity.
	Login(ctx context.Context, email, password string) (string, error)

	// Logout forgets the current identity.
	Logout()

	// Current returns the identity authenticated in this process, or ""
	// if none.
	Current() string
}

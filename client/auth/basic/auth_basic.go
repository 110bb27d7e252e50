// Package basic is an email+password authenticator backed by the
// document store itself: it keeps bcrypt hashes in a credentials
// collection and issues store-generated identities.
package basic

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/letschat/letschat/client/auth"
	"github.com/letschat/letschat/client/store"
	"github.com/letschat/letschat/client/store/types"
)

// AuthHandler is a store-backed email+password authenticator.
type AuthHandler struct {
	st *store.Store

	mu        sync.Mutex
	current   string
	stateFile string
}

type configType struct {
	// Where to remember the signed-in identity between process runs.
	// Optional.
	StateFile string `json:"state_file,omitempty"`
}

// NewAuthHandler creates an authenticator over the given store.
func NewAuthHandler(st *store.Store) *AuthHandler {
	return &AuthHandler{st: st}
}

// Init initializes the authenticator.
func (a *AuthHandler) Init(jsonconf json.RawMessage) error {
	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return auth.ErrMalformed
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stateFile = config.StateFile
	a.current = auth.LoadState(a.stateFile)
	return nil
}

// Create registers a new account and returns its identity.
func (a *AuthHandler) Create(ctx context.Context, email, password string) (string, error) {
	uname := strings.ToLower(strings.TrimSpace(email))
	if uname == "" || password == "" {
		return "", auth.ErrMalformed
	}

	passhash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", auth.ErrInternal
	}

	uid := a.st.GetUidString()
	dup, err := a.st.Users.AddAuthRecord(ctx, uname, uid, passhash)
	if dup {
		return "", auth.ErrDuplicate
	}
	if err != nil {
		return "", err
	}

	a.setCurrent(uid)
	return uid, nil
}

// Login checks email and password.
func (a *AuthHandler) Login(ctx context.Context, email, password string) (string, error) {
	uname := strings.ToLower(strings.TrimSpace(email))
	if uname == "" || password == "" {
		return "", auth.ErrMalformed
	}

	uid, passhash, err := a.st.Users.GetAuthRecord(ctx, uname)
	if err == types.ErrNotFound {
		// Invalid login.
		return "", auth.ErrFailed
	}
	if err != nil {
		return "", err
	}

	if bcrypt.CompareHashAndPassword(passhash, []byte(password)) != nil {
		// Invalid password.
		return "", auth.ErrFailed
	}

	a.setCurrent(uid)
	return uid, nil
}

// Logout forgets the current identity.
func (a *AuthHandler) Logout() {
	a.setCurrent("")
}

// Current returns the identity authenticated in this process.
func (a *AuthHandler) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AuthHandler) setCurrent(uid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = uid
	auth.SaveState(a.stateFile, uid)
}

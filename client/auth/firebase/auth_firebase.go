// Package firebase authenticates against the Firebase email+password
// backend through the Google Identity Toolkit API. The issued identity
// is the Firebase local id. Natural companion of the firestore store
// adapter.
package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"google.golang.org/api/googleapi"
	it "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"github.com/letschat/letschat/client/auth"
)

// AuthHandler talks to the Firebase identity backend.
type AuthHandler struct {
	svc *it.RelyingpartyService

	mu        sync.Mutex
	current   string
	stateFile string
}

type configType struct {
	// Browser API key of the Firebase project.
	ApiKey string `json:"api_key"`
	// Where to remember the signed-in identity between process runs.
	// Optional.
	StateFile string `json:"state_file,omitempty"`
}

// Init initializes the authenticator.
func (a *AuthHandler) Init(jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("auth_firebase: failed to parse config: " + err.Error())
	}
	if config.ApiKey == "" {
		return errors.New("auth_firebase: api_key is required")
	}

	svc, err := it.NewService(context.Background(), option.WithAPIKey(config.ApiKey))
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.svc = svc.Relyingparty
	a.stateFile = config.StateFile
	a.current = auth.LoadState(a.stateFile)
	return nil
}

// passthrough converts a Firebase error into one keeping the backend's
// message verbatim where available.
func passthrough(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return errors.New(gerr.Message)
	}
	return err
}

// Create registers a new Firebase account and returns its identity.
func (a *AuthHandler) Create(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", auth.ErrMalformed
	}

	resp, err := a.svc.SignupNewUser(&it.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return "", passthrough(err)
	}

	a.setCurrent(resp.LocalId)
	return resp.LocalId, nil
}

// Login verifies email and password against Firebase.
func (a *AuthHandler) Login(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", auth.ErrMalformed
	}

	resp, err := a.svc.VerifyPassword(&it.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return "", passthrough(err)
	}

	a.setCurrent(resp.LocalId)
	return resp.LocalId, nil
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

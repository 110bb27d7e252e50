package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/letschat/letschat/client/auth"
	"github.com/letschat/letschat/client/auth/basic"
	"github.com/letschat/letschat/client/store"
	"github.com/letschat/letschat/client/store/adapter"
	_ "github.com/letschat/letschat/client/store/adapter/memory"
	"github.com/letschat/letschat/client/store/types"
)

const testStoreConf = `{"uid_key":"la6YsO+bNX/+XIkOqc5Svw==","use_adapter":"memory"}`

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(1, json.RawMessage(testStoreConf))
	if err != nil {
		t.Fatal("failed to open store:", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// countingAuth wraps an authenticator and counts account creations.
type countingAuth struct {
	auth.Handler
	creates int32
}

func (c *countingAuth) Create(ctx context.Context, email, password string) (string, error) {
	atomic.AddInt32(&c.creates, 1)
	return c.Handler.Create(ctx, email, password)
}

func newTestSession(t *testing.T, st *store.Store) (*Session, *countingAuth) {
	t.Helper()
	au := basic.NewAuthHandler(st)
	if err := au.Init(nil); err != nil {
		t.Fatal(err)
	}
	ca := &countingAuth{Handler: au}
	s := NewSession(st, ca, nil)
	t.Cleanup(s.Close)
	return s, ca
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for ", what)
}

func waitNote(t *testing.T, s *Session) Note {
	t.Helper()
	var note Note
	waitFor(t, "a notification", func() bool {
		var ok bool
		note, ok = s.PopNote()
		return ok
	})
	return note
}

func signUp(t *testing.T, s *Session, name, number, email string) {
	t.Helper()
	s.SignUp(name, number, email, "secret")
	waitFor(t, name+"'s profile", func() bool {
		return s.Account() != nil && !s.InProgress()
	})
}

func TestSignUpValidation(t *testing.T) {
	st := openTestStore(t)
	s, ca := newTestSession(t, st)

	s.SignUp("Alice", "555-0100", "", "secret")
	note := waitNote(t, s)
	if note.Text != noteAllFieldsRequired {
		t.Errorf("note = %q, want %q", note.Text, noteAllFieldsRequired)
	}
	if s.SignedIn() {
		t.Error("signed in after failed validation")
	}
	if n := atomic.LoadInt32(&ca.creates); n != 0 {
		t.Errorf("authenticator invoked %d times on invalid input", n)
	}
}

func TestSignUpCreatesProfile(t *testing.T) {
	st := openTestStore(t)
	s, _ := newTestSession(t, st)

	signUp(t, s, "Alice", "555-0100", "alice@example.com")

	if !s.SignedIn() {
		t.Fatal("not signed in after sign-up")
	}
	user := s.Account()
	if user.Name != "Alice" {
		t.Errorf("name = %q", user.Name)
	}
	// Numbers are stored normalized.
	if user.Number != "5550100" {
		t.Errorf("number = %q, want 5550100", user.Number)
	}
}

func TestSignUpDuplicateNumber(t *testing.T) {
	st := openTestStore(t)
	alice, _ := newTestSession(t, st)
	signUp(t, alice, "Alice", "555-0100", "alice@example.com")

	mallory, ca := newTestSession(t, st)
	mallory.SignUp("Mallory", "5550100", "mallory@example.com", "secret")

	note := waitNote(t, mallory)
	if note.Text != noteNumberExists {
		t.Errorf("note = %q, want %q", note.Text, noteNumberExists)
	}
	if mallory.SignedIn() {
		t.Error("signed in with a duplicate number")
	}
	// The duplicate must be rejected before the authenticator is
	// contacted.
	if n := atomic.LoadInt32(&ca.creates); n != 0 {
		t.Errorf("authenticator invoked %d times for a duplicate number", n)
	}
}

func TestLoginAndResync(t *testing.T) {
	st := openTestStore(t)
	alice, _ := newTestSession(t, st)
	signUp(t, alice, "Alice", "555-0100", "alice@example.com")
	alice.Logout()
	waitFor(t, "logout", func() bool { return !alice.SignedIn() })
	waitNote(t, alice) // consume "logged out"

	alice.Login("alice@example.com", "secret")
	waitFor(t, "profile after login", func() bool {
		return alice.Account() != nil && !alice.InProgress()
	})
	if got := alice.Account().Name; got != "Alice" {
		t.Errorf("resynced name = %q", got)
	}
}

func TestLoginFailure(t *testing.T) {
	st := openTestStore(t)
	s, _ := newTestSession(t, st)

	s.Login("nobody@example.com", "secret")
	note := waitNote(t, s)
	if note.Text != auth.ErrFailed.Error() {
		t.Errorf("note = %q, want the authenticator's message", note.Text)
	}
	if s.SignedIn() {
		t.Error("signed in after failed login")
	}
}

func TestAccountUpdateMerges(t *testing.T) {
	st := openTestStore(t)
	s, _ := newTestSession(t, st)
	signUp(t, s, "Alice", "555-0100", "alice@example.com")

	url := "http://example.com/avatar"
	s.UpdateAccount(types.AccountUpdate{ImageUrl: &url})
	waitFor(t, "avatar update", func() bool {
		return s.Account().ImageUrl == url
	})

	// Fields absent from the update keep their cached values.
	user := s.Account()
	if user.Name != "Alice" || user.Number != "5550100" {
		t.Errorf("merge clobbered profile: %+v", user)
	}
}

func TestAccountUpdateWithoutCachedProfile(t *testing.T) {
	st := openTestStore(t)
	s, _ := newTestSession(t, st)
	ctx := context.Background()

	// The profile exists remotely but no snapshot has been applied yet:
	// a resumed identity updating its avatar before the first delivery.
	stored := types.User{Id: "alice", Name: "Alice", Number: "5550100"}
	if err := st.Users.Create(ctx, &stored); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.signedIn = true
	s.identity = "alice"
	s.mu.Unlock()

	url := "http://example.com/avatar"
	s.UpdateAccount(types.AccountUpdate{ImageUrl: &url})
	waitFor(t, "avatar write", func() bool {
		got, err := st.Users.Get(ctx, "alice")
		return err == nil && got.ImageUrl == url
	})

	// Unsupplied fields keep their stored values even with an empty
	// local cache.
	got, err := st.Users.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Alice" || got.Number != "5550100" {
		t.Errorf("merge clobbered profile: name=%q number=%q", got.Name, got.Number)
	}
}

func TestStreamErrorInBand(t *testing.T) {
	st := openTestStore(t)
	s, _ := newTestSession(t, st)

	ch, sub, _ := makeSub()
	s.hub.install(streamChats, sub)

	// A stream error surfaces its own message verbatim, once, and does
	// not end the subscription.
	ch <- adapter.Snapshot{Err: errors.New("stream reset by peer")}
	note := waitNote(t, s)
	if note.Text != "stream reset by peer" {
		t.Errorf("note = %q, want the stream's own message", note.Text)
	}
	if extra, ok := s.PopNote(); ok {
		t.Errorf("error reported twice: %+v", extra)
	}

	// A later good delivery on the same subscription still applies.
	ch <- adapter.Snapshot{Docs: []adapter.Doc{{Id: "p2pX", Data: map[string]any{
		"user1": map[string]any{"id": "alice"},
		"user2": map[string]any{"id": "bob"},
	}}}}
	waitFor(t, "chat list after the stream error", func() bool {
		return len(s.Chats()) == 1
	})

	// The profile stream keeps its fixed text.
	pch, psub, _ := makeSub()
	s.hub.install(streamProfile, psub)
	pch <- adapter.Snapshot{Err: errors.New("backend unavailable")}
	note = waitNote(t, s)
	if note.Text != noteUserUnavailable {
		t.Errorf("profile stream note = %q, want %q", note.Text, noteUserUnavailable)
	}
}

func TestLogoutClearsState(t *testing.T) {
	st := openTestStore(t)
	alice, _ := newTestSession(t, st)
	signUp(t, alice, "Alice", "555-0100", "alice@example.com")

	bob, _ := newTestSession(t, st)
	signUp(t, bob, "Bob", "555-0200", "bob@example.com")

	alice.AddChat("555-0200")
	waitFor(t, "chat with Bob", func() bool { return len(alice.Chats()) == 1 })
	waitFor(t, "Bob's view of the chat", func() bool { return len(bob.Chats()) == 1 })

	alice.Logout()
	waitFor(t, "logout", func() bool { return !alice.SignedIn() })
	note := waitNote(t, alice)
	if note.Text != noteLoggedOut {
		t.Errorf("note = %q, want %q", note.Text, noteLoggedOut)
	}
	if alice.Account() != nil || len(alice.Chats()) != 0 || len(alice.Messages()) != 0 {
		t.Error("session state survived logout")
	}

	// Changes made after logout must never reach the local state.
	bob.SendMessage(bob.Chats()[0].Id, "anyone there?")
	time.Sleep(100 * time.Millisecond)
	if len(alice.Chats()) != 0 || len(alice.Messages()) != 0 {
		t.Error("snapshot applied after logout")
	}
}

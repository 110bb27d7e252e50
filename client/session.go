// The session is the local replica of one party's view of the store:
// the authenticated identity, the synchronized profile, the chat list
// and the messages of the open chat. All remote deliveries and
// operation completions are applied to local state by a single
// goroutine; mutating operations write through the store and rely on
// the live subscriptions to reflect the result back.

package main

import (
	"context"
	"io"
	"sync"

	"github.com/letschat/letschat/client/auth"
	"github.com/letschat/letschat/client/logs"
	"github.com/letschat/letschat/client/media"
	"github.com/letschat/letschat/client/store"
	"github.com/letschat/letschat/client/store/types"
	"github.com/letschat/letschat/client/validate"
)

// User-visible notification texts.
const (
	noteAllFieldsRequired = "all fields are required"
	noteDigitsOnly        = "number must contain digits only"
	noteNumberExists      = "number already exists"
	noteNumberNotFound    = "number not found"
	noteChatExists        = "chat already exists"
	noteChatWithSelf      = "cannot start a chat with yourself"
	noteUserUnavailable   = "cannot retrieve user"
	noteLoggedOut         = "logged out"
)

// Session is the client-side synchronization context. Create with
// NewSession, dispose with Close.
type Session struct {
	store *store.Store
	auth  auth.Handler
	media media.Handler
	hub   *Hub

	// Event queue feeding the state-update loop.
	events chan any
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	// Local state. Written under mu; snapshot application is
	// serialized by the loop goroutine.
	mu       sync.Mutex
	identity string
	user     *types.User
	chats    []types.Chat
	messages []types.Message
	openChat string
	signedIn bool
	// True while profile sync or a profile write is in flight.
	inProgress bool
	// True while the first chat-list snapshot is pending.
	chatsLoading bool
	// True while the first snapshot of the open chat is pending.
	messagesLoading bool

	note noteSlot
}

// NewSession creates the session and starts its state-update loop. If
// the authenticator already holds an identity, profile synchronization
// for it begins immediately.
func NewSession(st *store.Store, au auth.Handler, md media.Handler) *Session {
	statsInit()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:  st,
		auth:   au,
		media:  md,
		events: make(chan any, 64),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	s.hub = newHub(s.events, s.done)

	s.wg.Add(1)
	go s.loop()

	if identity := au.Current(); identity != "" {
		s.mu.Lock()
		s.signedIn = true
		s.identity = identity
		s.mu.Unlock()
		s.startProfileSync(identity)
	}

	return s
}

// Close tears down subscriptions and stops the loop. The store and the
// authenticator are owned by the caller and stay open.
func (s *Session) Close() {
	s.once.Do(func() {
		s.hub.cancelAll()
		s.cancel()
		close(s.done)
		s.wg.Wait()
	})
}

// loop is the single logical event queue: every snapshot and every
// operation completion is applied here, one at a time.
func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			switch e := ev.(type) {
			case snapshotEvent:
				s.applySnapshot(e)
			case func():
				e()
			}
		}
	}
}

// post queues a state mutation for the loop goroutine.
func (s *Session) post(f func()) {
	select {
	case s.events <- f:
	case <-s.done:
	}
}

// fail records an error as the pending notification and clears the
// profile progress flag. The supplied text wins over the error's own
// message; an empty text lets the collaborator's message through
// verbatim.
func (s *Session) fail(text string, err error) {
	if text == "" && err != nil {
		text = err.Error()
	}
	if err != nil {
		logs.Warning.Println("session:", text, err)
	}
	s.note.put(Note{Text: text})
	s.mu.Lock()
	s.inProgress = false
	s.mu.Unlock()
}

// SignUp registers a new account: checks number uniqueness, creates
// the account with the authenticator and writes the initial profile.
// Asynchronous; failure is reported through the notification slot.
func (s *Session) SignUp(name, number, email, password string) {
	if name == "" || number == "" || email == "" || password == "" {
		s.fail(noteAllFieldsRequired, nil)
		return
	}
	normalized, err := validate.NormalizePhone(number)
	if err != nil {
		s.fail(noteDigitsOnly, nil)
		return
	}

	s.setInProgress(true)
	go func() {
		// Uniqueness pre-check. A duplicate number must not reach the
		// authenticator.
		_, err := s.store.Users.GetByNumber(s.ctx, normalized)
		if err == nil {
			s.fail(noteNumberExists, nil)
			return
		}
		if err != types.ErrNotFound {
			s.fail("", err)
			return
		}

		identity, err := s.auth.Create(s.ctx, email, password)
		if err != nil {
			s.fail("", err)
			return
		}

		s.mu.Lock()
		s.signedIn = true
		s.identity = identity
		s.mu.Unlock()

		s.upsertAccount(identity, types.AccountUpdate{Name: &name, Number: &normalized})
	}()
}

// Login authenticates an existing account and begins profile
// synchronization. Asynchronous.
func (s *Session) Login(email, password string) {
	if email == "" || password == "" {
		s.fail(noteAllFieldsRequired, nil)
		return
	}

	s.setInProgress(true)
	go func() {
		identity, err := s.auth.Login(s.ctx, email, password)
		if err != nil {
			s.fail("", err)
			return
		}

		s.mu.Lock()
		s.signedIn = true
		s.identity = identity
		s.mu.Unlock()

		s.startProfileSync(identity)
	}()
}

// UpdateAccount merge-writes the supplied profile fields. Nil fields
// keep their currently cached values. Asynchronous.
func (s *Session) UpdateAccount(upd types.AccountUpdate) {
	s.mu.Lock()
	identity := s.identity
	signedIn := s.signedIn
	s.mu.Unlock()

	if !signedIn {
		logs.Warning.Println("session: account update without a signed-in identity")
		return
	}

	if upd.Number != nil {
		normalized, err := validate.NormalizePhone(*upd.Number)
		if err != nil {
			s.fail(noteDigitsOnly, nil)
			return
		}
		upd.Number = &normalized
	}

	s.setInProgress(true)
	go s.upsertAccount(identity, upd)
}

// upsertAccount performs the read-check-then-write: merge into an
// existing profile record or create the first one.
func (s *Session) upsertAccount(identity string, upd types.AccountUpdate) {
	// Unsupplied fields default to the cached values, never to empty.
	s.mu.Lock()
	cached := s.user != nil
	user := types.User{Id: identity}
	if cached {
		user = *s.user
		user.Id = identity
	}
	s.mu.Unlock()

	if upd.Name != nil {
		user.Name = *upd.Name
	}
	if upd.Number != nil {
		user.Number = *upd.Number
	}
	if upd.ImageUrl != nil {
		user.ImageUrl = *upd.ImageUrl
	}

	_, err := s.store.Users.Get(s.ctx, identity)
	switch err {
	case nil:
		// Without a cached profile only the supplied fields may be
		// merged; a default taken from the zero value would blank the
		// stored ones.
		update := make(map[string]any, 3)
		if cached || upd.Name != nil {
			update["name"] = user.Name
		}
		if cached || upd.Number != nil {
			update["number"] = user.Number
		}
		if cached || upd.ImageUrl != nil {
			update["imageUrl"] = user.ImageUrl
		}
		err = s.store.Users.Update(s.ctx, identity, update)
	case types.ErrNotFound:
		err = s.store.Users.Create(s.ctx, &user)
	}
	if err != nil {
		s.fail(noteUserUnavailable, err)
		return
	}

	s.post(func() {
		s.setInProgress(false)
		// First write of a fresh sign-up: the profile watch is not up
		// yet.
		if !s.hub.active(streamProfile) {
			s.startProfileSync(identity)
		}
	})
}

// UploadAvatar stores the image bytes with the media handler and
// records the resulting URL in the profile. Asynchronous.
func (s *Session) UploadAvatar(file io.Reader) {
	if s.media == nil {
		logs.Warning.Println("session: no media handler configured")
		return
	}

	s.setInProgress(true)
	go func() {
		url, size, err := s.media.Upload(s.store.GetUidString(), file)
		if err != nil {
			s.fail("", err)
			return
		}
		logs.Info.Println("session: avatar uploaded,", size, "bytes")
		s.UpdateAccount(types.AccountUpdate{ImageUrl: &url})
	}()
}

// Logout signs out, clears all synchronized state and cancels every
// live subscription so a late delivery from the old identity can never
// be applied.
func (s *Session) Logout() {
	s.auth.Logout()
	s.hub.cancelAll()

	s.post(func() {
		s.mu.Lock()
		s.signedIn = false
		s.identity = ""
		s.user = nil
		s.chats = nil
		s.messages = nil
		s.openChat = ""
		s.inProgress = false
		s.chatsLoading = false
		s.messagesLoading = false
		s.mu.Unlock()

		s.note.put(Note{Text: noteLoggedOut})
	})
}

// startProfileSync replaces the profile subscription for the identity.
// The loading flag stays up until the first snapshot or error arrives.
func (s *Session) startProfileSync(identity string) {
	s.setInProgress(true)

	sub, err := s.store.Users.Watch(s.ctx, identity)
	if err != nil {
		s.fail(noteUserUnavailable, err)
		return
	}
	s.hub.install(streamProfile, sub)
}

// applySnapshot applies one stream delivery to local state. Deliveries
// from a superseded subscription are dropped unconditionally.
func (s *Session) applySnapshot(ev snapshotEvent) {
	if ev.epoch != s.hub.epochOf(ev.kind) {
		statsInc("StaleSnapshotsDropped", 1)
		return
	}
	if ev.err != nil {
		// Stream errors do not cancel the subscription; report and
		// wait for the next delivery. Only the profile stream gets the
		// fixed text, other streams surface the error verbatim.
		statsInc("StreamErrors", 1)
		text := ""
		if ev.kind == streamProfile {
			text = noteUserUnavailable
		}
		s.fail(text, ev.err)
		return
	}
	statsInc("SnapshotsApplied", 1)

	switch ev.kind {
	case streamProfile:
		s.applyProfile(ev)
	case streamChats:
		s.applyChats(ev)
	case streamMessages:
		s.applyMessages(ev)
	}
}

func (s *Session) applyProfile(ev snapshotEvent) {
	if len(ev.docs) == 0 {
		// Profile document not written yet; keep waiting.
		return
	}
	user, err := store.ParseUser(ev.docs[0])
	if err != nil {
		s.fail(noteUserUnavailable, err)
		return
	}

	s.mu.Lock()
	s.user = user
	s.inProgress = false
	firstChats := !s.hub.active(streamChats)
	if firstChats {
		s.chatsLoading = true
	}
	identity := s.identity
	s.mu.Unlock()

	// Each accepted profile snapshot (re-)establishes the chat-list
	// subscription.
	sub, err := s.store.Chats.Subscribe(s.ctx, identity)
	if err != nil {
		s.fail("", err)
		return
	}
	s.hub.install(streamChats, sub)
}

func (s *Session) applyChats(ev snapshotEvent) {
	// A snapshot is the complete authoritative chat set; no patching.
	chats := make([]types.Chat, 0, len(ev.docs))
	for _, doc := range ev.docs {
		chat, err := store.ParseChat(doc)
		if err != nil {
			logs.Warning.Println("session: dropping malformed chat", doc.Id)
			continue
		}
		chats = append(chats, *chat)
	}

	s.mu.Lock()
	s.chats = chats
	s.chatsLoading = false
	s.mu.Unlock()
}

func (s *Session) applyMessages(ev snapshotEvent) {
	messages := make([]types.Message, 0, len(ev.docs))
	for _, doc := range ev.docs {
		msg, err := store.ParseMessage(doc)
		if err != nil {
			// Malformed documents are dropped, not fatal for the batch.
			continue
		}
		messages = append(messages, *msg)
	}
	types.SortMessages(messages)

	s.mu.Lock()
	s.messages = messages
	s.messagesLoading = false
	s.mu.Unlock()
}

func (s *Session) setInProgress(v bool) {
	s.mu.Lock()
	s.inProgress = v
	s.mu.Unlock()
}

// SignedIn reports whether an identity is authenticated.
func (s *Session) SignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signedIn
}

// InProgress reports whether profile synchronization or a profile
// write is in flight.
func (s *Session) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

// ChatsLoading reports whether the first chat-list snapshot is pending.
func (s *Session) ChatsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatsLoading
}

// MessagesLoading reports whether the first snapshot of the open chat
// is pending.
func (s *Session) MessagesLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLoading
}

// Account returns a copy of the synchronized profile, nil if not
// loaded.
func (s *Session) Account() *types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	user := *s.user
	return &user
}

// Identity returns the authenticated identity, "" if none.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// PopNote returns the pending notification, consuming it.
func (s *Session) PopNote() (Note, bool) {
	return s.note.pop()
}

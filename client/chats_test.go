package main

import (
	"context"
	"testing"
	"time"

	"github.com/letschat/letschat/client/store"
	"github.com/letschat/letschat/client/store/types"
)

// twoAccounts opens one shared store with two signed-in sessions.
func twoAccounts(t *testing.T) (*store.Store, *Session, *Session) {
	t.Helper()
	st := openTestStore(t)
	alice, _ := newTestSession(t, st)
	signUp(t, alice, "Alice", "555-0100", "alice@example.com")
	bob, _ := newTestSession(t, st)
	signUp(t, bob, "Bob", "555-0200", "bob@example.com")
	return st, alice, bob
}

func TestAddChatValidation(t *testing.T) {
	_, alice, _ := twoAccounts(t)

	alice.AddChat("not a number")
	if note := waitNote(t, alice); note.Text != noteDigitsOnly {
		t.Errorf("note = %q, want %q", note.Text, noteDigitsOnly)
	}

	alice.AddChat("555-0999")
	if note := waitNote(t, alice); note.Text != noteNumberNotFound {
		t.Errorf("note = %q, want %q", note.Text, noteNumberNotFound)
	}

	alice.AddChat("555-0100")
	if note := waitNote(t, alice); note.Text != noteChatWithSelf {
		t.Errorf("note = %q, want %q", note.Text, noteChatWithSelf)
	}

	if len(alice.Chats()) != 0 {
		t.Error("a failed AddChat produced a chat")
	}
}

func TestAddChatDeliversToBothParties(t *testing.T) {
	_, alice, bob := twoAccounts(t)

	alice.AddChat("555-0200")
	waitFor(t, "Alice's chat list", func() bool { return len(alice.Chats()) == 1 })
	waitFor(t, "Bob's chat list", func() bool { return len(bob.Chats()) == 1 })

	chat := alice.Chats()[0]
	if chat.Id != bob.Chats()[0].Id {
		t.Fatal("the two parties see different chats")
	}
	peer := chat.Peer(alice.Account().Id)
	if peer.Number != "5550200" {
		t.Errorf("peer = %+v, want Bob", peer)
	}
}

func TestAddChatDuplicateReportsExistingId(t *testing.T) {
	_, alice, bob := twoAccounts(t)

	alice.AddChat("555-0200")
	waitFor(t, "Bob's chat list", func() bool { return len(bob.Chats()) == 1 })
	existing := bob.Chats()[0].Id

	// The reverse direction must collapse onto the same chat.
	bob.AddChat("555-0100")
	note := waitNote(t, bob)
	if note.Text != noteChatExists {
		t.Errorf("note = %q, want %q", note.Text, noteChatExists)
	}
	if note.Chat != existing {
		t.Errorf("note carries chat %q, want %q", note.Chat, existing)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(bob.Chats()); n != 1 {
		t.Errorf("chat count = %d after duplicate add", n)
	}
}

func TestMessagesOrderedAndEchoed(t *testing.T) {
	st, alice, bob := twoAccounts(t)

	alice.AddChat("555-0200")
	waitFor(t, "chat", func() bool { return len(alice.Chats()) == 1 })
	chatId := alice.Chats()[0].Id

	// Preload messages out of order; the session must sort them.
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, i := range []int{2, 0, 1} {
		msg := types.Message{
			Chat:      chatId,
			From:      bob.Identity(),
			Text:      []string{"first", "second", "third"}[i],
			Timestamp: base.Add(time.Duration(i) * time.Minute).Format("2006-01-02T15:04:05.000000000Z"),
		}
		if err := st.Messages.Save(context.Background(), &msg); err != nil {
			t.Fatal(err)
		}
	}

	alice.OpenChat(chatId)
	waitFor(t, "preloaded messages", func() bool { return len(alice.Messages()) == 3 })
	got := alice.Messages()
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Text != want {
			t.Errorf("message %d = %q, want %q", i, got[i].Text, want)
		}
	}

	// Sending does not touch local state; the message arrives as a
	// stream echo.
	alice.SendMessage(chatId, "fourth")
	waitFor(t, "echo", func() bool { return len(alice.Messages()) == 4 })
	last := alice.Messages()[3]
	if last.Text != "fourth" || last.From != alice.Identity() {
		t.Errorf("echoed message = %+v", last)
	}
}

func TestOpenChatReplacementIsolatesStreams(t *testing.T) {
	st := openTestStore(t)
	alice, _ := newTestSession(t, st)
	signUp(t, alice, "Alice", "555-0100", "alice@example.com")
	bob, _ := newTestSession(t, st)
	signUp(t, bob, "Bob", "555-0200", "bob@example.com")
	carol, _ := newTestSession(t, st)
	signUp(t, carol, "Carol", "555-0300", "carol@example.com")

	alice.AddChat("555-0200")
	alice.AddChat("555-0300")
	waitFor(t, "two chats", func() bool { return len(alice.Chats()) == 2 })

	var withBob, withCarol string
	for _, chat := range alice.Chats() {
		if peer := chat.Peer(alice.Account().Id); peer.Number == "5550200" {
			withBob = chat.Id
		} else {
			withCarol = chat.Id
		}
	}

	alice.OpenChat(withBob)
	waitFor(t, "chat with Bob open", func() bool { return !alice.MessagesLoading() })

	alice.OpenChat(withCarol)
	if alice.OpenChatId() != withCarol {
		t.Fatal("open chat id not replaced")
	}

	// Traffic in the superseded chat must never surface.
	bob.SendMessage(withBob, "too late")
	carol.SendMessage(withCarol, "hello")
	waitFor(t, "Carol's message", func() bool { return len(alice.Messages()) == 1 })
	time.Sleep(100 * time.Millisecond)
	for _, msg := range alice.Messages() {
		if msg.Chat != withCarol {
			t.Errorf("message from a closed chat applied: %+v", msg)
		}
	}

	alice.CloseChat()
	if alice.OpenChatId() != "" || len(alice.Messages()) != 0 {
		t.Error("CloseChat left state behind")
	}
}

func TestMalformedMessagesDropped(t *testing.T) {
	st, alice, _ := twoAccounts(t)

	alice.AddChat("555-0200")
	waitFor(t, "chat", func() bool { return len(alice.Chats()) == 1 })
	chatId := alice.Chats()[0].Id

	// A record without a sender fails validation and must be skipped
	// without disturbing the rest of the snapshot.
	broken := types.Message{Chat: chatId, Text: "no sender"}
	if err := st.Messages.Save(context.Background(), &broken); err != nil {
		t.Fatal(err)
	}
	ok := types.Message{
		Chat:      chatId,
		From:      alice.Identity(),
		Text:      "fine",
		Timestamp: types.TimestampNow(),
	}
	if err := st.Messages.Save(context.Background(), &ok); err != nil {
		t.Fatal(err)
	}

	alice.OpenChat(chatId)
	waitFor(t, "valid message", func() bool { return len(alice.Messages()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := alice.Messages(); len(got) != 1 || got[0].Text != "fine" {
		t.Errorf("messages = %+v, want only the valid one", got)
	}
}

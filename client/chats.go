// Conversation directory operations: opening and closing the message
// stream of a chat, sending messages, and the find-or-create protocol
// which guarantees at most one chat per unordered pair of parties.

package main

import (
	"github.com/letschat/letschat/client/logs"
	"github.com/letschat/letschat/client/store/types"
	"github.com/letschat/letschat/client/validate"
)

// Chats returns a copy of the synchronized chat list.
func (s *Session) Chats() []types.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := make([]types.Chat, len(s.chats))
	copy(chats, s.chats)
	return chats
}

// Messages returns a copy of the messages of the open chat, ordered by
// timestamp ascending.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]types.Message, len(s.messages))
	copy(messages, s.messages)
	return messages
}

// OpenChatId returns the id of the open chat, "" if none.
func (s *Session) OpenChatId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openChat
}

// OpenChat replaces the message subscription with one for the given
// chat. Messages of a previously open chat can never be applied after
// the replacement, even if its stream delivers late.
func (s *Session) OpenChat(chatId string) {
	s.mu.Lock()
	s.openChat = chatId
	s.messages = nil
	s.messagesLoading = true
	s.mu.Unlock()

	sub, err := s.store.Messages.Subscribe(s.ctx, chatId)
	if err != nil {
		s.fail("", err)
		return
	}
	s.hub.install(streamMessages, sub)
}

// CloseChat cancels the message subscription and clears cached
// messages.
func (s *Session) CloseChat() {
	s.hub.cancel(streamMessages)

	s.mu.Lock()
	s.openChat = ""
	s.messages = nil
	s.messagesLoading = false
	s.mu.Unlock()
}

// SendMessage appends a message to the chat. Local state is not
// touched: the echo arrives through the live message stream.
// Asynchronous.
func (s *Session) SendMessage(chatId, text string) {
	s.mu.Lock()
	identity := s.identity
	s.mu.Unlock()

	if identity == "" {
		logs.Warning.Println("session: send without a signed-in identity")
		return
	}

	msg := types.Message{
		Chat:      chatId,
		From:      identity,
		Text:      text,
		Timestamp: types.TimestampNow(),
	}
	go func() {
		if err := s.store.Messages.Save(s.ctx, &msg); err != nil {
			s.fail("", err)
			return
		}
		statsInc("MessagesSent", 1)
	}()
}

// AddChat ensures exactly one chat exists between the current party
// and the party with the given phone number, creating it if absent.
// The chat id is derived from the unordered identity pair and written
// with a conditional create, so concurrent creation from both sides
// cannot produce duplicates. Asynchronous; a duplicate is reported
// through the notification slot together with the existing chat id.
func (s *Session) AddChat(number string) {
	target, err := validate.NormalizePhone(number)
	if err != nil {
		s.fail(noteDigitsOnly, nil)
		return
	}

	s.mu.Lock()
	me := s.user
	if me != nil {
		meCopy := *me
		me = &meCopy
	}
	s.mu.Unlock()

	if me == nil {
		s.fail(noteUserUnavailable, nil)
		return
	}
	if target == me.Number {
		s.fail(noteChatWithSelf, nil)
		return
	}

	go func() {
		// Symmetric lookup: the initiating party may be stored in
		// either slot.
		existing, err := s.store.Chats.GetBetween(s.ctx, target, me.Number)
		if err == nil {
			s.note.put(Note{Text: noteChatExists, Chat: existing.Id})
			return
		}
		if err != types.ErrNotFound {
			s.fail("", err)
			return
		}

		peer, err := s.store.Users.GetByNumber(s.ctx, target)
		if err == types.ErrNotFound {
			s.fail(noteNumberNotFound, nil)
			return
		}
		if err != nil {
			s.fail("", err)
			return
		}

		chat := types.Chat{
			Id: types.PairName(me.Id, peer.Id),
			User1: types.ChatUser{
				Id:       me.Id,
				Name:     me.Name,
				Number:   me.Number,
				ImageUrl: me.ImageUrl,
			},
			User2: types.ChatUser{
				Id:       peer.Id,
				Name:     peer.Name,
				Number:   peer.Number,
				ImageUrl: peer.ImageUrl,
			},
		}
		if chat.Id == "" {
			s.fail(noteChatWithSelf, nil)
			return
		}

		err = s.store.Chats.Create(s.ctx, &chat)
		if err == types.ErrDuplicate {
			// Lost the race against the other party; the chat exists.
			s.note.put(Note{Text: noteChatExists, Chat: chat.Id})
			return
		}
		if err != nil {
			s.fail("", err)
			return
		}
		statsInc("ChatsCreated", 1)
	}()
}

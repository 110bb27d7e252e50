// Package store provides access to the remote document store through a
// registered adapter: typed object mappers for users, chats and
// messages over the schema-less adapter contract.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/letschat/letschat/client/store/adapter"
	"github.com/letschat/letschat/client/store/types"
)

// Collection names, mirroring the layout of the original application.
const (
	collUsers       = "users"
	collChats       = "chats"
	collMessages    = "messages"
	collCredentials = "credentials"
)

var availableAdapters = make(map[string]adapter.Adapter)

// RegisterAdapter makes a document store adapter available by name.
// If Register is called twice with the same name or if the adapter is
// nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: register adapter is nil")
	}

	name := a.GetName()
	if _, ok := availableAdapters[name]; ok {
		panic("store: adapter '" + name + "' is already registered")
	}
	availableAdapters[name] = a
}

type configType struct {
	// 16-byte XTEA key used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// Adapter name to use. Should be one of the keys of `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

// Store is a connection to the document store. It is the only path the
// core takes to the remote data.
type Store struct {
	adp  adapter.Adapter
	uGen types.UidGenerator

	// Users is the object mapper for profile records.
	Users UsersObjMapper
	// Chats is the object mapper for conversation records.
	Chats ChatsObjMapper
	// Messages is the object mapper for message records.
	Messages MessagesObjMapper
}

// Open parses the store configuration, initializes the unique id
// generator and connects the requested adapter.
func Open(workerId int, jsonconf json.RawMessage) (*Store, error) {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return nil, errors.New("store: failed to parse config: " + err.Error())
	}

	var adp adapter.Adapter
	if config.UseAdapter != "" {
		adp = availableAdapters[config.UseAdapter]
		if adp == nil {
			return nil, errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
		}
	} else if len(availableAdapters) == 1 {
		// Default to the only registered adapter.
		for _, v := range availableAdapters {
			adp = v
		}
	} else {
		return nil, errors.New("store: adapter is not specified, set `store_config.use_adapter`")
	}

	if adp.IsOpen() {
		return nil, errors.New("store: connection is already opened")
	}

	if workerId < 0 || workerId > 1023 {
		return nil, errors.New("store: invalid worker ID")
	}

	s := &Store{adp: adp}
	if err := s.uGen.Init(uint(workerId), config.UidKey); err != nil {
		return nil, errors.New("store: failed to init snowflake: " + err.Error())
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}
	if err := adp.Open(adapterConfig); err != nil {
		return nil, err
	}

	s.Users = UsersObjMapper{s}
	s.Chats = ChatsObjMapper{s}
	s.Messages = MessagesObjMapper{s}

	return s, nil
}

// Close terminates the connection to the document store.
func (s *Store) Close() error {
	if s.adp != nil && s.adp.IsOpen() {
		return s.adp.Close()
	}
	return nil
}

// GetAdapterName returns the name of the connected adapter.
func (s *Store) GetAdapterName() string {
	return s.adp.GetName()
}

// GetUidString generates a unique id suitable for use as a document id.
func (s *Store) GetUidString() string {
	return s.uGen.GetStr()
}

// toDoc flattens a typed record into a schema-less document.
func toDoc(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err = json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	// The document id lives outside the document body.
	delete(data, "id")
	return data, nil
}

// fromDoc parses a schema-less document into a typed record.
func fromDoc(doc adapter.Doc, v any) error {
	data := doc.Data
	if doc.Id != "" {
		data = make(map[string]any, len(doc.Data)+1)
		for k, val := range doc.Data {
			data[k] = val
		}
		data["id"] = doc.Id
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return types.ErrMalformed
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return types.ErrMalformed
	}
	return nil
}

// ParseUser decodes a snapshot document into a profile record.
func ParseUser(doc adapter.Doc) (*types.User, error) {
	var user types.User
	if err := fromDoc(doc, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ParseChat decodes a snapshot document into a chat record.
func ParseChat(doc adapter.Doc) (*types.Chat, error) {
	var chat types.Chat
	if err := fromDoc(doc, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// ParseMessage decodes a snapshot document into a message record.
// Messages missing sender or timestamp are malformed.
func ParseMessage(doc adapter.Doc) (*types.Message, error) {
	var msg types.Message
	if err := fromDoc(doc, &msg); err != nil {
		return nil, err
	}
	if msg.From == "" || msg.Timestamp == "" {
		return nil, types.ErrMalformed
	}
	return &msg, nil
}

// UsersObjMapper is a mapper for profile records.
type UsersObjMapper struct {
	s *Store
}

// Get loads a single profile by identity.
func (u UsersObjMapper) Get(ctx context.Context, id string) (*types.User, error) {
	doc, err := u.s.adp.Get(ctx, collUsers, id)
	if err != nil {
		return nil, err
	}
	var user types.User
	if err = fromDoc(*doc, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByNumber finds the profile with the given normalized phone number.
// Returns types.ErrNotFound if there is none.
func (u UsersObjMapper) GetByNumber(ctx context.Context, number string) (*types.User, error) {
	docs, err := u.s.adp.Query(ctx, collUsers, adapter.Eq("number", number))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, types.ErrNotFound
	}
	var user types.User
	if err = fromDoc(docs[0], &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Create writes a complete profile record, replacing any prior one.
func (u UsersObjMapper) Create(ctx context.Context, user *types.User) error {
	user.CreatedAt = types.TimeNow()
	user.UpdatedAt = user.CreatedAt
	data, err := toDoc(user)
	if err != nil {
		return err
	}
	return u.s.adp.Set(ctx, collUsers, user.Id, data, false)
}

// Update merge-writes the given fields into an existing profile.
// Fields not present in update keep their stored values.
func (u UsersObjMapper) Update(ctx context.Context, id string, update map[string]any) error {
	upd := make(map[string]any, len(update)+1)
	for k, v := range update {
		upd[k] = v
	}
	upd["updatedAt"] = types.TimeNow()
	return u.s.adp.Set(ctx, collUsers, id, upd, true)
}

type authRecord struct {
	Uid    string `json:"uid"`
	Secret []byte `json:"secret"`
}

// AddAuthRecord stores an authentication record for a login name.
// Returns true if a record for that login already exists.
func (u UsersObjMapper) AddAuthRecord(ctx context.Context, unique, uid string, secret []byte) (bool, error) {
	data, err := toDoc(&authRecord{Uid: uid, Secret: secret})
	if err != nil {
		return false, err
	}
	err = u.s.adp.Create(ctx, collCredentials, unique, data)
	if err == types.ErrDuplicate {
		return true, nil
	}
	return false, err
}

// GetAuthRecord fetches the authentication record of a login name.
func (u UsersObjMapper) GetAuthRecord(ctx context.Context, unique string) (string, []byte, error) {
	doc, err := u.s.adp.Get(ctx, collCredentials, unique)
	if err != nil {
		return "", nil, err
	}
	var rec authRecord
	if err = fromDoc(adapter.Doc{Data: doc.Data}, &rec); err != nil {
		return "", nil, err
	}
	return rec.Uid, rec.Secret, nil
}

// Watch subscribes to changes of a single profile.
func (u UsersObjMapper) Watch(ctx context.Context, id string) (*adapter.Subscription, error) {
	return u.s.adp.WatchDoc(ctx, collUsers, id)
}

// ChatsObjMapper is a mapper for conversation records.
type ChatsObjMapper struct {
	s *Store
}

// betweenFilter matches the chat between two phone numbers regardless
// of which party is stored in which slot.
func betweenFilter(number1, number2 string) adapter.Filter {
	return adapter.Or(
		adapter.And(
			adapter.Eq("user1.number", number1),
			adapter.Eq("user2.number", number2)),
		adapter.And(
			adapter.Eq("user2.number", number1),
			adapter.Eq("user1.number", number2)))
}

// GetBetween finds the chat between the two phone numbers, if any.
// Returns types.ErrNotFound if there is none.
func (c ChatsObjMapper) GetBetween(ctx context.Context, number1, number2 string) (*types.Chat, error) {
	docs, err := c.s.adp.Query(ctx, collChats, betweenFilter(number1, number2))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, types.ErrNotFound
	}
	var chat types.Chat
	if err = fromDoc(docs[0], &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// Create conditionally writes a chat record keyed by chat.Id. Fails
// with types.ErrDuplicate if a chat with that id already exists.
func (c ChatsObjMapper) Create(ctx context.Context, chat *types.Chat) error {
	chat.CreatedAt = types.TimeNow()
	data, err := toDoc(chat)
	if err != nil {
		return err
	}
	return c.s.adp.Create(ctx, collChats, chat.Id, data)
}

// Subscribe opens a change stream over all chats the identity is a
// member of, in either slot.
func (c ChatsObjMapper) Subscribe(ctx context.Context, me string) (*adapter.Subscription, error) {
	return c.s.adp.Subscribe(ctx, collChats, adapter.Or(
		adapter.Eq("user1.id", me),
		adapter.Eq("user2.id", me)))
}

// MessagesObjMapper is a mapper for message records.
type MessagesObjMapper struct {
	s *Store
}

// Save appends a message to its chat. The message id is generated here.
func (m MessagesObjMapper) Save(ctx context.Context, msg *types.Message) error {
	msg.Id = m.s.GetUidString()
	data, err := toDoc(msg)
	if err != nil {
		return err
	}
	return m.s.adp.Set(ctx, collMessages, msg.Id, data, false)
}

// Subscribe opens a change stream over the messages of one chat.
func (m MessagesObjMapper) Subscribe(ctx context.Context, chatId string) (*adapter.Subscription, error) {
	return m.s.adp.Subscribe(ctx, collMessages, adapter.Eq("chat", chatId))
}

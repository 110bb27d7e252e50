// Package types defines the records stored in the document store and
// the errors reported by the storage layer.
package types

import (
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"time"
)

// StoreError satisfies Error interface but allows constant values for
// direct comparison.
type StoreError string

// Error is required by error interface.
func (s StoreError) Error() string {
	return string(s)
}

const (
	// ErrInternal means DB or other internal failure.
	ErrInternal = StoreError("internal")
	// ErrMalformed means the document cannot be parsed or otherwise wrong.
	ErrMalformed = StoreError("malformed")
	// ErrFailed means the operation failed for no more specific reason.
	ErrFailed = StoreError("failed")
	// ErrDuplicate means the document already exists.
	ErrDuplicate = StoreError("duplicate")
	// ErrNotFound means the requested document was not found.
	ErrNotFound = StoreError("not found")
	// ErrPermissionDenied means the store rejected the operation.
	ErrPermissionDenied = StoreError("denied")
	// ErrUnsupported means the adapter does not implement the operation.
	ErrUnsupported = StoreError("unsupported")
)

// TimeNow returns current wall time in UTC rounded to milliseconds.
func TimeNow() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// Fixed-width RFC 3339 with nanoseconds. RFC3339Nano is unsuitable
// here: it trims trailing fractional zeros, which breaks lexicographic
// ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// TimestampNow returns the current time as an opaque sortable string.
// Lexicographic order of these strings is chronological order.
func TimestampNow() string {
	return time.Now().UTC().Format(timestampLayout)
}

// User is a party's durable account record.
type User struct {
	// Identity issued by the authenticator; the document id.
	Id string `json:"id"`
	// Display name.
	Name string `json:"name"`
	// Phone number, normalized to bare digits. Globally unique.
	Number string `json:"number"`
	// Avatar location, empty if not set.
	ImageUrl string `json:"imageUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AccountUpdate is a partial profile update. Nil fields are "absent":
// they keep their current values. Empty strings are written as such.
type AccountUpdate struct {
	Name     *string
	Number   *string
	ImageUrl *string
}

// ChatUser is a member of a chat: the member's profile fields as they
// were when the chat was created. It does not track later edits.
type ChatUser struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Number   string `json:"number"`
	ImageUrl string `json:"imageUrl,omitempty"`
}

// Chat is a two-party conversation. Exactly one chat may exist for a
// given unordered pair of identities; its document id is PairName of
// the two.
type Chat struct {
	Id    string   `json:"id"`
	User1 ChatUser `json:"user1"`
	User2 ChatUser `json:"user2"`

	CreatedAt time.Time `json:"createdAt"`
}

// Peer returns the chat member which is not the given identity.
func (c *Chat) Peer(me string) ChatUser {
	if c.User1.Id == me {
		return c.User2
	}
	return c.User1
}

// Message is a single chat message. Messages are immutable and ordered
// by Timestamp ascending.
type Message struct {
	Id   string `json:"id"`
	Chat string `json:"chat"`
	From string `json:"from"`
	Text string `json:"text"`
	// Sortable creation time string, see TimestampNow.
	Timestamp string `json:"timestamp"`
}

// SortMessages orders messages by timestamp ascending, in place.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}

const pairBase64Unpadded = 22

// PairName generates a chat document id from two identities. The id
// depends only on the unordered pair: PairName(a, b) == PairName(b, a).
// A pair of equal identities is invalid and yields "".
func PairName(id1, id2 string) string {
	if id1 == "" || id2 == "" || id1 == id2 {
		return ""
	}

	if id2 < id1 {
		id1, id2 = id2, id1
	}

	digest := sha256.Sum256([]byte(id1 + ":" + id2))
	return "p2p" + base64.URLEncoding.EncodeToString(digest[:])[:pairBase64Unpadded]
}

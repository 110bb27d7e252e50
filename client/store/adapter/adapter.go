// Package adapter contains the interface to be implemented by the
// document store adapters.
package adapter

import (
	"context"
	"encoding/json"
)

// Doc is a schema-less document: a string id plus a bag of fields.
type Doc struct {
	Id   string
	Data map[string]any
}

// Snapshot is one delivery from a change subscription: the complete
// current set of documents matching the subscribed query, or an
// in-band stream error. A stream error does not terminate the
// subscription.
type Snapshot struct {
	Docs []Doc
	Err  error
}

// Subscription is a handle to one live change stream.
type Subscription struct {
	// C delivers snapshots in the order the store emits them. It is
	// closed after Cancel.
	C <-chan Snapshot

	cancel context.CancelFunc
}

// NewSubscription wraps a snapshot channel and its cancel function.
// Intended for use by adapter implementations.
func NewSubscription(ch <-chan Snapshot, cancel context.CancelFunc) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

// Cancel stops delivery. Idempotent. The channel is closed once the
// producing goroutine unwinds; a handful of already-queued snapshots
// may still be read from C afterwards, the consumer is expected to
// discard them.
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// FilterOp is a node type of the filter tree.
type FilterOp int

const (
	// OpEq matches documents whose field equals the given value.
	// Dotted field paths address nested documents ("user1.number").
	OpEq FilterOp = iota
	// OpAnd matches documents satisfying all sub-filters.
	OpAnd
	// OpOr matches documents satisfying at least one sub-filter.
	OpOr
)

// Filter is a query predicate: a tree of equality comparisons combined
// with AND/OR. The zero Filter matches everything.
type Filter struct {
	Op    FilterOp
	Field string
	Value any
	Sub   []Filter
}

// Eq creates an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Op: OpEq, Field: field, Value: value}
}

// And combines filters so all must match.
func And(sub ...Filter) Filter {
	return Filter{Op: OpAnd, Sub: sub}
}

// Or combines filters so at least one must match.
func Or(sub ...Filter) Filter {
	return Filter{Op: OpOr, Sub: sub}
}

// IsZero reports whether the filter is the match-all filter.
func (f Filter) IsZero() bool {
	return f.Field == "" && len(f.Sub) == 0
}

// Adapter is the interface that must be implemented by a document
// store adapter. The schema supports a single connection per store.
type Adapter interface {
	// Open and configure the adapter.
	Open(jsonconf json.RawMessage) error
	// Close the underlying connection.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetName returns the name of the adapter.
	GetName() string

	// Get reads a single document. Returns types.ErrNotFound on miss.
	Get(ctx context.Context, coll, id string) (*Doc, error)
	// Query returns all documents in coll matching the filter.
	Query(ctx context.Context, coll string, filter Filter) ([]Doc, error)
	// Set writes a document. With merge=true only the supplied fields
	// are updated, all others keep their stored values; with
	// merge=false the document is created or fully replaced.
	Set(ctx context.Context, coll, id string, data map[string]any, merge bool) error
	// Create writes a document only if no document with the given id
	// exists, otherwise fails with types.ErrDuplicate.
	Create(ctx context.Context, coll, id string, data map[string]any) error

	// Subscribe opens a change stream over the filtered collection.
	// Every delivery carries the full current matching set.
	Subscribe(ctx context.Context, coll string, filter Filter) (*Subscription, error)
	// WatchDoc opens a change stream over a single document; snapshots
	// carry zero or one document.
	WatchDoc(ctx context.Context, coll, id string) (*Subscription, error)
}

// Package memory is a document store adapter which keeps everything in
// process memory. Subscriptions are fully functional: every mutation of
// a collection re-evaluates the subscribed queries and delivers fresh
// snapshots. Used as the reference implementation of the adapter
// contract and as the storage backend in tests.
package memory

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/letschat/letschat/client/store"
	"github.com/letschat/letschat/client/store/adapter"
	t "github.com/letschat/letschat/client/store/types"
)

const adapterName = "memory"

type subscriber struct {
	coll   string
	filter adapter.Filter
	// Watched document id, "" for query subscriptions.
	docId string

	ch    chan adapter.Snapshot
	dirty chan struct{}
	ctx   context.Context
}

type adapterMem struct {
	lock sync.Mutex
	open bool
	// collection -> document id -> fields
	colls map[string]map[string]map[string]any
	subs  []*subscriber
}

// Open initializes the adapter. The config is ignored.
func (a *adapterMem) Open(jsonconf json.RawMessage) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.open {
		return t.ErrInternal
	}
	a.colls = make(map[string]map[string]map[string]any)
	a.open = true
	return nil
}

// Close drops all stored documents.
func (a *adapterMem) Close() error {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.open = false
	a.colls = nil
	a.subs = nil
	return nil
}

// IsOpen checks if the adapter is ready for use.
func (a *adapterMem) IsOpen() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.open
}

// GetName returns the name of the adapter.
func (a *adapterMem) GetName() string {
	return adapterName
}

func copyDoc(data map[string]any) map[string]any {
	dst := make(map[string]any, len(data))
	for k, v := range data {
		if sub, ok := v.(map[string]any); ok {
			dst[k] = copyDoc(sub)
		} else {
			dst[k] = v
		}
	}
	return dst
}

// fieldByPath resolves a dotted path ("user1.number") in a document.
func fieldByPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func match(data map[string]any, f adapter.Filter) bool {
	if f.IsZero() {
		return true
	}
	switch f.Op {
	case adapter.OpEq:
		v, ok := fieldByPath(data, f.Field)
		return ok && reflect.DeepEqual(v, f.Value)
	case adapter.OpAnd:
		for _, sub := range f.Sub {
			if !match(data, sub) {
				return false
			}
		}
		return true
	case adapter.OpOr:
		for _, sub := range f.Sub {
			if match(data, sub) {
				return true
			}
		}
		return false
	}
	return false
}

// Get reads a single document.
func (a *adapterMem) Get(ctx context.Context, coll, id string) (*adapter.Doc, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	data, ok := a.colls[coll][id]
	if !ok {
		return nil, t.ErrNotFound
	}
	return &adapter.Doc{Id: id, Data: copyDoc(data)}, nil
}

// Query returns all documents in coll matching the filter.
func (a *adapterMem) Query(ctx context.Context, coll string, filter adapter.Filter) ([]adapter.Doc, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.evalQuery(coll, filter), nil
}

// evalQuery must be called with a.lock held.
func (a *adapterMem) evalQuery(coll string, filter adapter.Filter) []adapter.Doc {
	var result []adapter.Doc
	for id, data := range a.colls[coll] {
		if match(data, filter) {
			result = append(result, adapter.Doc{Id: id, Data: copyDoc(data)})
		}
	}
	return result
}

// Set creates or updates a document.
func (a *adapterMem) Set(ctx context.Context, coll, id string, data map[string]any, merge bool) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.colls[coll] == nil {
		a.colls[coll] = make(map[string]map[string]any)
	}
	prev, exists := a.colls[coll][id]
	if merge && exists {
		merged := copyDoc(prev)
		for k, v := range copyDoc(data) {
			merged[k] = v
		}
		a.colls[coll][id] = merged
	} else {
		a.colls[coll][id] = copyDoc(data)
	}

	a.wake(coll)
	return nil
}

// Create writes a document only if it does not exist yet.
func (a *adapterMem) Create(ctx context.Context, coll, id string, data map[string]any) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if _, exists := a.colls[coll][id]; exists {
		return t.ErrDuplicate
	}
	if a.colls[coll] == nil {
		a.colls[coll] = make(map[string]map[string]any)
	}
	a.colls[coll][id] = copyDoc(data)

	a.wake(coll)
	return nil
}

// wake marks subscriptions on the given collection dirty.
// Must be called with a.lock held.
func (a *adapterMem) wake(coll string) {
	for _, sub := range a.subs {
		if sub.coll != coll {
			continue
		}
		select {
		case sub.dirty <- struct{}{}:
		default:
			// Already dirty, delivery coalesces onto the next snapshot.
		}
	}
}

func (a *adapterMem) addSub(ctx context.Context, coll, docId string, filter adapter.Filter) *adapter.Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		coll:   coll,
		filter: filter,
		docId:  docId,
		ch:     make(chan adapter.Snapshot, 8),
		dirty:  make(chan struct{}, 1),
		ctx:    subCtx,
	}

	a.lock.Lock()
	a.subs = append(a.subs, sub)
	a.lock.Unlock()

	// Initial snapshot.
	sub.dirty <- struct{}{}
	go a.pump(sub)

	return adapter.NewSubscription(sub.ch, cancel)
}

func (a *adapterMem) pump(sub *subscriber) {
	defer close(sub.ch)
	for {
		select {
		case <-sub.ctx.Done():
			a.dropSub(sub)
			return
		case <-sub.dirty:
		}

		a.lock.Lock()
		var snap adapter.Snapshot
		if sub.docId != "" {
			if data, ok := a.colls[sub.coll][sub.docId]; ok {
				snap.Docs = []adapter.Doc{{Id: sub.docId, Data: copyDoc(data)}}
			}
		} else {
			snap.Docs = a.evalQuery(sub.coll, sub.filter)
		}
		a.lock.Unlock()

		select {
		case <-sub.ctx.Done():
			a.dropSub(sub)
			return
		case sub.ch <- snap:
		}
	}
}

func (a *adapterMem) dropSub(sub *subscriber) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for i, s := range a.subs {
		if s == sub {
			a.subs = append(a.subs[:i], a.subs[i+1:]...)
			break
		}
	}
}

// Subscribe opens a change stream over the filtered collection.
func (a *adapterMem) Subscribe(ctx context.Context, coll string, filter adapter.Filter) (*adapter.Subscription, error) {
	if !a.IsOpen() {
		return nil, t.ErrInternal
	}
	return a.addSub(ctx, coll, "", filter), nil
}

// WatchDoc opens a change stream over a single document.
func (a *adapterMem) WatchDoc(ctx context.Context, coll, id string) (*adapter.Subscription, error) {
	if !a.IsOpen() {
		return nil, t.ErrInternal
	}
	return a.addSub(ctx, coll, id, adapter.Filter{}), nil
}

func init() {
	store.RegisterAdapter(&adapterMem{})
}

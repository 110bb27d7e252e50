// The hub owns the live change subscriptions: at most one per logical
// stream kind. Replacing a subscription cancels the prior one and bumps
// the stream's epoch; snapshots are pumped into the session's event
// queue tagged with the epoch they belong to, so a delivery from a
// superseded stream is recognizably stale and never applied, even if
// the underlying stream fires after cancellation.

package main

import (
	"sync"

	"github.com/letschat/letschat/client/store/adapter"
)

type streamKind int

const (
	// The signed-in party's own profile document.
	streamProfile streamKind = iota
	// All chats the party is a member of.
	streamChats
	// Messages of the currently open chat.
	streamMessages

	streamKindCount
)

func (k streamKind) String() string {
	switch k {
	case streamProfile:
		return "profile"
	case streamChats:
		return "chats"
	case streamMessages:
		return "messages"
	}
	return "unknown"
}

// snapshotEvent is one delivery from a live stream, as queued for the
// session's state-update loop.
type snapshotEvent struct {
	kind  streamKind
	epoch uint64
	docs  []adapter.Doc
	err   error
}

// Hub multiplexes the change subscriptions of one session.
type Hub struct {
	events chan<- any
	done   <-chan struct{}

	mu    sync.Mutex
	subs  [streamKindCount]*adapter.Subscription
	epoch [streamKindCount]uint64
}

func newHub(events chan<- any, done <-chan struct{}) *Hub {
	return &Hub{events: events, done: done}
}

// install replaces the subscription of the given kind. The prior
// handle, if any, is cancelled and its epoch retired. A nil sub just
// cancels. Returns the new epoch.
func (h *Hub) install(kind streamKind, sub *adapter.Subscription) uint64 {
	h.mu.Lock()
	if old := h.subs[kind]; old != nil {
		old.Cancel()
	}
	h.subs[kind] = sub
	h.epoch[kind]++
	epoch := h.epoch[kind]
	h.mu.Unlock()

	if sub != nil {
		go h.pump(kind, epoch, sub)
	}
	return epoch
}

// cancel tears down the subscription of the given kind.
func (h *Hub) cancel(kind streamKind) {
	h.install(kind, nil)
}

// cancelAll tears down every live subscription.
func (h *Hub) cancelAll() {
	for kind := streamKind(0); kind < streamKindCount; kind++ {
		h.cancel(kind)
	}
}

// active reports whether a subscription of the given kind is live.
func (h *Hub) active(kind streamKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs[kind] != nil
}

// epochOf returns the current epoch of the given kind. Snapshot events
// carrying any other epoch are stale.
func (h *Hub) epochOf(kind streamKind) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epoch[kind]
}

// pump forwards deliveries of one subscription into the event queue
// until the stream is cancelled or the session shuts down.
func (h *Hub) pump(kind streamKind, epoch uint64, sub *adapter.Subscription) {
	for snap := range sub.C {
		ev := snapshotEvent{kind: kind, epoch: epoch, docs: snap.Docs, err: snap.Err}
		select {
		case h.events <- ev:
		case <-h.done:
			return
		}
	}
}

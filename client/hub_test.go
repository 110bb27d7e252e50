package main

import (
	"testing"
	"time"

	"github.com/letschat/letschat/client/store/adapter"
)

func makeSub() (chan<- adapter.Snapshot, *adapter.Subscription, *bool) {
	ch := make(chan adapter.Snapshot, 4)
	cancelled := false
	sub := adapter.NewSubscription(ch, func() { cancelled = true })
	return ch, sub, &cancelled
}

func TestHubReplaceRetiresEpoch(t *testing.T) {
	events := make(chan any, 8)
	done := make(chan struct{})
	defer close(done)
	hub := newHub(events, done)

	chA, subA, cancelledA := makeSub()
	epochA := hub.install(streamMessages, subA)

	_, subB, _ := makeSub()
	epochB := hub.install(streamMessages, subB)

	if !*cancelledA {
		t.Error("prior subscription not cancelled on replacement")
	}
	if epochB == epochA {
		t.Fatal("epoch not bumped on replacement")
	}
	if hub.epochOf(streamMessages) != epochB {
		t.Error("current epoch is not the replacement's")
	}

	// A late delivery from the replaced stream is still pumped, but it
	// carries the retired epoch and is recognizably stale.
	chA <- adapter.Snapshot{Docs: []adapter.Doc{{Id: "m1"}}}
	select {
	case ev := <-events:
		snap, ok := ev.(snapshotEvent)
		if !ok {
			t.Fatalf("unexpected event %T", ev)
		}
		if snap.epoch != epochA {
			t.Errorf("late delivery tagged with epoch %d, want %d", snap.epoch, epochA)
		}
		if snap.epoch == hub.epochOf(snap.kind) {
			t.Error("late delivery would pass the staleness check")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("late delivery never pumped")
	}
}

func TestHubCancelAll(t *testing.T) {
	events := make(chan any, 8)
	done := make(chan struct{})
	defer close(done)
	hub := newHub(events, done)

	var flags []*bool
	for kind := streamKind(0); kind < streamKindCount; kind++ {
		_, sub, cancelled := makeSub()
		hub.install(kind, sub)
		flags = append(flags, cancelled)
	}

	hub.cancelAll()
	for kind := streamKind(0); kind < streamKindCount; kind++ {
		if !*flags[kind] {
			t.Errorf("%v subscription not cancelled", kind)
		}
		if hub.active(kind) {
			t.Errorf("%v still active after cancelAll", kind)
		}
	}
}

func TestSessionDropsStaleSnapshot(t *testing.T) {
	st := openTestStore(t)
	s, _ := newTestSession(t, st)
	signUp(t, s, "Alice", "555-0100", "alice@example.com")

	// An event from an epoch the hub never issued must be ignored.
	s.applySnapshot(snapshotEvent{
		kind:  streamChats,
		epoch: 999,
		docs:  []adapter.Doc{{Id: "ghost", Data: map[string]any{"id": "ghost"}}},
	})
	if len(s.Chats()) != 0 {
		t.Error("stale snapshot mutated the chat list")
	}
}

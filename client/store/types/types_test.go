package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPairNameSymmetric(t *testing.T) {
	ab := PairName("alice", "bob")
	ba := PairName("bob", "alice")
	if ab == "" {
		t.Fatal("PairName returned empty id for a valid pair")
	}
	if ab != ba {
		t.Errorf("PairName is order-dependent: %q != %q", ab, ba)
	}
	if got := PairName("alice", "carol"); got == ab {
		t.Errorf("distinct pairs produced the same id %q", got)
	}
}

func TestPairNameInvalid(t *testing.T) {
	if got := PairName("alice", "alice"); got != "" {
		t.Errorf("PairName with self = %q, want empty", got)
	}
	if got := PairName("", "bob"); got != "" {
		t.Errorf("PairName with empty identity = %q, want empty", got)
	}
}

func TestSortMessages(t *testing.T) {
	msgs := []Message{
		{Id: "3", Timestamp: "2026-01-03T00:00:00Z"},
		{Id: "1", Timestamp: "2026-01-01T00:00:00Z"},
		{Id: "2", Timestamp: "2026-01-02T00:00:00Z"},
	}
	SortMessages(msgs)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.Id)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, ids); diff != "" {
		t.Errorf("messages out of order (-want +got):\n%s", diff)
	}
}

func TestTimestampSortable(t *testing.T) {
	t1 := TimestampNow()
	t2 := TimestampNow()
	if t2 < t1 {
		t.Errorf("timestamps not monotonic: %q then %q", t1, t2)
	}
}

func TestChatPeer(t *testing.T) {
	chat := Chat{
		User1: ChatUser{Id: "alice"},
		User2: ChatUser{Id: "bob"},
	}
	if got := chat.Peer("alice"); got.Id != "bob" {
		t.Errorf("Peer(alice) = %q, want bob", got.Id)
	}
	if got := chat.Peer("bob"); got.Id != "alice" {
		t.Errorf("Peer(bob) = %q, want alice", got.Id)
	}
}

func TestUidGenerator(t *testing.T) {
	var ug UidGenerator
	if err := ug.Init(1, []byte("0123456789012345")); err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		uid := ug.GetStr()
		if uid == "" {
			t.Fatal("generator returned empty id")
		}
		if seen[uid] {
			t.Fatalf("duplicate id %q", uid)
		}
		seen[uid] = true
	}
}

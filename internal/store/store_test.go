package store

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/agrolink/chatsync/internal/chat"
)

func newTestStore() *Store {
	return New(15*time.Second, 10*time.Second)
}

func received(id string, ts int64) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "u2",
		Content:        "msg " + id,
		CreatedAtMs:    ts,
		Delivery:       chat.Sent,
	}
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestReceivedKeepsAscendingOrder(t *testing.T) {
	s := newTestStore()
	// Deliver out of order; the sequence must still ascend.
	for _, m := range []chat.Message{received("m3", 3000), received("m1", 1000), received("m2", 2000)} {
		if !s.ApplyReceived(m) {
			t.Fatalf("ApplyReceived(%s) = false, want true", m.ID)
		}
	}

	got := ids(s.Snapshot().Messages["c1"])
	want := []string{"m1", "m2", "m3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sequence = %v, want %v", got, want)
	}
}

func TestReceivedIdempotent(t *testing.T) {
	s := newTestStore()
	m := received("m1", 1000)
	if !s.ApplyReceived(m) {
		t.Fatal("first ApplyReceived = false")
	}
	before := s.Snapshot()

	if s.ApplyReceived(m) {
		t.Error("second ApplyReceived = true, want no-op")
	}
	after := s.Snapshot()
	if !reflect.DeepEqual(before.Messages, after.Messages) {
		t.Errorf("redelivery changed state:\nbefore %v\nafter  %v", before.Messages, after.Messages)
	}
}

func TestOptimisticSendThenAck(t *testing.T) {
	s := newTestStore()
	s.ApplyReceived(received("m1", 1000))

	s.AddPending(chat.Message{
		ID:             "tok-1",
		ConversationID: "c1",
		Content:        "hello",
		CreatedAtMs:    2000,
	})

	snap := s.Snapshot()
	seq := snap.Messages["c1"]
	if len(seq) != 2 || seq[1].ID != "tok-1" || seq[1].Delivery != chat.Pending {
		t.Fatalf("after send: %v, want pending tok-1 at index 1", seq)
	}

	applied := s.ApplyAck("tok-1", chat.Message{
		ID:             "m100",
		ConversationID: "c1",
		Content:        "hello",
		CreatedAtMs:    2000,
	})
	if !applied {
		t.Fatal("ApplyAck = false")
	}

	seq = s.Snapshot().Messages["c1"]
	if len(seq) != 2 {
		t.Fatalf("sequence length = %d after ack, want unchanged 2", len(seq))
	}
	got := seq[1]
	if got.ID != "m100" || got.Delivery != chat.Sent || got.Content != "hello" {
		t.Errorf("reconciled message = %+v, want id=m100 sent hello", got)
	}
}

// The sender is joined to its own conversation, so the server record
// can arrive through redelivery before the ack. The reconciliation must
// then drop the pending entry rather than insert the server ID twice.
func TestAckAfterRedeliveryDropsPending(t *testing.T) {
	s := newTestStore()
	s.AddPending(chat.Message{ID: "tok-1", ConversationID: "c1", Content: "hello", CreatedAtMs: 2000})
	if !s.ApplyReceived(received("m100", 2000)) {
		t.Fatal("ApplyReceived(m100) = false")
	}

	if !s.ApplyAck("tok-1", received("m100", 2000)) {
		t.Fatal("ApplyAck = false")
	}

	got := ids(s.Snapshot().Messages["c1"])
	if !reflect.DeepEqual(got, []string{"m100"}) {
		t.Fatalf("sequence = %v, want exactly one m100", got)
	}

	// The ack consumed the token; a redelivered ack changes nothing.
	before := s.Snapshot()
	s.ApplyAck("tok-1", received("m100", 2000))
	if !reflect.DeepEqual(before.Messages, s.Snapshot().Messages) {
		t.Error("repeated ack changed state")
	}
}

func TestRemovePending(t *testing.T) {
	s := newTestStore()
	s.ApplyReceived(received("m1", 1000))
	s.AddPending(chat.Message{ID: "tok-1", ConversationID: "c1", Content: "hi", CreatedAtMs: 2000})

	if !s.RemovePending("c1", "tok-1") {
		t.Fatal("RemovePending = false")
	}
	got := ids(s.Snapshot().Messages["c1"])
	if !reflect.DeepEqual(got, []string{"m1"}) {
		t.Errorf("sequence = %v, want [m1]", got)
	}
	if s.RemovePending("c1", "tok-1") {
		t.Error("second RemovePending = true, want no-op")
	}
	// The token is gone, so a stray ack for it appends the server record.
	if !s.ApplyAck("tok-1", received("m2", 3000)) {
		t.Error("ack after removal should append the server record")
	}
}

func TestAckUnknownTokenAppends(t *testing.T) {
	s := newTestStore()
	s.ApplyReceived(received("m1", 1000))

	if !s.ApplyAck("never-issued", received("m2", 2000)) {
		t.Fatal("ApplyAck with unknown token = false, want append")
	}
	got := ids(s.Snapshot().Messages["c1"])
	if !reflect.DeepEqual(got, []string{"m1", "m2"}) {
		t.Errorf("sequence = %v, want [m1 m2]", got)
	}

	// Same server message again must not duplicate.
	if s.ApplyAck("never-issued", received("m2", 2000)) {
		t.Error("duplicate server message applied twice")
	}
}

func TestPendingTimeoutFails(t *testing.T) {
	s := newTestStore()
	s.AddPending(chat.Message{ID: "tok-1", ConversationID: "c1", Content: "hi", CreatedAtMs: 1000})

	// Nothing expires before the window.
	if expired := s.ExpirePending(time.Now()); len(expired) != 0 {
		t.Fatalf("expired early: %v", expired)
	}

	expired := s.ExpirePending(time.Now().Add(16 * time.Second))
	if !reflect.DeepEqual(expired, []string{"tok-1"}) {
		t.Fatalf("expired = %v, want [tok-1]", expired)
	}

	seq := s.Snapshot().Messages["c1"]
	if len(seq) != 1 || seq[0].Delivery != chat.Failed {
		t.Errorf("sequence = %v, want one failed message still visible", seq)
	}

	// A late ack after the failure must not resurrect the token path
	// but the server record still lands.
	s.ApplyAck("tok-1", received("m100", 1000))
	if got := len(s.Snapshot().Messages["c1"]); got != 2 {
		t.Errorf("sequence length = %d after late ack, want 2", got)
	}
}

func TestMarkPendingRetry(t *testing.T) {
	s := newTestStore()
	s.AddPending(chat.Message{ID: "tok-1", ConversationID: "c1", Content: "hi", CreatedAtMs: 1000})
	s.ExpirePending(time.Now().Add(16 * time.Second))

	if !s.MarkPendingRetry("c1", "tok-1") {
		t.Fatal("MarkPendingRetry = false")
	}
	seq := s.Snapshot().Messages["c1"]
	if seq[0].Delivery != chat.Pending {
		t.Errorf("delivery = %s, want pending", seq[0].Delivery)
	}

	// The retried message acks normally.
	if !s.ApplyAck("tok-1", received("m100", 1000)) {
		t.Error("ack after retry failed")
	}
	if got := s.Snapshot().Messages["c1"][0]; got.ID != "m100" || got.Delivery != chat.Sent {
		t.Errorf("message = %+v, want m100 sent", got)
	}
}

func TestHistoryPagesEqualOneLargePage(t *testing.T) {
	all := []chat.Message{
		received("m1", 1000), received("m2", 2000),
		received("m3", 3000), received("m4", 4000),
	}

	paged := newTestStore()
	epoch := paged.Epoch()
	// Newest page first, then the older page addressed by its cursor.
	paged.ApplyHistoryPage(epoch, "c1", all[2:], chat.Cursor{TimestampMs: 3000, MessageID: "m3"}, true)
	paged.ApplyHistoryPage(epoch, "c1", all[:2], chat.Cursor{TimestampMs: 1000, MessageID: "m1"}, false)

	single := newTestStore()
	single.ApplyHistoryPage(single.Epoch(), "c1", all, chat.Cursor{TimestampMs: 1000, MessageID: "m1"}, false)

	got := ids(paged.Snapshot().Messages["c1"])
	want := ids(single.Snapshot().Messages["c1"])
	if !reflect.DeepEqual(got, want) {
		t.Errorf("paged = %v, single = %v, want equal", got, want)
	}
	if cur := paged.Cursor("c1"); cur.MessageID != "m1" {
		t.Errorf("cursor = %+v, want oldest m1", cur)
	}
}

func TestHistoryPageSkipsKnownIDs(t *testing.T) {
	s := newTestStore()
	s.ApplyReceived(received("m2", 2000))

	s.ApplyHistoryPage(s.Epoch(), "c1", []chat.Message{
		received("m1", 1000), received("m2", 2000),
	}, chat.Cursor{TimestampMs: 1000, MessageID: "m1"}, false)

	got := ids(s.Snapshot().Messages["c1"])
	if !reflect.DeepEqual(got, []string{"m1", "m2"}) {
		t.Errorf("sequence = %v, want [m1 m2] without duplicate m2", got)
	}
}

func TestStaleEpochPageDiscarded(t *testing.T) {
	s := newTestStore()
	stale := s.Epoch()
	s.Clear()

	if s.ApplyHistoryPage(stale, "c1", []chat.Message{received("m1", 1000)}, chat.Cursor{TimestampMs: 1000, MessageID: "m1"}, false) {
		t.Error("stale-epoch page applied, want discarded")
	}
	if len(s.Snapshot().Messages["c1"]) != 0 {
		t.Error("store changed by a stale page")
	}
}

func TestPresenceLastWriteWins(t *testing.T) {
	s := newTestStore()
	s.ApplyPresence("u1", chat.Online)
	s.ApplyPresence("u1", chat.Offline)

	if got := s.Snapshot().Presence["u1"]; got != chat.Offline {
		t.Errorf("presence = %s, want offline", got)
	}
}

func TestTypingSet(t *testing.T) {
	s := newTestStore()
	now := time.Now()

	s.ApplyTyping("c1", "u1", true, now)
	s.ApplyTyping("c1", "u1", true, now)
	if got := s.Snapshot().Typing["c1"]; !reflect.DeepEqual(got, []string{"u1"}) {
		t.Errorf("typing = %v, want [u1] exactly once", got)
	}

	s.ApplyTyping("c1", "u1", false, now)
	if got := s.Snapshot().Typing["c1"]; len(got) != 0 {
		t.Errorf("typing = %v after stop, want empty", got)
	}
}

func TestTypingIdleExpiry(t *testing.T) {
	s := newTestStore()
	start := time.Now()
	s.ApplyTyping("c1", "u1", true, start)
	s.ApplyTyping("c1", "u2", true, start.Add(5*time.Second))

	if s.ExpireTyping(start.Add(9 * time.Second)) {
		t.Error("expired before the idle window")
	}
	if !s.ExpireTyping(start.Add(11 * time.Second)) {
		t.Error("u1 not expired after the idle window")
	}
	if got := s.Snapshot().Typing["c1"]; !reflect.DeepEqual(got, []string{"u2"}) {
		t.Errorf("typing = %v, want [u2]", got)
	}
}

func TestReceivedBumpsLastActivity(t *testing.T) {
	s := newTestStore()
	s.SetConversations([]chat.Conversation{
		{ID: "c1", Type: chat.Direct, LastActivityMs: 500},
		{ID: "c2", Type: chat.Direct, LastActivityMs: 2000},
	})

	s.ApplyReceived(received("m1", 3000))
	snap := s.Snapshot()
	if snap.Conversations[0].ID != "c1" || snap.Conversations[0].LastActivityMs != 3000 {
		t.Errorf("conversations = %+v, want c1 first at 3000", snap.Conversations)
	}

	// Older traffic never rewinds the timestamp.
	s.ApplyReceived(received("m0", 100))
	if got := s.Snapshot().Conversations[0].LastActivityMs; got != 3000 {
		t.Errorf("last activity = %d, want 3000", got)
	}
}

func TestClearDropsEverything(t *testing.T) {
	s := newTestStore()
	s.SetConversations([]chat.Conversation{{ID: "c1"}})
	s.SetActive("c1")
	s.ApplyReceived(received("m1", 1000))
	s.ApplyPresence("u1", chat.Online)
	s.ApplyTyping("c1", "u1", true, time.Now())

	before := s.Epoch()
	s.Clear()

	snap := s.Snapshot()
	if len(snap.Conversations) != 0 || len(snap.Messages) != 0 ||
		len(snap.Presence) != 0 || len(snap.Typing) != 0 || snap.ActiveConversationID != "" {
		t.Errorf("snapshot after Clear = %+v, want empty", snap)
	}
	if s.Epoch() != before+1 {
		t.Errorf("epoch = %d, want %d", s.Epoch(), before+1)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	s := newTestStore()
	s.SetConversations([]chat.Conversation{{ID: "c1", Participants: []string{"me", "u2"}}})
	s.ApplyReceived(received("m1", 1000))

	snap := s.Snapshot()
	snap.Messages["c1"][0].Content = "mutated"
	snap.Conversations[0].Participants[0] = "mutated"
	snap.Presence["x"] = chat.Online

	fresh := s.Snapshot()
	if fresh.Messages["c1"][0].Content != "msg m1" {
		t.Error("snapshot mutation reached the store's messages")
	}
	if fresh.Conversations[0].Participants[0] != "me" {
		t.Error("snapshot mutation reached the store's participants")
	}
	if len(fresh.Presence) != 0 {
		t.Error("snapshot mutation reached the store's presence map")
	}
}

func TestManyDistinctMessagesStaySortedAndUnique(t *testing.T) {
	s := newTestStore()
	// Interleave two delivery orders for the same set of IDs.
	for i := 50; i > 0; i-- {
		s.ApplyReceived(received(fmt.Sprintf("m%03d", i), int64(i*100)))
	}
	for i := 1; i <= 50; i++ {
		s.ApplyReceived(received(fmt.Sprintf("m%03d", i), int64(i*100)))
	}

	seq := s.Snapshot().Messages["c1"]
	if len(seq) != 50 {
		t.Fatalf("length = %d, want 50 unique messages", len(seq))
	}
	for i := 1; i < len(seq); i++ {
		if seq[i-1].CreatedAtMs > seq[i].CreatedAtMs {
			t.Fatalf("order violated at %d: %d > %d", i, seq[i-1].CreatedAtMs, seq[i].CreatedAtMs)
		}
	}
}

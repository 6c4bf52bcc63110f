package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/storage/sqlite"
)

type captureBus struct {
	mu     sync.Mutex
	events []map[string]any
}

func (b *captureBus) Broadcast(project, agent string, event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		b.events = append(b.events, m)
	}
}

func (b *captureBus) ofType(t string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []map[string]any{}
	for _, e := range b.events {
		if e["type"] == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestHub(t *testing.T) (*Hub, *captureBus) {
	t.Helper()
	st := sqlite.NewSQLiteTest(t)
	bus := &captureBus{}
	return New(st, bus), bus
}

func TestReserveValidation(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   ReserveInput
	}{
		{"no paths", ReserveInput{Project: "p", Agent: "a", TTL: time.Hour}},
		{"bad ttl", ReserveInput{Project: "p", Agent: "a", Paths: []string{"*.go"}, TTL: 0}},
		{"no agent", ReserveInput{Project: "p", Paths: []string{"*.go"}, TTL: time.Hour}},
		{"no project", ReserveInput{Agent: "a", Paths: []string{"*.go"}, TTL: time.Hour}},
		{"empty pattern", ReserveInput{Project: "p", Agent: "a", Paths: []string{""}, TTL: time.Hour}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.Reserve(ctx, tc.in); !core.IsInvalid(err) {
				t.Fatalf("expected invalid error, got %v", err)
			}
		})
	}
}

func TestReserveBroadcastsGrants(t *testing.T) {
	h, bus := newTestHub(t)
	ctx := context.Background()

	grant, err := h.Reserve(ctx, ReserveInput{
		Project: "proj", Agent: "agent-1",
		Paths: []string{"src/*.go", "docs/*.md"}, TTL: time.Hour, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(grant.Granted) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grant.Granted))
	}
	if got := bus.ofType(string(core.EventReservationGranted)); len(got) != 2 {
		t.Fatalf("expected 2 granted events, got %d", len(got))
	}
}

func TestConflictIsDataNotError(t *testing.T) {
	h, bus := newTestHub(t)
	ctx := context.Background()

	_, err := h.Reserve(ctx, ReserveInput{
		Project: "proj", Agent: "agent-1", Paths: []string{"src/*.go"}, TTL: time.Hour, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	grant, err := h.Reserve(ctx, ReserveInput{
		Project: "proj", Agent: "agent-2", Paths: []string{"src/main.go"}, TTL: time.Hour, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("conflicting reserve must not error: %v", err)
	}
	if len(grant.Conflicts) != 1 || len(grant.Granted) != 0 {
		t.Fatalf("expected pure conflict, got %+v", grant)
	}
	// No granted event for the losing request.
	if got := bus.ofType(string(core.EventReservationGranted)); len(got) != 1 {
		t.Fatalf("expected 1 granted event total, got %d", len(got))
	}
}

func TestForceReleaseRequiresReason(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	grant, _ := h.Reserve(ctx, ReserveInput{
		Project: "proj", Agent: "agent-1", Paths: []string{"*.go"}, TTL: time.Hour, Exclusive: true,
	})
	id := grant.Granted[0].ID

	if err := h.ForceReleaseReservation(ctx, "proj", id, "agent-2", "  "); !core.IsInvalid(err) {
		t.Fatalf("expected invalid for blank reason, got %v", err)
	}
	if err := h.ForceReleaseReservation(ctx, "proj", id, "agent-2", "stale hold"); err != nil {
		t.Fatalf("force release: %v", err)
	}
}

func TestSlotConflictReportsHolder(t *testing.T) {
	h, bus := newTestHub(t)
	ctx := context.Background()

	slot, conflict, err := h.AcquireSlot(ctx, SlotInput{
		Project: "proj", Agent: "agent-1", SlotType: "build", TTL: 30 * time.Second,
	})
	if err != nil || conflict != nil || slot == nil {
		t.Fatalf("acquire: %v %+v", err, conflict)
	}

	_, conflict2, err := h.AcquireSlot(ctx, SlotInput{
		Project: "proj", Agent: "agent-2", SlotType: "build", TTL: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if conflict2 == nil || conflict2.Holder.AgentID != "agent-1" {
		t.Fatalf("expected conflict naming agent-1, got %+v", conflict2)
	}

	// After the holder releases, the identical request succeeds.
	if err := h.ReleaseSlot(ctx, "proj", slot.ID, "agent-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	slot3, conflict3, err := h.AcquireSlot(ctx, SlotInput{
		Project: "proj", Agent: "agent-2", SlotType: "build", TTL: 30 * time.Second,
	})
	if err != nil || conflict3 != nil || slot3 == nil {
		t.Fatalf("expected grant after release: %v %+v", err, conflict3)
	}

	if got := bus.ofType(string(core.EventSlotAcquired)); len(got) != 2 {
		t.Fatalf("expected 2 acquired events, got %d", len(got))
	}
}

func TestSendValidatesAndDeduplicates(t *testing.T) {
	h, bus := newTestHub(t)
	ctx := context.Background()

	if _, err := h.Send(ctx, SendInput{Project: "proj", From: "alice", Body: "hi"}); !core.IsInvalid(err) {
		t.Fatalf("expected invalid for no recipients, got %v", err)
	}
	if _, err := h.Send(ctx, SendInput{Project: "proj", From: "alice", To: []string{"bob"}}); !core.IsInvalid(err) {
		t.Fatalf("expected invalid for empty body, got %v", err)
	}
	if _, err := h.Send(ctx, SendInput{
		Project: "proj", From: "alice", To: []string{"bob"}, Body: "hi", Importance: "shouty",
	}); !core.IsInvalid(err) {
		t.Fatalf("expected invalid importance, got %v", err)
	}

	// bob appears in to and cc; only the to edge survives. Self-address is allowed.
	msg, err := h.Send(ctx, SendInput{
		Project: "proj", From: "alice",
		To: []string{"bob", "bob"}, CC: []string{"bob", "carol"}, BCC: []string{"alice"},
		Body: "standup notes",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(msg.To) != 1 || len(msg.CC) != 1 || len(msg.BCC) != 1 {
		t.Fatalf("dedup failed: to=%v cc=%v bcc=%v", msg.To, msg.CC, msg.BCC)
	}
	if msg.Importance != core.ImportanceNormal {
		t.Errorf("expected default importance, got %s", msg.Importance)
	}

	recips, err := h.Recipients(ctx, "proj", msg.ID)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(recips) != 3 {
		t.Fatalf("expected 3 recipient edges, got %d", len(recips))
	}

	if got := bus.ofType(string(core.EventMessageCreated)); len(got) != 3 {
		t.Fatalf("expected 3 created events (one per recipient), got %d", len(got))
	}
}

func TestReadAckFlow(t *testing.T) {
	h, bus := newTestHub(t)
	ctx := context.Background()

	msg, err := h.Send(ctx, SendInput{
		Project: "proj", From: "alice", To: []string{"bob"}, Body: "ack me", AckRequired: true,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := h.MarkRead(ctx, "proj", msg.ID, "bob"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := h.Acknowledge(ctx, "proj", msg.ID, "bob"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	recips, _ := h.Recipients(ctx, "proj", msg.ID)
	if len(recips) != 1 || recips[0].ReadAt == nil || recips[0].AckAt == nil {
		t.Fatalf("expected read+ack stamped, got %+v", recips)
	}

	if got := bus.ofType(string(core.EventMessageRead)); len(got) != 1 {
		t.Fatalf("expected 1 read event, got %d", len(got))
	}
	if got := bus.ofType(string(core.EventMessageAck)); len(got) != 1 {
		t.Fatalf("expected 1 ack event, got %d", len(got))
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	h, _ := newTestHub(t)
	if _, err := h.Search(context.Background(), "proj", "   ", 10); !core.IsInvalid(err) {
		t.Fatalf("expected invalid for blank query, got %v", err)
	}
}

func TestThreadRequiresID(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	// Unthreaded messages share an empty thread_id; a blank lookup must not
	// collect them all into one phantom thread.
	if _, err := h.Send(ctx, SendInput{
		Project: "proj", From: "agent-1", To: []string{"agent-2"}, Body: "no thread here",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, id := range []string{"", "   "} {
		if _, err := h.Thread(ctx, "proj", id); !core.IsInvalid(err) {
			t.Fatalf("expected invalid for thread id %q, got %v", id, err)
		}
	}
}

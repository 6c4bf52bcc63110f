package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/switchboardhq/switchboard/internal/auth"
	"github.com/switchboardhq/switchboard/internal/httpapi"
	"github.com/switchboardhq/switchboard/internal/hub"
	"github.com/switchboardhq/switchboard/internal/storage/sqlite"
	"github.com/switchboardhq/switchboard/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *ws.Hub) {
	t.Helper()
	st, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	wsHub := ws.NewHub()
	svc := httpapi.NewService(hub.New(st, wsHub))
	srv := httptest.NewServer(httpapi.NewRouter(svc, wsHub.Handler(), auth.Middleware(nil)))
	t.Cleanup(srv.Close)
	return srv, wsHub
}

func TestClientReservationLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	c := New(srv.URL, WithProject("proj"))

	grant, err := c.Reserve(ctx, ReserveRequest{
		Agent: "agent-1", Paths: []string{"src/*.go"}, TTLSeconds: 600, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(grant.Granted) != 1 || grant.Granted[0].PathPattern != "src/*.go" {
		t.Fatalf("unexpected grant %+v", grant)
	}
	id := grant.Granted[0].ID

	// Overlapping request comes back as conflict data, not an error.
	grant2, err := c.Reserve(ctx, ReserveRequest{
		Agent: "agent-2", Paths: []string{"src/main.go"}, TTLSeconds: 600, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("conflicting reserve: %v", err)
	}
	if len(grant2.Granted) != 0 || len(grant2.Conflicts) != 1 {
		t.Fatalf("expected pure conflict, got %+v", grant2)
	}
	if grant2.Conflicts[0].Holder.Agent != "agent-1" {
		t.Fatalf("expected holder agent-1, got %+v", grant2.Conflicts[0])
	}

	renewed, err := c.RenewReservation(ctx, id, 3600)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed.IsActive {
		t.Fatalf("renewed lease should be active: %+v", renewed)
	}

	if err := c.ReleaseReservation(ctx, id, "agent-2"); err == nil {
		t.Fatal("expected non-holder release to fail")
	}
	if err := c.ReleaseReservation(ctx, id, "agent-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	active, err := c.ActiveReservations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active reservations, got %+v", active)
	}
}

func TestClientForceReleaseAndLocks(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	c := New(srv.URL, WithProject("proj"))

	grant, err := c.Reserve(ctx, ReserveRequest{
		Agent: "agent-1", Paths: []string{"docs/**"}, TTLSeconds: 600, Exclusive: true,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	id := grant.Granted[0].ID

	locks, err := c.Locks(ctx)
	if err != nil {
		t.Fatalf("locks: %v", err)
	}
	if len(locks) != 1 {
		t.Fatalf("expected 1 lock, got %d", len(locks))
	}

	if err := c.ForceRelease(ctx, id, "agent-2", ""); err == nil {
		t.Fatal("force release without reason should fail")
	}
	if err := c.ForceRelease(ctx, id, "agent-2", "holder went away"); err != nil {
		t.Fatalf("force release: %v", err)
	}
}

func TestClientSlotConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	c := New(srv.URL, WithProject("proj"))

	slot, err := c.AcquireSlot(ctx, SlotRequest{Agent: "agent-1", SlotType: "build", TTLSeconds: 120})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, err = c.AcquireSlot(ctx, SlotRequest{Agent: "agent-2", SlotType: "build", TTLSeconds: 120})
	var held *SlotHeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected SlotHeldError, got %v", err)
	}
	if held.Holder.Agent != "agent-1" {
		t.Fatalf("expected holder agent-1, got %+v", held)
	}

	if err := c.ReleaseSlot(ctx, slot.ID, "agent-1"); err != nil {
		t.Fatalf("release slot: %v", err)
	}
	if _, err := c.AcquireSlot(ctx, SlotRequest{Agent: "agent-2", SlotType: "build", TTLSeconds: 120}); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestClientMessaging(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	c := New(srv.URL, WithProject("proj"))

	msg, err := c.Send(ctx, SendRequest{
		From: "alice", To: []string{"bob"}, Subject: "Handoff", Body: "parser is yours", Importance: "high",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	inbox, err := c.Inbox(ctx, "bob")
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Subject != "Handoff" {
		t.Fatalf("unexpected inbox %+v", inbox)
	}

	if err := c.Read(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := c.Ack(ctx, msg.ID, "bob"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	recips, err := c.Recipients(ctx, msg.ID)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(recips) != 1 || recips[0].ReadAt == nil || recips[0].AckAt == nil {
		t.Fatalf("expected read+ack'd recipient, got %+v", recips)
	}

	hits, err := c.Search(ctx, "parser", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 search hit, got %d", len(hits))
	}
}

func TestClientUnifiedInbox(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	for _, p := range []string{"proj-a", "proj-b"} {
		c := New(srv.URL, WithProject(p))
		if _, err := c.Send(ctx, SendRequest{From: "alice", To: []string{"bob"}, Body: "hello from " + p}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	c := New(srv.URL)
	feed, err := c.UnifiedInbox(ctx, 10)
	if err != nil {
		t.Fatalf("unified inbox: %v", err)
	}
	if feed.TotalCount != 2 || len(feed.Messages) != 2 {
		t.Fatalf("expected 2 messages across projects, got %+v", feed)
	}
	if feed.Messages[0].ProjectName == "" || feed.Messages[0].RelativeTime == "" {
		t.Fatalf("expected enrichment, got %+v", feed.Messages[0])
	}
}

func TestWSClientReceivesEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []Event
	wsc := NewWSClient(srv.URL, "bob", WithWSProject("proj"), WithAutoReconnect(false))
	wsc.OnEvent(FilteredEventHandler(EventFilter{Types: []string{EventMessageCreated}}, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))
	if err := wsc.Connect(ctx); err != nil {
		t.Fatalf("ws connect: %v", err)
	}
	defer wsc.Close()

	c := New(srv.URL, WithProject("proj"))
	if _, err := c.Send(ctx, SendRequest{From: "alice", To: []string{"bob"}, Body: "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for message.created event")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Type != EventMessageCreated || got[0].Project != "proj" {
		t.Fatalf("unexpected event %+v", got[0])
	}
}

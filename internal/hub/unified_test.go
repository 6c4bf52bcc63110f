package hub

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/storage"
	"github.com/switchboardhq/switchboard/internal/storage/sqlite"
)

// flakyStore fails RecentMessages for one project to exercise the
// aggregator's degrade-and-skip path.
type flakyStore struct {
	storage.Store
	failProject string
}

func (f *flakyStore) RecentMessages(ctx context.Context, project string, limit int) ([]core.Message, error) {
	if project == f.failProject {
		return nil, errors.New("store unreachable")
	}
	return f.Store.RecentMessages(ctx, project, limit)
}

func TestFetchAllMergesAndTruncates(t *testing.T) {
	st := sqlite.NewSQLiteTest(t)
	h := New(st, nil)
	ctx := context.Background()

	// 3 messages across 2 projects, spaced so recency ordering is stable.
	send := func(project, body string) {
		t.Helper()
		if _, err := h.Send(ctx, SendInput{Project: project, From: "alice", To: []string{"bob"}, Body: body}); err != nil {
			t.Fatalf("send %s: %v", body, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	send("proj-a", "first")
	send("proj-b", "second")
	send("proj-a", "third")

	feed, err := NewAggregator(st).FetchAll(ctx, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if feed.TotalCount != 3 {
		t.Errorf("expected total 3, got %d", feed.TotalCount)
	}
	if len(feed.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(feed.Messages))
	}
	if feed.Messages[0].Body != "third" || feed.Messages[1].Body != "second" {
		t.Fatalf("wrong order: %s, %s", feed.Messages[0].Body, feed.Messages[1].Body)
	}
	if feed.Messages[0].ProjectName != "proj-a" {
		t.Errorf("expected project name enrichment, got %q", feed.Messages[0].ProjectName)
	}
	if feed.Messages[0].RelativeTime != "just now" {
		t.Errorf("expected 'just now', got %q", feed.Messages[0].RelativeTime)
	}
}

func TestFetchAllSkipsFailingProject(t *testing.T) {
	st := sqlite.NewSQLiteTest(t)
	h := New(st, nil)
	ctx := context.Background()

	if _, err := h.Send(ctx, SendInput{Project: "healthy", From: "a", To: []string{"b"}, Body: "ok"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := h.Send(ctx, SendInput{Project: "broken", From: "a", To: []string{"b"}, Body: "lost"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	feed, err := NewAggregator(&flakyStore{Store: st, failProject: "broken"}).FetchAll(ctx, 10)
	if err != nil {
		t.Fatalf("partial failure must not abort the fetch: %v", err)
	}
	if len(feed.Messages) != 1 || feed.Messages[0].ProjectName != "healthy" {
		t.Fatalf("expected only the healthy project, got %+v", feed.Messages)
	}
	if feed.TotalCount != 1 {
		t.Errorf("expected total from answering projects only, got %d", feed.TotalCount)
	}
}

func TestRelativeTimeBuckets(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{2 * 24 * time.Hour, "2d ago"},
		{10 * 24 * time.Hour, "Feb 28, 2026"},
	}
	for _, tc := range cases {
		if got := relativeTime(now, now.Add(-tc.age)); got != tc.want {
			t.Errorf("age %v: expected %q, got %q", tc.age, tc.want, got)
		}
	}
}

func TestExcerptStripsMarkdown(t *testing.T) {
	body := "# Status\n\nThe **deploy** is [done](https://example.com).\n\n```\ncode here\n```\nRemaining `cleanup` next."
	got := excerpt(body, 200)
	want := "Status The deploy is done. Remaining cleanup next."
	if got != want {
		t.Errorf("expected %q, got %q", got, want)
	}
}

func TestExcerptTruncatesWithEllipsis(t *testing.T) {
	body := strings.Repeat("word ", 50)
	got := excerpt(body, 20)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
	if len([]rune(got)) > 21 {
		t.Errorf("excerpt too long: %d runes", len([]rune(got)))
	}
}

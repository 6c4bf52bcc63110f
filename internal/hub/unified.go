package hub

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/storage"
)

const (
	defaultUnifiedLimit = 50
	excerptLength       = 140
	perProjectRetries   = 2
)

// EnrichedMessage is a unified inbox entry with display fields derived
// for polling dashboard consumers.
type EnrichedMessage struct {
	core.Message
	ProjectName  string `json:"project_name"`
	RelativeTime string `json:"relative_time"`
	Excerpt      string `json:"excerpt"`
}

// UnifiedInbox is the cross-project feed. TotalCount covers every project
// that answered, not just the truncated page.
type UnifiedInbox struct {
	Messages   []EnrichedMessage `json:"messages"`
	TotalCount int               `json:"total_count"`
}

// Aggregator assembles the unified inbox from independent per-project
// reads. It is read-only and best-effort: a project whose store read keeps
// failing is skipped, never fatal.
type Aggregator struct {
	store storage.Store
	now   func() time.Time
}

func NewAggregator(store storage.Store) *Aggregator {
	return &Aggregator{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow swaps the time source used for relative timestamps.
func (a *Aggregator) WithNow(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// FetchAll returns the limit most recent messages across all projects,
// newest first. The snapshot is assembled from independent reads, so a
// message sent mid-fetch may or may not appear, but never twice.
func (a *Aggregator) FetchAll(ctx context.Context, limit int) (UnifiedInbox, error) {
	if limit <= 0 {
		limit = defaultUnifiedLimit
	}

	projects, err := a.store.ListProjects(ctx)
	if err != nil {
		return UnifiedInbox{}, err
	}

	now := a.now()
	all := []EnrichedMessage{}
	total := 0
	for _, p := range projects {
		msgs, n, err := a.fetchProject(ctx, p.Name, limit)
		if err != nil {
			// Degrade by omitting this project's contribution.
			log.Printf("unified inbox: skipping project %s: %v", p.Name, err)
			continue
		}
		total += n
		for _, m := range msgs {
			all = append(all, EnrichedMessage{
				Message:      m,
				ProjectName:  p.Name,
				RelativeTime: relativeTime(now, m.CreatedAt),
				Excerpt:      excerpt(m.Body, excerptLength),
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return UnifiedInbox{Messages: all, TotalCount: total}, nil
}

// fetchProject reads one project's recent messages and count with a
// bounded retry for transient store errors.
func (a *Aggregator) fetchProject(ctx context.Context, project string, limit int) ([]core.Message, int, error) {
	var msgs []core.Message
	var count int
	var err error
	for attempt := 0; attempt <= perProjectRetries; attempt++ {
		msgs, err = a.store.RecentMessages(ctx, project, limit)
		if err != nil {
			continue
		}
		count, err = a.store.MessageCount(ctx, project)
		if err == nil {
			return msgs, count, nil
		}
	}
	return nil, 0, err
}

package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
)

// Broadcaster is the interface for emitting events to WebSocket clients.
type Broadcaster interface {
	Broadcast(project, agent string, event any)
}

// SweepExpired deletes reservations and slots that have been dead (released
// or past expiry) since before deadBefore. Expiry itself is always computed
// at read time; the sweep is row hygiene only and never changes an answer
// a query would have given. The expired-but-unreleased reservations are
// returned so the caller can announce them.
func (s *Store) SweepExpired(ctx context.Context, deadBefore time.Time) ([]core.Reservation, error) {
	cutoff := fmtTime(deadBefore)

	rows, err := s.db.Query(
		reservationSelect+` WHERE released_at IS NULL AND expires_at <= ?`, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep scan: %w", err)
	}
	defer rows.Close()

	expired := []core.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(
		`DELETE FROM reservations WHERE expires_at <= ? OR released_at <= ?`, cutoff, cutoff,
	); err != nil {
		return nil, fmt.Errorf("sweep reservations: %w", err)
	}
	if _, err := s.db.Exec(
		`DELETE FROM build_slots WHERE expires_at <= ? OR released_at <= ?`, cutoff, cutoff,
	); err != nil {
		return nil, fmt.Errorf("sweep slots: %w", err)
	}
	return expired, nil
}

// Sweeper runs a background goroutine that periodically deletes dead lease
// rows and announces the ones that lapsed without an explicit release.
type Sweeper struct {
	store    *Store
	bus      Broadcaster
	interval time.Duration
	retain   time.Duration // how long dead rows stay queryable
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a new Sweeper. Call Start() to begin sweeping.
func NewSweeper(store *Store, bus Broadcaster, interval, retain time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		bus:      bus,
		interval: interval,
		retain:   retain,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish. Stopping a
// sweeper that was never started is a no-op.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	<-sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context) {
	deadBefore := sw.store.now().Add(-sw.retain)

	expired, err := sw.store.SweepExpired(ctx, deadBefore)
	if err != nil {
		log.Printf("sweeper: %v", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	log.Printf("sweeper: removed %d lapsed reservation(s)", len(expired))

	if sw.bus != nil {
		for _, r := range expired {
			sw.bus.Broadcast(r.Project, "", map[string]any{
				"type":           string(core.EventReservationExpired),
				"project":        r.Project,
				"reservation_id": r.ID,
				"agent":          r.AgentID,
				"path_pattern":   r.PathPattern,
			})
		}
	}
}

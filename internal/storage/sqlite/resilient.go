package sqlite

import (
	"context"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every method of *Store with CircuitBreaker + RetryOnDBLock
// to provide resilience against transient SQLite errors (database-is-locked,
// connection failures, etc.).
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient creates a ResilientStore with default circuit breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// NewResilientWithBreaker creates a ResilientStore with a custom circuit breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// CircuitBreakerState returns the current state of the circuit breaker as a string.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func (r *ResilientStore) EnsureProject(ctx context.Context, name string) (core.Project, error) {
	var result core.Project
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.EnsureProject(ctx, name)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) EnsureAgent(ctx context.Context, project, name string) (core.Agent, error) {
	var result core.Agent
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.EnsureAgent(ctx, project, name)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) ListProjects(ctx context.Context) ([]core.Project, error) {
	var result []core.Project
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ListProjects(ctx)
			return innerErr
		})
	})
	return result, err
}

// ---------------------------------------------------------------------------
// Path reservations
// ---------------------------------------------------------------------------

func (r *ResilientStore) ReservePaths(ctx context.Context, req storage.ReserveRequest) (core.Grant, error) {
	var result core.Grant
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ReservePaths(ctx, req)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) GetReservation(ctx context.Context, project, id string) (core.Reservation, error) {
	var result core.Reservation
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.GetReservation(ctx, project, id)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) ReleaseReservation(ctx context.Context, project, id, agent string) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.ReleaseReservation(ctx, project, id, agent)
		})
	})
}

func (r *ResilientStore) ForceReleaseReservation(ctx context.Context, project, id, agent, reason string) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.ForceReleaseReservation(ctx, project, id, agent, reason)
		})
	})
}

func (r *ResilientStore) RenewReservation(ctx context.Context, project, id string, ttl time.Duration) (core.Reservation, error) {
	var result core.Reservation
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.RenewReservation(ctx, project, id, ttl)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) ActiveReservations(ctx context.Context, project string) ([]core.Reservation, error) {
	var result []core.Reservation
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ActiveReservations(ctx, project)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) AllActiveReservations(ctx context.Context) ([]core.Reservation, error) {
	var result []core.Reservation
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.AllActiveReservations(ctx)
			return innerErr
		})
	})
	return result, err
}

// ---------------------------------------------------------------------------
// Build slots
// ---------------------------------------------------------------------------

func (r *ResilientStore) AcquireSlot(ctx context.Context, req storage.SlotRequest) (*core.BuildSlot, *core.SlotConflict, error) {
	var slot *core.BuildSlot
	var conflict *core.SlotConflict
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			slot, conflict, innerErr = r.inner.AcquireSlot(ctx, req)
			return innerErr
		})
	})
	return slot, conflict, err
}

func (r *ResilientStore) GetSlot(ctx context.Context, project, id string) (core.BuildSlot, error) {
	var result core.BuildSlot
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.GetSlot(ctx, project, id)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) ReleaseSlot(ctx context.Context, project, id, agent string) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.ReleaseSlot(ctx, project, id, agent)
		})
	})
}

func (r *ResilientStore) RenewSlot(ctx context.Context, project, id string, ttl time.Duration) (core.BuildSlot, error) {
	var result core.BuildSlot
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.RenewSlot(ctx, project, id, ttl)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) ActiveSlots(ctx context.Context, project string) ([]core.BuildSlot, error) {
	var result []core.BuildSlot
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ActiveSlots(ctx, project)
			return innerErr
		})
	})
	return result, err
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (r *ResilientStore) SendMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	var result core.Message
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.SendMessage(ctx, msg)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) GetMessage(ctx context.Context, project, id string) (core.Message, error) {
	var result core.Message
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.GetMessage(ctx, project, id)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) MarkRead(ctx context.Context, project, messageID, agent string) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.MarkRead(ctx, project, messageID, agent)
		})
	})
}

func (r *ResilientStore) MarkAck(ctx context.Context, project, messageID, agent string) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			return r.inner.MarkAck(ctx, project, messageID, agent)
		})
	})
}

func (r *ResilientStore) Inbox(ctx context.Context, project, agent string) ([]core.Message, error) {
	var result []core.Message
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.Inbox(ctx, project, agent)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) Outbox(ctx context.Context, project, agent string) ([]core.Message, error) {
	var result []core.Message
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.Outbox(ctx, project, agent)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) SearchMessages(ctx context.Context, project, query string, limit int) ([]core.Message, error) {
	var result []core.Message
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.SearchMessages(ctx, project, query, limit)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) ThreadMessages(ctx context.Context, project, threadID string) ([]core.Message, error) {
	var result []core.Message
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.ThreadMessages(ctx, project, threadID)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) Recipients(ctx context.Context, project, messageID string) ([]core.Recipient, error) {
	var result []core.Recipient
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.Recipients(ctx, project, messageID)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) RecentMessages(ctx context.Context, project string, limit int) ([]core.Message, error) {
	var result []core.Message
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.RecentMessages(ctx, project, limit)
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) MessageCount(ctx context.Context, project string) (int, error) {
	var result int
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.MessageCount(ctx, project)
			return innerErr
		})
	})
	return result, err
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// SweepExpired wraps the Store's retention sweep with CB+retry.
func (r *ResilientStore) SweepExpired(ctx context.Context, deadBefore time.Time) ([]core.Reservation, error) {
	var result []core.Reservation
	err := r.cb.Execute(func() error {
		return RetryOnDBLock(func() error {
			var innerErr error
			result, innerErr = r.inner.SweepExpired(ctx, deadBefore)
			return innerErr
		})
	})
	return result, err
}

// Close delegates directly to the inner store without CB or retry.
func (r *ResilientStore) Close() error {
	return r.inner.Close()
}

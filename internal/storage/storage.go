// Package storage defines the persistence contract for the coordination
// hub. The hub takes a Store handle rather than reaching for a global so
// the core stays testable against an in-memory database.
package storage

import (
	"context"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
)

// ReserveRequest is a batch path-lock request. Paths are granted
// individually: non-conflicting paths succeed even when siblings conflict.
type ReserveRequest struct {
	Project   string
	Agent     string
	Paths     []string
	TTL       time.Duration
	Exclusive bool
	Reason    string
}

// SlotRequest asks for the single active claim on (project, slot type).
type SlotRequest struct {
	Project  string
	Agent    string
	SlotType string
	TTL      time.Duration
	Reason   string
}

// Store is implemented by the SQLite backend and wrapped by the resilience
// decorator. Grant decisions (reserve, acquire) must be atomic: the
// conflict check and the insert happen in one transaction.
type Store interface {
	// Registry. Both calls are idempotent ensure-on-first-use; EnsureAgent
	// also bumps the agent's last_seen.
	EnsureProject(ctx context.Context, name string) (core.Project, error)
	EnsureAgent(ctx context.Context, project, name string) (core.Agent, error)
	ListProjects(ctx context.Context) ([]core.Project, error)

	// Path reservations.
	ReservePaths(ctx context.Context, req ReserveRequest) (core.Grant, error)
	GetReservation(ctx context.Context, project, id string) (core.Reservation, error)
	ReleaseReservation(ctx context.Context, project, id, agent string) error
	ForceReleaseReservation(ctx context.Context, project, id, agent, reason string) error
	RenewReservation(ctx context.Context, project, id string, ttl time.Duration) (core.Reservation, error)
	ActiveReservations(ctx context.Context, project string) ([]core.Reservation, error)
	AllActiveReservations(ctx context.Context) ([]core.Reservation, error)

	// Build slots.
	AcquireSlot(ctx context.Context, req SlotRequest) (*core.BuildSlot, *core.SlotConflict, error)
	GetSlot(ctx context.Context, project, id string) (core.BuildSlot, error)
	ReleaseSlot(ctx context.Context, project, id, agent string) error
	RenewSlot(ctx context.Context, project, id string, ttl time.Duration) (core.BuildSlot, error)
	ActiveSlots(ctx context.Context, project string) ([]core.BuildSlot, error)

	// Messages.
	SendMessage(ctx context.Context, msg core.Message) (core.Message, error)
	GetMessage(ctx context.Context, project, id string) (core.Message, error)
	MarkRead(ctx context.Context, project, messageID, agent string) error
	MarkAck(ctx context.Context, project, messageID, agent string) error
	Inbox(ctx context.Context, project, agent string) ([]core.Message, error)
	Outbox(ctx context.Context, project, agent string) ([]core.Message, error)
	SearchMessages(ctx context.Context, project, query string, limit int) ([]core.Message, error)
	ThreadMessages(ctx context.Context, project, threadID string) ([]core.Message, error)
	Recipients(ctx context.Context, project, messageID string) ([]core.Recipient, error)
	RecentMessages(ctx context.Context, project string, limit int) ([]core.Message, error)
	MessageCount(ctx context.Context, project string) (int, error)

	Close() error
}

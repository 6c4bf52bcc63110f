package core

import (
	"time"

	"github.com/switchboardhq/switchboard/internal/lease"
)

// Reservation is a time-bounded lock over a glob path pattern within a
// project. It is active while its lease window is active; expiry is derived
// from the clock at read time, never written back.
type Reservation struct {
	ID          string `json:"id"`
	Project     string `json:"project"`
	AgentID     string `json:"agent_id"`
	PathPattern string `json:"path_pattern"`
	Exclusive   bool   `json:"exclusive"`
	Reason      string `json:"reason,omitempty"`

	lease.Window

	// Set only when the reservation was force-released by someone other
	// than the holder.
	ReleasedBy    string `json:"released_by,omitempty"`
	ReleaseReason string `json:"release_reason,omitempty"`
}

// BuildSlot is a time-bounded claim on a named serialized resource, at most
// one active holder per (project, slot type).
type BuildSlot struct {
	ID       string `json:"id"`
	Project  string `json:"project"`
	AgentID  string `json:"agent_id"`
	SlotType string `json:"slot_type"`
	Reason   string `json:"reason,omitempty"`

	lease.Window
}

// ConflictDetail pairs a requested path pattern with an active reservation
// that blocks it.
type ConflictDetail struct {
	Requested string      `json:"requested"`
	Holder    Reservation `json:"holder"`
}

// Grant is the outcome of a batch reserve: the paths that were granted and,
// per blocked path, who holds the conflicting lease. Conflicts are data,
// not errors; a partially granted batch is the normal case.
type Grant struct {
	Granted   []Reservation    `json:"granted"`
	Conflicts []ConflictDetail `json:"conflicts"`
}

// SlotConflict reports the current holder blocking a slot acquisition.
type SlotConflict struct {
	SlotType string    `json:"slot_type"`
	Holder   BuildSlot `json:"holder"`
}

// IsActive reports lease activity against the wall clock. Storage and hub
// code passes an explicit now; this is for API serialization convenience.
func (r Reservation) IsActive() bool { return r.ActiveAt(time.Now().UTC()) }

// IsActive reports lease activity against the wall clock.
func (b BuildSlot) IsActive() bool { return b.ActiveAt(time.Now().UTC()) }

package core

import "time"

type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventMessageRead    EventType = "message.read"
	EventMessageAck     EventType = "message.ack"

	EventReservationGranted  EventType = "reservation.granted"
	EventReservationReleased EventType = "reservation.released"
	EventReservationForced   EventType = "reservation.force_released"
	EventReservationExpired  EventType = "reservation.expired"

	EventSlotAcquired EventType = "slot.acquired"
	EventSlotReleased EventType = "slot.released"
)

// Project is the isolation boundary for agents, leases and messages.
// Projects are created on first use and never mutated except for the
// display name.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent is identified by (project, name). LastSeen is bumped on every
// action the agent performs through the hub.
type Agent struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Importance levels for messages.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

// ParseImportance maps a wire string to an Importance. Empty defaults to
// normal; anything else unknown is invalid.
func ParseImportance(s string) (Importance, error) {
	switch Importance(s) {
	case "":
		return ImportanceNormal, nil
	case ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceUrgent:
		return Importance(s), nil
	}
	return "", Invalidf("importance", "unknown importance %q", s)
}

// RecipientKind distinguishes to/cc/bcc edges.
type RecipientKind string

const (
	RecipientTo  RecipientKind = "to"
	RecipientCC  RecipientKind = "cc"
	RecipientBCC RecipientKind = "bcc"
)

// Message is immutable after creation. The recipient lists carry agent
// names within the message's project.
type Message struct {
	ID          string     `json:"id"`
	Project     string     `json:"project"`
	ThreadID    string     `json:"thread_id,omitempty"`
	From        string     `json:"from"`
	To          []string   `json:"to"`
	CC          []string   `json:"cc,omitempty"`
	BCC         []string   `json:"bcc,omitempty"`
	Subject     string     `json:"subject,omitempty"`
	Body        string     `json:"body"`
	Importance  Importance `json:"importance"`
	AckRequired bool       `json:"ack_required,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Recipient is the per-agent delivery edge of a message. ReadAt and AckAt
// are set at most once; repeat marks are no-ops.
type Recipient struct {
	MessageID string        `json:"message_id"`
	Agent     string        `json:"agent"`
	Kind      RecipientKind `json:"kind"`
	ReadAt    *time.Time    `json:"read_at,omitempty"`
	AckAt     *time.Time    `json:"ack_at,omitempty"`
}

// Package hub is the coordination facade: it validates requests, drives
// the storage layer, and announces state changes to connected listeners.
// Transport layers (HTTP, embedded, CLI) all go through a Hub so the
// semantics stay in one place.
package hub

import (
	"context"
	"strings"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/glob"
	"github.com/switchboardhq/switchboard/internal/storage"
)

// Broadcaster fans events out to WebSocket subscribers. An empty agent
// means project-wide delivery.
type Broadcaster interface {
	Broadcast(project, agent string, event any)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, string, any) {}

type Hub struct {
	store storage.Store
	bus   Broadcaster
}

func New(store storage.Store, bus Broadcaster) *Hub {
	if bus == nil {
		bus = noopBroadcaster{}
	}
	return &Hub{store: store, bus: bus}
}

// Store exposes the underlying handle for read-only callers like the
// unified inbox aggregator.
func (h *Hub) Store() storage.Store { return h.store }

// ReserveInput is a batch path-lock request from one agent.
type ReserveInput struct {
	Project   string
	Agent     string
	Paths     []string
	TTL       time.Duration
	Exclusive bool
	Reason    string
}

// Reserve grants each non-conflicting path and reports the rest as
// conflicts. Validation failures reject the whole batch before any grant
// is attempted.
func (h *Hub) Reserve(ctx context.Context, in ReserveInput) (core.Grant, error) {
	if err := requireAddress(in.Project, in.Agent); err != nil {
		return core.Grant{}, err
	}
	if len(in.Paths) == 0 {
		return core.Grant{}, core.Invalidf("paths", "at least one path required")
	}
	if in.TTL <= 0 {
		return core.Grant{}, core.Invalidf("ttl", "must be positive")
	}
	for _, p := range in.Paths {
		if err := glob.Validate(p); err != nil {
			return core.Grant{}, core.Invalidf("paths", "%q: %v", p, err)
		}
	}

	grant, err := h.store.ReservePaths(ctx, storage.ReserveRequest{
		Project:   in.Project,
		Agent:     in.Agent,
		Paths:     in.Paths,
		TTL:       in.TTL,
		Exclusive: in.Exclusive,
		Reason:    in.Reason,
	})
	if err != nil {
		return core.Grant{}, err
	}

	for _, r := range grant.Granted {
		h.bus.Broadcast(in.Project, "", map[string]any{
			"type":           string(core.EventReservationGranted),
			"project":        in.Project,
			"reservation_id": r.ID,
			"agent":          r.AgentID,
			"path_pattern":   r.PathPattern,
			"exclusive":      r.Exclusive,
			"expires_at":     r.ExpiresAt,
		})
	}
	return grant, nil
}

func (h *Hub) ReleaseReservation(ctx context.Context, project, id, agent string) error {
	if err := requireAddress(project, agent); err != nil {
		return err
	}
	if err := h.store.ReleaseReservation(ctx, project, id, agent); err != nil {
		return err
	}
	h.bus.Broadcast(project, "", map[string]any{
		"type":           string(core.EventReservationReleased),
		"project":        project,
		"reservation_id": id,
		"agent":          agent,
	})
	return nil
}

func (h *Hub) ForceReleaseReservation(ctx context.Context, project, id, agent, reason string) error {
	if err := requireAddress(project, agent); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return core.Invalidf("reason", "override reason required")
	}
	if err := h.store.ForceReleaseReservation(ctx, project, id, agent, reason); err != nil {
		return err
	}
	h.bus.Broadcast(project, "", map[string]any{
		"type":           string(core.EventReservationForced),
		"project":        project,
		"reservation_id": id,
		"released_by":    agent,
		"reason":         reason,
	})
	return nil
}

func (h *Hub) RenewReservation(ctx context.Context, project, id string, ttl time.Duration) (core.Reservation, error) {
	if ttl <= 0 {
		return core.Reservation{}, core.Invalidf("ttl", "must be positive")
	}
	return h.store.RenewReservation(ctx, project, id, ttl)
}

func (h *Hub) ListReservations(ctx context.Context, project string) ([]core.Reservation, error) {
	return h.store.ActiveReservations(ctx, project)
}

// ListAllLocks is the cross-project view for lock dashboards.
func (h *Hub) ListAllLocks(ctx context.Context) ([]core.Reservation, error) {
	return h.store.AllActiveReservations(ctx)
}

// SlotInput requests the single active claim on (project, slot type).
type SlotInput struct {
	Project  string
	Agent    string
	SlotType string
	TTL      time.Duration
	Reason   string
}

// AcquireSlot claims a slot or reports the current holder. The conflict
// is a response value, never an error.
func (h *Hub) AcquireSlot(ctx context.Context, in SlotInput) (*core.BuildSlot, *core.SlotConflict, error) {
	if err := requireAddress(in.Project, in.Agent); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(in.SlotType) == "" {
		return nil, nil, core.Invalidf("slot_type", "required")
	}
	if in.TTL <= 0 {
		return nil, nil, core.Invalidf("ttl", "must be positive")
	}

	slot, conflict, err := h.store.AcquireSlot(ctx, storage.SlotRequest{
		Project:  in.Project,
		Agent:    in.Agent,
		SlotType: in.SlotType,
		TTL:      in.TTL,
		Reason:   in.Reason,
	})
	if err != nil {
		return nil, nil, err
	}
	if slot != nil {
		h.bus.Broadcast(in.Project, "", map[string]any{
			"type":       string(core.EventSlotAcquired),
			"project":    in.Project,
			"slot_id":    slot.ID,
			"slot_type":  slot.SlotType,
			"agent":      slot.AgentID,
			"expires_at": slot.ExpiresAt,
		})
	}
	return slot, conflict, nil
}

func (h *Hub) ReleaseSlot(ctx context.Context, project, id, agent string) error {
	if err := requireAddress(project, agent); err != nil {
		return err
	}
	if err := h.store.ReleaseSlot(ctx, project, id, agent); err != nil {
		return err
	}
	h.bus.Broadcast(project, "", map[string]any{
		"type":    string(core.EventSlotReleased),
		"project": project,
		"slot_id": id,
		"agent":   agent,
	})
	return nil
}

func (h *Hub) RenewSlot(ctx context.Context, project, id string, ttl time.Duration) (core.BuildSlot, error) {
	if ttl <= 0 {
		return core.BuildSlot{}, core.Invalidf("ttl", "must be positive")
	}
	return h.store.RenewSlot(ctx, project, id, ttl)
}

func (h *Hub) ListSlots(ctx context.Context, project string) ([]core.BuildSlot, error) {
	return h.store.ActiveSlots(ctx, project)
}

// SendInput carries one message to its recipients.
type SendInput struct {
	Project     string
	From        string
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	Importance  string
	AckRequired bool
	ThreadID    string
}

// Send validates and persists a message. Recipient lists are deduplicated
// with to > cc > bcc precedence; a self-addressed sender is allowed.
func (h *Hub) Send(ctx context.Context, in SendInput) (core.Message, error) {
	if err := requireAddress(in.Project, in.From); err != nil {
		return core.Message{}, err
	}
	if strings.TrimSpace(in.Body) == "" && strings.TrimSpace(in.Subject) == "" {
		return core.Message{}, core.Invalidf("body", "subject or body required")
	}
	importance, err := core.ParseImportance(in.Importance)
	if err != nil {
		return core.Message{}, err
	}

	seen := map[string]bool{}
	dedup := func(names []string) []string {
		out := []string{}
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
		return out
	}
	to := dedup(in.To)
	cc := dedup(in.CC)
	bcc := dedup(in.BCC)
	if len(to)+len(cc)+len(bcc) == 0 {
		return core.Message{}, core.Invalidf("to", "at least one recipient required")
	}

	if _, err := h.store.EnsureAgent(ctx, in.Project, in.From); err != nil {
		return core.Message{}, err
	}
	for _, name := range append(append(append([]string{}, to...), cc...), bcc...) {
		if _, err := h.store.EnsureAgent(ctx, in.Project, name); err != nil {
			return core.Message{}, err
		}
	}

	msg, err := h.store.SendMessage(ctx, core.Message{
		Project:     in.Project,
		ThreadID:    in.ThreadID,
		From:        in.From,
		To:          to,
		CC:          cc,
		BCC:         bcc,
		Subject:     in.Subject,
		Body:        in.Body,
		Importance:  importance,
		AckRequired: in.AckRequired,
	})
	if err != nil {
		return core.Message{}, err
	}

	event := map[string]any{
		"type":       string(core.EventMessageCreated),
		"project":    in.Project,
		"message_id": msg.ID,
		"thread_id":  msg.ThreadID,
		"from":       msg.From,
		"subject":    msg.Subject,
		"importance": string(msg.Importance),
	}
	for _, name := range append(append(append([]string{}, to...), cc...), bcc...) {
		h.bus.Broadcast(in.Project, name, event)
	}
	return msg, nil
}

func (h *Hub) MarkRead(ctx context.Context, project, messageID, agent string) error {
	if err := requireAddress(project, agent); err != nil {
		return err
	}
	if err := h.store.MarkRead(ctx, project, messageID, agent); err != nil {
		return err
	}
	h.bus.Broadcast(project, "", map[string]any{
		"type":       string(core.EventMessageRead),
		"project":    project,
		"message_id": messageID,
		"agent":      agent,
	})
	return nil
}

func (h *Hub) Acknowledge(ctx context.Context, project, messageID, agent string) error {
	if err := requireAddress(project, agent); err != nil {
		return err
	}
	if err := h.store.MarkAck(ctx, project, messageID, agent); err != nil {
		return err
	}
	h.bus.Broadcast(project, "", map[string]any{
		"type":       string(core.EventMessageAck),
		"project":    project,
		"message_id": messageID,
		"agent":      agent,
	})
	return nil
}

func (h *Hub) Inbox(ctx context.Context, project, agent string) ([]core.Message, error) {
	return h.store.Inbox(ctx, project, agent)
}

func (h *Hub) Outbox(ctx context.Context, project, agent string) ([]core.Message, error) {
	return h.store.Outbox(ctx, project, agent)
}

func (h *Hub) Search(ctx context.Context, project, query string, limit int) ([]core.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.Invalidf("query", "required")
	}
	return h.store.SearchMessages(ctx, project, query, limit)
}

func (h *Hub) Thread(ctx context.Context, project, threadID string) ([]core.Message, error) {
	// Unthreaded messages carry an empty thread_id; without this guard an
	// empty lookup would return them all as one phantom thread.
	if strings.TrimSpace(threadID) == "" {
		return nil, core.Invalidf("thread_id", "required")
	}
	return h.store.ThreadMessages(ctx, project, threadID)
}

func (h *Hub) Recipients(ctx context.Context, project, messageID string) ([]core.Recipient, error) {
	return h.store.Recipients(ctx, project, messageID)
}

func requireAddress(project, agent string) error {
	if strings.TrimSpace(project) == "" {
		return core.Invalidf("project", "required")
	}
	if strings.TrimSpace(agent) == "" {
		return core.Invalidf("agent", "required")
	}
	return nil
}

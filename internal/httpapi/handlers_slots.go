package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/hub"
)

type slotRequest struct {
	Project    string `json:"project"`
	Agent      string `json:"agent"`
	SlotType   string `json:"slot_type"`
	TTLSeconds int    `json:"ttl_seconds"`
	Reason     string `json:"reason,omitempty"`
}

type apiSlot struct {
	ID         string  `json:"id"`
	Project    string  `json:"project"`
	Agent      string  `json:"agent"`
	SlotType   string  `json:"slot_type"`
	Reason     string  `json:"reason,omitempty"`
	AcquiredAt string  `json:"acquired_at"`
	ExpiresAt  string  `json:"expires_at"`
	ReleasedAt *string `json:"released_at,omitempty"`
	IsActive   bool    `json:"is_active"`
}

func toAPISlot(b core.BuildSlot) apiSlot {
	api := apiSlot{
		ID:         b.ID,
		Project:    b.Project,
		Agent:      b.AgentID,
		SlotType:   b.SlotType,
		Reason:     b.Reason,
		AcquiredAt: b.CreatedAt.Format(time.RFC3339Nano),
		ExpiresAt:  b.ExpiresAt.Format(time.RFC3339Nano),
		IsActive:   b.IsActive(),
	}
	if b.ReleasedAt != nil {
		s := b.ReleasedAt.Format(time.RFC3339Nano)
		api.ReleasedAt = &s
	}
	return api
}

func (s *Service) handleSlots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSlots(w, r)
	case http.MethodPost:
		s.acquireSlot(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleSlotByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/slots/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "" && r.Method == http.MethodDelete:
		s.releaseSlot(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "renew" && r.Method == http.MethodPost:
		s.renewSlot(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Service) acquireSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}

	slot, conflict, err := s.hub.AcquireSlot(r.Context(), hub.SlotInput{
		Project:  project,
		Agent:    req.Agent,
		SlotType: req.SlotType,
		TTL:      time.Duration(req.TTLSeconds) * time.Second,
		Reason:   req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if conflict != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "slot_held",
			"slot_type": conflict.SlotType,
			"holder":    toAPISlot(conflict.Holder),
		})
		return
	}
	writeJSON(w, http.StatusCreated, toAPISlot(*slot))
}

func (s *Service) listSlots(w http.ResponseWriter, r *http.Request) {
	project, ok := resolveProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	if project == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	slots, err := s.hub.ListSlots(r.Context(), project)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]apiSlot, 0, len(slots))
	for _, b := range slots {
		out = append(out, toAPISlot(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (s *Service) releaseSlot(w http.ResponseWriter, r *http.Request, id string) {
	var req releaseRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}
	if err := s.hub.ReleaseSlot(r.Context(), project, id, req.Agent); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) renewSlot(w http.ResponseWriter, r *http.Request, id string) {
	var req renewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}
	slot, err := s.hub.RenewSlot(r.Context(), project, id, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPISlot(slot))
}

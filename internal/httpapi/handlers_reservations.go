package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/switchboardhq/switchboard/internal/auth"
	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/hub"
)

type reserveRequest struct {
	Project    string   `json:"project"`
	Agent      string   `json:"agent"`
	Paths      []string `json:"paths"`
	TTLSeconds int      `json:"ttl_seconds"`
	Exclusive  bool     `json:"exclusive"`
	Reason     string   `json:"reason,omitempty"`
}

type apiReservation struct {
	ID          string  `json:"id"`
	Project     string  `json:"project"`
	Agent       string  `json:"agent"`
	PathPattern string  `json:"path_pattern"`
	Exclusive   bool    `json:"exclusive"`
	Reason      string  `json:"reason,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   string  `json:"expires_at"`
	ReleasedAt  *string `json:"released_at,omitempty"`
	ReleasedBy  string  `json:"released_by,omitempty"`
	IsActive    bool    `json:"is_active"`
}

type apiConflict struct {
	Requested string         `json:"requested"`
	Holder    apiReservation `json:"holder"`
}

type grantResponse struct {
	Granted   []apiReservation `json:"granted"`
	Conflicts []apiConflict    `json:"conflicts"`
}

func toAPIReservation(r core.Reservation) apiReservation {
	api := apiReservation{
		ID:          r.ID,
		Project:     r.Project,
		Agent:       r.AgentID,
		PathPattern: r.PathPattern,
		Exclusive:   r.Exclusive,
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339Nano),
		ExpiresAt:   r.ExpiresAt.Format(time.RFC3339Nano),
		ReleasedBy:  r.ReleasedBy,
		IsActive:    r.IsActive(),
	}
	if r.ReleasedAt != nil {
		s := r.ReleasedAt.Format(time.RFC3339Nano)
		api.ReleasedAt = &s
	}
	return api
}

func toGrantResponse(g core.Grant) grantResponse {
	resp := grantResponse{Granted: []apiReservation{}, Conflicts: []apiConflict{}}
	for _, r := range g.Granted {
		resp.Granted = append(resp.Granted, toAPIReservation(r))
	}
	for _, c := range g.Conflicts {
		resp.Conflicts = append(resp.Conflicts, apiConflict{
			Requested: c.Requested,
			Holder:    toAPIReservation(c.Holder),
		})
	}
	return resp
}

func (s *Service) handleReservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listReservations(w, r)
	case http.MethodPost:
		s.createReservations(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleReservationByID routes /api/reservations/{id} and the renew and
// force-release actions nested under it.
func (s *Service) handleReservationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/reservations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "" && r.Method == http.MethodDelete:
		s.releaseReservation(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "renew" && r.Method == http.MethodPost:
		s.renewReservation(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "force-release" && r.Method == http.MethodPost:
		s.forceReleaseReservation(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Service) createReservations(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}

	grant, err := s.hub.Reserve(r.Context(), hub.ReserveInput{
		Project:   project,
		Agent:     req.Agent,
		Paths:     req.Paths,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		Exclusive: req.Exclusive,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if len(grant.Granted) == 0 {
		// Nothing granted: the batch is pure conflict.
		status = http.StatusConflict
	}
	writeJSON(w, status, toGrantResponse(grant))
}

func (s *Service) listReservations(w http.ResponseWriter, r *http.Request) {
	project, ok := resolveProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	if project == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	reservations, err := s.hub.ListReservations(r.Context(), project)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]apiReservation, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, toAPIReservation(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": out})
}

// handleLocks serves the cross-project lock dashboard.
func (s *Service) handleLocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reservations, err := s.hub.ListAllLocks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]apiReservation, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, toAPIReservation(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": out})
}

type releaseRequest struct {
	Project string `json:"project"`
	Agent   string `json:"agent"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Service) releaseReservation(w http.ResponseWriter, r *http.Request, id string) {
	var req releaseRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}
	if err := s.hub.ReleaseReservation(r.Context(), project, id, req.Agent); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) forceReleaseReservation(w http.ResponseWriter, r *http.Request, id string) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}
	if err := s.hub.ForceReleaseReservation(r.Context(), project, id, req.Agent, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type renewRequest struct {
	Project    string `json:"project"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (s *Service) renewReservation(w http.ResponseWriter, r *http.Request, id string) {
	var req renewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}
	res, err := s.hub.RenewReservation(r.Context(), project, id, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIReservation(res))
}

// resolveProject applies the key scoping rule: localhost callers say which
// project they mean; API-key callers are pinned to their key's project.
func resolveProject(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	info, _ := auth.FromContext(r.Context())
	requested = strings.TrimSpace(requested)
	if info.Mode == auth.ModeAPIKey {
		if requested != "" && requested != info.Project {
			w.WriteHeader(http.StatusForbidden)
			return "", false
		}
		return info.Project, true
	}
	return requested, true
}

// Package httpapi binds the coordination hub to HTTP+JSON. Handlers stay
// thin: decode, delegate to the hub, map errors to status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/hub"
	"github.com/switchboardhq/switchboard/internal/lease"
)

type Service struct {
	hub *hub.Hub
	agg *hub.Aggregator
}

func NewService(h *hub.Hub) *Service {
	return &Service{hub: h, agg: hub.NewAggregator(h.Store())}
}

func (s *Service) WithAggregator(a *hub.Aggregator) *Service {
	s.agg = a
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the hub's error taxonomy to HTTP statuses. Conflicts
// never arrive here: they are response values, not errors.
func writeError(w http.ResponseWriter, err error) {
	var invalid *core.InvalidError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid_request", "field": invalid.Field, "detail": invalid.Reason,
		})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	case errors.Is(err, core.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, lease.ErrNotActive):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "lease_not_active"})
	case errors.Is(err, core.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
	}
}

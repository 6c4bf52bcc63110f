package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/switchboardhq/switchboard/internal/auth"
	"github.com/switchboardhq/switchboard/internal/hub"
	"github.com/switchboardhq/switchboard/internal/storage/sqlite"
)

func TestReservationBatchOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/reservations", map[string]any{
		"project":     "proj",
		"agent":       "agent-1",
		"paths":       []string{"src/*.go", "docs/*.md"},
		"ttl_seconds": 1800,
		"exclusive":   true,
	})
	requireStatus(t, resp, http.StatusCreated)
	grant := decodeJSON[grantResponse](t, resp)
	if len(grant.Granted) != 2 || len(grant.Conflicts) != 0 {
		t.Fatalf("expected 2 grants, got %+v", grant)
	}

	// A second agent hits a partial conflict: one path blocked, one granted.
	resp = env.post(t, "/api/reservations", map[string]any{
		"project":     "proj",
		"agent":       "agent-2",
		"paths":       []string{"src/main.go", "README.md"},
		"ttl_seconds": 1800,
		"exclusive":   true,
	})
	requireStatus(t, resp, http.StatusCreated)
	grant = decodeJSON[grantResponse](t, resp)
	if len(grant.Granted) != 1 || grant.Granted[0].PathPattern != "README.md" {
		t.Fatalf("expected README.md granted, got %+v", grant.Granted)
	}
	if len(grant.Conflicts) != 1 || grant.Conflicts[0].Holder.Agent != "agent-1" {
		t.Fatalf("expected conflict held by agent-1, got %+v", grant.Conflicts)
	}

	// A fully conflicting batch reports 409 with the conflict set.
	resp = env.post(t, "/api/reservations", map[string]any{
		"project":     "proj",
		"agent":       "agent-3",
		"paths":       []string{"src/main.go"},
		"ttl_seconds": 1800,
		"exclusive":   true,
	})
	requireStatus(t, resp, http.StatusConflict)
	grant = decodeJSON[grantResponse](t, resp)
	if len(grant.Conflicts) != 1 {
		t.Fatalf("expected conflict body, got %+v", grant)
	}
}

func TestReservationValidationOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/reservations", map[string]any{
		"project": "proj", "agent": "agent-1", "paths": []string{}, "ttl_seconds": 60,
	})
	requireStatus(t, resp, http.StatusBadRequest)
	body := decodeJSON[map[string]string](t, resp)
	if body["field"] != "paths" {
		t.Errorf("expected field=paths, got %q", body["field"])
	}

	resp = env.post(t, "/api/reservations", map[string]any{
		"project": "proj", "agent": "agent-1", "paths": []string{"*.go"}, "ttl_seconds": 0,
	})
	requireStatus(t, resp, http.StatusBadRequest)
}

func TestReservationReleaseOwnership(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/reservations", map[string]any{
		"project": "proj", "agent": "agent-1", "paths": []string{"*.go"}, "ttl_seconds": 3600, "exclusive": true,
	})
	requireStatus(t, resp, http.StatusCreated)
	grant := decodeJSON[grantResponse](t, resp)
	id := grant.Granted[0].ID

	resp = env.delete(t, "/api/reservations/"+id, map[string]any{"project": "proj", "agent": "agent-2"})
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = env.delete(t, "/api/reservations/"+id, map[string]any{"project": "proj", "agent": "agent-1"})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.delete(t, "/api/reservations/missing", map[string]any{"project": "proj", "agent": "agent-1"})
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestReservationRenewAndForceRelease(t *testing.T) {
	env := newTestEnv(t)

	grant := decodeJSON[grantResponse](t, env.post(t, "/api/reservations", map[string]any{
		"project": "proj", "agent": "agent-1", "paths": []string{"*.go"}, "ttl_seconds": 60, "exclusive": true,
	}))
	id := grant.Granted[0].ID

	resp := env.post(t, "/api/reservations/"+id+"/renew", map[string]any{
		"project": "proj", "ttl_seconds": 7200,
	})
	requireStatus(t, resp, http.StatusOK)
	renewed := decodeJSON[apiReservation](t, resp)
	if renewed.ID != id || !renewed.IsActive {
		t.Fatalf("unexpected renewal result %+v", renewed)
	}

	// Force-release requires a reason but not ownership.
	resp = env.post(t, "/api/reservations/"+id+"/force-release", map[string]any{
		"project": "proj", "agent": "agent-2",
	})
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = env.post(t, "/api/reservations/"+id+"/force-release", map[string]any{
		"project": "proj", "agent": "agent-2", "reason": "holder crashed",
	})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Renewal after release is rejected.
	resp = env.post(t, "/api/reservations/"+id+"/renew", map[string]any{
		"project": "proj", "ttl_seconds": 60,
	})
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestLocksDashboardSpansProjects(t *testing.T) {
	env := newTestEnv(t)

	for _, project := range []string{"proj-a", "proj-b"} {
		resp := env.post(t, "/api/reservations", map[string]any{
			"project": project, "agent": "agent-1", "paths": []string{"*.go"}, "ttl_seconds": 3600, "exclusive": true,
		})
		requireStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	}

	resp := env.get(t, "/api/locks")
	requireStatus(t, resp, http.StatusOK)
	body := decodeJSON[struct {
		Locks []apiReservation `json:"locks"`
	}](t, resp)
	if len(body.Locks) != 2 {
		t.Fatalf("expected 2 locks across projects, got %d", len(body.Locks))
	}
}

func TestAPIKeyProjectScoping(t *testing.T) {
	st, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer st.Close()
	svc := NewService(hub.New(st, nil))
	ring := auth.NewKeyring(false, map[string]string{"secret": "proj-a"})
	h := NewRouter(svc, nil, auth.Middleware(ring))

	do := func(project string, key string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]any{
			"project": project, "agent": "agent-1", "paths": []string{"*.go"}, "ttl_seconds": 60, "exclusive": true,
		})
		req := httptest.NewRequest(http.MethodPost, "/api/reservations", bytes.NewReader(body))
		req.RemoteAddr = "203.0.113.10:9999"
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := do("proj-a", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no key expected 401, got %d", rr.Code)
	}
	if rr := do("proj-b", "secret"); rr.Code != http.StatusForbidden {
		t.Fatalf("cross-project key expected 403, got %d", rr.Code)
	}
	if rr := do("proj-a", "secret"); rr.Code != http.StatusCreated {
		t.Fatalf("scoped key expected 201, got %d", rr.Code)
	}
	// Empty project defaults to the key's project.
	if rr := do("", "secret"); rr.Code != http.StatusCreated {
		t.Fatalf("defaulted project expected 201, got %d", rr.Code)
	}
}

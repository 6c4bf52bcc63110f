package httpapi

import (
	"net/http"
	"testing"
)

func TestSlotAcquireConflictRelease(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/slots", map[string]any{
		"project": "proj", "agent": "agent-1", "slot_type": "build", "ttl_seconds": 30,
	})
	requireStatus(t, resp, http.StatusCreated)
	slot := decodeJSON[apiSlot](t, resp)
	if slot.SlotType != "build" || !slot.IsActive {
		t.Fatalf("unexpected slot %+v", slot)
	}

	// Second agent sees a 409 naming the holder.
	resp = env.post(t, "/api/slots", map[string]any{
		"project": "proj", "agent": "agent-2", "slot_type": "build", "ttl_seconds": 30,
	})
	requireStatus(t, resp, http.StatusConflict)
	conflict := decodeJSON[struct {
		Error    string  `json:"error"`
		SlotType string  `json:"slot_type"`
		Holder   apiSlot `json:"holder"`
	}](t, resp)
	if conflict.Holder.Agent != "agent-1" {
		t.Fatalf("expected holder agent-1, got %+v", conflict)
	}

	resp = env.delete(t, "/api/slots/"+slot.ID, map[string]any{"project": "proj", "agent": "agent-1"})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Identical request now succeeds.
	resp = env.post(t, "/api/slots", map[string]any{
		"project": "proj", "agent": "agent-2", "slot_type": "build", "ttl_seconds": 30,
	})
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}

func TestSlotRenewAndList(t *testing.T) {
	env := newTestEnv(t)

	slot := decodeJSON[apiSlot](t, env.post(t, "/api/slots", map[string]any{
		"project": "proj", "agent": "agent-1", "slot_type": "deploy", "ttl_seconds": 60,
	}))

	resp := env.post(t, "/api/slots/"+slot.ID+"/renew", map[string]any{
		"project": "proj", "ttl_seconds": 600,
	})
	requireStatus(t, resp, http.StatusOK)
	renewed := decodeJSON[apiSlot](t, resp)
	if renewed.ExpiresAt <= slot.ExpiresAt {
		t.Fatalf("expected renewed expiry after %s, got %s", slot.ExpiresAt, renewed.ExpiresAt)
	}

	resp = env.get(t, "/api/slots?project=proj")
	requireStatus(t, resp, http.StatusOK)
	body := decodeJSON[struct {
		Slots []apiSlot `json:"slots"`
	}](t, resp)
	if len(body.Slots) != 1 {
		t.Fatalf("expected 1 active slot, got %d", len(body.Slots))
	}

	resp = env.post(t, "/api/slots", map[string]any{
		"project": "proj", "agent": "agent-1", "slot_type": "", "ttl_seconds": 60,
	})
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/switchboardhq/switchboard/internal/core"
	"github.com/switchboardhq/switchboard/internal/hub"
)

type sendMessageRequest struct {
	Project     string   `json:"project"`
	ThreadID    string   `json:"thread_id,omitempty"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body"`
	Importance  string   `json:"importance,omitempty"`
	AckRequired bool     `json:"ack_required,omitempty"`
}

type apiMessage struct {
	ID          string   `json:"id"`
	Project     string   `json:"project"`
	ThreadID    string   `json:"thread_id,omitempty"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body"`
	Importance  string   `json:"importance"`
	AckRequired bool     `json:"ack_required,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

func toAPIMessage(m core.Message) apiMessage {
	return apiMessage{
		ID:          m.ID,
		Project:     m.Project,
		ThreadID:    m.ThreadID,
		From:        m.From,
		To:          m.To,
		CC:          m.CC,
		BCC:         m.BCC,
		Subject:     m.Subject,
		Body:        m.Body,
		Importance:  string(m.Importance),
		AckRequired: m.AckRequired,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toAPIMessages(msgs []core.Message) []apiMessage {
	out := make([]apiMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toAPIMessage(m))
	}
	return out
}

func (s *Service) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.sendMessage(w, r)
	case http.MethodGet:
		s.searchMessages(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleMessageByID routes /api/messages/{id}/read, /{id}/ack and
// /{id}/recipients.
func (s *Service) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, action := parts[0], parts[1]
	switch {
	case action == "read" && r.Method == http.MethodPost:
		s.markMessage(w, r, id, s.hub.MarkRead)
	case action == "ack" && r.Method == http.MethodPost:
		s.markMessage(w, r, id, s.hub.Acknowledge)
	case action == "recipients" && r.Method == http.MethodGet:
		s.listRecipients(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Service) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}

	msg, err := s.hub.Send(r.Context(), hub.SendInput{
		Project:     project,
		ThreadID:    req.ThreadID,
		From:        req.From,
		To:          req.To,
		CC:          req.CC,
		BCC:         req.BCC,
		Subject:     req.Subject,
		Body:        req.Body,
		Importance:  req.Importance,
		AckRequired: req.AckRequired,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPIMessage(msg))
}

type markRequest struct {
	Project string `json:"project"`
	Agent   string `json:"agent"`
}

func (s *Service) markMessage(w http.ResponseWriter, r *http.Request, id string, mark func(ctx context.Context, project, id, agent string) error) {
	var req markRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Agent == "" {
		req.Agent = r.URL.Query().Get("agent")
	}
	project, ok := resolveProject(w, r, req.Project)
	if !ok {
		return
	}
	if err := mark(r.Context(), project, id, req.Agent); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) listRecipients(w http.ResponseWriter, r *http.Request, id string) {
	project, ok := resolveProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	recips, err := s.hub.Recipients(r.Context(), project, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipients": recips})
}

func (s *Service) handleInbox(w http.ResponseWriter, r *http.Request) {
	s.mailbox(w, r, "/api/inbox/", s.hub.Inbox)
}

func (s *Service) handleOutbox(w http.ResponseWriter, r *http.Request) {
	s.mailbox(w, r, "/api/outbox/", s.hub.Outbox)
}

func (s *Service) mailbox(w http.ResponseWriter, r *http.Request, prefix string, fetch func(ctx context.Context, project, agent string) ([]core.Message, error)) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	agent := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if agent == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project, ok := resolveProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	msgs, err := fetch(r.Context(), project, agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toAPIMessages(msgs)})
}

func (s *Service) searchMessages(w http.ResponseWriter, r *http.Request) {
	project, ok := resolveProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	msgs, err := s.hub.Search(r.Context(), project, r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toAPIMessages(msgs)})
}

func (s *Service) handleThread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	threadID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/threads/"), "/")
	if threadID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	project, ok := resolveProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	msgs, err := s.hub.Thread(r.Context(), project, threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toAPIMessages(msgs)})
}

func (s *Service) handleUnifiedInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	feed, err := s.agg.FetchAll(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

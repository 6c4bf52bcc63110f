// Package client provides a Go client for the Switchboard coordination
// hub: path reservations, build slots, the message bus and the unified
// inbox.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	APIKey  string
	Project string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = strings.TrimSpace(key)
	}
}

func WithProject(project string) Option {
	return func(c *Client) {
		c.Project = strings.TrimSpace(project)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Reservation struct {
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

type Conflict struct {
	Requested string      `json:"requested"`
	Holder    Reservation `json:"holder"`
}

// Grant is the outcome of a reservation batch. A conflict is data, not an
// error: callers inspect Conflicts to see who holds what.
type Grant struct {
	Granted   []Reservation `json:"granted"`
	Conflicts []Conflict    `json:"conflicts"`
}

type ReserveRequest struct {
	Agent      string   `json:"agent"`
	Paths      []string `json:"paths"`
	TTLSeconds int      `json:"ttl_seconds"`
	Exclusive  bool     `json:"exclusive"`
	Reason     string   `json:"reason,omitempty"`
}

// Reserve requests leases on a batch of path patterns. Both full and
// partial grants decode into the same Grant; a fully conflicting batch is
// still a successful call.
func (c *Client) Reserve(ctx context.Context, req ReserveRequest) (Grant, error) {
	payload := struct {
		Project string `json:"project,omitempty"`
		ReserveRequest
	}{Project: c.Project, ReserveRequest: req}
	resp, err := c.postJSON(ctx, "/api/reservations", payload)
	if err != nil {
		return Grant{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		return Grant{}, apiError("reserve", resp)
	}
	var out Grant
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Grant{}, err
	}
	return out, nil
}

func (c *Client) ReleaseReservation(ctx context.Context, id, agent string) error {
	return c.deleteWithBody(ctx, "/api/reservations/"+url.PathEscape(id), map[string]string{
		"project": c.Project, "agent": agent,
	}, "release reservation")
}

// ForceRelease breaks another agent's reservation. The reason is required
// and recorded on the lease for attribution.
func (c *Client) ForceRelease(ctx context.Context, id, agent, reason string) error {
	resp, err := c.postJSON(ctx, "/api/reservations/"+url.PathEscape(id)+"/force-release", map[string]string{
		"project": c.Project, "agent": agent, "reason": reason,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError("force release", resp)
	}
	return nil
}

func (c *Client) RenewReservation(ctx context.Context, id string, ttlSeconds int) (Reservation, error) {
	resp, err := c.postJSON(ctx, "/api/reservations/"+url.PathEscape(id)+"/renew", map[string]any{
		"project": c.Project, "ttl_seconds": ttlSeconds,
	})
	if err != nil {
		return Reservation{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Reservation{}, apiError("renew reservation", resp)
	}
	var out Reservation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Reservation{}, err
	}
	return out, nil
}

func (c *Client) ActiveReservations(ctx context.Context) ([]Reservation, error) {
	var out struct {
		Reservations []Reservation `json:"reservations"`
	}
	if err := c.getJSON(ctx, "/api/reservations?project="+url.QueryEscape(c.Project), &out, "list reservations"); err != nil {
		return nil, err
	}
	return out.Reservations, nil
}

// Locks returns every active reservation across all projects.
func (c *Client) Locks(ctx context.Context) ([]Reservation, error) {
	var out struct {
		Locks []Reservation `json:"locks"`
	}
	if err := c.getJSON(ctx, "/api/locks", &out, "locks"); err != nil {
		return nil, err
	}
	return out.Locks, nil
}

type Slot struct {
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

// SlotHeldError reports that another agent holds the requested slot.
type SlotHeldError struct {
	SlotType string `json:"slot_type"`
	Holder   Slot   `json:"holder"`
}

func (e *SlotHeldError) Error() string {
	return fmt.Sprintf("slot %q held by %s until %s", e.SlotType, e.Holder.Agent, e.Holder.ExpiresAt)
}

type SlotRequest struct {
	Agent      string `json:"agent"`
	SlotType   string `json:"slot_type"`
	TTLSeconds int    `json:"ttl_seconds"`
	Reason     string `json:"reason,omitempty"`
}

// AcquireSlot takes the named slot or returns a *SlotHeldError naming the
// current holder.
func (c *Client) AcquireSlot(ctx context.Context, req SlotRequest) (Slot, error) {
	payload := struct {
		Project string `json:"project,omitempty"`
		SlotRequest
	}{Project: c.Project, SlotRequest: req}
	resp, err := c.postJSON(ctx, "/api/slots", payload)
	if err != nil {
		return Slot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		var held SlotHeldError
		if err := json.NewDecoder(resp.Body).Decode(&held); err != nil {
			return Slot{}, err
		}
		return Slot{}, &held
	}
	if resp.StatusCode != http.StatusCreated {
		return Slot{}, apiError("acquire slot", resp)
	}
	var out Slot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Slot{}, err
	}
	return out, nil
}

func (c *Client) ReleaseSlot(ctx context.Context, id, agent string) error {
	return c.deleteWithBody(ctx, "/api/slots/"+url.PathEscape(id), map[string]string{
		"project": c.Project, "agent": agent,
	}, "release slot")
}

func (c *Client) RenewSlot(ctx context.Context, id string, ttlSeconds int) (Slot, error) {
	resp, err := c.postJSON(ctx, "/api/slots/"+url.PathEscape(id)+"/renew", map[string]any{
		"project": c.Project, "ttl_seconds": ttlSeconds,
	})
	if err != nil {
		return Slot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Slot{}, apiError("renew slot", resp)
	}
	var out Slot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Slot{}, err
	}
	return out, nil
}

func (c *Client) ActiveSlots(ctx context.Context) ([]Slot, error) {
	var out struct {
		Slots []Slot `json:"slots"`
	}
	if err := c.getJSON(ctx, "/api/slots?project="+url.QueryEscape(c.Project), &out, "list slots"); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

type Message struct {
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

type SendRequest struct {
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

func (c *Client) Send(ctx context.Context, req SendRequest) (Message, error) {
	payload := struct {
		Project string `json:"project,omitempty"`
		SendRequest
	}{Project: c.Project, SendRequest: req}
	resp, err := c.postJSON(ctx, "/api/messages", payload)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return Message{}, apiError("send", resp)
	}
	var out Message
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Message{}, err
	}
	return out, nil
}

func (c *Client) Inbox(ctx context.Context, agent string) ([]Message, error) {
	return c.mailbox(ctx, "/api/inbox/", agent)
}

func (c *Client) Outbox(ctx context.Context, agent string) ([]Message, error) {
	return c.mailbox(ctx, "/api/outbox/", agent)
}

func (c *Client) mailbox(ctx context.Context, prefix, agent string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	endpoint := prefix + url.PathEscape(agent) + "?project=" + url.QueryEscape(c.Project)
	if err := c.getJSON(ctx, endpoint, &out, "mailbox"); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Thread(ctx context.Context, threadID string) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	endpoint := "/api/threads/" + url.PathEscape(threadID) + "?project=" + url.QueryEscape(c.Project)
	if err := c.getJSON(ctx, endpoint, &out, "thread"); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	values := url.Values{}
	values.Set("q", query)
	if c.Project != "" {
		values.Set("project", c.Project)
	}
	if limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.getJSON(ctx, "/api/messages?"+values.Encode(), &out, "search"); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Read(ctx context.Context, messageID, agent string) error {
	return c.markMessage(ctx, messageID, agent, "read")
}

func (c *Client) Ack(ctx context.Context, messageID, agent string) error {
	return c.markMessage(ctx, messageID, agent, "ack")
}

func (c *Client) markMessage(ctx context.Context, messageID, agent, action string) error {
	resp, err := c.postJSON(ctx, "/api/messages/"+url.PathEscape(messageID)+"/"+action, map[string]string{
		"project": c.Project, "agent": agent,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(action, resp)
	}
	return nil
}

type Recipient struct {
	MessageID string  `json:"message_id"`
	Agent     string  `json:"agent"`
	Kind      string  `json:"kind"`
	ReadAt    *string `json:"read_at,omitempty"`
	AckAt     *string `json:"ack_at,omitempty"`
}

func (c *Client) Recipients(ctx context.Context, messageID string) ([]Recipient, error) {
	var out struct {
		Recipients []Recipient `json:"recipients"`
	}
	endpoint := "/api/messages/" + url.PathEscape(messageID) + "/recipients?project=" + url.QueryEscape(c.Project)
	if err := c.getJSON(ctx, endpoint, &out, "recipients"); err != nil {
		return nil, err
	}
	return out.Recipients, nil
}

// UnifiedMessage is a cross-project feed entry with display enrichment.
type UnifiedMessage struct {
	Message
	ProjectName  string `json:"project_name"`
	RelativeTime string `json:"relative_time"`
	Excerpt      string `json:"excerpt"`
}

type UnifiedInbox struct {
	Messages   []UnifiedMessage `json:"messages"`
	TotalCount int              `json:"total_count"`
}

// UnifiedInbox fetches the newest messages across every project the hub
// knows about. limit <= 0 uses the server default.
func (c *Client) UnifiedInbox(ctx context.Context, limit int) (UnifiedInbox, error) {
	endpoint := "/api/unified-inbox"
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	var out UnifiedInbox
	if err := c.getJSON(ctx, endpoint, &out, "unified inbox"); err != nil {
		return UnifiedInbox{}, err
	}
	return out, nil
}

func apiError(op string, resp *http.Response) error {
	var body struct {
		Error  string `json:"error"`
		Field  string `json:"field"`
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "" {
		return fmt.Errorf("%s failed: %d: %s", op, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%s failed: %d", op, resp.StatusCode)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.HTTP.Do(req)
}

func (c *Client) deleteWithBody(ctx context.Context, path string, payload any, op string) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(op, resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any, op string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(op, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

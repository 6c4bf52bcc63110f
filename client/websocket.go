package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is a hub notification pushed over the WebSocket. Which fields
// are set depends on Type; delivery is best-effort, so consumers treat
// events as hints and re-poll the HTTP API for truth.
type Event struct {
	Type    string `json:"type"`
	Project string `json:"project"`
	Agent   string `json:"agent,omitempty"`

	MessageID  string `json:"message_id,omitempty"`
	ThreadID   string `json:"thread_id,omitempty"`
	From       string `json:"from,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Importance string `json:"importance,omitempty"`

	ReservationID string `json:"reservation_id,omitempty"`
	PathPattern   string `json:"path_pattern,omitempty"`
	ReleasedBy    string `json:"released_by,omitempty"`
	Reason        string `json:"reason,omitempty"`

	SlotID   string `json:"slot_id,omitempty"`
	SlotType string `json:"slot_type,omitempty"`
}

// Event type strings emitted by the hub.
const (
	EventMessageCreated = "message.created"
	EventMessageRead    = "message.read"
	EventMessageAck     = "message.ack"

	EventReservationGranted  = "reservation.granted"
	EventReservationReleased = "reservation.released"
	EventReservationForced   = "reservation.force_released"
	EventReservationExpired  = "reservation.expired"

	EventSlotAcquired = "slot.acquired"
	EventSlotReleased = "slot.released"
)

// EventHandler is called for each event received via WebSocket.
type EventHandler func(event Event)

// WSClient manages a WebSocket subscription for real-time hub events.
type WSClient struct {
	baseURL   string
	apiKey    string
	project   string
	agent     string
	conn      *websocket.Conn
	handlers  []EventHandler
	mu        sync.RWMutex
	done      chan struct{}
	reconnect bool
}

// WSOption configures the WebSocket client.
type WSOption func(*WSClient)

// WithWSAPIKey sets the API key for WebSocket authentication.
func WithWSAPIKey(key string) WSOption {
	return func(c *WSClient) {
		c.apiKey = key
	}
}

// WithWSProject sets the project whose events to subscribe to.
func WithWSProject(project string) WSOption {
	return func(c *WSClient) {
		c.project = project
	}
}

// WithAutoReconnect enables automatic reconnection on disconnect.
func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) {
		c.reconnect = enabled
	}
}

// NewWSClient creates a WebSocket client subscribed as the named agent.
func NewWSClient(baseURL, agent string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL:   baseURL,
		agent:     agent,
		handlers:  make([]EventHandler, 0),
		done:      make(chan struct{}),
		reconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent registers an event handler.
func (c *WSClient) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect establishes the WebSocket connection and starts the read loop.
func (c *WSClient) Connect(ctx context.Context) error {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	opts := &websocket.DialOptions{}
	if c.apiKey != "" {
		opts.HTTPHeader = make(map[string][]string)
		opts.HTTPHeader["Authorization"] = []string{"Bearer " + c.apiKey}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop(ctx)

	return nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	close(c.done)
	if c.conn != nil {
		return c.conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

func (c *WSClient) buildWSURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	u.Path = "/ws/agents/" + c.agent

	if c.project != "" {
		q := u.Query()
		q.Set("project", c.project)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if c.reconnect {
				select {
				case <-c.done:
					return
				default:
					c.handleReconnect(ctx)
					continue
				}
			}
			return
		}

		c.dispatchEvent(event)
	}
}

func (c *WSClient) dispatchEvent(event Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *WSClient) handleReconnect(ctx context.Context) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		err := c.Connect(ctx)
		if err == nil {
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// EventFilter narrows which events reach a handler.
type EventFilter struct {
	Types   []string // Event types to listen for (e.g. "message.created")
	Project string   // Filter by project
}

// FilteredEventHandler wraps an EventHandler with filtering logic.
func FilteredEventHandler(filter EventFilter, handler EventHandler) EventHandler {
	return func(event Event) {
		if len(filter.Types) > 0 {
			matched := false
			for _, t := range filter.Types {
				if event.Type == t {
					matched = true
					break
				}
			}
			if !matched {
				return
			}
		}

		if filter.Project != "" && event.Project != filter.Project {
			return
		}

		handler(event)
	}
}

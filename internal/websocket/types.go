package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	EventTypeRunStarted    EventType = "run_started"
	EventTypeFileStarted   EventType = "file_started"
	EventTypeBatchProgress EventType = "batch_progress"
	EventTypeFileCompleted EventType = "file_completed"
	EventTypeRunCompleted  EventType = "run_completed"
	// EventTypeRedaction is emitted per API redaction request
	EventTypeRedaction EventType = "redaction"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	EventTypePong       EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// RunEvent describes a batch run
type RunEvent struct {
	RunID     string   `json:"run_id"`
	Sources   []string `json:"sources"`
	Cities    []string `json:"cities"`
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Rows      int64    `json:"rows"`
	Duration  string   `json:"duration,omitempty"`
}

// FileEvent describes progress on one file. It never carries cell text.
type FileEvent struct {
	RunID          string         `json:"run_id"`
	Source         string         `json:"source"`
	City           string         `json:"city"`
	Input          string         `json:"input"`
	Output         string         `json:"output,omitempty"`
	Rows           int64          `json:"rows"`
	ValuesRedacted int64          `json:"values_redacted,omitempty"`
	Placeholders   map[string]int `json:"placeholders,omitempty"`
	Skipped        bool           `json:"skipped,omitempty"`
	SkipReason     string         `json:"skip_reason,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// RedactionEvent summarizes one API redaction request
type RedactionEvent struct {
	RequestID    string         `json:"request_id"`
	ClientIP     string         `json:"client_ip"`
	Values       int            `json:"values"`
	Redacted     int            `json:"redacted"`
	Placeholders map[string]int `json:"placeholders"`
	ProcessingMS float64        `json:"processing_ms"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu     sync.RWMutex
	events map[EventType]bool // nil means every event
}

// Subscribe limits the client to the given event types; none means all
func (c *Client) Subscribe(events []EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(events) == 0 {
		c.events = nil
		return
	}
	c.events = make(map[EventType]bool, len(events))
	for _, e := range events {
		c.events[e] = true
	}
}

// Wants reports whether the client is subscribed to t
func (c *Client) Wants(t EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.events == nil || c.events[t]
}

// Package v1 defines the tracker timer realtime protocol v1.
//
// It is shared between the server and clients and carries no server dependencies.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated for this version.
const Subprotocol = "tracker.timer.v1"

// Type constants (wire-stable).
const (
	// TypeHello authenticates the connection (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms authentication (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSnapshotFetch asks for the current timer state (client -> server).
	TypeSnapshotFetch = "timer_snapshot_fetch"
	// TypeSnapshot carries the running timer or null (server -> client).
	TypeSnapshot = "timer_snapshot"

	// TypeEvent is pushed after every committed change for the user (server -> client).
	TypeEvent = "timer_event"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSnapshotFetch,
		TypeSnapshot,
		TypeEvent,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload carries the session token unless it was sent as a bearer header on upgrade.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// HelloAckPayload identifies the authenticated connection.
type HelloAckPayload struct {
	ConnID string `json:"conn_id"`
	UserID int64  `json:"user_id"`
}

// ActiveTimer mirrors the running interval for the user.
type ActiveTimer struct {
	ID             int64  `json:"id"`
	IssueID        int64  `json:"issue_id"`
	IssueTitle     string `json:"issue_title"`
	ProjectName    string `json:"project_name"`
	StartTime      int64  `json:"start_time"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
}

// SnapshotPayload reports the timer state. Active is null when idle.
type SnapshotPayload struct {
	Active *ActiveTimer `json:"active"`
}

// EventPayload describes one committed change.
type EventPayload struct {
	Event      string `json:"event"`
	IntervalID int64  `json:"interval_id"`
	IssueID    int64  `json:"issue_id"`
	StartTime  int64  `json:"start_time,omitempty"`
	StopTime   *int64 `json:"stop_time,omitempty"`
	At         int64  `json:"at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

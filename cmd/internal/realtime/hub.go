package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"tracker/cmd/internal/clock"
	"tracker/cmd/internal/metrics"
	"tracker/cmd/internal/timer"
	v1 "tracker/contracts/timer/v1"
)

// Hub tracks connected clients per user and fans committed timer events out to them.
// It implements timer.Notifier.
//
// Join/Leave are safe under concurrent Notify. Notify never blocks: a client whose
// queue is full is closed so it reconnects and resyncs from a snapshot.
type Hub struct {
	log     *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	mu     sync.RWMutex
	byUser map[int64]map[string]*Client
}

// NewHub constructs a Hub. mx may be nil.
func NewHub(log *slog.Logger, clk clock.Clock, mx *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Hub{
		log:     log,
		clock:   clk,
		metrics: mx,
		byUser:  make(map[int64]map[string]*Client),
	}
}

// Join registers client for its user's events.
func (h *Hub) Join(client *Client) {
	if h == nil || client == nil || client.ConnID == "" {
		return
	}

	h.mu.Lock()
	conns, ok := h.byUser[client.UserID]
	if !ok {
		conns = make(map[string]*Client)
		h.byUser[client.UserID] = conns
	}
	conns[client.ConnID] = client
	h.mu.Unlock()

	h.metrics.WSClientConnected()
	h.log.Info("ws.client.join", "conn_id", client.ConnID, "user_id", client.UserID)
}

// Leave unregisters a client and signals its shutdown. Leaving twice is a no-op.
func (h *Hub) Leave(client *Client) {
	if h == nil || client == nil {
		return
	}

	h.mu.Lock()
	conns := h.byUser[client.UserID]
	_, present := conns[client.ConnID]
	delete(conns, client.ConnID)
	if len(conns) == 0 {
		delete(h.byUser, client.UserID)
	}
	h.mu.Unlock()

	// Signal shutdown after removal so a broadcaster never holds a closing client.
	client.Close()

	if present {
		h.metrics.WSClientDisconnected()
		h.log.Info("ws.client.leave", "conn_id", client.ConnID, "user_id", client.UserID)
	}
}

// Connected returns the number of live connections for userID.
func (h *Hub) Connected(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Notify pushes ev to every connection of ev.UserID.
func (h *Hub) Notify(_ context.Context, ev timer.Event) {
	if h == nil {
		return
	}
	env, err := h.eventEnvelope(ev)
	if err != nil {
		h.log.Error("ws.event.encode.fail", "err", err)
		return
	}

	var slow []*Client

	h.mu.RLock()
	for _, c := range h.byUser[ev.UserID] {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("ws.client.slow", "conn_id", c.ConnID, "user_id", c.UserID)
		h.Leave(c)
	}
}

func (h *Hub) eventEnvelope(ev timer.Event) (v1.Envelope, error) {
	payload, err := json.Marshal(v1.EventPayload{
		Event:      string(ev.Type),
		IntervalID: ev.IntervalID,
		IssueID:    ev.IssueID,
		StartTime:  ev.StartTime,
		StopTime:   ev.StopTime,
		At:         ev.At,
	})
	if err != nil {
		return v1.Envelope{}, err
	}
	return newEnvelope(h.clock, v1.TypeEvent, payload), nil
}

func newEnvelope(clk clock.Clock, typ string, payload json.RawMessage) v1.Envelope {
	now := clk.Now()
	// An id is informational; a generation failure leaves it empty.
	id, _ := NewEnvelopeID(now)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now,
		Payload: payload,
	}
}

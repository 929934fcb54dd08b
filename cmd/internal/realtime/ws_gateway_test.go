package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"

	"tracker/cmd/internal/auth/session"
	"tracker/cmd/internal/clock"
	"tracker/cmd/internal/timer"
	"tracker/cmd/security/token"
	v1 "tracker/contracts/timer/v1"
)

type wsEnv struct {
	srv      *httptest.Server
	sessions *session.Manager
	engine   *timer.Engine
	hub      *Hub
}

func newWSEnv(t *testing.T, mutate func(*GatewayConfig)) *wsEnv {
	t.Helper()

	log := testLogger()
	clk := clock.NewManualUnix(1_700_000_000)

	sessions := session.NewManager(session.DefaultConfig(), session.NewMemoryStore(), token.Hasher{},
		session.WithClock(clk), session.WithLogger(log))

	hub := NewHub(log, clk, nil)
	store := timer.NewMemoryStore()
	store.RegisterIssue(7, timer.IssueInfo{Title: "Login page", ProjectID: 1, ProjectName: "Web"})
	engine := timer.NewEngine(store, timer.WithClock(clk), timer.WithLogger(log), timer.WithNotifier(hub))

	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = false
	if mutate != nil {
		mutate(&cfg)
	}
	gw, err := NewWSGateway(log, cfg, hub, sessions, engine, clk)
	if err != nil {
		t.Fatalf("NewWSGateway: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws/timer", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &wsEnv{srv: srv, sessions: sessions, engine: engine, hub: hub}
}

func (e *wsEnv) mustToken(t *testing.T, userID int64) string {
	t.Helper()

	issued, err := e.sessions.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return issued.Token
}

func dialWS(t *testing.T, baseURL string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws/timer"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   header,
	})
}

func mustDial(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()

	conn, resp, err := dialWS(t, baseURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: "c1", TS: time.Now().UTC(), Payload: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func decodePayload[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("unmarshal %s payload: %v", env.Type, err)
	}
	return v
}

func waitConnected(t *testing.T, hub *Hub, userID int64, want int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for hub.Connected(userID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("connected=%d want=%d", hub.Connected(userID), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSGateway_HelloSnapshotAndEvents(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, nil)
	tok := e.mustToken(t, 42)
	conn := mustDial(t, e.srv.URL)

	writeEnvelopeWS(t, conn, v1.TypeHello, v1.HelloPayload{Token: tok})

	ack := readEnvelopeWS(t, conn)
	if ack.Type != v1.TypeHelloAck {
		t.Fatalf("expected hello_ack, got %s", ack.Type)
	}
	if p := decodePayload[v1.HelloAckPayload](t, ack); p.UserID != 42 || p.ConnID == "" {
		t.Fatalf("unexpected ack: %+v", p)
	}

	snap := readEnvelopeWS(t, conn)
	if snap.Type != v1.TypeSnapshot {
		t.Fatalf("expected timer_snapshot, got %s", snap.Type)
	}
	if p := decodePayload[v1.SnapshotPayload](t, snap); p.Active != nil {
		t.Fatalf("expected idle snapshot, got %+v", p.Active)
	}

	waitConnected(t, e.hub, 42, 1)

	res, err := e.engine.Start(context.Background(), 42, 7)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ev := readEnvelopeWS(t, conn)
	if ev.Type != v1.TypeEvent {
		t.Fatalf("expected timer_event, got %s", ev.Type)
	}
	p := decodePayload[v1.EventPayload](t, ev)
	if p.Event != string(timer.EventTimerStarted) || p.IntervalID != res.IntervalID || p.IssueID != 7 {
		t.Fatalf("unexpected event: %+v", p)
	}

	writeEnvelopeWS(t, conn, v1.TypeSnapshotFetch, struct{}{})
	snap = readEnvelopeWS(t, conn)
	sp := decodePayload[v1.SnapshotPayload](t, snap)
	if sp.Active == nil || sp.Active.ID != res.IntervalID || sp.Active.IssueTitle != "Login page" {
		t.Fatalf("unexpected snapshot: %+v", sp.Active)
	}
}

func TestWSGateway_EventsAreScopedToUser(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, nil)
	conn := mustDial(t, e.srv.URL)
	writeEnvelopeWS(t, conn, v1.TypeHello, v1.HelloPayload{Token: e.mustToken(t, 1)})
	readEnvelopeWS(t, conn) // hello_ack
	readEnvelopeWS(t, conn) // snapshot
	waitConnected(t, e.hub, 1, 1)

	if _, err := e.engine.Start(context.Background(), 2, 7); err != nil {
		t.Fatalf("Start user 2: %v", err)
	}
	if _, err := e.engine.Start(context.Background(), 1, 7); err != nil {
		t.Fatalf("Start user 1: %v", err)
	}

	ev := readEnvelopeWS(t, conn)
	if ev.Type != v1.TypeEvent {
		t.Fatalf("expected timer_event, got %s", ev.Type)
	}
	// The first event this connection sees must be its own user's start.
	if got := decodePayload[v1.EventPayload](t, ev); got.Event != string(timer.EventTimerStarted) {
		t.Fatalf("unexpected event: %+v", got)
	}
	if n := e.hub.Connected(2); n != 0 {
		t.Fatalf("user 2 should have no connections, got %d", n)
	}
}

func TestWSGateway_InvalidHelloTokenRejected(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, nil)
	conn := mustDial(t, e.srv.URL)

	writeEnvelopeWS(t, conn, v1.TypeHello, v1.HelloPayload{Token: "not-a-session"})

	env := readEnvelopeWS(t, conn)
	if env.Type != v1.TypeError {
		t.Fatalf("expected error, got %s", env.Type)
	}
	if p := decodePayload[v1.ErrorPayload](t, env); p.Code != "unauthorized" {
		t.Fatalf("unexpected error code: %q", p.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestWSGateway_FirstFrameMustBeHello(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, nil)
	conn := mustDial(t, e.srv.URL)

	writeEnvelopeWS(t, conn, v1.TypeSnapshotFetch, struct{}{})
	if env := readEnvelopeWS(t, conn); env.Type != v1.TypeError {
		t.Fatalf("expected error, got %s", env.Type)
	}
}

func TestWSGateway_BearerHeaderOnUpgrade(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, nil)

	h := http.Header{}
	h.Set("Authorization", "Bearer not-a-session")
	_, resp, err := dialWS(t, e.srv.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 401, got status=%d err=%v", status, err)
	}

	h.Set("Authorization", "Bearer "+e.mustToken(t, 9))
	conn, resp, err := dialWS(t, e.srv.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	// The hello may omit the token when the upgrade carried one.
	writeEnvelopeWS(t, conn, v1.TypeHello, v1.HelloPayload{})
	ack := readEnvelopeWS(t, conn)
	if p := decodePayload[v1.HelloAckPayload](t, ack); ack.Type != v1.TypeHelloAck || p.UserID != 9 {
		t.Fatalf("unexpected ack: %s %+v", ack.Type, p)
	}
}

func TestWSGateway_OriginPolicy(t *testing.T) {
	t.Parallel()

	e := newWSEnv(t, func(c *GatewayConfig) {
		c.OriginRequired = true
		c.AllowedOrigins = []string{"http://localhost:3000"}
	})

	cases := []struct {
		origin string
		status int
	}{
		{"", http.StatusForbidden},
		{"http://evil.example", http.StatusForbidden},
	}
	for _, tc := range cases {
		h := http.Header{}
		if tc.origin != "" {
			h.Set("Origin", tc.origin)
		}
		_, resp, err := dialWS(t, e.srv.URL, h)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil || resp == nil || resp.StatusCode != tc.status {
			t.Fatalf("origin %q: expected %d, got resp=%v err=%v", tc.origin, tc.status, resp, err)
		}
	}

	h := http.Header{}
	h.Set("Origin", "http://localhost:5173")
	conn, resp, err := dialWS(t, e.srv.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{"http://localhost:3000", "https://App.Example.com", "http://localhost", ""})
	want := []string{"app.example.com", "app.example.com:*", "localhost", "localhost:*"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestLoadGatewayConfigFromEnv(t *testing.T) {
	t.Setenv("TRACKER_WS_ALLOWED_ORIGINS", " https://a.example , https://b.example ")
	t.Setenv("TRACKER_WS_SEND_QUEUE", "2")
	t.Setenv("TRACKER_WS_HEARTBEAT_INTERVAL", "bogus")

	cfg := LoadGatewayConfigFromEnv()
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins=%v", cfg.AllowedOrigins)
	}
	if cfg.SendQueueSize != wsMinSendQueueSize {
		t.Fatalf("send queue=%d", cfg.SendQueueSize)
	}
	if cfg.HeartbeatEvery != heartbeatInterval {
		t.Fatalf("heartbeat=%v", cfg.HeartbeatEvery)
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tracker/cmd/internal/auth/session"
	"tracker/cmd/internal/clock"
	"tracker/cmd/internal/httpx"
	"tracker/cmd/internal/timer"
	v1 "tracker/contracts/timer/v1"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// SessionValidator resolves a bearer token to a live session.
type SessionValidator interface {
	ValidateSession(ctx context.Context, tok string) (session.Session, bool)
}

// SnapshotSource reports a user's running timer.
type SnapshotSource interface {
	GetActiveTimer(ctx context.Context, userID int64) (*timer.ActiveTimer, error)
}

// WSGateway is the websocket entrypoint for live timer updates.
//
// It enforces origin policy, subprotocol selection, authentication, rate limits
// and heartbeats, then streams the user's timer events from the Hub.
type WSGateway struct {
	log      *slog.Logger
	cfg      GatewayConfig
	hub      *Hub
	sessions SessionValidator
	timers   SnapshotSource
	clock    clock.Clock

	// Derived for websocket.Accept origin checks.
	// Accept authorizes same-host origins by default; cross-origin requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, cfg GatewayConfig, hub *Hub, sessions SessionValidator, timers SnapshotSource, clk clock.Clock) (*WSGateway, error) {
	if hub == nil || sessions == nil || timers == nil {
		return nil, errors.New("realtime: hub, sessions and timers are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &WSGateway{
		log:            log,
		cfg:            cfg,
		hub:            hub,
		sessions:       sessions,
		timers:         timers,
		clock:          clk,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a websocket session and runs the timer stream.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// A bearer header on the upgrade request authenticates before the handshake.
	headerTok := httpx.BearerToken(r)
	if headerTok != "" {
		if _, ok := g.sessions.ValidateSession(r.Context(), headerTok); !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired session")
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tok, sess, err := g.awaitHello(ctx, conn, headerTok)
	if err != nil {
		g.log.Info("ws.reject.hello", "remote", r.RemoteAddr, "err", err)
		g.writeErrorNow(ctx, conn, "unauthorized", err.Error())
		_ = conn.Close(websocket.StatusPolicyViolation, "hello failed")
		return
	}

	connID, err := NewConnID(g.clock.Now())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, sess.UserID, g.cfg.SendQueueSize)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Join before reading the snapshot so no committed event falls between the two.
	g.hub.Join(client)

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{ConnID: connID, UserID: sess.UserID})
	if !g.enqueue(ctx, client, newEnvelope(g.clock, v1.TypeHelloAck, ackPayload)) {
		shutdown(websocket.StatusTryAgainLater, "backpressure")
		return
	}
	if err := g.sendSnapshot(ctx, client); err != nil {
		g.log.Error("ws.snapshot.fail", "conn_id", connID, "err", err)
		shutdown(websocket.StatusInternalError, "snapshot failed")
		return
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// The hub dropped a slow client.
				shutdown(websocket.StatusPolicyViolation, "slow consumer")
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				if _, ok := g.sessions.ValidateSession(ctx, tok); !ok {
					g.trySendError(ctx, client, "session_expired", "session expired")
					shutdown(websocket.StatusPolicyViolation, "session expired")
					return
				}

				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(g.clock.Now()) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeSnapshotFetch:
			if err := g.sendSnapshot(ctx, client); err != nil {
				g.log.Error("ws.snapshot.fail", "conn_id", connID, "err", err)
				g.trySendError(ctx, client, "snapshot_failed", "could not load timer state")
			}
		case v1.TypeHello:
			g.trySendError(ctx, client, "already_authenticated", "hello already completed")
		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// awaitHello reads the first frame, which must be a hello. The token comes from the
// payload, falling back to the bearer header already checked on upgrade.
func (g *WSGateway) awaitHello(ctx context.Context, conn *websocket.Conn, headerTok string) (string, session.Session, error) {
	readCtx, cancel := context.WithTimeout(ctx, g.cfg.HelloTimeout)
	defer cancel()

	env, err := readEnvelope(readCtx, conn)
	if err != nil {
		return "", session.Session{}, fmt.Errorf("read hello: %w", err)
	}
	if err := env.Validate(); err != nil {
		return "", session.Session{}, err
	}
	if env.Type != v1.TypeHello {
		return "", session.Session{}, errors.New("hello required")
	}

	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return "", session.Session{}, fmt.Errorf("invalid payload: %w", err)
		}
	}
	tok := strings.TrimSpace(p.Token)
	if tok == "" {
		tok = headerTok
	}
	if tok == "" {
		return "", session.Session{}, errors.New("token required")
	}

	s, ok := g.sessions.ValidateSession(ctx, tok)
	if !ok {
		return "", session.Session{}, errors.New("invalid or expired session")
	}
	return tok, s, nil
}

func (g *WSGateway) sendSnapshot(ctx context.Context, client *Client) error {
	at, err := g.timers.GetActiveTimer(ctx, client.UserID)
	if err != nil {
		return err
	}

	var p v1.SnapshotPayload
	if at != nil {
		p.Active = &v1.ActiveTimer{
			ID:             at.ID,
			IssueID:        at.IssueID,
			IssueTitle:     at.IssueTitle,
			ProjectName:    at.ProjectName,
			StartTime:      at.StartTime,
			ElapsedSeconds: at.ElapsedSeconds,
		}
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, newEnvelope(g.clock, v1.TypeSnapshot, payload)) {
		return errors.New("backpressure: snapshot")
	}
	return nil
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, newEnvelope(g.clock, v1.TypeError, p))
}

// writeErrorNow writes an error frame directly; used before the writer goroutine exists.
func (g *WSGateway) writeErrorNow(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = writeEnvelope(ctx, conn, newEnvelope(g.clock, v1.TypeError, p), g.cfg.WriteTimeout)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins keeps websocket.Accept's own origin check in
// agreement with the allowlist. Accept matches patterns against host[:port], so each
// allowed host is emitted bare and with a port wildcard.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, 2*len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

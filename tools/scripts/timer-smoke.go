// Package main provides a CI-friendly end-to-end smoke test for a running tracker server.
//
// It validates:
//   - login over HTTP
//   - WebSocket handshake, subprotocol selection and hello/ack
//   - start -> timer_event(timer.started) push
//   - stop -> timer_event(timer.stopped) push
//   - the closed interval is listed by /timer/entries
//   - logout revokes the token
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	v1 "tracker/contracts/timer/v1"

	"github.com/coder/websocket"
)

const (
	maxReadBytes = 1 << 20 // 1MiB

	eventStarted = "timer.started"
	eventStopped = "timer.stopped"
)

type startResult struct {
	IntervalID int64 `json:"id"`
	IssueID    int64 `json:"issue_id"`
}

type stopResult struct {
	IntervalID      int64 `json:"id"`
	StopTime        int64 `json:"stop_time"`
	DurationSeconds int64 `json:"duration_seconds"`
}

type smokeClient struct {
	base    string
	token   string
	http    *http.Client
	timeout time.Duration
}

type wsClient struct {
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		username = flag.String("username", envOr("TRACKER_DEV_USERNAME", "dev"), "Login username")
		pass     = flag.String("password", envOr("TRACKER_DEV_PASSWORD", ""), "Login password")
		issueID  = flag.Int64("issue", 1, "Issue id to track")
		keep     = flag.Bool("keep", false, "Keep the interval instead of deleting it at the end")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if *pass == "" {
		fatalf("-password (or TRACKER_DEV_PASSWORD) is required")
	}

	root := context.Background()
	c := &smokeClient{
		base:    strings.TrimSuffix(*baseURL, "/"),
		http:    &http.Client{Timeout: *timeout},
		timeout: *timeout,
	}

	userID := c.mustLogin(root, *username, *pass)
	if *verbose {
		fmt.Printf("logged in: user_id=%d\n", userID)
	}

	ws := c.mustConnect(root, *origin, userID)
	defer closeWS(ws.conn)

	var started startResult
	c.mustDo(root, http.MethodPost, "/timer/start", map[string]int64{"issue_id": *issueID}, http.StatusOK, &started)
	if started.IntervalID <= 0 {
		fatalf("start returned no interval id")
	}

	ev := ws.mustReadEvent(root, eventStarted, *timeout)
	if ev.IntervalID != started.IntervalID || ev.IssueID != *issueID {
		fatalf("started event mismatch: got=%+v want interval=%d issue=%d", ev, started.IntervalID, *issueID)
	}

	var stopped stopResult
	c.mustDo(root, http.MethodPost, "/timer/stop", nil, http.StatusOK, &stopped)
	if stopped.IntervalID != started.IntervalID {
		fatalf("stop closed interval %d, expected %d", stopped.IntervalID, started.IntervalID)
	}

	ev = ws.mustReadEvent(root, eventStopped, *timeout)
	if ev.StopTime == nil || *ev.StopTime != stopped.StopTime {
		fatalf("stopped event mismatch: got=%+v want stop_time=%d", ev, stopped.StopTime)
	}

	var active struct {
		Active *struct {
			ID int64 `json:"id"`
		} `json:"active"`
	}
	c.mustDo(root, http.MethodGet, "/timer/active", nil, http.StatusOK, &active)
	if active.Active != nil {
		fatalf("timer still active after stop: %+v", active.Active)
	}

	var entries struct {
		Entries []struct {
			ID int64 `json:"id"`
		} `json:"entries"`
	}
	c.mustDo(root, http.MethodGet, "/timer/entries?issue_id="+strconv.FormatInt(*issueID, 10), nil, http.StatusOK, &entries)
	found := false
	for _, e := range entries.Entries {
		if e.ID == stopped.IntervalID {
			found = true
			break
		}
	}
	if !found {
		fatalf("interval %d missing from /timer/entries", stopped.IntervalID)
	}

	if !*keep {
		c.mustDo(root, http.MethodDelete, "/timer/entries/"+strconv.FormatInt(stopped.IntervalID, 10), nil, http.StatusNoContent, nil)
	}

	c.mustDo(root, http.MethodPost, "/auth/logout", nil, http.StatusNoContent, nil)
	c.mustDo(root, http.MethodGet, "/me", nil, http.StatusUnauthorized, nil)

	fmt.Printf("OK: user_id=%d interval_id=%d issue_id=%d duration_seconds=%d\n",
		userID, stopped.IntervalID, *issueID, stopped.DurationSeconds)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *smokeClient) mustLogin(parent context.Context, username, pass string) int64 {
	var out struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
		Session struct {
			Token string `json:"token"`
		} `json:"session"`
	}
	c.mustDo(parent, http.MethodPost, "/auth/login", map[string]string{"username": username, "password": pass}, http.StatusOK, &out)
	if strings.TrimSpace(out.Session.Token) == "" {
		fatalf("login returned no token")
	}
	c.token = out.Session.Token
	return out.User.ID
}

func (c *smokeClient) mustDo(parent context.Context, method, path string, body any, wantStatus int, out any) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func (c *smokeClient) mustConnect(parent context.Context, origin string, wantUserID int64) *wsClient {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/ws/timer"
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	ws := &wsClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	ws.startReadLoop()

	mustWriteWithTimeout(parent, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "smoke-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Token: c.token}),
	}, c.timeout)

	ack := ws.mustReadUntilType(parent, v1.TypeHelloAck, c.timeout)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload: %v", err)
	}
	if p.UserID != wantUserID {
		fatalf("hello_ack user mismatch: got=%d want=%d", p.UserID, wantUserID)
	}

	_ = ws.mustReadUntilType(parent, v1.TypeSnapshot, c.timeout)
	return ws
}

func (ws *wsClient) startReadLoop() {
	go func() {
		defer close(ws.inbox)

		for {
			_, data, err := ws.conn.Read(context.Background())
			if err != nil {
				select {
				case ws.errCh <- err:
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case ws.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case ws.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case ws.inbox <- env:
			default:
				select {
				case ws.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (ws *wsClient) mustReadEvent(parent context.Context, event string, stepTimeout time.Duration) v1.EventPayload {
	env := ws.mustReadUntilType(parent, v1.TypeEvent, stepTimeout)

	var p v1.EventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal timer_event payload: %v", err)
	}
	if p.Event != event {
		fatalf("unexpected timer event: got=%q want=%q", p.Event, event)
	}
	return p
}

func (ws *wsClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-ws.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q", wantType)
			}
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-ws.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(env)); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

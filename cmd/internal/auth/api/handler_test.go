package authapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tracker/cmd/identity"
	"tracker/cmd/internal/auth/session"
	"tracker/cmd/internal/clock"
	"tracker/cmd/security/password"
	"tracker/cmd/security/token"
)

type testEnv struct {
	h        *Handler
	mux      *http.ServeMux
	users    *identity.MemoryStore
	sessions *session.Manager
	clk      *clock.Manual
	pw       password.Config
}

func fastPasswordConfig() password.Config {
	return password.Config{
		Params: password.Argon2idParams{
			MemoryKiB:   1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		MaxLength: 256,
	}
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewManualUnix(1_700_000_000)
	pw := fastPasswordConfig()

	users := identity.NewMemoryStore()
	hash, err := pw.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if _, err := users.Add("alice", hash); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sessCfg := session.DefaultConfig()
	sessions := session.NewManager(sessCfg, session.NewMemoryStore(), token.Hasher{},
		session.WithClock(clk), session.WithLogger(log))

	h, err := NewHandler(log, cfg, users, pw, sessions, WithClock(clk))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	return &testEnv{h: h, mux: mux, users: users, sessions: sessions, clk: clk, pw: pw}
}

func (e *testEnv) do(t *testing.T, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.10:5555"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func mustLogin(t *testing.T, e *testEnv, username, pass string) loginResponse {
	t.Helper()

	rr := e.do(t, http.MethodPost, "/auth/login", "", `{"username":"`+username+`","password":"`+pass+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code, body.Error.Message
}

func TestLogin_IssuesSession(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())
	resp := mustLogin(t, e, "Alice", "correct horse")

	if resp.User.ID <= 0 || resp.User.Username != "alice" {
		t.Fatalf("unexpected user: %+v", resp.User)
	}
	if len(resp.Session.Token) != 64 {
		t.Fatalf("token length=%d", len(resp.Session.Token))
	}
	wantExp := e.clk.Now().Add(24 * time.Hour)
	if !resp.Session.ExpiresAt.Equal(wantExp) {
		t.Fatalf("expires_at=%v want=%v", resp.Session.ExpiresAt, wantExp)
	}
	if _, ok := e.sessions.ValidateSession(context.Background(), resp.Session.Token); !ok {
		t.Fatalf("issued token does not validate")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())

	cases := []struct {
		name string
		body string
	}{
		{"wrong password", `{"username":"alice","password":"nope"}`},
		{"unknown user", `{"username":"mallory","password":"correct horse"}`},
	}
	for _, tc := range cases {
		rr := e.do(t, http.MethodPost, "/auth/login", "", tc.body)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d", tc.name, rr.Code)
		}
		code, msg := errorCode(t, rr)
		if code != "invalid_credentials" || msg != msgInvalidCredentials {
			t.Fatalf("%s: code=%q msg=%q", tc.name, code, msg)
		}
	}
}

func TestLogin_InactiveUserRejected(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())
	u, err := e.users.FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	e.users.SetActive(u.ID, false)

	rr := e.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"correct horse"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestLogin_InvalidBody(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())

	cases := []struct {
		body string
		code string
	}{
		{`{"username":"alice"`, "invalid_json"},
		{`{"username":"alice","password":"x","extra":true}`, "invalid_json"},
		{`{"username":"  ","password":"x"}`, "invalid_request"},
		{`{"username":"alice","password":""}`, "invalid_request"},
	}
	for _, tc := range cases {
		rr := e.do(t, http.MethodPost, "/auth/login", "", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status=%d", tc.body, rr.Code)
		}
		if code, _ := errorCode(t, rr); code != tc.code {
			t.Fatalf("body %s: code=%q want=%q", tc.body, code, tc.code)
		}
	}
}

func TestLogin_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())
	rr := e.do(t, http.MethodGet, "/auth/login", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.LockoutShortThreshold = 3
	cfg.LockoutShortDuration = time.Minute
	e := newTestEnv(t, cfg)

	for i := 0; i < 3; i++ {
		rr := e.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"nope"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status=%d", i, rr.Code)
		}
	}

	rr := e.do(t, http.MethodPost, "/auth/login", "", `{"username":"alice","password":"correct horse"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected lockout, status=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After=%q", rr.Header().Get("Retry-After"))
	}

	e.clk.Advance(time.Minute)
	mustLogin(t, e, "alice", "correct horse")
}

func TestLogin_UpgradesLegacyBcryptHash(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())
	legacy, err := bcrypt.GenerateFromPassword([]byte("old secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u, err := e.users.Add("bob", string(legacy))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	mustLogin(t, e, "bob", "old secret")

	got, err := e.users.GetByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !strings.HasPrefix(got.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id rehash, got %q", got.PasswordHash)
	}
	if ok, err := e.pw.Verify(got.PasswordHash, "old secret"); err != nil || !ok {
		t.Fatalf("rehashed password does not verify: ok=%v err=%v", ok, err)
	}
}

func TestMe_RequiresBearer(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())

	rr := e.do(t, http.MethodGet, "/me", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
	if code, msg := errorCode(t, rr); code != "unauthorized" || msg != msgAuthRequired {
		t.Fatalf("code=%q msg=%q", code, msg)
	}

	rr = e.do(t, http.MethodGet, "/me", "deadbeef", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
	if _, msg := errorCode(t, rr); msg != msgInvalidSession {
		t.Fatalf("msg=%q", msg)
	}
}

func TestMe_ReturnsSessionAndExpires(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())
	login := mustLogin(t, e, "alice", "correct horse")

	rr := e.do(t, http.MethodGet, "/me", login.Session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var me meResponse
	if err := json.NewDecoder(rr.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.UserID != login.User.ID {
		t.Fatalf("user_id=%d want=%d", me.UserID, login.User.ID)
	}

	e.clk.Advance(24 * time.Hour)
	rr = e.do(t, http.MethodGet, "/me", login.Session.Token, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired session to be rejected, status=%d", rr.Code)
	}
}

func TestLogout_DestroysSession(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, DefaultConfig())
	login := mustLogin(t, e, "alice", "correct horse")

	rr := e.do(t, http.MethodPost, "/auth/logout", login.Session.Token, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if _, ok := e.sessions.ValidateSession(context.Background(), login.Session.Token); ok {
		t.Fatalf("session still valid after logout")
	}

	rr = e.do(t, http.MethodPost, "/auth/logout", login.Session.Token, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("second logout status=%d", rr.Code)
	}
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewHandler(nil, DefaultConfig(), nil, fastPasswordConfig(), nil); err == nil {
		t.Fatalf("expected error for nil dependencies")
	}
}

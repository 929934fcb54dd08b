package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"tracker/cmd/identity"
	"tracker/cmd/internal/auth/session"
	"tracker/cmd/internal/clock"
	"tracker/cmd/internal/httpx"
	"tracker/cmd/security/password"
)

const (
	msgAuthRequired       = "Authorization header required"
	msgInvalidSession     = "Invalid or expired session"
	msgInvalidCredentials = "Invalid username or password"
)

// Handler wires HTTP auth endpoints to identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.Store
	pw       password.Config
	sessions *session.Manager
	clock    clock.Clock
	throttle *loginThrottle

	dummyHash string
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides the clock used for login throttling.
func WithClock(c clock.Clock) HandlerOption {
	return func(h *Handler) {
		if h == nil || c == nil {
			return
		}
		h.clock = c
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, pw password.Config, sessions *session.Manager, opts ...HandlerOption) (*Handler, error) {
	if users == nil {
		return nil, errors.New("auth: nil identity store")
	}
	if sessions == nil {
		return nil, errors.New("auth: nil session manager")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		users:    users,
		pw:       pw,
		sessions: sessions,
		clock:    clock.System{},
		throttle: newLoginThrottle(cfg),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := pw.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /me", h.handleMe)
}

// Authenticate resolves the bearer token on r to a live session.
// On failure it writes a 401 response and returns false.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	tok, ok := h.requireBearer(w, r)
	if !ok {
		return session.Session{}, false
	}
	s, ok := h.sessions.ValidateSession(r.Context(), tok)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", msgInvalidSession)
		return session.Session{}, false
	}
	return s, true
}

func (h *Handler) requireBearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	tok := httpx.BearerToken(r)
	if tok == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", msgAuthRequired)
		return "", false
	}
	return tok, true
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	username := identity.NormalizeUsername(req.Username)
	if username == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := h.clock.Now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	key := throttleKey(username)

	if blocked, retryAfter := h.throttle.check(ipString(ip), key, now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua, username, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	user, err := h.users.FindByUsername(ctx, username)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		// Timing resistance: perform a dummy verify when the user is missing.
		if h.dummyHash != "" {
			_, _ = h.pw.Verify(h.dummyHash, req.Password)
		}
		h.throttle.recordFailure(ipString(ip), key, now)
		h.auditLoginFailed(ctx, 0, ip, ua, username, "not_found")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
		return
	}

	okPw, err := h.pw.Verify(user.PasswordHash, req.Password)
	if err != nil {
		h.log.Warn("auth.login.verify.fail", "user_id", user.ID, "err", err)
	}
	if err != nil || !okPw {
		h.throttle.recordFailure(ipString(ip), key, now)
		h.auditLoginFailed(ctx, user.ID, ip, ua, username, "bad_password")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
		return
	}
	if !user.Active {
		h.throttle.recordFailure(ipString(ip), key, now)
		h.auditLoginFailed(ctx, user.ID, ip, ua, username, "not_active")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
		return
	}

	if h.cfg.RehashOnLogin && h.pw.NeedsRehash(user.PasswordHash) {
		h.rehash(r, user, req.Password)
	}

	issued, err := h.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "user_id", user.ID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.throttle.reset(key)
	h.auditLoginSuccess(ctx, user.ID, issued.ID, ip, ua)

	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

// rehash upgrades a legacy or outdated hash. Failures are logged and never block login.
func (h *Handler) rehash(r *http.Request, user identity.User, plain string) {
	hash, err := h.pw.Hash(plain)
	if err != nil {
		h.log.Warn("auth.login.rehash.fail", "user_id", user.ID, "err", err)
		return
	}
	if err := h.users.UpdatePasswordHash(r.Context(), user.ID, hash); err != nil {
		h.log.Warn("auth.login.rehash.store_fail", "user_id", user.ID, "err", err)
		return
	}
	h.log.Info("auth.login.rehashed", "user_id", user.ID)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Authenticate(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.DestroySession(ctx, httpx.BearerToken(r)); err != nil {
		h.log.Error("auth.logout.fail", "user_id", s.UserID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLogout(ctx, s.UserID, s.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Authenticate(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{UserID: s.UserID, ExpiresAt: s.ExpiresAt.UTC()})
}

package authapi

import (
	"context"
	"log/slog"
	"net"
	"time"
)

func (h *Handler) auditLoginFailed(ctx context.Context, userID int64, ip net.IP, ua, username, reason string) {
	h.audit(ctx, "auth.login.failed", userID, ip, ua,
		slog.String("username", username),
		slog.String("reason", reason),
	)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID int64, sessionID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.login.success", userID, ip, ua, slog.String("session_id", sessionID))
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua, username string, retryAfter time.Duration) {
	h.audit(ctx, "auth.login.rate_limited", 0, ip, ua,
		slog.String("username", username),
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())),
	)
}

func (h *Handler) auditLogout(ctx context.Context, userID int64, sessionID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout", userID, ip, ua, slog.String("session_id", sessionID))
}

// audit writes one structured audit record. Audit output never affects the response.
func (h *Handler) audit(ctx context.Context, action string, userID int64, ip net.IP, ua string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("action", action),
		slog.String("ip", ipString(ip)),
		slog.String("user_agent", ua),
	}
	if userID > 0 {
		base = append(base, slog.Int64("user_id", userID))
	}
	h.log.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)
}

package authapi

import (
	"net"
	"net/http"
	"strings"

	"tracker/cmd/identity"
	"tracker/cmd/internal/auth/session"
)

func toUserResponse(u identity.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{Token: issued.Token, ExpiresAt: issued.ExpiresAt.UTC()}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

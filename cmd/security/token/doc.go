// Package token provides hashing primitives for opaque session tokens.
//
// Session tokens are never stored in clear text. The session store keeps a
// 64-char hex digest: HMAC-SHA256(token, key) when TRACKER_TOKEN_HMAC_KEY is
// configured, SHA-256(token) otherwise (dev mode). Deployments that set
// TRACKER_REQUIRE_TOKEN_HMAC must provide a key of at least MinHMACKeyBytes.
package token

// Package session issues, validates and expires opaque bearer tokens.
//
// A session binds a random token to a user for a fixed lifetime (24h by
// default). Tokens are stored only as digests (see security/token). A session
// is valid iff its row exists and expires_at is strictly after the current
// clock reading; validation never extends the expiry.
//
// Expired rows are removed in bulk by CleanupExpiredSessions, which is run by
// the tracker-sweep job or the optional in-process janitor, never on the
// request path.
package session

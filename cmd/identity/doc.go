// Package identity resolves login credentials to users.
//
// The users table is owned by the user-management service; this package only
// reads it, plus a narrow write path to upgrade legacy password hashes on login.
package identity

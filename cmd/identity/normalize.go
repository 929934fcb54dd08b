package identity

import "strings"

// NormalizeUsername trims surrounding space. Usernames are matched case-insensitively.
func NormalizeUsername(s string) string {
	return strings.TrimSpace(s)
}

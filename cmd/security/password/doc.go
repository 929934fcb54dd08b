// Package password verifies login passwords against stored hashes.
//
// New hashes are Argon2id in PHC string form. Rows written by the legacy PHP
// application carry bcrypt hashes ($2y$/$2a$/$2b$); those are still accepted on
// verify so existing accounts keep working. NeedsRehash tells callers when a
// stored hash should be upgraded.
package password

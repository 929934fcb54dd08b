// Package timer implements the per-user work timer.
//
// A user is either Idle or Running exactly one open interval (stop_time NULL).
// Starting a timer while one is running closes the running interval at the
// same instant, inside the same transaction. All durations are epoch seconds.
//
// Engine is the only writer of interval rows. Every mutating operation runs in
// one Store transaction holding the per-user lock, so concurrent requests for
// the same user serialize and different users never contend.
package timer

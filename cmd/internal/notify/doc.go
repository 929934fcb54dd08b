// Package notify delivers committed timer events to external sinks.
//
// The engine calls Notify synchronously after commit; Async moves delivery
// onto a background worker so a slow broker never delays a request. Events
// are dropped (and counted) when the buffer is full.
package notify

// Package session persists conversation state between A2A exchanges. A client
// that sends follow-up messages under the same context id continues the
// conversation it started: the stored execution context is loaded, the new
// user turn appended, and the grown context saved back after a successful run.
//
// Only an in-memory implementation ships here. Additional backends (Redis,
// Postgres, ...) belong in sub-packages; callers depend on the Store
// interface so only the wiring layer decides which implementation to use.
package session

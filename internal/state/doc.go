// Package state persists the recorder's single source of truth: the active
// recording session, the scheduler's ownership record, and the change stamp
// consumed by live-update clients.
//
// All three live in one JSON snapshot that is rewritten whole on every mutation
// (temp file, fsync, rename), so readers never observe a partially written session.
package state

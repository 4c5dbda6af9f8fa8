// Package supervisor is the single owner of the recording session.
//
// Every start, stop, adoption and stale-session repair goes through one mutex, so
// callers from the HTTP API, the CLI and the scheduler control loop are strictly
// serialized and at most one session can ever exist. The supervisor is also the
// only writer of the session in the state store.
package supervisor

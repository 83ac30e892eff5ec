// Package server exposes the broker on a local unix socket.
//
// Ownership boundary:
// - socket lifecycle (stale path removal, mode, listener close on shutdown)
// - one connection per client session, identified by kernel peer credentials
// - frame decode, request validation and dispatch into the session
// - shared memory hand-off (sealed memfd over SCM_RIGHTS where available)
// - provider terminate fan-out: stopping the broker closes live connections
package server

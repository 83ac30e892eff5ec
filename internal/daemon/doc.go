// Package daemon assembles voltshiftd: register device, broker, socket server,
// report sampler, metrics endpoint and policy reload.
//
// Boot order:
// - cpu gate (skipped in simulate mode)
// - device open
// - broker start
// - socket listen
//
// Shutdown runs in reverse through the server, which stops the broker and
// with it every client session.
package daemon

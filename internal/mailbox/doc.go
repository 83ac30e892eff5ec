// Package mailbox owns the overclocking mailbox handshake.
//
// Ownership boundary:
// - command word layout (value, command/response, domain, busy)
// - encode -> write -> poll -> decode as one serialized transaction
// - voltage offset units and domain naming
// - a software stand-in for the mailbox hardware
//
// The command word is a single register shared by every domain, so one lock
// covers every transaction regardless of domain. A poll never runs unbounded
// and cannot be abandoned once the command word has been written.
package mailbox

// Package broker owns the privileged side of register access.
//
// Ownership boundary:
// - the single broker instance and its bounded session table
// - client session lifecycle and the two-opcode command record dispatch
// - the shared mailbox engine every session funnels voltage operations through
// - the report buffer handed out as shared memory snapshots
//
// Lifecycle order:
// - broker: boot -> started -> stopped
// - session: created -> started -> active -> will_terminate -> stopped -> destroyed
// - session: created -> rejected when attach or start fails
//
// Every session table mutation happens under the broker mutex. Sessions keep one
// counted broker reference from start until destruction.
package broker

// Package msr owns the register access primitive.
//
// Ownership boundary:
// - unconditional 64-bit reads and writes by register index
// - the Linux msr character device and an in-memory stand-in
//
// No index validation happens here. An index the hardware rejects surfaces as
// ErrHardwareFault and callers above this package decide which indexes are safe
// to expose.
package msr

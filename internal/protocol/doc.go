// Package protocol owns the broker wire contract.
//
// Ownership boundary:
// - frame/header primitives (frame)
// - tlv payload primitives (tlv)
// - message and field registry plus shape validation (schema)
// - typed message bodies and the error code mapping in this package
package protocol

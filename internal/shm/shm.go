// Package shm carries report snapshots to clients as read-only memory.
//
// On Linux the broker seals each snapshot into an anonymous memfd and passes
// the descriptor over the socket; the client maps it read-only. Elsewhere a
// heap copy stands in for the mapping.
package shm

import (
	"errors"
	"fmt"
)

// Size is the fixed shared region size.
const Size = 4096

var (
	ErrSize        = errors.New("shm: region size mismatch")
	ErrUnsupported = errors.New("shm: sealed memory unsupported on this platform")
	ErrClosed      = errors.New("shm: region closed")
)

// Region is a read-only view of one snapshot.
type Region struct {
	data    []byte
	release func([]byte) error
}

// FromBytes wraps a private copy of b.
func FromBytes(b []byte) (*Region, error) {
	if len(b) != Size {
		return nil, fmt.Errorf("%w: got %d want %d", ErrSize, len(b), Size)
	}
	data := make([]byte, Size)
	copy(data, b)
	return &Region{data: data}, nil
}

// Bytes returns the region contents. Callers must not write to it; mapped
// regions fault on write.
func (r *Region) Bytes() []byte {
	return r.data
}

func (r *Region) Len() int {
	return len(r.data)
}

// Close releases the mapping. Closing twice returns ErrClosed.
func (r *Region) Close() error {
	if r.data == nil {
		return ErrClosed
	}
	data := r.data
	r.data = nil
	if r.release != nil {
		return r.release(data)
	}
	return nil
}

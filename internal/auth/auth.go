// Package auth decides which local callers may use the broker.
//
// Identity comes from the kernel (peer credentials on the socket), never from
// anything the caller sends.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Authorizer gates connections and raw register writes.
type Authorizer interface {
	Authorize(c Caller) error
	AuthorizeWrite(c Caller, index uint32) error
}

// Policy is an allow-list policy. Empty lists allow everyone; uid 0 is always
// allowed to connect and to write.
type Policy struct {
	AllowedUIDs  []uint32
	AllowedGIDs  []uint32
	WritableMSRs []uint32
}

func (p Policy) Authorize(c Caller) error {
	if c.IsRoot() {
		return nil
	}
	if len(p.AllowedUIDs) == 0 && len(p.AllowedGIDs) == 0 {
		return nil
	}
	if slices.Contains(p.AllowedUIDs, c.UID) || slices.Contains(p.AllowedGIDs, c.GID) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, c)
}

func (p Policy) AuthorizeWrite(c Caller, index uint32) error {
	if err := p.Authorize(c); err != nil {
		return err
	}
	if c.IsRoot() || len(p.WritableMSRs) == 0 {
		return nil
	}
	if slices.Contains(p.WritableMSRs, index) {
		return nil
	}
	return fmt.Errorf("%w: msr %#x not writable for %s", ErrUnauthorized, index, c)
}

// Guard holds the active policy and lets it be swapped at runtime.
type Guard struct {
	current atomic.Pointer[Policy]
}

func NewGuard(p Policy) *Guard {
	g := &Guard{}
	g.Store(p)
	return g
}

// Store replaces the active policy.
func (g *Guard) Store(p Policy) {
	g.current.Store(&p)
}

func (g *Guard) Load() Policy {
	return *g.current.Load()
}

func (g *Guard) Authorize(c Caller) error {
	return g.current.Load().Authorize(c)
}

func (g *Guard) AuthorizeWrite(c Caller, index uint32) error {
	return g.current.Load().AuthorizeWrite(c, index)
}

// FuncAuthorizer adapts a function into an Authorizer that applies fn to
// connections and writes alike.
type FuncAuthorizer func(c Caller) error

func (f FuncAuthorizer) Authorize(c Caller) error {
	return f(c)
}

func (f FuncAuthorizer) AuthorizeWrite(c Caller, _ uint32) error {
	return f(c)
}

package auth

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/voltshift/internal/testutil/testlog"
)

func TestPolicyAuthorize(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		policy  Policy
		caller  Caller
		wantErr error
	}{
		{name: "empty policy allows all", policy: Policy{}, caller: Caller{UID: 1000, GID: 1000}},
		{name: "root always allowed", policy: Policy{AllowedUIDs: []uint32{1000}}, caller: Caller{UID: 0, GID: 5}},
		{name: "listed uid allowed", policy: Policy{AllowedUIDs: []uint32{1000}}, caller: Caller{UID: 1000, GID: 5}},
		{name: "listed gid allowed", policy: Policy{AllowedGIDs: []uint32{27}}, caller: Caller{UID: 1001, GID: 27}},
		{name: "unlisted denied", policy: Policy{AllowedUIDs: []uint32{1000}}, caller: Caller{UID: 1001, GID: 1001}, wantErr: ErrUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Authorize(tc.caller)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPolicyAuthorizeWrite(t *testing.T) {
	testlog.Start(t)
	p := Policy{WritableMSRs: []uint32{0x150, 0x610}}
	user := Caller{UID: 1000, GID: 1000}

	if err := p.AuthorizeWrite(user, 0x150); err != nil {
		t.Fatalf("expected mailbox write allowed, got %v", err)
	}
	if err := p.AuthorizeWrite(user, 0x1A0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unlisted msr denied, got %v", err)
	}
	if err := p.AuthorizeWrite(Caller{}, 0x1A0); err != nil {
		t.Fatalf("expected root write allowed, got %v", err)
	}

	denied := Policy{AllowedUIDs: []uint32{1}}
	if err := denied.AuthorizeWrite(user, 0x150); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected connect denial to cover writes, got %v", err)
	}
}

func TestGuardSwapsPolicy(t *testing.T) {
	testlog.Start(t)
	g := NewGuard(Policy{AllowedUIDs: []uint32{1000}})
	user := Caller{UID: 2000, GID: 2000}

	if err := g.Authorize(user); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected denial before reload, got %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = g.Authorize(user)
		}
	}()
	g.Store(Policy{AllowedUIDs: []uint32{1000, 2000}})
	wg.Wait()

	if err := g.Authorize(user); err != nil {
		t.Fatalf("expected allow after reload, got %v", err)
	}
	if got := g.Load().AllowedUIDs; len(got) != 2 {
		t.Fatalf("unexpected loaded policy: %v", got)
	}
}

func TestFuncAuthorizer(t *testing.T) {
	testlog.Start(t)
	a := FuncAuthorizer(func(c Caller) error {
		if c.PID != 42 {
			return ErrUnauthorized
		}
		return nil
	})
	if err := a.AuthorizeWrite(Caller{PID: 1}, 0x150); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := a.Authorize(Caller{PID: 42}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

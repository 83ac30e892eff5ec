package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestNextDelayGrowsAndCaps(t *testing.T) {
	cfg := Backoff{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 35 * time.Millisecond}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 35 * time.Millisecond, 35 * time.Millisecond}
	for i, w := range want {
		if got := NextDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	cfg := Backoff{InitialDelay: 100 * time.Millisecond, Multiplier: 1, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for attempt := 2; attempt < 50; attempt++ {
		d := NextDelay(cfg, attempt, rng)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %v", d)
		}
	}
}

func TestFixedScheduleIsConstant(t *testing.T) {
	cfg := Fixed(3 * time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := NextDelay(cfg, attempt, nil); got != 3*time.Millisecond {
			t.Fatalf("attempt %d: got %v", attempt, got)
		}
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, Fixed(0), func(int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	sentinel := errors.New("bad argument")
	calls := 0
	err := Do(context.Background(), 5, Fixed(0), func(int) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if IsPermanent(err) {
		t.Fatalf("returned error should be unwrapped")
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, Fixed(0), func(int) error {
		calls++
		return errors.New("still busy")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 failing calls, got calls=%d err=%v", calls, err)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, 3, Fixed(time.Hour), func(int) error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

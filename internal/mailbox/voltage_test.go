package mailbox

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/danmuck/voltshift/internal/msr"
)

func TestEncodeOffsetMatchesKnownWords(t *testing.T) {
	cases := []struct {
		mv    float64
		field uint32
	}{
		{mv: 0, field: 0},
		{mv: -50, field: 0xF9A},  // -51 units
		{mv: -100, field: 0xF34}, // -102 units
		{mv: 25, field: 0x34},    // 26 units
	}
	for _, tc := range cases {
		got, err := EncodeOffset(tc.mv)
		if err != nil {
			t.Fatalf("encode %v: %v", tc.mv, err)
		}
		if got != tc.field {
			t.Fatalf("encode %v: got %#x want %#x", tc.mv, got, tc.field)
		}
		if got >= ValueLimit {
			t.Fatalf("encoded field overflows value field: %#x", got)
		}
	}
}

func TestOffsetRoundTripToNearestMillivolt(t *testing.T) {
	for mv := -250; mv <= 100; mv += 5 {
		field, err := EncodeOffset(float64(mv))
		if err != nil {
			t.Fatalf("encode %d: %v", mv, err)
		}
		back := math.Round(DecodeOffset(field))
		if int(back) != mv {
			t.Fatalf("round trip %d -> %#x -> %v", mv, field, back)
		}
	}
}

func TestEncodeOffsetRejectsOutOfRange(t *testing.T) {
	for _, mv := range []float64{-1001, 1000, math.NaN(), math.Inf(-1)} {
		if _, err := EncodeOffset(mv); !errors.Is(err, ErrValueOverflow) {
			t.Fatalf("expected ErrValueOverflow for %v, got %v", mv, err)
		}
	}
}

func TestParseDomain(t *testing.T) {
	cases := map[string]Domain{
		"cpu":          DomainCPUCore,
		"GPU":          DomainGPU,
		" cache ":      DomainCPUCache,
		"system_agent": DomainSystemAgent,
		"4":            DomainAnalogIO,
		"0x5":          DomainDigitalIO,
	}
	for raw, want := range cases {
		got, err := ParseDomain(raw)
		if err != nil || got != want {
			t.Fatalf("ParseDomain(%q) = %v,%v want %v", raw, got, err, want)
		}
	}
	if _, err := ParseDomain("uncore-ish"); !errors.Is(err, ErrUnknownDomain) {
		t.Fatalf("expected ErrUnknownDomain, got %v", err)
	}
	if DomainDigitalIO.String() != "digital_io" || Domain(9).String() != "domain_9" {
		t.Fatalf("unexpected domain names")
	}
	if len(Domains()) != 6 {
		t.Fatalf("unexpected domain count: %d", len(Domains()))
	}
}

func TestOffsetThroughMailbox(t *testing.T) {
	dev := msr.NewMemory()
	sim := NewSimulator()
	dev.Hook(msr.OCMailbox, sim)
	mb := New(DeviceRegister(dev), Options{Sleep: func(time.Duration) {}})

	field, err := EncodeOffset(-80)
	if err != nil {
		t.Fatalf("encode offset: %v", err)
	}
	if err := mb.Write(DomainCPUCore, field); err != nil {
		t.Fatalf("write offset: %v", err)
	}
	got, err := mb.Read(DomainCPUCore)
	if err != nil {
		t.Fatalf("read offset: %v", err)
	}
	if mv := DecodeOffset(got); math.Round(mv) != -80 {
		t.Fatalf("unexpected offset: %v", mv)
	}
	if sim.Commands() != 2 {
		t.Fatalf("unexpected command count: %d", sim.Commands())
	}
}

package broker

import (
	"errors"
	"testing"

	"github.com/danmuck/voltshift/internal/testutil/testlog"
)

func TestRecordWireLayout(t *testing.T) {
	testlog.Start(t)

	r := Record{Action: ActionWriteMSR, MSR: 0x150, Param: 0x8000001100000000}
	raw, err := r.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := []byte{
		0x01, 0x00, 0x00, 0x00,
		0x50, 0x01, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x11, 0x00, 0x00, 0x80,
	}
	if string(raw) != string(want) {
		t.Fatalf("layout mismatch: got % x want % x", raw, want)
	}

	var back Record
	if err := back.UnmarshalBinary(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != r {
		t.Fatalf("round trip mismatch: got %v want %v", back, r)
	}
}

func TestRecordRejectsWrongSize(t *testing.T) {
	testlog.Start(t)

	var r Record
	for _, n := range []int{0, 8, 15, 17} {
		if err := r.UnmarshalBinary(make([]byte, n)); !errors.Is(err, ErrRecordSize) {
			t.Fatalf("size %d: expected ErrRecordSize, got %v", n, err)
		}
	}
}

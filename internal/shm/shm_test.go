package shm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/voltshift/internal/testutil/testlog"
)

func TestFromBytesCopies(t *testing.T) {
	testlog.Start(t)
	src := bytes.Repeat([]byte{0x5A}, Size)
	r, err := FromBytes(src)
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	src[0] = 0
	if r.Bytes()[0] != 0x5A {
		t.Fatalf("region aliases its source")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := FromBytes(make([]byte, 10)); !errors.Is(err, ErrSize) {
		t.Fatalf("expected ErrSize, got %v", err)
	}
}

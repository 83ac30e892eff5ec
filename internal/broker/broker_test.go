package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
	"github.com/danmuck/voltshift/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*Broker, *msr.Memory, *mailbox.Simulator) {
	t.Helper()
	dev := msr.NewMemory()
	sim := mailbox.NewSimulator()
	dev.Hook(msr.OCMailbox, sim)
	b := New(dev, Options{Mailbox: mailbox.Options{Sleep: func(time.Duration) {}}})
	require.NoError(t, b.Start())
	return b, dev, sim
}

func caller(pid int32) auth.Caller {
	return auth.Caller{PID: pid, UID: 1000, GID: 1000}
}

func TestBrokerLifecycleOrder(t *testing.T) {
	testlog.Start(t)

	b := New(msr.NewMemory(), Options{})
	if _, err := b.CreateSession(caller(1)); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted before start, got %v", err)
	}
	if err := b.Stop(); !errors.Is(err, ErrLifecycleOrder) {
		t.Fatalf("expected ErrLifecycleOrder stopping from boot, got %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := b.Start(); !errors.Is(err, ErrLifecycleOrder) {
		t.Fatalf("expected ErrLifecycleOrder on double start, got %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := b.Status().Phase; got != PhaseStopped {
		t.Fatalf("expected stopped phase, got %s", got)
	}
}

func TestBrokerSixthSessionFails(t *testing.T) {
	testlog.Start(t)

	b, _, _ := newTestBroker(t)
	for i := 0; i < MaxSessions; i++ {
		_, err := b.CreateSession(caller(int32(i)))
		require.NoError(t, err)
	}

	_, err := b.CreateSession(caller(99))
	require.ErrorIs(t, err, ErrCapacityExceeded)

	st := b.Status()
	assert.Equal(t, MaxSessions, st.Sessions)
	assert.Equal(t, int32(MaxSessions), st.Refs)
	assert.Len(t, b.Sessions(), MaxSessions)
}

func TestBrokerCloseCompactsInOrder(t *testing.T) {
	testlog.Start(t)

	b, _, _ := newTestBroker(t)
	opened := make([]*Session, 0, MaxSessions)
	for i := 0; i < MaxSessions; i++ {
		s, err := b.CreateSession(caller(int32(i)))
		require.NoError(t, err)
		opened = append(opened, s)
	}

	b.CloseSession(opened[1])
	b.CloseSession(opened[3])

	live := b.Sessions()
	require.Equal(t, []*Session{opened[0], opened[2], opened[4]}, live)
	assert.Equal(t, 3, b.Status().Sessions)

	b.mu.Lock()
	for i := b.count; i < MaxSessions; i++ {
		assert.Nil(t, b.sessions[i], "slot %d past the counter must be empty", i)
	}
	b.mu.Unlock()

	for _, s := range live {
		assert.Equal(t, StateActive, s.State())
		var out Record
		require.NoError(t, s.ReadMSR(&Record{MSR: msr.PerfStatus}, &out))
	}
	assert.Equal(t, StateDestroyed, opened[1].State())

	// Freed capacity is reusable.
	_, err := b.CreateSession(caller(10))
	require.NoError(t, err)
	_, err = b.CreateSession(caller(11))
	require.NoError(t, err)
	_, err = b.CreateSession(caller(12))
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestBrokerDoubleCloseIsNoop(t *testing.T) {
	testlog.Start(t)

	b, _, _ := newTestBroker(t)
	s1, err := b.CreateSession(caller(1))
	require.NoError(t, err)
	s2, err := b.CreateSession(caller(2))
	require.NoError(t, err)

	b.CloseSession(s1)
	b.CloseSession(s1)
	b.CloseSession(nil)
	require.NoError(t, s1.ClientClose())

	st := b.Status()
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, int32(1), st.Refs)
	assert.Equal(t, []*Session{s2}, b.Sessions())
}

func TestBrokerStopTerminatesSessions(t *testing.T) {
	testlog.Start(t)

	b, _, _ := newTestBroker(t)
	var fired sync.WaitGroup
	sessions := make([]*Session, 3)
	for i := range sessions {
		s, err := b.CreateSession(caller(int32(i)))
		require.NoError(t, err)
		fired.Add(1)
		s.OnTerminate(func() {
			fired.Done()
			// A transport reacting to termination reports the client gone.
			_ = s.ClientDied()
		})
		sessions[i] = s
	}

	require.NoError(t, b.Stop())
	fired.Wait()

	st := b.Status()
	assert.Equal(t, 0, st.Sessions)
	assert.Equal(t, int32(0), st.Refs)
	for _, s := range sessions {
		assert.Equal(t, StateDestroyed, s.State())
		_, err := s.SharedMemory()
		assert.ErrorIs(t, err, ErrSessionInactive)
	}

	_, err := b.CreateSession(caller(9))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestBrokerConcurrentOpenClose(t *testing.T) {
	testlog.Start(t)

	b, _, _ := newTestBroker(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s, err := b.CreateSession(caller(int32(g)))
				if err != nil {
					assert.ErrorIs(t, err, ErrCapacityExceeded)
					continue
				}
				assert.NoError(t, s.ClientClose())
			}
		}(g)
	}
	wg.Wait()

	st := b.Status()
	assert.Equal(t, 0, st.Sessions)
	assert.Equal(t, int32(0), st.Refs)
}

func TestBrokerHardwareFaultSurfaces(t *testing.T) {
	testlog.Start(t)

	dev := msr.NewStrictMemory(map[uint32]uint64{msr.PerfStatus: 0x1234})
	b := New(dev, Options{})
	require.NoError(t, b.Start())

	v, err := b.ReadMSR(msr.PerfStatus)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), v)

	_, err = b.ReadMSR(0xDEAD)
	require.ErrorIs(t, err, msr.ErrHardwareFault)
	assert.Equal(t, PhaseStarted, b.Status().Phase)
}

func TestBrokerReportSnapshotIsolation(t *testing.T) {
	testlog.Start(t)

	b, _, _ := newTestBroker(t)
	b.UpdateReport(func(body []byte) { body[0] = 0xAA })

	first := b.ReportSnapshot()
	require.Len(t, first, ReportBufferSize)
	assert.Equal(t, byte(0xAA), first[ReportHeaderSize])

	b.UpdateReport(func(body []byte) { body[0] = 0xBB })
	assert.Equal(t, byte(0xAA), first[ReportHeaderSize], "earlier snapshot changed")

	second := b.ReportSnapshot()
	assert.Equal(t, byte(0xBB), second[ReportHeaderSize])

	r1, err := DecodeReport(first)
	require.NoError(t, err)
	r2, err := DecodeReport(second)
	require.NoError(t, err)
	assert.Equal(t, r1.Sequence+1, r2.Sequence)
}

package frontend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
	"github.com/danmuck/voltshift/internal/retry"
	"github.com/danmuck/voltshift/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn serves register and mailbox calls from memory.
type memConn struct {
	dev *msr.Memory
	sim *mailbox.Simulator
	mb  *mailbox.Mailbox

	failWrites int
	writeErr   error
	writes     int
}

func newMemConn() *memConn {
	dev := msr.NewMemory()
	sim := mailbox.NewSimulator()
	dev.Hook(msr.OCMailbox, sim)
	return &memConn{
		dev: dev,
		sim: sim,
		mb:  mailbox.New(mailbox.DeviceRegister(dev), mailbox.Options{Sleep: func(time.Duration) {}}),
	}
}

func (c *memConn) ReadMSR(index uint32) (uint64, error)      { return c.dev.Read(index) }
func (c *memConn) WriteMSR(index uint32, value uint64) error { return c.dev.Write(index, value) }

func (c *memConn) MailboxRead(d mailbox.Domain) (uint32, error) { return c.mb.Read(d) }

func (c *memConn) MailboxWrite(d mailbox.Domain, v uint32) error {
	c.writes++
	if c.writes <= c.failWrites {
		return c.writeErr
	}
	return c.mb.Write(d, v)
}

func newTools(conn Conn, allowOvervolt bool) *Tools {
	return New(conn, Options{AllowOvervolt: allowOvervolt, Backoff: retry.Fixed(time.Millisecond)})
}

func TestSetOffsetRoundTrip(t *testing.T) {
	testlog.Start(t)
	conn := newMemConn()
	tools := newTools(conn, false)

	require.NoError(t, tools.SetOffset(context.Background(), mailbox.DomainCPUCore, -100))
	require.NoError(t, tools.SetOffset(context.Background(), mailbox.DomainCPUCache, -50))

	offsets, err := tools.Offsets()
	require.NoError(t, err)
	require.Len(t, offsets, mailbox.DomainCount)
	assert.InDelta(t, -100, offsets[mailbox.DomainCPUCore].MilliVolts, 1)
	assert.InDelta(t, -50, offsets[mailbox.DomainCPUCache].MilliVolts, 1)
	assert.Zero(t, offsets[mailbox.DomainGPU].MilliVolts)
}

func TestSetOffsetRefusesOvervolt(t *testing.T) {
	testlog.Start(t)
	conn := newMemConn()

	err := newTools(conn, false).SetOffset(context.Background(), mailbox.DomainCPUCore, 25)
	require.ErrorIs(t, err, ErrOvervolt)
	assert.Zero(t, conn.writes, "refused offsets must not reach the mailbox")

	require.NoError(t, newTools(conn, true).SetOffset(context.Background(), mailbox.DomainCPUCore, 25))
	assert.InDelta(t, 25, mailbox.DecodeOffset(conn.sim.Value(mailbox.DomainCPUCore)), 1)
}

func TestSetOffsetRetriesTransientFailures(t *testing.T) {
	testlog.Start(t)
	conn := newMemConn()
	conn.failWrites = 2
	conn.writeErr = mailbox.ErrTimeout

	require.NoError(t, newTools(conn, false).SetOffset(context.Background(), mailbox.DomainGPU, -30))
	assert.Equal(t, 3, conn.writes)
}

func TestSetOffsetGivesUpAfterAttempts(t *testing.T) {
	testlog.Start(t)
	conn := newMemConn()
	conn.failWrites = 10
	conn.writeErr = mailbox.ErrTimeout

	err := newTools(conn, false).SetOffset(context.Background(), mailbox.DomainGPU, -30)
	require.ErrorIs(t, err, mailbox.ErrTimeout)
	assert.Equal(t, DefaultAttempts, conn.writes)
}

func TestSetOffsetDoesNotRetryPermanentErrors(t *testing.T) {
	testlog.Start(t)
	conn := newMemConn()
	conn.failWrites = 10
	conn.writeErr = auth.ErrUnauthorized

	err := newTools(conn, false).SetOffset(context.Background(), mailbox.DomainGPU, -30)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, 1, conn.writes)

	err = newTools(conn, false).SetOffset(context.Background(), mailbox.DomainGPU, -5000)
	require.ErrorIs(t, err, mailbox.ErrValueOverflow)
}

func TestPowerLimitsRoundTrip(t *testing.T) {
	testlog.Start(t)
	conn := newMemConn()
	// 1/8 W power units, 1/16384 J energy units.
	conn.dev.Set(msr.RAPLPowerUnit, 0x000A0E03)
	conn.dev.Set(msr.PkgPowerLimit, uint64(1)<<63|uint64(0x3)<<17)
	tools := newTools(conn, false)

	require.NoError(t, tools.SetPowerLimits(PowerLimits{PL1: 28, PL2: 44}))
	got, err := tools.PowerLimits()
	require.NoError(t, err)
	assert.Equal(t, PowerLimits{PL1: 28, PL2: 44}, got)

	raw, err := conn.ReadMSR(msr.PkgPowerLimit)
	require.NoError(t, err)
	assert.Equal(t, uint64(28*8), raw&limitMask)
	assert.NotZero(t, raw&pl1Enable)
	assert.NotZero(t, raw&pl2Enable)
	assert.NotZero(t, raw&(uint64(1)<<63), "lock bit preserved")
	assert.Equal(t, uint64(0x3), raw>>17&0x3, "time window preserved")

	require.ErrorIs(t, tools.SetPowerLimits(PowerLimits{PL1: 0, PL2: 44}), ErrPowerLimit)
	require.ErrorIs(t, tools.SetPowerLimits(PowerLimits{PL1: 28, PL2: 1e6}), ErrPowerLimit)
}

func TestTurboToggle(t *testing.T) {
	testlog.Start(t)
	conn := newMemConn()
	conn.dev.Set(msr.MiscEnable, 0x850089)
	tools := newTools(conn, false)

	on, err := tools.Turbo()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, tools.SetTurbo(false))
	on, err = tools.Turbo()
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, tools.SetTurbo(true))
	raw, err := tools.ReadMSR(msr.MiscEnable)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x850089), raw, "only the turbo bit changes")
}

func TestInfoDecodesSample(t *testing.T) {
	testlog.Start(t)
	conn := newMemConn()
	conn.dev.Set(msr.PerfStatus, uint64(0x1CCD)<<32|0x1F<<8)
	conn.dev.Set(msr.TemperatureTarget, 100<<16)
	conn.dev.Set(msr.ThermStatus, 45<<16)
	conn.dev.Set(msr.RAPLPowerUnit, 0x000A0E03)
	conn.dev.Set(msr.PkgEnergyStatus, 0xFFFFF000)
	tools := newTools(conn, false)

	info, err := tools.Info(context.Background(), time.Millisecond, true)
	require.NoError(t, err)
	assert.Equal(t, 3100.0, info.FrequencyMHz)
	assert.InDelta(t, 0.9, info.VoltageV, 0.001)
	assert.Equal(t, 55, info.TemperatureC)
	assert.Zero(t, info.PackageWatts, "counter did not move")
	assert.Len(t, info.Offsets, mailbox.DomainCount)
}

func TestPackageWattsHandlesWrap(t *testing.T) {
	testlog.Start(t)
	unit := uint64(0x000A0E03)
	// 16384 counts of 1/16384 J over one second is one watt.
	assert.InDelta(t, 1.0, PackageWatts(unit, 0xFFFFF000, 0x3000, time.Second), 1e-9)
	assert.InDelta(t, 2.0, PackageWatts(unit, 0, 16384, 500*time.Millisecond), 1e-9)
	assert.Zero(t, PackageWatts(unit, 0, 16384, 0))
}

func TestInfoHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTools(newMemConn(), false).Info(ctx, time.Hour, false)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestMonitorStopsOnCallbackError(t *testing.T) {
	testlog.Start(t)
	stop := errors.New("enough")
	calls := 0
	err := newTools(newMemConn(), false).Monitor(context.Background(), time.Millisecond, func(Info) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 3, calls)
}

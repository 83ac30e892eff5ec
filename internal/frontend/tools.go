// Package frontend turns broker primitives into the user-facing operations of
// the voltshift command: voltage offsets, power limits, turbo and live info.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
	"github.com/danmuck/voltshift/internal/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrOvervolt     = errors.New("frontend: positive offset refused")
	ErrVerifyFailed = errors.New("frontend: read-back mismatch")
	ErrPowerLimit   = errors.New("frontend: power limit out of range")
)

// Conn is the broker surface the tools need. *client.Client satisfies it.
type Conn interface {
	ReadMSR(index uint32) (uint64, error)
	WriteMSR(index uint32, value uint64) error
	MailboxRead(domain mailbox.Domain) (uint32, error)
	MailboxWrite(domain mailbox.Domain, value uint32) error
}

const DefaultAttempts = 3

type Options struct {
	// AllowOvervolt permits positive offsets, which can damage hardware.
	AllowOvervolt bool
	Attempts      int
	Backoff       retry.Backoff
	Logger        *zerolog.Logger
}

type Tools struct {
	conn   Conn
	opts   Options
	logger zerolog.Logger
}

func New(conn Conn, opts Options) *Tools {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff.InitialDelay <= 0 {
		opts.Backoff = retry.Backoff{InitialDelay: 20 * time.Millisecond, Multiplier: 2, MaxDelay: 200 * time.Millisecond}
	}
	t := &Tools{conn: conn, opts: opts}
	if opts.Logger != nil {
		t.logger = *opts.Logger
	} else {
		t.logger = log.Logger.With().Str("component", "frontend").Logger()
	}
	return t
}

// Offset is one plane's voltage offset.
type Offset struct {
	Domain     mailbox.Domain
	MilliVolts float64
}

// Offsets reads every plane. The first failure aborts.
func (t *Tools) Offsets() ([]Offset, error) {
	out := make([]Offset, 0, mailbox.DomainCount)
	for _, d := range mailbox.Domains() {
		field, err := t.conn.MailboxRead(d)
		if err != nil {
			return nil, fmt.Errorf("read %s offset: %w", d, err)
		}
		out = append(out, Offset{Domain: d, MilliVolts: mailbox.DecodeOffset(field)})
	}
	return out, nil
}

// SetOffset writes mv to domain and confirms it by reading it back. Transient
// mailbox failures are retried.
func (t *Tools) SetOffset(ctx context.Context, domain mailbox.Domain, mv float64) error {
	if mv > 0 && !t.opts.AllowOvervolt {
		return fmt.Errorf("%w: %s %+.1fmV", ErrOvervolt, domain, mv)
	}
	field, err := mailbox.EncodeOffset(mv)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, t.opts.Attempts, t.opts.Backoff, func(attempt int) error {
		if err := t.conn.MailboxWrite(domain, field); err != nil {
			t.logger.Debug().Err(err).Msgf("frontend.Tools.SetOffset attempt=%d domain=%s", attempt, domain)
			return retryable(err)
		}
		got, err := t.conn.MailboxRead(domain)
		if err != nil {
			return retryable(err)
		}
		if got != field {
			return fmt.Errorf("%w: %s wrote %#x read %#x", ErrVerifyFailed, domain, field, got)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s offset: %w", domain, err)
	}
	t.logger.Info().Msgf("frontend.Tools.SetOffset domain=%s mv=%.1f", domain, mailbox.DecodeOffset(field))
	return nil
}

// retryable marks errors that another attempt cannot fix.
func retryable(err error) error {
	switch {
	case errors.Is(err, mailbox.ErrValueOverflow),
		errors.Is(err, mailbox.ErrUnknownDomain),
		errors.Is(err, auth.ErrUnauthorized):
		return retry.Permanent(err)
	}
	return err
}

// RAPL layout in PkgPowerLimit and RAPLPowerUnit.
const (
	powerUnitMask   = 0xF
	energyUnitShift = 8
	energyUnitMask  = 0x1F
	limitMask       = 0x7FFF
	pl1Enable       = uint64(1) << 15
	pl2Shift        = 32
	pl2Enable       = uint64(1) << 47
)

// PowerLimits is the package long (PL1) and short (PL2) term limit in watts.
type PowerLimits struct {
	PL1 float64
	PL2 float64
}

func powerUnit(raw uint64) float64 {
	return 1 / float64(uint64(1)<<(raw&powerUnitMask))
}

func energyUnit(raw uint64) float64 {
	return 1 / float64(uint64(1)<<(raw>>energyUnitShift&energyUnitMask))
}

func (t *Tools) PowerLimits() (PowerLimits, error) {
	unit, err := t.conn.ReadMSR(msr.RAPLPowerUnit)
	if err != nil {
		return PowerLimits{}, err
	}
	raw, err := t.conn.ReadMSR(msr.PkgPowerLimit)
	if err != nil {
		return PowerLimits{}, err
	}
	w := powerUnit(unit)
	return PowerLimits{
		PL1: float64(raw&limitMask) * w,
		PL2: float64(raw>>pl2Shift&limitMask) * w,
	}, nil
}

// SetPowerLimits enables and programs both limits, leaving the other fields
// of the register untouched.
func (t *Tools) SetPowerLimits(limits PowerLimits) error {
	unit, err := t.conn.ReadMSR(msr.RAPLPowerUnit)
	if err != nil {
		return err
	}
	w := powerUnit(unit)
	pl1, err := limitField(limits.PL1, w)
	if err != nil {
		return err
	}
	pl2, err := limitField(limits.PL2, w)
	if err != nil {
		return err
	}
	raw, err := t.conn.ReadMSR(msr.PkgPowerLimit)
	if err != nil {
		return err
	}
	raw &^= limitMask | limitMask<<pl2Shift
	raw |= pl1 | pl1Enable | pl2<<pl2Shift | pl2Enable
	if err := t.conn.WriteMSR(msr.PkgPowerLimit, raw); err != nil {
		return err
	}
	t.logger.Info().Msgf("frontend.Tools.SetPowerLimits pl1=%.1fW pl2=%.1fW", limits.PL1, limits.PL2)
	return nil
}

func limitField(watts, unit float64) (uint64, error) {
	if math.IsNaN(watts) || watts <= 0 {
		return 0, fmt.Errorf("%w: %vW", ErrPowerLimit, watts)
	}
	units := math.Round(watts / unit)
	if units > limitMask {
		return 0, fmt.Errorf("%w: %vW above %.1fW", ErrPowerLimit, watts, limitMask*unit)
	}
	return uint64(units), nil
}

// turboDisable is the IA32_MISC_ENABLE bit that turns turbo off.
const turboDisable = uint64(1) << 38

func (t *Tools) Turbo() (bool, error) {
	raw, err := t.conn.ReadMSR(msr.MiscEnable)
	if err != nil {
		return false, err
	}
	return raw&turboDisable == 0, nil
}

func (t *Tools) SetTurbo(enabled bool) error {
	raw, err := t.conn.ReadMSR(msr.MiscEnable)
	if err != nil {
		return err
	}
	if enabled {
		raw &^= turboDisable
	} else {
		raw |= turboDisable
	}
	if err := t.conn.WriteMSR(msr.MiscEnable, raw); err != nil {
		return err
	}
	t.logger.Info().Msgf("frontend.Tools.SetTurbo enabled=%t", enabled)
	return nil
}

func (t *Tools) ReadMSR(index uint32) (uint64, error) {
	return t.conn.ReadMSR(index)
}

func (t *Tools) WriteMSR(index uint32, value uint64) error {
	return t.conn.WriteMSR(index, value)
}

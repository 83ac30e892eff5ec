package frontend

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/voltshift/internal/msr"
)

// Info is one sample of live package state.
type Info struct {
	FrequencyMHz float64
	VoltageV     float64
	TemperatureC int
	PackageWatts float64
	Offsets      []Offset
}

const busClockMHz = 100

// FrequencyMHz decodes the current ratio from PERF_STATUS bits 8..15.
func FrequencyMHz(perfStatus uint64) float64 {
	return float64(perfStatus>>8&0xFF) * busClockMHz
}

// CoreVoltage decodes PERF_STATUS bits 32..47, in units of 1/8192 V.
func CoreVoltage(perfStatus uint64) float64 {
	return float64(perfStatus>>32&0xFFFF) / 8192
}

// Temperature is TjMax minus the digital readout below it.
func Temperature(thermStatus, tempTarget uint64) int {
	tjMax := int(tempTarget >> 16 & 0xFF)
	readout := int(thermStatus >> 16 & 0x7F)
	return tjMax - readout
}

// PackageWatts converts two energy counter samples taken interval apart. The
// counter is 32 bits wide and wraps.
func PackageWatts(powerUnit, before, after uint64, interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	delta := uint32(after) - uint32(before)
	return float64(delta) * energyUnit(powerUnit) / interval.Seconds()
}

// Info samples frequency, voltage and temperature, then measures package power
// over interval. Offsets are included when withOffsets is set.
func (t *Tools) Info(ctx context.Context, interval time.Duration, withOffsets bool) (Info, error) {
	var info Info
	read := func(index uint32) (uint64, error) {
		v, err := t.conn.ReadMSR(index)
		if err != nil {
			return 0, fmt.Errorf("read msr %#x: %w", index, err)
		}
		return v, nil
	}

	perf, err := read(msr.PerfStatus)
	if err != nil {
		return Info{}, err
	}
	therm, err := read(msr.ThermStatus)
	if err != nil {
		return Info{}, err
	}
	target, err := read(msr.TemperatureTarget)
	if err != nil {
		return Info{}, err
	}
	unit, err := read(msr.RAPLPowerUnit)
	if err != nil {
		return Info{}, err
	}
	before, err := read(msr.PkgEnergyStatus)
	if err != nil {
		return Info{}, err
	}

	timer := time.NewTimer(interval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return Info{}, ctx.Err()
	case <-timer.C:
	}

	after, err := read(msr.PkgEnergyStatus)
	if err != nil {
		return Info{}, err
	}

	info.FrequencyMHz = FrequencyMHz(perf)
	info.VoltageV = CoreVoltage(perf)
	info.TemperatureC = Temperature(therm, target)
	info.PackageWatts = PackageWatts(unit, before, after, interval)
	if withOffsets {
		if info.Offsets, err = t.Offsets(); err != nil {
			return Info{}, err
		}
	}
	return info, nil
}

// Monitor calls fn with a fresh Info every interval until ctx is done or fn
// returns an error.
func (t *Tools) Monitor(ctx context.Context, interval time.Duration, fn func(Info) error) error {
	for ctx.Err() == nil {
		info, err := t.Info(ctx, interval, false)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

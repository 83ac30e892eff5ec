package broker

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
)

// ReportVersion is the layout version stored in header word 0.
const ReportVersion uint32 = 1

// ReportHeaderSize is the byte size of the version and sequence words.
const ReportHeaderSize = 8

// Report body layout, little-endian, offsets relative to the body.
const (
	offSampledAt    = 0
	offThermStatus  = 8
	offTempTarget   = 16
	offPerfStatus   = 24
	offPowerLimit   = 32
	offMiscEnable   = 40
	offEnergyStatus = 48
	offPowerUnit    = 56
	offValid        = 64
	offDomains      = 72
	reportBodyUsed  = offDomains + 4*mailbox.DomainCount
)

// Valid bits for register fields. Mailbox domain d uses bit 8+d.
const (
	ValidThermStatus uint64 = 1 << iota
	ValidTempTarget
	ValidPerfStatus
	ValidPowerLimit
	ValidMiscEnable
	ValidEnergyStatus
	ValidPowerUnit
)

// Report is the decoded form of the shared report buffer.
type Report struct {
	Version   uint32
	Sequence  uint32
	SampledAt time.Time

	ThermStatus  uint64
	TempTarget   uint64
	PerfStatus   uint64
	PowerLimit   uint64
	MiscEnable   uint64
	EnergyStatus uint64
	PowerUnit    uint64

	Valid   uint64
	Domains [mailbox.DomainCount]uint32
}

// DomainValid reports whether the mailbox value for d was sampled.
func (r Report) DomainValid(d mailbox.Domain) bool {
	return r.Valid&(1<<(8+uint(d))) != 0
}

func (r Report) encodeBody(body []byte) {
	clear(body[:reportBodyUsed])
	if !r.SampledAt.IsZero() {
		binary.LittleEndian.PutUint64(body[offSampledAt:], uint64(r.SampledAt.UnixNano()))
	}
	binary.LittleEndian.PutUint64(body[offThermStatus:], r.ThermStatus)
	binary.LittleEndian.PutUint64(body[offTempTarget:], r.TempTarget)
	binary.LittleEndian.PutUint64(body[offPerfStatus:], r.PerfStatus)
	binary.LittleEndian.PutUint64(body[offPowerLimit:], r.PowerLimit)
	binary.LittleEndian.PutUint64(body[offMiscEnable:], r.MiscEnable)
	binary.LittleEndian.PutUint64(body[offEnergyStatus:], r.EnergyStatus)
	binary.LittleEndian.PutUint64(body[offPowerUnit:], r.PowerUnit)
	binary.LittleEndian.PutUint64(body[offValid:], r.Valid)
	for i, v := range r.Domains {
		binary.LittleEndian.PutUint32(body[offDomains+4*i:], v)
	}
}

// DecodeReport parses a report buffer snapshot.
func DecodeReport(buf []byte) (Report, error) {
	if len(buf) < ReportHeaderSize+reportBodyUsed {
		return Report{}, fmt.Errorf("%w: size=%d", ErrReportLayout, len(buf))
	}
	r := Report{
		Version:  binary.LittleEndian.Uint32(buf[0:4]),
		Sequence: binary.LittleEndian.Uint32(buf[4:8]),
	}
	if r.Version != ReportVersion {
		return Report{}, fmt.Errorf("%w: version=%d", ErrReportLayout, r.Version)
	}
	body := buf[ReportHeaderSize:]
	if ns := binary.LittleEndian.Uint64(body[offSampledAt:]); ns != 0 {
		r.SampledAt = time.Unix(0, int64(ns))
	}
	r.ThermStatus = binary.LittleEndian.Uint64(body[offThermStatus:])
	r.TempTarget = binary.LittleEndian.Uint64(body[offTempTarget:])
	r.PerfStatus = binary.LittleEndian.Uint64(body[offPerfStatus:])
	r.PowerLimit = binary.LittleEndian.Uint64(body[offPowerLimit:])
	r.MiscEnable = binary.LittleEndian.Uint64(body[offMiscEnable:])
	r.EnergyStatus = binary.LittleEndian.Uint64(body[offEnergyStatus:])
	r.PowerUnit = binary.LittleEndian.Uint64(body[offPowerUnit:])
	r.Valid = binary.LittleEndian.Uint64(body[offValid:])
	for i := range r.Domains {
		r.Domains[i] = binary.LittleEndian.Uint32(body[offDomains+4*i:])
	}
	return r, nil
}

// Sampler periodically refreshes the broker report buffer from hardware.
type Sampler struct {
	broker   *Broker
	interval time.Duration
	now      func() time.Time
}

func NewSampler(b *Broker, interval time.Duration) *Sampler {
	return &Sampler{broker: b, interval: interval, now: time.Now}
}

// SampleOnce reads every reported register and mailbox domain and publishes
// the result. Unreadable fields are left zero with their valid bit clear.
func (s *Sampler) SampleOnce() Report {
	r := Report{SampledAt: s.now()}
	regs := []struct {
		index uint32
		dst   *uint64
		bit   uint64
	}{
		{msr.ThermStatus, &r.ThermStatus, ValidThermStatus},
		{msr.TemperatureTarget, &r.TempTarget, ValidTempTarget},
		{msr.PerfStatus, &r.PerfStatus, ValidPerfStatus},
		{msr.PkgPowerLimit, &r.PowerLimit, ValidPowerLimit},
		{msr.MiscEnable, &r.MiscEnable, ValidMiscEnable},
		{msr.PkgEnergyStatus, &r.EnergyStatus, ValidEnergyStatus},
		{msr.RAPLPowerUnit, &r.PowerUnit, ValidPowerUnit},
	}
	for _, reg := range regs {
		v, err := s.broker.ReadMSR(reg.index)
		if err != nil {
			continue
		}
		*reg.dst = v
		r.Valid |= reg.bit
	}
	for _, d := range mailbox.Domains() {
		v, err := s.broker.Mailbox().Read(d)
		if err != nil {
			continue
		}
		r.Domains[d] = v
		r.Valid |= 1 << (8 + uint(d))
	}

	s.broker.UpdateReport(r.encodeBody)
	r.Version = ReportVersion
	r.Sequence = s.broker.reportSequence()
	return r
}

// Run samples immediately and then every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("broker: sampler interval must be positive, got %s", s.interval)
	}
	s.SampleOnce()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SampleOnce()
		}
	}
}

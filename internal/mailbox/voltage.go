package mailbox

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Voltage planes addressable through the mailbox.
const (
	DomainCPUCore     Domain = 0
	DomainGPU         Domain = 1
	DomainCPUCache    Domain = 2
	DomainSystemAgent Domain = 3
	DomainAnalogIO    Domain = 4
	DomainDigitalIO   Domain = 5

	// DomainCount is the number of named planes.
	DomainCount = 6
)

var ErrUnknownDomain = errors.New("mailbox: unknown domain")

var domainNames = [DomainCount]string{
	DomainCPUCore:     "cpu",
	DomainGPU:         "gpu",
	DomainCPUCache:    "cache",
	DomainSystemAgent: "system_agent",
	DomainAnalogIO:    "analog_io",
	DomainDigitalIO:   "digital_io",
}

// Domains lists the known planes in index order.
func Domains() []Domain {
	out := make([]Domain, len(domainNames))
	for i := range domainNames {
		out[i] = Domain(i)
	}
	return out
}

func (d Domain) String() string {
	if int(d) < len(domainNames) {
		return domainNames[d]
	}
	return "domain_" + strconv.Itoa(int(d))
}

// ParseDomain accepts a plane name or its numeric index.
func ParseDomain(raw string) (Domain, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for i, name := range domainNames {
		if raw == name {
			return Domain(i), nil
		}
	}
	n, err := strconv.ParseUint(raw, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDomain, raw)
	}
	return Domain(n), nil
}

// Offsets are 11-bit two's complement in units of 1/1024 V, stored one bit
// above the bottom of the value field (word bit 21).
const (
	offsetUnitsPerMilliVolt = 1.024
	offsetShift             = 1
	offsetBits              = 11
	offsetMask              = uint32(1)<<offsetBits - 1
	offsetMinUnits          = -(1 << (offsetBits - 1))
	offsetMaxUnits          = 1<<(offsetBits-1) - 1
)

// EncodeOffset converts a millivolt offset into a value field.
func EncodeOffset(mv float64) (uint32, error) {
	if math.IsNaN(mv) || math.IsInf(mv, 0) {
		return 0, fmt.Errorf("%w: offset %v", ErrValueOverflow, mv)
	}
	units := math.Round(mv * offsetUnitsPerMilliVolt)
	if units < offsetMinUnits || units > offsetMaxUnits {
		return 0, fmt.Errorf("%w: offset %.1fmV outside [%.1f, %.1f]mV", ErrValueOverflow, mv,
			offsetMinUnits/offsetUnitsPerMilliVolt, offsetMaxUnits/offsetUnitsPerMilliVolt)
	}
	return (uint32(int32(units)) & offsetMask) << offsetShift, nil
}

// DecodeOffset converts a value field back into millivolts.
func DecodeOffset(field uint32) float64 {
	units := int32(field >> offsetShift & offsetMask)
	if units > offsetMaxUnits {
		units -= 1 << offsetBits
	}
	return float64(units) / offsetUnitsPerMilliVolt
}

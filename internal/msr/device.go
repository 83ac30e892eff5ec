package msr

import "errors"

// Well-known register indexes used by the broker and frontend.
const (
	OCMailbox         uint32 = 0x150
	PerfStatus        uint32 = 0x198
	ThermStatus       uint32 = 0x19C
	MiscEnable        uint32 = 0x1A0
	TemperatureTarget uint32 = 0x1A2
	RAPLPowerUnit     uint32 = 0x606
	PkgPowerLimit     uint32 = 0x610
	PkgEnergyStatus   uint32 = 0x611
)

// DefaultPathTemplate is the Linux msr driver node, formatted with a cpu number.
const DefaultPathTemplate = "/dev/cpu/%d/msr"

var (
	ErrHardwareFault = errors.New("msr: hardware fault")
	ErrPermission    = errors.New("msr: permission denied")
	ErrShortTransfer = errors.New("msr: short transfer")
	ErrClosed        = errors.New("msr: device closed")
	ErrUnsupported   = errors.New("msr: unsupported platform")
)

// Device is the register access primitive.
type Device interface {
	Read(index uint32) (uint64, error)
	Write(index uint32, value uint64) error
	Close() error
}

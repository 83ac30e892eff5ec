package daemon

import (
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
)

// SimulatedDevice returns an in-memory register file with plausible package
// values and a working OC mailbox.
func SimulatedDevice() *msr.Memory {
	dev := msr.NewMemory()
	dev.Set(msr.PerfStatus, uint64(0x1C00)<<32|0x1C<<8)
	dev.Set(msr.ThermStatus, 0x88380000)
	dev.Set(msr.TemperatureTarget, 100<<16)
	dev.Set(msr.MiscEnable, 0x850089)
	dev.Set(msr.RAPLPowerUnit, 0x000A0E03)
	dev.Set(msr.PkgPowerLimit, 0x00428118_001280E0)
	dev.Set(msr.PkgEnergyStatus, 0)
	dev.Hook(msr.OCMailbox, mailbox.NewSimulator())
	return dev
}

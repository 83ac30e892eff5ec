// Package cpuinfo identifies the processor the daemon runs on.
package cpuinfo

import (
	"errors"
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// ErrUnsupportedCPU is returned for processors without the Intel OC mailbox.
var ErrUnsupportedCPU = errors.New("cpuinfo: unsupported cpu")

type CPUInfo struct {
	VendorString  string
	BrandString   string
	Family        int
	Model         int
	PhysicalCores int
	LogicalCores  int
	Hz            int64
	Intel         bool
}

func GetCPUInfo() CPUInfo {
	return CPUInfo{
		VendorString:  cpuid.CPU.VendorString,
		BrandString:   cpuid.CPU.BrandName,
		Family:        cpuid.CPU.Family,
		Model:         cpuid.CPU.Model,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Hz:            cpuid.CPU.Hz,
		Intel:         cpuid.CPU.VendorID == cpuid.Intel,
	}
}

// CheckMailbox reports whether the OC mailbox can be expected on this cpu.
func (c CPUInfo) CheckMailbox() error {
	if !c.Intel {
		return fmt.Errorf("%w: vendor=%q brand=%q", ErrUnsupportedCPU, c.VendorString, c.BrandString)
	}
	return nil
}

func (c CPUInfo) String() string {
	return fmt.Sprintf("%s family=%#x model=%#x cores=%d/%d", c.BrandString, c.Family, c.Model, c.PhysicalCores, c.LogicalCores)
}

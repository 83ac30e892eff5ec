package mailbox

import "fmt"

// Command word layout.
const (
	ValueOffset    = 20
	ValueBits      = 12
	CommandOffset  = 32
	ResponseOffset = 32
	DomainOffset   = 40
	BusyBit        = 63

	valueMask  = uint64(1)<<ValueBits - 1
	byteMask   = uint64(0xFF)
	busyFlag   = uint64(1) << BusyBit
	ValueLimit = uint32(1) << ValueBits
)

// Command selects the mailbox operation.
type Command uint8

const (
	CmdReadVoltage  Command = 0x10
	CmdWriteVoltage Command = 0x11
)

// Domain selects the voltage/frequency plane addressed by a command.
type Domain uint8

// Word is one 64-bit mailbox register value.
type Word uint64

// Encode builds a pending command word with the busy bit set.
func Encode(cmd Command, domain Domain, value uint32) (Word, error) {
	if value >= ValueLimit {
		return 0, fmt.Errorf("%w: value %#x exceeds %d-bit field", ErrValueOverflow, value, ValueBits)
	}
	w := busyFlag |
		uint64(domain)<<DomainOffset |
		uint64(cmd)<<CommandOffset |
		uint64(value)<<ValueOffset
	return Word(w), nil
}

func (w Word) Busy() bool {
	return uint64(w)&busyFlag != 0
}

func (w Word) Command() Command {
	return Command(uint64(w) >> CommandOffset & byteMask)
}

// Response is the completion code hardware leaves in the command byte.
func (w Word) Response() uint8 {
	return uint8(uint64(w) >> ResponseOffset & byteMask)
}

func (w Word) Domain() Domain {
	return Domain(uint64(w) >> DomainOffset & byteMask)
}

func (w Word) Value() uint32 {
	return uint32(uint64(w) >> ValueOffset & valueMask)
}

func (w Word) String() string {
	return fmt.Sprintf("%#016x(busy=%t cmd=%#x domain=%d value=%#x)", uint64(w), w.Busy(), uint8(w.Command()), w.Domain(), w.Value())
}

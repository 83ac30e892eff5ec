package broker

import (
	"encoding/binary"
	"fmt"
)

// Command record opcodes. These are the only two the dispatch surface accepts.
const (
	ActionReadMSR  uint32 = 0
	ActionWriteMSR uint32 = 1
)

// RecordSize is the fixed wire size of a Record.
const RecordSize = 16

// Record is the symmetric request/response unit for raw register operations.
type Record struct {
	Action uint32
	MSR    uint32
	Param  uint64
}

func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Action)
	binary.LittleEndian.PutUint32(buf[4:8], r.MSR)
	binary.LittleEndian.PutUint64(buf[8:16], r.Param)
	return buf, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return fmt.Errorf("%w: got %d want %d", ErrRecordSize, len(b), RecordSize)
	}
	r.Action = binary.LittleEndian.Uint32(b[0:4])
	r.MSR = binary.LittleEndian.Uint32(b[4:8])
	r.Param = binary.LittleEndian.Uint64(b[8:16])
	return nil
}

func (r Record) String() string {
	return fmt.Sprintf("action=%d msr=%#x param=%#x", r.Action, r.MSR, r.Param)
}

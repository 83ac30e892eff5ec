package schema

import (
	"fmt"

	"github.com/danmuck/voltshift/internal/protocol/frame"
	"github.com/danmuck/voltshift/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type ids.
const (
	MsgHello        uint32 = 1
	MsgCommand      uint32 = 2
	MsgMailbox      uint32 = 3
	MsgSharedMemory uint32 = 4
	MsgClose        uint32 = 5
)

// Field ids.
const (
	FieldSessionID uint16 = 1
	FieldCapacity  uint16 = 2
	FieldActive    uint16 = 3
	FieldShmSize   uint16 = 4

	FieldMailboxOp uint16 = 100
	FieldDomain    uint16 = 101
	FieldValue     uint16 = 102

	FieldErrorCode    uint16 = 900
	FieldErrorMessage uint16 = 901
)

// Mailbox op values carried in FieldMailboxOp.
const (
	MailboxOpRead  uint8 = 0
	MailboxOpWrite uint8 = 1
)

// Error codes carried in FieldErrorCode.
const (
	CodeCapacity        uint32 = 1
	CodeAttach          uint32 = 2
	CodeUnsupported     uint32 = 3
	CodeTimeout         uint32 = 4
	CodeInvalidArgument uint32 = 5
	CodeHardwareFault   uint32 = 6
	CodeMailboxStatus   uint32 = 7
	CodeDenied          uint32 = 8
	CodeBadRequest      uint32 = 9
	CodeInactive        uint32 = 10
	CodeInternal        uint32 = 11
)

// CommandRecordSize is the fixed MsgCommand payload size.
const CommandRecordSize = 16

func MessageName(t uint32) string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgCommand:
		return "command"
	case MsgMailbox:
		return "mailbox"
	case MsgSharedMemory:
		return "shared_memory"
	case MsgClose:
		return "close"
	default:
		return fmt.Sprintf("type_%d", t)
	}
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

// TLV requirements for request payloads.
var requirements = map[uint32][]Requirement{
	MsgMailbox: {
		{FieldMailboxOp, tlv.TypeU8},
		{FieldDomain, tlv.TypeU8},
	},
}

// TLV requirements for successful response payloads.
var responseRequirements = map[uint32][]Requirement{
	MsgHello: {
		{FieldSessionID, tlv.TypeString},
		{FieldCapacity, tlv.TypeU32},
		{FieldActive, tlv.TypeU32},
		{FieldShmSize, tlv.TypeU32},
	},
	MsgMailbox: {
		{FieldValue, tlv.TypeU32},
	},
}

var errorRequirements = []Requirement{
	{FieldErrorCode, tlv.TypeU32},
	{FieldErrorMessage, tlv.TypeString},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Msgf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	return check(messageType, reqs, fields)
}

// ValidateResponse checks a response payload, picking error or success
// requirements from the header flags.
func ValidateResponse(h frame.Header, fields []tlv.Field) error {
	if h.IsError() {
		return check(h.MessageType, errorRequirements, fields)
	}
	reqs, ok := responseRequirements[h.MessageType]
	if !ok {
		return ValidationError{MessageType: h.MessageType, Reason: "unexpected tlv response"}
	}
	return check(h.MessageType, reqs, fields)
}

// ValidateFrame checks the shape of a request frame before dispatch.
func ValidateFrame(f frame.Frame) error {
	switch f.Header.MessageType {
	case MsgCommand:
		if len(f.Payload) != CommandRecordSize {
			return ValidationError{
				MessageType: MsgCommand,
				Reason:      fmt.Sprintf("payload must be %d bytes, got %d", CommandRecordSize, len(f.Payload)),
			}
		}
		return nil
	case MsgSharedMemory, MsgClose:
		if len(f.Payload) != 0 {
			return ValidationError{MessageType: f.Header.MessageType, Reason: "unexpected payload"}
		}
		return nil
	case MsgMailbox:
		fields, err := tlv.DecodeFields(f.Payload)
		if err != nil {
			return ValidationError{MessageType: MsgMailbox, Reason: err.Error()}
		}
		return Validate(MsgMailbox, fields)
	default:
		return ValidationError{MessageType: f.Header.MessageType, Reason: "unknown message_type"}
	}
}

func check(messageType uint32, reqs []Requirement, fields []tlv.Field) error {
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().Msgf("schema.check missing field message_type=%d field_id=%d", messageType, req.ID)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().Msgf(
				"schema.check type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

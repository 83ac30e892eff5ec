package protocol

import (
	"fmt"

	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/protocol/frame"
	"github.com/danmuck/voltshift/internal/protocol/schema"
	"github.com/danmuck/voltshift/internal/protocol/tlv"
)

// Hello is the first frame a server sends on a new connection.
type Hello struct {
	SessionID string
	Capacity  uint32
	Active    uint32
	ShmSize   uint32
}

func (h Hello) Payload() []byte {
	return tlv.EncodeFields(
		tlv.String(schema.FieldSessionID, h.SessionID),
		tlv.U32(schema.FieldCapacity, h.Capacity),
		tlv.U32(schema.FieldActive, h.Active),
		tlv.U32(schema.FieldShmSize, h.ShmSize),
	)
}

func ParseHello(payload []byte) (Hello, error) {
	fields, err := decodeChecked(schema.MsgHello, payload, true)
	if err != nil {
		return Hello{}, err
	}
	var h Hello
	h.SessionID, _ = tlv.LookupString(fields, schema.FieldSessionID)
	h.Capacity, _ = tlv.LookupU32(fields, schema.FieldCapacity)
	h.Active, _ = tlv.LookupU32(fields, schema.FieldActive)
	h.ShmSize, _ = tlv.LookupU32(fields, schema.FieldShmSize)
	return h, nil
}

// MailboxRequest asks the broker to run one mailbox transaction.
type MailboxRequest struct {
	Op     uint8
	Domain mailbox.Domain
	Value  uint32
}

func (r MailboxRequest) Payload() []byte {
	return tlv.EncodeFields(
		tlv.U8(schema.FieldMailboxOp, r.Op),
		tlv.U8(schema.FieldDomain, uint8(r.Domain)),
		tlv.U32(schema.FieldValue, r.Value),
	)
}

func ParseMailboxRequest(payload []byte) (MailboxRequest, error) {
	fields, err := decodeChecked(schema.MsgMailbox, payload, false)
	if err != nil {
		return MailboxRequest{}, err
	}
	var r MailboxRequest
	r.Op, _ = tlv.LookupU8(fields, schema.FieldMailboxOp)
	domain, _ := tlv.LookupU8(fields, schema.FieldDomain)
	r.Domain = mailbox.Domain(domain)

	switch r.Op {
	case schema.MailboxOpRead:
	case schema.MailboxOpWrite:
		r.Value, err = tlv.LookupU32(fields, schema.FieldValue)
		if err != nil {
			return MailboxRequest{}, fmt.Errorf("%w: mailbox write: %w", ErrBadRequest, err)
		}
	default:
		return MailboxRequest{}, fmt.Errorf("%w: mailbox op=%d", ErrBadRequest, r.Op)
	}
	return r, nil
}

func MailboxResponsePayload(value uint32) []byte {
	return tlv.EncodeFields(tlv.U32(schema.FieldValue, value))
}

func ParseMailboxResponse(payload []byte) (uint32, error) {
	fields, err := decodeChecked(schema.MsgMailbox, payload, true)
	if err != nil {
		return 0, err
	}
	v, _ := tlv.LookupU32(fields, schema.FieldValue)
	return v, nil
}

func decodeChecked(msgType uint32, payload []byte, response bool) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadRequest, schema.MessageName(msgType), err)
	}
	if response {
		err = schema.ValidateResponse(responseHeader(msgType), fields)
	} else {
		err = schema.Validate(msgType, fields)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return fields, nil
}

func responseHeader(msgType uint32) frame.Header {
	return frame.Header{MessageType: msgType, Flags: frame.FlagIsResponse}
}

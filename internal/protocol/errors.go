package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/broker"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
	"github.com/danmuck/voltshift/internal/protocol/schema"
	"github.com/danmuck/voltshift/internal/protocol/tlv"
)

var (
	ErrBadRequest = errors.New("protocol: bad request")
	ErrInternal   = errors.New("protocol: internal broker error")
)

// codeTable is checked in order; the first matching sentinel wins.
var codeTable = []struct {
	code uint32
	err  error
}{
	{schema.CodeCapacity, broker.ErrCapacityExceeded},
	{schema.CodeAttach, broker.ErrAttachFailed},
	{schema.CodeAttach, broker.ErrNotStarted},
	{schema.CodeUnsupported, broker.ErrUnsupported},
	{schema.CodeTimeout, mailbox.ErrTimeout},
	{schema.CodeInvalidArgument, mailbox.ErrValueOverflow},
	{schema.CodeHardwareFault, msr.ErrHardwareFault},
	{schema.CodeMailboxStatus, mailbox.ErrMailboxStatus},
	{schema.CodeMailboxStatus, mailbox.ErrForeignWord},
	{schema.CodeDenied, auth.ErrUnauthorized},
	{schema.CodeBadRequest, ErrBadRequest},
	{schema.CodeBadRequest, broker.ErrRecordSize},
	{schema.CodeInactive, broker.ErrSessionInactive},
}

// ErrorCode maps a broker-side error to its wire code.
func ErrorCode(err error) uint32 {
	var ve schema.ValidationError
	if errors.As(err, &ve) {
		return schema.CodeBadRequest
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return schema.CodeInternal
}

// RemoteError is an error reported by the broker across the wire. It unwraps
// to the sentinel for its code so errors.Is works on the client side.
type RemoteError struct {
	Code    uint32
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("broker error code=%d: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	for _, entry := range codeTable {
		if entry.code == e.Code {
			return entry.err
		}
	}
	return ErrInternal
}

// ErrorFields renders err as an error frame payload.
func ErrorFields(err error) []tlv.Field {
	return []tlv.Field{
		tlv.U32(schema.FieldErrorCode, ErrorCode(err)),
		tlv.String(schema.FieldErrorMessage, err.Error()),
	}
}

// ParseError decodes an error frame payload.
func ParseError(payload []byte) error {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return fmt.Errorf("%w: error payload: %w", ErrBadRequest, err)
	}
	code, err := tlv.LookupU32(fields, schema.FieldErrorCode)
	if err != nil {
		return fmt.Errorf("%w: error payload: %w", ErrBadRequest, err)
	}
	msg, _ := tlv.LookupString(fields, schema.FieldErrorMessage)
	return &RemoteError{Code: code, Message: msg}
}

package mailbox

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout       = errors.New("mailbox: busy bit never cleared")
	ErrValueOverflow = errors.New("mailbox: value does not fit value field")
	ErrMailboxStatus = errors.New("mailbox: hardware rejected command")
	ErrForeignWord   = errors.New("mailbox: completion word belongs to another command")
)

// TimeoutError reports an exhausted poll budget.
type TimeoutError struct {
	Op       Op
	Domain   Domain
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mailbox: %s domain=%d: busy bit still set after %d attempts", e.Op, e.Domain, e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// StatusError reports a completed transaction with a non-zero response code.
type StatusError struct {
	Op     Op
	Domain Domain
	Code   uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mailbox: %s domain=%d: response code %#x", e.Op, e.Domain, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrMailboxStatus
}

// ForeignWordError reports a completed word addressed to a different domain
// than the request, meaning another writer replaced the command word.
type ForeignWordError struct {
	Op     Op
	Domain Domain
	Got    Word
}

func (e *ForeignWordError) Error() string {
	return fmt.Sprintf("mailbox: %s domain=%d: completed word %s is not ours", e.Op, e.Domain, e.Got)
}

func (e *ForeignWordError) Is(target error) bool {
	return target == ErrForeignWord
}

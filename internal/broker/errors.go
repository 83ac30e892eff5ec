package broker

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("broker: session capacity exceeded")
	ErrAttachFailed     = errors.New("broker: session attach failed")
	ErrProviderMismatch = errors.New("broker: provider is not a broker")
	ErrUnsupported      = errors.New("broker: unsupported operation")
	ErrSessionInactive  = errors.New("broker: session not active")
	ErrLifecycleOrder   = errors.New("broker: invalid lifecycle transition")
	ErrRecordSize       = errors.New("broker: invalid command record size")
	ErrReportLayout     = errors.New("broker: invalid report layout")
	ErrNotStarted       = errors.New("broker: not started")
	ErrReferencesHeld   = errors.New("broker: references still held")
)

func transitionError(from, to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}

func stateError(from, to State) error {
	return fmt.Errorf("%w: session %s -> %s", ErrLifecycleOrder, from, to)
}

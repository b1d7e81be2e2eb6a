package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by sends attempted outside StateConnected.
	ErrNotConnected = errors.New("ble: not connected")

	// ErrConnectionFailed matches every *ConnectionError.
	ErrConnectionFailed = errors.New("ble: connection failed")

	// ErrNoDevice is the last error of a connect that found no Furby to dial.
	ErrNoDevice = errors.New("ble: no Furby found")

	// ErrNoFirmwareReply is returned when a firmware query goes unanswered.
	ErrNoFirmwareReply = errors.New("ble: no firmware version reply")

	// ErrInvalidAddress is returned for an address the platform cannot
	// dial. Connect does not retry it.
	ErrInvalidAddress = errors.New("ble: invalid device address")

	// ErrWriteResponseUnsupported is returned by transports whose backend
	// can only write without response.
	ErrWriteResponseUnsupported = errors.New("ble: write with response not supported on this platform")
)

// ConnectionError reports that all connect attempts were exhausted.
type ConnectionError struct {
	Address  string // empty when the target was to be discovered
	Attempts int
	Err      error // last attempt's error
}

func (e *ConnectionError) Error() string {
	target := e.Address
	if target == "" {
		target = "first discovered Furby"
	}
	return fmt.Sprintf("ble: connect to %s failed after %d attempt(s): %v", target, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

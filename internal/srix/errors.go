package srix

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable means no reader could be opened or no tag answered.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrUserDeclined is returned when a confirmation prompt was answered "no".
	// It is a clean exit, not a failure.
	ErrUserDeclined = errors.New("declined by user")

	// ErrOTPAlreadyReset is returned by ResetPlan when blocks 0..4 are already erased.
	ErrOTPAlreadyReset = errors.New("OTP area already reset")
)

// FrameLengthError reports a response whose length does not match the
// command that produced it.
type FrameLengthError struct {
	// Op is the command that was sent, e.g. "GET_UID" or "READ_BLOCK 0x07"
	Op   string
	Want int
	Got  int
}

func (e *FrameLengthError) Error() string {
	return fmt.Sprintf("%s: received %d bytes instead of %d", e.Op, e.Got, e.Want)
}

// IsFrameLengthError returns true if err is or wraps a FrameLengthError.
func IsFrameLengthError(err error) bool {
	var fe *FrameLengthError
	return errors.As(err, &fe)
}

// BlockReadError aborts a multi-block read at the first failing block.
type BlockReadError struct {
	Index byte
	Err   error
}

func (e *BlockReadError) Error() string {
	if e.Index == SystemBlockIndex {
		return fmt.Sprintf("error while reading system block: %v", e.Err)
	}
	return fmt.Sprintf("error while reading block %d: %v", e.Index, e.Err)
}

func (e *BlockReadError) Unwrap() error { return e.Err }

// StorageError reports a dump file that is missing, has the wrong size, or
// cannot be read or written.
type StorageError struct {
	Path string
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("dump %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dump %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError returns true if err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

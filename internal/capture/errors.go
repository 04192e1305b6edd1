package capture

import (
	"context"
	"errors"
)

// Sentinel errors. Operations wrap them with context and, where one exists,
// the underlying errno, so callers can match either with errors.Is.
var (
	ErrAllocation      = errors.New("buffer allocation failed")
	ErrConfig          = errors.New("capture configuration failed")
	ErrSubmit          = errors.New("buffer submission failed")
	ErrStart           = errors.New("stream start failed")
	ErrTimeout         = errors.New("timed out waiting for a filled buffer")
	ErrDevice          = errors.New("capture device error")
	ErrIndexOutOfRange = errors.New("buffer index out of range")
	ErrInvalidState    = errors.New("invalid buffer state")
	ErrFrameSize       = errors.New("unexpected frame size")
)

// Status is the final outcome of a capture run.
type Status string

// Run statuses.
const (
	StatusSuccess         Status = "success"
	StatusTimedOut        Status = "timed-out"
	StatusDeviceError     Status = "device-error"
	StatusAllocationError Status = "allocation-error"
	StatusConfigError     Status = "config-error"
	StatusCancelled       Status = "cancelled"
)

// StatusOf classifies an error returned by Loop.Run or Session.Run.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrAllocation):
		return StatusAllocationError
	case errors.Is(err, ErrConfig):
		return StatusConfigError
	case errors.Is(err, ErrTimeout):
		return StatusTimedOut
	case errors.Is(err, ErrDevice):
		return StatusDeviceError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCancelled
	default:
		return StatusDeviceError
	}
}

// ExitCode maps a status to a process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusTimedOut:
		return 2
	case StatusDeviceError:
		return 3
	case StatusAllocationError:
		return 4
	case StatusConfigError:
		return 5
	case StatusCancelled:
		return 130
	default:
		return 1
	}
}

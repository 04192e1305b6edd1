//go:build linux

package dmabuf

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBacking is returned by operations on a buffer that was closed.
	ErrNoBacking = errors.New("dmabuf: buffer has no backing memory")
	// ErrAlreadyMapped is returned by Map while a previous mapping is open.
	ErrAlreadyMapped = errors.New("dmabuf: buffer is already mapped")
	// ErrUnsupportedFormat is returned for fourcc codes Layout does not know.
	ErrUnsupportedFormat = errors.New("dmabuf: unsupported pixel format")
	// ErrInvalidSize is returned for zero or inconsistent dimensions.
	ErrInvalidSize = errors.New("dmabuf: invalid buffer size")
	// ErrUnknownAllocator is returned by NewAllocator for unrecognised names.
	ErrUnknownAllocator = errors.New("dmabuf: unknown allocator")
)

// AllocationError reports a failed allocation.
type AllocationError struct {
	Allocator string
	Spec      Spec
	Err       error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("dmabuf: %s allocation of %dx%d %s (%d bytes) failed: %v",
		e.Allocator, e.Spec.Width, e.Spec.Height, fourccString(e.Spec.FourCC), e.Spec.Size, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// MapError reports a failed CPU mapping.
type MapError struct {
	FD  int
	Err error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("dmabuf: map fd %d: %v", e.FD, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

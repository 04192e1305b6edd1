//go:build linux

package dmabuf

import (
	"golang.org/x/sys/unix"
)

const memfdName = "dmacap"

// MemfdAllocator backs buffers with anonymous memfd files. The descriptors
// can be mapped but not imported by a device.
type MemfdAllocator struct{}

// NewMemfdAllocator returns a memfd allocator. It holds no resources.
func NewMemfdAllocator() *MemfdAllocator { return &MemfdAllocator{} }

// Name implements Allocator.
func (*MemfdAllocator) Name() string { return "memfd" }

// Allocate implements Allocator.
func (a *MemfdAllocator) Allocate(spec Spec) (*Buffer, error) {
	spec, err := spec.resolve()
	if err != nil {
		return nil, &AllocationError{Allocator: a.Name(), Spec: spec, Err: err}
	}
	fd, err := createMemfd(spec.Size)
	if err != nil {
		return nil, &AllocationError{Allocator: a.Name(), Spec: spec, Err: err}
	}
	return newBuffer(fd, spec, a.Name()), nil
}

// Close implements Allocator.
func (*MemfdAllocator) Close() error { return nil }

func createMemfd(size int) (int, error) {
	fd, err := unix.MemfdCreate(memfdName, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

//go:build linux

package dmabuf

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const udmabufPath = "/dev/udmabuf"

// UdmabufAllocator exports sealed memfd pages as dma-bufs through
// /dev/udmabuf.
type UdmabufAllocator struct {
	fd int
}

// NewUdmabufAllocator opens /dev/udmabuf.
func NewUdmabufAllocator() (*UdmabufAllocator, error) {
	fd, err := unix.Open(udmabufPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", udmabufPath, err)
	}
	return &UdmabufAllocator{fd: fd}, nil
}

// Name implements Allocator.
func (*UdmabufAllocator) Name() string { return "udmabuf" }

// Allocate implements Allocator.
func (a *UdmabufAllocator) Allocate(spec Spec) (*Buffer, error) {
	spec, err := spec.resolve()
	if err != nil {
		return nil, &AllocationError{Allocator: a.Name(), Spec: spec, Err: err}
	}
	if a.fd < 0 {
		return nil, &AllocationError{Allocator: a.Name(), Spec: spec, Err: unix.EBADF}
	}

	// udmabuf only accepts whole pages
	size := align(spec.Size, os.Getpagesize())
	memfd, err := createMemfd(size)
	if err != nil {
		return nil, &AllocationError{Allocator: a.Name(), Spec: spec, Err: err}
	}
	// the exported dma-buf holds its own reference to the pages
	defer unix.Close(memfd)

	if _, err := unix.FcntlInt(uintptr(memfd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK); err != nil {
		return nil, &AllocationError{Allocator: a.Name(), Spec: spec, Err: fmt.Errorf("seal memfd: %w", err)}
	}

	create := udmabufCreate{
		memfd: uint32(memfd),
		flags: udmabufFlagsCloexec,
		size:  uint64(size),
	}
	var fd int
	for {
		fd, err = ioctl(a.fd, udmabufIoctlCreate, unsafe.Pointer(&create))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, &AllocationError{Allocator: a.Name(), Spec: spec, Err: err}
	}
	return newBuffer(fd, spec, a.Name()), nil
}

// Close implements Allocator.
func (a *UdmabufAllocator) Close() error {
	if a.fd < 0 {
		return nil
	}
	err := unix.Close(a.fd)
	a.fd = -1
	return err
}

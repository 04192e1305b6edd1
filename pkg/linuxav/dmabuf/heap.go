//go:build linux

package dmabuf

import (
	"fmt"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const dmaHeapDir = "/dev/dma_heap"

// HeapAllocator allocates from a kernel DMA heap.
type HeapAllocator struct {
	name string
	fd   int
}

// NewHeapAllocator opens /dev/dma_heap/<heap>.
func NewHeapAllocator(heap string) (*HeapAllocator, error) {
	if heap == "" || strings.ContainsRune(heap, '/') {
		return nil, fmt.Errorf("%w: heap %q", ErrUnknownAllocator, heap)
	}
	path := filepath.Join(dmaHeapDir, heap)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &HeapAllocator{name: "heap:" + heap, fd: fd}, nil
}

// Name implements Allocator.
func (a *HeapAllocator) Name() string { return a.name }

// Allocate implements Allocator.
func (a *HeapAllocator) Allocate(spec Spec) (*Buffer, error) {
	spec, err := spec.resolve()
	if err != nil {
		return nil, &AllocationError{Allocator: a.name, Spec: spec, Err: err}
	}
	if a.fd < 0 {
		return nil, &AllocationError{Allocator: a.name, Spec: spec, Err: unix.EBADF}
	}

	data := dmaHeapAllocationData{
		length:  uint64(spec.Size),
		fdFlags: unix.O_RDWR | unix.O_CLOEXEC,
	}
	for {
		_, err = ioctl(a.fd, dmaHeapIoctlAlloc, unsafe.Pointer(&data))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, &AllocationError{Allocator: a.name, Spec: spec, Err: err}
	}
	return newBuffer(int(data.fd), spec, a.name), nil
}

// Close implements Allocator.
func (a *HeapAllocator) Close() error {
	if a.fd < 0 {
		return nil
	}
	err := unix.Close(a.fd)
	a.fd = -1
	return err
}

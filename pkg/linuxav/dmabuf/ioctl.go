//go:build linux

package dmabuf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

// dmaHeapAllocationData mirrors struct dma_heap_allocation_data (24 bytes).
type dmaHeapAllocationData struct {
	length    uint64
	fd        uint32
	fdFlags   uint32
	heapFlags uint64
}

// udmabufCreate mirrors struct udmabuf_create (24 bytes).
type udmabufCreate struct {
	memfd  uint32
	flags  uint32
	offset uint64
	size   uint64
}

// dmaBufSync mirrors struct dma_buf_sync.
type dmaBufSync struct {
	flags uint64
}

var (
	_ [24]byte = [unsafe.Sizeof(dmaHeapAllocationData{})]byte{}
	_ [24]byte = [unsafe.Sizeof(udmabufCreate{})]byte{}
	_ [8]byte  = [unsafe.Sizeof(dmaBufSync{})]byte{}
)

var (
	dmaHeapIoctlAlloc  = ioc(iocRead|iocWrite, 'H', 0, unsafe.Sizeof(dmaHeapAllocationData{}))
	udmabufIoctlCreate = ioc(iocWrite, 'u', 0x42, unsafe.Sizeof(udmabufCreate{}))
	dmaBufIoctlSync    = ioc(iocWrite, 'b', 0, unsafe.Sizeof(dmaBufSync{}))
)

// DMA_BUF_IOCTL_SYNC flags.
const (
	dmaBufSyncRead  = 1 << 0
	dmaBufSyncStart = 0 << 2
	dmaBufSyncEnd   = 1 << 2
)

const udmabufFlagsCloexec = 0x01

// ioctl issues the request and returns the syscall's result value, which
// some allocation ioctls use to return a new file descriptor.
func ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return -1, errno
	}
	return int(r), nil
}

func syncRead(fd int, flags uint64) error {
	s := dmaBufSync{flags: flags | dmaBufSyncRead}
	for {
		_, err := ioctl(fd, dmaBufIoctlSync, unsafe.Pointer(&s))
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return err
	}
}

//go:build linux

package dmabuf

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Buffer is one allocated memory region with a stable exported descriptor.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	fd        int
	size      int
	stride    int
	width     int
	height    int
	fourcc    uint32
	usage     Usage
	allocator string
	mapping   *Mapping
	closed    bool
}

func newBuffer(fd int, spec Spec, allocator string) *Buffer {
	return &Buffer{
		fd:        fd,
		size:      spec.Size,
		stride:    spec.Stride,
		width:     spec.Width,
		height:    spec.Height,
		fourcc:    spec.FourCC,
		usage:     spec.Usage,
		allocator: allocator,
	}
}

// FD returns the exported descriptor. It is the same value for the whole
// lifetime of the buffer.
func (b *Buffer) FD() (int, error) {
	if b.closed {
		return -1, ErrNoBacking
	}
	return b.fd, nil
}

// Width returns the image width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the image height in pixels.
func (b *Buffer) Height() int { return b.height }

// Stride returns the length of one scanline in bytes.
func (b *Buffer) Stride() int { return b.stride }

// Size returns the buffer length in bytes.
func (b *Buffer) Size() int { return b.size }

// FourCC returns the pixel format the buffer was sized for.
func (b *Buffer) FourCC() uint32 { return b.fourcc }

// Usage returns the usage flags given at allocation.
func (b *Buffer) Usage() Usage { return b.usage }

// Allocator returns the name of the allocator that created the buffer.
func (b *Buffer) Allocator() string { return b.allocator }

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool { return b.closed }

// Mapped reports whether a CPU mapping is currently open.
func (b *Buffer) Mapped() bool { return b.mapping != nil }

// Map establishes a read-only CPU view of the buffer. The caller must not
// map a buffer the device is still writing to.
func (b *Buffer) Map() (*Mapping, error) {
	if b.closed {
		return nil, ErrNoBacking
	}
	if b.mapping != nil {
		return nil, ErrAlreadyMapped
	}

	data, err := unix.Mmap(b.fd, 0, b.size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &MapError{FD: b.fd, Err: err}
	}

	m := &Mapping{Data: data, Stride: b.stride, buf: b, synced: true}
	if err := syncRead(b.fd, dmaBufSyncStart); err != nil {
		if !errors.Is(err, unix.ENOTTY) {
			_ = unix.Munmap(data)
			return nil, &MapError{FD: b.fd, Err: err}
		}
		// memfd and other non dma-buf descriptors have no sync ioctl
		m.synced = false
	}

	b.mapping = m
	return m, nil
}

// Close unmaps any open mapping and releases the memory. The exported
// descriptor is invalid afterwards. Close is idempotent.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	var errs []error
	if b.mapping != nil {
		errs = append(errs, b.mapping.Close())
	}
	b.closed = true
	errs = append(errs, unix.Close(b.fd))
	return errors.Join(errs...)
}

// Mapping is an open CPU view of a Buffer.
type Mapping struct {
	Data   []byte
	Stride int

	buf    *Buffer
	synced bool
}

// Close ends CPU access and unmaps the memory. Data must not be used after
// Close returns.
func (m *Mapping) Close() error {
	if m.buf == nil {
		return nil
	}
	var errs []error
	if m.synced {
		errs = append(errs, syncRead(m.buf.fd, dmaBufSyncEnd))
	}
	errs = append(errs, unix.Munmap(m.Data))
	m.buf.mapping = nil
	m.buf = nil
	m.Data = nil
	return errors.Join(errs...)
}

//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 capture node using DMA-BUF streaming I/O.
// A Device is not safe for concurrent use.
type Device struct {
	path string
	fd   int
}

// Open opens a capture node in non-blocking mode.
func Open(path string) (*Device, error) {
	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{path: path, fd: fd}, nil
}

// Path returns the device node path.
func (d *Device) Path() string { return d.path }

// Close closes the device node. The driver releases any buffers still
// registered.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := close(d.fd)
	d.fd = -1
	return err
}

// QueryCapabilities issues VIDIOC_QUERYCAP.
func (d *Device) QueryCapabilities() (Capabilities, error) {
	if d.fd < 0 {
		return Capabilities{}, ErrClosed
	}
	return queryCapabilities(d.fd)
}

// RequireCapture returns an error unless the node supports single-planar
// capture with streaming I/O.
func (d *Device) RequireCapture() (Capabilities, error) {
	caps, err := d.QueryCapabilities()
	if err != nil {
		return caps, err
	}
	if !caps.CanCapture() {
		return caps, fmt.Errorf("%s: %w", d.path, ErrNotCapture)
	}
	if !caps.CanStream() {
		return caps, fmt.Errorf("%s: %w", d.path, ErrNotStreaming)
	}
	return caps, nil
}

// SetFormat requests a capture format with VIDIOC_S_FMT and returns what
// the driver actually configured, read back with VIDIOC_G_FMT. Drivers may
// adjust any field.
func (d *Device) SetFormat(f Format) (Format, error) {
	if d.fd < 0 {
		return Format{}, ErrClosed
	}
	field := f.Field
	if field == FieldAny {
		field = FieldNone
	}
	req := v4l2Format{typ: v4l2BufTypeVideoCapture}
	req.pix = v4l2PixFormat{
		width:        f.Width,
		height:       f.Height,
		pixelformat:  f.PixelFormat,
		field:        field,
		bytesperline: f.BytesPerLine,
		sizeimage:    f.SizeImage,
		colorspace:   f.Colorspace,
	}
	if err := ioctlRetry(d.fd, vidiocSFmt, unsafe.Pointer(&req)); err != nil {
		return Format{}, fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	return d.GetFormat()
}

// GetFormat issues VIDIOC_G_FMT.
func (d *Device) GetFormat() (Format, error) {
	if d.fd < 0 {
		return Format{}, ErrClosed
	}
	cur := v4l2Format{typ: v4l2BufTypeVideoCapture}
	if err := ioctlRetry(d.fd, vidiocGFmt, unsafe.Pointer(&cur)); err != nil {
		return Format{}, fmt.Errorf("VIDIOC_G_FMT: %w", err)
	}
	return Format{
		Width:        cur.pix.width,
		Height:       cur.pix.height,
		PixelFormat:  cur.pix.pixelformat,
		Field:        cur.pix.field,
		BytesPerLine: cur.pix.bytesperline,
		SizeImage:    cur.pix.sizeimage,
		Colorspace:   cur.pix.colorspace,
	}, nil
}

// RequestBuffers registers count DMA-BUF slots with the driver and returns
// the number it granted. A count of zero releases all slots.
func (d *Device) RequestBuffers(count int) (int, error) {
	if d.fd < 0 {
		return 0, ErrClosed
	}
	req := v4l2RequestBuffers{
		count:  uint32(count),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryDMABuf,
	}
	if err := ioctlRetry(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS(%d): %w", count, err)
	}
	return int(req.count), nil
}

// QueueDMABuf hands slot index to the driver with fd as its backing memory.
// The plane length is taken from the dma-buf itself.
func (d *Device) QueueDMABuf(index, fd int) error {
	if d.fd < 0 {
		return ErrClosed
	}
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryDMABuf,
	}
	buf.setFD(fd)
	if err := ioctlRetry(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF(%d): %w", index, err)
	}
	return nil
}

// DequeueBuffer takes the next filled buffer from the driver. On a
// non-blocking node it returns unix.EAGAIN when nothing is ready.
func (d *Device) DequeueBuffer() (BufferInfo, error) {
	if d.fd < 0 {
		return BufferInfo{}, ErrClosed
	}
	buf := v4l2Buffer{
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryDMABuf,
	}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		return BufferInfo{}, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return BufferInfo{
		Index:     buf.index,
		BytesUsed: buf.bytesused,
		Flags:     buf.flags,
		Field:     buf.field,
		Sequence:  buf.sequence,
		Timestamp: time.Duration(buf.timestamp.Nano()),
		FD:        buf.fd(),
	}, nil
}

// QueryBuffer reports the driver's view of slot index. Flags carries
// BufFlagQueued while the driver owns the slot.
func (d *Device) QueryBuffer(index int) (BufferInfo, error) {
	if d.fd < 0 {
		return BufferInfo{}, ErrClosed
	}
	buf := v4l2Buffer{
		index:  uint32(index),
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryDMABuf,
	}
	if err := ioctlRetry(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return BufferInfo{}, fmt.Errorf("VIDIOC_QUERYBUF(%d): %w", index, err)
	}
	return BufferInfo{
		Index:     buf.index,
		BytesUsed: buf.bytesused,
		Flags:     buf.flags,
		Field:     buf.field,
		Sequence:  buf.sequence,
		Timestamp: time.Duration(buf.timestamp.Nano()),
		FD:        buf.fd(),
	}, nil
}

// StreamOn starts capture.
func (d *Device) StreamOn() error {
	return d.stream(vidiocStreamon, "VIDIOC_STREAMON")
}

// StreamOff stops capture. The driver returns every queued buffer to the
// application without filling it.
func (d *Device) StreamOff() error {
	return d.stream(vidiocStreamoff, "VIDIOC_STREAMOFF")
}

func (d *Device) stream(req uint, name string) error {
	if d.fd < 0 {
		return ErrClosed
	}
	typ := int32(v4l2BufTypeVideoCapture)
	if err := ioctlRetry(d.fd, req, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// WaitReadable blocks until a filled buffer can be dequeued or timeout
// elapses. It returns false with a nil error on timeout. POLLERR and
// POLLHUP are reported as ErrPollError.
func (d *Device) WaitReadable(timeout time.Duration) (bool, error) {
	if d.fd < 0 {
		return false, ErrClosed
	}
	return waitReadable(d.fd, timeout)
}

func waitReadable(fd int, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		// round up so a sub-millisecond remainder still waits
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				if time.Now().Before(deadline) {
					continue
				}
				return false, nil
			}
			return false, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return false, nil
		}

		revents := fds[0].Revents
		if revents&unix.POLLIN != 0 {
			return true, nil
		}
		if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return false, fmt.Errorf("%w (revents %#x)", ErrPollError, revents)
		}
	}
}

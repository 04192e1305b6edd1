package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/dmacap/pkg/linuxav/dmabuf"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
	"golang.org/x/sys/unix"
)

type queuedBuffer struct {
	index int
	fd    int
}

// fakeDevice is an in-memory capture queue. Completed buffers are filled
// with their sequence number so consumers can check what they read.
type fakeDevice struct {
	mu sync.Mutex

	caps         v4l2.Capabilities
	signal       v4l2.SignalStatus
	formatAdjust func(v4l2.Format) v4l2.Format
	grant        int // buffers granted by REQBUFS; 0 grants what was asked

	setFormatErr error
	reqbufsErr   error
	qbufErr      error
	streamOnErr  error
	streamOffErr error
	dqbufErr     error
	pollErr      error
	querybufErr  error

	// hang keeps every buffer queued; pick chooses which queued buffer
	// completes next (FIFO when nil).
	hang      bool
	pick      func(queued []queuedBuffer) int
	flags     func(seq uint32) uint32
	bytesUsed func(seq uint32, format v4l2.Format) uint32
	bogus     int // returned as index when >= 0
	fill      bool
	onQueue   func(index int)

	format     v4l2.Format
	slots      int
	queued     []queuedBuffer
	fds        map[int]int
	fdChanged  bool
	streaming  bool
	seq        uint32
	streamOns  int
	streamOffs int
	reqbufs    []int
	qbufs      []int
	minQueued  int // fewest queued buffers seen at a wait after the first frame
	waits      int
	closed     bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		caps:      v4l2.Capabilities{Driver: "fake", Card: "Fake Capture", Capabilities: v4l2.CapVideoCapture | v4l2.CapStreaming},
		bogus:     -1,
		fill:      true,
		fds:       make(map[int]int),
		minQueued: -1,
	}
}

func (d *fakeDevice) RequireCapture() (v4l2.Capabilities, error) {
	if !d.caps.CanCapture() {
		return d.caps, v4l2.ErrNotCapture
	}
	if !d.caps.CanStream() {
		return d.caps, v4l2.ErrNotStreaming
	}
	return d.caps, nil
}

func (d *fakeDevice) RequireSignal() (v4l2.SignalStatus, error) {
	if !d.signal.Ready() {
		return d.signal, fmt.Errorf("%w: %s", v4l2.ErrNoSignal, d.signal.State)
	}
	return d.signal, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) SetFormat(f v4l2.Format) (v4l2.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setFormatErr != nil {
		return v4l2.Format{}, fmt.Errorf("VIDIOC_S_FMT: %w", d.setFormatErr)
	}
	if d.formatAdjust != nil {
		f = d.formatAdjust(f)
	}
	if f.BytesPerLine == 0 || f.SizeImage == 0 {
		stride, size, err := dmabuf.Layout(f.PixelFormat, int(f.Width), int(f.Height))
		if err != nil {
			return v4l2.Format{}, fmt.Errorf("VIDIOC_S_FMT: %w", unix.EINVAL)
		}
		f.BytesPerLine = uint32(stride)
		f.SizeImage = uint32(size)
	}
	d.format = f
	return f, nil
}

func (d *fakeDevice) RequestBuffers(count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqbufs = append(d.reqbufs, count)
	if d.reqbufsErr != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS(%d): %w", count, d.reqbufsErr)
	}
	if d.streaming && count == 0 {
		return 0, fmt.Errorf("VIDIOC_REQBUFS(0): %w", unix.EBUSY)
	}
	if count > 0 && d.grant > 0 {
		count = d.grant
	}
	d.slots = count
	d.queued = nil
	return count, nil
}

func (d *fakeDevice) QueueDMABuf(index, fd int) error {
	d.mu.Lock()
	if d.qbufErr != nil {
		d.mu.Unlock()
		return fmt.Errorf("VIDIOC_QBUF(%d): %w", index, d.qbufErr)
	}
	if index >= d.slots {
		d.mu.Unlock()
		return fmt.Errorf("VIDIOC_QBUF(%d): %w", index, unix.EINVAL)
	}
	for _, q := range d.queued {
		if q.index == index {
			d.mu.Unlock()
			return fmt.Errorf("VIDIOC_QBUF(%d): %w", index, unix.EINVAL)
		}
	}
	if prev, ok := d.fds[index]; ok && prev != fd {
		d.fdChanged = true
	}
	d.fds[index] = fd
	d.queued = append(d.queued, queuedBuffer{index: index, fd: fd})
	d.qbufs = append(d.qbufs, index)
	onQueue := d.onQueue
	d.mu.Unlock()

	if onQueue != nil {
		onQueue(index)
	}
	return nil
}

func (d *fakeDevice) DequeueBuffer() (v4l2.BufferInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dqbufErr != nil {
		return v4l2.BufferInfo{}, fmt.Errorf("VIDIOC_DQBUF: %w", d.dqbufErr)
	}
	if !d.streaming || len(d.queued) == 0 || d.hang {
		return v4l2.BufferInfo{}, fmt.Errorf("VIDIOC_DQBUF: %w", unix.EAGAIN)
	}

	pos := 0
	if d.pick != nil {
		pos = d.pick(d.queued)
	}
	buf := d.queued[pos]
	d.queued = append(d.queued[:pos], d.queued[pos+1:]...)

	seq := d.seq
	d.seq++

	used := d.format.SizeImage
	if d.bytesUsed != nil {
		used = d.bytesUsed(seq, d.format)
	}
	if d.fill && used > 0 {
		payload := make([]byte, int(used))
		for i := range payload {
			payload[i] = byte(seq)
		}
		if _, err := unix.Pwrite(buf.fd, payload, 0); err != nil {
			return v4l2.BufferInfo{}, fmt.Errorf("fill buffer %d: %w", buf.index, err)
		}
	}

	flags := uint32(v4l2.BufFlagDone)
	if d.flags != nil {
		flags |= d.flags(seq)
	}
	index := uint32(buf.index)
	if d.bogus >= 0 {
		index = uint32(d.bogus)
	}
	return v4l2.BufferInfo{
		Index:     index,
		BytesUsed: used,
		Flags:     flags,
		Sequence:  seq,
		Timestamp: time.Duration(seq) * 33 * time.Millisecond,
		FD:        buf.fd,
	}, nil
}

func (d *fakeDevice) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamOns++
	if d.streamOnErr != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", d.streamOnErr)
	}
	d.streaming = true
	return nil
}

func (d *fakeDevice) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamOffs++
	if d.streamOffErr != nil {
		// the driver keeps streaming and holds on to its buffers
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", d.streamOffErr)
	}
	d.streaming = false
	d.queued = nil
	return nil
}

func (d *fakeDevice) QueryBuffer(index int) (v4l2.BufferInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.querybufErr != nil {
		return v4l2.BufferInfo{}, fmt.Errorf("VIDIOC_QUERYBUF(%d): %w", index, d.querybufErr)
	}
	if index < 0 || index >= d.slots {
		return v4l2.BufferInfo{}, fmt.Errorf("VIDIOC_QUERYBUF(%d): %w", index, unix.EINVAL)
	}
	info := v4l2.BufferInfo{Index: uint32(index), FD: d.fds[index]}
	for _, q := range d.queued {
		if q.index == index {
			info.Flags |= v4l2.BufFlagQueued
		}
	}
	return info, nil
}

func (d *fakeDevice) WaitReadable(timeout time.Duration) (bool, error) {
	d.mu.Lock()
	if d.pollErr != nil {
		d.mu.Unlock()
		return false, d.pollErr
	}
	if !d.streaming {
		d.mu.Unlock()
		return false, errors.New("poll on idle queue")
	}
	if d.seq > 0 && (d.minQueued < 0 || len(d.queued) < d.minQueued) {
		d.minQueued = len(d.queued)
	}
	d.waits++
	idle := d.hang || len(d.queued) == 0
	d.mu.Unlock()

	if idle {
		time.Sleep(timeout)
		return false, nil
	}
	return true, nil
}

func (d *fakeDevice) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued)
}

// failingAllocator hands out memfd buffers and fails the allocation at
// position failAt. It remembers every buffer it returned.
type failingAllocator struct {
	inner  *dmabuf.MemfdAllocator
	failAt int
	calls  int
	made   []*dmabuf.Buffer
	closed bool
}

func (a *failingAllocator) Allocate(spec dmabuf.Spec) (*dmabuf.Buffer, error) {
	defer func() { a.calls++ }()
	if a.calls == a.failAt {
		return nil, &dmabuf.AllocationError{Allocator: a.Name(), Spec: spec, Err: unix.ENOMEM}
	}
	buf, err := a.inner.Allocate(spec)
	if err != nil {
		return nil, err
	}
	a.made = append(a.made, buf)
	return buf, nil
}

func (a *failingAllocator) Name() string { return "failing" }

func (a *failingAllocator) Close() error {
	a.closed = true
	return nil
}

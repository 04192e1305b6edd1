package capture

import (
	"errors"
	"fmt"

	"github.com/smazurov/dmacap/pkg/linuxav/dmabuf"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
)

// Pool owns a fixed set of buffers, all sized for one negotiated format.
// The position of a buffer in the pool is its capture slot index.
type Pool struct {
	buffers []*dmabuf.Buffer
	format  v4l2.Format
	closed  bool
}

// NewPool allocates exactly count buffers for format. If any allocation
// fails the buffers allocated so far are released and the returned error
// wraps ErrAllocation.
func NewPool(alloc dmabuf.Allocator, format v4l2.Format, count int, usage dmabuf.Usage) (*Pool, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: pool size %d", ErrAllocation, count)
	}

	spec := dmabuf.Spec{
		Width:  int(format.Width),
		Height: int(format.Height),
		FourCC: format.PixelFormat,
		Stride: int(format.BytesPerLine),
		Size:   int(format.SizeImage),
		Usage:  usage,
	}

	p := &Pool{
		buffers: make([]*dmabuf.Buffer, 0, count),
		format:  format,
	}
	for i := range count {
		buf, err := alloc.Allocate(spec)
		if err != nil {
			closeErr := p.Close()
			return nil, errors.Join(fmt.Errorf("%w: buffer %d of %d: %w", ErrAllocation, i, count, err), closeErr)
		}
		p.buffers = append(p.buffers, buf)
	}
	return p, nil
}

// Len returns the number of buffers.
func (p *Pool) Len() int { return len(p.buffers) }

// Format returns the format the buffers were sized for.
func (p *Pool) Format() v4l2.Format { return p.format }

// Get returns the buffer at index.
func (p *Pool) Get(index int) (*dmabuf.Buffer, error) {
	if index < 0 || index >= len(p.buffers) {
		return nil, fmt.Errorf("%w: %d (pool has %d)", ErrIndexOutOfRange, index, len(p.buffers))
	}
	return p.buffers[index], nil
}

// Close releases every buffer. It is idempotent and tolerates buffers that
// were never allocated.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for i, buf := range p.buffers {
		if buf == nil {
			continue
		}
		if err := buf.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close buffer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
	"golang.org/x/sys/unix"
)

// Device is the kernel capture queue the Queue drives. *v4l2.Device
// implements it.
type Device interface {
	SetFormat(f v4l2.Format) (v4l2.Format, error)
	RequestBuffers(count int) (int, error)
	QueueDMABuf(index, fd int) error
	DequeueBuffer() (v4l2.BufferInfo, error)
	QueryBuffer(index int) (v4l2.BufferInfo, error)
	StreamOn() error
	StreamOff() error
	WaitReadable(timeout time.Duration) (bool, error)
}

// SlotState is the ownership state of one buffer slot.
type SlotState int

// Slot states.
const (
	// SlotFree means the application owns the buffer and it is not queued.
	SlotFree SlotState = iota
	// SlotQueued means the device owns the buffer and may write to it.
	SlotQueued
	// SlotFilled means the device finished writing and the application
	// owns the buffer until Claim.
	SlotFilled
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotQueued:
		return "queued"
	case SlotFilled:
		return "filled"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

// Filled describes a slot the device has finished writing.
type Filled struct {
	Index int
	// BytesUsed is negative on 32-bit builds when the driver reports
	// 2 GiB or more.
	BytesUsed int
	Sequence  uint32
	Timestamp time.Duration
	Flags     uint32
	// Corrupt is set when the driver flagged the frame with
	// V4L2_BUF_FLAG_ERROR; the data may be partially written.
	Corrupt bool
}

// Queue tracks slot ownership between the application and the device.
// It is driven by a single goroutine.
type Queue struct {
	dev       Device
	logger    *slog.Logger
	format    v4l2.Format
	slots     []SlotState
	queued    int
	filled    int
	started   bool
	streaming bool
	// stranded is how many slots were queued when STREAMOFF last failed.
	stranded int
}

// NewQueue wraps dev. Configure must be called before buffers are submitted.
func NewQueue(dev Device, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{dev: dev, logger: logger, filled: -1}
}

// Configure negotiates the capture format and registers count DMA-BUF slots.
// The format the driver settled on is available from Format afterwards.
func (q *Queue) Configure(format v4l2.Format, count int) error {
	if q.slots != nil {
		return fmt.Errorf("%w: queue already configured", ErrConfig)
	}
	if count < 1 {
		return fmt.Errorf("%w: buffer count %d", ErrConfig, count)
	}

	negotiated, err := q.dev.SetFormat(format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if negotiated.Width != format.Width || negotiated.Height != format.Height || negotiated.PixelFormat != format.PixelFormat {
		q.logger.Warn("Driver adjusted capture format",
			"requested", formatString(format),
			"negotiated", formatString(negotiated))
	}

	granted, err := q.dev.RequestBuffers(count)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if granted != count {
		if _, relErr := q.dev.RequestBuffers(0); relErr != nil {
			q.logger.Warn("Failed to release partially granted buffers", "error", relErr)
		}
		return fmt.Errorf("%w: driver granted %d of %d buffers", ErrConfig, granted, count)
	}

	q.format = negotiated
	q.slots = make([]SlotState, count)
	q.logger.Debug("Capture queue configured", "format", formatString(negotiated), "buffers", count)
	return nil
}

// Format returns the negotiated format.
func (q *Queue) Format() v4l2.Format { return q.format }

// Len returns the number of slots.
func (q *Queue) Len() int { return len(q.slots) }

// Queued returns the number of slots currently owned by the device.
func (q *Queue) Queued() int { return q.queued }

// Streaming reports whether the device is streaming.
func (q *Queue) Streaming() bool { return q.streaming }

// State returns the state of slot index.
func (q *Queue) State(index int) (SlotState, error) {
	if index < 0 || index >= len(q.slots) {
		return SlotFree, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return q.slots[index], nil
}

// Submit hands a free slot to the device with fd as its memory.
func (q *Queue) Submit(index, fd int) error {
	if q.slots == nil {
		return fmt.Errorf("%w: queue not configured", ErrInvalidState)
	}
	if index < 0 || index >= len(q.slots) {
		return fmt.Errorf("%w: %d (queue has %d)", ErrIndexOutOfRange, index, len(q.slots))
	}
	if q.slots[index] != SlotFree {
		return fmt.Errorf("%w: submit slot %d in state %s", ErrInvalidState, index, q.slots[index])
	}
	if err := q.dev.QueueDMABuf(index, fd); err != nil {
		return fmt.Errorf("%w: slot %d: %w", ErrSubmit, index, err)
	}
	q.slots[index] = SlotQueued
	q.queued++
	return nil
}

// Start begins streaming. At least one slot must be queued and Start may
// only be called once.
func (q *Queue) Start() error {
	if q.started {
		return fmt.Errorf("%w: already started", ErrStart)
	}
	if q.queued == 0 {
		return fmt.Errorf("%w: no buffers queued", ErrStart)
	}
	if err := q.dev.StreamOn(); err != nil {
		return fmt.Errorf("%w: %w", ErrStart, err)
	}
	q.started = true
	q.streaming = true
	return nil
}

// WaitFilled blocks until the device completes a queued slot or timeout
// elapses. On ErrTimeout no slot changes state. Any ErrDevice leaves the
// queue unusable; the caller must Stop and Release it.
func (q *Queue) WaitFilled(timeout time.Duration) (Filled, error) {
	if !q.streaming {
		return Filled{}, fmt.Errorf("%w: queue not streaming", ErrInvalidState)
	}
	if q.filled >= 0 {
		return Filled{}, fmt.Errorf("%w: slot %d is still unclaimed", ErrInvalidState, q.filled)
	}
	if q.queued == 0 {
		return Filled{}, fmt.Errorf("%w: no buffers queued", ErrInvalidState)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		ready, err := q.dev.WaitReadable(remaining)
		if err != nil {
			return Filled{}, fmt.Errorf("%w: %w", ErrDevice, err)
		}
		if !ready {
			return Filled{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		info, err := q.dev.DequeueBuffer()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				if time.Now().Before(deadline) {
					continue
				}
				return Filled{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return Filled{}, fmt.Errorf("%w: %w", ErrDevice, err)
		}

		index := int(info.Index)
		if index >= len(q.slots) {
			return Filled{}, fmt.Errorf("%w: driver returned slot %d of %d", ErrDevice, index, len(q.slots))
		}
		if q.slots[index] != SlotQueued {
			return Filled{}, fmt.Errorf("%w: driver returned slot %d in state %s", ErrDevice, index, q.slots[index])
		}

		q.slots[index] = SlotFilled
		q.queued--
		q.filled = index
		return Filled{
			Index:     index,
			BytesUsed: int(info.BytesUsed),
			Sequence:  info.Sequence,
			Timestamp: info.Timestamp,
			Flags:     info.Flags,
			Corrupt:   info.Flags&v4l2.BufFlagError != 0,
		}, nil
	}
}

// Claim returns a filled slot to the application so it can be resubmitted.
func (q *Queue) Claim(index int) error {
	if index < 0 || index >= len(q.slots) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if q.slots[index] != SlotFilled {
		return fmt.Errorf("%w: claim slot %d in state %s", ErrInvalidState, index, q.slots[index])
	}
	q.slots[index] = SlotFree
	q.filled = -1
	return nil
}

// Stop ends streaming. The device gives up every queued slot, so all slots
// are free afterwards even if STREAMOFF reports an error; Pending then tells
// what the device really kept. Stop is idempotent.
func (q *Queue) Stop() error {
	var err error
	if q.streaming {
		if offErr := q.dev.StreamOff(); offErr != nil {
			err = fmt.Errorf("%w: %w", ErrDevice, offErr)
			q.stranded = q.queued
		}
		q.streaming = false
	}
	for i := range q.slots {
		q.slots[i] = SlotFree
	}
	q.queued = 0
	q.filled = -1
	return err
}

// Pending asks the device how many slots it still owns. When the device
// cannot be queried it falls back to the slots that were queued when
// STREAMOFF failed, and returns the query error alongside.
func (q *Queue) Pending() (int, error) {
	pending := 0
	for i := range q.slots {
		info, err := q.dev.QueryBuffer(i)
		if err != nil {
			return q.stranded, fmt.Errorf("%w: %w", ErrDevice, err)
		}
		if info.Flags&v4l2.BufFlagQueued != 0 {
			pending++
		}
	}
	return pending, nil
}

// Release stops the queue if needed and drops the driver's slot
// registrations. The queue must be configured again before reuse.
func (q *Queue) Release() error {
	if q.slots == nil {
		return nil
	}
	err := q.Stop()
	if _, relErr := q.dev.RequestBuffers(0); relErr != nil {
		err = errors.Join(err, fmt.Errorf("%w: %w", ErrDevice, relErr))
	}
	q.slots = nil
	q.started = false
	return err
}

func formatString(f v4l2.Format) string {
	return fmt.Sprintf("%dx%d %s stride=%d size=%d",
		f.Width, f.Height, v4l2.FormatFourCC(f.PixelFormat), f.BytesPerLine, f.SizeImage)
}

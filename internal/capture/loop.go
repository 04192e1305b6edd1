package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/dmacap/internal/events"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
)

// DefaultTimeout bounds each wait for a filled buffer.
const DefaultTimeout = 5 * time.Second

// Publisher receives capture events. *events.Bus implements it.
type Publisher interface {
	Publish(ev events.Event)
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	// FrameTarget is the number of completions to capture; 0 runs until the
	// context is cancelled.
	FrameTarget int
	// Timeout bounds each wait for a filled buffer. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxTimeouts is how many consecutive timeouts are tolerated before the
	// run fails. Zero makes the first timeout fatal.
	MaxTimeouts int
	// ValidateFrameSize drops frames whose payload does not match the
	// negotiated image size.
	ValidateFrameSize bool
	// Device labels logs and events.
	Device    string
	Logger    *slog.Logger
	Publisher Publisher
}

// Result summarises a finished run.
type Result struct {
	Status      Status
	Completions int
	Delivered   int
	Dropped     int
	Resubmitted int
	Timeouts    int
	// Leaked is the number of slots still owned by the device after
	// teardown. Anything but zero is a bug.
	Leaked int
}

// Stats is a point-in-time snapshot of a running loop.
type Stats struct {
	Running      bool   `json:"running"`
	Status       Status `json:"status,omitempty"`
	Completions  uint64 `json:"completions"`
	Delivered    uint64 `json:"delivered"`
	Dropped      uint64 `json:"dropped"`
	Resubmitted  uint64 `json:"resubmitted"`
	Timeouts     uint64 `json:"timeouts"`
	Queued       int    `json:"queued"`
	Held         int    `json:"held"`
	LastSequence uint32 `json:"last_sequence"`
}

type loopStats struct {
	running      atomic.Bool
	status       atomic.Value
	completions  atomic.Uint64
	delivered    atomic.Uint64
	dropped      atomic.Uint64
	resubmitted  atomic.Uint64
	timeouts     atomic.Uint64
	queued       atomic.Int64
	held         atomic.Int64
	lastSequence atomic.Uint32
}

// Loop recycles a pool of buffers through a queue, handing each filled
// buffer to a consumer. It holds back at most one buffer at a time: the
// frame delivered last is resubmitted only after the next one arrives.
type Loop struct {
	queue    *Queue
	pool     *Pool
	consumer Consumer
	opts     LoopOptions
	logger   *slog.Logger
	stats    loopStats
	ran      atomic.Bool
}

// NewLoop creates a loop over an already configured queue and a pool sized
// for the queue's format. Run takes ownership of both.
func NewLoop(queue *Queue, pool *Pool, consumer Consumer, opts LoopOptions) *Loop {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if consumer == nil {
		consumer = Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Device != "" {
		logger = logger.With("device", opts.Device)
	}
	return &Loop{
		queue:    queue,
		pool:     pool,
		consumer: consumer,
		opts:     opts,
		logger:   logger,
	}
}

// Stats returns a snapshot of the loop's counters. It is safe to call from
// any goroutine.
func (l *Loop) Stats() Stats {
	s := Stats{
		Running:      l.stats.running.Load(),
		Completions:  l.stats.completions.Load(),
		Delivered:    l.stats.delivered.Load(),
		Dropped:      l.stats.dropped.Load(),
		Resubmitted:  l.stats.resubmitted.Load(),
		Timeouts:     l.stats.timeouts.Load(),
		Queued:       int(l.stats.queued.Load()),
		Held:         int(l.stats.held.Load()),
		LastSequence: l.stats.lastSequence.Load(),
	}
	if st, ok := l.stats.status.Load().(Status); ok {
		s.Status = st
	}
	return s
}

// Run submits every buffer, starts streaming and recycles buffers until the
// frame target is reached, the context is cancelled or an error occurs. The
// queue is stopped and released and the pool closed on every path. Run may
// only be called once.
func (l *Loop) Run(ctx context.Context) (res Result, err error) {
	if !l.ran.CompareAndSwap(false, true) {
		return Result{Status: StatusDeviceError}, fmt.Errorf("%w: loop already ran", ErrInvalidState)
	}

	l.stats.running.Store(true)
	l.publishState(events.StateStarting, "")

	defer func() {
		if tdErr := l.teardown(&res); tdErr != nil {
			l.logger.Warn("Capture teardown reported errors", "error", tdErr)
			if err == nil {
				err = tdErr
			}
		}
		res.Status = StatusOf(err)
		l.stats.status.Store(res.Status)
		l.stats.running.Store(false)
		l.publishState(events.StateStopped, string(res.Status))
		if err != nil {
			l.logger.Error("Capture stopped", "status", res.Status, "error", err)
			l.publish(events.CaptureErrorEvent{
				Device:    l.opts.Device,
				Status:    string(res.Status),
				Error:     err.Error(),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		} else {
			l.logger.Info("Capture finished",
				"completions", res.Completions,
				"delivered", res.Delivered,
				"dropped", res.Dropped,
				"resubmitted", res.Resubmitted)
		}
	}()

	for i := range l.pool.Len() {
		if err := l.submit(i); err != nil {
			return res, err
		}
	}
	if err := l.queue.Start(); err != nil {
		return res, err
	}
	l.publishState(events.StateStreaming, "")
	l.logger.Info("Capture streaming",
		"buffers", l.pool.Len(),
		"format", formatString(l.queue.Format()),
		"frames", l.opts.FrameTarget)

	previous := -1
	consecutiveTimeouts := 0

	for l.opts.FrameTarget == 0 || res.Completions < l.opts.FrameTarget {
		if ctx.Err() != nil {
			return res, fmt.Errorf("capture stopped: %w", context.Cause(ctx))
		}

		// With a single buffer nothing is queued while one is held back.
		if l.queue.Queued() == 0 && previous >= 0 {
			if err := l.resubmit(previous, &res); err != nil {
				return res, err
			}
			previous = -1
			l.stats.held.Store(0)
		}

		filled, err := l.queue.WaitFilled(l.opts.Timeout)
		if errors.Is(err, ErrTimeout) {
			consecutiveTimeouts++
			res.Timeouts++
			l.stats.timeouts.Add(1)
			l.publish(events.CaptureTimeoutEvent{Device: l.opts.Device, Consecutive: consecutiveTimeouts})
			if consecutiveTimeouts > l.opts.MaxTimeouts {
				return res, err
			}
			l.logger.Warn("No frame within timeout, retrying",
				"timeout", l.opts.Timeout,
				"consecutive", consecutiveTimeouts)
			continue
		}
		if err != nil {
			return res, err
		}
		consecutiveTimeouts = 0

		res.Completions++
		l.stats.completions.Add(1)
		l.stats.lastSequence.Store(filled.Sequence)
		l.stats.queued.Store(int64(l.queue.Queued()))

		if reason, dropErr := l.deliver(ctx, filled); dropErr != nil {
			res.Dropped++
			l.stats.dropped.Add(1)
			l.logger.Warn("Dropped frame",
				"index", filled.Index,
				"sequence", filled.Sequence,
				"reason", reason,
				"error", dropErr)
			l.publish(events.FrameDroppedEvent{
				Device:   l.opts.Device,
				Index:    filled.Index,
				Sequence: filled.Sequence,
				Reason:   reason,
			})
		} else {
			res.Delivered++
			l.stats.delivered.Add(1)
		}

		if err := l.queue.Claim(filled.Index); err != nil {
			return res, err
		}
		if previous >= 0 {
			if err := l.resubmit(previous, &res); err != nil {
				return res, err
			}
		}
		previous = filled.Index
		l.stats.held.Store(1)
	}

	return res, nil
}

// Drop reasons.
const (
	dropCorrupt   = "corrupt"
	dropFrameSize = "frame-size"
	dropMap       = "map"
	dropConsumer  = "consumer"
)

// deliver maps the filled buffer and hands it to the consumer. A non-nil
// error means the frame was dropped; the buffer is recycled either way.
func (l *Loop) deliver(ctx context.Context, f Filled) (string, error) {
	if f.Corrupt {
		return dropCorrupt, fmt.Errorf("driver flagged frame %d as corrupt", f.Sequence)
	}

	format := l.queue.Format()
	if l.opts.ValidateFrameSize {
		if err := validateFrameSize(format, f.BytesUsed); err != nil {
			return dropFrameSize, err
		}
	}

	buf, err := l.pool.Get(f.Index)
	if err != nil {
		return dropMap, err
	}
	m, err := buf.Map()
	if err != nil {
		return dropMap, err
	}
	defer func() {
		if err := m.Close(); err != nil {
			l.logger.Warn("Failed to unmap buffer", "index", f.Index, "error", err)
		}
	}()

	length := f.BytesUsed
	if length < 0 || length > len(m.Data) {
		return dropFrameSize, fmt.Errorf("%w: %d bytes used in a %d byte buffer", ErrFrameSize, f.BytesUsed, len(m.Data))
	}

	l.logger.Debug("Frame captured",
		"index", f.Index,
		"sequence", f.Sequence,
		"width", format.Width,
		"height", format.Height,
		"stride", m.Stride,
		"bytes", length)

	start := time.Now()
	err = l.consumer.Consume(ctx, Frame{
		Data:      m.Data[:length],
		Length:    length,
		Stride:    m.Stride,
		Width:     int(format.Width),
		Height:    int(format.Height),
		FourCC:    format.PixelFormat,
		Sequence:  f.Sequence,
		Index:     f.Index,
		Timestamp: f.Timestamp,
	})
	if err != nil {
		return dropConsumer, err
	}

	l.publish(events.FrameCapturedEvent{
		Device:    l.opts.Device,
		Index:     f.Index,
		Sequence:  f.Sequence,
		BytesUsed: length,
		LatencyUs: time.Since(start).Microseconds(),
	})
	return "", nil
}

// validateFrameSize checks bytesused against the negotiated format.
// Compressed formats (no stride) only need a non-empty payload that fits.
func validateFrameSize(format v4l2.Format, bytesUsed int) error {
	if bytesUsed <= 0 {
		return fmt.Errorf("%w: payload of %d bytes", ErrFrameSize, bytesUsed)
	}
	if format.BytesPerLine == 0 {
		if bytesUsed > int(format.SizeImage) {
			return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameSize, bytesUsed, format.SizeImage)
		}
		return nil
	}
	if bytesUsed != int(format.SizeImage) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, bytesUsed, format.SizeImage)
	}
	return nil
}

func (l *Loop) submit(index int) error {
	buf, err := l.pool.Get(index)
	if err != nil {
		return err
	}
	fd, err := buf.FD()
	if err != nil {
		return fmt.Errorf("%w: slot %d: %w", ErrSubmit, index, err)
	}
	if err := l.queue.Submit(index, fd); err != nil {
		return err
	}
	l.stats.queued.Store(int64(l.queue.Queued()))
	return nil
}

func (l *Loop) resubmit(index int, res *Result) error {
	if err := l.submit(index); err != nil {
		return err
	}
	res.Resubmitted++
	l.stats.resubmitted.Add(1)
	return nil
}

func (l *Loop) teardown(res *Result) error {
	var errs []error
	if err := l.queue.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	leaked, err := l.queue.Pending()
	if err != nil {
		l.logger.Warn("Failed to query device buffers", "error", err)
	}
	res.Leaked = leaked
	if leaked > 0 {
		l.logger.Error("Device still owns buffers after stop", "buffers", leaked)
	}
	if err := l.queue.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release: %w", err))
	}
	if err := l.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pool: %w", err))
	}
	l.stats.queued.Store(0)
	l.stats.held.Store(0)
	return errors.Join(errs...)
}

func (l *Loop) publishState(state, status string) {
	l.publish(events.CaptureStateChangedEvent{
		Device:    l.opts.Device,
		State:     state,
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (l *Loop) publish(ev events.Event) {
	if l.opts.Publisher != nil {
		l.opts.Publisher.Publish(ev)
	}
}

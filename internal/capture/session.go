package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/dmacap/internal/events"
	"github.com/smazurov/dmacap/pkg/linuxav/dmabuf"
	"github.com/smazurov/dmacap/pkg/linuxav/hotplug"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
)

// Config describes one capture run.
type Config struct {
	Device            string
	Allocator         string
	Width             uint32
	Height            uint32
	PixelFormat       uint32
	Buffers           int
	Frames            int
	Timeout           time.Duration
	MaxTimeouts       int
	ValidateFrameSize bool
	StopOnUnplug      bool
}

// DefaultConfig returns the reference capture: four 1920x1020 ARGB32
// buffers from the system DMA heap, five frames, five second timeout.
func DefaultConfig() Config {
	return Config{
		Device:            "/dev/video0",
		Allocator:         dmabuf.DefaultAllocator,
		Width:             1920,
		Height:            1020,
		PixelFormat:       v4l2.PixFmtARGB32,
		Buffers:           4,
		Frames:            5,
		Timeout:           DefaultTimeout,
		ValidateFrameSize: true,
		StopOnUnplug:      true,
	}
}

// DeviceHandle is an open capture node.
type DeviceHandle interface {
	Device
	RequireCapture() (v4l2.Capabilities, error)
	RequireSignal() (v4l2.SignalStatus, error)
	Close() error
}

// RemovalWatcher blocks until path is unplugged or ctx ends.
type RemovalWatcher func(ctx context.Context, path string, onRemove func(hotplug.Event)) error

// Session opens a device, negotiates the format, builds the pool, queue and
// loop, and runs them.
type Session struct {
	cfg           Config
	consumer      Consumer
	logger        *slog.Logger
	publisher     Publisher
	openDevice    func(path string) (DeviceHandle, error)
	resolveDevice func(device string) (string, error)
	newAllocator  func(name string) (dmabuf.Allocator, error)
	watchRemoval  RemovalWatcher
	loop          atomic.Pointer[Loop]
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithPublisher publishes capture events to p.
func WithPublisher(p Publisher) SessionOption {
	return func(s *Session) { s.publisher = p }
}

// WithDeviceOpener replaces v4l2.Open.
func WithDeviceOpener(open func(path string) (DeviceHandle, error)) SessionOption {
	return func(s *Session) { s.openDevice = open }
}

// WithDeviceResolver replaces v4l2.ResolveDevice.
func WithDeviceResolver(resolve func(device string) (string, error)) SessionOption {
	return func(s *Session) { s.resolveDevice = resolve }
}

// WithAllocatorFactory replaces dmabuf.NewAllocator.
func WithAllocatorFactory(f func(name string) (dmabuf.Allocator, error)) SessionOption {
	return func(s *Session) { s.newAllocator = f }
}

// WithRemovalWatcher replaces hotplug.WatchRemoval. A nil watcher disables
// unplug detection.
func WithRemovalWatcher(w RemovalWatcher) SessionOption {
	return func(s *Session) { s.watchRemoval = w }
}

// NewSession creates a session. consumer may be nil to discard frames.
func NewSession(cfg Config, consumer Consumer, opts ...SessionOption) *Session {
	s := &Session{
		cfg:      cfg,
		consumer: consumer,
		logger:   slog.Default(),
		openDevice: func(path string) (DeviceHandle, error) {
			return v4l2.Open(path)
		},
		resolveDevice: v4l2.ResolveDevice,
		newAllocator:  dmabuf.NewAllocator,
		watchRemoval:  hotplug.WatchRemoval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("device", cfg.Device)
	return s
}

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// Stats returns the counters of the running loop, or zero values before
// the loop was built.
func (s *Session) Stats() Stats {
	if l := s.loop.Load(); l != nil {
		return l.Stats()
	}
	return Stats{}
}

// Run performs the capture. Resources are released before it returns,
// whatever the outcome.
func (s *Session) Run(ctx context.Context) (Result, error) {
	res, err := s.run(ctx)
	res.Status = StatusOf(err)
	return res, err
}

func (s *Session) run(ctx context.Context) (Result, error) {
	cfg := s.cfg
	if cfg.Buffers < 1 {
		return Result{}, fmt.Errorf("%w: buffer count %d", ErrConfig, cfg.Buffers)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return Result{}, fmt.Errorf("%w: frame size %dx%d", ErrConfig, cfg.Width, cfg.Height)
	}

	path, err := s.resolveDevice(cfg.Device)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if path != cfg.Device {
		s.logger.Debug("Resolved capture device", "path", path)
	}

	dev, err := s.openDevice(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDevice, err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			s.logger.Warn("Failed to close capture device", "error", err)
		}
	}()

	caps, err := dev.RequireCapture()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	s.logger.Info("Opened capture device", "driver", caps.Driver, "card", caps.Card, "bus", caps.BusInfo)

	// HDMI receivers accept REQBUFS without a source and then never fill.
	sig, err := dev.RequireSignal()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if sig.State == v4l2.SignalLocked {
		s.logger.Info("Input signal locked", "width", sig.Width, "height", sig.Height, "fps", sig.FPS, "interlaced", sig.Interlaced)
	}

	alloc, err := s.newAllocator(cfg.Allocator)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	defer alloc.Close()

	queue := NewQueue(dev, s.logger)
	requested := v4l2.Format{
		Width:       cfg.Width,
		Height:      cfg.Height,
		PixelFormat: cfg.PixelFormat,
		Field:       v4l2.FieldNone,
	}
	if err := queue.Configure(requested, cfg.Buffers); err != nil {
		return Result{}, err
	}

	pool, err := NewPool(alloc, queue.Format(), cfg.Buffers, dmabuf.UsageCapture)
	if err != nil {
		if relErr := queue.Release(); relErr != nil {
			s.logger.Warn("Failed to release capture queue", "error", relErr)
		}
		return Result{}, err
	}
	s.logger.Debug("Allocated buffer pool", "allocator", alloc.Name(), "buffers", pool.Len())

	loop := NewLoop(queue, pool, s.consumer, LoopOptions{
		FrameTarget:       cfg.Frames,
		Timeout:           cfg.Timeout,
		MaxTimeouts:       cfg.MaxTimeouts,
		ValidateFrameSize: cfg.ValidateFrameSize,
		Device:            cfg.Device,
		Logger:            s.logger,
		Publisher:         s.publisher,
	})
	s.loop.Store(loop)

	if cfg.StopOnUnplug && s.watchRemoval != nil {
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		go s.watchUnplug(ctx, path, cancel)
	}

	return loop.Run(ctx)
}

func (s *Session) watchUnplug(ctx context.Context, path string, cancel context.CancelCauseFunc) {
	err := s.watchRemoval(ctx, path, func(ev hotplug.Event) {
		s.logger.Warn("Capture device removed", "kobj", ev.KObj)
		if s.publisher != nil {
			s.publisher.Publish(events.DeviceRemovedEvent{
				Device:    s.cfg.Device,
				KObj:      ev.KObj,
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
		cancel(fmt.Errorf("%w: %s was removed", ErrDevice, path))
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("Hotplug monitoring unavailable", "error", err)
	}
}

// Package cmd holds the dmacap subcommands.
package cmd

import (
	"fmt"
	"time"

	"github.com/smazurov/dmacap/internal/capture"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
)

// CaptureSettings is the user-facing form of capture.Config, as read from
// flags, environment and config file.
type CaptureSettings struct {
	Device            string
	Allocator         string
	Width             int
	Height            int
	PixelFormat       string // FourCC such as "BA24" or "YUYV"
	Buffers           int
	Frames            int
	Timeout           time.Duration
	MaxTimeouts       int
	ValidateFrameSize bool
	StopOnUnplug      bool
}

// Config validates the settings and converts them to a capture.Config.
// Errors wrap capture.ErrConfig.
func (s CaptureSettings) Config() (capture.Config, error) {
	cfg := capture.Config{
		Device:            s.Device,
		Allocator:         s.Allocator,
		Buffers:           s.Buffers,
		Frames:            s.Frames,
		Timeout:           s.Timeout,
		MaxTimeouts:       s.MaxTimeouts,
		ValidateFrameSize: s.ValidateFrameSize,
		StopOnUnplug:      s.StopOnUnplug,
	}

	switch {
	case s.Device == "":
		return cfg, fmt.Errorf("%w: no capture device", capture.ErrConfig)
	case s.Width <= 0 || s.Height <= 0:
		return cfg, fmt.Errorf("%w: invalid frame size %dx%d", capture.ErrConfig, s.Width, s.Height)
	case s.Buffers < 1:
		return cfg, fmt.Errorf("%w: need at least one buffer, got %d", capture.ErrConfig, s.Buffers)
	case s.Frames < 0:
		return cfg, fmt.Errorf("%w: negative frame count %d", capture.ErrConfig, s.Frames)
	case s.Timeout < 0:
		return cfg, fmt.Errorf("%w: negative timeout %s", capture.ErrConfig, s.Timeout)
	case s.MaxTimeouts < 0:
		return cfg, fmt.Errorf("%w: negative max timeouts %d", capture.ErrConfig, s.MaxTimeouts)
	}
	cfg.Width = uint32(s.Width)
	cfg.Height = uint32(s.Height)

	pixfmt, err := v4l2.ParseFourCC(s.PixelFormat)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", capture.ErrConfig, err)
	}
	cfg.PixelFormat = pixfmt
	return cfg, nil
}

// DefaultSettings mirrors capture.DefaultConfig.
func DefaultSettings() CaptureSettings {
	d := capture.DefaultConfig()
	return CaptureSettings{
		Device:            d.Device,
		Allocator:         d.Allocator,
		Width:             int(d.Width),
		Height:            int(d.Height),
		PixelFormat:       v4l2.FormatFourCC(d.PixelFormat),
		Buffers:           d.Buffers,
		Frames:            d.Frames,
		Timeout:           d.Timeout,
		MaxTimeouts:       d.MaxTimeouts,
		ValidateFrameSize: d.ValidateFrameSize,
		StopOnUnplug:      d.StopOnUnplug,
	}
}

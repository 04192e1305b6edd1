//go:build linux

package v4l2

import (
	"errors"
	"time"
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
	Type       DeviceType
	Signal     SignalStatus
}

// Ready reports whether the device can deliver frames now.
func (d DeviceInfo) Ready() bool { return d.Signal.Ready() }

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a supported framerate as a fraction.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// Capabilities is the result of VIDIOC_QUERYCAP.
type Capabilities struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capabilities of the opened node rather than the
// whole physical device when the driver reports them.
func (c Capabilities) Effective() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// CanCapture reports single-planar video capture support.
func (c Capabilities) CanCapture() bool { return c.Effective()&CapVideoCapture != 0 }

// CanStream reports streaming I/O support.
func (c Capabilities) CanStream() bool { return c.Effective()&CapStreaming != 0 }

// Format is a single-planar capture format (struct v4l2_pix_format).
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
}

// BufferInfo describes a buffer returned by VIDIOC_DQBUF.
type BufferInfo struct {
	Index     uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Sequence  uint32
	// Timestamp is taken by the driver, normally on CLOCK_MONOTONIC.
	Timestamp time.Duration
	FD        int
}

// Errors returned by Device and ResolveDevice.
var (
	ErrNotCapture     = errors.New("v4l2: device does not support video capture")
	ErrNotStreaming   = errors.New("v4l2: device does not support streaming I/O")
	ErrPollError      = errors.New("v4l2: device reported an error or hangup")
	ErrClosed         = errors.New("v4l2: device is closed")
	ErrDeviceNotFound = errors.New("v4l2: device not found")
)

// Capability flags.
const (
	CapVideoCapture = 0x00000001
	CapStreaming    = 0x04000000
	CapDeviceCaps   = 0x80000000
)

// Buffer flags.
const (
	BufFlagMapped = 0x00000001
	BufFlagQueued = 0x00000002
	BufFlagDone   = 0x00000004
	BufFlagError  = 0x00000040
)

// Field orders.
const (
	FieldAny  = 0
	FieldNone = 1
)

// Format flags.
const (
	v4l2FmtFlagEmulated = 0x0002
)

// Common pixel formats.
const (
	PixFmtARGB32 = 0x34324142 // 'BA24'
	PixFmtYUYV   = 0x56595559 // 'YUYV'
	PixFmtMJPEG  = 0x47504A4D // 'MJPG'
	PixFmtH264   = 0x34363248 // 'H264'
	PixFmtHEVC   = 0x43564548 // 'HEVC'
	PixFmtNV12   = 0x3231564E // 'NV12'
)

// Frame size types.
const (
	v4l2FrmsizeTypeDiscrete   = 1
	v4l2FrmsizeTypeContinuous = 2
	v4l2FrmsizeTypeStepwise   = 3
)

// Frame interval types.
const (
	v4l2FrmivalTypeDiscrete   = 1
	v4l2FrmivalTypeContinuous = 2
	v4l2FrmivalTypeStepwise   = 3
)

// Buffer type.
const (
	v4l2BufTypeVideoCapture = 1
)

// Memory types.
const (
	v4l2MemoryDMABuf = 4
)

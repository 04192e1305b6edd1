//go:build linux

package v4l2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DeviceType tells HDMI receivers apart from cameras.
type DeviceType int

// Device types.
const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeWebcam
	DeviceTypeHDMI
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeWebcam:
		return "webcam"
	case DeviceTypeHDMI:
		return "hdmi"
	default:
		return "unknown"
	}
}

// SignalState is the input signal of a DV timings (HDMI) receiver.
type SignalState int

// Signal states.
const (
	SignalNotSupported SignalState = iota // no DV timings, e.g. a camera
	SignalNoLink                          // no cable
	SignalNoSignal                        // cable, no signal
	SignalUnstable                        // signal present but not locked
	SignalOutOfRange                      // signal outside what the receiver supports
	SignalLocked
)

func (s SignalState) String() string {
	switch s {
	case SignalNotSupported:
		return "not-supported"
	case SignalNoLink:
		return "no-link"
	case SignalNoSignal:
		return "no-signal"
	case SignalUnstable:
		return "unstable"
	case SignalOutOfRange:
		return "out-of-range"
	case SignalLocked:
		return "locked"
	default:
		return fmt.Sprintf("SignalState(%d)", int(s))
	}
}

// ErrNoSignal is returned by RequireSignal when an HDMI input has nothing
// to capture.
var ErrNoSignal = errors.New("v4l2: no input signal")

// SignalStatus is the result of VIDIOC_G_DV_TIMINGS.
type SignalStatus struct {
	State      SignalState
	Width      uint32
	Height     uint32
	FPS        float64
	Interlaced bool
}

// Ready reports whether frames can be captured: a locked HDMI signal, or a
// device without DV timings.
func (s SignalStatus) Ready() bool {
	return s.State == SignalLocked || s.State == SignalNotSupported
}

// DeviceStatus combines the device type with its signal.
type DeviceStatus struct {
	Type   DeviceType
	Signal SignalStatus
}

// Ready reports whether the device can deliver frames now.
func (s DeviceStatus) Ready() bool { return s.Signal.Ready() }

// Signal queries the DV timings of the open device.
func (d *Device) Signal() SignalStatus {
	if d.fd < 0 {
		return SignalStatus{State: SignalNotSupported}
	}
	var t dvTimings
	err := ioctlRetry(d.fd, vidiocGDVTimings, unsafe.Pointer(&t))
	return signalFromTimings(&t, err)
}

// RequireSignal returns ErrNoSignal unless the device is ready to capture.
func (d *Device) RequireSignal() (SignalStatus, error) {
	sig := d.Signal()
	if !sig.Ready() {
		return sig, fmt.Errorf("%s: %w (%s)", d.path, ErrNoSignal, sig.State)
	}
	return sig, nil
}

// Status opens path and reports its type and signal. Unopenable devices
// are reported as unknown with no link.
func Status(path string) DeviceStatus {
	fd, err := open(path)
	if err != nil {
		return DeviceStatus{Type: DeviceTypeUnknown, Signal: SignalStatus{State: SignalNoLink}}
	}
	defer close(fd)

	caps, err := queryCapabilities(fd)
	if err != nil {
		return DeviceStatus{Type: DeviceTypeUnknown, Signal: SignalStatus{State: SignalNoLink}}
	}
	return statusOf(fd, caps)
}

func statusOf(fd int, caps Capabilities) DeviceStatus {
	var t dvTimings
	err := ioctlRetry(fd, vidiocGDVTimings, unsafe.Pointer(&t))
	sig := signalFromTimings(&t, err)
	return DeviceStatus{Type: deviceType(sig, caps.Driver), Signal: sig}
}

func deviceType(sig SignalStatus, driver string) DeviceType {
	switch {
	case sig.State != SignalNotSupported:
		return DeviceTypeHDMI
	case driver == "uvcvideo":
		return DeviceTypeWebcam
	default:
		return DeviceTypeUnknown
	}
}

// signalFromTimings classifies the VIDIOC_G_DV_TIMINGS outcome. Receivers
// answer ENOLINK without a cable and ENOLCK while the signal is unstable.
func signalFromTimings(t *dvTimings, err error) SignalStatus {
	switch {
	case err == nil:
		if t.width() == 0 || t.height() == 0 || t.pixelClock() == 0 {
			return SignalStatus{State: SignalNoSignal}
		}
		return SignalStatus{
			State:      SignalLocked,
			Width:      t.width(),
			Height:     t.height(),
			FPS:        t.fps(),
			Interlaced: t.interlaced(),
		}
	case errors.Is(err, unix.ENOLINK):
		return SignalStatus{State: SignalNoLink}
	case errors.Is(err, unix.ENOLCK):
		return SignalStatus{State: SignalUnstable}
	case errors.Is(err, unix.ERANGE):
		return SignalStatus{State: SignalOutOfRange}
	default:
		// ENOTTY and EINVAL: no DV timings on this node
		return SignalStatus{State: SignalNotSupported}
	}
}

// dvTimings is struct v4l2_dv_timings. The kernel declares it packed, so it
// is decoded by offset instead of mirrored as a Go struct.
type dvTimings [132]byte

// offsets into the bt union member, which starts after the 4 byte type
const (
	btWidth       = 4
	btHeight      = 8
	btInterlaced  = 12
	btPixelClock  = 20
	btHFrontPorch = 28
	btHSync       = 32
	btHBackPorch  = 36
	btVFrontPorch = 40
	btVSync       = 44
	btVBackPorch  = 48
)

func (t *dvTimings) u32(off int) uint32 { return binary.NativeEndian.Uint32(t[off:]) }

func (t *dvTimings) width() uint32 { return t.u32(btWidth) }

func (t *dvTimings) height() uint32 { return t.u32(btHeight) }

func (t *dvTimings) interlaced() bool { return t.u32(btInterlaced) != 0 }

func (t *dvTimings) pixelClock() uint64 { return binary.NativeEndian.Uint64(t[btPixelClock:]) }

func (t *dvTimings) fps() float64 {
	clock := t.pixelClock()
	if clock == 0 {
		return 0
	}
	totalWidth := uint64(t.width() + t.u32(btHFrontPorch) + t.u32(btHSync) + t.u32(btHBackPorch))
	totalHeight := uint64(t.height() + t.u32(btVFrontPorch) + t.u32(btVSync) + t.u32(btVBackPorch))
	if t.interlaced() {
		totalHeight /= 2
	}
	if totalWidth == 0 || totalHeight == 0 {
		return 0
	}
	return float64(clock) / float64(totalWidth*totalHeight)
}

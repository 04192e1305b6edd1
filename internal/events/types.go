package events

// Event type constants for kelindar/event.
const (
	TypeCaptureStateChanged uint32 = iota + 1
	TypeFrameCaptured
	TypeFrameDropped
	TypeCaptureTimeout
	TypeCaptureError
	TypeDeviceRemoved
	TypeCaptureMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Capture states carried by CaptureStateChangedEvent.
const (
	StateStarting  = "starting"
	StateStreaming = "streaming"
	StateStopped   = "stopped"
)

// CaptureStateChangedEvent is published when a capture loop starts streaming
// or tears down. Used for LED control and the status API.
type CaptureStateChangedEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Capture device node"`
	State     string `json:"state" example:"streaming" doc:"starting, streaming or stopped"`
	Status    string `json:"status,omitempty" example:"success" doc:"Final status when stopped"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStateChangedEvent.
func (e CaptureStateChangedEvent) Type() uint32 { return TypeCaptureStateChanged }

// IsStreaming reports whether the device is actively capturing.
func (e CaptureStateChangedEvent) IsStreaming() bool { return e.State == StateStreaming }

// FrameCapturedEvent is published after a frame was handed to the consumer.
// It carries metadata only, never pixel data.
type FrameCapturedEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Capture device node"`
	Index     int    `json:"index" example:"2" doc:"Buffer slot index"`
	Sequence  uint32 `json:"sequence" example:"118" doc:"Driver frame sequence number"`
	BytesUsed int    `json:"bytes_used" example:"7833600" doc:"Payload size in bytes"`
	LatencyUs int64  `json:"latency_us" example:"850" doc:"Time spent in the consumer, in microseconds"`
}

// Type returns the event type identifier for FrameCapturedEvent.
func (e FrameCapturedEvent) Type() uint32 { return TypeFrameCaptured }

// FrameDroppedEvent is published when a filled buffer was recycled without
// being delivered.
type FrameDroppedEvent struct {
	Device   string `json:"device" example:"/dev/video0" doc:"Capture device node"`
	Index    int    `json:"index" example:"1" doc:"Buffer slot index"`
	Sequence uint32 `json:"sequence" example:"57" doc:"Driver frame sequence number"`
	Reason   string `json:"reason" example:"corrupt" doc:"Why the frame was dropped"`
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }

// CaptureTimeoutEvent is published for every wait that saw no frame.
type CaptureTimeoutEvent struct {
	Device      string `json:"device" example:"/dev/video0" doc:"Capture device node"`
	Consecutive int    `json:"consecutive" example:"1" doc:"Consecutive timeouts so far"`
}

// Type returns the event type identifier for CaptureTimeoutEvent.
func (e CaptureTimeoutEvent) Type() uint32 { return TypeCaptureTimeout }

// CaptureErrorEvent represents a capture run that ended with an error.
type CaptureErrorEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Capture device node"`
	Status    string `json:"status" example:"device-error" doc:"Exit status classification"`
	Error     string `json:"error" example:"VIDIOC_DQBUF: no such device" doc:"Detailed error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Error timestamp"`
}

// Type returns the event type identifier for CaptureErrorEvent.
func (e CaptureErrorEvent) Type() uint32 { return TypeCaptureError }

// DeviceRemovedEvent is published when the capture node is unplugged.
type DeviceRemovedEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Removed device node"`
	KObj      string `json:"kobj" example:"/devices/platform/usb/video4linux/video0" doc:"Kernel object path"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceRemovedEvent.
func (e DeviceRemovedEvent) Type() uint32 { return TypeDeviceRemoved }

// CaptureMetricsEvent is a periodic snapshot of per-device counters for SSE
// clients.
type CaptureMetricsEvent struct {
	Device    string  `json:"device" example:"/dev/video0" doc:"Capture device node"`
	Streaming bool    `json:"streaming" example:"true" doc:"Whether the device is streaming"`
	Captured  uint64  `json:"captured" example:"1200" doc:"Frames delivered since start"`
	Dropped   uint64  `json:"dropped" example:"3" doc:"Frames dropped since start"`
	Timeouts  uint64  `json:"timeouts" example:"0" doc:"Waits that saw no frame"`
	FPS       float64 `json:"fps" example:"29.97" doc:"Delivered frames per second over the last interval"`
}

// Type returns the event type identifier for CaptureMetricsEvent.
func (e CaptureMetricsEvent) Type() uint32 { return TypeCaptureMetrics }

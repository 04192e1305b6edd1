// Package models holds the request and response bodies of the HTTP API.
package models

import "github.com/smazurov/dmacap/internal/capture"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27T10:30:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go runtime version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
	Kernel    string `json:"kernel" example:"6.6.31-rockchip" doc:"Kernel release"`
}

type VersionResponse struct {
	Body VersionData
}

// CaptureConfigData mirrors capture.Config with the pixel format as a FourCC.
type CaptureConfigData struct {
	Device            string `json:"device" example:"/dev/video0" doc:"Capture device node"`
	Allocator         string `json:"allocator" example:"heap:system" doc:"DMA buffer allocator"`
	Width             uint32 `json:"width" example:"1920" doc:"Requested width in pixels"`
	Height            uint32 `json:"height" example:"1020" doc:"Requested height in pixels"`
	PixelFormat       string `json:"pixel_format" example:"BA24" doc:"Requested pixel format FourCC"`
	Buffers           int    `json:"buffers" example:"4" doc:"Buffer pool size"`
	Frames            int    `json:"frames" example:"0" doc:"Frames to capture, 0 for unlimited"`
	TimeoutMs         int64  `json:"timeout_ms" example:"5000" doc:"Wait timeout per frame"`
	MaxTimeouts       int    `json:"max_timeouts" example:"0" doc:"Consecutive timeouts tolerated"`
	ValidateFrameSize bool   `json:"validate_frame_size" example:"true" doc:"Drop frames of unexpected size"`
	StopOnUnplug      bool   `json:"stop_on_unplug" example:"true" doc:"Stop when the device is removed"`
}

type CaptureStatusData struct {
	Config CaptureConfigData `json:"config" doc:"Capture configuration"`
	Stats  capture.Stats     `json:"stats" doc:"Live capture counters"`
	Totals *CaptureTotals    `json:"totals,omitempty" doc:"Counters since the service started, across runs"`
}

// CaptureTotals is reset when the device is unplugged.
type CaptureTotals struct {
	Captured uint64 `json:"captured" example:"1200" doc:"Frames delivered"`
	Dropped  uint64 `json:"dropped" example:"3" doc:"Frames dropped"`
	Timeouts uint64 `json:"timeouts" example:"0" doc:"Waits that timed out"`
	Errors   uint64 `json:"errors" example:"0" doc:"Runs that ended with an error"`
}

type CaptureStatusResponse struct {
	Body CaptureStatusData
}

// Device models
type DeviceFormat struct {
	FourCC      string `json:"fourcc" example:"YUYV" doc:"Pixel format FourCC"`
	Description string `json:"description" example:"YUYV 4:2:2" doc:"Driver description"`
	Emulated    bool   `json:"emulated" example:"false" doc:"Format is converted by libv4l"`
}

type DeviceData struct {
	DevicePath string         `json:"device_path" example:"/dev/video0" doc:"Device node"`
	DeviceName string         `json:"device_name" example:"HDMI Capture" doc:"Card name"`
	DeviceID   string         `json:"device_id" example:"usb-MACROSILICON_USB_Video-video-index0" doc:"Stable device identifier"`
	Caps       uint32         `json:"caps" example:"69206017" doc:"V4L2 capability bits"`
	Type       string         `json:"type" example:"hdmi" enum:"hdmi,webcam,unknown" doc:"Device type"`
	Signal     DeviceSignal   `json:"signal" doc:"Input signal, for HDMI receivers"`
	Ready      bool           `json:"ready" example:"true" doc:"Device can deliver frames now"`
	Formats    []DeviceFormat `json:"formats" doc:"Supported pixel formats"`
}

type DeviceSignal struct {
	State      string  `json:"state" example:"locked" doc:"not-supported, no-link, no-signal, unstable, out-of-range or locked"`
	Width      uint32  `json:"width,omitempty" example:"1920" doc:"Detected width"`
	Height     uint32  `json:"height,omitempty" example:"1080" doc:"Detected height"`
	FPS        float64 `json:"fps,omitempty" example:"60" doc:"Detected frame rate"`
	Interlaced bool    `json:"interlaced,omitempty" doc:"Detected signal is interlaced"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Capture devices"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

// Logging models
type LoggingData struct {
	Modules map[string]string `json:"modules" doc:"Current level of each module logger"`
}

type LoggingResponse struct {
	Body LoggingData
}

type SetLogLevelRequest struct {
	Module string `path:"module" example:"capture" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

// ConnectedEvent is the first message on every SSE connection.
type ConnectedEvent struct {
	Message   string `json:"message" example:"SSE connection established" doc:"Greeting"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Connection time"`
}

// Package metrics provides Prometheus metrics for capture devices, fed from
// the event bus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/dmacap/internal/events"
)

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmacap",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames delivered to the consumer",
	}, []string{"device"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmacap",
		Subsystem: "capture",
		Name:      "dropped_frames_total",
		Help:      "Filled buffers recycled without delivery",
	}, []string{"device", "reason"})

	captureTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmacap",
		Subsystem: "capture",
		Name:      "timeouts_total",
		Help:      "Waits for a filled buffer that timed out",
	}, []string{"device"})

	captureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmacap",
		Subsystem: "capture",
		Name:      "errors_total",
		Help:      "Capture runs that ended with an error, by status",
	}, []string{"device", "status"})

	deviceRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmacap",
		Subsystem: "capture",
		Name:      "device_removals_total",
		Help:      "Capture device unplug events",
	}, []string{"device"})

	streaming = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dmacap",
		Subsystem: "capture",
		Name:      "streaming",
		Help:      "1 while the device is streaming",
	}, []string{"device"})

	frameBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dmacap",
		Subsystem: "capture",
		Name:      "frame_bytes",
		Help:      "Payload size of the last delivered frame",
	}, []string{"device"})

	consumeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dmacap",
		Subsystem: "capture",
		Name:      "consume_seconds",
		Help:      "Time the consumer held each frame",
		Buckets:   []float64{.001, .002, .005, .01, .02, .05, .1, .25, .5, 1},
	}, []string{"device"})

	// Local cache for the SSE exporter and the status API.
	deviceCache   = make(map[string]*DeviceMetrics)
	deviceCacheMu sync.RWMutex
)

// DeviceMetrics holds the current counter values for one device.
type DeviceMetrics struct {
	Streaming    bool
	Captured     uint64
	Dropped      uint64
	Timeouts     uint64
	Errors       uint64
	LastSequence uint32
}

// Subscribe feeds the metrics from capture events on bus. Call the returned
// function to stop.
func Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(RecordState),
		bus.Subscribe(RecordFrame),
		bus.Subscribe(RecordDrop),
		bus.Subscribe(RecordTimeout),
		bus.Subscribe(RecordError),
		bus.Subscribe(RecordRemoval),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// RecordState tracks whether a device is streaming.
func RecordState(e events.CaptureStateChangedEvent) {
	v := 0.0
	if e.IsStreaming() {
		v = 1
	}
	streaming.WithLabelValues(e.Device).Set(v)
	updateCache(e.Device, func(m *DeviceMetrics) { m.Streaming = e.IsStreaming() })
}

// RecordFrame counts a delivered frame.
func RecordFrame(e events.FrameCapturedEvent) {
	framesCaptured.WithLabelValues(e.Device).Inc()
	frameBytes.WithLabelValues(e.Device).Set(float64(e.BytesUsed))
	consumeSeconds.WithLabelValues(e.Device).Observe(float64(e.LatencyUs) / 1e6)
	updateCache(e.Device, func(m *DeviceMetrics) {
		m.Captured++
		m.LastSequence = e.Sequence
	})
}

// RecordDrop counts a dropped frame.
func RecordDrop(e events.FrameDroppedEvent) {
	framesDropped.WithLabelValues(e.Device, e.Reason).Inc()
	updateCache(e.Device, func(m *DeviceMetrics) { m.Dropped++ })
}

// RecordTimeout counts a wait that saw no frame.
func RecordTimeout(e events.CaptureTimeoutEvent) {
	captureTimeouts.WithLabelValues(e.Device).Inc()
	updateCache(e.Device, func(m *DeviceMetrics) { m.Timeouts++ })
}

// RecordError counts a failed run.
func RecordError(e events.CaptureErrorEvent) {
	captureErrors.WithLabelValues(e.Device, e.Status).Inc()
	updateCache(e.Device, func(m *DeviceMetrics) { m.Errors++ })
}

// RecordRemoval counts an unplug and drops the series of the removed node.
func RecordRemoval(e events.DeviceRemovedEvent) {
	DeleteDevice(e.Device)
	deviceRemovals.WithLabelValues(e.Device).Inc()
}

// DeleteDevice removes all metrics for a device.
func DeleteDevice(device string) {
	framesCaptured.DeleteLabelValues(device)
	framesDropped.DeletePartialMatch(prometheus.Labels{"device": device})
	captureTimeouts.DeleteLabelValues(device)
	captureErrors.DeletePartialMatch(prometheus.Labels{"device": device})
	deviceRemovals.DeleteLabelValues(device)
	streaming.DeleteLabelValues(device)
	frameBytes.DeleteLabelValues(device)
	consumeSeconds.DeleteLabelValues(device)

	deviceCacheMu.Lock()
	delete(deviceCache, device)
	deviceCacheMu.Unlock()
}

// GetDeviceMetrics returns current values for a device, or nil if nothing
// was recorded for it.
func GetDeviceMetrics(device string) *DeviceMetrics {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	if m, ok := deviceCache[device]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllDeviceMetrics returns metrics for all known devices.
func GetAllDeviceMetrics() map[string]*DeviceMetrics {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	result := make(map[string]*DeviceMetrics, len(deviceCache))
	for device, m := range deviceCache {
		dup := *m
		result[device] = &dup
	}
	return result
}

func updateCache(device string, update func(*DeviceMetrics)) {
	deviceCacheMu.Lock()
	defer deviceCacheMu.Unlock()
	m, ok := deviceCache[device]
	if !ok {
		m = &DeviceMetrics{}
		deviceCache[device] = m
	}
	update(m)
}

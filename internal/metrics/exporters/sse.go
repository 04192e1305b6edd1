package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/dmacap/internal/events"
	"github.com/smazurov/dmacap/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes per-device capture metrics to the
// event bus so SSE clients receive them.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// captured count and time at the previous tick, per device
	last map[string]sample
	now  func() time.Time
}

type sample struct {
	captured uint64
	at       time.Time
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
		last:     make(map[string]sample),
		now:      time.Now,
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	now := s.now()
	all := metrics.GetAllDeviceMetrics()
	for device, m := range all {
		var fps float64
		if prev, ok := s.last[device]; ok && m.Captured >= prev.captured {
			if elapsed := now.Sub(prev.at).Seconds(); elapsed > 0 {
				fps = float64(m.Captured-prev.captured) / elapsed
			}
		}
		s.last[device] = sample{captured: m.Captured, at: now}

		s.eventBus.Publish(events.CaptureMetricsEvent{
			Device:    device,
			Streaming: m.Streaming,
			Captured:  m.Captured,
			Dropped:   m.Dropped,
			Timeouts:  m.Timeouts,
			FPS:       fps,
		})
	}
	for device := range s.last {
		if _, ok := all[device]; !ok {
			delete(s.last, device)
		}
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"capture-metrics": events.CaptureMetricsEvent{},
	}
}

// GetEventTypesForEndpoint returns event types for a specific SSE endpoint.
func GetEventTypesForEndpoint(endpoint string) map[string]any {
	if endpoint == "events" {
		return GetEventTypes()
	}
	return map[string]any{}
}

// GetEventRoutes returns the routing configuration for events.
func GetEventRoutes() map[string]string {
	return map[string]string{
		"capture-metrics": "events",
	}
}

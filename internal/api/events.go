package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/dmacap/internal/api/models"
	"github.com/smazurov/dmacap/internal/events"
	"github.com/smazurov/dmacap/internal/metrics/exporters"
)

// sseEventTypes maps SSE event names to payloads. Per-frame events are left
// out; capture-metrics summarises them once per second.
func sseEventTypes() map[string]any {
	types := map[string]any{
		"connected":             models.ConnectedEvent{},
		"capture-state-changed": events.CaptureStateChangedEvent{},
		"frame-dropped":         events.FrameDroppedEvent{},
		"capture-timeout":       events.CaptureTimeoutEvent{},
		"capture-error":         events.CaptureErrorEvent{},
		"device-removed":        events.DeviceRemovedEvent{},
	}
	maps.Copy(types, exporters.GetEventTypesForEndpoint("events"))
	return types
}

func (s *Server) registerSSERoutes() {
	if s.options.EventBus == nil {
		s.logger.Debug("No event bus, skipping SSE routes")
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Capture state changes, dropped frames, errors, unplug and periodic metrics",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, sseEventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		bus := s.options.EventBus
		fwd := events.NewForwarder(32)
		events.Forward[events.CaptureStateChangedEvent](bus, fwd)
		events.Forward[events.FrameDroppedEvent](bus, fwd)
		events.Forward[events.CaptureTimeoutEvent](bus, fwd)
		events.Forward[events.CaptureErrorEvent](bus, fwd)
		events.Forward[events.DeviceRemovedEvent](bus, fwd)
		events.Forward[events.CaptureMetricsEvent](bus, fwd)
		defer func() {
			fwd.Close()
			if n := fwd.Dropped(); n > 0 {
				s.logger.Debug("SSE client fell behind", "dropped_events", n)
			}
		}()

		if err := send.Data(models.ConnectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-fwd.C():
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}

package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/dmacap/internal/api/models"
	"github.com/smazurov/dmacap/internal/capture"
	"github.com/smazurov/dmacap/internal/metrics"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
)

func (s *Server) registerCaptureRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-capture-status",
		Method:      http.MethodGet,
		Path:        "/api/capture",
		Summary:     "Capture Status",
		Description: "Configuration and live counters of the running capture",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.CaptureStatusResponse, error) {
		if s.options.Capture == nil {
			return nil, huma.Error503ServiceUnavailable("No capture configured")
		}
		cfg := s.options.Capture.Config()
		return &models.CaptureStatusResponse{
			Body: models.CaptureStatusData{
				Config: captureConfigData(cfg),
				Stats:  s.options.Capture.Stats(),
				Totals: captureTotals(metrics.GetDeviceMetrics(cfg.Device)),
			},
		}, nil
	})
}

func captureTotals(m *metrics.DeviceMetrics) *models.CaptureTotals {
	if m == nil {
		return nil
	}
	return &models.CaptureTotals{
		Captured: m.Captured,
		Dropped:  m.Dropped,
		Timeouts: m.Timeouts,
		Errors:   m.Errors,
	}
}

func captureConfigData(cfg capture.Config) models.CaptureConfigData {
	return models.CaptureConfigData{
		Device:            cfg.Device,
		Allocator:         cfg.Allocator,
		Width:             cfg.Width,
		Height:            cfg.Height,
		PixelFormat:       v4l2.FormatFourCC(cfg.PixelFormat),
		Buffers:           cfg.Buffers,
		Frames:            cfg.Frames,
		TimeoutMs:         cfg.Timeout.Milliseconds(),
		MaxTimeouts:       cfg.MaxTimeouts,
		ValidateFrameSize: cfg.ValidateFrameSize,
		StopOnUnplug:      cfg.StopOnUnplug,
	}
}

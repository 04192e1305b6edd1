package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/dmacap/internal/api/models"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
)

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "V4L2 capture devices, their input signal and the pixel formats they offer",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(_ context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		found, err := s.options.FindDevices()
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to enumerate devices", err)
		}

		list := make([]models.DeviceData, 0, len(found))
		for _, d := range found {
			list = append(list, models.DeviceData{
				DevicePath: d.DevicePath,
				DeviceName: d.DeviceName,
				DeviceID:   d.DeviceID,
				Caps:       d.Caps,
				Type:       d.Type.String(),
				Signal:     deviceSignal(d.Signal),
				Ready:      d.Ready(),
				Formats:    s.deviceFormats(d.DevicePath),
			})
		}
		return &models.DeviceListResponse{
			Body: models.DeviceListData{Devices: list, Count: len(list)},
		}, nil
	})
}

func deviceSignal(sig v4l2.SignalStatus) models.DeviceSignal {
	return models.DeviceSignal{
		State:      sig.State.String(),
		Width:      sig.Width,
		Height:     sig.Height,
		FPS:        sig.FPS,
		Interlaced: sig.Interlaced,
	}
}

// deviceFormats returns an empty list when the device is busy or gone;
// the device itself is still reported.
func (s *Server) deviceFormats(path string) []models.DeviceFormat {
	formats, err := s.options.GetFormats(path)
	if err != nil {
		s.logger.Debug("Failed to enumerate formats", "device", path, "error", err)
		return []models.DeviceFormat{}
	}
	out := make([]models.DeviceFormat, 0, len(formats))
	for _, f := range formats {
		out = append(out, models.DeviceFormat{
			FourCC:      v4l2.FormatFourCC(f.PixelFormat),
			Description: f.FormatName,
			Emulated:    f.Emulated,
		})
	}
	return out
}

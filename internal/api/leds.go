package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// LEDRequest switches one LED.
type LEDRequest struct {
	Body struct {
		Type    string  `json:"type" example:"system" doc:"LED type (board-specific: user, system, blue, green, act)"`
		Enabled bool    `json:"enabled" example:"true" doc:"Whether the LED should be on or off"`
		Pattern *string `json:"pattern,omitempty" example:"solid" doc:"Optional LED pattern (solid, blink, heartbeat)"`
	}
}

// LEDCapabilities lists what the board supports.
type LEDCapabilities struct {
	AvailableTypes    []string `json:"available_types" doc:"LED types on this board"`
	AvailablePatterns []string `json:"available_patterns" doc:"LED patterns on this board"`
}

// LEDCapabilitiesResponse wraps LEDCapabilities.
type LEDCapabilitiesResponse struct {
	Body LEDCapabilities
}

func (s *Server) registerLEDRoutes() {
	if s.options.LEDController == nil {
		s.logger.Debug("LED controller not available, skipping LED routes")
		return
	}
	ctrl := s.options.LEDController

	huma.Register(s.api, huma.Operation{
		OperationID: "control-led",
		Method:      http.MethodPost,
		Path:        "/api/leds",
		Summary:     "Control LED",
		Description: "Override an LED. The capture indicator sets it again on the next state change.",
		Tags:        []string{"leds"},
		Errors:      []int{400, 401},
		Security:    withAuth(),
	}, func(_ context.Context, input *LEDRequest) (*struct{}, error) {
		pattern := ""
		if input.Body.Pattern != nil {
			pattern = *input.Body.Pattern
		}
		if err := ctrl.Set(input.Body.Type, input.Body.Enabled, pattern); err != nil {
			return nil, huma.Error400BadRequest("Failed to control LED", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-led-capabilities",
		Method:      http.MethodGet,
		Path:        "/api/leds/capabilities",
		Summary:     "LED Capabilities",
		Description: "LED types and patterns available on this board",
		Tags:        []string{"leds"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*LEDCapabilitiesResponse, error) {
		return &LEDCapabilitiesResponse{
			Body: LEDCapabilities{
				AvailableTypes:    ctrl.Available(),
				AvailablePatterns: ctrl.Patterns(),
			},
		}, nil
	})
}

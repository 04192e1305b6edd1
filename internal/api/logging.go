package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/dmacap/internal/api/models"
	"github.com/smazurov/dmacap/internal/logging"
)

func (s *Server) registerLoggingRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logging",
		Summary:     "Log Levels",
		Description: "Current level of every module logger",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.LoggingResponse, error) {
		return &models.LoggingResponse{Body: loggingData()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logging/{module}",
		Summary:     "Set Log Level",
		Description: "Change the level of one module logger until the next restart or config reload",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(_ context.Context, input *models.SetLogLevelRequest) (*models.LoggingResponse, error) {
		if err := logging.SetModuleLevel(input.Module, input.Body.Level); err != nil {
			return nil, huma.Error400BadRequest("Invalid log level", err)
		}
		s.logger.Info("Log level changed", "target_module", input.Module, "level", input.Body.Level)
		return &models.LoggingResponse{Body: loggingData()}, nil
	})
}

func loggingData() models.LoggingData {
	modules := make(map[string]string)
	for _, module := range logging.Modules() {
		modules[module] = logging.ModuleLevel(module).String()
	}
	return models.LoggingData{Modules: modules}
}

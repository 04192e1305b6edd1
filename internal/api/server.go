// Package api serves the capture status HTTP API.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/dmacap/internal/api/models"
	"github.com/smazurov/dmacap/internal/capture"
	"github.com/smazurov/dmacap/internal/events"
	"github.com/smazurov/dmacap/internal/led"
	"github.com/smazurov/dmacap/internal/logging"
	"github.com/smazurov/dmacap/internal/version"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
)

const authRealm = `Basic realm="dmacap"`

// CaptureReporter exposes the configuration and live counters of a capture.
type CaptureReporter interface {
	Config() capture.Config
	Stats() capture.Stats
}

// Options configures the API server.
type Options struct {
	// Basic auth is enforced only when both are set.
	AuthUsername string
	AuthPassword string

	Capture           CaptureReporter
	EventBus          *events.Bus
	PrometheusHandler http.Handler
	LEDController     led.Controller

	// Device enumeration, v4l2.FindDevices and v4l2.GetFormats when nil.
	FindDevices func() ([]v4l2.DeviceInfo, error)
	GetFormats  func(devicePath string) ([]v4l2.FormatInfo, error)
}

// Server is the Huma v2 API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	if opts.FindDevices == nil {
		opts.FindDevices = v4l2.FindDevices
	}
	if opts.GetFormats == nil {
		opts.GetFormats = v4l2.GetFormats
	}

	mux := http.NewServeMux()
	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("dmacap API", version.String())
	config.Info.Description = "Status of a zero-copy V4L2 DMA-BUF capture"
	// relative paths in the OpenAPI document
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// No auth for scrapers
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and blocks until the server is stopped.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the server immediately. SSE clients would otherwise hold a
// graceful shutdown open.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		user, pass, msg := credentials(ctx)
		if msg == "" && (user != username || pass != password) {
			msg = "Invalid credentials"
		}
		if msg != "" {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg)
			return
		}
		next(ctx)
	}
}

// credentials reads basic auth from the Authorization header, or from the
// auth query parameter for EventSource clients that cannot set headers.
// A non-empty msg describes why no credentials could be read.
func credentials(ctx huma.Context) (user, pass, msg string) {
	var encoded string
	if header := ctx.Header("Authorization"); header != "" {
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return "", "", "Invalid authentication type"
		}
		encoded = header[len(prefix):]
	} else {
		encoded = ctx.Query("auth")
	}
	if encoded == "" {
		return "", "", "Authentication required"
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", "Invalid credentials format"
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", "Invalid credentials format"
	}
	return user, pass, ""
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				GoVersion: info.GoVersion,
				Platform:  info.Platform,
				Kernel:    info.Kernel,
			},
		}, nil
	})

	s.registerCaptureRoutes()
	s.registerDeviceRoutes()
	s.registerLoggingRoutes()
	s.registerLEDRoutes()
	s.registerSSERoutes()
}

// withAuth returns the basic auth security requirement.
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}

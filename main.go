package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/dmacap/cmd"
	"github.com/smazurov/dmacap/internal/api"
	"github.com/smazurov/dmacap/internal/capture"
	"github.com/smazurov/dmacap/internal/config"
	"github.com/smazurov/dmacap/internal/events"
	"github.com/smazurov/dmacap/internal/led"
	"github.com/smazurov/dmacap/internal/logging"
	"github.com/smazurov/dmacap/internal/metrics"
	"github.com/smazurov/dmacap/internal/metrics/exporters"
	"github.com/smazurov/dmacap/internal/version"
)

// Options for the service mode - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Capture settings
	CaptureDevice            string `help:"V4L2 capture device (node path or /dev/v4l/by-id name)" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureAllocator         string `help:"DMA buffer allocator (heap[:name], udmabuf, memfd)" default:"heap:system" toml:"capture.allocator" env:"CAPTURE_ALLOCATOR"`
	CaptureWidth             int    `help:"Frame width in pixels" default:"1920" toml:"capture.width" env:"CAPTURE_WIDTH"`
	CaptureHeight            int    `help:"Frame height in pixels" default:"1020" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	CapturePixelFormat       string `help:"Pixel format FourCC" default:"BA24" toml:"capture.pixel_format" env:"CAPTURE_PIXEL_FORMAT"`
	CaptureBuffers           int    `help:"Number of DMA-BUF buffers" default:"4" toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	CaptureFrames            int    `help:"Frames to capture, 0 runs until stopped" default:"0" toml:"capture.frames" env:"CAPTURE_FRAMES"`
	CaptureTimeout           string `help:"Wait timeout per frame" default:"5s" toml:"capture.timeout" env:"CAPTURE_TIMEOUT"`
	CaptureMaxTimeouts       int    `help:"Consecutive timeouts tolerated" default:"3" toml:"capture.max_timeouts" env:"CAPTURE_MAX_TIMEOUTS"`
	CaptureValidateFrameSize bool   `help:"Drop frames whose size does not match the format" default:"true" toml:"capture.validate_frame_size" env:"CAPTURE_VALIDATE_FRAME_SIZE"`
	CaptureStopOnUnplug      bool   `help:"Stop when the device is unplugged" default:"true" toml:"capture.stop_on_unplug" env:"CAPTURE_STOP_ON_UNPLUG"`
	CaptureOutputDir         string `help:"Write frames to this directory" default:"" toml:"capture.output_dir" env:"CAPTURE_OUTPUT_DIR"`

	// Auth settings, empty disables auth
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Features settings
	FeaturesLEDControl bool `help:"Drive the board status LED from capture state" default:"false" toml:"features.led_control" env:"FEATURES_LED_CONTROL"`
	FeaturesMetricsSSE bool `help:"Publish capture metrics on the SSE stream" default:"true" toml:"features.metrics_sse" env:"FEATURES_METRICS_SSE"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingV4L2    string `help:"V4L2 logging level" default:"info" toml:"logging.v4l2" env:"LOGGING_V4L2"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func (o *Options) captureSettings() (cmd.CaptureSettings, error) {
	timeout, err := time.ParseDuration(o.CaptureTimeout)
	if err != nil {
		return cmd.CaptureSettings{}, errors.Join(capture.ErrConfig, err)
	}
	return cmd.CaptureSettings{
		Device:            o.CaptureDevice,
		Allocator:         o.CaptureAllocator,
		Width:             o.CaptureWidth,
		Height:            o.CaptureHeight,
		PixelFormat:       o.CapturePixelFormat,
		Buffers:           o.CaptureBuffers,
		Frames:            o.CaptureFrames,
		Timeout:           timeout,
		MaxTimeouts:       o.CaptureMaxTimeouts,
		ValidateFrameSize: o.CaptureValidateFrameSize,
		StopOnUnplug:      o.CaptureStopOnUnplug,
	}, nil
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		loadErr := config.LoadConfig(opts, nil)

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"capture": opts.LoggingCapture,
				"v4l2":    opts.LoggingV4L2,
				"api":     opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		settings, err := opts.captureSettings()
		var cfg capture.Config
		if err == nil {
			cfg, err = settings.Config()
		}
		// humacli runs this for subcommands too, so config errors only
		// abort service mode
		configErr := errors.Join(loadErr, err)

		eventBus := events.New()
		unsubMetrics := metrics.Subscribe(eventBus)

		// replaced by a FileSink in OnStart when an output directory is set
		consumer := &swappableConsumer{Consumer: capture.Discard}
		session := capture.NewSession(cfg, consumer,
			capture.WithLogger(logging.GetLogger("capture")),
			capture.WithPublisher(eventBus),
		)

		var indicator *led.Indicator
		var ledController led.Controller
		if opts.FeaturesLEDControl {
			ledLogger := logging.GetLogger("led")
			var statusLED string
			ledController, statusLED = led.New(ledLogger)
			indicator = led.NewIndicator(ledController, statusLED, eventBus, ledLogger)
		}

		var sseExporter *exporters.SSEExporter
		if opts.FeaturesMetricsSSE {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Capture:           session,
			EventBus:          eventBus,
			PrometheusHandler: exporters.HTTPHandler(),
			LEDController:     ledController,
		})

		ctx, cancel := context.WithCancel(context.Background())
		captureDone := make(chan capture.Status, 1)

		hooks.OnStart(func() {
			logger.Info("dmacap starting", "version", version.String(), "device", cfg.Device)
			if configErr != nil {
				logger.Error("Invalid configuration", "error", configErr)
				os.Exit(capture.StatusConfigError.ExitCode())
			}
			if opts.CaptureOutputDir != "" {
				sink, sinkErr := capture.NewFileSink(opts.CaptureOutputDir)
				if sinkErr != nil {
					logger.Error("Failed to prepare output directory", "error", sinkErr)
					os.Exit(capture.StatusConfigError.ExitCode())
				}
				consumer.Consumer = sink
			}

			if _, statErr := os.Stat(opts.Config); statErr == nil {
				if _, watchErr := config.WatchLogging(ctx, opts.Config, logger); watchErr != nil {
					logger.Warn("Config reload unavailable", "error", watchErr)
				}
			}
			if indicator != nil {
				indicator.Start()
			}
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			go func() {
				res, runErr := session.Run(ctx)
				if runErr != nil && !errors.Is(runErr, context.Canceled) {
					logger.Error("Capture stopped", "status", res.Status, "error", runErr)
				} else {
					logger.Info("Capture stopped", "status", res.Status, "delivered", res.Delivered)
				}
				captureDone <- res.Status
				// the service has nothing left to report once the capture ends
				if stopErr := server.Stop(); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}()

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			startErr := server.Start(opts.Port)
			if ctx.Err() != nil {
				// stopped by a signal, OnStop cleans up
				return
			}
			if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				cancel()
				<-captureDone
				shutdown(logger, cancel, indicator, sseExporter, unsubMetrics)
				os.Exit(1)
			}

			status := <-captureDone
			shutdown(logger, cancel, indicator, sseExporter, unsubMetrics)
			os.Exit(status.ExitCode())
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			cancel()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			<-captureDone
			shutdown(logger, cancel, indicator, sseExporter, unsubMetrics)
		})
	})

	cli.Root().Use = "dmacap"
	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateDevicesCmd())

	cli.Run()
}

// swappableConsumer lets OnStart pick the frame consumer after the session
// was built.
type swappableConsumer struct {
	capture.Consumer
}

func shutdown(logger *slog.Logger, cancel context.CancelFunc, indicator *led.Indicator, sse *exporters.SSEExporter, unsubMetrics func()) {
	cancel()
	if sse != nil {
		sse.Stop()
	}
	if indicator != nil {
		indicator.Stop()
	}
	unsubMetrics()
	logger.Info("Shutdown complete")
}

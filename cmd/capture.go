package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/dmacap/internal/capture"
	"github.com/smazurov/dmacap/internal/config"
	"github.com/smazurov/dmacap/internal/logging"
	"github.com/spf13/cobra"
)

// captureOptions are the flags of the capture command. Field names match
// the flag names so config.LoadConfig leaves explicit flags alone.
type captureOptions struct {
	Config string

	Device            string        `toml:"capture.device" env:"CAPTURE_DEVICE"`
	Allocator         string        `toml:"capture.allocator" env:"CAPTURE_ALLOCATOR"`
	Width             int           `toml:"capture.width" env:"CAPTURE_WIDTH"`
	Height            int           `toml:"capture.height" env:"CAPTURE_HEIGHT"`
	PixelFormat       string        `toml:"capture.pixel_format" env:"CAPTURE_PIXEL_FORMAT"`
	Buffers           int           `toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	Frames            int           `toml:"capture.frames" env:"CAPTURE_FRAMES"`
	Timeout           time.Duration `toml:"capture.timeout" env:"CAPTURE_TIMEOUT"`
	MaxTimeouts       int           `toml:"capture.max_timeouts" env:"CAPTURE_MAX_TIMEOUTS"`
	ValidateFrameSize bool          `toml:"capture.validate_frame_size" env:"CAPTURE_VALIDATE_FRAME_SIZE"`
	StopOnUnplug      bool          `toml:"capture.stop_on_unplug" env:"CAPTURE_STOP_ON_UNPLUG"`
	OutputDir         string        `toml:"capture.output_dir" env:"CAPTURE_OUTPUT_DIR"`

	LogJSON bool
}

func (o *captureOptions) settings() CaptureSettings {
	return CaptureSettings{
		Device:            o.Device,
		Allocator:         o.Allocator,
		Width:             o.Width,
		Height:            o.Height,
		PixelFormat:       o.PixelFormat,
		Buffers:           o.Buffers,
		Frames:            o.Frames,
		Timeout:           o.Timeout,
		MaxTimeouts:       o.MaxTimeouts,
		ValidateFrameSize: o.ValidateFrameSize,
		StopOnUnplug:      o.StopOnUnplug,
	}
}

// CreateCaptureCmd creates the one-shot capture command. The process exit
// code reflects the capture status.
func CreateCaptureCmd() *cobra.Command {
	return newCaptureCmd(&captureOptions{})
}

func newCaptureCmd(opts *captureOptions) *cobra.Command {
	defaults := DefaultSettings()

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames into DMA-BUF buffers and exit",
		Long: `Opens a V4L2 capture device, imports a pool of DMA-BUF buffers, captures a fixed ` +
			`number of frames and optionally writes each payload to <output-dir>/frame_<n>.bin. ` +
			`Exit codes: 0 success, 2 timed out, 3 device error, 4 allocation error, 5 config error, 130 cancelled.`,
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			os.Exit(runCapture(c, opts).ExitCode())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Config, "config", "c", "config.toml", "Path to configuration file")
	f.StringVarP(&opts.Device, "device", "d", defaults.Device, "V4L2 capture device (node path or /dev/v4l/by-id name)")
	f.StringVar(&opts.Allocator, "allocator", defaults.Allocator, "DMA buffer allocator (heap[:name], udmabuf, memfd)")
	f.IntVar(&opts.Width, "width", defaults.Width, "Frame width in pixels")
	f.IntVar(&opts.Height, "height", defaults.Height, "Frame height in pixels")
	f.StringVar(&opts.PixelFormat, "pixel-format", defaults.PixelFormat, "Pixel format FourCC")
	f.IntVarP(&opts.Buffers, "buffers", "n", defaults.Buffers, "Number of DMA-BUF buffers")
	f.IntVarP(&opts.Frames, "frames", "f", defaults.Frames, "Frames to capture, 0 until interrupted")
	f.DurationVar(&opts.Timeout, "timeout", defaults.Timeout, "Wait timeout per frame")
	f.IntVar(&opts.MaxTimeouts, "max-timeouts", defaults.MaxTimeouts, "Consecutive timeouts tolerated before failing")
	f.BoolVar(&opts.ValidateFrameSize, "validate-frame-size", defaults.ValidateFrameSize, "Drop frames whose size does not match the format")
	f.BoolVar(&opts.StopOnUnplug, "stop-on-unplug", defaults.StopOnUnplug, "Stop when the device is unplugged")
	f.StringVarP(&opts.OutputDir, "output-dir", "o", "", "Write frames to this directory")
	f.BoolVar(&opts.LogJSON, "log-json", false, "Use JSON log format")

	return cmd
}

func runCapture(c *cobra.Command, opts *captureOptions) capture.Status {
	loadErr := config.LoadConfig(opts, c)

	logCfg := config.LoadLoggingConfig(opts.Config)
	if opts.LogJSON {
		logCfg.Format = "json"
	}
	logging.Initialize(logCfg)
	logger := logging.GetLogger("main")

	if loadErr != nil {
		logger.Error("Failed to load configuration", "error", loadErr)
		return capture.StatusConfigError
	}

	cfg, err := opts.settings().Config()
	if err != nil {
		logger.Error("Invalid capture settings", "error", err)
		return capture.StatusOf(err)
	}

	parent := c.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, statErr := os.Stat(opts.Config); statErr == nil {
		w, watchErr := config.WatchLogging(ctx, opts.Config, logger)
		if watchErr != nil {
			logger.Warn("Config reload unavailable", "error", watchErr)
		} else {
			defer w.Stop()
		}
	}

	consumer, err := frameConsumer(opts.OutputDir, logging.GetLogger("capture"))
	if err != nil {
		logger.Error("Failed to prepare output", "error", err)
		return capture.StatusConfigError
	}

	session := capture.NewSession(cfg, consumer, capture.WithLogger(logging.GetLogger("capture")))
	res, err := session.Run(ctx)
	logResult(logger, res, err)
	return res.Status
}

// frameConsumer logs every frame and, with a directory, writes it there.
func frameConsumer(outputDir string, logger *slog.Logger) (capture.Consumer, error) {
	logFrame := capture.ConsumerFunc(func(_ context.Context, f capture.Frame) error {
		logger.Info("Frame",
			"index", f.Index,
			"sequence", f.Sequence,
			"width", f.Width,
			"height", f.Height,
			"stride", f.Stride,
			"bytes", f.Length)
		return nil
	})
	if outputDir == "" {
		return logFrame, nil
	}
	sink, err := capture.NewFileSink(outputDir)
	if err != nil {
		return nil, err
	}
	return capture.Tee(logFrame, sink), nil
}

func logResult(logger *slog.Logger, res capture.Result, err error) {
	attrs := []any{
		"status", res.Status,
		"delivered", res.Delivered,
		"dropped", res.Dropped,
		"resubmitted", res.Resubmitted,
		"timeouts", res.Timeouts,
	}
	switch {
	case err == nil:
		logger.Info("Capture finished", attrs...)
	case errors.Is(err, context.Canceled):
		logger.Warn("Capture cancelled", attrs...)
	default:
		logger.Error("Capture failed", append(attrs, "error", err)...)
	}
}

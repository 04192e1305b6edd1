package cmd

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/dmacap/internal/capture"
	"github.com/smazurov/dmacap/internal/config"
	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultSettings(t *testing.T) {
	cfg, err := DefaultSettings().Config()
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg != capture.DefaultConfig() {
		t.Errorf("Config() = %+v, want %+v", cfg, capture.DefaultConfig())
	}
}

func TestSettingsConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*CaptureSettings)
	}{
		{"no device", func(s *CaptureSettings) { s.Device = "" }},
		{"zero width", func(s *CaptureSettings) { s.Width = 0 }},
		{"negative height", func(s *CaptureSettings) { s.Height = -1 }},
		{"no buffers", func(s *CaptureSettings) { s.Buffers = 0 }},
		{"negative frames", func(s *CaptureSettings) { s.Frames = -1 }},
		{"negative timeout", func(s *CaptureSettings) { s.Timeout = -time.Second }},
		{"negative max timeouts", func(s *CaptureSettings) { s.MaxTimeouts = -2 }},
		{"bad fourcc", func(s *CaptureSettings) { s.PixelFormat = "TOOLONG" }},
		{"empty fourcc", func(s *CaptureSettings) { s.PixelFormat = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)
			_, err := s.Config()
			if !errors.Is(err, capture.ErrConfig) {
				t.Fatalf("Config() error = %v, want ErrConfig", err)
			}
			if capture.StatusOf(err).ExitCode() != 5 {
				t.Errorf("exit code = %d, want 5", capture.StatusOf(err).ExitCode())
			}
		})
	}
}

func TestSettingsPixelFormat(t *testing.T) {
	s := DefaultSettings()
	s.PixelFormat = "YUYV"
	cfg, err := s.Config()
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.PixelFormat != v4l2.PixFmtYUYV {
		t.Errorf("PixelFormat = %#x, want YUYV", cfg.PixelFormat)
	}
}

func TestCaptureCmdFlags(t *testing.T) {
	cmd := CreateCaptureCmd()

	tests := []struct {
		flag string
		want string
	}{
		{"device", "/dev/video0"},
		{"width", "1920"},
		{"height", "1020"},
		{"pixel-format", "BA24"},
		{"buffers", "4"},
		{"frames", "5"},
		{"timeout", "5s"},
		{"validate-frame-size", "true"},
		{"output-dir", ""},
	}
	for _, tt := range tests {
		f := cmd.Flags().Lookup(tt.flag)
		if f == nil {
			t.Errorf("flag %q missing", tt.flag)
			continue
		}
		if f.DefValue != tt.want {
			t.Errorf("flag %q default = %q, want %q", tt.flag, f.DefValue, tt.want)
		}
	}
}

func TestCaptureOptionsPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[capture]
device = "/dev/video9"
buffers = 2
timeout = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DMACAP_CAPTURE_FRAMES", "12")

	opts := &captureOptions{}
	cmd := newCaptureCmd(opts)
	if err := cmd.ParseFlags([]string{"--config", path, "--buffers", "3", "--device", "/dev/video0"}); err != nil {
		t.Fatal(err)
	}
	if err := config.LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	got := opts
	if got.Device != "/dev/video0" {
		t.Errorf("Device = %q, want flag value /dev/video0", got.Device)
	}
	if got.Buffers != 3 {
		t.Errorf("Buffers = %d, want flag value 3", got.Buffers)
	}
	if got.Frames != 12 {
		t.Errorf("Frames = %d, want env value 12", got.Frames)
	}
	if got.Timeout != 250*time.Millisecond {
		t.Errorf("Timeout = %s, want TOML value 250ms", got.Timeout)
	}
}

func TestFrameConsumer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	consumer, err := frameConsumer(dir, discardLogger())
	if err != nil {
		t.Fatalf("frameConsumer() error = %v", err)
	}

	data := []byte("abcdef")
	if err := consumer.Consume(t.Context(), capture.Frame{Data: data, Length: 4, Width: 2, Height: 1, Stride: 4}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "frame_0.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcd" {
		t.Errorf("frame_0.bin = %q, want abcd", got)
	}

	logOnly, err := frameConsumer("", discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := logOnly.Consume(t.Context(), capture.Frame{Data: data, Length: 6}); err != nil {
		t.Errorf("Consume() error = %v", err)
	}
}

func TestPrintDevices(t *testing.T) {
	devices := []v4l2.DeviceInfo{
		{
			DevicePath: "/dev/video0", DeviceName: "HDMI Capture", DeviceID: "usb-hdmi",
			Type: v4l2.DeviceTypeHDMI, Signal: v4l2.SignalStatus{State: v4l2.SignalLocked, Width: 1920, Height: 1080, FPS: 60},
		},
		{
			DevicePath: "/dev/video2", DeviceName: "Busy", DeviceID: "usb-busy",
			Type: v4l2.DeviceTypeHDMI, Signal: v4l2.SignalStatus{State: v4l2.SignalNoLink},
		},
		{DevicePath: "/dev/video4", DeviceName: "Webcam", DeviceID: "usb-cam", Type: v4l2.DeviceTypeWebcam},
	}
	formats := func(path string) ([]v4l2.FormatInfo, error) {
		if path == "/dev/video2" {
			return nil, errors.New("device busy")
		}
		return []v4l2.FormatInfo{
			{PixelFormat: v4l2.PixFmtYUYV, FormatName: "YUYV 4:2:2"},
			{PixelFormat: v4l2.PixFmtARGB32, FormatName: "32-bit ARGB", Emulated: true},
		}, nil
	}

	var buf bytes.Buffer
	if err := printDevices(&buf, devices, formats); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"/dev/video0", "HDMI Capture", "YUYV 4:2:2", "BA24", "(emulated)", "device busy", "1920x1080p60.00", "no-link", "webcam"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printDevices(&buf, nil, formats); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no capture devices") {
		t.Errorf("empty output = %q", buf.String())
	}
}

package led

import (
	"log/slog"
	"os"
	"strings"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// board maps a device tree model substring to its LED names. The first
// entry of each map is the status LED.
type board struct {
	model  string
	status string
	leds   map[string]string
}

var boards = []board{
	{model: "NanoPC-T6", status: "system", leds: map[string]string{"user": "usr_led", "system": "sys_led"}},
	{model: "Orange Pi", status: "green", leds: map[string]string{"blue": "blue_led", "green": "green_led"}},
	{model: "Raspberry Pi", status: "act", leds: map[string]string{"act": "ACT"}},
}

// New detects the board and returns its LED controller together with the
// LED type that should show capture status. Unknown boards get a no-op
// controller.
func New(logger *slog.Logger) (Controller, string) {
	model := detectBoard()
	for _, b := range boards {
		if strings.Contains(model, b.model) {
			logger.Info("Using sysfs LED controller", "board_model", model, "status_led", b.status)
			return newSysfs(b.leds), b.status
		}
	}
	logger.Info("No LED support detected, using no-op controller", "board_model", model)
	return newNoop(logger), "system"
}

// detectBoard reads the device tree model to identify the board.
func detectBoard() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return "unknown"
	}
	// Device tree strings are NUL terminated
	return strings.TrimRight(string(data), "\x00")
}

package led

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

const sysfsLEDPath = "/sys/class/leds"

// sysfs implements Controller using the Linux sysfs LED class.
type sysfs struct {
	root string
	leds map[string]string // LED type -> sysfs name
}

func newSysfs(leds map[string]string) *sysfs {
	return &sysfs{root: sysfsLEDPath, leds: leds}
}

// Set writes the trigger and brightness of the LED.
func (s *sysfs) Set(ledType string, enabled bool, pattern string) error {
	name, ok := s.leds[ledType]
	if !ok {
		return fmt.Errorf("LED type %q not supported on this board", ledType)
	}

	ledPath := filepath.Join(s.root, name)
	if _, err := os.Stat(ledPath); err != nil {
		return fmt.Errorf("LED %q not found at %s: %w", ledType, ledPath, err)
	}

	if pattern != "" {
		if err := writeAttr(ledPath, "trigger", trigger(pattern)); err != nil {
			return err
		}
	}

	brightness := "0"
	if enabled {
		brightness = "1"
	}
	return writeAttr(ledPath, "brightness", brightness)
}

// trigger maps a pattern to a kernel LED trigger. A solid LED uses the
// "none" trigger and is lit by its brightness.
func trigger(pattern string) string {
	switch pattern {
	case "solid":
		return "none"
	case "blink", "heartbeat":
		return "heartbeat"
	default:
		return pattern
	}
}

func writeAttr(ledPath, attr, value string) error {
	if err := os.WriteFile(filepath.Join(ledPath, attr), []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to set LED %s: %w", attr, err)
	}
	return nil
}

// Available returns the LED types of the board, sorted.
func (s *sysfs) Available() []string {
	types := make([]string, 0, len(s.leds))
	for ledType := range s.leds {
		types = append(types, ledType)
	}
	slices.Sort(types)
	return types
}

// Patterns returns the patterns Set understands.
func (s *sysfs) Patterns() []string {
	return []string{"solid", "blink", "heartbeat"}
}

// Package led drives a board status LED from capture state.
package led

// Controller abstracts LED hardware control across different SBC boards.
type Controller interface {
	// Set switches an LED on or off. pattern is "solid", "blink",
	// "heartbeat" or a raw trigger name; empty leaves the trigger alone.
	Set(ledType string, enabled bool, pattern string) error

	// Available returns the LED types supported by this controller.
	Available() []string

	// Patterns returns the patterns supported by this controller.
	Patterns() []string
}

package led

import (
	"log/slog"
	"sync"
)

// noop stands in on boards without a known status LED. It logs state
// changes so the capture state is still visible at debug level.
type noop struct {
	logger *slog.Logger

	mu   sync.Mutex
	last map[string]string
}

func newNoop(logger *slog.Logger) *noop {
	return &noop{logger: logger, last: make(map[string]string)}
}

func (n *noop) Set(ledType string, enabled bool, pattern string) error {
	state := "off"
	if enabled {
		state = pattern
	}

	n.mu.Lock()
	changed := n.last[ledType] != state
	n.last[ledType] = state
	n.mu.Unlock()

	if changed {
		n.logger.Debug("No status LED on this board", "led_type", ledType, "state", state)
	}
	return nil
}

func (n *noop) Available() []string { return []string{} }

func (n *noop) Patterns() []string { return []string{} }

// state returns the last requested state of ledType, "" if never set.
func (n *noop) state(ledType string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last[ledType]
}

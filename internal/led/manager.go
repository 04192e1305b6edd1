package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/dmacap/internal/events"
)

// Indicator shows the aggregate state of all capture devices on one LED:
// solid while every known device streams, blinking while any device is
// starting or has failed, off when everything stopped cleanly.
type Indicator struct {
	controller Controller
	ledType    string
	eventBus   *events.Bus
	logger     *slog.Logger

	mu     sync.Mutex
	unsubs []func()
	states map[string]deviceState
}

type deviceState int

const (
	stateIdle deviceState = iota
	stateStarting
	stateStreaming
	stateFailed
)

// NewIndicator creates an indicator driving ledType through controller.
func NewIndicator(controller Controller, ledType string, eventBus *events.Bus, logger *slog.Logger) *Indicator {
	return &Indicator{
		controller: controller,
		ledType:    ledType,
		eventBus:   eventBus,
		logger:     logger,
		states:     make(map[string]deviceState),
	}
}

// Start subscribes to capture events.
func (m *Indicator) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs = append(m.unsubs,
		m.eventBus.Subscribe(m.handleState),
		m.eventBus.Subscribe(m.handleRemoved),
	)
	m.logger.Info("LED indicator started", "led", m.ledType)
}

// Stop unsubscribes and turns the LED off. Safe to call more than once.
func (m *Indicator) Stop() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	if unsubs == nil {
		return
	}
	for _, unsub := range unsubs {
		unsub()
	}
	if err := m.controller.Set(m.ledType, false, ""); err != nil {
		m.logger.Warn("Failed to turn LED off", "error", err)
	}
	m.logger.Info("LED indicator stopped")
}

func (m *Indicator) handleState(e events.CaptureStateChangedEvent) {
	var st deviceState
	switch e.State {
	case events.StateStarting:
		st = stateStarting
	case events.StateStreaming:
		st = stateStreaming
	default:
		st = stateIdle
		if e.Status != "" && e.Status != "success" && e.Status != "cancelled" {
			st = stateFailed
		}
	}
	m.set(e.Device, st)
}

func (m *Indicator) handleRemoved(e events.DeviceRemovedEvent) {
	m.set(e.Device, stateFailed)
}

func (m *Indicator) set(device string, st deviceState) {
	m.mu.Lock()
	m.states[device] = st
	enabled, pattern := m.aggregate()
	m.mu.Unlock()

	m.logger.Debug("Capture state changed", "device", device, "led_pattern", pattern, "led_on", enabled)
	if err := m.controller.Set(m.ledType, enabled, pattern); err != nil {
		m.logger.Warn("Failed to set LED", "led", m.ledType, "pattern", pattern, "error", err)
	}
}

// aggregate must be called with mu held.
func (m *Indicator) aggregate() (enabled bool, pattern string) {
	streaming := 0
	for _, st := range m.states {
		switch st {
		case stateStarting, stateFailed:
			return true, "blink"
		case stateStreaming:
			streaming++
		}
	}
	if streaming > 0 {
		return true, "solid"
	}
	return false, "none"
}

// Controller returns the underlying LED controller.
func (m *Indicator) Controller() Controller {
	return m.controller
}

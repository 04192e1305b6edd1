//go:build linux

// Package hotplug provides pure Go device hotplug monitoring using netlink.
//
// This package monitors kernel device events without cgo by directly listening
// to NETLINK_KOBJECT_UEVENT messages from the kernel. The capture service uses
// it to stop streaming when its video node disappears.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Action constants for device events.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
	ActionBind   = "bind"
	ActionUnbind = "unbind"
)

// Common subsystem names.
const (
	SubsystemVideo4Linux = "video4linux"
	SubsystemUSB         = "usb"
)

// Event represents a kernel device event.
type Event struct {
	Action    string            // "add", "remove", "change", etc.
	KObj      string            // Kernel object path: /devices/pci0000:00/...
	Subsystem string            // "video4linux", "usb", etc.
	DevType   string            // Device type if available
	DevName   string            // Node name relative to /dev (e.g., "video0")
	DevPath   string            // sysfs path from DEVPATH
	Env       map[string]string // All environment variables from the event
}

// Node returns the /dev path of the event's device node, or "" when the
// event carries no DEVNAME.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/") {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

// Monitor listens for kernel device events via netlink.
type Monitor struct {
	fd        int
	closeOnce sync.Once
	filters   map[string]struct{}
	filtersMu sync.RWMutex
}

// NewMonitor creates a new device event monitor.
func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, err
	}

	// Bind to the kernel broadcast group
	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Receive timeout so Run can check its context periodically
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Monitor{
		fd:      fd,
		filters: make(map[string]struct{}),
	}, nil
}

// AddSubsystemFilter adds a subsystem filter. Only events from matching
// subsystems will be returned. If no filters are added, all events pass through.
// This method is safe for concurrent use.
func (m *Monitor) AddSubsystemFilter(subsystem string) {
	m.filtersMu.Lock()
	m.filters[subsystem] = struct{}{}
	m.filtersMu.Unlock()
}

func (m *Monitor) accepts(subsystem string) bool {
	m.filtersMu.RLock()
	defer m.filtersMu.RUnlock()
	if len(m.filters) == 0 {
		return true
	}
	_, ok := m.filters[subsystem]
	return ok
}

// Close releases the monitor resources. It is safe to call more than once.
func (m *Monitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = unix.Close(m.fd)
	})
	return err
}

// Run starts the monitor and sends events to the provided channel.
// It blocks until the context is cancelled or an error occurs.
// The events channel is closed when Run returns.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)

	buf := make([]byte, 8192)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		event := ParseUEvent(buf[:n])
		if event == nil || !m.accepts(event.Subsystem) {
			continue
		}

		select {
		case events <- *event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IsRemovalOf reports whether ev removes the device node at path. Symlinks
// such as /dev/v4l/by-id entries must be resolved by the caller.
func IsRemovalOf(ev Event, path string) bool {
	if ev.Action != ActionRemove {
		return false
	}
	node := ev.Node()
	return node != "" && filepath.Clean(node) == filepath.Clean(path)
}

// WatchRemoval blocks until the video4linux node at devicePath is removed,
// then calls onRemove once and returns nil. It returns the context error when
// ctx is cancelled first.
func WatchRemoval(ctx context.Context, devicePath string, onRemove func(Event)) error {
	target := devicePath
	if resolved, err := filepath.EvalSymlinks(devicePath); err == nil {
		target = resolved
	}

	m, err := NewMonitor()
	if err != nil {
		return err
	}
	defer m.Close()
	m.AddSubsystemFilter(SubsystemVideo4Linux)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, 8)
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx, events) }()

	for ev := range events {
		if IsRemovalOf(ev, target) {
			onRemove(ev)
			cancel()
			<-errCh
			return nil
		}
	}
	return <-errCh
}

// ParseUEvent parses a kernel uevent message.
// Format: "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0..."
func ParseUEvent(data []byte) *Event {
	if len(data) == 0 {
		return nil
	}

	// libudev prepends a binary header; the uevent starts after it
	if bytes.HasPrefix(data, []byte("libudev")) {
		for i := 0; i < len(data)-1; i++ {
			if data[i] == 0 {
				rest := data[i+1:]
				if idx := bytes.IndexByte(rest, '@'); idx > 0 && idx < 20 {
					data = rest
					break
				}
			}
		}
	}

	parts := bytes.Split(data, []byte{0})
	if len(parts[0]) == 0 {
		return nil
	}

	header := string(parts[0])
	action, kobj, ok := strings.Cut(header, "@")
	if !ok || action == "" {
		return nil
	}

	event := &Event{
		Action: action,
		KObj:   kobj,
		Env:    make(map[string]string),
	}

	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(string(part), "=")
		if !ok || key == "" {
			continue
		}
		event.Env[key] = value

		switch key {
		case "SUBSYSTEM":
			event.Subsystem = value
		case "DEVTYPE":
			event.DevType = value
		case "DEVNAME":
			event.DevName = value
		case "DEVPATH":
			event.DevPath = value
		}
	}

	return event
}

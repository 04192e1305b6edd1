//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"
)

const byIDDir = "/dev/v4l/by-id"

// FindDevices finds all V4L2 video capture devices on the system.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir("/sys/class/video4linux")
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	var devices []DeviceInfo

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		devicePath := "/dev/" + entry.Name()

		fd, err := open(devicePath)
		if err != nil {
			slog.With("component", "v4l2").Debug("failed to open video device", "path", devicePath, "error", err)
			continue
		}

		caps, err := queryCapabilities(fd)
		if err != nil {
			close(fd)
			slog.With("component", "v4l2").Debug("failed to query device capabilities", "path", devicePath, "error", err)
			continue
		}

		// Only include video capture devices
		if !caps.CanCapture() {
			close(fd)
			continue
		}
		status := statusOf(fd, caps)
		close(fd)

		// Get device index from sysfs
		indexPath := filepath.Join("/sys/class/video4linux", entry.Name(), "index")
		indexValue := readSysfsInt(indexPath)

		// Find stable ID from /dev/v4l/by-id/
		stableID := findStableID(entry.Name(), indexValue)
		if stableID == "" {
			// Fallback: synthetic ID from bus_info + index
			busInfo := caps.BusInfo
			if strings.HasPrefix(busInfo, "usb-") {
				stableID = fmt.Sprintf("%s-video-index%d", busInfo, indexValue)
			} else {
				stableID = fmt.Sprintf("platform-%s-video-index%d", busInfo, indexValue)
			}
		}

		devices = append(devices, DeviceInfo{
			DevicePath: devicePath,
			DeviceName: caps.Card,
			DeviceID:   stableID,
			Caps:       caps.Effective(),
			Type:       status.Type,
			Signal:     status.Signal,
		})
	}

	return devices, nil
}

// ResolveDevice maps a capture device given as an absolute node path, a
// /dev/v4l/by-id name or a synthetic DeviceID to its /dev node. Absolute
// paths are returned untouched.
func ResolveDevice(device string) (string, error) {
	if device == "" {
		return "", fmt.Errorf("%w: empty device", ErrDeviceNotFound)
	}
	if filepath.IsAbs(device) {
		return device, nil
	}

	if target, err := filepath.EvalSymlinks(filepath.Join(byIDDir, device)); err == nil {
		return target, nil
	}

	devices, err := FindDevices()
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.DeviceID == device {
			return d.DevicePath, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
}

// findStableID looks for a stable ID symlink in /dev/v4l/by-id/
func findStableID(deviceName string, indexValue int) string {
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	expectedSuffix := fmt.Sprintf("-video-index%d", indexValue)

	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		linkPath := filepath.Join(byIDDir, entry.Name())
		target, err := os.Readlink(linkPath)
		if err != nil {
			continue
		}

		// Get the video device name from the target
		targetBase := filepath.Base(target)
		if targetBase == deviceName && strings.HasSuffix(entry.Name(), expectedSuffix) {
			return entry.Name()
		}
	}

	return ""
}

// readSysfsInt reads an integer value from a sysfs file.
func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return val
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// queryCapabilities issues VIDIOC_QUERYCAP on an open descriptor.
func queryCapabilities(fd int) (Capabilities, error) {
	cap := v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&cap)); err != nil {
		return Capabilities{}, fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	return Capabilities{
		Driver:       cstr(cap.driver[:]),
		Card:         cstr(cap.card[:]),
		BusInfo:      cstr(cap.busInfo[:]),
		Version:      cap.version,
		Capabilities: cap.capabilities,
		DeviceCaps:   cap.deviceCaps,
	}, nil
}

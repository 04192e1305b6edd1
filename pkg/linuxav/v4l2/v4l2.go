//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format negotiation and DMA-BUF streaming capture.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Format Queries
//
// Query supported formats, resolutions, and framerates:
//
//	formats, _ := v4l2.GetFormats("/dev/video0")
//	for _, fmt := range formats {
//	    resolutions, _ := v4l2.GetResolutions("/dev/video0", fmt.PixelFormat)
//	}
//
// # Streaming
//
// A Device wraps an open capture node. Buffers are imported from DMA-BUF
// file descriptors, never allocated or mapped by the driver:
//
//	dev, _ := v4l2.Open("/dev/video0")
//	defer dev.Close()
//	format, _ := dev.SetFormat(v4l2.Format{Width: 1920, Height: 1080, PixelFormat: v4l2.PixFmtYUYV})
//	n, _ := dev.RequestBuffers(4)
//	for i := 0; i < n; i++ {
//	    dev.QueueDMABuf(i, fds[i])
//	}
//	dev.StreamOn()
//	if ok, _ := dev.WaitReadable(time.Second); ok {
//	    info, _ := dev.DequeueBuffer()
//	}
package v4l2

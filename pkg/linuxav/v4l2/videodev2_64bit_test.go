//go:build linux && (amd64 || arm64 || riscv64)

package v4l2

import "testing"

func TestStreamingIoctlNumbers64(t *testing.T) {
	tests := []struct {
		name     string
		got      uint
		expected uint
	}{
		{"VIDIOC_G_FMT", vidiocGFmt, 0xc0d05604},
		{"VIDIOC_S_FMT", vidiocSFmt, 0xc0d05605},
		{"VIDIOC_QBUF", vidiocQbuf, 0xc058560f},
		{"VIDIOC_DQBUF", vidiocDqbuf, 0xc0585611},
	}

	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s = 0x%08x, want 0x%08x", tt.name, tt.got, tt.expected)
		}
	}
}

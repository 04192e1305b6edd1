//go:build linux

package dmabuf

import (
	"fmt"
	"strings"
)

// Allocator creates Buffers.
type Allocator interface {
	// Allocate returns a new buffer sized for spec. Stride and Size are
	// derived from the format when left zero.
	Allocate(spec Spec) (*Buffer, error)
	// Name identifies the allocator in logs and configuration.
	Name() string
	// Close releases the allocator's device handle. Buffers already
	// allocated stay valid.
	Close() error
}

// DefaultAllocator is the allocator name used when none is configured.
const DefaultAllocator = "heap:system"

// NewAllocator returns the allocator for a configuration name:
//
//	heap:<name>  DMA heap under /dev/dma_heap (heap alone means heap:system)
//	udmabuf      memfd pages exported through /dev/udmabuf
//	memfd        memfd only; not importable by devices, useful for tests
func NewAllocator(name string) (Allocator, error) {
	switch {
	case name == "" || name == "heap":
		return NewHeapAllocator("system")
	case strings.HasPrefix(name, "heap:"):
		return NewHeapAllocator(strings.TrimPrefix(name, "heap:"))
	case name == "udmabuf":
		return NewUdmabufAllocator()
	case name == "memfd":
		return NewMemfdAllocator(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAllocator, name)
	}
}

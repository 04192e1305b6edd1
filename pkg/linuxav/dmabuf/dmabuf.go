//go:build linux

// Package dmabuf allocates and maps DMA-BUF backed memory in pure Go.
//
// A Buffer is one region of memory with a stable exported file descriptor.
// The descriptor is what gets handed to other kernel subsystems (a V4L2
// capture queue, a DRM display) so they can share the pages without copies.
//
// # Allocators
//
// Three allocators are provided:
//
//	heap, _ := dmabuf.NewHeapAllocator("system")  // /dev/dma_heap/system
//	udma, _ := dmabuf.NewUdmabufAllocator()       // memfd + /dev/udmabuf
//	mem := dmabuf.NewMemfdAllocator()             // plain memfd, CPU only
//
// NewAllocator resolves the names used in configuration files
// ("heap:system", "udmabuf", "memfd").
//
// # Mapping
//
// CPU access goes through Map, which brackets the mapping with
// DMA_BUF_IOCTL_SYNC so caches are coherent with device writes:
//
//	m, err := buf.Map()
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//	row := m.Data[y*m.Stride : y*m.Stride+width*4]
package dmabuf

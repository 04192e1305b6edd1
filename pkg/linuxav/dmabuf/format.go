//go:build linux

package dmabuf

import "fmt"

// Usage describes what a buffer will be used for. Allocators may use it to
// pick memory placement; the heap and memfd allocators only record it.
type Usage uint32

// Usage flags.
const (
	UsageCapture Usage = 1 << iota
	UsageScanout
	UsageRendering
	UsageCPURead
)

func (u Usage) String() string {
	names := []string{"capture", "scanout", "rendering", "cpu-read"}
	out := ""
	for i, name := range names {
		if u&(1<<i) == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += name
	}
	if out == "" {
		return "none"
	}
	return out
}

// FourCC builds a little-endian four character code.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Four character codes understood by Layout. Both the V4L2 and the DRM
// spellings of the 32-bit RGB formats are accepted.
const (
	FormatARGB32 uint32 = 0x34324142 // 'BA24' V4L2_PIX_FMT_ARGB32
	FormatXRGB32 uint32 = 0x34325842 // 'BX24' V4L2_PIX_FMT_XRGB32
	FormatABGR32 uint32 = 0x34325241 // 'AR24' V4L2_PIX_FMT_ABGR32, DRM_FORMAT_ARGB8888
	FormatXBGR32 uint32 = 0x34325258 // 'XR24' V4L2_PIX_FMT_XBGR32, DRM_FORMAT_XRGB8888
	FormatRGB24  uint32 = 0x33424752 // 'RGB3'
	FormatBGR24  uint32 = 0x33524742 // 'BGR3'
	FormatYUYV   uint32 = 0x56595559 // 'YUYV'
	FormatUYVY   uint32 = 0x59565955 // 'UYVY'
	FormatRGB565 uint32 = 0x50424752 // 'RGBP'
	FormatGrey   uint32 = 0x59455247 // 'GREY'
	FormatNV12   uint32 = 0x3231564E // 'NV12'
	FormatYUV420 uint32 = 0x32315559 // 'YU12'
	FormatMJPEG  uint32 = 0x47504A4D // 'MJPG'
)

const (
	strideAlign = 64
	// bytes per pixel reserved for compressed formats
	compressedSize = 4
)

// Spec describes a buffer to allocate. Stride and Size may be left zero, in
// which case Layout derives them from the format.
type Spec struct {
	Width  int
	Height int
	FourCC uint32
	Stride int
	Size   int
	Usage  Usage
}

// Layout returns the scanline stride and total byte size for a single
// plane (or contiguous multi-plane) image of the given format.
func Layout(fourcc uint32, width, height int) (stride, size int, err error) {
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}

	switch fourcc {
	case FormatARGB32, FormatXRGB32, FormatABGR32, FormatXBGR32:
		stride = align(width*4, strideAlign)
		return stride, stride * height, nil
	case FormatRGB24, FormatBGR24:
		stride = align(width*3, strideAlign)
		return stride, stride * height, nil
	case FormatYUYV, FormatUYVY, FormatRGB565:
		stride = align(width*2, strideAlign)
		return stride, stride * height, nil
	case FormatGrey:
		stride = align(width, strideAlign)
		return stride, stride * height, nil
	case FormatNV12, FormatYUV420:
		stride = align(width, strideAlign)
		return stride, stride * height * 3 / 2, nil
	case FormatMJPEG:
		// Compressed frames have no stride; reserve a worst case.
		return 0, width * height * compressedSize, nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fourccString(fourcc))
	}
}

// resolve fills in Stride and Size when the caller left them zero.
func (s Spec) resolve() (Spec, error) {
	stride, size, err := Layout(s.FourCC, s.Width, s.Height)
	if err != nil {
		// A caller-provided size for an unknown format is still usable.
		if s.Size > 0 && s.Width > 0 && s.Height > 0 {
			return s, nil
		}
		return s, err
	}
	if s.Stride == 0 {
		s.Stride = stride
	}
	if s.Size == 0 {
		s.Size = size
	}
	if s.Stride > 0 && s.Size < s.Stride*s.Height {
		return s, fmt.Errorf("%w: size %d smaller than %d rows of %d bytes", ErrInvalidSize, s.Size, s.Height, s.Stride)
	}
	return s, nil
}

func align(v, a int) int {
	return (v + a - 1) / a * a
}

func fourccString(f uint32) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

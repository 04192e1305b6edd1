//go:build linux && arm && !arm64

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions for 32-bit ARM.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{} // 32-bit timeval and union
)

// v4l2Format has size 204 bytes on 32-bit.
type v4l2Format struct {
	typ uint32        // offset 0
	pix v4l2PixFormat // offset 4
	_   [152]byte     // rest of the 200 byte union
}

// v4l2Buffer has size 68 bytes on 32-bit.
type v4l2Buffer struct {
	index     uint32       // offset 0
	typ       uint32       // offset 4
	bytesused uint32       // offset 8
	flags     uint32       // offset 12
	field     uint32       // offset 16
	timestamp unix.Timeval // offset 20
	timecode  v4l2Timecode // offset 28
	sequence  uint32       // offset 44
	memory    uint32       // offset 48
	m         uint32       // offset 52 - union: offset, userptr, planes, fd
	length    uint32       // offset 56
	reserved2 uint32       // offset 60
	requestFD uint32       // offset 64
}

func (b *v4l2Buffer) setFD(fd int) { b.m = uint32(int32(fd)) }

func (b *v4l2Buffer) fd() int { return int(int32(b.m)) }

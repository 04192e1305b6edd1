//go:build linux && (amd64 || arm64 || riscv64)

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// v4l2Format has size 208 bytes. The fmt union holds pointers
// (struct v4l2_window) so it is 8-byte aligned.
type v4l2Format struct {
	typ uint32        // offset 0
	_   uint32        // padding
	pix v4l2PixFormat // offset 8
	_   [152]byte     // rest of the 200 byte union
}

// v4l2Buffer has size 88 bytes.
type v4l2Buffer struct {
	index     uint32       // offset 0
	typ       uint32       // offset 4
	bytesused uint32       // offset 8
	flags     uint32       // offset 12
	field     uint32       // offset 16
	timestamp unix.Timeval // offset 24 (aligned)
	timecode  v4l2Timecode // offset 40
	sequence  uint32       // offset 56
	memory    uint32       // offset 60
	m         uint64       // offset 64 - union: offset, userptr, planes, fd
	length    uint32       // offset 72
	reserved2 uint32       // offset 76
	requestFD uint32       // offset 80
}

func (b *v4l2Buffer) setFD(fd int) { b.m = uint64(uint32(int32(fd))) }

func (b *v4l2Buffer) fd() int { return int(int32(uint32(b.m))) }

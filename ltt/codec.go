// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import "math"

// This file implements the primitive codec (component A): endian-aware
// fixed-width reads and the trace alignment rule. It plays the same role
// bufDecoder.go plays for perf.data: a tiny, allocation-free cursor over a
// byte slice that every higher-level decoder is built on.

// getU16 reads a little- or big-endian uint16 at the front of buf.
func getU16(reverseBO bool, buf []byte) uint16 {
	if reverseBO {
		return uint16(buf[1]) | uint16(buf[0])<<8
	}
	return uint16(buf[0]) | uint16(buf[1])<<8
}

func getU32(reverseBO bool, buf []byte) uint32 {
	if reverseBO {
		return uint32(buf[3]) | uint32(buf[2])<<8 | uint32(buf[1])<<16 | uint32(buf[0])<<24
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

func getU64(reverseBO bool, buf []byte) uint64 {
	if reverseBO {
		var x uint64
		for i := 0; i < 8; i++ {
			x |= uint64(buf[i]) << uint((7-i)*8)
		}
		return x
	}
	var x uint64
	for i := 0; i < 8; i++ {
		x |= uint64(buf[i]) << uint(i*8)
	}
	return x
}

func getI16(reverseBO bool, buf []byte) int16 { return int16(getU16(reverseBO, buf)) }
func getI32(reverseBO bool, buf []byte) int32 { return int32(getU32(reverseBO, buf)) }
func getI64(reverseBO bool, buf []byte) int64 { return int64(getU64(reverseBO, buf)) }

// getF32/getF64 additionally take the trace's float byte order, which on
// some architectures differs from the integer byte order (see
// FileParams.FloatWordOrder).
func getF32(reverseFloatBO bool, buf []byte) float32 {
	return math.Float32frombits(getU32(reverseFloatBO, buf))
}

func getF64(reverseFloatBO bool, buf []byte) float64 {
	return math.Float64frombits(getU64(reverseFloatBO, buf))
}

// align computes the number of padding bytes needed so that a read/write at
// the given drift (offset from some base) followed by those pad bytes lands
// on a multiple of min(hasAlignment, typeSize).
//
// hasAlignment == 0 disables alignment entirely (no padding, ever); this
// occurs for traces recorded on architectures where LTT_ALIGNMENT was
// compiled out.
func align(drift int, typeSize int, hasAlignment int) int {
	if hasAlignment == 0 {
		return 0
	}
	alignment := hasAlignment
	if typeSize < alignment {
		alignment = typeSize
	}
	if alignment == 0 {
		return 0
	}
	return (alignment - drift%alignment) % alignment
}

// decoder is a forward-only cursor over a byte slice, used while walking
// fixed-layout structures (sub-buffer headers, core facility events). Field
// resolution for user-defined event types goes through the Field/Type tree
// instead (see resolve.go), since those layouts aren't known until facility
// load.
type decoder struct {
	buf            []byte
	reverseBO      bool
	reverseFloatBO bool
}

func newDecoder(buf []byte, reverseBO, reverseFloatBO bool) *decoder {
	return &decoder{buf, reverseBO, reverseFloatBO}
}

func (d *decoder) skip(n int) { d.buf = d.buf[n:] }

func (d *decoder) u8() uint8 {
	x := d.buf[0]
	d.buf = d.buf[1:]
	return x
}

func (d *decoder) u16() uint16 {
	x := getU16(d.reverseBO, d.buf)
	d.buf = d.buf[2:]
	return x
}

func (d *decoder) u32() uint32 {
	x := getU32(d.reverseBO, d.buf)
	d.buf = d.buf[4:]
	return x
}

func (d *decoder) u64() uint64 {
	x := getU64(d.reverseBO, d.buf)
	d.buf = d.buf[8:]
	return x
}

func (d *decoder) i32() int32 {
	x := getI32(d.reverseBO, d.buf)
	d.buf = d.buf[4:]
	return x
}

func (d *decoder) cstring() string {
	for i, c := range d.buf {
		if c == 0 {
			s := string(d.buf[:i])
			d.buf = d.buf[i+1:]
			return s
		}
	}
	s := string(d.buf)
	d.buf = d.buf[len(d.buf):]
	return s
}

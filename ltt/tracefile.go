// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// This file implements the buffer mapper (component C): one per-CPU
// tracefile, its trace-level header, and sliding mmap of one sub-buffer at
// a time. Real LTT tracefiles are read by mmap'ing one fixed-size
// sub-buffer region at a time and unmapping the previous one, so this
// package reaches past a plain io.ReaderAt to golang.org/x/sys/unix
// directly for the actual mmap syscalls.
//
// There is no reserved header region separate from the event stream: the
// trace-level header is an inline extension of sub-buffer 0's own
// ltt_block_start_header, and every sub-buffer (0 included) is exactly
// buf_size bytes, so the sub-buffer count is simply file_size / buf_size.

const (
	magicLE = 0x00D6B7ED
	magicBE = 0xEDB7D600
)

// blockHeaderSize is sizeof(struct ltt_block_start_header) without the
// trailing trace[0] extension: begin{cycle_count,freq} + end{cycle_count,
// freq} + lost_size + buf_size.
const blockHeaderSize = 8 + 8 + 8 + 8 + 4 + 4

// traceHeaderSize is sizeof(struct ltt_trace_header_0_7), the version-0.7
// trace header inlined right after sub-buffer 0's block header: magic
// through freq_scale, plus the five version-0.7 reference-time fields.
const traceHeaderSize = 4 + 4 + 4 + 4 + 1 + 1 + 1 + 1 + 1 + 1 + 4 + 8 + 8 + 8 + 8 + 8

// Header is the fixed trace-level header, read once from sub-buffer 0 and
// shared by every tracefile in a trace: the reference TSC, reference wall
// time and reference monotonic time every other timestamp in the trace is
// anchored to.
type Header struct {
	Magic      uint32
	ReverseBO  bool // true if this file is big-endian (magic read as magicBE)
	BufferSize int64

	ArchType       uint32
	ArchVariant    uint32
	FloatWordOrder uint32
	ArchSize       uint8
	MajorVersion   uint8
	MinorVersion   uint8
	FlightRecorder uint8
	HasHeartbeat   bool
	HasAlignment   int // event header field alignment; 0 disables it
	FreqScale      uint32

	StartFreq      uint64
	StartTSC       uint64
	StartMonotonic uint64
	StartTimeSec   uint64
	StartTimeUsec  uint64
}

// subBufferHeader is the per-sub-buffer header preceding each sub-buffer's
// event stream.
type subBufferHeader struct {
	BeginCycleCount, EndCycleCount uint64
	BeginFreq, EndFreq             uint64
	LostSize                       uint32
	BufSize                        uint32
}

const subBufferHeaderSize = blockHeaderSize

// Tracefile is one per-CPU binary tracefile: a sequence of fixed-size
// sub-buffers, one of which is mapped into memory at a time.
type Tracefile struct {
	Path   string
	CPU    int
	Header Header

	f        *os.File
	fileSize int64
	pageSize int64

	numSubBuffers int

	mapped     []byte // the currently mapped sub-buffer, or nil
	mappedIdx  int
	mappedOff  int64 // page-aligned offset mapped[0] corresponds to
	curHeader  subBufferHeader
	nsecPerCyc float64
}

// OpenTracefile opens path (one per-CPU tracefile), reads and validates its
// trace-level header, and leaves it ready for sub-buffer mapping.
func OpenTracefile(path string, cpu int) (*Tracefile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapError(IoFailed, "open tracefile", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapError(IoFailed, "stat tracefile", err)
	}

	tf := &Tracefile{
		Path:     path,
		CPU:      cpu,
		f:        f,
		fileSize: st.Size(),
		pageSize: int64(os.Getpagesize()),
	}

	need := blockHeaderSize + traceHeaderSize
	hdrBuf := make([]byte, need)
	n, err := f.ReadAt(hdrBuf, 0)
	if err != nil && n < need {
		f.Close()
		return nil, wrapError(Truncated, "read trace header", err)
	}

	if err := tf.parseHeader(hdrBuf); err != nil {
		f.Close()
		return nil, err
	}

	if tf.Header.BufferSize <= 0 || tf.fileSize%tf.Header.BufferSize != 0 {
		f.Close()
		return nil, newError(Truncated, fmt.Sprintf(
			"tracefile size %d is not a multiple of sub-buffer size %d", tf.fileSize, tf.Header.BufferSize))
	}
	tf.numSubBuffers = int(tf.fileSize / tf.Header.BufferSize)

	return tf, nil
}

// parseHeader decodes sub-buffer 0's block header plus the trace header
// inlined immediately after it, detecting the trace's byte order from the
// magic number embedded within that trace header (ltt_trace_header_any,
// at blockHeaderSize bytes into the file).
func (tf *Tracefile) parseHeader(buf []byte) error {
	if len(buf) < blockHeaderSize+4 {
		return newError(Truncated, "trace header too short")
	}
	magicOff := blockHeaderSize
	le := getU32(false, buf[magicOff:])
	be := getU32(true, buf[magicOff:])

	var reverseBO bool
	switch {
	case le == magicLE:
		reverseBO = false
	case be == magicLE:
		reverseBO = true
	default:
		return newError(BadMagic, fmt.Sprintf("magic %#x matches neither byte order", le))
	}

	bufSize := int64(getU32(reverseBO, buf[36:40]))

	d := newDecoder(buf[magicOff+4:], reverseBO, reverseBO)
	h := Header{
		Magic:      magicLE,
		ReverseBO:  reverseBO,
		BufferSize: bufSize,
	}
	h.ArchType = d.u32()
	h.ArchVariant = d.u32()
	h.FloatWordOrder = d.u32()
	h.ArchSize = d.u8()
	h.MajorVersion = d.u8()
	h.MinorVersion = d.u8()
	h.FlightRecorder = d.u8()
	h.HasHeartbeat = d.u8() != 0
	h.HasAlignment = int(d.u8())
	h.FreqScale = d.u32()
	h.StartFreq = d.u64()
	h.StartTSC = d.u64()
	h.StartMonotonic = d.u64()
	h.StartTimeSec = d.u64()
	h.StartTimeUsec = d.u64()

	tf.Header = h
	return nil
}

// NumSubBuffers returns the number of fixed-size sub-buffers in the file.
func (tf *Tracefile) NumSubBuffers() int { return tf.numSubBuffers }

// MapSubBuffer maps sub-buffer idx into memory, unmapping whichever
// sub-buffer (if any) was previously mapped. The returned slice is only
// valid until the next MapSubBuffer or Close call.
func (tf *Tracefile) MapSubBuffer(idx int) ([]byte, error) {
	if idx < 0 || idx >= tf.numSubBuffers {
		return nil, newError(OutOfRange, fmt.Sprintf("sub-buffer %d out of range [0,%d)", idx, tf.numSubBuffers))
	}
	if tf.mapped != nil && tf.mappedIdx == idx {
		return tf.subBufferPayload(), nil
	}
	if err := tf.unmap(); err != nil {
		return nil, err
	}

	fileOff := int64(idx) * tf.Header.BufferSize
	alignedOff := fileOff - (fileOff % tf.pageSize)
	mapLen := tf.Header.BufferSize + (fileOff - alignedOff)

	data, err := unix.Mmap(int(tf.f.Fd()), alignedOff, int(mapLen), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, wrapError(IoFailed, "mmap sub-buffer", err)
	}
	tf.mapped = data
	tf.mappedIdx = idx
	tf.mappedOff = fileOff - alignedOff

	hdr := tf.mapped[tf.mappedOff : tf.mappedOff+blockHeaderSize]
	d := &decoder{buf: hdr, reverseBO: tf.Header.ReverseBO}
	tf.curHeader = subBufferHeader{
		BeginCycleCount: d.u64(),
		BeginFreq:       d.u64(),
		EndCycleCount:   d.u64(),
		EndFreq:         d.u64(),
		LostSize:        d.u32(),
		BufSize:         d.u32(),
	}
	tf.nsecPerCyc = cyclesToNsecsPerCycle(tf.curHeader.BeginFreq)

	return tf.subBufferPayload(), nil
}

// subBufferPayload returns the event-stream bytes of the currently mapped
// sub-buffer: everything after its block header (and, for sub-buffer 0,
// after the inline trace header too), up to buf_size - lost_size.
func (tf *Tracefile) subBufferPayload() []byte {
	headerEnd := blockHeaderSize
	if tf.mappedIdx == 0 {
		headerEnd += traceHeaderSize
	}
	start := tf.mappedOff + int64(headerEnd)
	end := tf.mappedOff + int64(tf.curHeader.BufSize) - int64(tf.curHeader.LostSize)
	if end < start {
		end = start
	}
	return tf.mapped[start:end]
}

func (tf *Tracefile) unmap() error {
	if tf.mapped == nil {
		return nil
	}
	err := unix.Munmap(tf.mapped)
	tf.mapped = nil
	if err != nil {
		return wrapError(IoFailed, "munmap sub-buffer", err)
	}
	return nil
}

// CurrentSubBufferHeader returns the header of the most recently mapped
// sub-buffer.
func (tf *Tracefile) CurrentSubBufferHeader() (beginCycle, endCycle uint64, nsecPerCycle float64) {
	return tf.curHeader.BeginCycleCount, tf.curHeader.EndCycleCount, tf.nsecPerCyc
}

// WallNanos converts a cycle count recorded by this tracefile (a
// begin/end cycle count, or an event's reconstructed TSC) to nanoseconds
// since the Unix epoch, anchored at the trace header's reference
// TSC/wall-time pair (start_tsc, start_time_sec, start_time_usec).
func (tf *Tracefile) WallNanos(cycle uint64) int64 {
	delta := int64(cycle) - int64(tf.Header.StartTSC)
	nsecPerCyc := cyclesToNsecsPerCycle(tf.Header.StartFreq)
	base := int64(tf.Header.StartTimeSec)*1e9 + int64(tf.Header.StartTimeUsec)*1000
	return base + int64(float64(delta)*nsecPerCyc)
}

// Close unmaps any mapped sub-buffer and closes the underlying file.
func (tf *Tracefile) Close() error {
	unmapErr := tf.unmap()
	closeErr := tf.f.Close()
	if unmapErr != nil {
		return unmapErr
	}
	if closeErr != nil {
		return wrapError(IoFailed, "close tracefile", closeErr)
	}
	return nil
}

// cyclesToNsecsPerCycle converts a sub-buffer's recorded cycle-counter
// frequency (in kHz, as LTT records it) to nanoseconds per cycle, for
// interpolating wall-clock time from the TSC-derived timestamps within a
// sub-buffer.
func cyclesToNsecsPerCycle(freqKHz uint64) float64 {
	if freqKHz == 0 {
		return 0
	}
	return 1e6 / float64(freqKHz)
}

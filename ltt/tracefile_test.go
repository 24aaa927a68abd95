// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import "testing"

func TestCyclesToNsecsPerCycle(t *testing.T) {
	if got, want := cyclesToNsecsPerCycle(0), 0.0; got != want {
		t.Errorf("freq 0: got %v, want %v", got, want)
	}
	// 1000 kHz == 1 MHz == 1000 ns per cycle.
	if got, want := cyclesToNsecsPerCycle(1000), 1000.0; got != want {
		t.Errorf("freq 1000kHz: got %v, want %v", got, want)
	}
}

func TestParseHeaderBadMagic(t *testing.T) {
	tf := &Tracefile{}
	buf := make([]byte, blockHeaderSize+traceHeaderSize)
	if err := tf.parseHeader(buf); err == nil {
		t.Fatal("expected BadMagic error for all-zero header")
	} else if e, ok := err.(*Error); !ok || e.Kind != BadMagic {
		t.Errorf("got %v, want BadMagic", err)
	}
}

func TestParseHeaderByteOrder(t *testing.T) {
	buf := make([]byte, blockHeaderSize+traceHeaderSize)
	off := blockHeaderSize
	buf[off], buf[off+1], buf[off+2], buf[off+3] = 0xED, 0xB7, 0xD6, 0x00
	tf := &Tracefile{}
	if err := tf.parseHeader(buf); err != nil {
		t.Fatalf("parseHeader: %v", err)
	}
	if tf.Header.ReverseBO {
		t.Error("little-endian magic should not set ReverseBO")
	}

	buf2 := make([]byte, blockHeaderSize+traceHeaderSize)
	buf2[off], buf2[off+1], buf2[off+2], buf2[off+3] = 0x00, 0xD6, 0xB7, 0xED
	tf2 := &Tracefile{}
	if err := tf2.parseHeader(buf2); err != nil {
		t.Fatalf("parseHeader: %v", err)
	}
	if !tf2.Header.ReverseBO {
		t.Error("byte-swapped magic should set ReverseBO")
	}
}

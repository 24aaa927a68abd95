// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import "testing"

func TestGetU32(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04}
	if got, want := getU32(false, buf), uint32(0x04030201); got != want {
		t.Errorf("getU32(false, ...) = %#x, want %#x", got, want)
	}
	if got, want := getU32(true, buf), uint32(0x01020304); got != want {
		t.Errorf("getU32(true, ...) = %#x, want %#x", got, want)
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		drift, typeSize, hasAlignment, want int
	}{
		{0, 8, 0, 0}, // alignment disabled
		{0, 8, 8, 0}, // already aligned
		{1, 8, 8, 7}, // pad up to next 8
		{1, 2, 8, 1}, // alignment is min(has, typeSize) = 2
		{4, 8, 4, 0}, // aligned to 4
		{5, 8, 4, 3},
	}
	for _, tc := range tests {
		if got := align(tc.drift, tc.typeSize, tc.hasAlignment); got != tc.want {
			t.Errorf("align(%d, %d, %d) = %d, want %d", tc.drift, tc.typeSize, tc.hasAlignment, got, tc.want)
		}
	}
}

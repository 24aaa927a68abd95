// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

import (
	"strings"
	"testing"
)

func TestTextSourceParsesPair(t *testing.T) {
	src := NewTextSource(strings.NewReader("1 2 0.000001 0.0000015\n"))

	a, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if a.Trace != 1 || a.Time != 1000 || a.Dir != DirOut {
		t.Errorf("first segment = %+v", a)
	}

	b, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if b.Trace != 2 || b.Time != 1500 || b.Dir != DirIn {
		t.Errorf("second segment = %+v", b)
	}
	if a.Key.Conn != b.Key.Conn {
		t.Errorf("segments from the same line should share a connection key")
	}

	if _, err := src.Next(); err != EndOfSegments {
		t.Errorf("Next at EOF = %v, want EndOfSegments", err)
	}
}

func TestTextSourceSkipsBlankAndComments(t *testing.T) {
	src := NewTextSource(strings.NewReader(
		"# a comment\n\n1 2 0 0.000000005\n"))
	a, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if a.Trace != 1 {
		t.Errorf("Trace = %d, want 1", a.Trace)
	}
}

func TestTextSourceLeadingTraceCount(t *testing.T) {
	src := NewTextSource(strings.NewReader("3\n1 2 0 0.000000005\n"))
	if _, err := src.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if src.TraceCount != 3 {
		t.Errorf("TraceCount = %d, want 3", src.TraceCount)
	}
}

func TestTextSourceBadField(t *testing.T) {
	src := NewTextSource(strings.NewReader("x 2 0 0.000000005\n"))
	if _, err := src.Next(); err == nil {
		t.Error("expected error for non-numeric snd trace")
	}
}

func TestTCPMatcherFeedFromTextSource(t *testing.T) {
	src := NewTextSource(strings.NewReader("1 2 0.0000001 0.00000015\n"))
	m := NewTCPMatcher()
	var got []Message
	for {
		seg, err := src.Next()
		if err == EndOfSegments {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if msg, _ := m.Observe(seg); msg != nil {
			got = append(got, *msg)
		}
	}
	if len(got) != 1 {
		t.Fatalf("messages = %v, want 1", got)
	}
	if got[0].Out.Trace != 1 || got[0].In.Trace != 2 {
		t.Errorf("message = %+v", got[0])
	}
}

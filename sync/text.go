// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// This file implements the Processing stage's text-mode Source
// (component I): a line-based synchronization trace. An optional first
// line gives the trace count; every following non-blank, non-comment
// line describes one observed message:
//
//	snd rcv t_snd t_rcv
//
// where snd/rcv are trace ids and t_snd/t_rcv are the send and receive
// times in seconds, used for testing and for instrumentation that can't
// easily emit full TCP segments. Each line is expanded into a matching
// DirOut/DirIn Segment pair sharing a synthetic per-line SegmentKey with
// no ack-chain flags set, so it flows through the same TCPMatcher the
// binary TCP path uses without ever touching the unacked queue.

// TextSource reads lines of the form above from r.
type TextSource struct {
	sc         *bufio.Scanner
	line       int
	sawCount   bool
	TraceCount int
	buffered   []Segment
}

func NewTextSource(r io.Reader) *TextSource {
	return &TextSource{sc: bufio.NewScanner(r)}
}

func (s *TextSource) Next() (Segment, error) {
	for len(s.buffered) == 0 {
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return Segment{}, fmt.Errorf("text sync source: %w", err)
			}
			return Segment{}, EndOfSegments
		}
		line := strings.TrimSpace(s.sc.Text())
		s.line++
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !s.sawCount {
			s.sawCount = true
			if n, err := strconv.Atoi(line); err == nil {
				s.TraceCount = n
				continue
			}
			// Not a bare count: fall through and parse it as a message.
		}
		pair, err := parseLine(line, s.line)
		if err != nil {
			return Segment{}, err
		}
		s.buffered = pair
	}
	seg := s.buffered[0]
	s.buffered = s.buffered[1:]
	return seg, nil
}

func parseLine(line string, lineNo int) ([]Segment, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return nil, fmt.Errorf("line %d: want 4 fields (snd rcv t_snd t_rcv), got %d", lineNo, len(fields))
	}

	snd, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("line %d: bad snd trace: %w", lineNo, err)
	}
	rcv, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("line %d: bad rcv trace: %w", lineNo, err)
	}
	tSnd, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return nil, fmt.Errorf("line %d: bad t_snd: %w", lineNo, err)
	}
	tRcv, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, fmt.Errorf("line %d: bad t_rcv: %w", lineNo, err)
	}

	// Each line names its own synthetic connection: the send and receive
	// segments share the key, but no two lines ever collide.
	conn := ConnectionKey{SAddr: 1, DAddr: 2, SPort: uint16(lineNo), DPort: uint16(lineNo)}
	key := SegmentKey{Conn: conn, Seq: uint32(lineNo)}
	return []Segment{
		{Trace: TraceID(snd), Time: int64(tSnd * 1e9), Dir: DirOut, Key: key},
		{Trace: TraceID(rcv), Time: int64(tRcv * 1e9), Dir: DirIn, Key: key},
	}, nil
}

// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

// This file implements the Matching stage (component J): pairing a TCP
// segment observed being sent in one trace with the identical segment
// observed being received in another, the way event_matching_tcp.c drains
// its unmatched_in/unmatched_out queues as the two traces' segment
// streams interleave, then chases each message's ack through the
// unacked queue of its reverse connection to group it with every
// message that later acknowledges it.

// Direction records which side of a send/receive pair a Segment is.
type Direction uint8

const (
	DirOut Direction = iota
	DirIn
)

// TCPFlags mirrors the subset of the TCP header's control bits that
// matter for matching and ack-chasing.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagACK
)

// ConnectionKey identifies one TCP connection by its full 4-tuple, as
// recorded in the packet itself (not normalized by direction: a segment
// sent by the connection's "client" and one sent by its "server" carry
// reversed SAddr/DAddr and SPort/DPort).
type ConnectionKey struct {
	SAddr, DAddr uint32
	SPort, DPort uint16
}

func reverseConnection(c ConnectionKey) ConnectionKey {
	return ConnectionKey{SAddr: c.DAddr, DAddr: c.SAddr, SPort: c.DPort, DPort: c.SPort}
}

// SegmentKey identifies one TCP segment by its header fields, exactly as
// they appear on the wire. The same segment observed being sent in one
// trace and received in another carries an identical SegmentKey; the two
// observations are distinguished only by the Segment's own Direction and
// Trace, never by anything in the key.
type SegmentKey struct {
	Conn       ConnectionKey
	IHL        uint8
	TotLen     uint16
	Seq        uint32
	AckSeq     uint32
	DataOffset uint8
	Flags      TCPFlags
}

func (k SegmentKey) needsAck() bool {
	if k.Flags&(FlagSYN|FlagFIN) != 0 {
		return true
	}
	headerBytes := int(k.IHL)*4 + int(k.DataOffset)*4
	return int(k.TotLen) > headerBytes
}

// Message is one TCP segment matched between its send (Out) and its
// receipt (In) in two different traces.
type Message struct {
	Out, In Segment
}

// Exchange groups a Message together with every earlier message it
// acknowledges: once an incoming segment's ack_seq passes the seq of a
// previously unacked message on the reverse connection, every such
// message is drained and delivered together as one Exchange.
type Exchange struct {
	Message Message
	Acks    []Message
}

// MatchingStats mirrors event_matching_tcp.c's MatchingStatsTCP: running
// counters on the matching process, kept for diagnostics but never
// printed by this package on their own.
type MatchingStats struct {
	SegmentsObserved int
	LoopbackDropped  int
	MessagesMatched  int
	ExchangesDrained int
	UnmatchedDropped int
}

// TCPMatcher implements the two-step matching algorithm: a companion
// lookup under the segment's own key, followed by an ack-chase against
// the reverse connection's queue of messages still awaiting
// acknowledgement.
type TCPMatcher struct {
	unmatchedOut map[SegmentKey]Segment
	unmatchedIn  map[SegmentKey]Segment
	unacked      map[ConnectionKey][]Message

	Stats MatchingStats
}

func NewTCPMatcher() *TCPMatcher {
	return &TCPMatcher{
		unmatchedOut: make(map[SegmentKey]Segment),
		unmatchedIn:  make(map[SegmentKey]Segment),
		unacked:      make(map[ConnectionKey][]Message),
	}
}

// Observe feeds one more segment into the matcher. It returns the
// Message the segment completed, if any, and every Exchange that
// Message's arrival drained from the reverse connection's unacked queue.
func (m *TCPMatcher) Observe(seg Segment) (*Message, []Exchange) {
	m.Stats.SegmentsObserved++

	ownMap, otherMap := m.unmatchedOut, m.unmatchedIn
	if seg.Dir == DirIn {
		ownMap, otherMap = m.unmatchedIn, m.unmatchedOut
	}

	companion, found := otherMap[seg.Key]
	if !found {
		ownMap[seg.Key] = seg
		return nil, nil
	}
	delete(otherMap, seg.Key)

	msg := Message{Out: companion, In: seg}
	if seg.Dir == DirOut {
		msg = Message{Out: seg, In: companion}
	}
	if msg.Out.Trace == msg.In.Trace {
		m.Stats.LoopbackDropped++
		return nil, nil
	}
	m.Stats.MessagesMatched++

	var exchanges []Exchange
	connKey := msg.Out.Key.Conn
	rev := reverseConnection(connKey)
	if queue := m.unacked[rev]; len(queue) > 0 {
		i := 0
		for i < len(queue) && queue[i].Out.Key.Seq < msg.Out.Key.AckSeq {
			i++
		}
		if i > 0 {
			acked := append([]Message(nil), queue[:i]...)
			m.unacked[rev] = queue[i:]
			exchanges = append(exchanges, Exchange{Message: msg, Acks: acked})
			m.Stats.ExchangesDrained++
		}
	}

	if msg.Out.Key.needsAck() {
		m.unacked[connKey] = append(m.unacked[connKey], msg)
	}

	return &msg, exchanges
}

// Drain reports how many segments and unacknowledged messages never
// found a counterpart, updating Stats.UnmatchedDropped, and discards
// them. Call it once after the segment source is exhausted.
func (m *TCPMatcher) Drain() {
	m.Stats.UnmatchedDropped += len(m.unmatchedOut) + len(m.unmatchedIn)
	for k := range m.unmatchedOut {
		delete(m.unmatchedOut, k)
	}
	for k := range m.unmatchedIn {
		delete(m.unmatchedIn, k)
	}
	for k, q := range m.unacked {
		m.Stats.UnmatchedDropped += len(q)
		delete(m.unacked, k)
	}
}

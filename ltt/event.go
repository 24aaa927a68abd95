// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

// This file implements the event decoder (component D): the three-step
// read_next (seek past the previous event, decode the fixed event header,
// resolve the payload against the event type's field tree) and 32-to-64-bit
// TSC reconstruction for heartbeat-truncated timestamps.
//
// Per-event header layout (ltt_event_header_hb / ltt_event_header_nohb):
// whether the TSC is a 32-bit heartbeat-truncated cycle count or a full
// 64-bit one is a trace-wide choice (Header.HasHeartbeat), not something
// recorded per event:
//
//	4 or 8 bytes TSC (trace-wide has_heartbeat selects the width)
//	byte         facility id
//	byte         event id
//	2 bytes      event_size (payload length in bytes, not including header)

// Event is one decoded trace event: its timing, its type, and its
// resolved field tree ready for field value extraction.
type Event struct {
	CPU                     int
	Facility                *Facility
	EventType               *EventType
	TSC                     uint64
	NanosFromSubBufferStart int64
	Fields                  []ResolvedField
	Payload                 []byte
}

// Reader decodes a sequential stream of events out of one Tracefile,
// consulting registry to resolve facility_id/event_id into an EventType.
type Reader struct {
	tf       *Tracefile
	registry *Registry

	subIdx  int
	payload []byte
	pos     int

	lastTSC      uint64
	beginCycle   uint64
	nsecPerCycle float64
}

// NewReader opens a decoding cursor at the start of tf.
func NewReader(tf *Tracefile, registry *Registry) (*Reader, error) {
	r := &Reader{tf: tf, registry: registry}
	if tf.NumSubBuffers() == 0 {
		return r, nil
	}
	if err := r.mapSubBuffer(0); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) mapSubBuffer(idx int) error {
	payload, err := r.tf.MapSubBuffer(idx)
	if err != nil {
		return err
	}
	beginCycle, _, nsecPerCycle := r.tf.CurrentSubBufferHeader()
	r.subIdx = idx
	r.payload = payload
	r.pos = 0
	r.lastTSC = beginCycle
	r.beginCycle = beginCycle
	r.nsecPerCycle = nsecPerCycle
	return nil
}

// Next decodes and returns the next event in the tracefile, advancing past
// sub-buffer boundaries transparently. It returns EndOfTrace once the last
// sub-buffer is exhausted.
func (r *Reader) Next() (*Event, error) {
	for r.pos >= len(r.payload) {
		if r.subIdx+1 >= r.tf.NumSubBuffers() {
			return nil, EndOfTrace
		}
		if err := r.mapSubBuffer(r.subIdx + 1); err != nil {
			return nil, err
		}
	}

	hdr := r.payload[r.pos:]

	var tsc uint64
	if r.tf.Header.HasHeartbeat {
		if len(hdr) < 4 {
			return nil, newError(Truncated, "32-bit TSC")
		}
		low32 := getU32(r.tf.Header.ReverseBO, hdr)
		tsc = reconstructTSC(r.lastTSC, low32)
		hdr = hdr[4:]
	} else {
		if len(hdr) < 8 {
			return nil, newError(Truncated, "64-bit TSC")
		}
		tsc = getU64(r.tf.Header.ReverseBO, hdr)
		hdr = hdr[8:]
	}
	r.lastTSC = tsc

	if len(hdr) < 4 {
		return nil, newError(Truncated, "facility/event/size header fields")
	}
	facilityID := int(hdr[0])
	eventID := int(hdr[1])
	eventSize := getU16(r.tf.Header.ReverseBO, hdr[2:4])
	hdr = hdr[4:]

	payloadStart := len(r.payload) - len(hdr)
	payloadEnd := payloadStart + int(eventSize)
	if payloadEnd > len(r.payload) {
		return nil, newError(Truncated, "event payload runs past sub-buffer")
	}
	payload := r.payload[payloadStart:payloadEnd]

	fac, err := r.registry.LookupByID(facilityID)
	if err != nil {
		return nil, err
	}
	et, err := r.registry.EventType(fac, eventID)
	if err != nil {
		return nil, err
	}

	fields, err := ResolveFields(fac, et.Fields, payload, 0, r.tf.Header.ReverseBO)
	if err != nil {
		return nil, err
	}

	nanos := int64(float64(tsc-r.beginCycle) * r.nsecPerCycle)

	r.pos = payloadEnd

	return &Event{
		CPU:                     r.tf.CPU,
		Facility:                fac,
		EventType:               et,
		TSC:                     tsc,
		NanosFromSubBufferStart: nanos,
		Fields:                  fields,
		Payload:                 payload,
	}, nil
}

// reconstructTSC recombines a 32-bit heartbeat-truncated cycle count with
// the high 32 bits of the last seen full TSC. Cycle counters only
// increase, so if the new low 32 bits appear to have gone backwards the
// counter must have wrapped since the last event and the high word is
// incremented.
func reconstructTSC(last uint64, low32 uint32) uint64 {
	high32 := last >> 32
	if low32 < uint32(last) {
		high32++
	}
	return high32<<32 | uint64(low32)
}

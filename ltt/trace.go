// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// This file implements the trace opener (component F): discovering the
// per-CPU tracefiles of a trace directory, grouping them by tracefile
// name, and bootstrapping the facility registry off the control
// tracefile's core events (facility id 0, which is wired in directly
// rather than loaded from a schema, exactly as ltt/facility.c treats the
// "core" facility as built in).

var tracefileNameRE = regexp.MustCompile(`^(.+)_(\d+)$`)

// Trace is an opened LTT trace directory: every grouped tracefile plus the
// facility registry bootstrapped from its control stream.
type Trace struct {
	Dir      string
	Groups   map[string][]*Tracefile // tracefile name -> per-CPU files, sorted by CPU
	Registry *Registry

	StartTSC, EndTSC uint64
}

// SchemaSource resolves a facility name to its parsed XML schema
// descriptor. It is the seam the (out-of-scope) XML schema parser plugs
// into; descriptor_xml.go provides the concrete stdlib-based
// implementation.
type SchemaSource interface {
	Load(name string) (*Descriptor, error)
}

// coreFacilityID is the id the control tracefile's bootstrap events
// (facility_load, facility_unload, heartbeat, state_dump_facility_load)
// are always encoded under, regardless of any other facility's assigned
// id (ltt/facility.c: LTT_FACILITY_CORE == 0).
const coreFacilityID = 0

const (
	coreEventFacilityLoad = iota
	coreEventFacilityUnload
	coreEventHeartbeat
	coreEventStateDumpFacilityLoad
)

// OpenTrace walks dir for tracefiles named "<name>_<cpu>", groups them,
// and bootstraps the facility registry from the control tracefile's
// core events before returning.
func OpenTrace(dir string, schemas SchemaSource) (*Trace, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wrapError(IoFailed, "read trace directory", err)
	}

	groups := make(map[string][]*Tracefile)
	var groupCPUs = make(map[string][]int)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := tracefileNameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		name, cpuStr := m[1], m[2]
		cpu, err := strconv.Atoi(cpuStr)
		if err != nil {
			continue
		}
		tf, err := OpenTracefile(filepath.Join(dir, e.Name()), cpu)
		if err != nil {
			return nil, fmt.Errorf("tracefile %q: %w", e.Name(), err)
		}
		groups[name] = append(groups[name], tf)
		groupCPUs[name] = append(groupCPUs[name], cpu)
	}

	for name := range groups {
		files := groups[name]
		cpus := groupCPUs[name]
		sort.Sort(byCPU{files, cpus})
	}

	if len(groups["control"]) == 0 {
		return nil, newError(Protocol, "no control tracefile found")
	}

	t := &Trace{Dir: dir, Groups: groups, Registry: NewRegistry()}
	if err := t.bootstrapFacilities(schemas); err != nil {
		return nil, err
	}
	if err := t.computeTimeSpan(); err != nil {
		return nil, err
	}
	return t, nil
}

type byCPU struct {
	files []*Tracefile
	cpus  []int
}

func (b byCPU) Len() int { return len(b.files) }
func (b byCPU) Swap(i, j int) {
	b.files[i], b.files[j] = b.files[j], b.files[i]
	b.cpus[i], b.cpus[j] = b.cpus[j], b.cpus[i]
}
func (b byCPU) Less(i, j int) bool { return b.cpus[i] < b.cpus[j] }

// bootstrapFacilities reads every "<dir>/control/facilities_<cpu>" file
// (only CPU 0 carries the control stream in practice, but every grouped
// file is scanned for robustness) and loads every facility_load event it
// contains, plus handles facility_unload/heartbeat/state_dump_facility_load
// as the four permitted core events.
func (t *Trace) bootstrapFacilities(schemas SchemaSource) error {
	control := t.Groups["control/facilities"]
	if control == nil {
		control = t.Groups["facilities"]
	}
	if control == nil {
		return newError(Protocol, "no control/facilities tracefile found")
	}

	// Core events are decoded with a fixed, compiled-in layout below
	// (readCoreEvent): they predate any facility being loaded, so they
	// cannot go through the Field/Type machinery every other event uses.
	for _, tf := range control {
		r, err := NewReader(tf, t.Registry)
		if err != nil {
			return err
		}
		for {
			ev, err := t.readCoreEvent(r, tf)
			if err == EndOfTrace {
				break
			}
			if err != nil {
				return err
			}
			if err := t.handleCoreEvent(ev, schemas); err != nil {
				return err
			}
		}
	}
	return nil
}

// coreEvent is a decoded control-stream event, using the fixed layout the
// core facility's four permitted events share instead of the general
// Field/Type resolver (the control stream exists precisely to bootstrap
// that resolver, so it can't depend on it).
type coreEvent struct {
	Kind     int
	Name     string
	FacID    int
	Checksum uint32
	Params   FileParams
}

// readCoreEvent decodes one control-stream event directly off the
// tracefile's raw sub-buffer bytes, bypassing the Registry-backed
// Reader.Next (which needs a loaded facility to resolve event_id, exactly
// what the control stream is still in the process of providing).
func (t *Trace) readCoreEvent(r *Reader, tf *Tracefile) (*coreEvent, error) {
	for r.pos >= len(r.payload) {
		if r.subIdx+1 >= tf.NumSubBuffers() {
			return nil, EndOfTrace
		}
		if err := r.mapSubBuffer(r.subIdx + 1); err != nil {
			return nil, err
		}
	}

	hdr := r.payload[r.pos:]
	var tsc uint64
	if tf.Header.HasHeartbeat {
		if len(hdr) < 4 {
			return nil, newError(Truncated, "core event 32-bit TSC")
		}
		tsc = reconstructTSC(r.lastTSC, getU32(tf.Header.ReverseBO, hdr))
		hdr = hdr[4:]
	} else {
		if len(hdr) < 8 {
			return nil, newError(Truncated, "core event 64-bit TSC")
		}
		tsc = getU64(tf.Header.ReverseBO, hdr)
		hdr = hdr[8:]
	}
	r.lastTSC = tsc

	if len(hdr) < 4 {
		return nil, newError(Truncated, "core event facility/event/size fields")
	}
	facilityID := int(hdr[0])
	eventKind := int(hdr[1])
	size := getU16(tf.Header.ReverseBO, hdr[2:4])
	hdr = hdr[4:]

	payloadStart := len(r.payload) - len(hdr)
	payloadEnd := payloadStart + int(size)
	if payloadEnd > len(r.payload) {
		return nil, newError(Truncated, "core event payload runs past sub-buffer")
	}
	payload := r.payload[payloadStart:payloadEnd]
	r.pos = payloadEnd

	if facilityID != coreFacilityID {
		return nil, newError(Protocol, fmt.Sprintf("control tracefile contains non-core facility id %d", facilityID))
	}
	switch eventKind {
	case coreEventFacilityLoad, coreEventStateDumpFacilityLoad:
		d := newDecoder(payload, tf.Header.ReverseBO, tf.Header.ReverseBO)
		name := d.cstring()
		checksum := d.u32()
		facID := int(d.u32())
		params := FileParams{
			IntSize:      int(d.u32()),
			LongSize:     int(d.u32()),
			PointerSize:  int(d.u32()),
			SizeTSize:    int(d.u32()),
			HasAlignment: int(d.u32()),
		}
		return &coreEvent{Kind: coreEventFacilityLoad, Name: name, FacID: facID, Checksum: checksum, Params: params}, nil
	case coreEventFacilityUnload:
		d := newDecoder(payload, tf.Header.ReverseBO, tf.Header.ReverseBO)
		d.cstring()
		facID := int(d.u32())
		return &coreEvent{Kind: coreEventFacilityUnload, FacID: facID}, nil
	case coreEventHeartbeat:
		return &coreEvent{Kind: coreEventHeartbeat}, nil
	default:
		return nil, newError(Protocol, fmt.Sprintf("control tracefile contains non-core event kind %d", eventKind))
	}
}

func (t *Trace) handleCoreEvent(ev *coreEvent, schemas SchemaSource) error {
	switch ev.Kind {
	case coreEventFacilityLoad:
		d, err := schemas.Load(ev.Name)
		if err != nil {
			return wrapError(SchemaMissing, fmt.Sprintf("facility %q", ev.Name), err)
		}
		if _, err := t.Registry.Load(ev.FacID, d, ev.Checksum, ev.Params); err != nil {
			return err
		}
	case coreEventFacilityUnload:
		if err := t.Registry.Unload(ev.FacID); err != nil {
			return err
		}
	case coreEventHeartbeat:
		// Heartbeats exist only to bound 32-bit TSC wraparound; no
		// registry state changes.
	}
	return nil
}

// computeTimeSpan scans every tracefile's sub-buffers for the minimum
// begin-cycle and maximum end-cycle, giving the trace's global time span
// (Trace.StartTSC, Trace.EndTSC).
func (t *Trace) computeTimeSpan() error {
	first := true
	for _, files := range t.Groups {
		for _, tf := range files {
			for i := 0; i < tf.NumSubBuffers(); i++ {
				if _, err := tf.MapSubBuffer(i); err != nil {
					return err
				}
				begin, end, _ := tf.CurrentSubBufferHeader()
				if first {
					t.StartTSC, t.EndTSC = begin, end
					first = false
					continue
				}
				if begin < t.StartTSC {
					t.StartTSC = begin
				}
				if end > t.EndTSC {
					t.EndTSC = end
				}
			}
		}
	}
	return nil
}

// Close closes every tracefile opened for this trace.
func (t *Trace) Close() error {
	var first error
	for _, files := range t.Groups {
		for _, tf := range files {
			if err := tf.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

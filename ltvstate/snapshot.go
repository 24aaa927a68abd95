// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltvstate

import "sort"

// This file implements the periodic snapshot mechanism that makes seeking
// into the middle of a long trace affordable: instead of replaying every
// event from the start of the trace, a seek restores the nearest snapshot
// at or before the target and replays forward only from there.

// Snapshot is a deep copy of a Session's process table as of one specific
// event count (and the TSC that event count corresponds to, the seek key).
type Snapshot struct {
	EventCount int
	TSC        uint64

	processes map[int]*Process
	running   []*Process
}

// SnapshotStore triggers and retains periodic Snapshots of a Session,
// evicting nothing (a trace viewer typically keeps every snapshot, since
// even every-10000-events for a million-event trace is a modest number of
// copies relative to the cost of a full replay).
type SnapshotStore struct {
	every     int
	snapshots []*Snapshot
}

// NewSnapshotStore returns a store that takes a snapshot every `every`
// processed events.
func NewSnapshotStore(every int) *SnapshotStore {
	if every <= 0 {
		every = 1
	}
	return &SnapshotStore{every: every}
}

// Observe is called after each event s.Update processes; it takes a
// snapshot if eventCount has crossed the next multiple of `every`.
func (st *SnapshotStore) Observe(s *Session, eventCount int, tsc uint64) {
	if eventCount%st.every != 0 {
		return
	}
	st.snapshots = append(st.snapshots, st.capture(s, eventCount, tsc))
}

func (st *SnapshotStore) capture(s *Session, eventCount int, tsc uint64) *Snapshot {
	processes := make(map[int]*Process, len(s.processes))
	for pid, p := range s.processes {
		processes[pid] = clone(p)
	}
	running := make([]*Process, len(s.running))
	for cpu, p := range s.running {
		if p != nil {
			running[cpu] = processes[p.PID]
		}
	}
	return &Snapshot{EventCount: eventCount, TSC: tsc, processes: processes, running: running}
}

func clone(p *Process) *Process {
	stack := make([]ModeFrame, len(p.Stack))
	copy(stack, p.Stack)
	calls := make([]uint64, len(p.Calls))
	copy(calls, p.Calls)
	cp := *p
	cp.Stack = stack
	cp.Calls = calls
	cp.Extra = p.Extra.Fork(p.PID).(ForkableExtra)
	return &cp
}

// Nearest returns the latest snapshot at or before tsc, or nil if tsc
// precedes every snapshot (in which case the caller should replay from
// the very start of the trace).
func (st *SnapshotStore) Nearest(tsc uint64) *Snapshot {
	i := sort.Search(len(st.snapshots), func(i int) bool {
		return st.snapshots[i].TSC > tsc
	})
	if i == 0 {
		return nil
	}
	return st.snapshots[i-1]
}

// Restore replaces s's live process table with a deep copy of snap's,
// leaving snap itself unmodified so it can be restored from again later.
func (s *Session) Restore(snap *Snapshot) {
	s.processes = make(map[int]*Process, len(snap.processes))
	for pid, p := range snap.processes {
		s.processes[pid] = clone(p)
	}
	s.running = make([]*Process, len(snap.running))
	for cpu, p := range snap.running {
		if p != nil {
			s.running[cpu] = s.processes[p.PID]
		}
	}
}

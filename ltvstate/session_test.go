// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltvstate

import (
	"testing"

	"github.com/polymtl/lttreplay/ltt"
)

func buildEvent(t *testing.T, eventName string, cpu int, fields map[string]int32) *ltt.Event {
	t.Helper()
	d := &ltt.Descriptor{
		Name:     "test",
		Checksum: 1,
	}
	var fds []ltt.FieldDescriptor
	var names []string
	for name := range fields {
		fds = append(fds, ltt.FieldDescriptor{Name: name, Type: &ltt.TypeDescriptor{Kind: ltt.KindInt, IntSize: 4}})
		names = append(names, name)
	}
	d.Events = []ltt.EventDescriptor{{Name: eventName, Fields: fds}}

	fac, err := ltt.AddFromDescriptor(0, d, 1, ltt.FileParams{IntSize: 4, LongSize: 8, PointerSize: 8, SizeTSize: 8})
	if err != nil {
		t.Fatalf("AddFromDescriptor: %v", err)
	}

	payload := make([]byte, 4*len(names))
	for i, name := range names {
		v := uint32(fields[name])
		payload[i*4], payload[i*4+1], payload[i*4+2], payload[i*4+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}

	rfs, err := ltt.ResolveFields(fac, fac.EventTypes[0].Fields, payload, 0, false)
	if err != nil {
		t.Fatalf("ResolveFields: %v", err)
	}

	return &ltt.Event{
		CPU:       cpu,
		Facility:  fac,
		EventType: &fac.EventTypes[0],
		Payload:   payload,
		Fields:    rfs,
	}
}

func TestSchedChangeTracksRunning(t *testing.T) {
	s := New(2)
	ev := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 0, "next_pid": 42})
	if err := s.Update(ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	p := s.Running(0)
	if p == nil || p.PID != 42 {
		t.Fatalf("Running(0) = %+v, want pid 42", p)
	}
	if p.Status != StatusRun {
		t.Errorf("status = %v, want run", p.Status)
	}
}

func TestForkCreatesChild(t *testing.T) {
	s := New(1)
	s.ensure(10).Name = "parent"
	ev := buildEvent(t, "fork", 0, map[string]int32{"parent_pid": 10, "child_pid": 11})
	if err := s.Update(ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	child := s.LookupPID(11)
	if child == nil {
		t.Fatal("expected child process 11 to exist")
	}
	if child.PPID != 10 || child.Name != "parent" || child.Status != StatusWaitFork {
		t.Errorf("child = %+v", child)
	}
	if len(child.Stack) != 2 {
		t.Fatalf("child stack = %+v, want 2 frames", child.Stack)
	}
	if child.Stack[0].Mode != ModeUserMode || child.Stack[0].Status != StatusRun {
		t.Errorf("child bottom frame = %+v, want UserMode/Run", child.Stack[0])
	}
	if child.Stack[1].Mode != ModeSyscall || child.Stack[1].Status != StatusWaitFork {
		t.Errorf("child top frame = %+v, want Syscall/WaitFork", child.Stack[1])
	}
}

func TestSchedChangeExitTransitionsToZombie(t *testing.T) {
	s := New(1)
	ev := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 0, "next_pid": 9})
	if err := s.Update(ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	s.LookupPID(9).Status = StatusExit

	ev2 := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 9, "next_pid": 10, "out_state": 0})
	if err := s.Update(ev2); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := s.LookupPID(9).Status; got != StatusZombie {
		t.Errorf("status = %v, want zombie", got)
	}
}

func TestSchedChangeExitDeadDestroysProcess(t *testing.T) {
	s := New(1)
	ev := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 0, "next_pid": 9})
	if err := s.Update(ev); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ev2 := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 9, "next_pid": 10, "out_state": 32})
	if err := s.Update(ev2); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.LookupPID(9) != nil {
		t.Error("expected pid 9 to be destroyed after EXIT_DEAD schedchange")
	}
}

func TestSchedChangeWaitVsWaitCPU(t *testing.T) {
	s := New(1)
	ev := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 0, "next_pid": 9})
	if err := s.Update(ev); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ev2 := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 9, "next_pid": 10, "out_state": 1})
	if err := s.Update(ev2); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := s.LookupPID(9).Status; got != StatusWait {
		t.Errorf("status = %v, want wait (non-zero out_state)", got)
	}
}

func TestFreeRemovesProcess(t *testing.T) {
	s := New(1)
	s.ensure(5)
	ev := buildEvent(t, "free", 0, map[string]int32{"pid": 5})
	if err := s.Update(ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.LookupPID(5) != nil {
		t.Error("expected process 5 to be removed after free")
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := New(1)
	store := NewSnapshotStore(1)

	ev := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 0, "next_pid": 7})
	if err := s.Update(ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	store.Observe(s, 1, 1000)

	ev2 := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 7, "next_pid": 8})
	if err := s.Update(ev2); err != nil {
		t.Fatalf("Update: %v", err)
	}
	store.Observe(s, 2, 2000)

	if s.Running(0).PID != 8 {
		t.Fatalf("before restore, Running(0) = %+v", s.Running(0))
	}

	snap := store.Nearest(1500)
	if snap == nil || snap.TSC != 1000 {
		t.Fatalf("Nearest(1500) = %+v, want TSC 1000", snap)
	}
	s.Restore(snap)
	if s.Running(0).PID != 7 {
		t.Errorf("after restore, Running(0) = %+v, want pid 7", s.Running(0))
	}
}

func TestFunctionStackSeparateFromModeStack(t *testing.T) {
	s := New(1)
	ev := buildEvent(t, "schedchange", 0, map[string]int32{"prev_pid": 0, "next_pid": 9})
	if err := s.Update(ev); err != nil {
		t.Fatalf("Update: %v", err)
	}
	depth := len(s.Running(0).Stack)

	entry := buildEvent(t, "function_entry", 0, map[string]int32{"this_fn": 100})
	if err := s.Update(entry); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(s.Running(0).Stack) != depth {
		t.Errorf("function_entry changed the execution-mode stack")
	}
	if len(s.Running(0).Calls) != 1 || s.Running(0).Calls[0] != 100 {
		t.Errorf("Calls = %v, want [100]", s.Running(0).Calls)
	}

	// A mismatched this_fn on exit is a no-op (lost the matching entry).
	mismatch := buildEvent(t, "function_exit", 0, map[string]int32{"this_fn": 200})
	if err := s.Update(mismatch); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(s.Running(0).Calls) != 1 {
		t.Errorf("mismatched function_exit popped the call stack")
	}

	exit := buildEvent(t, "function_exit", 0, map[string]int32{"this_fn": 100})
	if err := s.Update(exit); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(s.Running(0).Calls) != 0 {
		t.Errorf("Calls after matching exit = %v, want empty", s.Running(0).Calls)
	}
}

func TestExitThenFreeDestroysProcess(t *testing.T) {
	s := New(1)
	s.ensure(5)

	exitEv := buildEvent(t, "exit", 0, map[string]int32{"pid": 5})
	if err := s.Update(exitEv); err != nil {
		t.Fatalf("Update exit: %v", err)
	}
	if got := s.LookupPID(5).Status; got != StatusExit {
		t.Errorf("status after exit = %v, want exit", got)
	}

	freeEv := buildEvent(t, "free", 0, map[string]int32{"released_pid": 5})
	if err := s.Update(freeEv); err != nil {
		t.Fatalf("Update free: %v", err)
	}
	if s.LookupPID(5) != nil {
		t.Error("expected process 5 to be destroyed after free")
	}
}

// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ltvstate replays a kernel trace's process-lifecycle and
// execution-mode events into a live process table, the way a trace
// viewer keeps track of "what was running, in what mode, on every CPU"
// as it walks events forward.
package ltvstate

import (
	"fmt"

	"github.com/polymtl/lttreplay/ltt"
)

// ExecMode is the outer state of the execution-mode stack: what context a
// CPU was in at a given instant.
type ExecMode uint8

const (
	ModeUnknown ExecMode = iota
	ModeUserMode
	ModeSyscall
	ModeTrap
	ModeIRQ
	ModeSoftIRQ
)

func (m ExecMode) String() string {
	switch m {
	case ModeUserMode:
		return "user"
	case ModeSyscall:
		return "syscall"
	case ModeTrap:
		return "trap"
	case ModeIRQ:
		return "irq"
	case ModeSoftIRQ:
		return "softirq"
	default:
		return "unknown"
	}
}

// ProcessStatus is a process's scheduling status, independent of which
// execution mode it's currently running in.
type ProcessStatus uint8

const (
	StatusUnnamed ProcessStatus = iota
	StatusWaitFork
	StatusWaitCPU
	StatusWait
	StatusRun
	StatusExit
	StatusZombie
	StatusDead
	StatusUnbranded
)

func (s ProcessStatus) String() string {
	switch s {
	case StatusWaitFork:
		return "wait_fork"
	case StatusWaitCPU:
		return "wait_cpu"
	case StatusWait:
		return "wait"
	case StatusRun:
		return "run"
	case StatusExit:
		return "exit"
	case StatusZombie:
		return "zombie"
	case StatusDead:
		return "dead"
	case StatusUnbranded:
		return "unbranded"
	default:
		return "unnamed"
	}
}

// ProcessType distinguishes kernel threads (which never exec and are
// marked by a dedicated event rather than discovered implicitly) from
// ordinary user processes.
type ProcessType uint8

const (
	TypeUnknown ProcessType = iota
	TypeKernelThread
	TypeUserThread
)

// ModeFrame is one entry of a process's execution-mode stack: the outer
// mode, a submode identifying which syscall/trap/irq/softirq number it is,
// the scheduling status in effect while this frame is on top, and the
// entry TSC (for computing time-in-mode on pop).
type ModeFrame struct {
	Mode     ExecMode
	Submode  int
	Status   ProcessStatus
	EntryTSC uint64
}

// exitDead is the out_state value a schedchange event carries for a
// process exiting for good (TASK_DEAD in the kernel's sense), as opposed
// to merely blocking.
const exitDead = 32

// Process is the live state of one process the replay engine tracks. The
// process table is keyed by pid alone, so pid 0 is a single entry shared
// by every CPU rather than one per CPU. Kernel threads never change cpu,
// but user processes may migrate; Process.CPU always reflects its last-known CPU.
type Process struct {
	PID, PPID, TGID int
	CPU             int
	Type            ProcessType
	Status          ProcessStatus
	Name            string
	Brand           string

	Stack []ModeFrame // execution-mode stack: syscall/trap/irq/softirq nesting
	Calls []uint64    // user-level call stack: this_fn addresses from function_entry

	Extra ForkableExtra
}

// fork builds the child process's fixed two-frame stack: UserMode/Unnamed
// at the bottom (the frame it will resume into once scheduled), Syscall
// (the fork syscall itself) above it, rather than copying the parent's
// arbitrary stack depth at the moment of the call.
func (p *Process) fork(pid int, tsc uint64) *Process {
	return &Process{
		PID: pid, PPID: p.PID, TGID: pid, CPU: p.CPU, Type: p.Type,
		Status: StatusWaitFork, Name: p.Name, Brand: p.Brand,
		Stack: []ModeFrame{
			{Mode: ModeUserMode, Status: StatusRun, EntryTSC: tsc},
			{Mode: ModeSyscall, Status: StatusWaitFork, EntryTSC: tsc},
		},
		Extra: p.Extra.Fork(pid).(ForkableExtra),
	}
}

// Session is the replay engine: the live process table and per-CPU
// running-process pointers, advanced one decoded event at a time by
// Update.
type Session struct {
	NumCPUs int

	processes map[int]*Process // keyed by pid
	running   []*Process       // indexed by cpu; nil if idle

	Extra map[ExtraKey]interface{}
}

func New(numCPUs int) *Session {
	return &Session{
		NumCPUs:   numCPUs,
		processes: make(map[int]*Process),
		running:   make([]*Process, numCPUs),
		Extra:     make(map[ExtraKey]interface{}),
	}
}

func (s *Session) ensure(pid int) *Process {
	p, ok := s.processes[pid]
	if !ok {
		p = &Process{PID: pid, Status: StatusUnnamed, Extra: make(ForkableExtra)}
		s.processes[pid] = p
	}
	return p
}

// LookupPID returns the process currently tracked under pid, or nil.
func (s *Session) LookupPID(pid int) *Process { return s.processes[pid] }

// Running returns the process currently running on cpu, or nil if idle.
func (s *Session) Running(cpu int) *Process {
	if cpu < 0 || cpu >= len(s.running) {
		return nil
	}
	return s.running[cpu]
}

// field looks up a scalar payload field by name on ev, decoding it with
// fac's byte order. It is a small convenience the handlers below share;
// the general field-value API belongs to package ltt, this is just the
// handful of accessors the state machine needs.
func field(ev *ltt.Event, name string) (int64, bool) {
	for i, f := range ev.EventType.Fields {
		if f.Name != name {
			continue
		}
		rf := ev.Fields[i]
		buf := ev.Payload[rf.Offset : rf.Offset+rf.Size]
		var v int64
		switch rf.Size {
		case 1:
			v = int64(buf[0])
		case 2:
			v = int64(int16(uint16(buf[0]) | uint16(buf[1])<<8))
		case 4:
			v = int64(int32(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24))
		default:
			var x uint64
			for j := 0; j < len(buf) && j < 8; j++ {
				x |= uint64(buf[j]) << uint(8*j)
			}
			v = int64(x)
		}
		return v, true
	}
	return 0, false
}

func stringField(ev *ltt.Event, name string) (string, bool) {
	for i, f := range ev.EventType.Fields {
		if f.Name != name {
			continue
		}
		rf := ev.Fields[i]
		buf := ev.Payload[rf.Offset : rf.Offset+rf.Size]
		if len(buf) > 0 && buf[len(buf)-1] == 0 {
			buf = buf[:len(buf)-1]
		}
		return string(buf), true
	}
	return "", false
}

// Update advances the replay engine by one decoded event. It dispatches on
// the event type's name, mirroring the real LTT state computation's
// per-event handler table (state.c's hook registration), but expressed as
// a Go switch statement on the event type name.
func (s *Session) Update(ev *ltt.Event) error {
	switch ev.EventType.Name {
	case "syscall_entry":
		s.pushMode(ev, ModeSyscall)
	case "syscall_exit":
		s.popMode(ev)
	case "trap_entry":
		s.pushMode(ev, ModeTrap)
	case "trap_exit":
		s.popMode(ev)
	case "irq_entry":
		s.pushMode(ev, ModeIRQ)
	case "irq_exit":
		s.popMode(ev)
	case "soft_irq_entry":
		s.pushMode(ev, ModeSoftIRQ)
	case "soft_irq_exit":
		s.popMode(ev)
	case "schedchange":
		return s.schedChange(ev)
	case "fork":
		return s.fork(ev)
	case "kernel_thread":
		return s.kernelThread(ev)
	case "exit":
		return s.exit(ev)
	case "free":
		return s.free(ev)
	case "exec":
		return s.exec(ev)
	case "thread_brand":
		return s.threadBrand(ev)
	case "statedump_process_state":
		return s.statedump(ev)
	case "function_entry":
		s.pushFunction(ev)
	case "function_exit":
		s.popFunction(ev)
	}
	return nil
}

func (s *Session) pushMode(ev *ltt.Event, mode ExecMode) {
	p := s.Running(ev.CPU)
	if p == nil {
		return
	}
	submode := 0
	if v, ok := field(ev, "syscall_id"); ok {
		submode = int(v)
	} else if v, ok := field(ev, "trap_id"); ok {
		submode = int(v)
	} else if v, ok := field(ev, "irq_id"); ok {
		submode = int(v)
	}
	p.Stack = append(p.Stack, ModeFrame{Mode: mode, Submode: submode, Status: p.Status, EntryTSC: ev.TSC})
}

// pushFunction pushes onto the user-level call stack (Process.Calls), kept
// separate from the execution-mode stack (Process.Stack): a function call
// nests inside whatever mode it's called from, but doesn't itself change
// that mode.
func (s *Session) pushFunction(ev *ltt.Event) {
	p := s.Running(ev.CPU)
	if p == nil {
		return
	}
	addr, _ := field(ev, "this_fn")
	p.Calls = append(p.Calls, uint64(addr))
}

// popFunction pops the user-level call stack. A mismatched this_fn against
// the top of stack means an entry event was lost; per the event-loss
// tolerance rule this is a no-op rather than an error.
func (s *Session) popFunction(ev *ltt.Event) {
	p := s.Running(ev.CPU)
	if p == nil || len(p.Calls) == 0 {
		return
	}
	if addr, ok := field(ev, "this_fn"); ok && uint64(addr) != p.Calls[len(p.Calls)-1] {
		return
	}
	p.Calls = p.Calls[:len(p.Calls)-1]
}

// popMode pops the execution-mode stack (syscall/trap/irq/softirq exit).
func (s *Session) popMode(ev *ltt.Event) {
	p := s.Running(ev.CPU)
	if p == nil || len(p.Stack) == 0 {
		return
	}
	p.Stack = p.Stack[:len(p.Stack)-1]
	if len(p.Stack) > 0 {
		p.Status = p.Stack[len(p.Stack)-1].Status
	}
}

func (s *Session) schedChange(ev *ltt.Event) error {
	outPID, ok := field(ev, "prev_pid")
	if !ok {
		return fmt.Errorf("schedchange: missing prev_pid field")
	}
	inPID, ok := field(ev, "next_pid")
	if !ok {
		return fmt.Errorf("schedchange: missing next_pid field")
	}
	outState, _ := field(ev, "out_state")

	if out := s.Running(ev.CPU); out != nil && int(outPID) == out.PID {
		if out.Status == StatusExit {
			out.Status = StatusZombie
		} else if outState == 0 {
			out.Status = StatusWaitCPU
		} else {
			out.Status = StatusWait
		}
		if outState == exitDead {
			s.destroy(out.PID)
		}
	}

	in := s.ensure(int(inPID))
	in.CPU = ev.CPU
	in.Status = StatusRun
	s.running[ev.CPU] = in
	return nil
}

// destroy removes pid from the process table and clears it from every
// per-CPU running slot it occupies.
func (s *Session) destroy(pid int) {
	delete(s.processes, pid)
	for cpu, r := range s.running {
		if r != nil && r.PID == pid {
			s.running[cpu] = nil
		}
	}
}

func (s *Session) fork(ev *ltt.Event) error {
	parentPID, ok := field(ev, "parent_pid")
	if !ok {
		return fmt.Errorf("fork: missing parent_pid field")
	}
	childPID, ok := field(ev, "child_pid")
	if !ok {
		return fmt.Errorf("fork: missing child_pid field")
	}
	parent := s.ensure(int(parentPID))
	child := parent.fork(int(childPID), ev.TSC)
	if tgid, ok := field(ev, "child_tgid"); ok {
		child.TGID = int(tgid)
	}
	s.processes[child.PID] = child
	return nil
}

func (s *Session) kernelThread(ev *ltt.Event) error {
	pid, ok := field(ev, "pid")
	if !ok {
		return fmt.Errorf("kernel_thread: missing pid field")
	}
	p := s.ensure(int(pid))
	p.Type = TypeKernelThread
	if len(p.Stack) > 0 {
		p.Stack[0].Mode = ModeSyscall
	}
	return nil
}

// exit marks a process Exit; it is the later schedchange or free event
// that actually removes it (destroy), not exit itself.
func (s *Session) exit(ev *ltt.Event) error {
	pid, ok := field(ev, "pid")
	if !ok {
		return fmt.Errorf("exit: missing pid field")
	}
	if p := s.processes[int(pid)]; p != nil {
		p.Status = StatusExit
	}
	return nil
}

// free destroys released_pid if it isn't currently scheduled on any CPU.
func (s *Session) free(ev *ltt.Event) error {
	pid, ok := field(ev, "released_pid")
	if !ok {
		pid, ok = field(ev, "pid")
	}
	if !ok {
		return fmt.Errorf("free: missing released_pid field")
	}
	for _, r := range s.running {
		if r != nil && r.PID == int(pid) {
			return nil
		}
	}
	s.destroy(int(pid))
	return nil
}

func (s *Session) exec(ev *ltt.Event) error {
	p := s.Running(ev.CPU)
	if p == nil {
		return nil
	}
	if name, ok := stringField(ev, "filename"); ok {
		p.Name = name
	}
	if p.Type == TypeUnknown {
		p.Type = TypeUserThread
	}
	return nil
}

func (s *Session) threadBrand(ev *ltt.Event) error {
	p := s.Running(ev.CPU)
	if p == nil {
		return nil
	}
	if brand, ok := stringField(ev, "brand"); ok {
		p.Brand = brand
	} else {
		p.Status = StatusUnbranded
	}
	return nil
}

// statedump handles the state-dump-time snapshot of one pre-existing
// process: it creates the process if replay started mid-trace (so this is
// the first event mentioning it), then pushes its execution-mode stack.
// Kernel threads get a single Syscall frame; user processes get that same
// initial Syscall frame with a UserMode frame (carrying the dump's
// submode/status) on top of it, the reverse of fork()'s order (UserMode
// at the bottom, Syscall above).
func (s *Session) statedump(ev *ltt.Event) error {
	pid, ok := field(ev, "pid")
	if !ok {
		return fmt.Errorf("statedump_process_state: missing pid field")
	}
	p := s.ensure(int(pid))
	if ppid, ok := field(ev, "parent_pid"); ok {
		p.PPID = int(ppid)
	}
	if tgid, ok := field(ev, "tgid"); ok {
		p.TGID = int(tgid)
	}
	if name, ok := stringField(ev, "command"); ok {
		p.Name = name
	} else if name, ok := stringField(ev, "name"); ok {
		p.Name = name
	}
	if typ, ok := field(ev, "type"); ok && typ != 0 {
		p.Type = TypeKernelThread
	}

	submode := 0
	if v, ok := field(ev, "submode"); ok {
		submode = int(v)
	}
	status := StatusRun
	if v, ok := field(ev, "status"); ok {
		status = ProcessStatus(v)
	}

	if p.Type == TypeKernelThread {
		p.Stack = []ModeFrame{{Mode: ModeSyscall, Submode: submode, Status: status, EntryTSC: ev.TSC}}
	} else {
		p.Stack = []ModeFrame{
			{Mode: ModeSyscall, Status: status, EntryTSC: ev.TSC},
			{Mode: ModeUserMode, Submode: submode, Status: status, EntryTSC: ev.TSC},
		}
	}
	p.Status = status
	return nil
}

// Package process owns every live process and thread in the kernel: it is
// the "Process Collection" of spec.md §2 row 4. It tracks handle
// reservations so a process's destruction can be safely deferred while
// some other component holds a reference to it (spec.md §4.4.5), and it is
// the layer the System drives with vm.RunOutcome events, translating them
// into process/thread lifecycle changes.
//
// Collection is generic over the caller-supplied per-process and
// per-thread user data types (TPud, TTud), mirroring the teacher's
// session.Table being keyed purely by ID with the payload (*SecureContext)
// supplied by the caller — here the IPC core is the sole caller, and it
// plugs in its own bookkeeping (registered interfaces, thread state
// machine, ...) as TPud/TTud.
package process

import (
	"errors"
	"sync"
)

// Pid and ThreadID are the identifiers assigned by pkg/idpool.
type Pid = uint64
type ThreadID = uint64

var (
	// ErrProcessNotFound is returned when a Pid has no live process.
	ErrProcessNotFound = errors.New("process: process not found")
	// ErrThreadNotFound is returned when a ThreadID has no live thread.
	ErrThreadNotFound = errors.New("process: thread not found")
	// ErrProcessExists is returned when creating a process whose Pid is
	// already in use.
	ErrProcessExists = errors.New("process: process already exists")
	// ErrThreadExists is returned when creating a thread whose ThreadID is
	// already in use.
	ErrThreadExists = errors.New("process: thread already exists")
)

// Thread is one schedulable unit of execution within a process. State is
// entirely opaque to Collection; the caller (pkg/ipc) stores its thread
// state machine (Runnable / WaitMessage / EmitPending) here.
type Thread[TTud any] struct {
	ID   ThreadID
	Pid  Pid
	Data TTud
}

// Process is a live (or dying-but-still-referenced) process.
type Process[TPud any, TTud any] struct {
	Pid  Pid
	Data TPud

	threads map[ThreadID]*Thread[TTud]

	// reservations counts outstanding Handles. Destruction is deferred
	// while this is nonzero (spec.md §4.4.5).
	reservations int

	// dying is set once the engine reports the process finished while a
	// handle was outstanding; finalize runs once reservations drops to 0.
	dying    bool
	finalize func()
}

// Threads returns a snapshot slice of the process's current threads.
func (p *Process[TPud, TTud]) Threads() []*Thread[TTud] {
	out := make([]*Thread[TTud], 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}

// Thread looks up one of the process's threads by ID.
func (p *Process[TPud, TTud]) Thread(tid ThreadID) (*Thread[TTud], bool) {
	t, ok := p.threads[tid]
	return t, ok
}

// Collection owns all live processes, keyed by Pid, and a reverse index
// from ThreadID to owning Pid so a thread can be located directly.
type Collection[TPud any, TTud any] struct {
	mu          sync.Mutex
	processes   map[Pid]*Process[TPud, TTud]
	threadOwner map[ThreadID]Pid
}

// New creates an empty collection.
func New[TPud any, TTud any]() *Collection[TPud, TTud] {
	return &Collection[TPud, TTud]{
		processes:   make(map[Pid]*Process[TPud, TTud]),
		threadOwner: make(map[ThreadID]Pid),
	}
}

// CreateProcess registers a new process with its main thread. Both pid and
// the main thread's tid must be fresh (drawn from pkg/idpool); returns
// ErrProcessExists if pid is already live.
func (c *Collection[TPud, TTud]) CreateProcess(pid Pid, data TPud, mainTid ThreadID, mainThreadData TTud) (*Process[TPud, TTud], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.processes[pid]; exists {
		return nil, ErrProcessExists
	}

	p := &Process[TPud, TTud]{
		Pid:     pid,
		Data:    data,
		threads: make(map[ThreadID]*Thread[TTud]),
	}
	p.threads[mainTid] = &Thread[TTud]{ID: mainTid, Pid: pid, Data: mainThreadData}

	c.processes[pid] = p
	c.threadOwner[mainTid] = pid
	return p, nil
}

// CreateThread adds a new (non-main) thread to an existing process.
func (c *Collection[TPud, TTud]) CreateThread(pid Pid, tid ThreadID, data TTud) (*Thread[TTud], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.processes[pid]
	if !ok {
		return nil, ErrProcessNotFound
	}
	if _, exists := p.threads[tid]; exists {
		return nil, ErrThreadExists
	}

	th := &Thread[TTud]{ID: tid, Pid: pid, Data: data}
	p.threads[tid] = th
	c.threadOwner[tid] = pid
	return th, nil
}

// RemoveThread removes a single finished (non-main) thread from its
// process, without affecting the rest of the process.
func (c *Collection[TPud, TTud]) RemoveThread(tid ThreadID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pid, ok := c.threadOwner[tid]
	if !ok {
		return ErrThreadNotFound
	}
	p := c.processes[pid]
	delete(p.threads, tid)
	delete(c.threadOwner, tid)
	return nil
}

// Handle is a reserved reference to a process. While a Handle is held the
// process will not be finalized even if the engine reports it finished;
// Release must always be called, typically via defer.
type Handle[TPud any, TTud any] struct {
	c *Collection[TPud, TTud]
	p *Process[TPud, TTud]
}

// Process returns the underlying process data. Valid until Release.
func (h *Handle[TPud, TTud]) Process() *Process[TPud, TTud] { return h.p }

// Release drops the reservation. If the process was marked dying while
// this (or another) handle was outstanding and no handles remain, its
// finalize callback runs now and it is removed from the collection.
func (h *Handle[TPud, TTud]) Release() {
	h.c.mu.Lock()
	h.p.reservations--
	dead := h.p.dying && h.p.reservations <= 0
	var finalize func()
	if dead {
		finalize = h.p.finalize
		delete(h.c.processes, h.p.Pid)
		for tid, owner := range h.c.threadOwner {
			if owner == h.p.Pid {
				delete(h.c.threadOwner, tid)
			}
		}
	}
	h.c.mu.Unlock()

	if finalize != nil {
		finalize()
	}
}

// Acquire reserves a handle to the process identified by pid. Returns
// ErrProcessNotFound if the process doesn't exist or has already been
// fully finalized.
func (c *Collection[TPud, TTud]) Acquire(pid Pid) (*Handle[TPud, TTud], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.processes[pid]
	if !ok {
		return nil, ErrProcessNotFound
	}
	p.reservations++
	return &Handle[TPud, TTud]{c: c, p: p}, nil
}

// AcquireByThread reserves a handle to the process owning tid.
func (c *Collection[TPud, TTud]) AcquireByThread(tid ThreadID) (*Handle[TPud, TTud], error) {
	c.mu.Lock()
	pid, ok := c.threadOwner[tid]
	c.mu.Unlock()
	if !ok {
		return nil, ErrThreadNotFound
	}
	return c.Acquire(pid)
}

// Finish marks a process as finished (its main thread returned or
// trapped). If no handle is currently outstanding, finalize runs
// synchronously and the process is removed immediately; otherwise
// destruction is deferred until the last outstanding Handle calls Release,
// preserving all state in the meantime (spec.md §4.4.5) — the Core must
// never observe a partially-destroyed process.
func (c *Collection[TPud, TTud]) Finish(pid Pid, finalize func()) error {
	c.mu.Lock()
	p, ok := c.processes[pid]
	if !ok {
		c.mu.Unlock()
		return ErrProcessNotFound
	}
	p.dying = true
	p.finalize = finalize
	ready := p.reservations <= 0
	if ready {
		delete(c.processes, pid)
		for tid, owner := range c.threadOwner {
			if owner == pid {
				delete(c.threadOwner, tid)
			}
		}
	}
	c.mu.Unlock()

	if ready {
		finalize()
	}
	return nil
}

// Len returns the number of live (non-fully-finalized) processes.
func (c *Collection[TPud, TTud]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.processes)
}

// Pids returns a snapshot of all live process IDs, for diagnostics.
func (c *Collection[TPud, TTud]) Pids() []Pid {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pid, 0, len(c.processes))
	for pid := range c.processes {
		out = append(out, pid)
	}
	return out
}

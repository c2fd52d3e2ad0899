// Package fake provides an in-memory reference implementation of the
// vm.Engine contract, used by this repository's own tests and wired in as
// the engine of cmd/wasmkerneld. It plays
// the role the teacher's transport.NewPipeFactoryPair plays for network
// tests: a deterministic, goroutine-only stand-in for the real external
// collaborator (here, a WebAssembly execution engine) so the scheduler and
// IPC core can be exercised end-to-end without one.
//
// A "module" in this engine is simply a Go closure (a Program) run on its
// own goroutine. Calling (*Thread).Call blocks the goroutine and posts an
// Interrupted outcome to the engine; the engine's driver resumes it later
// via ThreadHandle.Resume, exactly mirroring how a real engine would
// suspend a WebAssembly thread at an extrinsic call boundary.
package fake

import (
	"errors"
	"sync"

	"github.com/backkem/wasmkernel/pkg/idpool"
	"github.com/backkem/wasmkernel/pkg/vm"
	"github.com/backkem/wasmkernel/pkg/wasmsig"
)

// ErrUnknownThread is returned when an operation targets a thread the
// engine has no record of.
var ErrUnknownThread = errors.New("fake: unknown thread")

// MemorySize is the fixed linear memory size every fake process gets.
const MemorySize = 4 << 20 // 4 MiB

// Program is the body of a fake WebAssembly process: it runs on its own
// goroutine and uses the given Thread to perform extrinsic calls. Its
// int64 return value is discarded; a non-nil error is reported as a trap
// in the ProcessFinished outcome.
type Program func(t *Thread) (int64, error)

// Thread is the in-program handle a Program uses to suspend itself at an
// extrinsic call boundary.
type Thread struct {
	ID  vm.ThreadID
	Pid vm.Pid

	eng      *Engine
	resumeCh chan int64
}

// Call simulates calling an extrinsic: it posts an Interrupted outcome to
// the engine and blocks until the driver calls Resume on this thread.
func (t *Thread) Call(tag vm.ExtrinsicTag, params ...int64) int64 {
	t.eng.postEvent(vm.RunOutcome{
		Kind:              vm.Interrupted,
		Pid:               t.Pid,
		InterruptedThread: t.ID,
		Tag:               tag,
		Params:            params,
	})
	return <-t.resumeCh
}

// Memory returns the linear memory of the thread's owning process. Programs
// may use this directly to lay out wire data before calling Call, instead
// of going through ReadMemory/WriteMemory (which are for the driver side).
func (t *Thread) Memory() *Memory {
	return t.eng.processMemory(t.Pid)
}

// Memory is a process's linear memory, guarded by a mutex since the owning
// goroutine and the engine driver both touch it (the driver only between
// RunOne calls, per the single-driver contract, but tests may poke at it
// directly).
type Memory struct {
	mu  sync.Mutex
	buf []byte
}

func newMemory(size int) *Memory {
	return &Memory{buf: make([]byte, size)}
}

func (m *Memory) Read(addr, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := uint64(addr) + uint64(length)
	if end > uint64(len(m.buf)) {
		return nil, errFault("read out of bounds")
	}
	out := make([]byte, length)
	copy(out, m.buf[addr:end])
	return out, nil
}

func (m *Memory) Write(addr uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := uint64(addr) + uint64(len(data))
	if end > uint64(len(m.buf)) {
		return errFault("write out of bounds")
	}
	copy(m.buf[addr:end], data)
	return nil
}

type faultError string

func errFault(s string) error { return faultError(s) }
func (f faultError) Error() string { return "fake: " + string(f) }

type fakeProcess struct {
	pid     vm.Pid
	mem     *Memory
	threads map[vm.ThreadID]*Thread
	done    chan struct{}
}

// Engine is an in-memory vm.Engine used for tests.
type Engine struct {
	ids *idpool.Pool

	mu        sync.Mutex
	processes map[vm.Pid]*fakeProcess
	threadPid map[vm.ThreadID]vm.Pid

	events chan vm.RunOutcome
}

// NewEngine creates a fake engine. Its internal event queue holds 64
// outcomes, which is generous for unit tests.
func NewEngine() *Engine {
	return &Engine{
		ids:       idpool.New(),
		processes: make(map[vm.Pid]*fakeProcess),
		threadPid: make(map[vm.ThreadID]vm.Pid),
		events:    make(chan vm.RunOutcome, 64),
	}
}

// Spawn creates a new process running program on its own goroutine and
// returns its Pid. Unlike Instantiate (part of the vm.Engine contract,
// which takes an opaque wasmsig.Module), Spawn is the fake-specific entry
// point tests use to supply the actual program logic.
func (e *Engine) Spawn(program Program) vm.Pid {
	pid := e.ids.Draw()
	tid := e.ids.Draw()

	mem := newMemory(MemorySize)
	proc := &fakeProcess{
		pid:     pid,
		mem:     mem,
		threads: make(map[vm.ThreadID]*Thread),
		done:    make(chan struct{}),
	}

	th := &Thread{ID: tid, Pid: pid, eng: e, resumeCh: make(chan int64, 1)}
	proc.threads[tid] = th

	e.mu.Lock()
	e.processes[pid] = proc
	e.threadPid[tid] = pid
	e.mu.Unlock()

	go func() {
		ret, err := program(th)
		e.mu.Lock()
		delete(e.processes, pid)
		for t := range proc.threads {
			delete(e.threadPid, t)
		}
		e.mu.Unlock()
		close(proc.done)
		e.postEvent(vm.RunOutcome{
			Kind:       vm.ProcessFinished,
			Pid:        pid,
			Outcome:    err,
			DeadThread: []vm.ThreadID{tid},
		})
		_ = ret
	}()

	return pid
}

func (e *Engine) postEvent(o vm.RunOutcome) {
	e.events <- o
}

func (e *Engine) processMemory(pid vm.Pid) *Memory {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processes[pid]
	if !ok {
		return nil
	}
	return p.mem
}

// Instantiate is part of the vm.Engine contract. The fake engine cannot
// parse an opaque wasmsig.Module, so it always returns an error; this is
// what System.Execute reports when cmd/wasmkerneld runs on this engine.
// Tests use Spawn instead.
func (e *Engine) Instantiate(module wasmsig.Module, resolver vm.ImportResolver) (vm.Pid, error) {
	return 0, errors.New("fake: Instantiate unsupported, use Spawn")
}

// RunOne returns the next posted outcome, blocking until one is available.
func (e *Engine) RunOne() (vm.RunOutcome, error) {
	o := <-e.events
	return o, nil
}

// TryRunOne returns vm.RunOutcome{Kind: vm.Idle} without blocking if no
// event is pending.
func (e *Engine) TryRunOne() vm.RunOutcome {
	select {
	case o := <-e.events:
		return o
	default:
		return vm.RunOutcome{Kind: vm.Idle}
	}
}

// Thread returns a handle for tid.
func (e *Engine) Thread(tid vm.ThreadID) vm.ThreadHandle {
	return &handle{eng: e, tid: tid}
}

// StartThread is not used by this repository: every fake process is
// single-threaded (spawned via Spawn). The threads reserved interface
// (spec.md §4.5) is exercised against the real engine contract only.
func (e *Engine) StartThread(pid vm.Pid, fnIndex uint32, args []int64) (vm.ThreadID, error) {
	return 0, errors.New("fake: StartThread unsupported")
}

// Abort forcibly finishes a process as if it trapped.
func (e *Engine) Abort(pid vm.Pid) error {
	e.mu.Lock()
	proc, ok := e.processes[pid]
	if !ok {
		e.mu.Unlock()
		return errors.New("fake: unknown process")
	}
	tids := make([]vm.ThreadID, 0, len(proc.threads))
	for t := range proc.threads {
		tids = append(tids, t)
		delete(e.threadPid, t)
	}
	delete(e.processes, pid)
	e.mu.Unlock()

	e.postEvent(vm.RunOutcome{
		Kind:       vm.ProcessFinished,
		Pid:        pid,
		Outcome:    errors.New("aborted"),
		DeadThread: tids,
	})
	return nil
}

type handle struct {
	eng *Engine
	tid vm.ThreadID
}

func (h *handle) mem() (*Memory, error) {
	h.eng.mu.Lock()
	pid, ok := h.eng.threadPid[h.tid]
	h.eng.mu.Unlock()
	if !ok {
		return nil, ErrUnknownThread
	}
	m := h.eng.processMemory(pid)
	if m == nil {
		return nil, ErrUnknownThread
	}
	return m, nil
}

func (h *handle) ReadMemory(addr, length uint32) ([]byte, error) {
	m, err := h.mem()
	if err != nil {
		return nil, err
	}
	return m.Read(addr, length)
}

func (h *handle) WriteMemory(addr uint32, data []byte) error {
	m, err := h.mem()
	if err != nil {
		return err
	}
	return m.Write(addr, data)
}

func (h *handle) Resume(value int64) error {
	h.eng.mu.Lock()
	pid, ok := h.eng.threadPid[h.tid]
	if !ok {
		h.eng.mu.Unlock()
		return ErrUnknownThread
	}
	proc := h.eng.processes[pid]
	h.eng.mu.Unlock()
	if proc == nil {
		return ErrUnknownThread
	}
	th, ok := proc.threads[h.tid]
	if !ok {
		return ErrUnknownThread
	}
	th.resumeCh <- value
	return nil
}

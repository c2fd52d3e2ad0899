// Package vm defines the contract the core requires from a WebAssembly
// execution engine (spec.md §4.2). The engine itself — instantiation,
// import resolution, thread scheduling, linear-memory access, trap
// handling — is out of scope for this repository; it is an external
// collaborator. Only the interfaces it must satisfy live here.
//
// See pkg/vm/fake for an in-memory reference implementation used by this
// repository's own tests.
package vm

import (
	"github.com/backkem/wasmkernel/pkg/wasmsig"
)

// ExtrinsicTag identifies one of the five IPC extrinsics (or a
// host-specific extrinsic layered above them) as resolved by an
// ImportResolver.
type ExtrinsicTag uint32

// ImportResolver maps a WebAssembly import (namespace, name, signature) to
// the ExtrinsicTag the engine should report on Interrupted.
type ImportResolver interface {
	Resolve(namespace, name string, sig wasmsig.Signature) (ExtrinsicTag, bool)
}

// ThreadID and Pid mirror the identifiers used across the core; defined
// here too so the Engine contract doesn't need to import the ipc package.
type ThreadID = uint64
type Pid = uint64

// RunOutcome is the tagged result of advancing one thread via Engine.RunOne.
// Exactly one of the Kind-specific fields is populated, matching the
// RunOutcome variants in spec.md §4.2.
type RunOutcomeKind uint8

const (
	// Idle means no thread was runnable; RunOne performed no work.
	Idle RunOutcomeKind = iota
	// ProcessFinished means a process's main thread returned or trapped;
	// the whole process (and all its threads) is gone.
	ProcessFinished
	// ThreadFinished means a single non-main thread returned.
	ThreadFinished
	// Interrupted means a thread called an extrinsic and is suspended
	// pending a Resume call.
	Interrupted
)

// RunOutcome is returned by Engine.RunOne.
type RunOutcome struct {
	Kind RunOutcomeKind

	// Pid is always populated: the process the outcome concerns. A driver
	// that has not yet registered this Pid with the IPC core (its main
	// thread hasn't reported its ThreadID yet) uses this to tell which
	// pending Instantiate call an Interrupted or ProcessFinished outcome
	// belongs to.
	Pid Pid

	// Populated when Kind == ProcessFinished.
	Outcome    error // nil on graceful exit, non-nil on trap
	DeadThread []ThreadID

	// Populated when Kind == ThreadFinished.
	FinishedThread ThreadID
	ReturnValue    int64

	// Populated when Kind == Interrupted.
	InterruptedThread ThreadID
	Tag               ExtrinsicTag
	Params            []int64
}

// Engine is the contract the core consumes from a WebAssembly execution
// engine. All methods may be called only from the single goroutine driving
// the core's run loop (see spec.md §5, single-driver contract).
type Engine interface {
	// Instantiate loads a module for a new process, resolving its imports
	// via resolver, and returns the Pid the engine assigned. The process's
	// main thread is created paused at the entry point; it becomes
	// runnable only once RunOne is called.
	Instantiate(module wasmsig.Module, resolver ImportResolver) (Pid, error)

	// RunOne advances at most one runnable thread across the whole engine
	// and returns what happened. Returns Idle if nothing was runnable.
	RunOne() (RunOutcome, error)

	// Thread returns a handle for operations scoped to a single thread.
	Thread(tid ThreadID) ThreadHandle

	// StartThread spawns a new thread within an existing process at the
	// given function index, passing args, and returns its ThreadID.
	StartThread(pid Pid, fnIndex uint32, args []int64) (ThreadID, error)

	// Abort forcibly terminates a process, as if its main thread had
	// trapped; a subsequent RunOne call will report ProcessFinished for it.
	Abort(pid Pid) error
}

// ThreadHandle scopes engine operations to a single thread.
type ThreadHandle interface {
	// ReadMemory reads len bytes from the owning process's linear memory.
	ReadMemory(addr uint32, length uint32) ([]byte, error)

	// WriteMemory writes data into the owning process's linear memory.
	WriteMemory(addr uint32, data []byte) error

	// Resume continues a suspended (Interrupted) thread with a return
	// value for the extrinsic call it made.
	Resume(value int64) error
}

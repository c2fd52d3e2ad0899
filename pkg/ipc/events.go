package ipc

// Event is something the core can't resolve by itself and hands back to
// the System driver to act on: resume a parked thread, deliver a message
// to a reserved virtual PID, or report that a process is now fully gone.
// Core methods never call back into the driver directly — every effect
// that crosses the Core/System boundary is an Event (spec.md §4, "always
// in terms of an input event and a list of output events").
type Event interface{ isIPCEvent() }

// ResumeThread tells the driver to resume a parked thread's execution
// with the given extrinsic return value.
type ResumeThread struct {
	Tid   ThreadID
	Value int64
}

func (ResumeThread) isIPCEvent() {}

// ReservedPidDelivery is surfaced instead of a normal delivery when the
// destination is one of the System's reserved virtual PIDs (spec.md
// §4.5): those have no WASM thread to park or resume, so the driver's
// native-program dispatch table receives the message directly. Message
// is one of InterfaceMessage, Response or ProcessDestroyed.
type ReservedPidDelivery struct {
	HandlerPid Pid
	Message    DeliverableMessage
}

func (ReservedPidDelivery) isIPCEvent() {}

// ProcessFinished reports that a process has been fully removed from the
// core's bookkeeping (after every outstanding handle released), along
// with the cleanup that death triggered (spec.md §4.4.4).
type ProcessFinished struct {
	Pid                    Pid
	Outcome                error
	UnregisteredInterfaces []InterfaceHash
	CancelledMessages      []MessageID
	UnhandledMessages      []MessageID
}

func (ProcessFinished) isIPCEvent() {}

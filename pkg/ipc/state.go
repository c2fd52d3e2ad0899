package ipc

// procState is the per-process bookkeeping plugged into
// process.Collection as TPud. None of it is visible outside the core.
type procState struct {
	registeredInterfaces map[InterfaceHash]struct{}
	usedInterfaces       map[InterfaceHash]struct{}
	emittedMessages      map[MessageID]struct{}
	messagesToAnswer     map[MessageID]struct{}
	incomingQueue        []DeliverableMessage

	// waitingThreads holds this process's threads currently parked in
	// next_message waiting for a matching message to arrive (spec.md §2,
	// thread state WaitMessage). Distinct from registryEntry.waitingThreads,
	// which parks threads waiting for an interface handler to appear.
	waitingThreads []ThreadID
}

func newProcState() *procState {
	return &procState{
		registeredInterfaces: make(map[InterfaceHash]struct{}),
		usedInterfaces:       make(map[InterfaceHash]struct{}),
		emittedMessages:      make(map[MessageID]struct{}),
		messagesToAnswer:     make(map[MessageID]struct{}),
	}
}

// threadKind is the thread state machine of spec.md §2 ("Thread state").
// InFlightEmit is not modeled as a persisted value: emit_message is
// handled synchronously from call to return, so the core never observes
// a thread paused mid-parse.
type threadKind uint8

const (
	threadRunnable threadKind = iota
	threadWaitMessage
	threadEmitPending
)

// threadState is the per-thread bookkeeping plugged into
// process.Collection as TTud.
type threadState struct {
	kind threadKind

	// populated when kind == threadWaitMessage
	waitMsgIDs    []uint64
	waitMsgIDsPtr uint32
	waitOutPtr    uint32
	waitOutSize   uint32
	waitBlock     bool

	// populated when kind == threadEmitPending
	pendingInterface InterfaceHash
	pendingPayload   EncodedMessage
	pendingMessageID MessageID
	pendingIDOutPtr  uint32
	pendingHasIDOut  bool
}

// registryEntry is one interface's registration state: either Handled by
// a live process, or Pending with threads parked waiting for a handler
// to appear (spec.md §2, "Interface registry").
type registryEntry struct {
	handled bool
	handler Pid

	// populated when !handled
	waitingThreads []ThreadID
}

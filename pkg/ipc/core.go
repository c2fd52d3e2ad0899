// Package ipc is the IPC core of spec.md §3-§4: the interface registry,
// the outstanding-response table and the five extrinsics layered on top
// of pkg/process's generic Collection. Every public method here takes an
// already-decoded extrinsic.*Call (or a vm.RunOutcome-derived lifecycle
// event) and returns what the caller did to its own thread plus a batch
// of Events describing effects on everything else — the core never
// calls back into its driver (spec.md §4, "always in terms of an input
// event and a list of output events, never a callback"), the same shape
// the teacher's exchange.Manager uses for inbound-message handling.
package ipc

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/backkem/wasmkernel/pkg/extrinsic"
	"github.com/backkem/wasmkernel/pkg/idpool"
	"github.com/backkem/wasmkernel/pkg/process"
)

// Return codes for the extrinsics whose success value isn't itself
// meaningful (emit_answer, emit_message_error, cancel_message). For
// emit_message and next_message, the calling thread's return register
// instead carries the extrinsic-specific values spec.md §4.4.1/§4.4.3
// define (a message's encoded length on delivery, 0 or 1 otherwise); see
// EmitMessage and NextMessage.
const (
	RcSuccess        int64 = 0
	RcUnknownMessage int64 = 3
)

// ErrInterfaceAlreadyHandled is returned by SetInterfaceHandler when an
// interface already has a live handler.
var ErrInterfaceAlreadyHandled = errors.New("ipc: interface already has a handler")

// ErrNoHandler is returned by EmitMessageAsPid when the target interface
// currently has no handler; unlike emit_message, native emitters never
// block on AllowDelay semantics.
var ErrNoHandler = errors.New("ipc: interface has no handler")

// ErrMessageNotOwed is returned by AnswerAsPid when the given handler
// was never delivered a message with that MessageId.
var ErrMessageNotOwed = errors.New("ipc: message not owed by this handler")

// MemoryWriter lets the core write delivered messages and allocated
// MessageIds directly into a thread's linear memory, and is the only
// coupling this package has to the VM layer. The System driver supplies
// an implementation backed by vm.Engine.Thread(tid).WriteMemory.
type MemoryWriter interface {
	WriteThreadMemory(tid ThreadID, addr uint32, data []byte) error
}

// Core owns the interface registry, the outstanding-response table and
// every live process's thread state machine.
type Core struct {
	mem      MemoryWriter
	reserved func(Pid) bool
	ids      *idpool.Pool

	procs *process.Collection[*procState, *threadState]

	mu            sync.Mutex
	registry      map[InterfaceHash]*registryEntry
	responseTable map[MessageID]Pid
	pendingEvents []Event

	// reservedMessagesToAnswer tracks owed answers for reserved virtual
	// PIDs, which have no pkg/process entry to hang this bookkeeping off
	// of (spec.md §4.5 native programs are pushed messages directly
	// rather than pulling them via next_message).
	reservedMessagesToAnswer map[Pid]map[MessageID]struct{}

	// finalizeMu guards finalizeQueue independently of mu. A
	// process.Handle's Release can invoke our Collection.Finish callback
	// synchronously, from arbitrary points already nested inside a
	// mu-locked method (e.g. deliverToPid's own deferred Release for an
	// unrelated pid); queuing the work here instead of running it inline
	// keeps that callback lock-free, so it can never deadlock against mu.
	finalizeMu    sync.Mutex
	finalizeQueue []finishedProc
}

type finishedProc struct {
	pid     Pid
	outcome error
	ps      *procState
}

// NewCore builds an empty core. isReserved reports whether a Pid is one
// of the System's reserved virtual PIDs (spec.md §4.5); messages handed
// to one never touch pkg/process and surface as a ReservedPidDelivery
// event instead.
func NewCore(mem MemoryWriter, isReserved func(Pid) bool) *Core {
	return &Core{
		mem:                      mem,
		reserved:                 isReserved,
		ids:                      idpool.New(),
		procs:                    process.New[*procState, *threadState](),
		registry:                 make(map[InterfaceHash]*registryEntry),
		responseTable:            make(map[MessageID]Pid),
		reservedMessagesToAnswer: make(map[Pid]map[MessageID]struct{}),
	}
}

// Drain returns and clears any events accumulated since the last Drain,
// including ProcessFinished events surfaced by a destruction the core
// deferred until a handle elsewhere was released (spec.md §4.4.5). The
// System driver should call this after every core entry point and
// whenever it is otherwise idle.
func (c *Core) Drain() []Event {
	c.runQueuedFinalizations()
	c.mu.Lock()
	defer c.mu.Unlock()
	ev := c.pendingEvents
	c.pendingEvents = nil
	return ev
}

// runQueuedFinalizations runs finalizeProcessDeath for every process
// whose destruction became unblocked since it was last called. It must
// never be invoked while c.mu is already held by the current goroutine.
func (c *Core) runQueuedFinalizations() {
	c.finalizeMu.Lock()
	queued := c.finalizeQueue
	c.finalizeQueue = nil
	c.finalizeMu.Unlock()

	for _, fp := range queued {
		c.finalizeProcessDeath(fp.pid, fp.outcome, fp.ps)
	}
}

func (c *Core) emit(ev Event) { c.pendingEvents = append(c.pendingEvents, ev) }

// RegisterProcess admits a freshly-instantiated process (and its main
// thread) into the core's bookkeeping. pid and mainTid must come from
// the same idpool.Pool the rest of the kernel draws from.
func (c *Core) RegisterProcess(pid Pid, mainTid ThreadID) error {
	_, err := c.procs.CreateProcess(pid, newProcState(), mainTid, &threadState{kind: threadRunnable})
	return err
}

// RegisterThread admits a new non-main thread spawned within a live
// process (e.g. via the VM adapter's StartThread).
func (c *Core) RegisterThread(pid Pid, tid ThreadID) error {
	_, err := c.procs.CreateThread(pid, tid, &threadState{kind: threadRunnable})
	return err
}

// matchIndex returns the position of key within ids, or -1.
func matchIndex(ids []uint64, key uint64) int {
	for i, id := range ids {
		if id == key {
			return i
		}
	}
	return -1
}

// deliverToPid attempts immediate delivery of msg to pid: to a parked
// WaitMessage thread if one matches and has room, to the reserved-PID
// dispatch otherwise, or else it is appended to the process's incoming
// queue for a future next_message call to pick up. Callers must hold
// c.mu. Any effect (a thread resuming, a reserved-PID dispatch) is
// appended to c.pendingEvents; delivery failures (dead handler) are
// silent, matching spec.md §4.4.1's "the message is simply dropped".
func (c *Core) deliverToPid(pid Pid, msg DeliverableMessage) {
	if c.reserved(pid) {
		if im, ok := msg.(InterfaceMessage); ok && im.MessageID != sentinelNone {
			owed := c.reservedMessagesToAnswer[pid]
			if owed == nil {
				owed = make(map[MessageID]struct{})
				c.reservedMessagesToAnswer[pid] = owed
			}
			owed[im.MessageID] = struct{}{}
		}
		c.emit(ReservedPidDelivery{HandlerPid: pid, Message: msg})
		return
	}

	h, err := c.procs.Acquire(pid)
	if err != nil {
		return
	}
	defer h.Release()
	ps := h.Process().Data

	for i, tid := range ps.waitingThreads {
		th, ok := h.Process().Thread(tid)
		if !ok {
			continue
		}
		ts := th.Data
		idx := matchIndex(ts.waitMsgIDs, msg.MatchKey())
		if idx < 0 || msg.EncodedLen() > int(ts.waitOutSize) {
			continue
		}

		ps.waitingThreads = append(ps.waitingThreads[:i:i], ps.waitingThreads[i+1:]...)
		c.writeDelivery(tid, ts.waitOutPtr, ts.waitMsgIDsPtr, uint32(idx), msg)
		ts.kind = threadRunnable
		if im, ok := msg.(InterfaceMessage); ok && im.MessageID != sentinelNone {
			ps.messagesToAnswer[im.MessageID] = struct{}{}
		}
		c.emit(ResumeThread{Tid: tid, Value: int64(msg.EncodedLen())})
		return
	}

	if im, ok := msg.(InterfaceMessage); ok && im.MessageID != sentinelNone {
		ps.messagesToAnswer[im.MessageID] = struct{}{}
	}
	ps.incomingQueue = append(ps.incomingQueue, msg)
}

// writeDelivery encodes msg for slot idx, writes it to outPtr and zeroes
// the matched msg_ids slot, per spec.md §4.4.3.
func (c *Core) writeDelivery(tid ThreadID, outPtr, msgIDsPtr, idx uint32, msg DeliverableMessage) {
	c.mem.WriteThreadMemory(tid, outPtr, msg.Encode(idx))
	var zero [8]byte
	c.mem.WriteThreadMemory(tid, msgIDsPtr+idx*8, zero[:])
}

// SetInterfaceHandler registers pid as the handler for iface. If threads
// were parked waiting for this interface to gain a handler, each is
// resumed and its pending emit is delivered to the new handler in the
// order the threads parked (spec.md §4.4.2).
func (c *Core) SetInterfaceHandler(iface InterfaceHash, pid Pid) ([]Event, error) {
	c.runQueuedFinalizations()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.registry[iface]
	if exists && entry.handled {
		return nil, ErrInterfaceAlreadyHandled
	}

	h, err := c.procs.Acquire(pid)
	if err == nil {
		h.Process().Data.registeredInterfaces[iface] = struct{}{}
		h.Release()
	}

	var waiting []ThreadID
	if exists {
		waiting = entry.waitingThreads
	}
	c.registry[iface] = &registryEntry{handled: true, handler: pid}

	for _, tid := range waiting {
		c.flushPendingEmit(tid, iface, pid)
	}

	return c.drainLocked(), nil
}

// flushPendingEmit resumes a thread parked in EmitPending for iface now
// that handlerPid exists, and delivers its payload as an InterfaceMessage.
func (c *Core) flushPendingEmit(tid ThreadID, iface InterfaceHash, handlerPid Pid) {
	h, err := c.procs.AcquireByThread(tid)
	if err != nil {
		return
	}
	th, ok := h.Process().Thread(tid)
	if !ok {
		h.Release()
		return
	}
	ts := th.Data
	emitterPid := h.Process().Pid

	if ts.pendingHasIDOut {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], ts.pendingMessageID)
		c.mem.WriteThreadMemory(tid, ts.pendingIDOutPtr, buf[:])
	}
	payload := ts.pendingPayload
	messageID := ts.pendingMessageID
	ts.kind = threadRunnable
	ts.pendingPayload = nil
	h.Release()

	c.emit(ResumeThread{Tid: tid, Value: RcSuccess})
	c.deliverToPid(handlerPid, InterfaceMessage{
		Interface: iface,
		MessageID: messageID,
		Emitter:   emitterPid,
		Payload:   payload,
	})
}

func (c *Core) drainLocked() []Event {
	ev := c.pendingEvents
	c.pendingEvents = nil
	return ev
}

// EmitMessage implements emit_message (spec.md §4.4.1). value is the
// calling thread's own return code when parked is false: 0 on a
// handled emit, 1 if the interface has no handler and AllowDelay is
// false. When parked is true the caller must suspend callerTid until a
// matching ResumeThread event arrives.
func (c *Core) EmitMessage(callerTid ThreadID, call extrinsic.EmitMessageCall) (value int64, parked bool, events []Event, err error) {
	c.runQueuedFinalizations()
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.procs.AcquireByThread(callerTid)
	if err != nil {
		return 0, false, nil, err
	}
	defer h.Release()
	emitterPid := h.Process().Pid
	ps := h.Process().Data

	var messageID MessageID
	if call.NeedsAnswer {
		messageID = c.ids.Draw()
		c.responseTable[messageID] = emitterPid
		ps.emittedMessages[messageID] = struct{}{}
	}

	var iface InterfaceHash
	copy(iface[:], call.Interface[:])
	entry, exists := c.registry[iface]

	if exists && entry.handled {
		ps.usedInterfaces[iface] = struct{}{}
		if call.NeedsAnswer {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], messageID)
			c.mem.WriteThreadMemory(callerTid, call.IDOutPtr, buf[:])
		}
		c.deliverToPid(entry.handler, InterfaceMessage{
			Interface: iface,
			MessageID: messageID,
			Emitter:   emitterPid,
			Payload:   EncodedMessage(call.Payload),
		})
		return RcSuccess, false, c.drainLocked(), nil
	}

	if call.AllowDelay {
		th, _ := h.Process().Thread(callerTid)
		ts := th.Data
		ts.kind = threadEmitPending
		ts.pendingInterface = iface
		ts.pendingPayload = EncodedMessage(call.Payload)
		ts.pendingMessageID = messageID
		ts.pendingIDOutPtr = call.IDOutPtr
		ts.pendingHasIDOut = call.NeedsAnswer

		if !exists {
			c.registry[iface] = &registryEntry{handled: false, waitingThreads: []ThreadID{callerTid}}
		} else {
			entry.waitingThreads = append(entry.waitingThreads, callerTid)
		}
		ps.usedInterfaces[iface] = struct{}{}
		return 0, true, c.drainLocked(), nil
	}

	if call.NeedsAnswer {
		delete(c.responseTable, messageID)
		delete(ps.emittedMessages, messageID)
	}
	return 1, false, c.drainLocked(), nil
}

// NextMessage implements next_message (spec.md §4.4.3). When the call
// blocks with no message currently available, parked is true and the
// caller suspends callerTid until a ResumeThread event arrives. A
// matching message too large for call.OutSize is left queued and its
// required encoded size is returned so the caller can retry with a
// bigger buffer.
func (c *Core) NextMessage(callerTid ThreadID, call extrinsic.NextMessageCall) (value int64, parked bool, err error) {
	c.runQueuedFinalizations()
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.procs.AcquireByThread(callerTid)
	if err != nil {
		return 0, false, err
	}
	defer h.Release()
	ps := h.Process().Data

	for qi, msg := range ps.incomingQueue {
		idx := matchIndex(call.MsgIDs, msg.MatchKey())
		if idx < 0 {
			continue
		}
		if msg.EncodedLen() > int(call.OutSize) {
			return int64(msg.EncodedLen()), false, nil
		}
		ps.incomingQueue = append(ps.incomingQueue[:qi:qi], ps.incomingQueue[qi+1:]...)
		c.writeDelivery(callerTid, call.OutPtr, call.MsgIDsPtr, uint32(idx), msg)
		return int64(msg.EncodedLen()), false, nil
	}

	if !call.Block {
		return 0, false, nil
	}

	th, _ := h.Process().Thread(callerTid)
	ts := th.Data
	ts.kind = threadWaitMessage
	ts.waitMsgIDs = call.MsgIDs
	ts.waitMsgIDsPtr = call.MsgIDsPtr
	ts.waitOutPtr = call.OutPtr
	ts.waitOutSize = call.OutSize
	ts.waitBlock = true
	ps.waitingThreads = append(ps.waitingThreads, callerTid)
	return 0, true, nil
}

// answerMessage is the shared implementation of emit_answer and
// emit_message_error: both resolve an outstanding MessageId with an Ok
// or error Response.
func (c *Core) answerMessage(callerTid ThreadID, id MessageID, ok bool, payload EncodedMessage) (int64, []Event, error) {
	c.runQueuedFinalizations()
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.procs.AcquireByThread(callerTid)
	if err != nil {
		return 0, nil, err
	}
	defer h.Release()
	ps := h.Process().Data

	if _, owed := ps.messagesToAnswer[id]; !owed {
		return RcUnknownMessage, c.drainLocked(), nil
	}
	delete(ps.messagesToAnswer, id)

	emitterPid, outstanding := c.responseTable[id]
	if !outstanding {
		return RcUnknownMessage, c.drainLocked(), nil
	}
	delete(c.responseTable, id)

	c.deliverToPid(emitterPid, Response{MessageID: id, Ok: ok, Payload: payload})
	return RcSuccess, c.drainLocked(), nil
}

// EmitAnswer implements emit_answer (spec.md §4.4).
func (c *Core) EmitAnswer(callerTid ThreadID, call extrinsic.EmitAnswerCall) (int64, []Event, error) {
	return c.answerMessage(callerTid, call.MessageID, true, EncodedMessage(call.Payload))
}

// EmitMessageError implements emit_message_error.
func (c *Core) EmitMessageError(callerTid ThreadID, call extrinsic.MessageIDCall) (int64, []Event, error) {
	return c.answerMessage(callerTid, call.MessageID, false, nil)
}

// CancelMessage implements cancel_message: the caller withdraws its own
// interest in a message it previously emitted. A handler that answers
// anyway will find the id no longer outstanding and the response is
// silently dropped.
func (c *Core) CancelMessage(callerTid ThreadID, call extrinsic.MessageIDCall) (int64, error) {
	c.runQueuedFinalizations()
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.procs.AcquireByThread(callerTid)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	ps := h.Process().Data

	if _, ok := ps.emittedMessages[call.MessageID]; !ok {
		return RcUnknownMessage, nil
	}
	delete(ps.emittedMessages, call.MessageID)
	delete(c.responseTable, call.MessageID)
	return RcSuccess, nil
}

// HandleProcessFinished reports that pid's engine-level process has run
// to completion (or trapped). Cleanup (spec.md §4.4.4) runs as soon as
// no Handle is outstanding; if one is, it is deferred and the resulting
// ProcessFinished event surfaces from a later Drain.
func (c *Core) HandleProcessFinished(pid Pid, outcome error) error {
	c.runQueuedFinalizations()

	c.mu.Lock()
	h, err := c.procs.Acquire(pid)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ps := h.Process().Data
	h.Release()
	c.mu.Unlock()

	err = c.procs.Finish(pid, func() {
		c.finalizeMu.Lock()
		c.finalizeQueue = append(c.finalizeQueue, finishedProc{pid: pid, outcome: outcome, ps: ps})
		c.finalizeMu.Unlock()
	})
	if err != nil {
		return err
	}
	c.runQueuedFinalizations()
	return nil
}

func (c *Core) finalizeProcessDeath(pid Pid, outcome error, ps *procState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var unregistered []InterfaceHash
	for iface := range ps.registeredInterfaces {
		if entry, ok := c.registry[iface]; ok && entry.handled && entry.handler == pid {
			delete(c.registry, iface)
			unregistered = append(unregistered, iface)
		}
	}

	var cancelled []MessageID
	for id := range ps.emittedMessages {
		delete(c.responseTable, id)
		cancelled = append(cancelled, id)
	}

	var unhandled []MessageID
	for id := range ps.messagesToAnswer {
		unhandled = append(unhandled, id)
		if emitter, ok := c.responseTable[id]; ok {
			delete(c.responseTable, id)
			c.deliverToPid(emitter, Response{MessageID: id, Ok: false})
		}
	}

	for iface := range ps.usedInterfaces {
		if entry, ok := c.registry[iface]; ok && entry.handled {
			c.deliverToPid(entry.handler, ProcessDestroyed{Pid: pid})
		}
	}

	c.emit(ProcessFinished{
		Pid:                    pid,
		Outcome:                outcome,
		UnregisteredInterfaces: unregistered,
		CancelledMessages:      cancelled,
		UnhandledMessages:      unhandled,
	})
}

// EmitMessageAsPid lets a native program (spec.md §4.5, §5.8) emit a
// message without a backing WASM thread or extrinsic call. Delivery is
// always immediate and there is no AllowDelay equivalent: a native
// program with nothing to talk to gets ErrNoHandler back directly.
func (c *Core) EmitMessageAsPid(emitter Pid, iface InterfaceHash, payload EncodedMessage, needsAnswer bool) (MessageID, []Event, error) {
	c.runQueuedFinalizations()
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.registry[iface]
	if !exists || !entry.handled {
		return 0, nil, ErrNoHandler
	}

	var id MessageID
	if needsAnswer {
		id = c.ids.Draw()
		c.responseTable[id] = emitter
	}
	c.deliverToPid(entry.handler, InterfaceMessage{Interface: iface, MessageID: id, Emitter: emitter, Payload: payload})
	return id, c.drainLocked(), nil
}

// AnswerAsPid lets a native program resolve a MessageId it was handed
// via a ReservedPidDelivery InterfaceMessage.
func (c *Core) AnswerAsPid(handler Pid, id MessageID, ok bool, payload EncodedMessage) ([]Event, error) {
	c.runQueuedFinalizations()
	c.mu.Lock()
	defer c.mu.Unlock()

	owed := c.reservedMessagesToAnswer[handler]
	if _, ok := owed[id]; !ok {
		return nil, ErrMessageNotOwed
	}
	delete(owed, id)

	emitter, outstanding := c.responseTable[id]
	if !outstanding {
		return c.drainLocked(), nil
	}
	delete(c.responseTable, id)
	c.deliverToPid(emitter, Response{MessageID: id, Ok: ok, Payload: payload})
	return c.drainLocked(), nil
}

// HandleThreadFinished reports that a single non-main thread returned
// without the owning process finishing. No registry cleanup applies; a
// thread parked in EmitPending or WaitMessage never finishes on its own,
// so this only ever concerns Runnable threads.
func (c *Core) HandleThreadFinished(tid ThreadID) error {
	return c.procs.RemoveThread(tid)
}

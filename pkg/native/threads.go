package native

import (
	"encoding/binary"

	"github.com/backkem/wasmkernel/pkg/ipc"
	"github.com/backkem/wasmkernel/pkg/vm"
)

// ThreadsHash is the reserved interface backing New/FutexWait/FutexWake
// (spec.md §4.5). The first payload byte is a sub-command tag; the
// remainder is the sub-command's own little-endian fields. This framing
// is a kernel-internal convention, not part of the core's wire format in
// spec.md §6, which only governs delivered message envelopes.
var ThreadsHash = ipc.InterfaceHash{'t', 'h', 'r', 'e', 'a', 'd', 's'}

const (
	threadsCmdNew uint8 = iota
	threadsCmdFutexWait
	threadsCmdFutexWake
)

type futexKey struct {
	pid  ipc.Pid
	addr uint32
}

type futexWaiter struct {
	msgID ipc.MessageID
}

// ThreadsProgram implements the reserved "threads" interface: spawning a
// new thread within the emitter's own process, and a futex-style
// wait/wake pair keyed on (emitter_pid, addr) with a per-key FIFO of
// waiters (spec.md §4.5).
type ThreadsProgram struct {
	engine vm.Engine
	waits  map[futexKey][]futexWaiter
}

// NewThreadsProgram builds a threads program that starts new threads
// through engine.
func NewThreadsProgram(engine vm.Engine) *ThreadsProgram {
	return &ThreadsProgram{engine: engine, waits: make(map[futexKey][]futexWaiter)}
}

// Handle decodes and executes one threads sub-command delivered to
// selfPid on behalf of emitter, answering msgID if the caller asked for a
// response (New and FutexWait both do; FutexWake does not block on a
// release and is answered immediately).
func (t *ThreadsProgram) Handle(core *ipc.Core, selfPid, emitter ipc.Pid, msgID ipc.MessageID, payload []byte) []ipc.Event {
	if len(payload) == 0 {
		return nil
	}

	switch payload[0] {
	case threadsCmdNew:
		return t.handleNew(core, selfPid, emitter, msgID, payload[1:])
	case threadsCmdFutexWait:
		return t.handleFutexWait(emitter, msgID, payload[1:])
	case threadsCmdFutexWake:
		return t.handleFutexWake(core, selfPid, emitter, msgID, payload[1:])
	}
	return nil
}

func (t *ThreadsProgram) handleNew(core *ipc.Core, selfPid, emitter ipc.Pid, msgID ipc.MessageID, body []byte) []ipc.Event {
	if len(body) < 12 {
		return t.answer(core, selfPid, msgID, false, nil)
	}
	fnIndex := binary.LittleEndian.Uint32(body[0:4])
	userData := int64(binary.LittleEndian.Uint64(body[4:12]))

	tid, err := t.engine.StartThread(emitter, fnIndex, []int64{userData})
	if err != nil {
		return t.answer(core, selfPid, msgID, false, nil)
	}
	if err := core.RegisterThread(emitter, tid); err != nil {
		return t.answer(core, selfPid, msgID, false, nil)
	}

	var resp [8]byte
	binary.LittleEndian.PutUint64(resp[:], tid)
	return t.answer(core, selfPid, msgID, true, resp[:])
}

func (t *ThreadsProgram) handleFutexWait(emitter ipc.Pid, msgID ipc.MessageID, body []byte) []ipc.Event {
	if len(body) < 4 || msgID == 0 {
		return nil
	}
	addr := binary.LittleEndian.Uint32(body[0:4])
	key := futexKey{pid: emitter, addr: addr}
	t.waits[key] = append(t.waits[key], futexWaiter{msgID: msgID})
	// No answer yet: the waiter stays parked until a matching FutexWake
	// releases it.
	return nil
}

func (t *ThreadsProgram) handleFutexWake(core *ipc.Core, selfPid, emitter ipc.Pid, msgID ipc.MessageID, body []byte) []ipc.Event {
	if len(body) < 8 {
		return t.answer(core, selfPid, msgID, false, nil)
	}
	addr := binary.LittleEndian.Uint32(body[0:4])
	n := binary.LittleEndian.Uint32(body[4:8])
	key := futexKey{pid: emitter, addr: addr}

	waiters := t.waits[key]
	released := uint32(0)
	var events []ipc.Event
	for released < n && len(waiters) > 0 {
		w := waiters[0]
		waiters = waiters[1:]
		ev, err := core.AnswerAsPid(selfPid, w.msgID, true, nil)
		if err == nil {
			events = append(events, ev...)
		}
		released++
	}
	if len(waiters) == 0 {
		delete(t.waits, key)
	} else {
		t.waits[key] = waiters
	}

	return append(events, t.answer(core, selfPid, msgID, true, nil)...)
}

func (t *ThreadsProgram) answer(core *ipc.Core, selfPid ipc.Pid, msgID ipc.MessageID, ok bool, payload []byte) []ipc.Event {
	if msgID == 0 {
		return nil
	}
	events, err := core.AnswerAsPid(selfPid, msgID, ok, payload)
	if err != nil {
		return nil
	}
	return events
}

// Package native implements the native programs layer of spec.md §4.6: a
// polymorphic facade around built-in handlers that live at the System's
// reserved virtual PIDs instead of inside a WebAssembly process. Native
// programs never see a ThreadID or linear memory; they exchange messages
// through the Pid-scoped half of pkg/ipc's API (Core.EmitMessageAsPid,
// Core.AnswerAsPid) and are driven synchronously from the same event loop
// that steps the VM, mirroring the way the teacher's im.Dispatcher routes
// protocol operations to cluster implementations without owning a
// goroutine of its own.
package native

import "github.com/backkem/wasmkernel/pkg/ipc"

// ActionKind tags the single action a Program wants to take when polled.
type ActionKind uint8

const (
	// ActionNone means the program has nothing to do right now.
	ActionNone ActionKind = iota
	// ActionEmit asks the facade to emit a message on the program's behalf.
	ActionEmit
	// ActionAnswer asks the facade to resolve a MessageId it was handed.
	ActionAnswer
	// ActionCancelMessage withdraws interest in a message the program
	// previously emitted with NeedsAnswer.
	ActionCancelMessage
)

// Action is the single pending effect returned by Program.PollNextEvent.
type Action struct {
	Kind ActionKind

	// Populated for ActionEmit.
	Interface   ipc.InterfaceHash
	Payload     []byte
	NeedsAnswer bool

	// Populated for ActionAnswer and ActionCancelMessage.
	MessageID ipc.MessageID
	Ok        bool
}

// Program is one built-in handler hosted at a reserved virtual PID. The
// facade polls PollNextEvent once per drive and delivers inbound traffic
// through the other three methods; a Program never talks to pkg/ipc
// directly. Every method runs synchronously on the driving goroutine, so a
// method that does I/O (LoaderProgram's fetch) blocks the event loop.
type Program interface {
	// PollNextEvent returns the next action to take, or ok=false if the
	// program has nothing pending.
	PollNextEvent() (Action, bool)

	// InterfaceMessage delivers an InterfaceMessage addressed to this
	// program's Pid.
	InterfaceMessage(iface ipc.InterfaceHash, msgID ipc.MessageID, emitter ipc.Pid, payload []byte)

	// MessageResponse delivers the answer to a message this program
	// previously emitted with NeedsAnswer.
	MessageResponse(msgID ipc.MessageID, ok bool, payload []byte)

	// ProcessDestroyed notifies the program that pid, whose interface it
	// was using, has died.
	ProcessDestroyed(pid ipc.Pid)
}

// RegisterInterfaceHash is the well-known interface a native program emits
// Register(hash) messages to when it wants to become the handler for
// hash. The Facade intercepts these locally (spec.md §4.6, "without
// requiring the Core to notify back") instead of round-tripping the
// message through the interface dispatcher program.
var RegisterInterfaceHash = ipc.InterfaceHash{'_', 'k', 'e', 'r', 'n', 'e', 'l', '.', 'r', 'e', 'g', 'i', 's', 't', 'e', 'r'}

// Facade wires a Program into a Core at a fixed, reserved Pid. It keeps
// the per-program bookkeeping spec.md §4.6 asks for: which interfaces the
// program has registered and which response ids it is still expecting.
type Facade struct {
	Pid     ipc.Pid
	Program Program

	registered map[ipc.InterfaceHash]struct{}
	expecting  map[ipc.MessageID]struct{}
}

// NewFacade builds a Facade for program hosted at pid.
func NewFacade(pid ipc.Pid, program Program) *Facade {
	return &Facade{
		Pid:        pid,
		Program:    program,
		registered: make(map[ipc.InterfaceHash]struct{}),
		expecting:  make(map[ipc.MessageID]struct{}),
	}
}

// Drive polls the wrapped program once and carries out whatever action it
// returned against core, returning any events the core produced.
func (f *Facade) Drive(core *ipc.Core) []ipc.Event {
	action, ok := f.Program.PollNextEvent()
	if !ok {
		return nil
	}

	switch action.Kind {
	case ActionEmit:
		if action.Interface == RegisterInterfaceHash {
			var hash ipc.InterfaceHash
			copy(hash[:], action.Payload)
			events, err := core.SetInterfaceHandler(hash, f.Pid)
			ok := err == nil
			if err == nil {
				f.registered[hash] = struct{}{}
			}
			f.Program.MessageResponse(0, ok, nil)
			return events
		}

		id, events, err := core.EmitMessageAsPid(f.Pid, action.Interface, action.Payload, action.NeedsAnswer)
		if err != nil {
			f.Program.MessageResponse(0, false, nil)
			return events
		}
		if action.NeedsAnswer {
			f.expecting[id] = struct{}{}
		}
		return events

	case ActionAnswer:
		events, err := core.AnswerAsPid(f.Pid, action.MessageID, action.Ok, action.Payload)
		if err != nil {
			return nil
		}
		return events

	case ActionCancelMessage:
		delete(f.expecting, action.MessageID)
		return nil
	}

	return nil
}

// Deliver routes an ipc.ReservedPidDelivery addressed to this facade's Pid
// to the appropriate Program method.
func (f *Facade) Deliver(msg ipc.DeliverableMessage) {
	switch m := msg.(type) {
	case ipc.InterfaceMessage:
		f.Program.InterfaceMessage(m.Interface, m.MessageID, m.Emitter, m.Payload)
	case ipc.Response:
		delete(f.expecting, m.MessageID)
		f.Program.MessageResponse(m.MessageID, m.Ok, m.Payload)
	case ipc.ProcessDestroyed:
		f.Program.ProcessDestroyed(m.Pid)
	}
}

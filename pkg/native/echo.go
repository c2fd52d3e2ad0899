package native

import "github.com/backkem/wasmkernel/pkg/ipc"

// EchoHash is the interface EchoInterface registers itself as the
// handler for.
var EchoHash = ipc.InterfaceHash{'e', 'c', 'h', 'o'}

// EchoInterface is a minimal, self-contained native program: it registers
// itself as the handler for EchoHash and answers every message it
// receives with its own payload. It exists to exercise the Facade's
// Register interception end to end without needing a real WebAssembly
// process as either side.
type EchoInterface struct {
	pending []Action
}

// NewEchoInterface builds an EchoInterface that queues its own
// registration as the first action a Facade will drive.
func NewEchoInterface() *EchoInterface {
	e := &EchoInterface{}
	e.pending = append(e.pending, Action{Kind: ActionEmit, Interface: RegisterInterfaceHash, Payload: EchoHash[:]})
	return e
}

func (e *EchoInterface) PollNextEvent() (Action, bool) {
	if len(e.pending) == 0 {
		return Action{}, false
	}
	a := e.pending[0]
	e.pending = e.pending[1:]
	return a, true
}

func (e *EchoInterface) InterfaceMessage(iface ipc.InterfaceHash, msgID ipc.MessageID, emitter ipc.Pid, payload []byte) {
	if msgID == 0 {
		return
	}
	e.pending = append(e.pending, Action{Kind: ActionAnswer, MessageID: msgID, Ok: true, Payload: payload})
}

func (e *EchoInterface) MessageResponse(msgID ipc.MessageID, ok bool, payload []byte) {}

func (e *EchoInterface) ProcessDestroyed(pid ipc.Pid) {}

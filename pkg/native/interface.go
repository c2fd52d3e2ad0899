package native

import "github.com/backkem/wasmkernel/pkg/ipc"

// InterfaceHash is the kernel-defined interface a WASM process emits a
// Register(hash) message to in order to become the handler for hash
// (spec.md §4.5: "Handling of the reserved interface interface is
// Register(hash) -> call set_interface_handler on the Core and answer
// success/failure").
var InterfaceHash = ipc.InterfaceHash{'i', 'n', 't', 'e', 'r', 'f', 'a', 'c', 'e'}

// InterfaceRegistry is the program hosted at the System's reserved
// "interface" Pid. It needs to call SetInterfaceHandler on behalf of
// whichever process emitted the Register message rather than on its own
// Pid, which the generic Pid-scoped Facade can't express, so it is driven
// directly by the System instead of wrapped in a Facade.
type InterfaceRegistry struct{}

// NewInterfaceRegistry builds an empty registry program.
func NewInterfaceRegistry() *InterfaceRegistry { return &InterfaceRegistry{} }

// Handle decodes a Register(hash) payload delivered to selfPid and
// registers emitter as the handler for hash, answering success or
// failure back to emitter when it asked for one.
func (r *InterfaceRegistry) Handle(core *ipc.Core, selfPid, emitter ipc.Pid, msgID ipc.MessageID, payload []byte) []ipc.Event {
	var hash ipc.InterfaceHash
	copy(hash[:], payload)

	events, err := core.SetInterfaceHandler(hash, emitter)
	if msgID == 0 {
		return events
	}

	ansEvents, aerr := core.AnswerAsPid(selfPid, msgID, err == nil, nil)
	if aerr != nil {
		return events
	}
	return append(events, ansEvents...)
}

package native

import (
	"github.com/backkem/wasmkernel/pkg/ipc"
	"github.com/backkem/wasmkernel/pkg/loader"
)

// LoaderHash is the reserved interface backing module fetches: a message
// carrying a 32-byte module hash is answered with the module's raw bytes,
// or an error if no source has it (spec.md §4.5, §5.7).
var LoaderHash = ipc.InterfaceHash{'l', 'o', 'a', 'd', 'e', 'r'}

// LoaderProgram answers Fetch(hash) requests from one or more
// loader.Source backends, tried in order.
type LoaderProgram struct {
	sources []loader.Source
	pending []Action
}

// NewLoaderProgram builds a program that tries each source in order for
// every fetch request.
func NewLoaderProgram(sources ...loader.Source) *LoaderProgram {
	return &LoaderProgram{sources: sources}
}

func (p *LoaderProgram) PollNextEvent() (Action, bool) {
	if len(p.pending) == 0 {
		return Action{}, false
	}
	a := p.pending[0]
	p.pending = p.pending[1:]
	return a, true
}

// InterfaceMessage treats payload as a 32-byte module hash and fetches it
// synchronously from the configured sources. This blocks the driving
// goroutine for the duration of the fetch (a local directory read or one
// network round trip); callers that need concurrency should run the
// System's event loop on its own goroutine, as spec.md §5 already assumes.
func (p *LoaderProgram) InterfaceMessage(iface ipc.InterfaceHash, msgID ipc.MessageID, emitter ipc.Pid, payload []byte) {
	if msgID == 0 {
		return
	}
	if len(payload) < 32 {
		p.pending = append(p.pending, Action{Kind: ActionAnswer, MessageID: msgID, Ok: false})
		return
	}
	var hash loader.Hash
	copy(hash[:], payload)

	for _, src := range p.sources {
		data, err := src.Fetch(hash)
		if err == nil {
			p.pending = append(p.pending, Action{Kind: ActionAnswer, MessageID: msgID, Ok: true, Payload: data})
			return
		}
	}
	p.pending = append(p.pending, Action{Kind: ActionAnswer, MessageID: msgID, Ok: false})
}

func (p *LoaderProgram) MessageResponse(msgID ipc.MessageID, ok bool, payload []byte) {}

func (p *LoaderProgram) ProcessDestroyed(pid ipc.Pid) {}

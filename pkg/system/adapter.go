package system

import (
	"github.com/backkem/wasmkernel/pkg/extrinsic"
	"github.com/backkem/wasmkernel/pkg/ipc"
	"github.com/backkem/wasmkernel/pkg/vm"
	"github.com/backkem/wasmkernel/pkg/wasmsig"
)

// engineMemWriter adapts vm.Engine to ipc.MemoryWriter, the only coupling
// the IPC core has to the VM layer.
type engineMemWriter struct{ engine vm.Engine }

func (w engineMemWriter) WriteThreadMemory(tid ipc.ThreadID, addr uint32, data []byte) error {
	return w.engine.Thread(tid).WriteMemory(addr, data)
}

// threadMemReader adapts a single vm.ThreadHandle to extrinsic.MemoryReader
// for decoding one thread's pending extrinsic call.
type threadMemReader struct{ h vm.ThreadHandle }

func (r threadMemReader) ReadMemory(addr, length uint32) ([]byte, error) {
	return r.h.ReadMemory(addr, length)
}

// importResolver maps the five IPC extrinsics (spec.md §4.3, §6) onto
// vm.ExtrinsicTag values an Engine reports back on Interrupted.
type importResolver struct{}

func (importResolver) Resolve(namespace, name string, _ wasmsig.Signature) (vm.ExtrinsicTag, bool) {
	if namespace != extrinsic.Namespace {
		return 0, false
	}
	switch name {
	case "next_message":
		return vm.ExtrinsicTag(extrinsic.TagNextMessage), true
	case "emit_message":
		return vm.ExtrinsicTag(extrinsic.TagEmitMessage), true
	case "emit_answer":
		return vm.ExtrinsicTag(extrinsic.TagEmitAnswer), true
	case "emit_message_error":
		return vm.ExtrinsicTag(extrinsic.TagEmitMessageError), true
	case "cancel_message":
		return vm.ExtrinsicTag(extrinsic.TagCancelMessage), true
	default:
		return 0, false
	}
}

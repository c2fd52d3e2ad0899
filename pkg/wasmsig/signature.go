// Package wasmsig holds the small value types shared between the VM
// Adapter contract and the extrinsic parser: function signatures and an
// opaque wrapper over a parsed WebAssembly module.
//
// Parsing the WebAssembly binary format itself is out of scope for this
// repository (see spec.md §1); Module only carries the bytes and whatever
// metadata the external engine chooses to attach.
package wasmsig

import "fmt"

// ValueKind is one of the four WebAssembly core value types.
type ValueKind uint8

const (
	I32 ValueKind = iota
	I64
	F32
	F64
)

func (k ValueKind) String() string {
	switch k {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("wasmsig.ValueKind(%d)", uint8(k))
	}
}

// Signature describes the parameter and result kinds of a host function.
// The five IPC extrinsics each have a fixed Signature (see extrinsic.Tag);
// the VM Adapter is required to check call arity/types against it before
// ever surfacing an Interrupted event, so the core treats arity as a
// static assertion rather than something it must re-validate per call.
type Signature struct {
	Params  []ValueKind
	Results []ValueKind
}

// Equal reports whether two signatures describe the same shape.
func (s Signature) Equal(other Signature) bool {
	if len(s.Params) != len(other.Params) || len(s.Results) != len(other.Results) {
		return false
	}
	for i, p := range s.Params {
		if other.Params[i] != p {
			return false
		}
	}
	for i, r := range s.Results {
		if other.Results[i] != r {
			return false
		}
	}
	return true
}

// Module is an opaque wrapper over a parsed WebAssembly module. The kernel
// never inspects its contents; it exists purely so Module values can be
// passed between the loader, the System and the VM Adapter without either
// side depending on an engine-specific type.
type Module struct {
	bytes []byte
	// hash identifies the module content-addressably, e.g. for the loader
	// interface (§4.5) which keys requests by module hash.
	hash [32]byte
}

// NewModule wraps a private copy of raw WebAssembly bytes into an opaque
// Module value, recording the caller-supplied content hash for loader
// lookups; the hash is not computed or checked against the bytes.
func NewModule(raw []byte, hash [32]byte) Module {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return Module{bytes: buf, hash: hash}
}

// Bytes returns the raw module bytes. Callers must not mutate the slice.
func (m Module) Bytes() []byte { return m.bytes }

// Hash returns the module's content hash.
func (m Module) Hash() [32]byte { return m.hash }

// IsZero reports whether this is the zero Module value (no bytes loaded).
func (m Module) IsZero() bool { return len(m.bytes) == 0 }

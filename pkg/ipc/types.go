package ipc

import "github.com/backkem/wasmkernel/pkg/idpool"

// Pid and MessageID are the identifiers pkg/idpool draws; ThreadID comes
// from pkg/process. All three share the same 64-bit space and the same
// reserved sentinels.
type (
	Pid       = uint64
	ThreadID  = uint64
	MessageID = uint64
)

// InterfaceHash is the flat 32-byte namespace interfaces live in
// (spec.md §2, "Interface").
type InterfaceHash [32]byte

// EncodedMessage is an opaque, already-serialized message payload. The
// core never interprets it.
type EncodedMessage []byte

const (
	sentinelNone = idpool.ReservedNone
	sentinelAny  = idpool.ReservedAny
)

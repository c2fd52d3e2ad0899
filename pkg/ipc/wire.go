package ipc

import (
	"encoding/binary"
)

// wireTag identifies the three kinds of frame next_message can deliver,
// per spec.md §6.
type wireTag uint8

const (
	wireTagInterface        wireTag = 0x00
	wireTagResponse         wireTag = 0x01
	wireTagProcessDestroyed wireTag = 0x02
)

// DeliverableMessage is anything that can sit in a process's incoming
// queue awaiting delivery via next_message.
type DeliverableMessage interface {
	// MatchKey is what a waiting thread's msg_ids entries are compared
	// against: the sentinel 1 for InterfaceMessage/ProcessDestroyed, or
	// the message's own ID for Response.
	MatchKey() uint64

	// Encode renders the wire frame for this message, given the
	// index_in_list slot it matched in the delivering thread's msg_ids.
	Encode(indexInList uint32) []byte

	// EncodedLen returns len(Encode(0)) without allocating the full
	// frame, for the out_size comparison in spec.md §4.4.3.
	EncodedLen() int
}

// InterfaceMessage is an inbound message delivered to the registered
// handler of an interface.
type InterfaceMessage struct {
	Interface InterfaceHash
	MessageID MessageID // 0 if no response is expected
	Emitter   Pid
	Payload   EncodedMessage
}

func (m InterfaceMessage) MatchKey() uint64 { return sentinelAny }

func (m InterfaceMessage) EncodedLen() int {
	return 1 + 32 + 8 + 8 + 4 + len(m.Payload)
}

func (m InterfaceMessage) Encode(indexInList uint32) []byte {
	buf := make([]byte, 0, m.EncodedLen())
	buf = append(buf, byte(wireTagInterface))
	buf = append(buf, m.Interface[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, m.MessageID)
	buf = binary.LittleEndian.AppendUint64(buf, m.Emitter)
	buf = binary.LittleEndian.AppendUint32(buf, indexInList)
	buf = append(buf, m.Payload...)
	return buf
}

// Response is the answer (or error) to a message this process emitted.
type Response struct {
	MessageID MessageID
	Ok        bool
	Payload   EncodedMessage // only meaningful if Ok
}

func (m Response) MatchKey() uint64 { return m.MessageID }

func (m Response) EncodedLen() int {
	n := 1 + 8 + 4 + 1
	if m.Ok {
		n += len(m.Payload)
	}
	return n
}

func (m Response) Encode(indexInList uint32) []byte {
	buf := make([]byte, 0, m.EncodedLen())
	buf = append(buf, byte(wireTagResponse))
	buf = binary.LittleEndian.AppendUint64(buf, m.MessageID)
	buf = binary.LittleEndian.AppendUint32(buf, indexInList)
	if m.Ok {
		buf = append(buf, 0)
		buf = append(buf, m.Payload...)
	} else {
		buf = append(buf, 1)
	}
	return buf
}

// ProcessDestroyed notifies a handler that a process it used to emit to
// has died.
type ProcessDestroyed struct {
	Pid Pid
}

func (m ProcessDestroyed) MatchKey() uint64 { return sentinelAny }

func (m ProcessDestroyed) EncodedLen() int { return 1 + 8 + 4 }

func (m ProcessDestroyed) Encode(indexInList uint32) []byte {
	buf := make([]byte, 0, m.EncodedLen())
	buf = append(buf, byte(wireTagProcessDestroyed))
	buf = binary.LittleEndian.AppendUint64(buf, m.Pid)
	buf = binary.LittleEndian.AppendUint32(buf, indexInList)
	return buf
}

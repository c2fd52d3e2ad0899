package extrinsic

import (
	"encoding/binary"
	"errors"
	"testing"
)

type memReader struct {
	buf []byte
}

func newMemReader(size int) *memReader {
	return &memReader{buf: make([]byte, size)}
}

func (m *memReader) ReadMemory(addr, length uint32) ([]byte, error) {
	end := uint64(addr) + uint64(length)
	if end > uint64(len(m.buf)) {
		return nil, errors.New("out of bounds")
	}
	out := make([]byte, length)
	copy(out, m.buf[addr:end])
	return out, nil
}

func TestDecodeNextMessage(t *testing.T) {
	mem := newMemReader(4096)
	binary.LittleEndian.PutUint64(mem.buf[0:8], 42)
	binary.LittleEndian.PutUint64(mem.buf[8:16], 1)

	call, err := DecodeNextMessage(mem, 0, 2, 1000, 64, 1)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(call.MsgIDs) != 2 || call.MsgIDs[0] != 42 || call.MsgIDs[1] != 1 {
		t.Fatalf("unexpected msg ids: %v", call.MsgIDs)
	}
	if !call.Block {
		t.Error("expected block=true")
	}
	if call.OutPtr != 1000 || call.OutSize != 64 {
		t.Errorf("unexpected out ptr/size: %d %d", call.OutPtr, call.OutSize)
	}
}

func TestDecodeNextMessageCapExceeded(t *testing.T) {
	mem := newMemReader(4096)
	_, err := DecodeNextMessage(mem, 0, MaxMessageIDs+1, 0, 0, 0)
	if err == nil {
		t.Fatal("expected error for exceeding message id cap")
	}
}

func TestDecodeNextMessageZeroLen(t *testing.T) {
	mem := newMemReader(16)
	call, err := DecodeNextMessage(mem, 0, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(call.MsgIDs) != 0 {
		t.Errorf("expected no ids, got %v", call.MsgIDs)
	}
	if call.Block {
		t.Error("expected block=false")
	}
}

func TestDecodeEmitMessageGathersPayload(t *testing.T) {
	mem := newMemReader(4096)

	var iface [32]byte
	iface[0] = 0xAA
	copy(mem.buf[0:32], iface[:])

	// Two descriptors at offset 32: (ptr=100,len=2), (ptr=200,len=3)
	binary.LittleEndian.PutUint32(mem.buf[32:36], 100)
	binary.LittleEndian.PutUint32(mem.buf[36:40], 2)
	binary.LittleEndian.PutUint32(mem.buf[40:44], 200)
	binary.LittleEndian.PutUint32(mem.buf[44:48], 3)

	copy(mem.buf[100:102], []byte{0x01, 0x02})
	copy(mem.buf[200:203], []byte{0x03, 0x04, 0x05})

	call, err := DecodeEmitMessage(mem, 0, 32, 2, 1, 0, 500)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if call.Interface != iface {
		t.Errorf("interface mismatch: %v", call.Interface)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if string(call.Payload) != string(want) {
		t.Errorf("payload = %v, want %v", call.Payload, want)
	}
	if !call.NeedsAnswer || call.AllowDelay {
		t.Errorf("needsAnswer=%v allowDelay=%v", call.NeedsAnswer, call.AllowDelay)
	}
	if call.IDOutPtr != 500 {
		t.Errorf("idOutPtr = %d, want 500", call.IDOutPtr)
	}
}

func TestDecodeEmitMessagePayloadCapExceeded(t *testing.T) {
	mem := newMemReader(64)
	binary.LittleEndian.PutUint32(mem.buf[0:4], 0)
	binary.LittleEndian.PutUint32(mem.buf[4:8], MaxPayloadSize+1)

	_, err := DecodeEmitMessage(mem, 32, 0, 1, 0, 0, 0)
	if err == nil {
		t.Fatal("expected error for exceeding payload cap")
	}
}

func TestDecodeMessageID(t *testing.T) {
	mem := newMemReader(16)
	binary.LittleEndian.PutUint64(mem.buf[0:8], 0xDEADBEEF)

	call, err := DecodeMessageID(mem, 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if call.MessageID != 0xDEADBEEF {
		t.Errorf("message id = %x, want %x", call.MessageID, 0xDEADBEEF)
	}
}

func TestDecodeEmitAnswer(t *testing.T) {
	mem := newMemReader(64)
	binary.LittleEndian.PutUint64(mem.buf[0:8], 7)
	copy(mem.buf[8:11], []byte{0xAA, 0xBB, 0xCC})

	call, err := DecodeEmitAnswer(mem, 0, 8, 3)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if call.MessageID != 7 {
		t.Errorf("message id = %d, want 7", call.MessageID)
	}
	want := []byte{0xAA, 0xBB, 0xCC}
	if string(call.Payload) != string(want) {
		t.Errorf("payload = %v, want %v", call.Payload, want)
	}
}

func TestDecodeOutOfBoundsIsMalformed(t *testing.T) {
	mem := newMemReader(8)
	_, err := DecodeMessageID(mem, 100)
	if err == nil {
		t.Fatal("expected error")
	}
}

package system

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/backkem/wasmkernel/pkg/extrinsic"
	"github.com/backkem/wasmkernel/pkg/ipc"
	"github.com/backkem/wasmkernel/pkg/native"
	"github.com/backkem/wasmkernel/pkg/vm"
	"github.com/backkem/wasmkernel/pkg/vm/fake"
)

// drive steps sys until done receives a value or max Steps elapse.
func drive(t *testing.T, sys *System, done <-chan string, maxSteps int) string {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		if _, err := sys.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		select {
		case v := <-done:
			return v
		default:
		}
	}
	t.Fatal("program never completed")
	return ""
}

func TestSelfTestEchoRoundTrip(t *testing.T) {
	e := fake.NewEngine()
	done := make(chan string, 1)

	pid := e.Spawn(func(th *fake.Thread) (int64, error) {
		mem := th.Memory()

		var iface [32]byte
		copy(iface[:], native.EchoHash[:])
		mem.Write(0, iface[:])

		payload := []byte("ping")
		mem.Write(100, payload)

		var desc [8]byte
		binary.LittleEndian.PutUint32(desc[0:4], 100)
		binary.LittleEndian.PutUint32(desc[4:8], uint32(len(payload)))
		mem.Write(300, desc[:])

		rc := th.Call(vm.ExtrinsicTag(extrinsic.TagEmitMessage), 0, 300, 1, 1, 0, 400)
		if rc != ipc.RcSuccess {
			return 0, errors.New("emit_message failed")
		}

		idBytes, _ := mem.Read(400, 8)
		msgID := binary.LittleEndian.Uint64(idBytes)

		var idBuf [8]byte
		binary.LittleEndian.PutUint64(idBuf[:], msgID)
		mem.Write(600, idBuf[:])

		rc2 := th.Call(vm.ExtrinsicTag(extrinsic.TagNextMessage), 600, 1, 500, 256, 1)
		wantLen := int64(1 + 8 + 4 + 1 + len(payload)) // Response, encoded
		if rc2 != wantLen {
			return 0, errors.New("next_message failed")
		}

		frame, _ := mem.Read(500, 256)
		okByte := frame[1+8+4]
		payloadOut := frame[1+8+4+1 : 1+8+4+1+len(payload)]
		if okByte != 0 {
			return 0, errors.New("response carried an error")
		}
		done <- string(payloadOut)
		return 0, nil
	})

	sys, err := NewSystem(Config{Engine: e, RunSelfTest: true})
	if err != nil {
		t.Fatal(err)
	}
	sys.pendingMainThread[pid] = struct{}{}

	got := drive(t, sys, done, 10)
	if got != "ping" {
		t.Fatalf("echoed payload = %q, want %q", got, "ping")
	}
}

func TestProcessToProcessInterfaceRegistration(t *testing.T) {
	e := fake.NewEngine()
	registered := make(chan struct{})
	done := make(chan string, 1)

	var customHash [32]byte
	copy(customHash[:], []byte("custom-iface"))

	registrarPid := e.Spawn(func(th *fake.Thread) (int64, error) {
		mem := th.Memory()

		var ifaceHash [32]byte
		copy(ifaceHash[:], native.InterfaceHash[:])
		mem.Write(0, ifaceHash[:])
		mem.Write(100, customHash[:])

		var desc [8]byte
		binary.LittleEndian.PutUint32(desc[0:4], 100)
		binary.LittleEndian.PutUint32(desc[4:8], 32)
		mem.Write(300, desc[:])

		rc := th.Call(vm.ExtrinsicTag(extrinsic.TagEmitMessage), 0, 300, 1, 1, 0, 400)
		if rc != ipc.RcSuccess {
			return 0, errors.New("register emit failed")
		}

		idBytes, _ := mem.Read(400, 8)
		msgID := binary.LittleEndian.Uint64(idBytes)
		var idBuf [8]byte
		binary.LittleEndian.PutUint64(idBuf[:], msgID)
		mem.Write(600, idBuf[:])

		rc2 := th.Call(vm.ExtrinsicTag(extrinsic.TagNextMessage), 600, 1, 500, 256, 1)
		wantAckLen := int64(1 + 8 + 4 + 1) // Response, no payload
		if rc2 != wantAckLen {
			return 0, errors.New("await registration response failed")
		}
		frame, _ := mem.Read(500, 256)
		if frame[1+8+4] != 0 {
			return 0, errors.New("registration rejected")
		}
		close(registered)

		var anyBuf [8]byte
		binary.LittleEndian.PutUint64(anyBuf[:], 1) // sentinelAny
		mem.Write(600, anyBuf[:])

		rc3 := th.Call(vm.ExtrinsicTag(extrinsic.TagNextMessage), 600, 1, 700, 512, 1)
		payloadLen := len("hello")
		wantMsgLen := int64(1 + 32 + 8 + 8 + 4 + payloadLen) // InterfaceMessage
		if rc3 != wantMsgLen {
			return 0, errors.New("await inbound message failed")
		}
		inbound, _ := mem.Read(700, 512)
		payload := inbound[1+32+8+8+4 : 1+32+8+8+4+payloadLen]
		done <- string(payload)
		return 0, nil
	})

	callerPid := e.Spawn(func(th *fake.Thread) (int64, error) {
		<-registered
		mem := th.Memory()
		mem.Write(0, customHash[:])
		payload := []byte("hello")
		mem.Write(100, payload)
		var desc [8]byte
		binary.LittleEndian.PutUint32(desc[0:4], 100)
		binary.LittleEndian.PutUint32(desc[4:8], uint32(len(payload)))
		mem.Write(300, desc[:])

		rc := th.Call(vm.ExtrinsicTag(extrinsic.TagEmitMessage), 0, 300, 1, 0, 0, 0)
		if rc != ipc.RcSuccess {
			return 0, errors.New("emit to newly registered interface failed")
		}
		return 0, nil
	})

	sys, err := NewSystem(Config{Engine: e})
	if err != nil {
		t.Fatal(err)
	}
	sys.pendingMainThread[registrarPid] = struct{}{}
	sys.pendingMainThread[callerPid] = struct{}{}

	got := drive(t, sys, done, 20)
	if got != "hello" {
		t.Fatalf("delivered payload = %q, want %q", got, "hello")
	}
}

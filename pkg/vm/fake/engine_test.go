package fake

import (
	"errors"
	"testing"

	"github.com/backkem/wasmkernel/pkg/vm"
)

func TestSpawnRunsProgramAndReportsFinish(t *testing.T) {
	e := NewEngine()
	e.Spawn(func(t *Thread) (int64, error) {
		return 42, nil
	})

	outcome, err := e.RunOne()
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != vm.ProcessFinished {
		t.Fatalf("kind = %v, want ProcessFinished", outcome.Kind)
	}
	if outcome.Outcome != nil {
		t.Fatalf("outcome.Outcome = %v, want nil", outcome.Outcome)
	}
}

func TestSpawnReportsTrap(t *testing.T) {
	e := NewEngine()
	wantErr := errors.New("boom")
	e.Spawn(func(t *Thread) (int64, error) {
		return 0, wantErr
	})

	outcome, err := e.RunOne()
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Outcome == nil || outcome.Outcome.Error() != "boom" {
		t.Fatalf("outcome.Outcome = %v", outcome.Outcome)
	}
}

func TestCallInterruptsAndResumes(t *testing.T) {
	e := NewEngine()
	done := make(chan int64, 1)
	e.Spawn(func(t *Thread) (int64, error) {
		v := t.Call(vm.ExtrinsicTag(7), 1, 2, 3)
		done <- v
		return 0, nil
	})

	outcome, err := e.RunOne()
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != vm.Interrupted {
		t.Fatalf("kind = %v, want Interrupted", outcome.Kind)
	}
	if outcome.Tag != vm.ExtrinsicTag(7) {
		t.Fatalf("tag = %v", outcome.Tag)
	}
	if len(outcome.Params) != 3 || outcome.Params[1] != 2 {
		t.Fatalf("params = %v", outcome.Params)
	}

	if err := e.Thread(outcome.InterruptedThread).Resume(99); err != nil {
		t.Fatal(err)
	}
	if got := <-done; got != 99 {
		t.Fatalf("resumed value = %d, want 99", got)
	}

	finish, err := e.RunOne()
	if err != nil {
		t.Fatal(err)
	}
	if finish.Kind != vm.ProcessFinished {
		t.Fatalf("kind = %v, want ProcessFinished", finish.Kind)
	}
}

func TestThreadMemoryReadWrite(t *testing.T) {
	e := NewEngine()
	result := make(chan []byte, 1)
	e.Spawn(func(t *Thread) (int64, error) {
		t.Memory().Write(100, []byte("hello"))
		v := t.Call(vm.ExtrinsicTag(0))
		_ = v
		got, _ := t.Memory().Read(100, 5)
		result <- got
		return 0, nil
	})

	outcome, _ := e.RunOne()
	h := e.Thread(outcome.InterruptedThread)

	read, err := h.ReadMemory(100, 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(read) != "hello" {
		t.Fatalf("read = %q", read)
	}

	if err := h.WriteMemory(100, []byte("HELLO")); err != nil {
		t.Fatal(err)
	}
	h.Resume(0)
	e.RunOne() // ProcessFinished

	if got := <-result; string(got) != "HELLO" {
		t.Fatalf("post-resume memory = %q", got)
	}
}

func TestAbortFinishesProcess(t *testing.T) {
	e := NewEngine()
	pid := e.Spawn(func(t *Thread) (int64, error) {
		t.Call(vm.ExtrinsicTag(0))
		return 0, nil
	})
	e.RunOne() // consume the Interrupted outcome

	if err := e.Abort(pid); err != nil {
		t.Fatal(err)
	}
	outcome, err := e.RunOne()
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != vm.ProcessFinished || outcome.Pid != pid {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestTryRunOneNonBlocking(t *testing.T) {
	e := NewEngine()
	if o := e.TryRunOne(); o.Kind != vm.Idle {
		t.Fatalf("expected Idle, got %v", o.Kind)
	}
}

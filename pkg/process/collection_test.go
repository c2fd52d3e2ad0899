package process

import "testing"

func TestCreateAndAcquireProcess(t *testing.T) {
	c := New[string, string]()

	_, err := c.CreateProcess(10, "proc-data", 11, "thread-data")
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}

	h, err := c.Acquire(10)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	if h.Process().Data != "proc-data" {
		t.Errorf("process data = %q", h.Process().Data)
	}
	th, ok := h.Process().Thread(11)
	if !ok || th.Data != "thread-data" {
		t.Errorf("thread lookup failed: %v %v", th, ok)
	}
}

func TestCreateProcessDuplicate(t *testing.T) {
	c := New[int, int]()
	if _, err := c.CreateProcess(1, 0, 2, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateProcess(1, 0, 3, 0); err != ErrProcessExists {
		t.Errorf("expected ErrProcessExists, got %v", err)
	}
}

func TestFinishWithoutHandleRunsFinalizeImmediately(t *testing.T) {
	c := New[int, int]()
	c.CreateProcess(1, 0, 2, 0)

	called := false
	if err := c.Finish(1, func() { called = true }); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("finalize should run immediately when no handle is outstanding")
	}
	if c.Len() != 0 {
		t.Errorf("process should be removed, Len() = %d", c.Len())
	}
}

func TestFinishDeferredUntilHandleReleased(t *testing.T) {
	c := New[int, int]()
	c.CreateProcess(1, 0, 2, 0)

	h, err := c.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}

	called := false
	if err := c.Finish(1, func() { called = true }); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("finalize must not run while a handle is outstanding")
	}
	if c.Len() != 1 {
		t.Errorf("process should still be present, Len() = %d", c.Len())
	}

	h.Release()
	if !called {
		t.Fatal("finalize should run once the last handle releases")
	}
	if c.Len() != 0 {
		t.Errorf("process should be removed after release, Len() = %d", c.Len())
	}
}

func TestCreateAndRemoveThread(t *testing.T) {
	c := New[int, string]()
	c.CreateProcess(1, 0, 2, "main")

	if _, err := c.CreateThread(1, 3, "worker"); err != nil {
		t.Fatal(err)
	}

	h, _ := c.Acquire(1)
	defer h.Release()
	if len(h.Process().Threads()) != 2 {
		t.Errorf("expected 2 threads, got %d", len(h.Process().Threads()))
	}

	if err := c.RemoveThread(3); err != nil {
		t.Fatal(err)
	}
	if len(h.Process().Threads()) != 1 {
		t.Errorf("expected 1 thread after removal, got %d", len(h.Process().Threads()))
	}
}

func TestAcquireByThread(t *testing.T) {
	c := New[int, int]()
	c.CreateProcess(1, 0, 2, 0)

	h, err := c.AcquireByThread(2)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	if h.Process().Pid != 1 {
		t.Errorf("pid = %d, want 1", h.Process().Pid)
	}
}

func TestAcquireUnknownProcess(t *testing.T) {
	c := New[int, int]()
	if _, err := c.Acquire(999); err != ErrProcessNotFound {
		t.Errorf("expected ErrProcessNotFound, got %v", err)
	}
}

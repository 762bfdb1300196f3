package reactor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartStopCycles(t *testing.T) {
	for i := 0; i < 5; i++ {
		Start()
		if !Running() {
			t.Fatalf("cycle %d: not running after Start", i)
		}
		Start() // idempotent while running

		e, err := Shared()
		if err != nil {
			t.Fatalf("cycle %d: Shared: %v", i, err)
		}
		ran := false
		e.Dispatch(func() { ran = true })
		if !ran {
			t.Fatalf("cycle %d: dispatched task did not run", i)
		}

		Stop()
		if Running() {
			t.Fatalf("cycle %d: still running after Stop", i)
		}
		if _, err := Shared(); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("cycle %d: Shared after Stop: %v", i, err)
		}
		Stop() // no-op when stopped
	}
}

func TestDispatchSerialized(t *testing.T) {
	Start()
	defer Stop()

	e, err := Shared()
	if err != nil {
		t.Fatal(err)
	}

	// total is deliberately unsynchronized: the engine's serialization is
	// the only thing keeping this race-free.
	var inFlight int32
	var total int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Dispatch(func() {
					if atomic.AddInt32(&inFlight, 1) != 1 {
						t.Error("overlapping completions")
					}
					total++
					atomic.AddInt32(&inFlight, -1)
				})
			}
		}()
	}
	wg.Wait()

	e.Dispatch(func() {
		if total != 800 {
			t.Errorf("total = %d, want 800", total)
		}
	})
}

func TestWorkGuardKeepsEngineAlive(t *testing.T) {
	e := newEngine()
	g := e.NewWorkGuard()

	done := make(chan struct{})
	go func() {
		e.run()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("run returned while the guard was held")
	case <-time.After(100 * time.Millisecond):
	}

	ran := make(chan struct{})
	e.Post(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("posted task did not run")
	}

	g.Release()
	g.Release() // second release is a no-op
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after the guard was released")
	}
}

func TestStopAbandonsPendingDispatch(t *testing.T) {
	e := newEngine()
	e.stop = true
	close(e.done)

	// Must return instead of waiting on a worker that will never run it.
	e.Dispatch(func() { t.Error("task ran on a stopped engine") })
}

package reactor

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/eapache/queue"
)

// ErrNotRunning means the shared reactor has not been started
var ErrNotRunning = errors.New("rtnet/reactor: reactor not running")

// Engine executes completion functions one at a time on a single worker
// thread. Listeners submit their accept and read completions here, so no
// two completions ever run concurrently process-wide.
type Engine struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  *queue.Queue
	guards int
	stop   bool
	done   chan struct{} // closed when the run loop returns
}

func newEngine() *Engine {
	e := &Engine{
		tasks: queue.New(),
		done:  make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Post enqueues fn for execution on the worker thread and returns
// immediately.
func (e *Engine) Post(fn func()) {
	e.mu.Lock()
	e.tasks.Add(fn)
	e.mu.Unlock()
	e.cond.Signal()
}

// Dispatch runs fn on the worker thread and blocks until it has finished,
// or until the engine stops, in which case fn is abandoned. Must not be
// called from the worker thread itself.
func (e *Engine) Dispatch(fn func()) {
	ran := make(chan struct{})
	e.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
	case <-e.done:
	}
}

// run drains the task queue until stopped, or until the queue is empty and
// no work guard is held. Pending tasks are abandoned on stop.
func (e *Engine) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for e.tasks.Length() == 0 && !e.stop && e.guards > 0 {
			e.cond.Wait()
		}
		if e.stop || e.tasks.Length() == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.tasks.Remove().(func())
		e.mu.Unlock()
		fn()
	}
}

func (e *Engine) signalStop() {
	e.mu.Lock()
	e.stop = true
	e.mu.Unlock()
	e.cond.Broadcast()
}

// WorkGuard keeps the engine's run loop from returning while it momentarily
// has no pending completions.
type WorkGuard struct {
	engine *Engine
	once   sync.Once
}

// NewWorkGuard installs a keep-alive token on the engine.
func (e *Engine) NewWorkGuard() *WorkGuard {
	e.mu.Lock()
	e.guards++
	e.mu.Unlock()
	return &WorkGuard{engine: e}
}

// Release drops the token. Safe to call more than once.
func (g *WorkGuard) Release() {
	g.once.Do(func() {
		g.engine.mu.Lock()
		g.engine.guards--
		g.engine.mu.Unlock()
		g.engine.cond.Broadcast()
	})
}

// Process-wide reactor state. One engine and one worker thread are shared
// by every Server in the process; Start and Stop are meant for orderly
// process startup and shutdown, not for concurrent use.
var (
	mu         sync.Mutex
	engine     *Engine
	guard      *WorkGuard
	workerDone chan struct{}
)

// Start boots the shared reactor: creates the engine if absent, installs
// the keep-alive token and spawns the worker thread. Elevating the worker
// to SCHED_FIFO is best-effort; the reactor still functions at default
// scheduling priority. No-op if already running.
func Start() {
	mu.Lock()
	defer mu.Unlock()
	if workerDone != nil {
		return
	}
	if engine == nil {
		engine = newEngine()
	}
	guard = engine.NewWorkGuard()
	workerDone = make(chan struct{})

	e, done := engine, workerDone
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				const size = 64 << 10
				buf := make([]byte, size)
				buf = buf[:runtime.Stack(buf, false)]
				slog.Error("rtnet/reactor: engine dispatch loop failed", "err", fmt.Sprint(r), "stack", string(buf))
			}
		}()
		runtime.LockOSThread()
		if err := setFIFOScheduling(); err != nil {
			slog.Warn("rtnet/reactor: realtime scheduling unavailable", "err", err)
		}
		e.run()
	}()
}

// Stop releases the keep-alive token, signals the engine to stop
// dispatching, joins the worker thread and clears the shared state.
// Servers must not be constructed or used after Stop.
func Stop() {
	mu.Lock()
	defer mu.Unlock()
	if workerDone == nil {
		return
	}
	guard.Release()
	engine.signalStop()
	<-workerDone
	workerDone = nil
	guard = nil
	engine = nil
}

// Running reports whether the shared reactor has been started.
func Running() bool {
	mu.Lock()
	defer mu.Unlock()
	return workerDone != nil
}

// Shared returns the process-wide engine, or ErrNotRunning if Start has
// not been called.
func Shared() (*Engine, error) {
	mu.Lock()
	defer mu.Unlock()
	if workerDone == nil {
		return nil, ErrNotRunning
	}
	return engine, nil
}

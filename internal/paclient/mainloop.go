package paclient

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	errMainloopRunning = errors.New("mainloop already started")
	errMainloopStopped = errors.New("mainloop stopped")
)

// A threaded event loop: one worker goroutine, locked to its OS thread, that runs every
// callback coming from the server, plus the lock and condition variable the application
// uses to wait for those callbacks.
//
// Callbacks run with the lock held. Application code touching anything a callback may touch
// must hold the lock too, and wait for callbacks with Wait or WaitUntil, which release the
// lock while suspended. Callbacks wake waiters with Signal.
type Mainloop struct {
	logger *slog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	// Deferred callbacks, guarded by queueMu rather than mu so that
	// they can be queued from any goroutine without the loop lock.
	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}

	quit     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once

	// Called on the worker thread before it handles anything, without the lock held.
	// When set, the thread is never returned to the Go scheduler: it exits with the worker.
	OnThreadStart func()
}

func NewMainloop() *Mainloop {
	uuid := uuid.New()
	m := &Mainloop{
		logger: slog.Default().With("mainloop uuid", uuid),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start the worker. A mainloop can only be started once.
func (m *Mainloop) Start() error {
	select {
	case <-m.quit:
		return errMainloopStopped
	default:
	}
	if !m.started.CompareAndSwap(false, true) {
		return errMainloopRunning
	}
	m.running.Store(true)
	go m.loop()

	m.logger.Debug("mainloop started")
	return nil
}

// Stop the worker and wait for it to exit. Callbacks still queued are discarded.
//
// Stop must not be called with the lock held or from a callback,
// since the worker may need the lock to finish the callback it is running.
func (m *Mainloop) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
		if m.started.Load() {
			<-m.done
		}
		m.running.Store(false)

		m.queueMu.Lock()
		discarded := len(m.queue)
		m.queue = nil
		m.queueMu.Unlock()

		m.logger.Debug("mainloop stopped", "discarded callbacks", discarded)
	})
}

// Report whether the worker is running.
func (m *Mainloop) Running() bool {
	return m.running.Load()
}

func (m *Mainloop) Lock() {
	m.mu.Lock()
}

func (m *Mainloop) Unlock() {
	m.mu.Unlock()
}

// Wake every goroutine blocked in Wait or WaitUntil. The lock should be held.
func (m *Mainloop) Signal() {
	m.cond.Broadcast()
}

// Release the lock, block until signalled, then reacquire it.
// Wakes may be spurious or meant for another waiter, so callers re-check their condition in a loop.
func (m *Mainloop) Wait() {
	m.cond.Wait()
}

// Like Wait, but wake no later than deadline.
//
// Returns false, without waiting, if deadline has already passed.
// A zero deadline waits without bound.
func (m *Mainloop) WaitUntil(deadline time.Time) bool {
	if deadline.IsZero() {
		m.cond.Wait()
		return true
	}

	d := time.Until(deadline)
	if d <= 0 {
		return false
	}

	// The timer needs the lock to signal, which it only gets once Wait has released it,
	// so the wake cannot be lost.
	timer := time.AfterFunc(d, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	m.cond.Wait()
	timer.Stop()
	return true
}

// Queue fn to run on the worker with the lock held.
// May be called from any goroutine, with or without the lock.
// Returns false if the mainloop has been stopped, in which case fn never runs.
func (m *Mainloop) Defer(fn func()) bool {
	select {
	case <-m.quit:
		return false
	default:
	}

	m.queueMu.Lock()
	m.queue = append(m.queue, fn)
	m.queueMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Block until every callback queued before the call has run.
// Like Stop, Flush must not be called with the lock held or from a callback.
func (m *Mainloop) Flush() error {
	if !m.Running() {
		return errMainloopStopped
	}

	flushed := make(chan struct{})
	if !m.Defer(func() { close(flushed) }) {
		return errMainloopStopped
	}

	select {
	case <-flushed:
		return nil
	case <-m.done:
		return errMainloopStopped
	}
}

func (m *Mainloop) loop() {
	defer close(m.done)

	runtime.LockOSThread()
	if m.OnThreadStart != nil {
		// The hook may have changed the thread's scheduling (e.g. made it realtime).
		// Exiting while still locked makes the runtime terminate the thread
		// instead of handing it to other goroutines.
		m.OnThreadStart()
	} else {
		defer runtime.UnlockOSThread()
	}

	for {
		select {
		case <-m.quit:
			return
		case <-m.wake:
		}

		for {
			select {
			case <-m.quit:
				return
			default:
			}

			fn := m.pop()
			if fn == nil {
				break
			}

			m.mu.Lock()
			fn()
			m.mu.Unlock()
		}
	}
}

func (m *Mainloop) pop() func() {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	if len(m.queue) == 0 {
		return nil
	}
	fn := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return fn
}

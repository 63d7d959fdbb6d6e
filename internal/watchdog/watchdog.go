// Package watchdog supervises a single in-flight connection and aborts it once
// an overall deadline passes. Transports stop enforcing read timeouts once a
// body starts streaming, so a slow trickle can otherwise hold a worker forever.
package watchdog

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the watchdog lifecycle: Armed -> Disarmed | Fired.
type State int32

// Watchdog states.
const (
	Armed State = iota
	Disarmed
	Fired
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Disarmed:
		return "disarmed"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// DefaultTick is how often the supervisor checks the deadline.
const DefaultTick = time.Second

// Watchdog is armed for one connection. Whoever arms it must Disarm it, usually
// with defer right after Arm.
type Watchdog struct {
	state    atomic.Int32
	onFire   func()
	deadline time.Time
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Arm starts supervising with the default one-second tick. onFire runs at most
// once, on the supervisor goroutine, if the deadline passes while still armed.
// A timeout of zero or less never fires.
func Arm(timeout time.Duration, onFire func()) *Watchdog {
	return ArmWithTick(timeout, DefaultTick, onFire)
}

// ArmWithTick is Arm with a custom tick interval.
func ArmWithTick(timeout, tick time.Duration, onFire func()) *Watchdog {
	w := &Watchdog{
		onFire: onFire,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.state.Store(int32(Armed))
	if timeout <= 0 {
		close(w.done)
		return w
	}
	if tick <= 0 || tick > timeout {
		tick = timeout
	}
	w.deadline = time.Now().Add(timeout)
	go w.supervise(tick)
	return w
}

func (w *Watchdog) supervise(tick time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case now := <-ticker.C:
			if State(w.state.Load()) != Armed {
				return
			}
			if now.Before(w.deadline) {
				continue
			}
			if w.state.CompareAndSwap(int32(Armed), int32(Fired)) && w.onFire != nil {
				w.onFire()
			}
			return
		}
	}
}

// Disarm stops supervision. It is idempotent and reports whether the watchdog
// fired before it could be disarmed.
func (w *Watchdog) Disarm() bool {
	if w == nil {
		return false
	}
	w.state.CompareAndSwap(int32(Armed), int32(Disarmed))
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	return w.Fired()
}

// Fired reports whether the deadline elapsed while armed.
func (w *Watchdog) Fired() bool {
	return w != nil && State(w.state.Load()) == Fired
}

// State returns the current lifecycle state.
func (w *Watchdog) State() State {
	return State(w.state.Load())
}

// Package dispatcher fans fetch outcomes out to registered observers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/fetch"
)

// Dispatcher delivers every outcome to every observer. Safe for concurrent use.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []fetch.Observer
	logger    *zap.Logger
}

// New creates a Dispatcher with an initial set of observers.
func New(logger *zap.Logger, observers ...fetch.Observer) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{logger: logger}
	for _, obs := range observers {
		d.Register(obs)
	}
	return d
}

// Register adds an observer. Nil observers are ignored.
func (d *Dispatcher) Register(obs fetch.Observer) {
	if obs == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, obs)
}

// Len returns the number of registered observers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

// Dispatch calls each observer in registration order. A failing observer is
// logged and does not keep the outcome from the rest; the joined errors are
// returned.
func (d *Dispatcher) Dispatch(ctx context.Context, outcome fetch.Outcome) error {
	d.mu.RLock()
	observers := append([]fetch.Observer(nil), d.observers...)
	d.mu.RUnlock()

	var errs []error
	for i, obs := range observers {
		if err := obs.Observe(ctx, outcome); err != nil {
			d.logger.Error("observer failed",
				zap.Int("observer", i),
				zap.String("url", outcome.URL),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("observer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

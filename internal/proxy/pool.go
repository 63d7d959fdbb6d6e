package proxy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/metrics"
)

// NeverSwitch disables cadence rotation.
const NeverSwitch = -1

// Config controls rotation.
type Config struct {
	Endpoints []Endpoint
	// SwitchEvery rotates after this many successful requests through the same
	// proxy. NeverSwitch (or zero) disables cadence rotation; failures still rotate.
	SwitchEvery int
}

// Prober checks whether a proxy is alive.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) bool
}

// Pool is a round-robin list whose head is the current proxy. Every operation
// holds one mutex, so current/rotate/evict behave as a unit across workers.
// Cadence probes run outside it.
type Pool struct {
	mu          sync.Mutex
	ring        []Endpoint
	evicted     map[Endpoint]struct{}
	disabled    bool
	successes   int
	switchEvery int
	prober      Prober
	logger      *zap.Logger
}

// NewPool builds a Pool. An empty endpoint list yields a disabled pool, meaning
// every request goes direct.
func NewPool(cfg Config, prober Prober, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	ring := make([]Endpoint, 0, len(cfg.Endpoints))
	seen := make(map[Endpoint]struct{}, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		if _, dup := seen[ep]; dup || ep.IsZero() {
			continue
		}
		seen[ep] = struct{}{}
		ring = append(ring, ep)
	}
	return &Pool{
		ring:        ring,
		evicted:     make(map[Endpoint]struct{}),
		disabled:    len(ring) == 0,
		switchEvery: cfg.SwitchEvery,
		prober:      prober,
		logger:      logger,
	}
}

// Active reports whether requests should go through a proxy.
func (p *Pool) Active() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disabled
}

// Current returns the head of the list, or false in direct mode.
func (p *Pool) Current() (Endpoint, bool) {
	if p == nil {
		return Endpoint{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headLocked()
}

// Rotate moves the head to the tail and returns the new head, regardless of cadence.
func (p *Pool) Rotate() (Endpoint, bool) {
	if p == nil {
		return Endpoint{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateLocked()
	metrics.ObserveProxyRotation(metrics.RotationForced)
	return p.headLocked()
}

// RotateAway rotates only if failed is still the head. When another worker
// already moved past it, the current head is returned untouched, so concurrent
// failures on the same proxy never rotate back onto it.
func (p *Pool) RotateAway(failed Endpoint) (Endpoint, bool) {
	if p == nil {
		return Endpoint{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if head, ok := p.headLocked(); ok && head == failed {
		p.rotateLocked()
		metrics.ObserveProxyRotation(metrics.RotationForced)
		p.logger.Debug("proxy rotated after failure", zap.Stringer("failed", failed))
	}
	return p.headLocked()
}

// Evict removes ep permanently. Evicting the last endpoint disables proxying
// for the rest of the pool's life.
func (p *Pool) Evict(ep Endpoint) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictLocked(ep)
}

// Add registers a new endpoint at the tail. Evicted endpoints cannot return,
// and a pool that has been disabled stays disabled.
func (p *Pool) Add(ep Endpoint) bool {
	if p == nil || ep.IsZero() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, gone := p.evicted[ep]; gone {
		return false
	}
	if p.disabled && len(p.evicted) > 0 {
		return false
	}
	for _, existing := range p.ring {
		if existing == ep {
			return false
		}
	}
	p.ring = append(p.ring, ep)
	p.disabled = false
	return true
}

// Probe asks the prober whether ep is alive. Without a prober every proxy is alive.
func (p *Pool) Probe(ctx context.Context, ep Endpoint) bool {
	if p == nil || p.prober == nil {
		return true
	}
	return p.prober.Probe(ctx, ep)
}

// RecordSuccess notes a successful request through used. Once SwitchEvery
// successes accumulate on the current head, the pool rotates to the next
// endpoint that passes a probe, evicting the ones that do not. The head that
// just succeeded is never evicted here. Probes run without the lock; if another
// worker moved the head meanwhile, dead candidates are still evicted but the
// pool is not rotated again.
func (p *Pool) RecordSuccess(ctx context.Context, used Endpoint) {
	if p == nil {
		return
	}
	candidates, ok := p.cadenceDue(used)
	if !ok {
		return
	}

	var dead []Endpoint
	next, found := Endpoint{}, false
	for _, ep := range candidates {
		if p.Probe(ctx, ep) {
			next, found = ep, true
			break
		}
		dead = append(dead, ep)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range dead {
		if p.evictLocked(ep) {
			p.logger.Warn("proxy failed liveness probe; evicted", zap.Stringer("proxy", ep))
		}
	}
	if head, ok := p.headLocked(); !found || !ok || head != used {
		return
	}
	for i, ep := range p.ring {
		if ep != next {
			continue
		}
		for ; i > 0; i-- {
			p.rotateLocked()
		}
		metrics.ObserveProxyRotation(metrics.RotationCadence)
		p.logger.Debug("proxy rotated on cadence", zap.Stringer("from", used), zap.Stringer("to", next))
		return
	}
}

// cadenceDue counts a success on used and, when the cadence is reached, returns
// the endpoints behind the head in rotation order.
func (p *Pool) cadenceDue(used Endpoint) ([]Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	head, ok := p.headLocked()
	if !ok || head != used {
		return nil, false
	}
	p.successes++
	if p.switchEvery <= 0 || p.successes < p.switchEvery {
		return nil, false
	}
	p.successes = 0
	return append([]Endpoint(nil), p.ring[1:]...), true
}

// Endpoints returns a copy of the live endpoints, head first.
func (p *Pool) Endpoints() []Endpoint {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Endpoint(nil), p.ring...)
}

// Evicted returns the evicted endpoints.
func (p *Pool) Evicted() []Endpoint {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Endpoint, 0, len(p.evicted))
	for ep := range p.evicted {
		out = append(out, ep)
	}
	return out
}

func (p *Pool) headLocked() (Endpoint, bool) {
	if p.disabled || len(p.ring) == 0 {
		return Endpoint{}, false
	}
	return p.ring[0], true
}

func (p *Pool) rotateLocked() {
	if len(p.ring) < 2 {
		return
	}
	head := p.ring[0]
	copy(p.ring, p.ring[1:])
	p.ring[len(p.ring)-1] = head
	p.successes = 0
}

func (p *Pool) evictLocked(ep Endpoint) bool {
	for i, existing := range p.ring {
		if existing != ep {
			continue
		}
		p.ring = append(p.ring[:i], p.ring[i+1:]...)
		p.evicted[ep] = struct{}{}
		metrics.ObserveProxyEviction()
		if len(p.ring) == 0 {
			p.disabled = true
			p.logger.Warn("all proxies evicted; continuing without proxy")
		}
		return true
	}
	return false
}

package batch

import (
	"strings"
	"sync"

	"github.com/JakeFAU/docfetch/internal/fetch"
)

// PendingSet is an insertion-ordered queue of URLs without duplicates. Two URLs
// are duplicates when fetch.Key agrees on them.
type PendingSet struct {
	mu     sync.Mutex
	order  []string
	queued map[string]struct{}
}

// NewPendingSet returns a set holding urls.
func NewPendingSet(urls ...string) *PendingSet {
	p := &PendingSet{queued: make(map[string]struct{})}
	p.Add(urls...)
	return p
}

// Add enqueues every URL not already pending and returns how many were new.
// Blank entries are ignored.
func (p *PendingSet) Add(urls ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key := fetch.Key(raw)
		if _, dup := p.queued[key]; dup {
			continue
		}
		p.queued[key] = struct{}{}
		p.order = append(p.order, raw)
		added++
	}
	return added
}

// Pop removes and returns the oldest URL.
func (p *PendingSet) Pop() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return "", false
	}
	raw := p.order[0]
	p.order[0] = ""
	p.order = p.order[1:]
	delete(p.queued, fetch.Key(raw))
	return raw, true
}

// Len returns the number of pending URLs.
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// List returns the pending URLs in order.
func (p *PendingSet) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Clear drops everything pending.
func (p *PendingSet) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order = nil
	p.queued = make(map[string]struct{})
}

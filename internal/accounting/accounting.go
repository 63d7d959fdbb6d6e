// Package accounting tracks downloaded bytes and worker activity.
//
// Totals is the process-wide handle: main creates one and hands it to every
// engine so cross-instance byte counts add up. Counters is per engine.
package accounting

import (
	"sync/atomic"
)

// Totals counts bytes across every engine sharing the handle. It lives as long
// as its owner and is only reset explicitly.
type Totals struct {
	bytes atomic.Int64
}

// NewTotals creates a zeroed process-wide handle.
func NewTotals() *Totals {
	return &Totals{}
}

// Add records n bytes.
func (t *Totals) Add(n int64) {
	if t == nil || n <= 0 {
		return
	}
	t.bytes.Add(n)
}

// Bytes returns the cumulative byte count.
func (t *Totals) Bytes() int64 {
	if t == nil {
		return 0
	}
	return t.bytes.Load()
}

// Reset zeroes the counter. Only the owner of the handle should call it.
func (t *Totals) Reset() {
	if t == nil {
		return
	}
	t.bytes.Store(0)
}

// Counters belongs to one engine instance.
type Counters struct {
	totals        *Totals
	bytes         atomic.Int64
	lastDownload  atomic.Int64
	downloads     atomic.Int64
	activeWorkers atomic.Int64
	batchFailures atomic.Int64
}

// NewCounters binds instance counters to a process-wide Totals. A nil totals
// gets a private handle.
func NewCounters(totals *Totals) *Counters {
	if totals == nil {
		totals = NewTotals()
	}
	return &Counters{totals: totals}
}

// Record accounts one successful download of n bytes in both the instance and
// the process counters, and remembers it as the last download size.
func (c *Counters) Record(n int64) {
	if n < 0 {
		n = 0
	}
	c.bytes.Add(n)
	c.totals.Add(n)
	c.lastDownload.Store(n)
	c.downloads.Add(1)
}

// WorkerStarted increments the active worker gauge and returns the new value.
func (c *Counters) WorkerStarted() int64 {
	return c.activeWorkers.Add(1)
}

// WorkerFinished decrements the active worker gauge.
func (c *Counters) WorkerFinished() {
	c.activeWorkers.Add(-1)
}

// BatchFailure counts one failed URL.
func (c *Counters) BatchFailure() {
	c.batchFailures.Add(1)
}

// Totals returns the shared handle.
func (c *Counters) Totals() *Totals {
	return c.totals
}

// Snapshot is a point-in-time copy of the counters. Fields are read one by one
// so a snapshot taken mid-run is only eventually consistent.
type Snapshot struct {
	Bytes         int64 `json:"bytes"`
	ProcessBytes  int64 `json:"process_bytes"`
	LastDownload  int64 `json:"last_download_bytes"`
	Downloads     int64 `json:"downloads"`
	ActiveWorkers int64 `json:"active_workers"`
	BatchFailures int64 `json:"batch_failures"`
}

// Snapshot reads every counter.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Bytes:         c.bytes.Load(),
		ProcessBytes:  c.totals.Bytes(),
		LastDownload:  c.lastDownload.Load(),
		Downloads:     c.downloads.Load(),
		ActiveWorkers: c.activeWorkers.Load(),
		BatchFailures: c.batchFailures.Load(),
	}
}

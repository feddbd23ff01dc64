package game

import (
	"sync"
	"time"
)

// PendingTTL is the minimum age before a deferred message
// is swept and dropped with a warning.
const PendingTTL = 30 * time.Second

// NameQueryInterval is the minimum spacing between
// repeat NAME_QUERY requests for the same GUID.
const NameQueryInterval = 5 * time.Second

// maxPendingPerGuid bounds how many messages can be deferred for a single
// unresolved GUID. A GUID spamming chat faster than NAME_QUERY round-trips
// can resolve it drops its oldest queued message rather than growing
// PendingByGuid without bound.
const maxPendingPerGuid = 32

type pendingEntry struct {
	msg      ChatMessage
	enqueued time.Time
}

// PendingByGuid holds chat messages awaiting name resolution, queued
// per-GUID in FIFO order. It is owned exclusively
// by the game client task — callers outside that task only ever
// see snapshots delivered over channels.
type PendingByGuid struct {
	mu          sync.Mutex
	queues      map[uint64][]pendingEntry
	lastQueryAt map[uint64]time.Time
}

// NewPendingByGuid creates an empty deferral table.
func NewPendingByGuid() *PendingByGuid {
	return &PendingByGuid{
		queues:      make(map[uint64][]pendingEntry),
		lastQueryAt: make(map[uint64]time.Time),
	}
}

// Enqueue defers msg under its sender GUID. It returns true if a fresh
// NAME_QUERY should be emitted (at most once per GUID per NameQueryInterval),
// and true for dropped if the GUID's queue was already at maxPendingPerGuid
// and its oldest entry was evicted to make room.
func (p *PendingByGuid) Enqueue(msg ChatMessage, now time.Time) (shouldQuery, dropped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	guid := msg.SenderGUID
	queue := p.queues[guid]
	if len(queue) >= maxPendingPerGuid {
		queue = queue[1:]
		dropped = true
	}
	p.queues[guid] = append(queue, pendingEntry{msg: msg, enqueued: now})

	last, ok := p.lastQueryAt[guid]
	if !ok || now.Sub(last) >= NameQueryInterval {
		p.lastQueryAt[guid] = now
		shouldQuery = true
	}
	return shouldQuery, dropped
}

// Drain removes and returns, in FIFO order, every message queued under
// guid, so the caller can re-emit them now that guid's name is known.
func (p *PendingByGuid) Drain(guid uint64) []ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.queues[guid]
	delete(p.queues, guid)
	delete(p.lastQueryAt, guid)

	out := make([]ChatMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

// SweepResult reports what a Sweep pass dropped, for logging.
type SweepResult struct {
	GUID    uint64
	Dropped int
}

// Sweep drops entries older than PendingTTL and returns one SweepResult per
// affected GUID so the caller can log a warning.
func (p *PendingByGuid) Sweep(now time.Time) []SweepResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	var results []SweepResult
	for guid, entries := range p.queues {
		kept := entries[:0:0]
		dropped := 0
		for _, e := range entries {
			if now.Sub(e.enqueued) >= PendingTTL {
				dropped++
				continue
			}
			kept = append(kept, e)
		}
		if dropped > 0 {
			results = append(results, SweepResult{GUID: guid, Dropped: dropped})
		}
		if len(kept) == 0 {
			delete(p.queues, guid)
		} else {
			p.queues[guid] = kept
		}
	}
	return results
}

// Len returns the total number of queued messages across all GUIDs. The
// only cap enforced is the per-GUID one in Enqueue.
func (p *PendingByGuid) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, entries := range p.queues {
		total += len(entries)
	}
	return total
}

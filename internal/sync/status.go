// Package sync: sync status stream.
package sync

import "sync"

// Status is the externally observable state of the orchestrator.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusOffline Status = "offline"
)

// Broadcaster fans status transitions out to any number of subscribers.
// This is a status stream, not an event log: each subscriber channel is
// buffered one deep and a slow subscriber simply misses intermediate states,
// always seeing the latest.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Status
	nextID int
	last   Status
}

// NewBroadcaster creates a Broadcaster starting in the idle state.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan Status),
		last: StatusIdle,
	}
}

// Subscribe registers a subscriber primed with the current status. The
// returned cancel func must be called to release the subscription.
func (b *Broadcaster) Subscribe() (<-chan Status, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Status, 1)
	ch <- b.last
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish pushes a status to all subscribers, displacing any stale value a
// subscriber has not consumed yet.
func (b *Broadcaster) Publish(status Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if status == b.last {
		return
	}
	b.last = status

	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- status
	}
}

// Last returns the most recently published status.
func (b *Broadcaster) Last() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

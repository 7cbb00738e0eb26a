// Package netmon observes network reachability and exposes a de-duplicated
// online/offline signal.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ledgersync/internal/logging"
)

// ProbeFunc reports whether the network is reachable right now.
type ProbeFunc func(ctx context.Context) bool

// HTTPProbe probes the given URLs; any reachable URL means online, the
// logical OR over all configured interfaces.
func HTTPProbe(urls []string, timeout time.Duration) ProbeFunc {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		for _, url := range urls {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				continue
			}
			resp.Body.Close()
			return true
		}
		return false
	}
}

// Monitor polls a probe and publishes transitions only: subscribers never
// see the same value twice in a row.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu     sync.Mutex
	online bool
	known  bool
	subs   map[int]chan bool
	nextID int

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Monitor. Start must be called before transitions flow.
func New(probe ProbeFunc, interval time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]chan bool),
		stopCh:   make(chan struct{}),
	}
}

// Start probes once synchronously to establish the initial state, then
// keeps polling in the background until Stop or ctx cancellation.
func (m *Monitor) Start(ctx context.Context) {
	m.set(m.probe(ctx))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.set(m.probe(ctx))
			}
		}
	}()
}

// Stop halts polling and waits for the poll loop to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers for transitions. Channels are buffered one deep; a
// subscriber that falls behind sees only the latest transition.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Set records an observation and publishes it if it is a transition.
// Exposed for tests and for callers with their own reachability source.
func (m *Monitor) Set(online bool) {
	m.set(online)
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	transition := m.known
	m.online = online
	m.known = true

	// Sends happen under the lock so a concurrent cancel cannot close a
	// channel mid-send. Channels are buffered and drained first, so the
	// sends never block.
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	m.mu.Unlock()

	if transition {
		logging.Info("connectivity changed", logging.Fields{"online": online})
	}
}

package metrics

import "sync"

// Event names tracked by the signaling server.
const (
	RoomsCreated         = "rooms_created"
	RoomsDeleted         = "rooms_deleted"
	MembersJoined        = "members_joined"
	MembersLeft          = "members_left"
	RelaysDelivered      = "relays_delivered"
	RelayDroppedNoTarget = "relay_dropped_no_target"
	RelayDroppedNoRoom   = "relay_dropped_no_room"
	BadMessages          = "bad_messages"
	RateLimited          = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry. Counters are
// keyed by event name and exposed via PrometheusHandler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// Package monitoring tracks live resource usage of an access layer: open
// handles per worker thread, the handle instance seen on each thread, and
// opened/closed stream counts per record type.
//
// Monitoring is optional. New(false) returns a no-op Registry, so call sites
// stay the same whether or not counters are kept.
package monitoring

import (
	"maps"
	"sync"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Counter selects one of the registry's keyed counters.
type Counter int

// Keyed counters.
const (
	// Connections counts live handles per worker thread name.
	Connections Counter = iota
	// Opened counts stream subscriptions per record type.
	Opened
	// Closed counts terminated streams per record type.
	Closed
)

// Registry is the monitoring capability of an access layer.
type Registry interface {
	Enabled() bool
	Increment(c Counter, key string)
	Decrement(c Counter, key string)
	// TrackInstance records info for threadID unless a handle is already
	// recorded there.
	TrackInstance(threadID int64, info types.HandleInfo)
	// UntrackInstance forgets the handle recorded for threadID if it is
	// handleID.
	UntrackInstance(threadID int64, handleID string)
	// Snapshot returns a copy of all counters labelled with name.
	Snapshot(name string) types.MonitoringLog
}

// New returns a synchronized registry when enabled, otherwise a no-op.
func New(enabled bool) Registry {
	if !enabled {
		return Disabled{}
	}
	return &registry{
		connections: make(map[string]int),
		instances:   make(map[int64]types.HandleInfo),
		opened:      make(map[string]int),
		closed:      make(map[string]int),
	}
}

// registry guards all four maps with a single mutex.
type registry struct {
	mu          sync.Mutex
	connections map[string]int
	instances   map[int64]types.HandleInfo
	opened      map[string]int
	closed      map[string]int
}

func (r *registry) Enabled() bool { return true }

func (r *registry) counter(c Counter) map[string]int {
	switch c {
	case Connections:
		return r.connections
	case Opened:
		return r.opened
	case Closed:
		return r.closed
	default:
		return nil
	}
}

func (r *registry) Increment(c Counter, key string) { r.add(c, key, 1) }

func (r *registry) Decrement(c Counter, key string) { r.add(c, key, -1) }

func (r *registry) add(c Counter, key string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.counter(c)
	if m == nil {
		return
	}
	// A missing key starts at zero.
	m[key] += delta
}

func (r *registry) TrackInstance(threadID int64, info types.HandleInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[threadID]; !ok {
		r.instances[threadID] = info
	}
}

func (r *registry) UntrackInstance(threadID int64, handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.instances[threadID]; ok && info.HandleID == handleID {
		delete(r.instances, threadID)
	}
}

func (r *registry) Snapshot(name string) types.MonitoringLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	return types.MonitoringLog{
		ConnectionsByThread: maps.Clone(r.connections),
		InstancesByThread:   maps.Clone(r.instances),
		OpenedByType:        maps.Clone(r.opened),
		ClosedByType:        maps.Clone(r.closed),
		LocalServiceName:    name,
	}
}

// Disabled is the no-op Registry. Its snapshot is empty and taking it
// acquires no lock.
type Disabled struct{}

func (Disabled) Enabled() bool                            { return false }
func (Disabled) Increment(Counter, string)                {}
func (Disabled) Decrement(Counter, string)                {}
func (Disabled) TrackInstance(int64, types.HandleInfo)    {}
func (Disabled) UntrackInstance(int64, string)            {}
func (Disabled) Snapshot(name string) types.MonitoringLog { return types.EmptyMonitoringLog(name) }

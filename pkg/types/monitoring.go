package types

import "time"

// HandleInfo describes a live database handle without referencing it.
type HandleInfo struct {
	HandleID   string    `json:"handle_id" yaml:"handle_id"`
	RecordType string    `json:"record_type" yaml:"record_type"`
	Thread     string    `json:"thread" yaml:"thread"`
	AcquiredAt time.Time `json:"acquired_at" yaml:"acquired_at"`
}

// MonitoringLog is a point-in-time copy of an access layer's resource
// counters. Mutating it does not affect the layer.
type MonitoringLog struct {
	// ConnectionsByThread counts handles acquired and not yet released, keyed
	// by worker thread name.
	ConnectionsByThread map[string]int `json:"connections" yaml:"connections"`
	// InstancesByThread holds the first live handle seen on each worker
	// thread, keyed by worker ID.
	InstancesByThread map[int64]HandleInfo `json:"instances" yaml:"instances"`
	OpenedByType      map[string]int       `json:"opened" yaml:"opened"`
	ClosedByType      map[string]int       `json:"closed" yaml:"closed"`
	LocalServiceName  string               `json:"local_service_name" yaml:"local_service_name"`
}

// EmptyMonitoringLog returns a log with empty, non-nil maps.
func EmptyMonitoringLog(name string) MonitoringLog {
	return MonitoringLog{
		ConnectionsByThread: map[string]int{},
		InstancesByThread:   map[int64]HandleInfo{},
		OpenedByType:        map[string]int{},
		ClosedByType:        map[string]int{},
		LocalServiceName:    name,
	}
}

package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

func TestCollector(t *testing.T) {
	r := New(true)
	r.Increment(Connections, "HandlerThread_orders_1")
	r.Increment(Opened, "orders")
	r.Increment(Opened, "trails")
	r.Increment(Closed, "orders")
	r.TrackInstance(1, types.HandleInfo{HandleID: "h"})

	c := NewCollector(func() types.MonitoringLog { return r.Snapshot("svc") }, func() int { return 3 })

	// 1 connection + 1 instances + 2 opened + 1 closed + 1 live handles.
	assert.Equal(t, 6, testutil.CollectAndCount(c))
	assert.Equal(t, 2, testutil.CollectAndCount(c, MetricStreamsOpened))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	var live float64
	for _, mf := range families {
		if mf.GetName() == MetricHandlesLive {
			live = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(3), live)
}

func TestCollector_Disabled(t *testing.T) {
	r := New(false)
	c := NewCollector(func() types.MonitoringLog { return r.Snapshot("svc") }, func() int { return 0 })
	// Only the unlabelled gauges remain.
	assert.Equal(t, 2, testutil.CollectAndCount(c))
}

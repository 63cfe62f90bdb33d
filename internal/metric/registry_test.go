package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.PrometheusRegistry())
	require.NotNil(t, r.CoreMetrics())

	// Core metrics must be gatherable without conflict
	_, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
}

func TestCoreMetricRecording(t *testing.T) {
	r := NewRegistry()
	m := r.CoreMetrics()

	m.RecordDeviceConnected(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectedDevices))
	m.RecordDeviceConnected(-1)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectedDevices))

	m.RecordRequestSent("click")
	m.RecordRequestSent("click")
	m.RecordRequestSent("get_ui_state")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsSent.WithLabelValues("click")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsSent.WithLabelValues("get_ui_state")))

	m.RecordRequestTimeout("click")
	m.RecordLateResponse()
	m.RecordUnknownResponse()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestTimeouts.WithLabelValues("click")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LateResponses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnknownResponses))

	m.RecordRequestDuration("click", 150*time.Millisecond)
	m.RecordExploration("complete")
	m.RecordScreenDiscovered()
	m.RecordElementsDiscovered(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ElementsDiscovered))
}

func TestRegisterCollectorDuplicate(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "appscout",
		Subsystem: "test",
		Name:      "custom_total",
		Help:      "test counter",
	})

	require.NoError(t, r.RegisterCollector("server", "custom_total", c))
	err := r.RegisterCollector("server", "custom_total", c)
	assert.Error(t, err, "duplicate registration should fail")

	assert.True(t, r.Unregister("server", "custom_total"))
	assert.False(t, r.Unregister("server", "custom_total"))
}

package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	m := New()
	m.ObserveOperation("include", ResultSuccess, 20*time.Millisecond)
	m.ObserveOperation("include", ResultSuccess, 10*time.Millisecond)
	m.ObserveOperation("exclude", ResultFailure, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("include", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("exclude", ResultFailure)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operationDuration))
}

func TestObserveRemote(t *testing.T) {
	m := New()
	m.ObserveRemote("trigger_sync", 200, time.Millisecond, nil)
	m.ObserveRemote("trigger_sync", 0, time.Millisecond, errors.New("dial"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCallsTotal.WithLabelValues("trigger_sync", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCallsTotal.WithLabelValues("trigger_sync", "error")))
}

func TestGauges(t *testing.T) {
	m := New()
	m.SetMembers(4)
	m.SetPending(2)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.members))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pending))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("include", ResultSuccess, time.Second)
		m.ObserveRemote("x", 200, time.Second, nil)
		m.SetMembers(1)
		m.SetPending(1)
		assert.NoError(t, m.WriteTextfile("/nonexistent/file.prom"))
	})
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveOperation("include", ResultSuccess, time.Millisecond)
	path := filepath.Join(t.TempDir(), "kbpicker.prom")

	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `kbpicker_operations_total{operation="include",result="success"} 1`)
}

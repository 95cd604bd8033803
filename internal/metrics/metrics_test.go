package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopedb/percas/internal/cache"
	"github.com/scopedb/percas/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRegistry_RecordOperationIncrementsCounters(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())

	reg.RecordOperation(metrics.OperationGet, metrics.StatusSuccess, 128, 5*time.Millisecond)

	count := reg.Operation.Count.WithLabelValues(metrics.OperationGet, metrics.StatusSuccess)
	assert.Equal(t, float64(1), counterValue(t, count))

	bytes := reg.Operation.Bytes.WithLabelValues(metrics.OperationGet, metrics.StatusSuccess)
	assert.Equal(t, float64(128), counterValue(t, bytes))
}

func TestReporter_SampleSetsCapacityAndUsedGauges(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	engine, err := cache.New(cache.Config{
		DataDir:             t.TempDir(),
		MemoryCapacityBytes: 1 << 20,
		DiskCapacityBytes:   1 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	reporter := metrics.NewReporter(reg, engine, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reporter.Run(ctx)

	require.Eventually(t, func() bool {
		return gaugeValue(t, reg.CacheCapacityBytes) == float64(engine.Capacity())
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, float64(engine.Capacity()), gaugeValue(t, reg.CacheUsedBytes))
}

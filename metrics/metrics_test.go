package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric %v", m.Desc())
	return 0
}

func TestRegisterOnce(t *testing.T) {
	// Creating the same metrics twice must reuse the registered collectors.
	a := NewDefaultVaultMetrics("metricstest", "v1")
	b := NewDefaultVaultMetrics("metricstest", "v1")

	a.Operations("deposit", "ok").Inc()
	b.Operations("deposit", "ok").Inc()
	require.Equal(t, 2.0, value(t, a.Operations("deposit", "ok")))

	NewDefaultStorageMetrics("metricstest")
	NewDefaultStorageMetrics("metricstest")
	NewDefaultRequestMetrics("metricstest")
	NewDefaultRequestMetrics("metricstest")
}

func TestVaultGauges(t *testing.T) {
	m := NewDefaultVaultMetrics("metricstest", "gauges")
	m.SetBalance(QuantityAccumulatedFees, big.NewInt(1_500))
	m.SetAPR(297)

	require.Equal(t, 1500.0, value(t, m.balances.WithLabelValues("gauges", QuantityAccumulatedFees)))
	require.Equal(t, 297.0, value(t, m.apr.WithLabelValues("gauges")))
}

func TestRequestCounterPadsLabels(t *testing.T) {
	m := NewDefaultRequestMetrics("metricstest_pad")
	m.RequestCounter("/v1/status").Inc()
	require.Equal(t, 1.0, value(t, m.RequestCounter("/v1/status", "", "")))
}

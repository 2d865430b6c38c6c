package metrics

import (
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Quantities reported by VaultMetrics.Balance.
const (
	QuantityTotalBalance        = "total_balance"
	QuantityTotalPrincipal      = "total_principal"
	QuantityTotalDepositedValue = "total_deposited_value"
	QuantityAccumulatedFees     = "accumulated_fees"
)

// VaultMetrics instruments the vault engine.
type VaultMetrics struct {
	vault string

	// Counts of engine operations, by outcome.
	operations *prometheus.CounterVec

	// Latencies of engine operations.
	latencies *prometheus.HistogramVec

	// Counts of swallowed failures of best-effort external calls.
	bestEffortFailures *prometheus.CounterVec

	// Pool-level amounts, in asset base units.
	balances *prometheus.GaugeVec

	// Current APR of the active strategy, in basis points.
	apr *prometheus.GaugeVec
}

// NewDefaultVaultMetrics creates Prometheus metric instrumentation for the
// vault identified by vault.
func NewDefaultVaultMetrics(pkg string, vault string) VaultMetrics {
	metrics := VaultMetrics{
		vault: vault,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_vault_operations", pkg),
				Help: "How many vault operations were run, partitioned by operation and status.",
			},
			[]string{"vault", "operation", "status"}, // Labels.
		),
		latencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_vault_latencies", pkg),
				Help: "How long vault operations take, partitioned by operation.",
			},
			[]string{"vault", "operation"}, // Labels.
		),
		bestEffortFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_vault_best_effort_failures", pkg),
				Help: "How many best-effort strategy calls failed and were treated as zero progress.",
			},
			[]string{"vault", "operation"}, // Labels.
		),
		balances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_vault_balance", pkg),
				Help: "Pool-level vault amounts in asset base units, partitioned by quantity.",
			},
			[]string{"vault", "quantity"}, // Labels.
		),
		apr: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_vault_apr_bps", pkg),
				Help: "Estimated APR of the active strategy in basis points.",
			},
			[]string{"vault"}, // Labels.
		),
	}
	metrics.operations = registerOnce(metrics.operations).(*prometheus.CounterVec)
	metrics.latencies = registerOnce(metrics.latencies).(*prometheus.HistogramVec)
	metrics.bestEffortFailures = registerOnce(metrics.bestEffortFailures).(*prometheus.CounterVec)
	metrics.balances = registerOnce(metrics.balances).(*prometheus.GaugeVec)
	metrics.apr = registerOnce(metrics.apr).(*prometheus.GaugeVec)
	return metrics
}

// Operations returns the counter for the operation with the given outcome.
func (m *VaultMetrics) Operations(operation, status string) prometheus.Counter {
	return m.operations.WithLabelValues(m.vault, operation, status)
}

// Latencies returns a new latency timer for the operation.
func (m *VaultMetrics) Latencies(operation string) *prometheus.Timer {
	return prometheus.NewTimer(m.latencies.WithLabelValues(m.vault, operation))
}

// BestEffortFailures returns the counter of swallowed failures for the operation.
func (m *VaultMetrics) BestEffortFailures(operation string) prometheus.Counter {
	return m.bestEffortFailures.WithLabelValues(m.vault, operation)
}

// SetBalance sets the gauge for one of the Quantity* amounts.
func (m *VaultMetrics) SetBalance(quantity string, amount *big.Int) {
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.balances.WithLabelValues(m.vault, quantity).Set(f)
}

// SetAPR sets the APR gauge.
func (m *VaultMetrics) SetAPR(bps uint64) {
	m.apr.WithLabelValues(m.vault).Set(float64(bps))
}

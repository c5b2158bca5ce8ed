package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type rentalMetrics struct {
	started      *prometheus.CounterVec
	stopped      *prometheus.CounterVec
	conversions  *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	guardVetoes  *prometheus.CounterVec
	hookFailures *prometheus.CounterVec
	activeOrders prometheus.Gauge
}

var (
	rentalMetricsOnce sync.Once
	rentalRegistry    *rentalMetrics
)

// Rental returns the lazily-initialised registry tracking protocol engine
// activity.
func Rental() *rentalMetrics {
	rentalMetricsOnce.Do(func() {
		rentalRegistry = &rentalMetrics{
			started: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentchain",
				Subsystem: "rental",
				Name:      "orders_started_total",
				Help:      "Rental orders opened, segmented by order kind.",
			}, []string{"kind"}),
			stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentchain",
				Subsystem: "rental",
				Name:      "orders_stopped_total",
				Help:      "Rental orders stopped, segmented by order kind.",
			}, []string{"kind"}),
			conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentchain",
				Subsystem: "rental",
				Name:      "conversions_total",
				Help:      "Settlement callbacks processed, segmented by outcome.",
			}, []string{"outcome"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentchain",
				Subsystem: "escrow",
				Name:      "settlements_total",
				Help:      "Escrow payment settlements, segmented by split mode.",
			}, []string{"mode"}),
			guardVetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentchain",
				Subsystem: "guard",
				Name:      "vetoes_total",
				Help:      "Wallet transactions rejected by the guard, segmented by cause.",
			}, []string{"cause"}),
			hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentchain",
				Subsystem: "rental",
				Name:      "hook_failures_total",
				Help:      "Hook dispatch failures, segmented by classification.",
			}, []string{"class"}),
			activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rentchain",
				Subsystem: "rental",
				Name:      "active_orders",
				Help:      "Rental orders currently open in the ledger.",
			}),
		}
		prometheus.MustRegister(
			rentalRegistry.started,
			rentalRegistry.stopped,
			rentalRegistry.conversions,
			rentalRegistry.settlements,
			rentalRegistry.guardVetoes,
			rentalRegistry.hookFailures,
			rentalRegistry.activeOrders,
		)
	})
	return rentalRegistry
}

// RecordStart increments the started counter and the active-order gauge.
func (m *rentalMetrics) RecordStart(kind string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(normalizeLabel(kind)).Inc()
	m.conversions.WithLabelValues("accepted").Inc()
	m.activeOrders.Inc()
}

// RecordStop increments the stopped counter and decrements the active-order
// gauge.
func (m *rentalMetrics) RecordStop(kind string) {
	if m == nil {
		return
	}
	m.stopped.WithLabelValues(normalizeLabel(kind)).Inc()
	m.activeOrders.Dec()
}

// RecordConversionFailure counts a rejected settlement callback.
func (m *rentalMetrics) RecordConversionFailure() {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues("rejected").Inc()
}

// RecordSettlement counts an escrow payout. Mode is "prorata" for early PAY
// stops and "full" otherwise.
func (m *rentalMetrics) RecordSettlement(mode string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(mode)).Inc()
}

// RecordGuardVeto counts a wallet transaction the guard rejected.
func (m *rentalMetrics) RecordGuardVeto(cause string) {
	if m == nil {
		return
	}
	m.guardVetoes.WithLabelValues(normalizeLabel(cause)).Inc()
}

// RecordHookFailure counts a classified hook dispatch failure.
func (m *rentalMetrics) RecordHookFailure(class string) {
	if m == nil {
		return
	}
	m.hookFailures.WithLabelValues(normalizeLabel(class)).Inc()
}

func normalizeLabel(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

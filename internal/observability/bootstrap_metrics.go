package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Allocation outcomes used as the "outcome" label.
const (
	OutcomeAllocated = "allocated"
	OutcomeExisting  = "existing"
	OutcomeFailed    = "failed"
)

// BootstrapCollector exposes orchestrator, registry and forwarding-plane
// metrics. A nil *BootstrapCollector is a valid no-op recorder.
type BootstrapCollector struct {
	gatherer prometheus.Gatherer

	Allocations        *prometheus.CounterVec
	AllocationDuration prometheus.Histogram
	QueuedLinks        prometheus.Gauge
	RegistryEntries    *prometheus.GaugeVec
	RuleOperations     *prometheus.CounterVec
	StatsReports       *prometheus.CounterVec
}

// NewBootstrapCollector registers bootstrapping metrics against reg.
func NewBootstrapCollector(reg prometheus.Registerer) (*BootstrapCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	allocations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bootstrap_link_allocations_total",
		Help: "Link identifier allocation attempts, labeled by outcome.",
	}, []string{"outcome"}), "bootstrap_link_allocations_total")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bootstrap_allocation_round_trip_seconds",
		Help:    "Latency of resource request/offer round trips with the resource manager.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "bootstrap_allocation_round_trip_seconds")
	if err != nil {
		return nil, err
	}

	queued, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bootstrap_unconfigured_links",
		Help: "Links waiting for identifier allocation.",
	}), "bootstrap_unconfigured_links")
	if err != nil {
		return nil, err
	}

	entries, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bootstrap_registry_entries",
		Help: "Identifier registry entries, labeled by table.",
	}, []string{"table"}), "bootstrap_registry_entries")
	if err != nil {
		return nil, err
	}

	rules, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bootstrap_rule_operations_total",
		Help: "Forwarding rule operations issued to the forwarding plane, labeled by operation and result.",
	}, []string{"op", "result"}), "bootstrap_rule_operations_total")
	if err != nil {
		return nil, err
	}

	stats, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bootstrap_traffic_reports_total",
		Help: "Traffic statistics reports sent to the resource manager, labeled by result.",
	}, []string{"result"}), "bootstrap_traffic_reports_total")
	if err != nil {
		return nil, err
	}

	return &BootstrapCollector{
		gatherer:           gatherer,
		Allocations:        allocations,
		AllocationDuration: duration,
		QueuedLinks:        queued,
		RegistryEntries:    entries,
		RuleOperations:     rules,
		StatsReports:       stats,
	}, nil
}

// RecordAllocation counts one allocation attempt. A zero duration means no
// round trip happened (registry hit).
func (c *BootstrapCollector) RecordAllocation(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Allocations.WithLabelValues(outcome).Inc()
	if d > 0 {
		c.AllocationDuration.Observe(d.Seconds())
	}
}

// SetQueued publishes the unconfigured queue length.
func (c *BootstrapCollector) SetQueued(n int) {
	if c == nil {
		return
	}
	c.QueuedLinks.Set(float64(n))
}

// SetRegistryCounts publishes per-table registry sizes.
func (c *BootstrapCollector) SetRegistryCounts(nodes, links, connectors int) {
	if c == nil {
		return
	}
	c.RegistryEntries.WithLabelValues("node").Set(float64(nodes))
	c.RegistryEntries.WithLabelValues("link").Set(float64(links))
	c.RegistryEntries.WithLabelValues("connector").Set(float64(connectors))
}

// RecordRule counts a forwarding rule install or remove.
func (c *BootstrapCollector) RecordRule(op string, err error) {
	if c == nil {
		return
	}
	c.RuleOperations.WithLabelValues(op, resultLabel(err)).Inc()
}

// RecordStatsReport counts one traffic statistics message.
func (c *BootstrapCollector) RecordStatsReport(err error) {
	if c == nil {
		return
	}
	c.StatsReports.WithLabelValues(resultLabel(err)).Inc()
}

// Handler exposes the registry these metrics were registered with.
func (c *BootstrapCollector) Handler() http.Handler {
	if c == nil {
		return handlerFor(nil)
	}
	return handlerFor(c.gatherer)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

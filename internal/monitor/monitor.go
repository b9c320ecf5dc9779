// Package monitor reports per-connector traffic counters to the TM.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
)

// DefaultRoundTimeout bounds one Report call.
const DefaultRoundTimeout = 5 * time.Second

// Counters are the port statistics of one node connector.
type Counters struct {
	PacketsReceived    uint64
	PacketsTransmitted uint64
	BytesReceived      uint64
	BytesTransmitted   uint64
}

// CounterSource reads connector statistics from the forwarding plane.
type CounterSource interface {
	Counters(ctx context.Context, connectorID string) (Counters, bool)
}

// Monitor sends the counters of every registered connector to the TM.
type Monitor struct {
	reg      *registry.Registry
	source   CounterSource
	reporter tmsdn.Reporter
	log      logging.Logger
	metrics  *observability.BootstrapCollector
	timeout  time.Duration
}

// New constructs a Monitor. metrics may be nil.
func New(reg *registry.Registry, source CounterSource, reporter tmsdn.Reporter, log logging.Logger, metrics *observability.BootstrapCollector) *Monitor {
	return &Monitor{
		reg:      reg,
		source:   source,
		reporter: reporter,
		log:      logging.OrNoop(log).With(logging.Component("monitor")),
		metrics:  metrics,
		timeout:  DefaultRoundTimeout,
	}
}

// SetRoundTimeout changes the deadline shared by all sends of one Report.
// Non-positive values keep the current timeout.
func (m *Monitor) SetRoundTimeout(d time.Duration) {
	if d > 0 {
		m.timeout = d
	}
}

// Report sends one statistics message per registered connector that the
// source has counters for and returns how many were sent. Send failures are
// logged and do not stop the round. All sends share one deadline; once it
// passes the remaining connectors are skipped until the next round.
func (m *Monitor) Report(ctx context.Context) int {
	if m == nil || m.source == nil || m.reporter == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conns := m.reg.Connectors()
	sent := 0
	for i, conn := range conns {
		if ctx.Err() != nil {
			m.log.Warn(ctx, "traffic report round cut short",
				logging.Int("sent", sent),
				logging.Int("skipped", len(conns)-i),
				logging.Duration("timeout", m.timeout),
			)
			break
		}
		c, ok := m.source.Counters(ctx, conn.Name)
		if !ok {
			continue
		}
		err := m.reporter.SendTrafficStats(ctx, tmsdn.TrafficStats{
			Node1:              conn.Source,
			Node2:              conn.Destination,
			PacketsReceived:    c.PacketsReceived,
			PacketsTransmitted: c.PacketsTransmitted,
			BytesReceived:      c.BytesReceived,
			BytesTransmitted:   c.BytesTransmitted,
		})
		m.metrics.RecordStatsReport(err)
		if err != nil {
			m.log.Warn(ctx, "traffic stats not sent", logging.String("connector", conn.Name), logging.Err(err))
			continue
		}
		sent++
		m.log.Debug(ctx, "traffic stats sent",
			logging.String("connector", conn.Name),
			logging.String("rx", humanize.Bytes(c.BytesReceived)),
			logging.String("tx", humanize.Bytes(c.BytesTransmitted)),
			logging.Uint64("rx_packets", c.PacketsReceived),
			logging.Uint64("tx_packets", c.PacketsTransmitted),
		)
	}
	return sent
}

// MapSource is a CounterSource fed by Set. Drivers that poll switch port
// statistics push into it.
type MapSource struct {
	mu       sync.RWMutex
	counters map[string]Counters
}

// NewMapSource returns an empty MapSource.
func NewMapSource() *MapSource {
	return &MapSource{counters: make(map[string]Counters)}
}

// Set stores the counters for connectorID.
func (s *MapSource) Set(connectorID string, c Counters) {
	s.mu.Lock()
	s.counters[connectorID] = c
	s.mu.Unlock()
}

// Counters implements CounterSource.
func (s *MapSource) Counters(_ context.Context, connectorID string) (Counters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[connectorID]
	return c, ok
}

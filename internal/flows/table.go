package flows

import (
	"context"
	"sort"
	"sync"

	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
)

type ruleKey struct {
	switchID string
	flowID   string
}

// Table is an in-memory Programmer. It stands in for the switch flow
// tables in tests and in deployments without a southbound driver.
type Table struct {
	mu      sync.RWMutex
	rules   map[ruleKey]Rule
	log     logging.Logger
	metrics *observability.BootstrapCollector
}

// NewTable returns an empty Table. metrics may be nil.
func NewTable(log logging.Logger, metrics *observability.BootstrapCollector) *Table {
	return &Table{
		rules:   make(map[ruleKey]Rule),
		log:     logging.OrNoop(log).With(logging.Component("flows")),
		metrics: metrics,
	}
}

// InstallRule stores rule, replacing any rule with the same key.
func (t *Table) InstallRule(ctx context.Context, rule Rule) error {
	if err := rule.Validate(); err != nil {
		t.metrics.RecordRule("install", err)
		return err
	}
	t.mu.Lock()
	t.rules[ruleKey{switchID: rule.SwitchID, flowID: rule.FlowID}] = rule
	t.mu.Unlock()

	t.metrics.RecordRule("install", nil)
	t.log.Debug(ctx, "flow installed",
		logging.String("switch", rule.SwitchID),
		logging.String("flow_id", rule.FlowID),
		logging.String("ipv6_src", rule.Match.IPv6Src),
		logging.String("ipv6_dst", rule.Match.IPv6Dst),
		logging.String("output", rule.OutputPort),
	)
	return nil
}

// RemoveRule deletes the rule keyed by connectorID on switchID. Removing an
// absent rule is not an error.
func (t *Table) RemoveRule(ctx context.Context, switchID, connectorID string) error {
	t.mu.Lock()
	key := ruleKey{switchID: switchID, flowID: connectorID}
	_, existed := t.rules[key]
	delete(t.rules, key)
	t.mu.Unlock()

	t.metrics.RecordRule("remove", nil)
	t.log.Debug(ctx, "flow removed",
		logging.String("switch", switchID),
		logging.String("flow_id", connectorID),
		logging.Bool("existed", existed),
	)
	return nil
}

// Rule returns the rule keyed by connectorID on switchID.
func (t *Table) Rule(switchID, connectorID string) (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rules[ruleKey{switchID: switchID, flowID: connectorID}]
	return r, ok
}

// Rules returns every rule ordered by switch then flow id.
func (t *Table) Rules() []Rule {
	t.mu.RLock()
	out := make([]Rule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SwitchID != out[j].SwitchID {
			return out[i].SwitchID < out[j].SwitchID
		}
		return out[i].FlowID < out[j].FlowID
	})
	return out
}

// Len returns the number of installed rules.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}

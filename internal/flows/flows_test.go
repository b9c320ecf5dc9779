package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
)

func TestNewRuleConstants(t *testing.T) {
	t.Parallel()

	r := NewRule("openflow:1", "openflow:1:3", "0000:0000:0000:0000:0000:0000:0000:0000", "0000:0000:0000:0000:0000:0000:0000:0004")
	if r.Table != 0 || r.Priority != 1000 || r.IdleTimeout != 30000 || r.HardTimeout != 30000 {
		t.Fatalf("unexpected rule constants: %+v", r)
	}
	if r.Match.EtherType != 0x86DD || r.Match.EthernetDst != "00:00:00:00:00:00" {
		t.Fatalf("unexpected ethernet match: %+v", r.Match)
	}
	if r.Match.IPv6Src != r.Match.IPv6SrcMask || r.Match.IPv6Dst != r.Match.IPv6DstMask {
		t.Fatalf("address must double as mask: %+v", r.Match)
	}
	if r.OutputPort != "3" || r.FlowID != "openflow:1:3" {
		t.Fatalf("output = %q flow id = %q", r.OutputPort, r.FlowID)
	}
}

func TestOutputPort(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"openflow:1:3":  "3",
		"openflow:12:1": "1",
		"LOCAL":         "LOCAL",
		"openflow:1":    "openflow:1",
	}
	for in, want := range tests {
		if got := OutputPort(in); got != want {
			t.Fatalf("OutputPort(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTableInstallReplacesAndRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewBootstrapCollector(reg)
	if err != nil {
		t.Fatalf("NewBootstrapCollector: %v", err)
	}
	tbl := NewTable(nil, metrics)
	ctx := context.Background()

	if err := tbl.InstallRule(ctx, NewRule("s1", "s1:1:2", "a", "b")); err != nil {
		t.Fatalf("InstallRule: %v", err)
	}
	if err := tbl.InstallRule(ctx, NewRule("s1", "s1:1:2", "c", "d")); err != nil {
		t.Fatalf("InstallRule replace: %v", err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
	r, ok := tbl.Rule("s1", "s1:1:2")
	if !ok || r.Match.IPv6Src != "c" {
		t.Fatalf("rule not replaced: %+v", r)
	}

	for i := 0; i < 2; i++ {
		if err := tbl.RemoveRule(ctx, "s1", "s1:1:2"); err != nil {
			t.Fatalf("RemoveRule #%d: %v", i, err)
		}
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d after remove", tbl.Len())
	}
	if got := testutil.ToFloat64(metrics.RuleOperations.WithLabelValues("install", "ok")); got != 2 {
		t.Fatalf("install ok = %v, want 2", got)
	}
}

func TestTableRejectsInvalidRule(t *testing.T) {
	t.Parallel()

	tbl := NewTable(nil, nil)
	err := tbl.InstallRule(context.Background(), NewRule("", "c", "a", "b"))
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("err = %v, want ErrInvalidRule", err)
	}
}

func TestRulesOrdering(t *testing.T) {
	t.Parallel()

	tbl := NewTable(nil, nil)
	ctx := context.Background()
	_ = tbl.InstallRule(ctx, NewRule("s2", "s2:1:1", "a", "b"))
	_ = tbl.InstallRule(ctx, NewRule("s1", "s1:1:2", "a", "b"))
	_ = tbl.InstallRule(ctx, NewRule("s1", "s1:1:1", "a", "b"))

	rules := tbl.Rules()
	want := []string{"s1:1:1", "s1:1:2", "s2:1:1"}
	for i, r := range rules {
		if r.FlowID != want[i] {
			t.Fatalf("rules[%d] = %s, want %s", i, r.FlowID, want[i])
		}
	}
}

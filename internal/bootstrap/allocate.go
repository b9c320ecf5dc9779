package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/icn-bootstrap/internal/flows"
	"github.com/signalsfoundry/icn-bootstrap/internal/lid"
	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
	"github.com/signalsfoundry/icn-bootstrap/internal/topology"
)

// errWithdrawn marks a drained link that was removed before its offer
// could be committed.
var errWithdrawn = errors.New("link removed while draining")

// NodeLinkInfo is the node id and LID registered for a link.
type NodeLinkInfo struct {
	NodeID string
	LID    string
	// Allocated is true when the call ran a TM round trip.
	Allocated bool
}

// LookupOrAllocate returns the identifiers of source->destination from the
// registry, or allocates them from the TM first.
func (o *Orchestrator) LookupOrAllocate(ctx context.Context, source, destination string) (NodeLinkInfo, error) {
	l := topology.Link{Source: source, Destination: destination}
	key := linkKey(l)
	if key.Source == "" || key.Destination == "" {
		return NodeLinkInfo{}, fmt.Errorf("%w: source and destination required", registry.ErrInvalidEntry)
	}

	unlock := o.reg.Locks().Lock(key.String())
	defer unlock()

	if entry, ok := o.reg.Link(key); ok {
		node, _ := o.reg.Node(source)
		o.metrics.RecordAllocation(observability.OutcomeExisting, 0)
		return NodeLinkInfo{NodeID: node.NodeID, LID: entry.LID}, nil
	}
	offer, err := o.allocateLocked(ctx, l, false)
	if err != nil {
		return NodeLinkInfo{}, err
	}
	return NodeLinkInfo{NodeID: offer.NodeID, LID: offer.LID, Allocated: true}, nil
}

// drain attempts every link once and queues the failures again.
func (o *Orchestrator) drain(ctx context.Context, links []topology.Link) ActivationReport {
	report := ActivationReport{Attempted: len(links)}
	if len(links) == 0 {
		return report
	}
	allocated, failed, withdrawn := o.allocateLinks(ctx, links, true)
	report.Allocated = allocated
	report.Failed = o.finishDrain(links, failed)
	report.Withdrawn = withdrawn + len(failed) - report.Failed
	o.log.Info(ctx, "unconfigured links processed",
		logging.Int("attempted", report.Attempted),
		logging.Int("allocated", report.Allocated),
		logging.Int("failed", report.Failed),
		logging.Int("withdrawn", report.Withdrawn),
	)
	return report
}

// allocateLinks runs the allocation procedure for links and returns how
// many were newly allocated, which failed and how many were withdrawn.
// Host links and links already in the registry count as none of these.
// With queued set, links are drained from the unconfigured queue and a
// link removed meanwhile is withdrawn instead of committed.
func (o *Orchestrator) allocateLinks(ctx context.Context, links []topology.Link, queued bool) (int, []topology.Link, int) {
	pending := uniqueSwitchLinks(links)
	if o.batch && len(pending) > 1 {
		return o.allocateBatch(ctx, pending, queued)
	}

	allocated, withdrawn := 0, 0
	var failed []topology.Link
	for _, l := range pending {
		ok, err := o.allocateOne(ctx, l, queued)
		switch {
		case errors.Is(err, errWithdrawn):
			withdrawn++
		case err != nil:
			failed = append(failed, l)
		case ok:
			allocated++
		}
	}
	return allocated, failed, withdrawn
}

// allocateOne returns true when it allocated l, false when l was already
// registered.
func (o *Orchestrator) allocateOne(ctx context.Context, l topology.Link, queued bool) (bool, error) {
	key := linkKey(l)
	unlock := o.reg.Locks().Lock(key.String())
	defer unlock()

	if queued && !o.stillDraining(key) {
		return false, errWithdrawn
	}
	if _, ok := o.reg.Link(key); ok {
		o.metrics.RecordAllocation(observability.OutcomeExisting, 0)
		return false, nil
	}
	if _, err := o.allocateLocked(ctx, l, queued); err != nil {
		return false, err
	}
	return true, nil
}

// allocateLocked requests identifiers for l and commits them. The caller
// holds the key lock for l; the wait is bounded by the allocator timeout.
func (o *Orchestrator) allocateLocked(ctx context.Context, l topology.Link, queued bool) (tmsdn.Offer, error) {
	ctx, span := observability.StartSpan(ctx, "bootstrap.Allocate", attribute.String("link", linkKey(l).String()))
	defer span.End()

	start := time.Now()
	offer, err := o.alloc.Allocate(ctx, request(l))
	if err == nil && offer.Denied() {
		err = fmt.Errorf("%w: empty offer", tmsdn.ErrAllocationFailed)
	}
	if err != nil {
		span.RecordError(err)
		o.metrics.RecordAllocation(observability.OutcomeFailed, time.Since(start))
		o.log.Warn(ctx, "link allocation failed", logging.String("link", linkKey(l).String()), logging.Err(err))
		return tmsdn.Offer{}, err
	}
	if queued && !o.stillDraining(linkKey(l)) {
		o.withdraw(ctx, l)
		return tmsdn.Offer{}, errWithdrawn
	}
	if err := o.commit(ctx, l, offer, time.Since(start)); err != nil {
		return tmsdn.Offer{}, err
	}
	return offer, nil
}

// allocateBatch sends one request for every unregistered link and commits
// offer i to link i.
func (o *Orchestrator) allocateBatch(ctx context.Context, links []topology.Link, queued bool) (int, []topology.Link, int) {
	ctx, span := observability.StartSpan(ctx, "bootstrap.AllocateBatch", attribute.Int("links", len(links)))
	defer span.End()

	// Locks are taken in key order so concurrent batches cannot deadlock.
	sorted := append([]topology.Link(nil), links...)
	sort.Slice(sorted, func(i, j int) bool { return linkKey(sorted[i]).String() < linkKey(sorted[j]).String() })
	for _, l := range sorted {
		unlock := o.reg.Locks().Lock(linkKey(l).String())
		defer unlock()
	}

	withdrawn := 0
	var todo []topology.Link
	for _, l := range sorted {
		if queued && !o.stillDraining(linkKey(l)) {
			withdrawn++
			continue
		}
		if _, ok := o.reg.Link(linkKey(l)); ok {
			o.metrics.RecordAllocation(observability.OutcomeExisting, 0)
			continue
		}
		todo = append(todo, l)
	}
	if len(todo) == 0 {
		return 0, nil, withdrawn
	}

	reqs := make([]tmsdn.Request, len(todo))
	for i, l := range todo {
		reqs[i] = request(l)
	}

	start := time.Now()
	results, err := o.alloc.AllocateBatch(ctx, reqs)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		for range todo {
			o.metrics.RecordAllocation(observability.OutcomeFailed, elapsed)
		}
		o.log.Warn(ctx, "batch allocation failed", logging.Int("links", len(todo)), logging.Err(err))
		return 0, todo, withdrawn
	}
	if len(results) != len(todo) {
		o.log.Error(ctx, "allocator returned wrong result count", logging.Int("links", len(todo)), logging.Int("results", len(results)))
		return 0, todo, withdrawn
	}

	allocated := 0
	var failed []topology.Link
	for i, res := range results {
		l := todo[i]
		if res.Err != nil || res.Offer.Denied() {
			failed = append(failed, l)
			o.metrics.RecordAllocation(observability.OutcomeFailed, elapsed)
			o.log.Warn(ctx, "link allocation denied", logging.String("link", linkKey(l).String()), logging.Err(res.Err))
			continue
		}
		if queued && !o.stillDraining(linkKey(l)) {
			o.withdraw(ctx, l)
			withdrawn++
			continue
		}
		if err := o.commit(ctx, l, res.Offer, elapsed); err != nil {
			failed = append(failed, l)
			continue
		}
		allocated++
	}
	return allocated, failed, withdrawn
}

// withdraw drops the offer of a drained link that was removed while its
// request was outstanding, telling the TM the link is gone.
func (o *Orchestrator) withdraw(ctx context.Context, l topology.Link) {
	o.log.Info(ctx, "offer discarded for removed link", logging.String("link", linkKey(l).String()))
	o.reportRemoved(ctx, l)
}

// commit records an offer and installs the rule for it. A failure to
// derive addresses or program the switch leaves the registry entry in
// place and is only logged.
func (o *Orchestrator) commit(ctx context.Context, l topology.Link, offer tmsdn.Offer, rtt time.Duration) error {
	key := linkKey(l)
	err := o.reg.Record(registry.Allocation{
		Key:       key,
		NodeID:    offer.NodeID,
		LID:       offer.LID,
		Connector: l.SourceConnector,
	})
	if err != nil {
		o.metrics.RecordAllocation(observability.OutcomeFailed, rtt)
		o.log.Error(ctx, "registry write failed", logging.String("link", key.String()), logging.Err(err))
		return err
	}
	o.metrics.RecordAllocation(observability.OutcomeAllocated, rtt)
	o.updateRegistryGauges()

	position := lid.NoPosition
	if bits, err := lid.ParseBits(offer.LID); err == nil {
		position, _ = lid.BitPosition(bits)
	}
	o.log.Info(ctx, "link allocated",
		logging.String("link", key.String()),
		logging.String("node_id", offer.NodeID),
		logging.Int("lid_position", position),
	)

	o.install(ctx, l, offer.LID)
	return nil
}

func (o *Orchestrator) install(ctx context.Context, l topology.Link, wire string) {
	key := linkKey(l)
	pair, err := lid.Addresses(wire)
	if err != nil {
		var encErr *lid.AddressEncodingError
		if errors.As(err, &encErr) {
			o.log.Warn(ctx, "address derivation failed, rule not installed", logging.String("link", key.String()), logging.Err(err))
			return
		}
		o.log.Error(ctx, "address derivation failed", logging.String("link", key.String()), logging.Err(err))
		return
	}
	if l.SourceConnector == "" {
		o.log.Debug(ctx, "no connector for link, rule not installed", logging.String("link", key.String()))
		return
	}
	rule := flows.NewRule(l.Source, l.SourceConnector, pair.Source, pair.Destination)
	if err := o.programmer.InstallRule(ctx, rule); err != nil {
		o.log.Warn(ctx, "rule install failed after registry write; forwarding plane out of sync",
			logging.String("link", key.String()),
			logging.String("connector", l.SourceConnector),
			logging.Err(err),
		)
	}
}

func request(l topology.Link) tmsdn.Request {
	return tmsdn.Request{Source: l.Source, Destination: l.Destination, Connector: l.SourceConnector}
}

// uniqueSwitchLinks drops host links, links without both endpoints and
// repeated keys, keeping the first occurrence.
func uniqueSwitchLinks(links []topology.Link) []topology.Link {
	seen := make(map[registry.LinkKey]bool, len(links))
	out := make([]topology.Link, 0, len(links))
	for _, l := range links {
		key := linkKey(l)
		if l.IsHost() || key.Source == "" || key.Destination == "" {
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

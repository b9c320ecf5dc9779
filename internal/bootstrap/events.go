package bootstrap

import (
	"context"
	"time"

	"github.com/docker/go-events"

	"github.com/signalsfoundry/icn-bootstrap/internal/lid"
	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
	"github.com/signalsfoundry/icn-bootstrap/internal/topology"
)

// Run processes topology events and ticks until ctx is done. Events are
// handled one at a time in arrival order. A closed channel stops that
// input without ending the loop.
func (o *Orchestrator) Run(ctx context.Context, eventq <-chan events.Event, ticks <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-eventq:
			if !ok {
				eventq = nil
				continue
			}
			tev, ok := ev.(topology.Event)
			if !ok {
				o.log.Warn(ctx, "ignoring unexpected event", logging.Any("event", ev))
				continue
			}
			o.HandleEvent(ctx, tev)
		case now, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			o.Tick(ctx, now)
		}
	}
}

// HandleEvent applies one topology event.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev topology.Event) {
	ctx, _ = logging.EnsureRequestID(ctx)
	switch ev.Kind {
	case topology.LinksAdded:
		o.linksAdded(ctx, ev.Links)
	case topology.LinksRemoved:
		for _, l := range ev.Links {
			o.removeLink(ctx, l)
		}
	}
}

func (o *Orchestrator) linksAdded(ctx context.Context, links []topology.Link) {
	o.gate.RLock()
	if !o.active {
		queued := uniqueSwitchLinks(links)
		o.enqueue(queued...)
		o.gate.RUnlock()
		if len(queued) > 0 {
			o.log.Info(ctx, "links queued while inactive", logging.Int("links", len(queued)))
		}
		return
	}
	o.gate.RUnlock()

	_, failed, _ := o.allocateLinks(ctx, links, false)
	if len(failed) > 0 {
		o.enqueue(failed...)
		o.log.Info(ctx, "failed links queued for retry", logging.Int("links", len(failed)))
	}
}

// removeLink drops the registry entries of l and removes its rule. Links
// that were never registered are ignored.
func (o *Orchestrator) removeLink(ctx context.Context, l topology.Link) {
	key := linkKey(l)
	if n := o.dequeue(key); n > 0 {
		o.log.Debug(ctx, "removed link dropped from queue", logging.String("link", key.String()))
	}

	unlock := o.reg.Locks().Lock(key.String())
	connector := l.SourceConnector
	if connector == "" {
		connector = o.connectorFor(key)
	}
	entry, ok, err := o.reg.Release(key, connector)
	unlock()
	if err != nil {
		o.log.Error(ctx, "registry release failed", logging.String("link", key.String()), logging.Err(err))
		return
	}
	if !ok {
		return
	}
	o.updateRegistryGauges()

	fields := []logging.Field{logging.String("link", key.String()), logging.String("connector", connector)}
	if pair, err := lid.Addresses(entry.LID); err != nil {
		o.log.Warn(ctx, "address derivation failed for removed link", append(fields, logging.Err(err))...)
	} else {
		fields = append(fields, logging.String("ipv6_src", pair.Source), logging.String("ipv6_dst", pair.Destination))
	}

	if connector != "" {
		if err := o.programmer.RemoveRule(ctx, l.Source, connector); err != nil {
			o.log.Warn(ctx, "rule removal failed after registry release; forwarding plane out of sync", append(fields, logging.Err(err))...)
		}
	}
	o.reportRemoved(ctx, l)
	o.log.Info(ctx, "link removed", fields...)
}

// reportRemoved sends an LS removal for l when the allocator can report.
func (o *Orchestrator) reportRemoved(ctx context.Context, l topology.Link) {
	r, ok := o.alloc.(tmsdn.Reporter)
	if !ok {
		return
	}
	if err := r.SendLinkStatus(ctx, tmsdn.LinkStatus{Node1: l.Source, Node2: l.Destination, Kind: tmsdn.LinkRemoved}); err != nil {
		o.log.Debug(ctx, "link status not sent", logging.String("link", linkKey(l).String()), logging.Err(err))
	}
}

func (o *Orchestrator) connectorFor(key registry.LinkKey) string {
	for _, c := range o.reg.ConnectorsFrom(key.Source) {
		if c.Key() == key {
			return c.Name
		}
	}
	return ""
}

// Tick retries queued links while active, subject to the retry limiter,
// and runs one traffic monitor round.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) {
	ctx, _ = logging.EnsureRequestID(ctx)
	o.monitor.Report(ctx)

	if o.State() != Active || o.queueLen() == 0 || !o.limiter.AllowN(now, 1) {
		return
	}
	o.gate.RLock()
	if !o.active {
		o.gate.RUnlock()
		return
	}
	drained := o.takeQueue()
	o.gate.RUnlock()
	o.drain(ctx, drained)
}

// Package bootstrap runs the topology bootstrapping state machine: it
// allocates identifiers for links reported by the controller, records them
// in the registry and programs the matching forwarding rules.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/signalsfoundry/icn-bootstrap/internal/fid"
	"github.com/signalsfoundry/icn-bootstrap/internal/flows"
	"github.com/signalsfoundry/icn-bootstrap/internal/lid"
	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/monitor"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
	"github.com/signalsfoundry/icn-bootstrap/internal/topology"
)

var (
	// ErrNotConfigured is returned by operations that need the TM settings.
	ErrNotConfigured = errors.New("bootstrap: tm not configured")

	// ErrInvalidConfig wraps TMConfig validation failures.
	ErrInvalidConfig = errors.New("bootstrap: invalid tm configuration")
)

// State is the activation state.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// TMConfig locates the TM and its attachment to the switch fabric.
type TMConfig struct {
	ServerAddress string
	ServerPort    int
	// AttachmentSwitchID is the node the TM appears as in the topology.
	AttachmentSwitchID string
	// AttachedSwitchID is the switch the TM is plugged into.
	AttachedSwitchID    string
	NodeID              string
	LIDPosition         int
	InternalLIDPosition int
}

// Endpoint returns the TM host:port.
func (c TMConfig) Endpoint() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerPort))
}

// Validate checks the configuration for obvious mistakes.
func (c TMConfig) Validate() error {
	switch {
	case c.ServerAddress == "":
		return fmt.Errorf("%w: empty server address", ErrInvalidConfig)
	case c.ServerPort <= 0 || c.ServerPort > 65535:
		return fmt.Errorf("%w: server port %d", ErrInvalidConfig, c.ServerPort)
	case c.AttachmentSwitchID == "" || c.AttachedSwitchID == "":
		return fmt.Errorf("%w: attachment switch ids required", ErrInvalidConfig)
	case c.NodeID == "":
		return fmt.Errorf("%w: empty node id", ErrInvalidConfig)
	}
	for _, pos := range []int{c.LIDPosition, c.InternalLIDPosition} {
		if _, err := lid.GenerateLID(pos); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Options tune an Orchestrator.
type Options struct {
	// Batch sends all links of an event or activation drain in one
	// resource request instead of one request per link.
	Batch bool
	// RetryLimit paces tick-driven retries of the unconfigured queue.
	// Zero allows one retry per tick.
	RetryLimit rate.Limit
	RetryBurst int

	Monitor *monitor.Monitor
	Metrics *observability.BootstrapCollector
	Log     logging.Logger
}

// Orchestrator owns the registry writes, the unconfigured link queue and
// the activation gate.
type Orchestrator struct {
	reg        *registry.Registry
	alloc      tmsdn.Allocator
	programmer flows.Programmer
	composer   *fid.Composer
	monitor    *monitor.Monitor
	metrics    *observability.BootstrapCollector
	log        logging.Logger
	limiter    *rate.Limiter
	batch      bool

	// gate orders activation against add events. Add events hold it shared
	// while deciding to queue; Activate holds it exclusively while flipping
	// the state and taking the queue.
	gate   sync.RWMutex
	active bool

	qmu    sync.Mutex
	queue  []topology.Link
	// drains counts queued links handed to a drain that has not finished.
	// A removal deletes the key so the drain drops the link.
	drains map[registry.LinkKey]int

	cfgMu      sync.RWMutex
	tm         TMConfig
	configured bool
}

// New wires an Orchestrator. The registry, allocator and programmer are
// required; composer may be nil when FID queries are not served.
func New(reg *registry.Registry, alloc tmsdn.Allocator, programmer flows.Programmer, composer *fid.Composer, opts Options) *Orchestrator {
	limit := opts.RetryLimit
	if limit == 0 {
		limit = rate.Inf
	}
	burst := opts.RetryBurst
	if burst <= 0 {
		burst = 1
	}
	return &Orchestrator{
		reg:        reg,
		alloc:      alloc,
		programmer: programmer,
		composer:   composer,
		monitor:    opts.Monitor,
		metrics:    opts.Metrics,
		log:        logging.OrNoop(opts.Log).With(logging.Component("bootstrap")),
		limiter:    rate.NewLimiter(limit, burst),
		batch:      opts.Batch,
		drains:     make(map[registry.LinkKey]int),
	}
}

// Registry exposes the identifier registry for read access.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

type addressSetter interface {
	SetAddress(addr string)
}

// Configure points the allocator at the TM and seeds the registry with the
// TM node and the link from the TM to its attached switch.
func (o *Orchestrator) Configure(ctx context.Context, cfg TMConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tmLID, err := lid.GenerateLID(cfg.LIDPosition)
	if err != nil {
		return err
	}

	if s, ok := o.alloc.(addressSetter); ok {
		s.SetAddress(cfg.Endpoint())
	}
	if err := o.reg.PutNode(cfg.AttachmentSwitchID, cfg.NodeID); err != nil {
		return err
	}
	key := registry.LinkKey{Source: cfg.AttachmentSwitchID, Destination: cfg.AttachedSwitchID}
	if err := o.reg.PutLink(key, tmLID.String()); err != nil {
		return err
	}
	if o.composer != nil {
		if err := o.composer.SetManager(cfg.AttachmentSwitchID, cfg.InternalLIDPosition); err != nil {
			return err
		}
	}

	o.cfgMu.Lock()
	o.tm = cfg
	o.configured = true
	o.cfgMu.Unlock()

	o.updateRegistryGauges()
	o.log.Info(ctx, "tm configured",
		logging.String("endpoint", cfg.Endpoint()),
		logging.String("tm_node", cfg.AttachmentSwitchID),
		logging.String("attached_switch", cfg.AttachedSwitchID),
		logging.String("node_id", cfg.NodeID),
		logging.Int("lid_position", cfg.LIDPosition),
		logging.Int("internal_lid_position", cfg.InternalLIDPosition),
	)
	return nil
}

// TMConfig returns the current TM settings and whether Configure ran.
func (o *Orchestrator) TMConfig() (TMConfig, bool) {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.tm, o.configured
}

// ActivationReport summarizes the queue drain performed by Activate or a
// retry tick. Withdrawn counts links removed while the drain ran.
type ActivationReport struct {
	Attempted int
	Allocated int
	Failed    int
	Withdrawn int
}

// Activate sets the activation state. Turning activation on takes every
// link queued at that instant and attempts each exactly once; failures go
// back on the queue.
func (o *Orchestrator) Activate(ctx context.Context, on bool) ActivationReport {
	o.gate.Lock()
	prev := o.active
	o.active = on
	var drained []topology.Link
	if on {
		drained = o.takeQueue()
	}
	o.gate.Unlock()

	if prev != on {
		o.log.Info(ctx, "activation changed", logging.String("state", o.State().String()), logging.Int("queued", len(drained)))
	}
	if !on {
		return ActivationReport{}
	}
	return o.drain(ctx, drained)
}

// State returns the activation state.
func (o *Orchestrator) State() State {
	o.gate.RLock()
	defer o.gate.RUnlock()
	if o.active {
		return Active
	}
	return Inactive
}

// Pending returns a copy of the unconfigured link queue in arrival order.
func (o *Orchestrator) Pending() []topology.Link {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	return append([]topology.Link(nil), o.queue...)
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State      State
	Configured bool
	TM         TMConfig
	Pending    int
	Registry   registry.Counts
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	tm, configured := o.TMConfig()
	return Status{
		State:      o.State(),
		Configured: configured,
		TM:         tm,
		Pending:    o.queueLen(),
		Registry:   o.reg.Counts(),
	}
}

// CalculateFID returns the FID from target to the TM.
func (o *Orchestrator) CalculateFID(ctx context.Context, target string) (fid.Composition, error) {
	if o.composer == nil {
		return fid.Composition{}, fid.ErrNotConfigured
	}
	return o.composer.CalculateFID(ctx, target)
}

// ConfigureLinkManually installs the rule for a locally generated LID on
// switchID, forwarding out of portID. The registry is not touched.
func (o *Orchestrator) ConfigureLinkManually(ctx context.Context, switchID, portID string, position int) error {
	bits, err := lid.GenerateLID(position)
	if err != nil {
		return err
	}
	pair := lid.DeriveAddresses(bits)
	rule := flows.NewRule(switchID, portID, pair.Source, pair.Destination)
	if err := o.programmer.InstallRule(ctx, rule); err != nil {
		return fmt.Errorf("install manual rule on %s: %w", switchID, err)
	}
	o.log.Info(ctx, "link configured manually",
		logging.String("switch", switchID),
		logging.String("port", portID),
		logging.Int("lid_position", position),
		logging.String("ipv6_src", pair.Source),
		logging.String("ipv6_dst", pair.Destination),
	)
	return nil
}

func (o *Orchestrator) queueLen() int {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	return len(o.queue)
}

func (o *Orchestrator) enqueue(links ...topology.Link) {
	if len(links) == 0 {
		return
	}
	o.qmu.Lock()
	o.queue = append(o.queue, links...)
	n := len(o.queue)
	o.qmu.Unlock()
	o.metrics.SetQueued(n)
}

// takeQueue empties the queue and marks its links as draining until
// finishDrain is called with them.
func (o *Orchestrator) takeQueue() []topology.Link {
	o.qmu.Lock()
	q := o.queue
	o.queue = nil
	for _, l := range q {
		o.drains[linkKey(l)]++
	}
	o.qmu.Unlock()
	o.metrics.SetQueued(0)
	return q
}

// finishDrain requeues the failed links that were not removed meanwhile
// and clears the draining marks of drained.
func (o *Orchestrator) finishDrain(drained, failed []topology.Link) int {
	o.qmu.Lock()
	requeued := 0
	for _, l := range failed {
		if o.drains[linkKey(l)] > 0 {
			o.queue = append(o.queue, l)
			requeued++
		}
	}
	for _, l := range drained {
		key := linkKey(l)
		if n := o.drains[key]; n > 1 {
			o.drains[key] = n - 1
		} else {
			delete(o.drains, key)
		}
	}
	n := len(o.queue)
	o.qmu.Unlock()
	o.metrics.SetQueued(n)
	return requeued
}

// stillDraining reports whether a drained link has not been removed since
// it left the queue.
func (o *Orchestrator) stillDraining(key registry.LinkKey) bool {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	return o.drains[key] > 0
}

// dequeue drops every queued link with key and withdraws it from running
// drains.
func (o *Orchestrator) dequeue(key registry.LinkKey) int {
	o.qmu.Lock()
	delete(o.drains, key)
	kept := o.queue[:0]
	removed := 0
	for _, l := range o.queue {
		if linkKey(l) == key {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	o.queue = kept
	n := len(kept)
	o.qmu.Unlock()
	if removed > 0 {
		o.metrics.SetQueued(n)
	}
	return removed
}

func (o *Orchestrator) updateRegistryGauges() {
	c := o.reg.Counts()
	o.metrics.SetRegistryCounts(c.Nodes, c.Links, c.Connectors)
}

func linkKey(l topology.Link) registry.LinkKey {
	return registry.LinkKey{Source: l.Source, Destination: l.Destination}
}

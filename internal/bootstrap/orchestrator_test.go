package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/icn-bootstrap/internal/fid"
	"github.com/signalsfoundry/icn-bootstrap/internal/flows"
	"github.com/signalsfoundry/icn-bootstrap/internal/lid"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
	"github.com/signalsfoundry/icn-bootstrap/internal/topology"
)

type fakeAllocator struct {
	mu         sync.Mutex
	calls      int
	batchCalls int
	requests   []tmsdn.Request
	next       int
	fail       map[string]bool
	badLID     map[string]bool
	batchErr   error
	delay      time.Duration

	// hold blocks the first call until closed; entered is signalled when
	// that call starts.
	hold    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (f *fakeAllocator) wait() {
	if f.hold == nil {
		return
	}
	f.once.Do(func() {
		close(f.entered)
		<-f.hold
	})
}

func (f *fakeAllocator) offer(r tmsdn.Request) (tmsdn.Offer, error) {
	key := r.Source + "," + r.Destination
	if f.fail[key] {
		return tmsdn.Offer{}, fmt.Errorf("%w: denied", tmsdn.ErrAllocationFailed)
	}
	if f.badLID[key] {
		return tmsdn.Offer{NodeID: "n-" + r.Source, LID: "corrupt"}, nil
	}
	b, _ := lid.GenerateLID(f.next)
	f.next++
	return tmsdn.Offer{NodeID: "n-" + r.Source, LID: b.String(), Tag: r.Tag}, nil
}

func (f *fakeAllocator) Allocate(_ context.Context, r tmsdn.Request) (tmsdn.Offer, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, r)
	return f.offer(r)
}

func (f *fakeAllocator) AllocateBatch(_ context.Context, reqs []tmsdn.Request) ([]tmsdn.Result, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.requests = append(f.requests, reqs...)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]tmsdn.Result, len(reqs))
	for i, r := range reqs {
		o, err := f.offer(r)
		out[i] = tmsdn.Result{Request: r, Offer: o, Err: err}
	}
	return out, nil
}

func (f *fakeAllocator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls + f.batchCalls
}

type countingProgrammer struct {
	*flows.Table
	mu      sync.Mutex
	removes int
	failAll bool
}

func (p *countingProgrammer) InstallRule(ctx context.Context, r flows.Rule) error {
	if p.failAll {
		return errors.New("switch unreachable")
	}
	return p.Table.InstallRule(ctx, r)
}

func (p *countingProgrammer) RemoveRule(ctx context.Context, switchID, connectorID string) error {
	p.mu.Lock()
	p.removes++
	p.mu.Unlock()
	return p.Table.RemoveRule(ctx, switchID, connectorID)
}

type harness struct {
	orch  *Orchestrator
	reg   *registry.Registry
	alloc *fakeAllocator
	prog  *countingProgrammer
	graph *topology.Graph
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	reg, err := registry.New()
	require.NoError(t, err)
	alloc := &fakeAllocator{fail: map[string]bool{}, badLID: map[string]bool{}}
	prog := &countingProgrammer{Table: flows.NewTable(nil, nil)}
	graph := topology.NewGraph()
	composer := fid.NewComposer(graph, reg, nil)
	return &harness{
		orch:  New(reg, alloc, prog, composer, opts),
		reg:   reg,
		alloc: alloc,
		prog:  prog,
		graph: graph,
	}
}

func swLink(src, dst string, port int) topology.Link {
	return topology.Link{
		ID:              fmt.Sprintf("%s:%d", src, port),
		Source:          src,
		Destination:     dst,
		SourceConnector: fmt.Sprintf("%s:%d", src, port),
	}
}

func added(links ...topology.Link) topology.Event {
	return topology.Event{Kind: topology.LinksAdded, Links: links}
}

func removed(links ...topology.Link) topology.Event {
	return topology.Event{Kind: topology.LinksRemoved, Links: links}
}

var testTM = TMConfig{
	ServerAddress:       "127.0.0.1",
	ServerPort:          12345,
	AttachmentSwitchID:  "host:00:00:00:00:00:01",
	AttachedSwitchID:    "openflow:1",
	NodeID:              "00000001",
	LIDPosition:         0,
	InternalLIDPosition: 200,
}

func TestConfigureSeedsRegistry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})

	require.NoError(t, h.orch.Configure(context.Background(), testTM))

	node, ok := h.reg.Node(testTM.AttachmentSwitchID)
	require.True(t, ok)
	assert.Equal(t, "00000001", node.NodeID)

	entry, ok := h.reg.Link(registry.LinkKey{Source: testTM.AttachmentSwitchID, Destination: testTM.AttachedSwitchID})
	require.True(t, ok)
	want, _ := lid.GenerateLID(0)
	assert.Equal(t, want.String(), entry.LID)

	cfg, configured := h.orch.TMConfig()
	assert.True(t, configured)
	assert.Equal(t, "127.0.0.1:12345", cfg.Endpoint())
}

func TestConfigureRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*TMConfig){
		"no address":        func(c *TMConfig) { c.ServerAddress = "" },
		"bad port":          func(c *TMConfig) { c.ServerPort = 70000 },
		"lid out of range":  func(c *TMConfig) { c.LIDPosition = 256 },
		"negative internal": func(c *TMConfig) { c.InternalLIDPosition = -1 },
		"no node id":        func(c *TMConfig) { c.NodeID = "" },
	}
	for name, mutate := range tests {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Options{})
			cfg := testTM
			mutate(&cfg)
			err := h.orch.Configure(context.Background(), cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "err = %v", err)
			assert.Equal(t, registry.Counts{}, h.reg.Counts())
		})
	}
}

func TestInactiveLinksAreQueuedWithoutProtocolCalls(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.orch.HandleEvent(ctx, added(swLink("openflow:1", "openflow:2", 1), swLink("openflow:2", "openflow:1", 1)))
	h.orch.HandleEvent(ctx, added(topology.Link{ID: "host:aa/openflow:1:3", Source: "host:aa", Destination: "openflow:1"}))

	assert.Equal(t, 0, h.alloc.callCount())
	assert.Len(t, h.orch.Pending(), 2, "host links are never queued")
	assert.Equal(t, Inactive, h.orch.State())

	report := h.orch.Activate(ctx, true)
	assert.Equal(t, ActivationReport{Attempted: 2, Allocated: 2}, report)
	assert.Equal(t, 2, h.alloc.callCount(), "one attempt per queued link")
	assert.Empty(t, h.orch.Pending())
	assert.Equal(t, 2, h.prog.Len())
}

func TestActivationRequeuesFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.alloc.fail["openflow:2,openflow:3"] = true

	h.orch.HandleEvent(ctx, added(swLink("openflow:1", "openflow:2", 1), swLink("openflow:2", "openflow:3", 2)))
	report := h.orch.Activate(ctx, true)

	assert.Equal(t, 1, report.Failed)
	pending := h.orch.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "openflow:2", pending[0].Source)
	_, ok := h.reg.Link(registry.LinkKey{Source: "openflow:2", Destination: "openflow:3"})
	assert.False(t, ok, "failed allocation must not touch the registry")

	delete(h.alloc.fail, "openflow:2,openflow:3")
	h.orch.Tick(ctx, time.Now())
	assert.Empty(t, h.orch.Pending())
	_, ok = h.reg.Link(registry.LinkKey{Source: "openflow:2", Destination: "openflow:3"})
	assert.True(t, ok)
}

func TestActiveAddIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.orch.Activate(ctx, true)

	l := swLink("openflow:1", "openflow:2", 1)
	h.orch.HandleEvent(ctx, added(l))
	first, ok := h.reg.Link(linkKey(l))
	require.True(t, ok)

	h.orch.HandleEvent(ctx, added(l, l))
	assert.Equal(t, 1, h.alloc.callCount())
	again, _ := h.reg.Link(linkKey(l))
	assert.Equal(t, first.LID, again.LID)
}

func TestActiveAddInstallsRuleFromLID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.orch.Activate(ctx, true)
	h.alloc.next = 5

	l := swLink("openflow:1", "openflow:2", 3)
	h.orch.HandleEvent(ctx, added(l))

	rule, ok := h.prog.Rule("openflow:1", "openflow:1:3")
	require.True(t, ok)
	assert.Equal(t, "3", rule.OutputPort)
	assert.Equal(t, "0000:0000:0000:0000:0000:0000:0000:0000", rule.Match.IPv6Src)
	assert.Equal(t, "0000:0000:0000:0000:0000:0000:0000:0004", rule.Match.IPv6Dst)

	conn, ok := h.reg.Connector("openflow:1:3")
	require.True(t, ok)
	assert.Equal(t, linkKey(l), conn.Key())
	node, _ := h.reg.Node("openflow:1")
	assert.Equal(t, "n-openflow:1", node.NodeID)
}

func TestBatchAllocationCorrelatesByPosition(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{Batch: true})
	ctx := context.Background()

	links := []topology.Link{swLink("A", "B", 1), swLink("C", "D", 1), swLink("E", "F", 1)}
	h.orch.HandleEvent(ctx, added(links...))
	h.orch.Activate(ctx, true)

	h.alloc.mu.Lock()
	assert.Equal(t, 1, h.alloc.batchCalls)
	assert.Equal(t, 0, h.alloc.calls)
	reqs := append([]tmsdn.Request(nil), h.alloc.requests...)
	h.alloc.mu.Unlock()

	for i, r := range reqs {
		entry, ok := h.reg.Link(registry.LinkKey{Source: r.Source, Destination: r.Destination})
		require.True(t, ok)
		want, _ := lid.GenerateLID(i)
		assert.Equal(t, want.String(), entry.LID, "request %d", i)
		node, _ := h.reg.Node(r.Source)
		assert.Equal(t, "n-"+r.Source, node.NodeID)
	}
}

func TestBatchRejectionLeavesRegistryUntouched(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{Batch: true})
	ctx := context.Background()
	h.alloc.batchErr = fmt.Errorf("%w: %w", tmsdn.ErrAllocationFailed, tmsdn.ErrOfferMismatch)

	h.orch.HandleEvent(ctx, added(swLink("A", "B", 1), swLink("C", "D", 1)))
	report := h.orch.Activate(ctx, true)

	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, registry.Counts{}, h.reg.Counts())
	assert.Len(t, h.orch.Pending(), 2)
	assert.Equal(t, 0, h.prog.Len())
}

func TestAddressFailureSkipsOnlyThatInstall(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{Batch: true})
	ctx := context.Background()
	h.alloc.badLID["C,D"] = true

	h.orch.Activate(ctx, true)
	h.orch.HandleEvent(ctx, added(swLink("A", "B", 1), swLink("C", "D", 1), swLink("E", "F", 1)))

	assert.Equal(t, 3, h.reg.Counts().Links, "registry keeps the corrupt offer")
	assert.Equal(t, 2, h.prog.Len())
	_, ok := h.prog.Rule("C", "C:1")
	assert.False(t, ok)
}

func TestInstallFailureKeepsRegistryEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	h.prog.failAll = true
	ctx := context.Background()
	h.orch.Activate(ctx, true)

	l := swLink("A", "B", 1)
	h.orch.HandleEvent(ctx, added(l))
	_, ok := h.reg.Link(linkKey(l))
	assert.True(t, ok)
	assert.Empty(t, h.orch.Pending())
}

func TestRemoveUnregisteredIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})

	h.orch.HandleEvent(context.Background(), removed(swLink("X", "Y", 1)))
	assert.Equal(t, 0, h.prog.removes)
	assert.Equal(t, 0, h.alloc.callCount())
}

func TestRemoveRegisteredLink(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.orch.Activate(ctx, true)

	l := swLink("A", "B", 1)
	h.orch.HandleEvent(ctx, added(l))
	require.Equal(t, 1, h.prog.Len())

	// The remove event may arrive without connector details.
	h.orch.HandleEvent(ctx, removed(topology.Link{ID: l.ID, Source: "A", Destination: "B"}))

	assert.Equal(t, 1, h.prog.removes)
	assert.Equal(t, 0, h.prog.Len())
	assert.Equal(t, registry.Counts{Nodes: 1}, h.reg.Counts(), "node entries are kept")

	h.orch.HandleEvent(ctx, added(l))
	assert.Equal(t, 2, h.alloc.callCount(), "a removed link is allocated again")
}

func TestRemoveDropsQueuedLink(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()

	l := swLink("A", "B", 1)
	h.orch.HandleEvent(ctx, added(l, swLink("C", "D", 1)))
	h.orch.HandleEvent(ctx, removed(l))

	pending := h.orch.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "C", pending[0].Source)
}

func TestRemovalDuringActivationDrainWithdrawsLink(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	h.alloc.hold = make(chan struct{})
	h.alloc.entered = make(chan struct{})
	ctx := context.Background()

	keep, gone := swLink("s1", "s2", 1), swLink("s3", "s4", 1)
	h.orch.HandleEvent(ctx, added(keep, gone))

	done := make(chan ActivationReport, 1)
	go func() { done <- h.orch.Activate(ctx, true) }()

	<-h.alloc.entered
	h.orch.HandleEvent(ctx, removed(gone))
	close(h.alloc.hold)
	report := <-done

	assert.Equal(t, ActivationReport{Attempted: 2, Allocated: 1, Withdrawn: 1}, report)
	_, ok := h.reg.Link(linkKey(gone))
	assert.False(t, ok, "removed link must not be registered by the drain")
	_, ok = h.reg.Link(linkKey(keep))
	assert.True(t, ok)
	_, ok = h.prog.Rule("s3", "s3:1")
	assert.False(t, ok)
	assert.Empty(t, h.orch.Pending())
	for _, r := range h.alloc.requests {
		assert.NotEqual(t, "s3", r.Source, "no request for a withdrawn link")
	}
}

func TestRemovalDuringBatchDrainDiscardsOffer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{Batch: true})
	h.alloc.hold = make(chan struct{})
	h.alloc.entered = make(chan struct{})
	ctx := context.Background()

	keep, gone := swLink("s1", "s2", 1), swLink("s3", "s4", 1)
	h.orch.HandleEvent(ctx, added(keep, gone))

	done := make(chan ActivationReport, 1)
	go func() { done <- h.orch.Activate(ctx, true) }()
	<-h.alloc.entered

	// The batch holds the key lock, so the removal blocks after withdrawing
	// the link from the drain.
	removedDone := make(chan struct{})
	go func() {
		h.orch.HandleEvent(ctx, removed(gone))
		close(removedDone)
	}()
	require.Eventually(t, func() bool { return !h.orch.stillDraining(linkKey(gone)) }, time.Second, time.Millisecond)
	close(h.alloc.hold)
	report := <-done
	<-removedDone

	assert.Equal(t, ActivationReport{Attempted: 2, Allocated: 1, Withdrawn: 1}, report)
	_, ok := h.reg.Link(linkKey(gone))
	assert.False(t, ok)
	_, ok = h.reg.Link(linkKey(keep))
	assert.True(t, ok)
	assert.Empty(t, h.orch.Pending())
}

func TestFailedDrainOfRemovedLinkIsNotRequeued(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	h.alloc.hold = make(chan struct{})
	h.alloc.entered = make(chan struct{})
	ctx := context.Background()

	gone := swLink("s1", "s2", 1)
	h.alloc.fail[linkKey(gone).String()] = true
	h.orch.HandleEvent(ctx, added(gone))

	done := make(chan ActivationReport, 1)
	go func() { done <- h.orch.Activate(ctx, true) }()
	<-h.alloc.entered

	removedDone := make(chan struct{})
	go func() {
		h.orch.HandleEvent(ctx, removed(gone))
		close(removedDone)
	}()
	require.Eventually(t, func() bool { return !h.orch.stillDraining(linkKey(gone)) }, time.Second, time.Millisecond)
	close(h.alloc.hold)
	report := <-done
	<-removedDone

	assert.Equal(t, ActivationReport{Attempted: 1, Withdrawn: 1}, report)
	assert.Empty(t, h.orch.Pending())
}

func TestConfigureLinkManually(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})

	require.NoError(t, h.orch.ConfigureLinkManually(context.Background(), "openflow:7", "openflow:7:2", 255))
	rule, ok := h.prog.Rule("openflow:7", "openflow:7:2")
	require.True(t, ok)
	assert.Equal(t, "0100:0000:0000:0000:0000:0000:0000:0000", rule.Match.IPv6Src)
	assert.Equal(t, registry.Counts{}, h.reg.Counts())
	assert.Equal(t, 0, h.alloc.callCount())

	var encErr *lid.AddressEncodingError
	assert.True(t, errors.As(h.orch.ConfigureLinkManually(context.Background(), "s", "p", 300), &encErr))
}

func TestLookupOrAllocate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()

	first, err := h.orch.LookupOrAllocate(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, first.Allocated)
	assert.Equal(t, "n-A", first.NodeID)

	second, err := h.orch.LookupOrAllocate(ctx, "A", "B")
	require.NoError(t, err)
	assert.False(t, second.Allocated)
	assert.Equal(t, first.LID, second.LID)
	assert.Equal(t, first.NodeID, second.NodeID)
	assert.Equal(t, 1, h.alloc.callCount(), "registry hit performs no protocol call")

	h.alloc.fail["X,Y"] = true
	_, err = h.orch.LookupOrAllocate(ctx, "X", "Y")
	assert.True(t, errors.Is(err, tmsdn.ErrAllocationFailed))
	_, ok := h.reg.Link(registry.LinkKey{Source: "X", Destination: "Y"})
	assert.False(t, ok)

	_, err = h.orch.LookupOrAllocate(ctx, "", "Y")
	assert.True(t, errors.Is(err, registry.ErrInvalidEntry))
}

func TestConcurrentAddsAllocateOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	h.alloc.delay = 5 * time.Millisecond
	ctx := context.Background()
	h.orch.Activate(ctx, true)

	l := swLink("A", "B", 1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.HandleEvent(ctx, added(l))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.alloc.callCount())
}

func TestActivationRaceAllocatesEachLinkOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.orch.HandleEvent(ctx, added(swLink(fmt.Sprintf("s%d", i), "core", 1)))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.orch.Activate(ctx, true)
	}()
	wg.Wait()

	assert.Empty(t, h.orch.Pending(), "no link may be stranded in the queue")
	assert.Equal(t, 20, h.alloc.callCount())
	assert.Equal(t, 20, h.reg.Counts().Links)
}

func TestRunLoopProcessesFeedAndTicks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	feed := topology.NewFeed(h.graph)
	defer feed.Close()
	eventq, cancelWatch := feed.Watch()
	defer cancelWatch()

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx, eventq, ticks) }()

	h.alloc.mu.Lock()
	h.alloc.fail["A,B"] = true
	h.alloc.mu.Unlock()
	h.orch.Activate(context.Background(), true)
	require.NoError(t, feed.Publish(added(swLink("A", "B", 1))))

	require.Eventually(t, func() bool { return len(h.orch.Pending()) == 1 }, 2*time.Second, 5*time.Millisecond)

	h.alloc.mu.Lock()
	delete(h.alloc.fail, "A,B")
	h.alloc.mu.Unlock()
	ticks <- time.Now()
	require.Eventually(t, func() bool { return h.reg.Counts().Links == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestCalculateFIDThroughOrchestrator(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.orch.Configure(ctx, testTM))
	h.orch.Activate(ctx, true)
	h.alloc.next = 10

	links := []topology.Link{
		swLink("openflow:3", "openflow:2", 1),
		swLink("openflow:2", "openflow:1", 1),
		{ID: "tm", Source: "openflow:1", Destination: testTM.AttachmentSwitchID, SourceConnector: "openflow:1:9"},
	}
	for _, l := range links {
		h.graph.AddLink(l)
	}
	h.orch.HandleEvent(ctx, added(links...))

	comp, err := h.orch.CalculateFID(ctx, "openflow:3")
	require.NoError(t, err)
	assert.True(t, comp.PathFound)
	assert.Empty(t, comp.Skipped)
	assert.Equal(t, []int{10, 11, 12, testTM.InternalLIDPosition}, comp.FID.Positions())
}

func TestMetricsTrackOutcomes(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewBootstrapCollector(reg)
	require.NoError(t, err)
	h := newHarness(t, Options{Metrics: metrics})
	ctx := context.Background()

	h.alloc.fail["C,D"] = true
	h.orch.HandleEvent(ctx, added(swLink("A", "B", 1), swLink("C", "D", 1)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.QueuedLinks))

	h.orch.Activate(ctx, true)
	h.orch.HandleEvent(ctx, added(swLink("A", "B", 1)))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Allocations.WithLabelValues(observability.OutcomeAllocated)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Allocations.WithLabelValues(observability.OutcomeFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Allocations.WithLabelValues(observability.OutcomeExisting)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.QueuedLinks))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RegistryEntries.WithLabelValues("link")))
}

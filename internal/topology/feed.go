package topology

import (
	"sync"

	"github.com/docker/go-events"
)

// EventKind says whether an Event adds or removes links.
type EventKind int

const (
	LinksAdded EventKind = iota
	LinksRemoved
)

func (k EventKind) String() string {
	if k == LinksRemoved {
		return "removed"
	}
	return "added"
}

// Event carries a batch of link changes from the controller.
type Event struct {
	Kind  EventKind
	Links []Link
}

// Feed owns the Graph and fans topology events out to watchers. Events are
// applied to the graph before watchers see them, so a watcher that reacts
// to an add can already route over the new link.
type Feed struct {
	mu          sync.Mutex
	graph       *Graph
	broadcaster *events.Broadcaster
	watchers    map[*events.Channel]struct{}
	closed      bool
}

// NewFeed returns a Feed over graph, creating one when nil.
func NewFeed(graph *Graph) *Feed {
	if graph == nil {
		graph = NewGraph()
	}
	return &Feed{
		graph:       graph,
		broadcaster: events.NewBroadcaster(),
		watchers:    make(map[*events.Channel]struct{}),
	}
}

// Graph returns the graph maintained by the feed.
func (f *Feed) Graph() *Graph { return f.graph }

// Publish applies ev to the graph and delivers it to every watcher. Events
// without links are dropped.
func (f *Feed) Publish(ev Event) error {
	if len(ev.Links) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return events.ErrSinkClosed
	}
	for _, l := range ev.Links {
		switch ev.Kind {
		case LinksAdded:
			f.graph.AddLink(l)
		case LinksRemoved:
			f.graph.RemoveLink(l.ID)
		}
	}
	return f.broadcaster.Write(ev)
}

// Watch subscribes to future events. Delivery never blocks the publisher;
// events wait in an unbounded queue until read. The returned cancel func
// stops delivery.
func (f *Feed) Watch() (<-chan events.Event, func()) {
	ch := events.NewChannel(0)
	queue := events.NewQueue(ch)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		ch.Close()
		queue.Close()
		closed := make(chan events.Event)
		close(closed)
		return closed, func() {}
	}
	f.watchers[ch] = struct{}{}
	err := f.broadcaster.Add(queue)
	f.mu.Unlock()
	if err != nil {
		ch.Close()
		queue.Close()
	}

	var once sync.Once
	return ch.C, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers, ch)
			f.mu.Unlock()
			_ = f.broadcaster.Remove(queue)
			// The channel closes first so the queue can flush without a reader.
			ch.Close()
			queue.Close()
		})
	}
}

// Close stops the feed. Watchers stop receiving events.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for ch := range f.watchers {
		ch.Close()
	}
	return f.broadcaster.Close()
}

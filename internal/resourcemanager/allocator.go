// Package resourcemanager is an in-process TM: it assigns node ids and LID
// positions and answers TM-SDN resource requests.
package resourcemanager

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/icn-bootstrap/internal/lid"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
)

const (
	// exhaustedPosition is never handed out; reaching it means the LID
	// space is full.
	exhaustedPosition = lid.Size - 1

	// rootNodeID is the node whose links carry a separate internal LID.
	rootNodeID = "00000001"
)

// Allocator assigns identifiers. Node ids are stable per node name and
// links are keyed by their (source id, destination id) pair, so repeated
// requests for the same link return the same LID.
type Allocator struct {
	mu sync.Mutex

	nodes     map[string]string
	nextNode  int
	links     map[string]int
	internal  map[string]int
	positions [lid.Size]bool
	stats     map[string]tmsdn.TrafficStats
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		nodes:    make(map[string]string),
		nextNode: 1,
		links:    make(map[string]int),
		internal: make(map[string]int),
		stats:    make(map[string]tmsdn.TrafficStats),
	}
}

// NodeID returns the id for name, assigning the next free one on first use.
func (a *Allocator) NodeID(name string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodeIDLocked(name)
}

func (a *Allocator) nodeIDLocked(name string) string {
	if id, ok := a.nodes[name]; ok {
		return id
	}
	id := fmt.Sprintf("%08d", a.nextNode)
	a.nextNode++
	a.nodes[name] = id
	return id
}

// Offer answers one request. A full LID space yields a denied offer with
// only the node id and tag set.
func (a *Allocator) Offer(req tmsdn.Request) tmsdn.Offer {
	a.mu.Lock()
	defer a.mu.Unlock()

	src := a.nodeIDLocked(req.Source)
	dst := a.nodeIDLocked(req.Destination)
	offer := tmsdn.Offer{NodeID: src, Tag: req.Tag}

	key := registry.LinkKey{Source: src, Destination: dst}.String()
	pos, ok := a.links[key]
	if !ok {
		pos = a.freePositionLocked()
		if pos == exhaustedPosition {
			offer.NodeID = ""
			return offer
		}
		a.positions[pos] = true
		a.links[key] = pos
	}
	offer.LID = wire(pos)
	offer.InternalLID = offer.LID

	if src == rootNodeID {
		ipos, ok := a.internal[src]
		if !ok {
			ipos = a.freePositionLocked()
			if ipos == exhaustedPosition {
				return offer
			}
			a.positions[ipos] = true
			a.internal[src] = ipos
		}
		offer.InternalLID = wire(ipos)
	}
	return offer
}

// Release frees the LID of the link between the named nodes.
func (a *Allocator) Release(source, destination string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.nodes[source]
	if !ok {
		return false
	}
	dst, ok := a.nodes[destination]
	if !ok {
		return false
	}
	key := registry.LinkKey{Source: src, Destination: dst}.String()
	pos, ok := a.links[key]
	if !ok {
		return false
	}
	delete(a.links, key)
	a.positions[pos] = false
	return true
}

// RecordStats keeps the latest statistics reported for a link.
func (a *Allocator) RecordStats(s tmsdn.TrafficStats) {
	a.mu.Lock()
	a.stats[registry.LinkKey{Source: s.Node1, Destination: s.Node2}.String()] = s
	a.mu.Unlock()
}

// Stats returns the latest statistics for a link by node names.
func (a *Allocator) Stats(node1, node2 string) (tmsdn.TrafficStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stats[registry.LinkKey{Source: node1, Destination: node2}.String()]
	return s, ok
}

// Allocated reports the number of LID positions in use.
func (a *Allocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, used := range a.positions {
		if used {
			n++
		}
	}
	return n
}

func (a *Allocator) freePositionLocked() int {
	for i := 0; i < exhaustedPosition; i++ {
		if !a.positions[i] {
			return i
		}
	}
	return exhaustedPosition
}

func wire(pos int) string {
	b, err := lid.GenerateLID(pos)
	if err != nil {
		return ""
	}
	return b.String()
}

// Package topology tracks the switch graph reported by the SDN controller
// and publishes link changes to watchers.
package topology

import (
	"sort"
	"strings"
	"sync"
)

// hostPrefix marks links that attach an end host rather than a switch.
const hostPrefix = "host"

// Link is a directed link between two nodes. SourceConnector names the
// termination point on the source switch, e.g. "openflow:1:3".
type Link struct {
	ID              string
	Source          string
	Destination     string
	SourceConnector string
}

// IsHost reports whether the link attaches a host. Host links never get
// identifiers allocated.
func (l Link) IsHost() bool { return strings.HasPrefix(l.ID, hostPrefix) }

// PathFinder computes unweighted shortest paths.
type PathFinder interface {
	ShortestPath(from, to string) ([]Link, bool)
}

// Graph is a directed multigraph of links keyed by link ID.
type Graph struct {
	mu    sync.RWMutex
	links map[string]Link
	out   map[string][]string // node -> outgoing link ids
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		links: make(map[string]Link),
		out:   make(map[string][]string),
	}
}

// AddLink inserts or replaces l.
func (g *Graph) AddLink(l Link) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.links[l.ID]; ok {
		g.removeLocked(l.ID)
	}
	g.links[l.ID] = l
	g.out[l.Source] = append(g.out[l.Source], l.ID)
}

// RemoveLink deletes the link with id, reporting whether it existed.
func (g *Graph) RemoveLink(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(id)
}

func (g *Graph) removeLocked(id string) bool {
	l, ok := g.links[id]
	if !ok {
		return false
	}
	delete(g.links, id)
	ids := g.out[l.Source]
	for i, cur := range ids {
		if cur == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(g.out, l.Source)
	} else {
		g.out[l.Source] = ids
	}
	return true
}

// Link returns the link with id.
func (g *Graph) Link(id string) (Link, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.links[id]
	return l, ok
}

// Links returns all links sorted by id.
func (g *Graph) Links() []Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Link, 0, len(g.links))
	for _, l := range g.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShortestPath runs a breadth-first search from one node to another and
// returns the links traversed in order. A node is its own zero-hop path.
// Neighbours are visited in link id order so results are deterministic.
func (g *Graph) ShortestPath(from, to string) ([]Link, bool) {
	if from == to {
		return nil, true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	queue := []string{from}
	visited := map[string]bool{from: true}
	via := make(map[string]Link)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == to {
			var path []Link
			for node := to; node != from; {
				l := via[node]
				path = append(path, l)
				node = l.Source
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, true
		}

		ids := append([]string(nil), g.out[current]...)
		sort.Strings(ids)
		for _, id := range ids {
			l := g.links[id]
			if visited[l.Destination] {
				continue
			}
			visited[l.Destination] = true
			via[l.Destination] = l
			queue = append(queue, l.Destination)
		}
	}
	return nil, false
}

// Package registry holds the identifiers assigned to nodes, links and node
// connectors. It is an in-memory store built on go-memdb so multi-table
// writes commit atomically.
package registry

import (
	"errors"
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableNode      = "node"
	tableLink      = "link"
	tableConnector = "connector"

	indexID     = "id"
	indexSource = "source"
)

var (
	// ErrInvalidEntry indicates an entry is missing a required name.
	ErrInvalidEntry = errors.New("invalid registry entry")
)

// LinkKey is the ordered (source, destination) pair naming a link. The
// reverse pair is a different key. Node names must not contain a comma:
// the "src,dst" form is both the unique link index and the key-lock name,
// so a comma in a name would let two distinct keys collide.
type LinkKey struct {
	Source      string
	Destination string
}

// String returns the "src,dst" registry name.
func (k LinkKey) String() string { return k.Source + "," + k.Destination }

func (k LinkKey) valid() bool { return k.Source != "" && k.Destination != "" }

// NodeEntry maps a node name to the node id assigned by the resource manager.
type NodeEntry struct {
	Name   string
	NodeID string
}

// LinkEntry maps a link to its LID in wire form.
type LinkEntry struct {
	Name        string
	Source      string
	Destination string
	LID         string
}

// Key returns the entry's LinkKey.
func (e LinkEntry) Key() LinkKey { return LinkKey{Source: e.Source, Destination: e.Destination} }

// ConnectorEntry records which link a node connector belongs to.
type ConnectorEntry struct {
	Name        string
	Source      string
	Destination string
}

// Key returns the link the connector belongs to.
func (e ConnectorEntry) Key() LinkKey { return LinkKey{Source: e.Source, Destination: e.Destination} }

// Allocation is everything written after a successful resource offer.
// Connector may be empty when the request carried none.
type Allocation struct {
	Key       LinkKey
	NodeID    string
	LID       string
	Connector string
}

// Counts reports table sizes.
type Counts struct {
	Nodes      int
	Links      int
	Connectors int
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableNode: {
			Name: tableNode,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
			},
		},
		tableLink: {
			Name: tableLink,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
			},
		},
		tableConnector: {
			Name: tableConnector,
			Indexes: map[string]*memdb.IndexSchema{
				indexID:     {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
				indexSource: {Name: indexSource, Indexer: &memdb.StringFieldIndex{Field: "Source"}},
			},
		},
	},
}

// Registry is the identifier store. It is safe for concurrent use; callers
// that run check-then-write sequences on one LinkKey serialize through
// Locks.
type Registry struct {
	db    *memdb.MemDB
	locks *KeyLocks
}

// New constructs an empty Registry.
func New() (*Registry, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}
	return &Registry{db: db, locks: NewKeyLocks()}, nil
}

// Locks returns the per-LinkKey lock set shared by all writers.
func (r *Registry) Locks() *KeyLocks { return r.locks }

//
// ---------- Nodes ----------
//

// PutNode records or replaces the node id for name.
func (r *Registry) PutNode(name, nodeID string) error {
	if name == "" {
		return fmt.Errorf("%w: empty node name", ErrInvalidEntry)
	}
	txn := r.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableNode, &NodeEntry{Name: name, NodeID: nodeID}); err != nil {
		return fmt.Errorf("put node %q: %w", name, err)
	}
	txn.Commit()
	return nil
}

// Node returns the entry for name.
func (r *Registry) Node(name string) (NodeEntry, bool) {
	raw, err := r.db.Txn(false).First(tableNode, indexID, name)
	if err != nil || raw == nil {
		return NodeEntry{}, false
	}
	return *raw.(*NodeEntry), true
}

// DeleteNode removes the entry for name. The orchestrator never calls this
// on link removal; node entries outlive their links.
func (r *Registry) DeleteNode(name string) (bool, error) {
	return r.deleteByID(tableNode, name)
}

// Nodes returns a snapshot of all node entries.
func (r *Registry) Nodes() []NodeEntry {
	var out []NodeEntry
	r.each(tableNode, indexID, func(obj interface{}) { out = append(out, *obj.(*NodeEntry)) })
	return out
}

//
// ---------- Links ----------
//

// PutLink records or replaces the LID for key.
func (r *Registry) PutLink(key LinkKey, lid string) error {
	if !key.valid() {
		return fmt.Errorf("%w: link %q", ErrInvalidEntry, key.String())
	}
	txn := r.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableLink, newLinkEntry(key, lid)); err != nil {
		return fmt.Errorf("put link %s: %w", key, err)
	}
	txn.Commit()
	return nil
}

// Link returns the entry for key. Only the exact direction matches.
func (r *Registry) Link(key LinkKey) (LinkEntry, bool) {
	raw, err := r.db.Txn(false).First(tableLink, indexID, key.String())
	if err != nil || raw == nil {
		return LinkEntry{}, false
	}
	return *raw.(*LinkEntry), true
}

// Links returns a snapshot of all link entries.
func (r *Registry) Links() []LinkEntry {
	var out []LinkEntry
	r.each(tableLink, indexID, func(obj interface{}) { out = append(out, *obj.(*LinkEntry)) })
	return out
}

//
// ---------- Connectors ----------
//

// PutConnector records or replaces a connector entry.
func (r *Registry) PutConnector(entry ConnectorEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("%w: empty connector name", ErrInvalidEntry)
	}
	txn := r.db.Txn(true)
	defer txn.Abort()
	e := entry
	if err := txn.Insert(tableConnector, &e); err != nil {
		return fmt.Errorf("put connector %q: %w", entry.Name, err)
	}
	txn.Commit()
	return nil
}

// Connector returns the entry for name.
func (r *Registry) Connector(name string) (ConnectorEntry, bool) {
	raw, err := r.db.Txn(false).First(tableConnector, indexID, name)
	if err != nil || raw == nil {
		return ConnectorEntry{}, false
	}
	return *raw.(*ConnectorEntry), true
}

// ConnectorsFrom returns the connectors whose link starts at node.
func (r *Registry) ConnectorsFrom(node string) []ConnectorEntry {
	var out []ConnectorEntry
	r.each(tableConnector, indexSource, func(obj interface{}) { out = append(out, *obj.(*ConnectorEntry)) }, node)
	return out
}

// Connectors returns a snapshot of all connector entries.
func (r *Registry) Connectors() []ConnectorEntry {
	var out []ConnectorEntry
	r.each(tableConnector, indexID, func(obj interface{}) { out = append(out, *obj.(*ConnectorEntry)) })
	return out
}

//
// ---------- Multi-table operations ----------
//

// Record writes the node id, link LID and optional connector of a
// successful allocation in a single transaction.
func (r *Registry) Record(a Allocation) error {
	if !a.Key.valid() {
		return fmt.Errorf("%w: link %q", ErrInvalidEntry, a.Key.String())
	}
	txn := r.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tableNode, &NodeEntry{Name: a.Key.Source, NodeID: a.NodeID}); err != nil {
		return fmt.Errorf("record node %q: %w", a.Key.Source, err)
	}
	if err := txn.Insert(tableLink, newLinkEntry(a.Key, a.LID)); err != nil {
		return fmt.Errorf("record link %s: %w", a.Key, err)
	}
	if a.Connector != "" {
		conn := &ConnectorEntry{Name: a.Connector, Source: a.Key.Source, Destination: a.Key.Destination}
		if err := txn.Insert(tableConnector, conn); err != nil {
			return fmt.Errorf("record connector %q: %w", a.Connector, err)
		}
	}
	txn.Commit()
	return nil
}

// Release removes the link entry for key and, when non-empty, the connector
// entry, in one transaction. It returns the removed link entry and false
// when key was not registered.
func (r *Registry) Release(key LinkKey, connector string) (LinkEntry, bool, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableLink, indexID, key.String())
	if err != nil {
		return LinkEntry{}, false, fmt.Errorf("lookup link %s: %w", key, err)
	}
	if raw == nil {
		return LinkEntry{}, false, nil
	}
	entry := *raw.(*LinkEntry)
	if err := txn.Delete(tableLink, raw); err != nil {
		return LinkEntry{}, false, fmt.Errorf("delete link %s: %w", key, err)
	}
	if connector != "" {
		if conn, err := txn.First(tableConnector, indexID, connector); err == nil && conn != nil {
			if err := txn.Delete(tableConnector, conn); err != nil {
				return LinkEntry{}, false, fmt.Errorf("delete connector %q: %w", connector, err)
			}
		}
	}
	txn.Commit()
	return entry, true, nil
}

// Counts returns the number of entries per table.
func (r *Registry) Counts() Counts {
	txn := r.db.Txn(false)
	return Counts{
		Nodes:      count(txn, tableNode),
		Links:      count(txn, tableLink),
		Connectors: count(txn, tableConnector),
	}
}

func newLinkEntry(key LinkKey, lid string) *LinkEntry {
	return &LinkEntry{Name: key.String(), Source: key.Source, Destination: key.Destination, LID: lid}
}

func (r *Registry) deleteByID(table, id string) (bool, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(table, indexID, id)
	if err != nil {
		return false, fmt.Errorf("lookup %s %q: %w", table, id, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := txn.Delete(table, raw); err != nil {
		return false, fmt.Errorf("delete %s %q: %w", table, id, err)
	}
	txn.Commit()
	return true, nil
}

func (r *Registry) each(table, index string, fn func(interface{}), args ...interface{}) {
	it, err := r.db.Txn(false).Get(table, index, args...)
	if err != nil {
		return
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		fn(obj)
	}
}

func count(txn *memdb.Txn, table string) int {
	it, err := txn.Get(table, indexID)
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}

package registry

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	return r
}

func TestLinkKeyIsDirectional(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	key := LinkKey{Source: "openflow:1", Destination: "openflow:2"}
	require.NoError(t, r.PutLink(key, "0001"))

	got, ok := r.Link(key)
	require.True(t, ok)
	assert.Equal(t, "openflow:1,openflow:2", got.Name)
	assert.Equal(t, "0001", got.LID)
	assert.Equal(t, key, got.Key())

	_, ok = r.Link(LinkKey{Source: key.Destination, Destination: key.Source})
	assert.False(t, ok, "reverse direction must be a distinct key")
}

func TestPutReplacesExisting(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	require.NoError(t, r.PutNode("openflow:1", "00000001"))
	require.NoError(t, r.PutNode("openflow:1", "00000002"))
	n, ok := r.Node("openflow:1")
	require.True(t, ok)
	assert.Equal(t, "00000002", n.NodeID)
	assert.Equal(t, 1, r.Counts().Nodes)
}

func TestRejectsEmptyNames(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	assert.True(t, errors.Is(r.PutNode("", "x"), ErrInvalidEntry))
	assert.True(t, errors.Is(r.PutLink(LinkKey{Source: "a"}, "x"), ErrInvalidEntry))
	assert.True(t, errors.Is(r.PutConnector(ConnectorEntry{}), ErrInvalidEntry))
	assert.True(t, errors.Is(r.Record(Allocation{}), ErrInvalidEntry))
}

func TestRecordAndRelease(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	key := LinkKey{Source: "openflow:1", Destination: "openflow:2"}
	require.NoError(t, r.Record(Allocation{
		Key:       key,
		NodeID:    "00000001",
		LID:       "0010",
		Connector: "openflow:1:3",
	}))
	assert.Equal(t, Counts{Nodes: 1, Links: 1, Connectors: 1}, r.Counts())

	conn, ok := r.Connector("openflow:1:3")
	require.True(t, ok)
	assert.Equal(t, key, conn.Key())

	removed, ok, err := r.Release(key, "openflow:1:3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0010", removed.LID)

	// Node ids outlive their links.
	assert.Equal(t, Counts{Nodes: 1}, r.Counts())

	_, ok, err = r.Release(key, "openflow:1:3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordWithoutConnector(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	require.NoError(t, r.Record(Allocation{Key: LinkKey{Source: "tm", Destination: "openflow:1"}, NodeID: "00000001", LID: "1"}))
	assert.Equal(t, Counts{Nodes: 1, Links: 1}, r.Counts())
}

func TestConnectorsFromAndSnapshots(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	require.NoError(t, r.PutLink(LinkKey{Source: "a", Destination: "b"}, "1"))
	require.NoError(t, r.PutLink(LinkKey{Source: "a", Destination: "c"}, "2"))
	require.NoError(t, r.PutLink(LinkKey{Source: "b", Destination: "a"}, "3"))
	require.NoError(t, r.PutConnector(ConnectorEntry{Name: "a:1", Source: "a", Destination: "b"}))
	require.NoError(t, r.PutConnector(ConnectorEntry{Name: "a:2", Source: "a", Destination: "c"}))
	require.NoError(t, r.PutConnector(ConnectorEntry{Name: "b:1", Source: "b", Destination: "a"}))

	from := r.ConnectorsFrom("a")
	names := make([]string, 0, len(from))
	for _, e := range from {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a:1", "a:2"}, names)
	assert.Empty(t, r.ConnectorsFrom("c"))

	assert.Len(t, r.Links(), 3)
	assert.Len(t, r.Connectors(), 3)
	assert.Empty(t, r.Nodes())
}

func TestDeleteNode(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	require.NoError(t, r.PutNode("a", "00000001"))
	ok, err := r.DeleteNode("a")
	require.NoError(t, err)
	assert.True(t, ok)
	_, found := r.Node("a")
	assert.False(t, found)
}

func TestSnapshotsAreCopies(t *testing.T) {
	t.Parallel()
	r := newRegistry(t)

	key := LinkKey{Source: "a", Destination: "b"}
	require.NoError(t, r.PutLink(key, "1"))
	links := r.Links()
	links[0].LID = "mutated"

	got, _ := r.Link(key)
	assert.Equal(t, "1", got.LID)
}

func TestKeyLocksSerializeSameKey(t *testing.T) {
	t.Parallel()
	locks := NewKeyLocks()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("a,b")
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locks.Len(), "released keys are dropped")
}

func TestKeyLocksIndependentKeys(t *testing.T) {
	t.Parallel()
	locks := NewKeyLocks()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on b blocked behind a")
	}
	unlockA()
}

// Package fid derives forwarding identifiers from routed paths.
package fid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/icn-bootstrap/internal/lid"
	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
	"github.com/signalsfoundry/icn-bootstrap/internal/registry"
	"github.com/signalsfoundry/icn-bootstrap/internal/topology"
)

// ErrNotConfigured is returned before the manager node is known.
var ErrNotConfigured = errors.New("fid composer: manager not configured")

// Composition is the result of one FID calculation.
type Composition struct {
	FID lid.Bits
	// PathFound is false when the target cannot reach the manager; FID then
	// holds only the internal bit.
	PathFound bool
	Hops      []topology.Link
	// Skipped lists hops that had no usable LID in the registry.
	Skipped []registry.LinkKey
}

// Composer computes the FID from a node to the manager attachment switch.
type Composer struct {
	paths topology.PathFinder
	reg   *registry.Registry
	log   logging.Logger

	mu          sync.RWMutex
	manager     string
	internalPos int
	configured  bool
}

// NewComposer returns a Composer routing over paths and reading LIDs from reg.
func NewComposer(paths topology.PathFinder, reg *registry.Registry, log logging.Logger) *Composer {
	return &Composer{
		paths: paths,
		reg:   reg,
		log:   logging.OrNoop(log).With(logging.Component("fid")),
	}
}

// SetManager sets the node every path ends at and the manager-internal bit
// included in every FID.
func (c *Composer) SetManager(node string, internalPosition int) error {
	if _, err := lid.GenerateLID(internalPosition); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manager = node
	c.internalPos = internalPosition
	c.configured = true
	return nil
}

// CalculateFID ORs the manager-internal bit with the LID of every hop on the
// shortest path from target to the manager. Hops without a registered LID
// are skipped and reported in the result, not treated as errors.
func (c *Composer) CalculateFID(ctx context.Context, target string) (Composition, error) {
	c.mu.RLock()
	manager, internalPos, configured := c.manager, c.internalPos, c.configured
	c.mu.RUnlock()
	if !configured {
		return Composition{}, ErrNotConfigured
	}

	ctx, span := observability.StartSpan(ctx, "fid.CalculateFID", attribute.String("fid.target", target))
	defer span.End()

	out := Composition{FID: lid.Bits{}.Set(internalPos)}
	path, ok := c.paths.ShortestPath(target, manager)
	if !ok {
		c.log.Warn(ctx, "no path to manager", logging.String("target", target), logging.String("manager", manager))
		return out, nil
	}
	out.PathFound = true
	out.Hops = path

	for _, hop := range path {
		key := registry.LinkKey{Source: hop.Source, Destination: hop.Destination}
		pos, err := c.position(key)
		if err != nil {
			out.Skipped = append(out.Skipped, key)
			c.log.Warn(ctx, "hop skipped in fid", logging.String("link", key.String()), logging.Err(err))
			continue
		}
		out.FID = out.FID.Set(pos)
	}

	span.SetAttributes(attribute.Int("fid.hops", len(path)), attribute.Int("fid.skipped", len(out.Skipped)))
	c.log.Info(ctx, "fid calculated",
		logging.String("target", target),
		logging.Int("hops", len(path)),
		logging.Any("positions", out.FID.Positions()),
	)
	return out, nil
}

func (c *Composer) position(key registry.LinkKey) (int, error) {
	entry, ok := c.reg.Link(key)
	if !ok {
		return 0, errors.New("no lid registered")
	}
	bits, err := lid.ParseBits(entry.LID)
	if err != nil {
		return 0, err
	}
	pos, ok := lid.BitPosition(bits)
	if !ok {
		return 0, fmt.Errorf("lid %s has no set bit", key)
	}
	return pos, nil
}

package tmsdn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/observability"
)

// DefaultTimeout bounds one request/offer round trip.
const DefaultTimeout = 5 * time.Second

var (
	// ErrAllocationFailed covers every way an allocation can fail: no
	// endpoint, dial or I/O errors, timeouts, empty or denied offers and
	// protocol errors.
	ErrAllocationFailed = errors.New("allocation failed")

	// ErrOfferMismatch means the offers cannot be correlated with the
	// requests by position. It wraps ErrProtocol.
	ErrOfferMismatch = fmt.Errorf("%w: offers do not match requests", ErrProtocol)

	// ErrNoEndpoint is returned before the TM address has been configured.
	ErrNoEndpoint = errors.New("tm endpoint not configured")
)

// Allocator requests identifiers from the TM.
type Allocator interface {
	Allocate(ctx context.Context, req Request) (Offer, error)
	AllocateBatch(ctx context.Context, reqs []Request) ([]Result, error)
}

// Reporter sends statistics and link status to the TM.
type Reporter interface {
	SendTrafficStats(ctx context.Context, stats TrafficStats) error
	SendLinkStatus(ctx context.Context, ls LinkStatus) error
}

// Result pairs a request with its positionally correlated offer. Err is
// non-nil when that single offer was denied.
type Result struct {
	Request Request
	Offer   Offer
	Err     error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Address is the TM host:port. It may be set later with SetAddress.
	Address string
	// Timeout bounds each round trip; zero selects DefaultTimeout.
	Timeout time.Duration
}

// Client speaks TM-SDN over a fresh TCP connection per call, so a failed
// or corrupted exchange never affects the next one.
type Client struct {
	mu      sync.RWMutex
	address string
	timeout time.Duration
	dialer  net.Dialer
	log     logging.Logger
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig, log logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		address: cfg.Address,
		timeout: timeout,
		log:     logging.OrNoop(log).With(logging.Component("tmsdn")),
	}
}

// SetAddress changes the TM endpoint used by subsequent calls.
func (c *Client) SetAddress(addr string) {
	c.mu.Lock()
	c.address = addr
	c.mu.Unlock()
}

// Address returns the configured TM endpoint.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// Allocate sends a single resource request.
func (c *Client) Allocate(ctx context.Context, req Request) (Offer, error) {
	results, err := c.AllocateBatch(ctx, []Request{req})
	if err != nil {
		return Offer{}, err
	}
	return results[0].Offer, results[0].Err
}

// AllocateBatch sends reqs in one RR message and correlates the offers of
// the RO reply by position. A reply whose length differs from reqs, or
// whose echoed tag disagrees with the request at the same index, rejects
// the whole batch.
func (c *Client) AllocateBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	ctx, span := observability.StartSpan(ctx, "tmsdn.AllocateBatch", attribute.Int("tmsdn.requests", len(reqs)))
	defer span.End()

	tagged := make([]Request, len(reqs))
	prefix := uuid.NewString()[:8]
	for i, r := range reqs {
		if r.Tag == "" {
			r.Tag = prefix + "-" + strconv.Itoa(i)
		}
		tagged[i] = r
	}

	reply, err := c.roundTrip(ctx, &Message{Type: TypeResourceRequest, Requests: tagged})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	results, err := correlate(tagged, reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn(ctx, "rejecting resource offer", logging.Int("requests", len(tagged)), logging.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	return results, nil
}

func correlate(reqs []Request, reply *Message) ([]Result, error) {
	if reply == nil || reply.Type != TypeResourceOffer {
		return nil, fmt.Errorf("%w: expected RO reply", ErrProtocol)
	}
	if len(reply.Offers) == 0 {
		return nil, errors.New("empty resource offer")
	}
	if len(reply.Offers) != len(reqs) {
		return nil, fmt.Errorf("%w: %d offers for %d requests", ErrOfferMismatch, len(reply.Offers), len(reqs))
	}
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		offer := reply.Offers[i]
		// A TM that does not echo tags is correlated by position alone.
		if offer.Tag != "" && offer.Tag != req.Tag {
			return nil, fmt.Errorf("%w: offer %d carries tag %q, want %q", ErrOfferMismatch, i, offer.Tag, req.Tag)
		}
		results[i] = Result{Request: req, Offer: offer}
		if offer.Denied() {
			results[i].Err = fmt.Errorf("%w: offer for %s,%s denied", ErrAllocationFailed, req.Source, req.Destination)
		}
	}
	return results, nil
}

// SendTrafficStats sends one TM statistics message.
func (c *Client) SendTrafficStats(ctx context.Context, stats TrafficStats) error {
	s := stats
	return c.send(ctx, &Message{Type: TypeTrafficMonitoring, Stats: &s})
}

// SendLinkStatus sends one LS message.
func (c *Client) SendLinkStatus(ctx context.Context, ls LinkStatus) error {
	l := ls
	return c.send(ctx, &Message{Type: TypeLinkStatus, LinkStatus: &l})
}

func (c *Client) send(ctx context.Context, m *Message) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return WriteDelimited(conn, m)
}

func (c *Client) roundTrip(ctx context.Context, m *Message) (*Message, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := WriteDelimited(conn, m); err != nil {
		return nil, err
	}
	reply, err := ReadDelimited(conn)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr := c.Address()
	if addr == "" {
		return nil, ErrNoEndpoint
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tm %s: %w", addr, err)
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	return conn, nil
}

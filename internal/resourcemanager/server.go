package resourcemanager

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/tmsdn"
)

const connTimeout = 10 * time.Second

// Server accepts TM-SDN connections and reads one message from each. RR
// messages are answered with an RO carrying one offer per request in
// request order.
type Server struct {
	alloc *Allocator
	log   logging.Logger

	wg sync.WaitGroup
}

// NewServer returns a Server backed by alloc.
func NewServer(alloc *Allocator, log logging.Logger) *Server {
	if alloc == nil {
		alloc = NewAllocator()
	}
	return &Server{
		alloc: alloc,
		log:   logging.OrNoop(log).With(logging.Component("resourcemanager")),
	}
}

// Allocator returns the allocator the server answers from.
func (s *Server) Allocator() *Allocator { return s.alloc }

// Serve accepts connections on ln until ctx is cancelled or ln fails. It
// closes ln and waits for in-flight connections before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	msg, err := tmsdn.ReadDelimited(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.log.Warn(ctx, "discarding tm-sdn frame", logging.String("remote", conn.RemoteAddr().String()), logging.Err(err))
		}
		return
	}

	switch msg.Type {
	case tmsdn.TypeResourceRequest:
		offers := make([]tmsdn.Offer, len(msg.Requests))
		for i, req := range msg.Requests {
			offers[i] = s.alloc.Offer(req)
			s.log.Debug(ctx, "resource offer",
				logging.String("link", req.Source+","+req.Destination),
				logging.String("node_id", offers[i].NodeID),
				logging.Bool("denied", offers[i].Denied()),
			)
		}
		if err := tmsdn.WriteDelimited(conn, &tmsdn.Message{Type: tmsdn.TypeResourceOffer, Offers: offers}); err != nil {
			s.log.Warn(ctx, "write resource offer", logging.Err(err))
		}
	case tmsdn.TypeTrafficMonitoring:
		if msg.Stats != nil {
			s.alloc.RecordStats(*msg.Stats)
		}
	case tmsdn.TypeLinkStatus:
		if msg.LinkStatus != nil && msg.LinkStatus.Kind == tmsdn.LinkRemoved {
			s.alloc.Release(msg.LinkStatus.Node1, msg.LinkStatus.Node2)
		}
	default:
		s.log.Warn(ctx, "unexpected tm-sdn message", logging.String("type", msg.Type.String()))
	}
}

// Package control exposes the bootstrapping orchestrator over gRPC. The
// service uses a JSON codec so requests and responses are plain Go structs.
package control

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/icn-bootstrap/internal/bootstrap"
	"github.com/signalsfoundry/icn-bootstrap/internal/fid"
	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/monitor"
	"github.com/signalsfoundry/icn-bootstrap/internal/topology"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "icnbootstrap.v1.Bootstrapping"

// Orchestrator is the subset of *bootstrap.Orchestrator served over gRPC.
type Orchestrator interface {
	Configure(ctx context.Context, cfg bootstrap.TMConfig) error
	Activate(ctx context.Context, on bool) bootstrap.ActivationReport
	ConfigureLinkManually(ctx context.Context, switchID, portID string, position int) error
	LookupOrAllocate(ctx context.Context, source, destination string) (bootstrap.NodeLinkInfo, error)
	CalculateFID(ctx context.Context, target string) (fid.Composition, error)
	Status() bootstrap.Status
}

// BootstrappingServer is the server API for the Bootstrapping service.
type BootstrappingServer interface {
	ConfigureTm(context.Context, *ConfigureTmRequest) (*ConfigureTmResponse, error)
	ActivateApplication(context.Context, *ActivateRequest) (*ActivateResponse, error)
	ConfigureSwitch(context.Context, *ConfigureSwitchRequest) (*ConfigureSwitchResponse, error)
	NodeLinkInformation(context.Context, *NodeLinkRequest) (*NodeLinkResponse, error)
	CalculateTmfid(context.Context, *CalculateTmfidRequest) (*CalculateTmfidResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	UpdateTopology(context.Context, *UpdateTopologyRequest) (*UpdateTopologyResponse, error)
	ReportCounters(context.Context, *ReportCountersRequest) (*ReportCountersResponse, error)
}

// Publisher accepts topology events, e.g. *topology.Feed.
type Publisher interface {
	Publish(ev topology.Event) error
}

// CounterSink stores connector counters, e.g. *monitor.MapSource.
type CounterSink interface {
	Set(connectorID string, c monitor.Counters)
}

// Service implements BootstrappingServer on top of an Orchestrator.
type Service struct {
	orch     Orchestrator
	topology Publisher
	counters CounterSink
	log      logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTopology enables UpdateTopology.
func WithTopology(p Publisher) Option {
	return func(s *Service) { s.topology = p }
}

// WithCounters enables ReportCounters.
func WithCounters(c CounterSink) Option {
	return func(s *Service) { s.counters = c }
}

// NewService constructs a Service.
func NewService(orch Orchestrator, log logging.Logger, opts ...Option) *Service {
	s := &Service{
		orch: orch,
		log:  logging.OrNoop(log).With(logging.Component("control")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ConfigureTm(ctx context.Context, req *ConfigureTmRequest) (*ConfigureTmResponse, error) {
	cfg := bootstrap.TMConfig{
		ServerAddress:       strings.TrimSpace(req.ServerAddress),
		ServerPort:          req.ServerPort,
		AttachmentSwitchID:  strings.TrimSpace(req.AttachmentSwitchID),
		AttachedSwitchID:    strings.TrimSpace(req.AttachedSwitchID),
		NodeID:              strings.TrimSpace(req.NodeID),
		LIDPosition:         req.LIDPosition,
		InternalLIDPosition: req.InternalLIDPosition,
	}
	if err := s.orch.Configure(ctx, cfg); err != nil {
		return nil, err
	}
	return &ConfigureTmResponse{Endpoint: cfg.Endpoint()}, nil
}

func (s *Service) ActivateApplication(ctx context.Context, req *ActivateRequest) (*ActivateResponse, error) {
	report := s.orch.Activate(ctx, req.Active)
	return &ActivateResponse{
		State:     s.orch.Status().State.String(),
		Attempted: report.Attempted,
		Allocated: report.Allocated,
		Failed:    report.Failed,
	}, nil
}

func (s *Service) ConfigureSwitch(ctx context.Context, req *ConfigureSwitchRequest) (*ConfigureSwitchResponse, error) {
	if req.SwitchID == "" || req.PortID == "" {
		return nil, fmt.Errorf("%w: switch_id and port_id are required", ErrInvalidArgument)
	}
	if err := s.orch.ConfigureLinkManually(ctx, req.SwitchID, req.PortID, req.LIDPosition); err != nil {
		return nil, err
	}
	return &ConfigureSwitchResponse{}, nil
}

func (s *Service) NodeLinkInformation(ctx context.Context, req *NodeLinkRequest) (*NodeLinkResponse, error) {
	if req.Source == "" || req.Destination == "" {
		return nil, fmt.Errorf("%w: source and destination are required", ErrInvalidArgument)
	}
	info, err := s.orch.LookupOrAllocate(ctx, req.Source, req.Destination)
	if err != nil {
		return nil, err
	}
	return &NodeLinkResponse{NodeID: info.NodeID, LID: info.LID, Allocated: info.Allocated}, nil
}

func (s *Service) CalculateTmfid(ctx context.Context, req *CalculateTmfidRequest) (*CalculateTmfidResponse, error) {
	if req.Target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidArgument)
	}
	comp, err := s.orch.CalculateFID(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	resp := &CalculateTmfidResponse{
		FID:       comp.FID.String(),
		Positions: comp.FID.Positions(),
		PathFound: comp.PathFound,
	}
	for _, h := range comp.Hops {
		resp.Hops = append(resp.Hops, h.Source+","+h.Destination)
	}
	for _, k := range comp.Skipped {
		resp.Skipped = append(resp.Skipped, k.String())
	}
	if len(resp.Skipped) > 0 {
		logging.FromContext(ctx, s.log).Warn(ctx, "fid computed with skipped hops",
			logging.String("target", req.Target),
			logging.Any("skipped", resp.Skipped),
		)
	}
	return resp, nil
}

func (s *Service) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	st := s.orch.Status()
	resp := &StatusResponse{
		State:      st.State.String(),
		Configured: st.Configured,
		Pending:    st.Pending,
		Nodes:      st.Registry.Nodes,
		Links:      st.Registry.Links,
		Connectors: st.Registry.Connectors,
	}
	if st.Configured {
		resp.TMEndpoint = st.TM.Endpoint()
		resp.TMNode = st.TM.AttachmentSwitchID
	}
	return resp, nil
}

func (s *Service) UpdateTopology(ctx context.Context, req *UpdateTopologyRequest) (*UpdateTopologyResponse, error) {
	if s.topology == nil {
		return nil, status.Error(codes.Unimplemented, "topology ingest disabled")
	}
	added, err := toLinks(req.Added)
	if err != nil {
		return nil, err
	}
	removed, err := toLinks(req.Removed)
	if err != nil {
		return nil, err
	}
	if err := s.topology.Publish(topology.Event{Kind: topology.LinksAdded, Links: added}); err != nil {
		return nil, fmt.Errorf("publish added links: %w", err)
	}
	if err := s.topology.Publish(topology.Event{Kind: topology.LinksRemoved, Links: removed}); err != nil {
		return nil, fmt.Errorf("publish removed links: %w", err)
	}
	return &UpdateTopologyResponse{Added: len(added), Removed: len(removed)}, nil
}

func toLinks(specs []LinkSpec) ([]topology.Link, error) {
	links := make([]topology.Link, 0, len(specs))
	for i, sp := range specs {
		if sp.ID == "" || sp.Source == "" || sp.Destination == "" {
			return nil, fmt.Errorf("%w: link %d needs id, source and destination", ErrInvalidArgument, i)
		}
		links = append(links, topology.Link{
			ID:              sp.ID,
			Source:          sp.Source,
			Destination:     sp.Destination,
			SourceConnector: sp.SourceConnector,
		})
	}
	return links, nil
}

func (s *Service) ReportCounters(_ context.Context, req *ReportCountersRequest) (*ReportCountersResponse, error) {
	if s.counters == nil {
		return nil, status.Error(codes.Unimplemented, "counter ingest disabled")
	}
	accepted := 0
	for _, c := range req.Counters {
		if c.ConnectorID == "" {
			continue
		}
		s.counters.Set(c.ConnectorID, monitor.Counters{
			PacketsReceived:    c.PacketsReceived,
			PacketsTransmitted: c.PacketsTransmitted,
			BytesReceived:      c.BytesReceived,
			BytesTransmitted:   c.BytesTransmitted,
		})
		accepted++
	}
	return &ReportCountersResponse{Accepted: accepted}, nil
}

// RegisterBootstrappingServer registers srv on s.
func RegisterBootstrappingServer(s grpc.ServiceRegistrar, srv BootstrappingServer) {
	s.RegisterService(&Bootstrapping_ServiceDesc, srv)
}

// Bootstrapping_ServiceDesc describes the Bootstrapping service.
var Bootstrapping_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BootstrappingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ConfigureTm", Handler: unaryHandler("ConfigureTm", BootstrappingServer.ConfigureTm)},
		{MethodName: "ActivateApplication", Handler: unaryHandler("ActivateApplication", BootstrappingServer.ActivateApplication)},
		{MethodName: "ConfigureSwitch", Handler: unaryHandler("ConfigureSwitch", BootstrappingServer.ConfigureSwitch)},
		{MethodName: "NodeLinkInformation", Handler: unaryHandler("NodeLinkInformation", BootstrappingServer.NodeLinkInformation)},
		{MethodName: "CalculateTmfid", Handler: unaryHandler("CalculateTmfid", BootstrappingServer.CalculateTmfid)},
		{MethodName: "Status", Handler: unaryHandler("Status", BootstrappingServer.Status)},
		{MethodName: "UpdateTopology", Handler: unaryHandler("UpdateTopology", BootstrappingServer.UpdateTopology)},
		{MethodName: "ReportCounters", Handler: unaryHandler("ReportCounters", BootstrappingServer.ReportCounters)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "icnbootstrap/v1/bootstrapping.proto",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[Req, Resp any](method string, call func(BootstrappingServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(BootstrappingServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		})
	}
}

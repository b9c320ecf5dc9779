package control

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client calls the Bootstrapping service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a Client for address. Paths and unix:// targets select a
// Unix socket; anything else is a TCP host:port.
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	target := parseAddress(address)
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func parseAddress(address string) string {
	if strings.HasPrefix(address, "unix://") {
		return address
	}
	if strings.HasPrefix(address, "/") {
		return "unix://" + address
	}
	return address
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(codecName))
}

func (c *Client) ConfigureTm(ctx context.Context, req *ConfigureTmRequest) (*ConfigureTmResponse, error) {
	out := new(ConfigureTmResponse)
	if err := c.invoke(ctx, "ConfigureTm", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ActivateApplication(ctx context.Context, req *ActivateRequest) (*ActivateResponse, error) {
	out := new(ActivateResponse)
	if err := c.invoke(ctx, "ActivateApplication", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ConfigureSwitch(ctx context.Context, req *ConfigureSwitchRequest) (*ConfigureSwitchResponse, error) {
	out := new(ConfigureSwitchResponse)
	if err := c.invoke(ctx, "ConfigureSwitch", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) NodeLinkInformation(ctx context.Context, req *NodeLinkRequest) (*NodeLinkResponse, error) {
	out := new(NodeLinkResponse)
	if err := c.invoke(ctx, "NodeLinkInformation", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CalculateTmfid(ctx context.Context, req *CalculateTmfidRequest) (*CalculateTmfidResponse, error) {
	out := new(CalculateTmfidResponse)
	if err := c.invoke(ctx, "CalculateTmfid", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.invoke(ctx, "Status", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports the serving status of the Bootstrapping service.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (c *Client) UpdateTopology(ctx context.Context, req *UpdateTopologyRequest) (*UpdateTopologyResponse, error) {
	out := new(UpdateTopologyResponse)
	if err := c.invoke(ctx, "UpdateTopology", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReportCounters(ctx context.Context, req *ReportCountersRequest) (*ReportCountersResponse, error) {
	out := new(ReportCountersResponse)
	if err := c.invoke(ctx, "ReportCounters", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

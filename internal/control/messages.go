package control

// ConfigureTmRequest locates the TM and its attachment point.
type ConfigureTmRequest struct {
	ServerAddress       string `json:"server_address"`
	ServerPort          int    `json:"server_port"`
	AttachmentSwitchID  string `json:"attachment_switch_id"`
	AttachedSwitchID    string `json:"attached_switch_id"`
	NodeID              string `json:"node_id"`
	LIDPosition         int    `json:"lid_position"`
	InternalLIDPosition int    `json:"internal_lid_position"`
}

type ConfigureTmResponse struct {
	Endpoint string `json:"endpoint"`
}

type ActivateRequest struct {
	Active bool `json:"active"`
}

// ActivateResponse reports the new state and the queue drain it triggered.
type ActivateResponse struct {
	State     string `json:"state"`
	Attempted int    `json:"attempted"`
	Allocated int    `json:"allocated"`
	Failed    int    `json:"failed"`
}

// ConfigureSwitchRequest installs a manually chosen LID on one switch port.
type ConfigureSwitchRequest struct {
	SwitchID    string `json:"switch_id"`
	PortID      string `json:"port_id"`
	LIDPosition int    `json:"lid_position"`
}

type ConfigureSwitchResponse struct{}

type NodeLinkRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type NodeLinkResponse struct {
	NodeID    string `json:"node_id"`
	LID       string `json:"lid"`
	Allocated bool   `json:"allocated"`
}

type CalculateTmfidRequest struct {
	Target string `json:"target"`
}

// CalculateTmfidResponse carries the FID as a 256 character bit string.
type CalculateTmfidResponse struct {
	FID       string   `json:"fid"`
	Positions []int    `json:"positions"`
	PathFound bool     `json:"path_found"`
	Hops      []string `json:"hops,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
}

type StatusRequest struct{}

type StatusResponse struct {
	State      string `json:"state"`
	Configured bool   `json:"configured"`
	TMEndpoint string `json:"tm_endpoint,omitempty"`
	TMNode     string `json:"tm_node,omitempty"`
	Pending    int    `json:"pending"`
	Nodes      int    `json:"nodes"`
	Links      int    `json:"links"`
	Connectors int    `json:"connectors"`
}

// LinkSpec is one directed link reported by the SDN controller.
type LinkSpec struct {
	ID              string `json:"id"`
	Source          string `json:"source"`
	Destination     string `json:"destination"`
	SourceConnector string `json:"source_connector"`
}

// UpdateTopologyRequest reports link additions and removals. Removals are
// published after additions.
type UpdateTopologyRequest struct {
	Added   []LinkSpec `json:"added,omitempty"`
	Removed []LinkSpec `json:"removed,omitempty"`
}

type UpdateTopologyResponse struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// ConnectorCounters are the port statistics of one node connector.
type ConnectorCounters struct {
	ConnectorID        string `json:"connector_id"`
	PacketsReceived    uint64 `json:"packets_received"`
	PacketsTransmitted uint64 `json:"packets_transmitted"`
	BytesReceived      uint64 `json:"bytes_received"`
	BytesTransmitted   uint64 `json:"bytes_transmitted"`
}

type ReportCountersRequest struct {
	Counters []ConnectorCounters `json:"counters"`
}

type ReportCountersResponse struct {
	Accepted int `json:"accepted"`
}

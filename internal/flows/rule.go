// Package flows describes the arbitrary bitmask rules installed on switches
// and the programmer contract that pushes them to the forwarding plane.
package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Rule constants shared by every installed rule.
const (
	TableID          = 0
	Priority         = 1000
	IdleTimeout      = 30000
	HardTimeout      = 30000
	EtherTypeIPv6    = 0x86DD
	EthernetDstMatch = "00:00:00:00:00:00"
)

// ErrInvalidRule is returned for rules missing a switch or connector.
var ErrInvalidRule = errors.New("invalid flow rule")

// Match is an IPv6 arbitrary bitmask match. Each mask equals its address,
// so only the bits present in the address are matched.
type Match struct {
	EtherType   uint16
	EthernetDst string
	IPv6Src     string
	IPv6SrcMask string
	IPv6Dst     string
	IPv6DstMask string
}

// Rule is one flow entry keyed by its connector.
type Rule struct {
	SwitchID    string
	ConnectorID string
	// FlowID is the rule key; installing a rule with the same FlowID on the
	// same switch replaces the previous one.
	FlowID      string
	Table       int
	Priority    int
	IdleTimeout int
	HardTimeout int
	Match       Match
	OutputPort  string
}

// NewRule builds the rule forwarding traffic that matches the given LID
// addresses out of connectorID.
func NewRule(switchID, connectorID, srcAddress, dstAddress string) Rule {
	return Rule{
		SwitchID:    switchID,
		ConnectorID: connectorID,
		FlowID:      connectorID,
		Table:       TableID,
		Priority:    Priority,
		IdleTimeout: IdleTimeout,
		HardTimeout: HardTimeout,
		Match: Match{
			EtherType:   EtherTypeIPv6,
			EthernetDst: EthernetDstMatch,
			IPv6Src:     srcAddress,
			IPv6SrcMask: srcAddress,
			IPv6Dst:     dstAddress,
			IPv6DstMask: dstAddress,
		},
		OutputPort: OutputPort(connectorID),
	}
}

// Validate checks that the rule can be keyed.
func (r Rule) Validate() error {
	switch {
	case r.SwitchID == "":
		return fmt.Errorf("%w: empty switch id", ErrInvalidRule)
	case r.FlowID == "":
		return fmt.Errorf("%w: empty connector id", ErrInvalidRule)
	}
	return nil
}

// OutputPort returns the port number of a connector id such as
// "openflow:1:3". Ids without a port component are returned unchanged.
func OutputPort(connectorID string) string {
	parts := strings.Split(connectorID, ":")
	if len(parts) < 3 {
		return connectorID
	}
	return parts[2]
}

// Programmer installs and removes rules on the forwarding plane. Both
// operations are idempotent.
type Programmer interface {
	InstallRule(ctx context.Context, rule Rule) error
	RemoveRule(ctx context.Context, switchID, connectorID string) error
}

// Package tmsdn implements the TM-SDN protocol spoken between the
// bootstrapping controller and the resource manager (TM). Messages use the
// protobuf binary encoding and travel one per connection, each prefixed by
// its varint length.
package tmsdn

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType discriminates the payload carried by a Message.
type MessageType int32

const (
	TypeTrafficMonitoring MessageType = 0 // TM
	TypeLinkStatus        MessageType = 1 // LS
	TypeResourceRequest   MessageType = 2 // RR
	TypeResourceOffer     MessageType = 3 // RO
)

func (t MessageType) String() string {
	switch t {
	case TypeTrafficMonitoring:
		return "TM"
	case TypeLinkStatus:
		return "LS"
	case TypeResourceRequest:
		return "RR"
	case TypeResourceOffer:
		return "RO"
	default:
		return fmt.Sprintf("MessageType(%d)", int32(t))
	}
}

// LinkStatusKind is the link status event carried by an LS message.
type LinkStatusKind int32

const (
	LinkAdded   LinkStatusKind = 0
	LinkRemoved LinkStatusKind = 1
)

// Request asks the TM for a node id and LID for the link Source->Destination.
// Tag travels in the srcMAC field and is echoed back in the matching offer.
type Request struct {
	Source      string
	Destination string
	Connector   string
	Tag         string
}

// Offer is the TM's answer to one Request. An empty NodeID or LID denies it.
type Offer struct {
	NodeID      string
	LID         string
	InternalLID string
	Tag         string
}

// Denied reports whether the offer carries no usable allocation.
func (o Offer) Denied() bool { return o.NodeID == "" || o.LID == "" }

// TrafficStats are per-link counters reported to the TM.
type TrafficStats struct {
	Node1              string
	Node2              string
	PacketsReceived    uint64
	PacketsTransmitted uint64
	BytesReceived      uint64
	BytesTransmitted   uint64
}

// LinkStatus reports a link change to the TM.
type LinkStatus struct {
	Node1 string
	Node2 string
	Kind  LinkStatusKind
}

// Message is the TmSdnMessage envelope. Only the payload matching Type is
// encoded.
type Message struct {
	Type       MessageType
	Stats      *TrafficStats
	LinkStatus *LinkStatus
	Requests   []Request
	Offers     []Offer
}

// ErrProtocol marks undecodable or inconsistent protocol data.
var ErrProtocol = errors.New("tm-sdn protocol error")

// Field numbers.
const (
	fieldType          protowire.Number = 1
	fieldStats         protowire.Number = 2
	fieldLinkStatus    protowire.Number = 3
	fieldRequestMsg    protowire.Number = 4
	fieldOfferMsg      protowire.Number = 5
	fieldRepeatedItems protowire.Number = 1

	fieldReqSrc       protowire.Number = 1
	fieldReqDst       protowire.Number = 2
	fieldReqConnector protowire.Number = 3
	fieldReqTag       protowire.Number = 4

	fieldOfferNID  protowire.Number = 1
	fieldOfferLID  protowire.Number = 2
	fieldOfferILID protowire.Number = 3
	fieldOfferTag  protowire.Number = 4

	fieldStatsNode1  protowire.Number = 1
	fieldStatsNode2  protowire.Number = 2
	fieldStatsPktRx  protowire.Number = 3
	fieldStatsPktTx  protowire.Number = 4
	fieldStatsByteRx protowire.Number = 5
	fieldStatsByteTx protowire.Number = 6

	fieldLSNode1 protowire.Number = 1
	fieldLSNode2 protowire.Number = 2
	fieldLSKind  protowire.Number = 3
)

// Marshal encodes m in protobuf binary form.
func Marshal(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrProtocol)
	}
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))

	switch m.Type {
	case TypeTrafficMonitoring:
		if m.Stats == nil {
			return nil, fmt.Errorf("%w: TM message without stats", ErrProtocol)
		}
		b = appendMessage(b, fieldStats, marshalStats(m.Stats))
	case TypeLinkStatus:
		if m.LinkStatus == nil {
			return nil, fmt.Errorf("%w: LS message without link status", ErrProtocol)
		}
		b = appendMessage(b, fieldLinkStatus, marshalLinkStatus(m.LinkStatus))
	case TypeResourceRequest:
		var inner []byte
		for _, r := range m.Requests {
			inner = appendMessage(inner, fieldRepeatedItems, marshalRequest(r))
		}
		b = appendMessage(b, fieldRequestMsg, inner)
	case TypeResourceOffer:
		var inner []byte
		for _, o := range m.Offers {
			inner = appendMessage(inner, fieldRepeatedItems, marshalOffer(o))
		}
		b = appendMessage(b, fieldOfferMsg, inner)
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrProtocol, m.Type)
	}
	return b, nil
}

// Unmarshal decodes a protobuf-encoded TmSdnMessage. Unknown fields are
// skipped.
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldType:
			m.Type = MessageType(x)
		case fieldStats:
			s, err := unmarshalStats(v)
			if err != nil {
				return err
			}
			m.Stats = s
		case fieldLinkStatus:
			ls, err := unmarshalLinkStatus(v)
			if err != nil {
				return err
			}
			m.LinkStatus = ls
		case fieldRequestMsg:
			return walk(v, func(n protowire.Number, _ protowire.Type, item []byte, _ uint64) error {
				if n != fieldRepeatedItems {
					return nil
				}
				r, err := unmarshalRequest(item)
				if err != nil {
					return err
				}
				m.Requests = append(m.Requests, r)
				return nil
			})
		case fieldOfferMsg:
			return walk(v, func(n protowire.Number, _ protowire.Type, item []byte, _ uint64) error {
				if n != fieldRepeatedItems {
					return nil
				}
				o, err := unmarshalOffer(item)
				if err != nil {
					return err
				}
				m.Offers = append(m.Offers, o)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func marshalRequest(r Request) []byte {
	var b []byte
	b = appendString(b, fieldReqSrc, r.Source)
	b = appendString(b, fieldReqDst, r.Destination)
	b = appendString(b, fieldReqConnector, r.Connector)
	b = appendString(b, fieldReqTag, r.Tag)
	return b
}

func unmarshalRequest(b []byte) (Request, error) {
	var r Request
	err := walk(b, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldReqSrc:
			r.Source = string(v)
		case fieldReqDst:
			r.Destination = string(v)
		case fieldReqConnector:
			r.Connector = string(v)
		case fieldReqTag:
			r.Tag = string(v)
		}
		return nil
	})
	return r, err
}

func marshalOffer(o Offer) []byte {
	var b []byte
	b = appendString(b, fieldOfferNID, o.NodeID)
	b = appendString(b, fieldOfferLID, o.LID)
	b = appendString(b, fieldOfferILID, o.InternalLID)
	b = appendString(b, fieldOfferTag, o.Tag)
	return b
}

func unmarshalOffer(b []byte) (Offer, error) {
	var o Offer
	err := walk(b, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldOfferNID:
			o.NodeID = string(v)
		case fieldOfferLID:
			o.LID = string(v)
		case fieldOfferILID:
			o.InternalLID = string(v)
		case fieldOfferTag:
			o.Tag = string(v)
		}
		return nil
	})
	return o, err
}

func marshalStats(s *TrafficStats) []byte {
	var b []byte
	b = appendString(b, fieldStatsNode1, s.Node1)
	b = appendString(b, fieldStatsNode2, s.Node2)
	b = appendUint(b, fieldStatsPktRx, s.PacketsReceived)
	b = appendUint(b, fieldStatsPktTx, s.PacketsTransmitted)
	b = appendUint(b, fieldStatsByteRx, s.BytesReceived)
	b = appendUint(b, fieldStatsByteTx, s.BytesTransmitted)
	return b
}

func unmarshalStats(b []byte) (*TrafficStats, error) {
	s := &TrafficStats{}
	err := walk(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldStatsNode1:
			s.Node1 = string(v)
		case fieldStatsNode2:
			s.Node2 = string(v)
		case fieldStatsPktRx:
			s.PacketsReceived = x
		case fieldStatsPktTx:
			s.PacketsTransmitted = x
		case fieldStatsByteRx:
			s.BytesReceived = x
		case fieldStatsByteTx:
			s.BytesTransmitted = x
		}
		return nil
	})
	return s, err
}

func marshalLinkStatus(ls *LinkStatus) []byte {
	var b []byte
	b = appendString(b, fieldLSNode1, ls.Node1)
	b = appendString(b, fieldLSNode2, ls.Node2)
	b = protowire.AppendTag(b, fieldLSKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ls.Kind))
	return b
}

func unmarshalLinkStatus(b []byte) (*LinkStatus, error) {
	ls := &LinkStatus{}
	err := walk(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldLSNode1:
			ls.Node1 = string(v)
		case fieldLSNode2:
			ls.Node2 = string(v)
		case fieldLSKind:
			ls.Kind = LinkStatusKind(x)
		}
		return nil
	})
	return ls, err
}

// appendString omits empty strings, matching proto3 default handling.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, inner []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// walk iterates the fields of an encoded message. Length-delimited values
// arrive in v, varints in x; other wire types are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrProtocol, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrProtocol, num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, nil, x); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrProtocol, num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrProtocol, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

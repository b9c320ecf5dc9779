package tmsdn

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxMessageSize bounds the declared length of an incoming frame.
const MaxMessageSize = 4 << 20

// WriteDelimited writes m prefixed by its varint-encoded length.
func WriteDelimited(w io.Writer, m *Message) error {
	body, err := Marshal(m)
	if err != nil {
		return err
	}
	frame := protowire.AppendVarint(make([]byte, 0, len(body)+binary.MaxVarintLen32), uint64(len(body)))
	frame = append(frame, body...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %s message: %w", m.Type, err)
	}
	return nil
}

// ReadDelimited reads one length-prefixed message from r.
func ReadDelimited(r io.Reader) (*Message, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		b := bufio.NewReader(r)
		br, r = b, b
	}
	size, err := binary.ReadUvarint(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read frame length: %v", ErrProtocol, err)
	}
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProtocol, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: read frame body: %v", ErrProtocol, err)
	}
	return Unmarshal(body)
}

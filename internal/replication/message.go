package replication

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// MessageType identifies a message on the wire.
type MessageType uint8

// Message types.
const (
	MsgHeartbeat MessageType = iota + 1
	MsgChange
)

func (t MessageType) String() string {
	switch t {
	case MsgHeartbeat:
		return "heartbeat"
	case MsgChange:
		return "change"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Message is a unit published on a session.
type Message interface {
	Type() MessageType
	Marshal() ([]byte, error)
}

// HeartbeatMessage tells the peer the session is alive. It has no payload.
type HeartbeatMessage struct{}

// Type implements Message.
func (HeartbeatMessage) Type() MessageType { return MsgHeartbeat }

// Marshal implements Message.
func (HeartbeatMessage) Marshal() ([]byte, error) { return nil, nil }

// maxFieldLen is the longest string a uint16 length prefix can carry.
const maxFieldLen = math.MaxUint16

// ChangeMessage announces a committed write on a backend.
//
// Wire layout, little endian:
//
//	[changeNumber:8][time:8][kind:1][len:2][backendID][len:2][dn][len:2][previousDN]
type ChangeMessage struct {
	ChangeNumber uint64
	Time         time.Time
	// Kind is the backend change type bit (add, delete, modify, modDN).
	Kind       uint8
	BackendID  string
	DN         string
	PreviousDN string
}

// Type implements Message.
func (*ChangeMessage) Type() MessageType { return MsgChange }

// Marshal implements Message. Strings longer than maxFieldLen are rejected
// with ErrFieldTooLong.
func (m *ChangeMessage) Marshal() ([]byte, error) {
	fields := []struct{ name, value string }{
		{"backendID", m.BackendID},
		{"dn", m.DN},
		{"previousDN", m.PreviousDN},
	}
	size := 17
	for _, f := range fields {
		if len(f.value) > maxFieldLen {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrFieldTooLong, f.name, len(f.value))
		}
		size += 2 + len(f.value)
	}
	buf := make([]byte, 17, size)
	binary.LittleEndian.PutUint64(buf[0:8], m.ChangeNumber)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Time.UnixNano()))
	buf[16] = m.Kind
	for _, f := range fields {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.value)))
		buf = append(buf, f.value...)
	}
	return buf, nil
}

func unmarshalChange(data []byte) (*ChangeMessage, error) {
	if len(data) < 17 {
		return nil, fmt.Errorf("%w: change message is %d bytes", ErrMalformed, len(data))
	}
	m := &ChangeMessage{
		ChangeNumber: binary.LittleEndian.Uint64(data[0:8]),
		Time:         time.Unix(0, int64(binary.LittleEndian.Uint64(data[8:16]))),
		Kind:         data[16],
	}
	rest := data[17:]
	fields := []*string{&m.BackendID, &m.DN, &m.PreviousDN}
	for _, f := range fields {
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: truncated change message", ErrMalformed)
		}
		n := int(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < n {
			return nil, fmt.Errorf("%w: truncated change message", ErrMalformed)
		}
		*f = string(rest[:n])
		rest = rest[n:]
	}
	return m, nil
}

// Decode builds a message of type t from its payload.
func Decode(t MessageType, data []byte) (Message, error) {
	switch t {
	case MsgHeartbeat:
		if len(data) != 0 {
			return nil, fmt.Errorf("%w: heartbeat with %d byte payload", ErrMalformed, len(data))
		}
		return HeartbeatMessage{}, nil
	case MsgChange:
		return unmarshalChange(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, t)
}

package uavtalk

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/robotalks/uavtalk.go/pkg/uavobject"
)

// MessageType is the type byte of a frame.
type MessageType byte

// Message types.
const (
	TypeObject        MessageType = 0x20
	TypeObjectRequest MessageType = 0x21
	TypeObjectAck     MessageType = 0x22
	TypeAck           MessageType = 0x23
	TypeNack          MessageType = 0x24
)

const (
	// SyncByte starts every frame.
	SyncByte byte = 0x3C
	// HeaderLength is the header length without instance id.
	HeaderLength = 8
	// InstanceHeaderLength is the header length with instance id.
	InstanceHeaderLength = 10
	// MaxPayloadLength is the largest payload of a frame.
	MaxPayloadLength = uavobject.MaxNumBytes
	// MaxFrameLength is the largest frame including checksum.
	MaxFrameLength = InstanceHeaderLength + MaxPayloadLength + 1
	// AllInstances addresses every instance of an object.
	AllInstances uint16 = 0xFFFF

	typeVersion byte = 0x20
	typeMask    byte = 0xF8
)

// IsValid indicates t is a known message type.
func (t MessageType) IsValid() bool {
	return t >= TypeObject && t <= TypeNack
}

// HasPayload indicates frames of type t carry object data.
func (t MessageType) HasPayload() bool {
	return t == TypeObject || t == TypeObjectAck
}

// String implements fmt.Stringer.
func (t MessageType) String() string {
	switch t {
	case TypeObject:
		return "OBJ"
	case TypeObjectRequest:
		return "OBJ_REQ"
	case TypeObjectAck:
		return "OBJ_ACK"
	case TypeAck:
		return "ACK"
	case TypeNack:
		return "NACK"
	}
	return fmt.Sprintf("TYPE(%02x)", byte(t))
}

// Frame is a decoded link frame.
type Frame struct {
	Type        MessageType
	ObjectID    uint32
	InstanceID  uint16
	HasInstance bool
	Payload     []byte
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	if f.HasInstance {
		return fmt.Sprintf("%v %08x[%d] %d bytes", f.Type, f.ObjectID, f.InstanceID, len(f.Payload))
	}
	return fmt.Sprintf("%v %08x %d bytes", f.Type, f.ObjectID, len(f.Payload))
}

// Encode builds the bytes of a frame.
func Encode(t MessageType, objID uint32, instID uint16, hasInstance bool, payload []byte) ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%v: %w", t, ErrInvalidType)
	}
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%d bytes: %w", len(payload), ErrPayloadTooLarge)
	}
	headerLen := HeaderLength
	if hasInstance {
		headerLen = InstanceHeaderLength
	}
	length := headerLen + len(payload)
	b := make([]byte, length+1)
	b[0] = SyncByte
	b[1] = byte(t)
	binary.LittleEndian.PutUint16(b[2:], uint16(length))
	binary.LittleEndian.PutUint32(b[4:], objID)
	if hasInstance {
		binary.LittleEndian.PutUint16(b[8:], instID)
	}
	copy(b[headerLen:], payload)
	b[length] = Checksum(b[:length])
	return b, nil
}

// Bytes encodes the frame.
func (f *Frame) Bytes() ([]byte, error) {
	return Encode(f.Type, f.ObjectID, f.InstanceID, f.HasInstance, f.Payload)
}

// WriteTo implements io.WriterTo.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	b, err := f.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ObjectLookup finds object definitions by id.
type ObjectLookup interface {
	Lookup(id uint32) (*uavobject.Definition, bool)
}

// NewFrame builds a frame addressed per the object definition. Single instance
// objects are sent without instance id.
func NewFrame(t MessageType, def *uavobject.Definition, instID uint16, payload []byte) *Frame {
	f := &Frame{Type: t, ObjectID: def.ID, Payload: payload}
	if !def.SingleInstance {
		f.InstanceID, f.HasInstance = instID, true
	}
	return f
}

package netframe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidValue is returned when a value without a fixed binary layout
	// is pushed into or popped from a message body.
	ErrInvalidValue = errors.New("value has no fixed binary layout")
	// ErrBodyTooShort is returned when popping more bytes than the body holds.
	ErrBodyTooShort = errors.New("message body too short")
)

// Kind is the constraint for message kind tags. Both peers must use the same
// tag type, since its width is part of the wire header.
type Kind interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64
}

// byteOrder is the header and body encoding. The wire format carries no
// endianness marker, so peers have to agree on it out of band.
var byteOrder = binary.NativeEndian

// Header is sent in front of every message body.
type Header[K Kind] struct {
	Kind K
	// Size is the body length in bytes.
	Size uint32
}

// HeaderSize returns the encoded header length for kind type K.
func HeaderSize[K Kind]() int {
	var k K
	return binary.Size(k) + 4
}

func (h Header[K]) appendTo(buf []byte) []byte {
	var scratch bytes.Buffer
	// Writing a fixed-size integer into a bytes.Buffer cannot fail.
	_ = binary.Write(&scratch, byteOrder, h.Kind)
	buf = append(buf, scratch.Bytes()...)
	return byteOrder.AppendUint32(buf, h.Size)
}

func readHeader[K Kind](r io.Reader, buf []byte) (Header[K], error) {
	var h Header[K]
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, err
	}
	kindLen := len(buf) - 4
	if err := binary.Read(bytes.NewReader(buf[:kindLen]), byteOrder, &h.Kind); err != nil {
		return h, err
	}
	h.Size = byteOrder.Uint32(buf[kindLen:])
	return h, nil
}

// Message is a typed, variable-length unit of transfer: a header plus an
// opaque body. Values are appended with Push and taken back with Pop in
// last-in-first-out order.
type Message[K Kind] struct {
	Header Header[K]
	Body   []byte
}

// NewMessage returns an empty message of the given kind.
func NewMessage[K Kind](kind K) Message[K] {
	return Message[K]{Header: Header[K]{Kind: kind}}
}

// Size returns the full wire size: header plus body.
func (m Message[K]) Size() int {
	return HeaderSize[K]() + len(m.Body)
}

// Len returns the body length.
func (m Message[K]) Len() int {
	return len(m.Body)
}

// Bytes returns the wire encoding of the message.
func (m Message[K]) Bytes() []byte {
	buf := make([]byte, 0, m.Size())
	buf = m.Header.appendTo(buf)
	return append(buf, m.Body...)
}

func (m Message[K]) String() string {
	return fmt.Sprintf("kind: %v | size: %d", m.Header.Kind, m.Header.Size)
}

// clone returns a copy that shares no memory with m.
func (m Message[K]) clone() Message[K] {
	c := Message[K]{Header: m.Header}
	if len(m.Body) > 0 {
		c.Body = append([]byte(nil), m.Body...)
	}
	return c
}

// Push appends the binary image of v to the end of the body.
//
// Only fixed-layout values are accepted: sized integers, floats, bools,
// arrays and structs made of those. Everything else fails with
// ErrInvalidValue and the message is left unchanged.
func Push[K Kind, V any](m *Message[K], v V) error {
	if _, err := fixedSize[V](); err != nil {
		return err
	}

	// Cap the slice so the write never lands in capacity shared with copies of m.
	buf := bytes.NewBuffer(m.Body[:len(m.Body):len(m.Body)])
	if err := binary.Write(buf, byteOrder, v); err != nil {
		return errors.Wrapf(ErrInvalidValue, "%T: %s", v, err)
	}
	m.Body = buf.Bytes()
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// Pop removes the last pushed value from the body and stores it in v.
// Values come out in the reverse order they went in.
func Pop[K Kind, V any](m *Message[K], v *V) error {
	size, err := fixedSize[V]()
	if err != nil {
		return err
	}
	if v == nil {
		return errors.Wrap(ErrInvalidValue, "nil destination")
	}
	if len(m.Body) < size {
		return errors.Wrapf(ErrBodyTooShort, "need %d bytes, have %d", size, len(m.Body))
	}

	start := len(m.Body) - size
	if err := binary.Read(bytes.NewReader(m.Body[start:]), byteOrder, v); err != nil {
		return errors.Wrapf(ErrInvalidValue, "%T: %s", *v, err)
	}
	m.Body = m.Body[:start]
	m.Header.Size = uint32(len(m.Body))
	return nil
}

// fixedSize reports the encoded size of V, rejecting types whose size
// depends on the value.
func fixedSize[V any]() (int, error) {
	var zero V
	t := reflect.TypeOf(zero)
	if t == nil || !isFixed(t) {
		return 0, errors.Wrapf(ErrInvalidValue, "%T", zero)
	}
	return binary.Size(zero), nil
}

func isFixed(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isFixed(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !isFixed(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// OwnedMessage is a received message tagged with the connection it arrived
// on. Remote is nil on the client side, which only ever has one connection.
type OwnedMessage[K Kind] struct {
	Remote *Conn[K]
	Msg    Message[K]
}

func (o OwnedMessage[K]) String() string {
	return o.Msg.String()
}

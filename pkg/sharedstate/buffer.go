// Package sharedstate implements the versioned binary channel that carries
// application state from the master to every client each frame. The master
// serializes with an application-registered encode callback; clients must
// consume exactly the same bytes in the same field order.
package sharedstate

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned when a read runs past the end of the encoded
// data, which indicates an encode/decode field-order mismatch.
var ErrShortBuffer = errors.New("sharedstate: read past end of buffer")

// Serializable can write itself to and read itself from a Buffer. Encode
// and Decode must touch the same fields in the same order.
type Serializable interface {
	Encode(*Buffer)
	Decode(*Buffer) error
}

// Buffer is a little-endian binary scratch buffer with typed accessors.
// Writes are infallible; reads fail when the data runs out.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer returns an empty buffer for encoding.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// FromBytes returns a buffer positioned at the start of data for decoding.
func FromBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the encoded contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.pos }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.data = append(b.data, 1)
	} else {
		b.data = append(b.data, 0)
	}
}

func (b *Buffer) WriteInt32(v int32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, uint32(v))
}

func (b *Buffer) WriteUint32(v uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
}

func (b *Buffer) WriteFloat32(v float32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, math.Float32bits(v))
}

func (b *Buffer) WriteFloat64(v float64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, math.Float64bits(v))
}

func (b *Buffer) WriteString(v string) {
	b.WriteUint32(uint32(len(v)))
	b.data = append(b.data, v...)
}

func (b *Buffer) WriteBytes(v []byte) {
	b.WriteUint32(uint32(len(v)))
	b.data = append(b.data, v...)
}

// WriteObject serializes a nested structure.
func (b *Buffer) WriteObject(v Serializable) {
	v.Encode(b)
}

func (b *Buffer) ReadBool() (bool, error) {
	if b.Remaining() < 1 {
		return false, ErrShortBuffer
	}
	v := b.data[b.pos] == 1
	b.pos++
	return v, nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadUint32() (uint32, error) {
	if b.Remaining() < 4 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadFloat64() (float64, error) {
	if b.Remaining() < 8 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint64(b.data[b.pos:])
	b.pos += 8
	return math.Float64frombits(v), nil
}

func (b *Buffer) ReadString() (string, error) {
	data, err := b.ReadBytes()
	return string(data), err
}

func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if b.Remaining() < int(n) {
		return nil, ErrShortBuffer
	}
	v := b.data[b.pos : b.pos+int(n) : b.pos+int(n)]
	b.pos += int(n)
	return v, nil
}

// ReadObject deserializes a nested structure.
func (b *Buffer) ReadObject(v Serializable) error {
	return v.Decode(b)
}

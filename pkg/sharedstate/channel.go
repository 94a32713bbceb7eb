package sharedstate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// ErrProtocol marks a malformed or length-mismatched frame. The channel
// keeps the previous frame's state when this happens; it never crashes the
// node over bad bytes.
var ErrProtocol = errors.New("sharedstate: protocol error")

// headerSize is the frame-number and payload-length prefix.
const headerSize = 8

// EncodeFunc is the application's per-frame state serializer, invoked only
// on the master.
type EncodeFunc func(*Buffer)

// DecodeFunc is the application's state deserializer, invoked only on
// clients. It must consume exactly the bytes the matching EncodeFunc
// produced, in the same field order.
type DecodeFunc func(*Buffer) error

// Channel owns the shared-state byte stream for one node. The master calls
// Encode once per frame; clients call Apply on each received buffer. Both
// run on the frame thread, so the application codec never needs its own
// locking; the short mutex keeps the last-applied bookkeeping safe for
// concurrent readers such as the diagnostics endpoint.
type Channel struct {
	log    hclog.Logger
	encode EncodeFunc
	decode DecodeFunc

	mu          sync.Mutex
	lastFrame   uint32
	lastPayload []byte
}

// NewChannel creates a channel with the application's codec callbacks.
// Either callback may be nil on the side that does not use it.
func NewChannel(log hclog.Logger, encode EncodeFunc, decode DecodeFunc) *Channel {
	return &Channel{
		log:    log.Named("sharedstate"),
		encode: encode,
		decode: decode,
	}
}

// Encode produces the wire buffer for the given frame: frame number,
// payload length, then the application payload. Master side only.
func (c *Channel) Encode(frame uint32) []byte {
	buf := NewBuffer()
	buf.WriteUint32(frame)
	buf.WriteUint32(0) // patched below
	if c.encode != nil {
		c.encode(buf)
	}
	data := buf.Bytes()
	payloadLen := uint32(len(data) - headerSize)
	data[4] = byte(payloadLen)
	data[5] = byte(payloadLen >> 8)
	data[6] = byte(payloadLen >> 16)
	data[7] = byte(payloadLen >> 24)

	c.mu.Lock()
	c.lastFrame = frame
	c.lastPayload = data[headerSize:]
	c.mu.Unlock()
	return data
}

// Apply decodes one received frame buffer. On any protocol error the
// previous frame's state is retained and an error wrapping ErrProtocol is
// returned. A frame-number gap is logged, never silently accepted.
func (c *Channel) Apply(data []byte) (uint32, error) {
	buf := FromBytes(data)
	frame, err := buf.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("%w: missing frame header", ErrProtocol)
	}
	payloadLen, err := buf.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("%w: missing length header", ErrProtocol)
	}
	if int(payloadLen) != buf.Remaining() {
		return 0, fmt.Errorf("%w: frame %d declares %d payload bytes, got %d",
			ErrProtocol, frame, payloadLen, buf.Remaining())
	}

	c.mu.Lock()
	last := c.lastFrame
	c.mu.Unlock()
	if last != 0 && frame <= last {
		return 0, fmt.Errorf("%w: frame %d not after last applied frame %d",
			ErrProtocol, frame, last)
	}
	if last != 0 && frame != last+1 {
		c.log.Warn("frame gap detected, state may have skipped ahead",
			"expected", last+1, "received", frame)
	}

	if c.decode != nil {
		if err := c.decode(buf); err != nil {
			return 0, fmt.Errorf("%w: decode frame %d: %v", ErrProtocol, frame, err)
		}
	}
	if buf.Remaining() != 0 {
		return 0, fmt.Errorf("%w: frame %d left %d undecoded bytes",
			ErrProtocol, frame, buf.Remaining())
	}

	c.mu.Lock()
	c.lastFrame = frame
	c.lastPayload = data[headerSize:]
	c.mu.Unlock()
	return frame, nil
}

// LastFrame returns the most recently encoded or applied frame number.
func (c *Channel) LastFrame() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFrame
}

// LastPayload returns the retained state bytes of the last good frame,
// used for degraded rendering after a timeout or protocol error.
func (c *Channel) LastPayload() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPayload
}

package transport

import (
	"encoding/binary"
	"fmt"
)

// Kind tags the payload carried by a message. The tag byte is the first
// byte on the wire, followed by a 4-byte sequence field (frame number or
// transfer id depending on kind) and a 4-byte payload length.
type Kind byte

const (
	// KindHandshake carries the peer's identity; first message on a link.
	KindHandshake Kind = iota + 1
	// KindSyncData carries one frame's encoded shared state, master to
	// clients. Seq is the frame number.
	KindSyncData
	// KindSwapReady signals a client finished drawing frame Seq.
	KindSwapReady
	// KindSwapRelease releases all clients to swap buffers for frame Seq.
	KindSwapRelease
	// KindTransfer carries a bulk payload. Seq is the transfer id.
	KindTransfer
	// KindTransferAck acknowledges receipt of transfer Seq.
	KindTransferAck
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindSyncData:
		return "sync-data"
	case KindSwapReady:
		return "swap-ready"
	case KindSwapRelease:
		return "swap-release"
	case KindTransfer:
		return "transfer"
	case KindTransferAck:
		return "transfer-ack"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// HeaderSize is the fixed message header: Kind(1) + Seq(4) + Length(4).
const HeaderSize = 9

// MaxPayload bounds a single message so a corrupt length field cannot make
// the reader allocate unbounded memory. Bulk assets above this size must be
// split by the caller.
const MaxPayload = 256 << 20

// Message is one framed unit on the wire. Only complete messages are ever
// surfaced to receivers.
type Message struct {
	Kind    Kind
	Seq     uint32
	Payload []byte
}

// AppendHeader appends the wire header for m to buf and returns it.
func (m Message) AppendHeader(buf []byte) []byte {
	buf = append(buf, byte(m.Kind))
	buf = binary.LittleEndian.AppendUint32(buf, m.Seq)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Payload)))
	return buf
}

// ParseHeader decodes a wire header, returning the message (payload not yet
// filled) and the payload length to read.
func ParseHeader(hdr []byte) (Message, int, error) {
	if len(hdr) < HeaderSize {
		return Message{}, 0, fmt.Errorf("short header: %d bytes", len(hdr))
	}
	m := Message{
		Kind: Kind(hdr[0]),
		Seq:  binary.LittleEndian.Uint32(hdr[1:5]),
	}
	n := binary.LittleEndian.Uint32(hdr[5:9])
	if n > MaxPayload {
		return Message{}, 0, fmt.Errorf("payload length %d exceeds limit", n)
	}
	return m, int(n), nil
}

// Handshake identifies a peer on a fresh connection. Session is the
// cluster run's identity: minted by the master, echoed by clients, empty
// on a client's first connect.
type Handshake struct {
	NodeID  string
	Session string
	Master  bool
}

// EncodeHandshake serializes a handshake into a message payload.
func EncodeHandshake(h Handshake) []byte {
	buf := make([]byte, 0, 4+len(h.NodeID)+len(h.Session)+1)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.NodeID)))
	buf = append(buf, h.NodeID...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.Session)))
	buf = append(buf, h.Session...)
	if h.Master {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeHandshake parses a handshake payload.
func DecodeHandshake(data []byte) (Handshake, error) {
	var h Handshake
	if len(data) < 2 {
		return h, fmt.Errorf("handshake too short")
	}
	n := int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	if len(data) < n+2 {
		return h, fmt.Errorf("handshake truncated")
	}
	h.NodeID = string(data[:n])
	data = data[n:]
	n = int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	if len(data) < n+1 {
		return h, fmt.Errorf("handshake truncated")
	}
	h.Session = string(data[:n])
	h.Master = data[n] == 1
	return h, nil
}

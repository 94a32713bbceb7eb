// Package transport provides the reliable, ordered byte-stream links between
// cluster nodes. Every link is a TCP connection carrying framed messages; a
// reader goroutine per link delivers only complete messages to the hub's
// message handler, so receivers never observe a partial frame or transfer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrClosed is returned for operations on a hub that has been shut down.
var ErrClosed = errors.New("transport: hub closed")

// ErrUnknownPeer is returned when sending to a peer with no active link.
var ErrUnknownPeer = errors.New("transport: unknown peer")

const handshakeTimeout = 5 * time.Second

// MessageHandler receives complete inbound messages. It is invoked from the
// per-connection reader goroutine and must hand off to the consumer without
// blocking on the render thread.
type MessageHandler func(from string, msg Message)

// StatusHandler is notified exactly once per connect/disconnect transition.
type StatusHandler func(nodeID string, connected bool)

// Hub owns all transport links of one node. The master listens and accepts
// one link per client; a client holds a single link to the master. The
// master mints the session id for the cluster run; clients adopt it from
// the master's handshake, and the master rejects peers whose handshake
// carries a different session, so a node left over from an earlier run
// cannot silently rejoin the barrier quorum.
type Hub struct {
	log      hclog.Logger
	identity Handshake

	onMessage MessageHandler
	onStatus  StatusHandler

	mu     sync.Mutex
	conns  map[string]*link
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

type link struct {
	id  string
	c   net.Conn
	wmu sync.Mutex
}

// NewHub creates a hub for the given local identity. Handlers must be set
// before Listen or Connect.
func NewHub(log hclog.Logger, identity Handshake) *Hub {
	return &Hub{
		log:      log.Named("transport"),
		identity: identity,
		conns:    make(map[string]*link),
	}
}

// Session returns the cluster session id: the minted one on the master,
// the adopted one on a connected client.
func (h *Hub) Session() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity.Session
}

// OnMessage sets the inbound message handler.
func (h *Hub) OnMessage(fn MessageHandler) { h.onMessage = fn }

// OnStatus sets the connection status handler.
func (h *Hub) OnStatus(fn StatusHandler) { h.onStatus = fn }

// Listen starts accepting client links on addr. Master side only.
func (h *Hub) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ln.Close()
		return ErrClosed
	}
	h.ln = ln
	h.mu.Unlock()

	h.log.Info("listening for cluster peers", "address", addr)
	h.wg.Add(1)
	go h.acceptLoop(ln)
	return nil
}

// Addr returns the listen address, or "" when the hub is not listening.
// Useful when listening on an ephemeral port.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return ""
	}
	return h.ln.Addr().String()
}

// Connect establishes the link to the master at addr. Client side only.
// Failure here means no cluster session can proceed, so the error is
// returned to the caller rather than retried silently.
func (h *Hub) Connect(ctx context.Context, addr string) error {
	d := net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: connect to master %s: %w", addr, err)
	}
	if err := h.handshake(c); err != nil {
		c.Close()
		return err
	}
	peer, err := h.readHandshake(c)
	if err != nil {
		c.Close()
		return fmt.Errorf("transport: master handshake: %w", err)
	}
	if !peer.Master {
		c.Close()
		return fmt.Errorf("transport: peer %s at %s is not the master", peer.NodeID, addr)
	}
	h.mu.Lock()
	h.identity.Session = peer.Session
	h.mu.Unlock()
	h.register(peer.NodeID, c)
	return nil
}

// Broadcast sends msg to every connected peer. Write failures close the
// offending link; the reader goroutine then reports the disconnect.
func (h *Hub) Broadcast(msg Message) {
	for _, l := range h.links() {
		h.writeTo(l, msg)
	}
}

// Send sends msg to one peer.
func (h *Hub) Send(nodeID string, msg Message) error {
	h.mu.Lock()
	l, ok := h.conns[nodeID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, nodeID)
	}
	return h.writeTo(l, msg)
}

// Peers returns the ids of all currently linked peers.
func (h *Hub) Peers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	return out
}

// Close shuts the hub down: stops accepting, closes every link, and waits
// for all reader goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	ln := h.ln
	conns := make([]*link, 0, len(h.conns))
	for _, l := range h.conns {
		conns = append(conns, l)
	}
	h.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, l := range conns {
		l.c.Close()
	}
	h.wg.Wait()
}

func (h *Hub) acceptLoop(ln net.Listener) {
	defer h.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			h.mu.Lock()
			closed := h.closed
			h.mu.Unlock()
			if !closed {
				h.log.Error("accept failed", "error", err)
			}
			return
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.acceptPeer(c)
		}()
	}
}

func (h *Hub) acceptPeer(c net.Conn) {
	peer, err := h.readHandshake(c)
	if err != nil {
		h.log.Warn("rejecting peer with bad handshake", "remote", c.RemoteAddr(), "error", err)
		c.Close()
		return
	}
	if ses := h.Session(); peer.Session != "" && peer.Session != ses {
		h.log.Warn("rejecting peer from stale session",
			"peer", peer.NodeID, "peer_session", peer.Session, "session", ses)
		c.Close()
		return
	}
	if err := h.handshake(c); err != nil {
		h.log.Warn("handshake reply failed", "peer", peer.NodeID, "error", err)
		c.Close()
		return
	}
	h.register(peer.NodeID, c)
}

func (h *Hub) handshake(c net.Conn) error {
	h.mu.Lock()
	identity := h.identity
	h.mu.Unlock()
	payload := EncodeHandshake(identity)
	msg := Message{Kind: KindHandshake, Payload: payload}
	buf := msg.AppendHeader(make([]byte, 0, HeaderSize+len(payload)))
	buf = append(buf, payload...)
	c.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	_, err := c.Write(buf)
	c.SetWriteDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("transport: send handshake: %w", err)
	}
	return nil
}

func (h *Hub) readHandshake(c net.Conn) (Handshake, error) {
	c.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer c.SetReadDeadline(time.Time{})
	msg, err := readMessage(c)
	if err != nil {
		return Handshake{}, err
	}
	if msg.Kind != KindHandshake {
		return Handshake{}, fmt.Errorf("expected handshake, got %s", msg.Kind)
	}
	return DecodeHandshake(msg.Payload)
}

// register installs the link and starts its reader. A reconnecting peer
// replaces its stale link; the status callback fires only on the
// disconnected->connected transition, never for a stable connection.
func (h *Hub) register(id string, c net.Conn) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return
	}
	old, existed := h.conns[id]
	l := &link{id: id, c: c}
	h.conns[id] = l
	h.mu.Unlock()

	if existed {
		h.log.Warn("peer reconnected, replacing stale link", "peer", id)
		old.c.Close()
	}
	h.log.Info("peer connected", "peer", id, "remote", c.RemoteAddr())
	if h.onStatus != nil && !existed {
		h.onStatus(id, true)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.readLoop(l)
	}()
}

func (h *Hub) readLoop(l *link) {
	for {
		msg, err := readMessage(l.c)
		if err != nil {
			h.unregister(l, err)
			return
		}
		if h.onMessage != nil {
			h.onMessage(l.id, msg)
		}
	}
}

func (h *Hub) unregister(l *link, cause error) {
	l.c.Close()
	h.mu.Lock()
	current, ok := h.conns[l.id]
	replaced := ok && current != l
	if ok && !replaced {
		delete(h.conns, l.id)
	}
	closed := h.closed
	h.mu.Unlock()
	if replaced {
		// A fresh link took over; the stale reader exits quietly.
		return
	}
	if !closed && !errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed) {
		h.log.Warn("peer link failed", "peer", l.id, "error", cause)
	} else {
		h.log.Info("peer disconnected", "peer", l.id)
	}
	if h.onStatus != nil {
		h.onStatus(l.id, false)
	}
}

func (h *Hub) links() []*link {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*link, 0, len(h.conns))
	for _, l := range h.conns {
		out = append(out, l)
	}
	return out
}

func (h *Hub) writeTo(l *link, msg Message) error {
	buf := msg.AppendHeader(make([]byte, 0, HeaderSize+len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	l.wmu.Lock()
	_, err := l.c.Write(buf)
	l.wmu.Unlock()
	if err != nil {
		h.log.Warn("write failed, closing link", "peer", l.id, "kind", msg.Kind.String(), "error", err)
		l.c.Close()
		return err
	}
	return nil
}

func readMessage(r io.Reader) (Message, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Message{}, err
	}
	msg, n, err := ParseHeader(hdr)
	if err != nil {
		return Message{}, err
	}
	if n > 0 {
		msg.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return Message{}, fmt.Errorf("truncated payload: %w", err)
		}
	}
	return msg, nil
}

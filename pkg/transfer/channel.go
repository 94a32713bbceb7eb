// Package transfer implements the out-of-band bulk data channel. Large
// payloads (textures, assets) move between nodes without touching the
// per-frame barrier; completion is tracked per transfer through an
// acknowledgement ledger.
package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"framesync/pkg/cluster"
	"framesync/pkg/transport"
)

// ErrDuplicateID is returned when a transfer reuses a sequence id that is
// still pending or already completed.
var ErrDuplicateID = errors.New("transfer: duplicate transfer id")

// Sender is the outbound half of the transport used by the channel.
type Sender interface {
	Broadcast(msg transport.Message)
	Send(nodeID string, msg transport.Message) error
}

// Membership supplies the set of clients whose acknowledgements a new
// transfer must collect.
type Membership interface {
	ConnectedClients() []cluster.Node
}

// ReceiveFunc delivers an inbound payload to the application.
type ReceiveFunc func(payload []byte, id uint32, from string)

// AckFunc is notified when a single peer acknowledges a transfer.
type AckFunc func(id uint32, nodeID string)

// StatusFunc is notified once per peer connect/disconnect transition.
type StatusFunc func(nodeID string, connected bool)

type entry struct {
	bytesSent int
	awaiting  map[string]struct{}
}

// Channel tracks outbound transfers and dispatches inbound ones. The ledger
// lock is held only for map reads and writes, never across a network call;
// sends happen on their own goroutine so Send returns immediately.
type Channel struct {
	log     hclog.Logger
	sender  Sender
	members Membership

	onReceive ReceiveFunc
	onAck     AckFunc
	onStatus  StatusFunc

	mu        sync.Mutex
	pending   map[uint32]*entry
	completed map[uint32]struct{}
	connected map[string]bool
}

// NewChannel creates a transfer channel over the given transport.
func NewChannel(log hclog.Logger, sender Sender, members Membership) *Channel {
	return &Channel{
		log:       log.Named("transfer"),
		sender:    sender,
		members:   members,
		pending:   make(map[uint32]*entry),
		completed: make(map[uint32]struct{}),
		connected: make(map[string]bool),
	}
}

// OnReceive registers the application handler for inbound payloads.
func (c *Channel) OnReceive(fn ReceiveFunc) { c.onReceive = fn }

// OnAck registers a handler fired per peer acknowledgement.
func (c *Channel) OnAck(fn AckFunc) { c.onAck = fn }

// OnStatus registers the connection status handler.
func (c *Channel) OnStatus(fn StatusFunc) { c.onStatus = fn }

// Send broadcasts payload to all currently connected clients and returns
// immediately. The caller-assigned id keys the acknowledgement ledger and
// must be unique per logical payload.
func (c *Channel) Send(payload []byte, id uint32) error {
	clients := c.members.ConnectedClients()

	c.mu.Lock()
	if _, dup := c.pending[id]; dup {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d still pending", ErrDuplicateID, id)
	}
	if _, dup := c.completed[id]; dup {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d already completed", ErrDuplicateID, id)
	}
	e := &entry{bytesSent: len(payload), awaiting: make(map[string]struct{}, len(clients))}
	for _, n := range clients {
		e.awaiting[n.ID] = struct{}{}
	}
	if len(e.awaiting) == 0 {
		c.completed[id] = struct{}{}
	} else {
		c.pending[id] = e
	}
	c.mu.Unlock()

	c.log.Debug("transfer queued", "id", id, "bytes", len(payload), "recipients", len(clients))
	go c.sender.Broadcast(transport.Message{Kind: transport.KindTransfer, Seq: id, Payload: payload})
	return nil
}

// IsComplete reports whether every client that was connected when the
// transfer started (and stayed connected) has acknowledged it. Once true
// for an id it stays true.
func (c *Channel) IsComplete(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, done := c.completed[id]
	return done
}

// HandleMessage dispatches transfer traffic from the transport reader.
// Inbound payloads are handed to the application on their own goroutine:
// barrier traffic shares the link, so a slow handler must never stall the
// messages queued behind a bulk payload.
func (c *Channel) HandleMessage(from string, msg transport.Message) {
	switch msg.Kind {
	case transport.KindTransfer:
		go c.deliver(from, msg)
	case transport.KindTransferAck:
		c.ack(msg.Seq, from)
	}
}

func (c *Channel) deliver(from string, msg transport.Message) {
	if c.onReceive != nil {
		c.onReceive(msg.Payload, msg.Seq, from)
	}
	// Acknowledge only after the handler returns, so the sender's
	// completion means the payload was actually delivered.
	if err := c.sender.Send(from, transport.Message{Kind: transport.KindTransferAck, Seq: msg.Seq}); err != nil {
		c.log.Warn("failed to acknowledge transfer", "id", msg.Seq, "to", from, "error", err)
	}
}

// HandlePeerStatus updates the ledger on connect/disconnect. A peer that
// disconnects mid-transfer is dropped from every pending entry so a dead
// node can never block completeness.
func (c *Channel) HandlePeerStatus(nodeID string, connected bool) {
	c.mu.Lock()
	if c.connected[nodeID] == connected {
		c.mu.Unlock()
		return
	}
	c.connected[nodeID] = connected
	var finished []uint32
	if !connected {
		for id, e := range c.pending {
			if _, ok := e.awaiting[nodeID]; ok {
				delete(e.awaiting, nodeID)
				c.log.Warn("peer disconnected mid-transfer, excluding from completeness",
					"id", id, "peer", nodeID)
				if len(e.awaiting) == 0 {
					finished = append(finished, id)
				}
			}
		}
		for _, id := range finished {
			delete(c.pending, id)
			c.completed[id] = struct{}{}
		}
	}
	c.mu.Unlock()

	for _, id := range finished {
		c.log.Info("transfer complete", "id", id)
	}
	if c.onStatus != nil {
		c.onStatus(nodeID, connected)
	}
}

func (c *Channel) ack(id uint32, from string) {
	c.mu.Lock()
	e, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("ack for unknown or completed transfer", "id", id, "from", from)
		return
	}
	delete(e.awaiting, from)
	done := len(e.awaiting) == 0
	if done {
		delete(c.pending, id)
		c.completed[id] = struct{}{}
	}
	c.mu.Unlock()

	if c.onAck != nil {
		c.onAck(id, from)
	}
	if done {
		c.log.Info("transfer complete", "id", id)
	}
}

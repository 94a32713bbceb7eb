// Package coordinator implements the cluster frame barrier that lock-steps
// render loops across nodes. Each frame runs one cycle: the master encodes
// and broadcasts shared state, clients block until they have applied it,
// every node draws, and a post-draw rendezvous holds buffer presentation
// until all connected nodes are ready to swap. A timed-out barrier proceeds
// in degraded mode with the last known state; it never halts the cluster.
package coordinator

import (
	"errors"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hashicorp/go-hclog"

	"framesync/pkg/cluster"
	"framesync/pkg/sharedstate"
	"framesync/pkg/stats"
	"framesync/pkg/transport"
)

// ErrStopped is returned by RunFrame after Stop has been called.
var ErrStopped = errors.New("coordinator: stopped")

// DefaultTimeout is how long a barrier stage waits before proceeding in
// degraded mode.
const DefaultTimeout = 60 * time.Second

// wakePoll bounds how long a barrier wait can miss a wakeup.
const wakePoll = 20 * time.Millisecond

// Callbacks are the application's frame hooks, invoked in strict sequence
// on the frame thread: PreSync, PostSyncPreDraw, Draw, PostDraw. The
// rendezvous after PostDraw gates buffer presentation; when RunFrame
// returns, the application may swap.
type Callbacks struct {
	PreSync         func()
	PostSyncPreDraw func()
	Draw            func()
	PostDraw        func()
}

// HeadSource provides the tracked head transform sampled at the frame
// boundary.
type HeadSource interface {
	HeadTransform() mgl32.Mat4
}

// Config holds the coordinator's sync parameters.
type Config struct {
	// Timeout is the maximum barrier wait per stage. Zero selects
	// DefaultTimeout.
	Timeout time.Duration
	// PrintWaitMessage enables a once-per-second diagnostic while a
	// barrier stage is waiting.
	PrintWaitMessage bool
}

// Coordinator drives the per-frame barrier for one node. RunFrame is
// called from the single frame thread; HandleMessage and HandleStatus are
// called from transport reader goroutines and communicate with the frame
// thread only through the guarded barrier fields. Received state buffers
// are stashed raw; the application decode runs on the frame thread, so
// application codecs never race with Draw.
type Coordinator struct {
	log   hclog.Logger
	nodes *cluster.Manager
	hub   Transport
	state *sharedstate.Channel
	stats *stats.Statistics
	cbs   Callbacks
	head  HeadSource
	view  func(mgl32.Mat4)

	mu           sync.Mutex
	timeout      time.Duration
	printWait    bool
	barrier      BarrierState
	frame        uint32
	pendingFrame uint32
	pendingState []byte
	released     uint32
	ready        map[string]uint32
	stopped      bool

	notify   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Transport is the outbound message surface the coordinator needs. A
// client's only link is the master, so Broadcast serves both roles.
type Transport interface {
	Broadcast(msg transport.Message)
}

// New creates a coordinator. The shared-state channel carries the
// application codec; cbs hooks the application into the frame cycle.
func New(log hclog.Logger, nodes *cluster.Manager, hub Transport, state *sharedstate.Channel, st *stats.Statistics, cfg Config, cbs Callbacks) *Coordinator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		log:       log.Named("coordinator"),
		nodes:     nodes,
		hub:       hub,
		state:     state,
		stats:     st,
		cbs:       cbs,
		timeout:   timeout,
		printWait: cfg.PrintWaitMessage,
		barrier:   Idle,
		ready:     make(map[string]uint32),
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// SetHeadSource wires the tracking sampler's head transform into the frame
// boundary; view receives the composed transform once per frame during the
// pre-sync stage.
func (c *Coordinator) SetHeadSource(src HeadSource, view func(mgl32.Mat4)) {
	c.head = src
	c.view = view
}

// SetSyncParameters adjusts the sync timeout and wait diagnostics.
func (c *Coordinator) SetSyncParameters(printMessage bool, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printWait = printMessage
	if timeout > 0 {
		c.timeout = timeout
	}
}

// Frame returns the number of completed frame cycles.
func (c *Coordinator) Frame() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Barrier returns the barrier's current state.
func (c *Coordinator) Barrier() BarrierState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.barrier
}

// Stop releases any thread blocked in the barrier, as an immediate
// timed-out transition, and prevents further cycles.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.stopCh)
	})
}

// HandleMessage consumes barrier traffic from the transport reader. Only
// fully received messages arrive here.
func (c *Coordinator) HandleMessage(from string, msg transport.Message) {
	switch msg.Kind {
	case transport.KindSyncData:
		// Stash the raw buffer only; the frame thread runs the
		// application decode during its pre-sync wait.
		c.mu.Lock()
		if msg.Seq > c.pendingFrame {
			c.pendingFrame = msg.Seq
			c.pendingState = msg.Payload
		}
		c.mu.Unlock()
		c.wake()
	case transport.KindSwapReady:
		c.nodes.SetLastApplied(from, msg.Seq)
		c.mu.Lock()
		if msg.Seq > c.ready[from] {
			c.ready[from] = msg.Seq
		}
		c.mu.Unlock()
		c.wake()
	case transport.KindSwapRelease:
		c.mu.Lock()
		if msg.Seq > c.released {
			c.released = msg.Seq
		}
		c.mu.Unlock()
		c.wake()
	}
}

// HandleStatus updates the barrier quorum on peer connect/disconnect. A
// peer lost while the barrier is waiting is excluded immediately so the
// remaining peers can still reach Ready.
func (c *Coordinator) HandleStatus(nodeID string, connected bool) {
	if connected {
		role := cluster.RoleClient
		if !c.nodes.IsMaster() {
			role = cluster.RoleMaster
		}
		c.nodes.SetConnected(nodeID, "", role)
	} else {
		c.nodes.SetLost(nodeID)
		c.mu.Lock()
		delete(c.ready, nodeID)
		c.mu.Unlock()
	}
	c.wake()
}

// RunFrame executes one full barrier cycle. The frame counter advances
// exactly once per call whether the cycle ends Ready or TimedOut. The
// caller presents (swaps) after RunFrame returns.
func (c *Coordinator) RunFrame() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.barrier = AwaitingPeers
	local := c.frame
	c.mu.Unlock()

	frameStart := time.Now()
	isMaster := c.nodes.IsMaster()
	timedOut := false

	if c.cbs.PreSync != nil {
		c.cbs.PreSync()
	}
	if c.head != nil && c.view != nil {
		c.view(c.head.HeadTransform())
	}

	// Pre-sync stage: the master freezes and broadcasts this frame's
	// state; clients block until they have applied it.
	syncStart := time.Now()
	frame := local + 1
	if isMaster {
		payload := c.state.Encode(frame)
		c.hub.Broadcast(transport.Message{Kind: transport.KindSyncData, Seq: frame, Payload: payload})
	} else {
		deadline := time.Now().Add(c.waitTimeout())
		tried := local
		applied := false
		for {
			if !c.waitUntil(deadline, frame, "state from master", func() bool {
				return c.pendingFrame > tried
			}) {
				break
			}
			c.mu.Lock()
			pf, payload := c.pendingFrame, c.pendingState
			c.mu.Unlock()
			tried = pf
			// The decode callback runs here, on the frame thread.
			f, err := c.state.Apply(payload)
			if err != nil {
				// Keep rendering with the previous frame's state.
				c.log.Error("discarding frame state", "error", err)
				continue
			}
			// Adopt the master's numbering; this absorbs catch-up after
			// missed frames or a mid-session join.
			frame = f
			applied = true
			break
		}
		if !applied {
			timedOut = true
			c.log.Warn("pre-sync timed out, rendering last known state", "frame", frame)
		}
	}
	syncTime := time.Since(syncStart).Seconds()

	c.setBarrier(barrierOutcome(timedOut))
	if c.cbs.PostSyncPreDraw != nil {
		c.cbs.PostSyncPreDraw()
	}

	drawStart := time.Now()
	if c.cbs.Draw != nil {
		c.cbs.Draw()
	}
	drawTime := time.Since(drawStart).Seconds()
	if c.cbs.PostDraw != nil {
		c.cbs.PostDraw()
	}

	// Post-draw rendezvous: nobody swaps until every connected node is
	// ready, so the installation never shows a torn frame boundary.
	postStart := time.Now()
	if isMaster {
		ok := c.waitUntil(time.Now().Add(c.waitTimeout()), frame, "clients ready to swap", func() bool {
			for _, n := range c.nodes.ConnectedClients() {
				if c.ready[n.ID] < frame {
					return false
				}
			}
			return true
		})
		if !ok {
			timedOut = true
			c.log.Warn("post-draw rendezvous timed out, releasing swap", "frame", frame)
		}
		c.hub.Broadcast(transport.Message{Kind: transport.KindSwapRelease, Seq: frame})
	} else {
		c.hub.Broadcast(transport.Message{Kind: transport.KindSwapReady, Seq: frame})
		ok := c.waitUntil(time.Now().Add(c.waitTimeout()), frame, "swap release from master", func() bool {
			return c.released >= frame
		})
		if !ok {
			timedOut = true
			c.log.Warn("swap release timed out, swapping anyway", "frame", frame)
		}
	}
	syncTime += time.Since(postStart).Seconds()

	if timedOut {
		c.stats.AddMissedSync()
	}

	c.mu.Lock()
	c.frame = frame
	c.barrier = Idle
	stopped := c.stopped
	c.mu.Unlock()

	c.stats.AddFrame(stats.Frame{
		FrameTime: time.Since(frameStart).Seconds(),
		DrawTime:  drawTime,
		SyncTime:  syncTime,
	})
	if stopped {
		return ErrStopped
	}
	return nil
}

// waitUntil blocks until pred holds, deadline passes, or the coordinator
// stops. pred is evaluated with the barrier lock held and must only touch
// guarded fields and small snapshots.
func (c *Coordinator) waitUntil(deadline time.Time, frame uint32, what string, pred func() bool) bool {
	nextPrint := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		ok := pred()
		stopped := c.stopped
		printWait := c.printWait
		c.mu.Unlock()
		if ok {
			return true
		}
		if stopped {
			return false
		}
		now := time.Now()
		if now.After(deadline) {
			return false
		}
		if printWait && now.After(nextPrint) {
			c.log.Info("waiting for "+what, "frame", frame)
			nextPrint = now.Add(time.Second)
		}
		select {
		case <-c.notify:
		case <-c.stopCh:
		case <-time.After(wakePoll):
		}
	}
}

func (c *Coordinator) waitTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *Coordinator) setBarrier(s BarrierState) {
	c.mu.Lock()
	c.barrier = s
	c.mu.Unlock()
}

func (c *Coordinator) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func barrierOutcome(timedOut bool) BarrierState {
	if timedOut {
		return TimedOut
	}
	return Ready
}

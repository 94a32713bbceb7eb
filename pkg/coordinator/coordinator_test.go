package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesync/pkg/cluster"
	"framesync/pkg/sharedstate"
	"framesync/pkg/stats"
	"framesync/pkg/transport"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []transport.Message
}

func (f *fakeTransport) Broadcast(msg transport.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeTransport) kinds() []transport.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Kind, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.Kind
	}
	return out
}

func (f *fakeTransport) last() (transport.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return transport.Message{}, false
	}
	return f.messages[len(f.messages)-1], true
}

func newMasterCoordinator(clients ...string) (*Coordinator, *fakeTransport, *stats.Statistics) {
	nodes := cluster.NewManager(cluster.Config{NodeID: "master", Role: cluster.RoleMaster})
	for _, id := range clients {
		nodes.SetConnected(id, "", cluster.RoleClient)
	}
	hub := &fakeTransport{}
	ch := sharedstate.NewChannel(hclog.NewNullLogger(), func(b *sharedstate.Buffer) {
		b.WriteFloat64(1.0)
	}, nil)
	st := stats.New()
	c := New(hclog.NewNullLogger(), nodes, hub, ch, st, Config{Timeout: 5 * time.Second}, Callbacks{})
	return c, hub, st
}

func newClientCoordinator(decode sharedstate.DecodeFunc) (*Coordinator, *fakeTransport, *stats.Statistics) {
	nodes := cluster.NewManager(cluster.Config{NodeID: "c1", Role: cluster.RoleClient})
	hub := &fakeTransport{}
	ch := sharedstate.NewChannel(hclog.NewNullLogger(), nil, decode)
	st := stats.New()
	c := New(hclog.NewNullLogger(), nodes, hub, ch, st, Config{Timeout: 5 * time.Second}, Callbacks{})
	return c, hub, st
}

func runFrameAsync(c *Coordinator) chan error {
	done := make(chan error, 1)
	go func() { done <- c.RunFrame() }()
	return done
}

func waitErr(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("RunFrame did not return")
		return nil
	}
}

func TestMasterFrameReadyWhenClientsSignal(t *testing.T) {
	c, hub, st := newMasterCoordinator("c1", "c2")

	done := runFrameAsync(c)
	// Both clients finish drawing frame 1.
	c.HandleMessage("c1", transport.Message{Kind: transport.KindSwapReady, Seq: 1})
	c.HandleMessage("c2", transport.Message{Kind: transport.KindSwapReady, Seq: 1})

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, uint32(1), c.Frame())
	assert.Equal(t, Idle, c.Barrier())
	assert.Zero(t, st.MissedSyncs())
	assert.Equal(t, []transport.Kind{transport.KindSyncData, transport.KindSwapRelease}, hub.kinds())

	release, ok := hub.last()
	require.True(t, ok)
	assert.Equal(t, uint32(1), release.Seq)
}

func TestMasterFrameTimesOutOnSilentClient(t *testing.T) {
	c, hub, st := newMasterCoordinator("c1")
	c.SetSyncParameters(false, 100*time.Millisecond)

	start := time.Now()
	require.NoError(t, c.RunFrame())
	elapsed := time.Since(start)

	assert.Equal(t, uint32(1), c.Frame(), "frame counter advances even on timeout")
	assert.Equal(t, uint64(1), st.MissedSyncs())
	assert.Less(t, elapsed, 2*time.Second)
	// The release is still broadcast so a late client is not stranded.
	assert.Equal(t, []transport.Kind{transport.KindSyncData, transport.KindSwapRelease}, hub.kinds())
}

func TestMasterExcludesDisconnectedPeer(t *testing.T) {
	c, _, st := newMasterCoordinator("c1", "c2")

	done := runFrameAsync(c)
	c.HandleMessage("c1", transport.Message{Kind: transport.KindSwapReady, Seq: 1})
	// c2 dies while the barrier is waiting; quorum shrinks to c1.
	c.HandleStatus("c2", false)

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, uint32(1), c.Frame())
	assert.Zero(t, st.MissedSyncs(), "remaining peers still reach Ready")
}

func TestMasterFrameCounterMonotonic(t *testing.T) {
	c, _, _ := newMasterCoordinator("c1")

	for frame := uint32(1); frame <= 3; frame++ {
		done := runFrameAsync(c)
		c.HandleMessage("c1", transport.Message{Kind: transport.KindSwapReady, Seq: frame})
		require.NoError(t, waitErr(t, done))
		assert.Equal(t, frame, c.Frame())
	}
}

func TestClientAppliesStateAndSwaps(t *testing.T) {
	var got float64
	c, hub, st := newClientCoordinator(func(b *sharedstate.Buffer) error {
		v, err := b.ReadFloat64()
		got = v
		return err
	})

	master := sharedstate.NewChannel(hclog.NewNullLogger(), func(b *sharedstate.Buffer) {
		b.WriteFloat64(42.0)
	}, nil)

	done := runFrameAsync(c)
	c.HandleMessage("master", transport.Message{Kind: transport.KindSyncData, Seq: 1, Payload: master.Encode(1)})
	c.HandleMessage("master", transport.Message{Kind: transport.KindSwapRelease, Seq: 1})

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, 42.0, got)
	assert.Equal(t, uint32(1), c.Frame())
	assert.Zero(t, st.MissedSyncs())
	assert.Equal(t, []transport.Kind{transport.KindSwapReady}, hub.kinds())
}

func TestDecodeDeferredToFrameCycle(t *testing.T) {
	decoded := make(chan struct{}, 1)
	c, _, _ := newClientCoordinator(func(b *sharedstate.Buffer) error {
		decoded <- struct{}{}
		_, err := b.ReadFloat64()
		return err
	})

	master := sharedstate.NewChannel(hclog.NewNullLogger(), func(b *sharedstate.Buffer) {
		b.WriteFloat64(1.0)
	}, nil)

	// Delivery alone must not run the application decode; the codec is
	// only ever invoked from the frame cycle.
	c.HandleMessage("master", transport.Message{Kind: transport.KindSyncData, Seq: 1, Payload: master.Encode(1)})
	select {
	case <-decoded:
		t.Fatal("decode ran on message delivery")
	case <-time.After(100 * time.Millisecond):
	}

	done := runFrameAsync(c)
	select {
	case <-decoded:
	case <-time.After(5 * time.Second):
		t.Fatal("decode did not run during the frame cycle")
	}
	c.HandleMessage("master", transport.Message{Kind: transport.KindSwapRelease, Seq: 1})
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, uint32(1), c.Frame())
}

func TestClientTimesOutWithoutMaster(t *testing.T) {
	c, _, st := newClientCoordinator(nil)
	c.SetSyncParameters(false, 100*time.Millisecond)

	require.NoError(t, c.RunFrame())
	assert.Equal(t, uint32(1), c.Frame())
	assert.Equal(t, uint64(1), st.MissedSyncs())
}

func TestClientAdoptsMasterNumberingAfterGap(t *testing.T) {
	c, _, _ := newClientCoordinator(nil)

	master := sharedstate.NewChannel(hclog.NewNullLogger(), nil, nil)

	done := runFrameAsync(c)
	// The client joined late: the first state it sees is frame 7.
	c.HandleMessage("master", transport.Message{Kind: transport.KindSyncData, Seq: 7, Payload: master.Encode(7)})
	c.HandleMessage("master", transport.Message{Kind: transport.KindSwapRelease, Seq: 7})

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, uint32(7), c.Frame())
}

func TestProtocolErrorKeepsWaiting(t *testing.T) {
	c, _, st := newClientCoordinator(nil)
	c.SetSyncParameters(false, 200*time.Millisecond)

	done := runFrameAsync(c)
	// Garbage never advances the applied frame; the barrier times out and
	// the cycle proceeds degraded.
	c.HandleMessage("master", transport.Message{Kind: transport.KindSyncData, Seq: 1, Payload: []byte{1, 2}})

	require.NoError(t, waitErr(t, done))
	assert.Equal(t, uint32(1), c.Frame())
	assert.Equal(t, uint64(1), st.MissedSyncs())
}

func TestStopReleasesBlockedBarrier(t *testing.T) {
	c, _, _ := newMasterCoordinator("c1")

	done := runFrameAsync(c)
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	assert.ErrorIs(t, waitErr(t, done), ErrStopped)
	assert.ErrorIs(t, c.RunFrame(), ErrStopped)
}

func TestCallbackOrder(t *testing.T) {
	nodes := cluster.NewManager(cluster.Config{NodeID: "master", Role: cluster.RoleMaster})
	hub := &fakeTransport{}
	ch := sharedstate.NewChannel(hclog.NewNullLogger(), nil, nil)

	var order []string
	add := func(name string) func() {
		return func() { order = append(order, name) }
	}
	c := New(hclog.NewNullLogger(), nodes, hub, ch, stats.New(), Config{}, Callbacks{
		PreSync:         add("preSync"),
		PostSyncPreDraw: add("postSyncPreDraw"),
		Draw:            add("draw"),
		PostDraw:        add("postDraw"),
	})

	require.NoError(t, c.RunFrame())
	assert.Equal(t, []string{"preSync", "postSyncPreDraw", "draw", "postDraw"}, order)
}

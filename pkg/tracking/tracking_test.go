package tracking

import (
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateTrackerRejected(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	first := m.AddTracker("vrpn")
	second := m.AddTracker("vrpn")
	assert.Same(t, first, second)
	assert.Len(t, m.Trackers(), 1)
}

func TestUnknownSensorIsNoop(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	tr := m.AddTracker("vrpn")
	d := tr.AddDevice("wand")
	d.SetSensorID(0)

	tr.HandlePose(99, mgl32.Vec3{1, 2, 3}, mgl32.QuatIdent())
	assert.Equal(t, mgl32.Vec3{}, d.Snapshot().Position)
}

func TestDisabledDeviceIgnoresUpdates(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	tr := m.AddTracker("vrpn")
	d := tr.AddDevice("wand")
	d.SetSensorID(0)
	d.SetButtonCount(2)
	d.SetEnabled(false)

	tr.HandlePose(0, mgl32.Vec3{1, 2, 3}, mgl32.QuatIdent())
	d.SetButton(0, true)

	s := d.Snapshot()
	assert.Equal(t, mgl32.Vec3{}, s.Position)
	assert.False(t, s.Buttons[0])
}

func TestButtonAndAxisRangeChecks(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	d := m.AddTracker("vrpn").AddDevice("wand")
	d.SetButtonCount(2)
	d.SetAxisCount(1)

	d.SetButton(5, true) // unmapped, must be ignored
	d.SetAxis(-1, 0.5)
	d.SetButton(1, true)
	d.SetAxis(0, 0.25)

	assert.True(t, d.Button(1))
	assert.False(t, d.Button(5))
	assert.Equal(t, 0.25, d.Axis(0))
	assert.Zero(t, d.Axis(3))
}

func TestTrackerScaleAppliedToPose(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	tr := m.AddTracker("vrpn")
	tr.SetScale(2)
	d := tr.AddDevice("head")
	d.SetSensorID(1)

	tr.HandlePose(1, mgl32.Vec3{1, 0, 3}, mgl32.QuatIdent())
	assert.Equal(t, mgl32.Vec3{2, 0, 6}, d.Snapshot().Position)
}

func TestHeadTransformComposition(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	tr := m.AddTracker("vrpn")
	tr.SetOffset(mgl32.Vec3{0, 1, 0})
	d := tr.AddDevice("head")
	d.SetSensorID(0)
	m.SetHeadBinding(HeadBinding{Tracker: "vrpn", Device: "head"})

	require.NoError(t, m.Start())
	defer m.Stop()

	tr.HandlePose(0, mgl32.Vec3{1, 0, 0}, mgl32.QuatIdent())

	world := m.HeadTransform()
	pos := mgl32.TransformCoordinate(mgl32.Vec3{0, 0, 0}, world)
	assert.InDelta(t, 1, pos.X(), 1e-5)
	assert.InDelta(t, 1, pos.Y(), 1e-5)
	assert.InDelta(t, 0, pos.Z(), 1e-5)
}

func TestHeadTransformIdentityWithoutBinding(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	assert.Equal(t, mgl32.Ident4(), m.HeadTransform())
}

func TestStartWithUnresolvableHeadBinding(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	m.AddTracker("vrpn")
	m.SetHeadBinding(HeadBinding{Tracker: "vrpn", Device: "missing"})
	assert.Error(t, m.Start())
	assert.False(t, m.Running())
}

func TestStartNoopWithoutTrackers(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	require.NoError(t, m.Start())
	assert.False(t, m.Running())
	m.Stop() // must be safe when never started
}

func TestSamplingLoopPollsAndStops(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), time.Millisecond)
	m.AddTracker("vrpn").AddDevice("wand")

	var mu sync.Mutex
	polls := 0
	m.RegisterBackend(FuncBackend(func() error {
		mu.Lock()
		polls++
		mu.Unlock()
		return nil
	}))

	require.NoError(t, m.Start())
	assert.True(t, m.Running())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := polls
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not join the sampling loop in time")
	}
	assert.False(t, m.Running())
	assert.Greater(t, m.SamplingTime(), 0.0)

	mu.Lock()
	final := polls
	mu.Unlock()
	assert.GreaterOrEqual(t, final, 3)
}

// TestSnapshotNeverTorn hammers a device with poses whose fields are all
// derived from one counter; any snapshot mixing two polls would show
// mismatched components.
func TestSnapshotNeverTorn(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), 0)
	tr := m.AddTracker("vrpn")
	d := tr.AddDevice("head")
	d.SetSensorID(0)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v := float32(0)
		for {
			select {
			case <-stop:
				return
			default:
			}
			v++
			tr.HandlePose(0, mgl32.Vec3{v, v, v}, mgl32.QuatIdent())
		}
	}()

	for i := 0; i < 10000; i++ {
		s := d.Snapshot()
		p := s.Position
		if p.X() != p.Y() || p.Y() != p.Z() {
			t.Fatalf("torn snapshot: %v", p)
		}
	}
	close(stop)
	wg.Wait()
}

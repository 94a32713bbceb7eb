package tracking

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/hashicorp/go-hclog"
)

// DefaultSampleInterval is the pause between sampling passes so the loop
// does not monopolize a core.
const DefaultSampleInterval = time.Millisecond

// HeadBinding names the tracker and device that drive the user's view
// transform. It is resolved into a direct device handle when sampling
// starts.
type HeadBinding struct {
	Tracker string
	Device  string
}

// Manager owns the trackers and the background sampling loop. The loop
// polls every registered backend once per pass, records the pass duration
// as the current sampling latency, then sleeps for the configured interval.
// Tracking is optional: with no trackers configured, Start is a no-op.
type Manager struct {
	log      hclog.Logger
	interval time.Duration

	mu           sync.Mutex
	trackers     []*Tracker
	byName       map[string]*Tracker
	backends     []Backend
	binding      HeadBinding
	head         *Device
	headTracker  *Tracker
	running      bool
	samplingTime float64

	stopCh chan struct{}
	done   chan struct{}
}

// NewManager creates a sampling manager. A non-positive interval selects
// DefaultSampleInterval.
func NewManager(log hclog.Logger, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Manager{
		log:      log.Named("tracking"),
		interval: interval,
		byName:   make(map[string]*Tracker),
	}
}

// AddTracker registers a tracker. A duplicate name is rejected with a
// warning and the existing tracker is returned.
func (m *Manager) AddTracker(name string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byName[name]; ok {
		m.log.Warn("tracker already exists", "name", name)
		return t
	}
	t := newTracker(name)
	m.trackers = append(m.trackers, t)
	m.byName[name] = t
	m.log.Info("tracker added", "name", name)
	return t
}

// Tracker looks a tracker up by name.
func (m *Manager) Tracker(name string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byName[name]
}

// Trackers returns the trackers in registration order.
func (m *Manager) Trackers() []*Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tracker, len(m.trackers))
	copy(out, m.trackers)
	return out
}

// RegisterBackend adds a hardware backend to the sampling loop.
func (m *Manager) RegisterBackend(b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends = append(m.backends, b)
}

// SetHeadBinding names the device that drives the user's view transform.
func (m *Manager) SetHeadBinding(b HeadBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binding = b
}

// SetEnabled enables or disables every device on every tracker.
func (m *Manager) SetEnabled(state bool) {
	for _, t := range m.Trackers() {
		t.SetEnabled(state)
	}
}

// Start resolves the head binding and spawns the sampling loop. It is a
// no-op when no trackers are configured. An unresolvable head binding is
// reported as an error because the view would silently never update.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	if len(m.trackers) == 0 {
		m.log.Debug("no trackers configured, sampling disabled")
		return nil
	}
	if len(m.backends) == 0 {
		m.log.Warn("no tracking backends available, devices will hold their last pose")
	}

	if m.binding.Tracker != "" || m.binding.Device != "" {
		tr := m.byName[m.binding.Tracker]
		if tr != nil {
			m.head = tr.Device(m.binding.Device)
			m.headTracker = tr
		}
		if m.head == nil {
			return fmt.Errorf("tracking: failed to bind head device %s@%s",
				m.binding.Device, m.binding.Tracker)
		}
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stopCh, m.done)
	m.log.Info("sampling started", "trackers", len(m.trackers), "interval", m.interval)
	return nil
}

// Stop terminates the sampling loop and joins it. The loop observes the
// stop signal within one iteration, so termination is deterministic.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, done := m.stopCh, m.done
	m.mu.Unlock()

	close(stopCh)
	<-done
	m.log.Debug("sampling stopped")
}

// Running reports whether the sampling loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SamplingTime returns the duration of the last full sampling pass in
// seconds.
func (m *Manager) SamplingTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samplingTime
}

// HeadDevice returns the resolved head device, nil before Start or when no
// binding is configured.
func (m *Manager) HeadDevice() *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head
}

// HeadTransform returns the composed world transform of the bound head
// device for the render-side view update. Called once per frame from the
// frame thread; it only takes the short device locks and never waits on
// the sampling loop. Identity when tracking is absent or unbound.
func (m *Manager) HeadTransform() mgl32.Mat4 {
	m.mu.Lock()
	head, tracker := m.head, m.headTracker
	m.mu.Unlock()
	if head == nil || tracker == nil {
		return mgl32.Ident4()
	}
	return tracker.WorldTransform(head)
}

func (m *Manager) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		start := time.Now()

		m.mu.Lock()
		backends := make([]Backend, len(m.backends))
		copy(backends, m.backends)
		m.mu.Unlock()

		for _, b := range backends {
			if err := b.Poll(); err != nil {
				m.log.Debug("backend poll failed", "error", err)
			}
		}

		m.mu.Lock()
		m.samplingTime = time.Since(start).Seconds()
		m.mu.Unlock()

		select {
		case <-stopCh:
			return
		case <-time.After(m.interval):
		}
	}
}

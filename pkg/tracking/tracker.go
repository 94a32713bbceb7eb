package tracking

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// Tracker is a named collection of devices sharing an aggregate scale,
// offset, and transform that composes with each device's own transform.
type Tracker struct {
	name string

	mu        sync.Mutex
	devices   []*Device
	byName    map[string]*Device
	bySensor  map[int]*Device
	scale     float64
	offset    mgl32.Vec3
	transform mgl32.Mat4
}

func newTracker(name string) *Tracker {
	return &Tracker{
		name:      name,
		byName:    make(map[string]*Device),
		bySensor:  make(map[int]*Device),
		scale:     1.0,
		transform: mgl32.Ident4(),
	}
}

// Name returns the tracker name.
func (t *Tracker) Name() string { return t.name }

// AddDevice registers a device on this tracker and returns it.
func (t *Tracker) AddDevice(name string) *Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := newDevice(name)
	t.devices = append(t.devices, d)
	t.byName[name] = d
	return d
}

// Device looks a device up by name.
func (t *Tracker) Device(name string) *Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byName[name]
}

// DeviceBySensor looks a device up by its hardware sensor id.
func (t *Tracker) DeviceBySensor(id int) *Device {
	t.mu.Lock()
	if d, ok := t.bySensor[id]; ok {
		t.mu.Unlock()
		return d
	}
	devices := t.devices
	t.mu.Unlock()
	for _, d := range devices {
		if d.SensorID() == id {
			t.mu.Lock()
			t.bySensor[id] = d
			t.mu.Unlock()
			return d
		}
	}
	return nil
}

// Devices returns the devices in registration order.
func (t *Tracker) Devices() []*Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Device, len(t.devices))
	copy(out, t.devices)
	return out
}

// SetScale sets the aggregate position scale.
func (t *Tracker) SetScale(scale float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if scale > 0 {
		t.scale = scale
	}
}

// Scale returns the aggregate position scale.
func (t *Tracker) Scale() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scale
}

// SetOffset sets the aggregate offset.
func (t *Tracker) SetOffset(offset mgl32.Vec3) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = offset
}

// SetTransform sets the aggregate transform.
func (t *Tracker) SetTransform(m mgl32.Mat4) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transform = m
}

// SetEnabled enables or disables every device on the tracker.
func (t *Tracker) SetEnabled(state bool) {
	for _, d := range t.Devices() {
		d.SetEnabled(state)
	}
}

// HandlePose routes a sensor pose update to the matching device, applying
// the tracker scale. An update for an unknown or disabled sensor is a
// no-op, not an error.
func (t *Tracker) HandlePose(sensorID int, position mgl32.Vec3, orientation mgl32.Quat) {
	d := t.DeviceBySensor(sensorID)
	if d == nil || !d.Enabled() {
		return
	}
	scale := float32(t.Scale())
	d.SetPose(position.Mul(scale), orientation)
}

// WorldTransform composes the tracker's aggregate transform, offset, and
// scale with the given device's own transform.
func (t *Tracker) WorldTransform(d *Device) mgl32.Mat4 {
	t.mu.Lock()
	transform := t.transform
	offset := t.offset
	scale := float32(t.scale)
	t.mu.Unlock()
	offsetMat := mgl32.Translate3D(offset.X(), offset.Y(), offset.Z())
	scaleMat := mgl32.Scale3D(scale, scale, scale)
	return transform.Mul4(offsetMat).Mul4(scaleMat).Mul4(d.WorldTransform())
}

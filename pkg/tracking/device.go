// Package tracking feeds live pose, button, and axis data from tracking
// hardware into the frame boundary. A background sampling loop polls the
// configured backends; the render thread reads lock-guarded snapshots that
// are never torn between two sampling passes.
package tracking

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// Sample is an immutable snapshot of one device at a sampling instant.
type Sample struct {
	Position    mgl32.Vec3
	Orientation mgl32.Quat
	Buttons     []bool
	Axes        []float64
	Time        time.Time
}

// Device is one tracked input device. The sampling thread is the only
// writer; the render thread reads through Snapshot and WorldTransform. The
// mutex is held only for single reads or writes of the small state.
type Device struct {
	name     string
	sensorID int

	mu          sync.Mutex
	enabled     bool
	position    mgl32.Vec3
	orientation mgl32.Quat
	buttons     []bool
	axes        []float64
	sampleTime  time.Time
	offset      mgl32.Vec3
	transform   mgl32.Mat4
}

func newDevice(name string) *Device {
	return &Device{
		name:        name,
		sensorID:    -1,
		enabled:     true,
		orientation: mgl32.QuatIdent(),
		transform:   mgl32.Ident4(),
	}
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// SensorID returns the hardware sensor id, or -1 if none is assigned.
func (d *Device) SensorID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sensorID
}

// SetSensorID assigns the hardware sensor id used to route pose updates.
func (d *Device) SetSensorID(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensorID = id
}

// Enabled reports whether the device participates in sampling.
func (d *Device) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetEnabled enables or disables the device.
func (d *Device) SetEnabled(state bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = state
}

// SetButtonCount sizes the button state.
func (d *Device) SetButtonCount(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buttons = make([]bool, n)
}

// SetAxisCount sizes the axis state.
func (d *Device) SetAxisCount(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.axes = make([]float64, n)
}

// SetOffset sets the calibration offset applied at read time.
func (d *Device) SetOffset(offset mgl32.Vec3) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offset = offset
}

// SetTransform sets the local calibration transform applied at read time.
func (d *Device) SetTransform(t mgl32.Mat4) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transform = t
}

// SetPose records a new sensor pose. Sampling thread only. Both fields are
// written under one lock acquisition so a concurrent reader never observes
// a position from one poll paired with an orientation from another.
func (d *Device) SetPose(position mgl32.Vec3, orientation mgl32.Quat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return
	}
	d.position = position
	d.orientation = orientation
	d.sampleTime = time.Now()
}

// SetButton records a button state change. An out-of-range index is a
// no-op, not an error: hardware may report buttons the config never mapped.
func (d *Device) SetButton(index int, pressed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled || index < 0 || index >= len(d.buttons) {
		return
	}
	d.buttons[index] = pressed
}

// SetAxis records an axis value change. Out-of-range indices are no-ops.
func (d *Device) SetAxis(index int, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled || index < 0 || index >= len(d.axes) {
		return
	}
	d.axes[index] = value
}

// Snapshot returns a copy of the device's current state.
func (d *Device) Snapshot() Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Sample{
		Position:    d.position,
		Orientation: d.orientation,
		Time:        d.sampleTime,
	}
	if len(d.buttons) > 0 {
		s.Buttons = make([]bool, len(d.buttons))
		copy(s.Buttons, d.buttons)
	}
	if len(d.axes) > 0 {
		s.Axes = make([]float64, len(d.axes))
		copy(s.Axes, d.axes)
	}
	return s
}

// Button returns one button's state, false when unmapped.
func (d *Device) Button(index int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.buttons) {
		return false
	}
	return d.buttons[index]
}

// Axis returns one axis value, zero when unmapped.
func (d *Device) Axis(index int) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.axes) {
		return 0
	}
	return d.axes[index]
}

// WorldTransform composes the calibration transform, offset, and latest
// sensor pose into the device's transform.
func (d *Device) WorldTransform() mgl32.Mat4 {
	d.mu.Lock()
	defer d.mu.Unlock()
	pose := mgl32.Translate3D(d.position.X(), d.position.Y(), d.position.Z()).
		Mul4(d.orientation.Mat4())
	offset := mgl32.Translate3D(d.offset.X(), d.offset.Y(), d.offset.Z())
	return d.transform.Mul4(offset).Mul4(pose)
}

package main

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"framesync/pkg/sharedstate"
)

// appState is the sample application carried by the daemon: a clock, a
// clear color, and a size factor steerable over the external control
// channel. It stands in for the rendering application the library is
// normally embedded in.
//
// The frame thread reads and writes it between barrier stages; the control
// reader mutates it from its own goroutine, hence the mutex.
type appState struct {
	mu sync.Mutex

	start      time.Time
	now        float64
	sizeFactor float32
	showGraph  bool
	clearColor [4]float32

	viewTransform mgl32.Mat4
}

func newAppState() *appState {
	return &appState{
		start:         time.Now(),
		sizeFactor:    0.5,
		clearColor:    [4]float32{0, 0, 0, 1},
		viewTransform: mgl32.Ident4(),
	}
}

// advance is the master's pre-sync step: freeze the clock for this frame.
func (a *appState) advance() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = time.Since(a.start).Seconds()
}

func (a *appState) encode(buf *sharedstate.Buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf.WriteFloat64(a.now)
	buf.WriteFloat32(a.sizeFactor)
	buf.WriteBool(a.showGraph)
	for _, c := range a.clearColor {
		buf.WriteFloat32(c)
	}
}

func (a *appState) decode(buf *sharedstate.Buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.now, err = buf.ReadFloat64(); err != nil {
		return err
	}
	if a.sizeFactor, err = buf.ReadFloat32(); err != nil {
		return err
	}
	if a.showGraph, err = buf.ReadBool(); err != nil {
		return err
	}
	for i := range a.clearColor {
		if a.clearColor[i], err = buf.ReadFloat32(); err != nil {
			return err
		}
	}
	return nil
}

// draw stands in for the node's render pass.
func (a *appState) draw() {
	time.Sleep(16 * time.Millisecond)
}

func (a *appState) setViewTransform(m mgl32.Mat4) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.viewTransform = m
}

// handleControl interprets external control messages on the master:
// "size <percent>" rescales the scene, "graph 0|1" toggles the stats
// overlay, "clear r g b a" changes the clear color.
func (a *appState) handleControl(msg string) {
	fields := strings.Fields(msg)
	if len(fields) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch fields[0] {
	case "size":
		if len(fields) == 2 {
			if pct, err := strconv.Atoi(fields[1]); err == nil {
				a.sizeFactor = float32(pct) / 100
			}
		}
	case "graph":
		if len(fields) == 2 {
			a.showGraph = fields[1] == "1"
		}
	case "clear":
		if len(fields) == 5 {
			var c [4]float32
			for i := 0; i < 4; i++ {
				v, err := strconv.ParseFloat(fields[i+1], 32)
				if err != nil {
					return
				}
				c[i] = float32(v)
			}
			a.clearColor = c
		}
	}
}

package stats

import (
	"sync"
)

// HistoryLength is the number of frames kept in the timing history.
const HistoryLength = 128

// Frame holds the timings gathered over a single frame, in seconds.
type Frame struct {
	FrameTime float64
	DrawTime  float64
	SyncTime  float64
}

// Statistics collects per-frame timing history and sync health counters.
// The render thread writes once per frame; the diagnostics endpoint reads
// concurrently, so all access goes through the mutex. The newest sample is
// always at index head-1.
type Statistics struct {
	mu sync.Mutex

	frameTimes [HistoryLength]float64
	drawTimes  [HistoryLength]float64
	syncTimes  [HistoryLength]float64

	head  int
	count int

	missedSyncs     uint64
	samplingLatency float64
}

func New() *Statistics {
	return &Statistics{}
}

// AddFrame records the timings of one completed frame cycle.
func (s *Statistics) AddFrame(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameTimes[s.head] = f.FrameTime
	s.drawTimes[s.head] = f.DrawTime
	s.syncTimes[s.head] = f.SyncTime
	s.head = (s.head + 1) % HistoryLength
	if s.count < HistoryLength {
		s.count++
	}
}

// Dt returns the most recent frame time (delta time) in seconds.
func (s *Statistics) Dt() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return s.frameTimes[s.latestLocked()]
}

// AvgDt returns the average frame time over the recorded window.
func (s *Statistics) AvgDt() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < s.count; i++ {
		sum += s.frameTimes[i]
	}
	return sum / float64(s.count)
}

// MinDt returns the minimum frame time in the recorded window.
func (s *Statistics) MinDt() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	min := s.frameTimes[0]
	for i := 1; i < s.count; i++ {
		if s.frameTimes[i] < min {
			min = s.frameTimes[i]
		}
	}
	return min
}

// MaxDt returns the maximum frame time in the recorded window.
func (s *Statistics) MaxDt() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	max := s.frameTimes[0]
	for i := 1; i < s.count; i++ {
		if s.frameTimes[i] > max {
			max = s.frameTimes[i]
		}
	}
	return max
}

// LastSyncTime returns the most recent sync wait time in seconds.
func (s *Statistics) LastSyncTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return s.syncTimes[s.latestLocked()]
}

// LastDrawTime returns the most recent draw time in seconds.
func (s *Statistics) LastDrawTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return s.drawTimes[s.latestLocked()]
}

// AddMissedSync increments the count of barrier cycles that timed out.
func (s *Statistics) AddMissedSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missedSyncs++
}

// MissedSyncs returns the number of barrier cycles that ended in a timeout.
func (s *Statistics) MissedSyncs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missedSyncs
}

// SetSamplingLatency records the duration of the last tracking sampling pass.
func (s *Statistics) SetSamplingLatency(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samplingLatency = seconds
}

// SamplingLatency returns the duration of the last tracking sampling pass.
func (s *Statistics) SamplingLatency() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samplingLatency
}

func (s *Statistics) latestLocked() int {
	return (s.head - 1 + HistoryLength) % HistoryLength
}

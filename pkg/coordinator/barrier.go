package coordinator

// BarrierState describes where the frame barrier currently is in its
// per-frame cycle.
type BarrierState int32

const (
	// Idle means no frame cycle is in progress.
	Idle BarrierState = iota
	// AwaitingPeers means the barrier is waiting for peer signals.
	AwaitingPeers
	// Ready means all required peers reported in before the timeout.
	Ready
	// TimedOut means the timeout elapsed first; the cycle proceeds in
	// degraded mode with the last known state.
	TimedOut
)

func (s BarrierState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPeers:
		return "awaiting-peers"
	case Ready:
		return "ready"
	case TimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

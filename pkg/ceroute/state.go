package ceroute

// State is the lifecycle state of a Kernel.
//
//	Initializing -> Running <-> Reconfiguring
//	      |            |
//	      +------> ShuttingDown -> Stopped
type State int32

const (
	// StateInitializing means no snapshot has been applied yet.
	StateInitializing State = iota
	// StateRunning means the kernel is brokering events.
	StateRunning
	// StateReconfiguring means a snapshot is being applied. Intake waits in
	// the port channels until it completes.
	StateReconfiguring
	// StateShuttingDown means the kernel is draining pending batches.
	StateShuttingDown
	// StateStopped is terminal: every port has been stopped.
	StateStopped
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateReconfiguring:
		return "reconfiguring"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

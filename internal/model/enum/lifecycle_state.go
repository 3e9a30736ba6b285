package enum

// LifecycleState tracks an ingestion channel through its lifecycle.
type LifecycleState uint8

const (
	LifecycleCreated LifecycleState = iota
	LifecycleStarting
	LifecycleRunning
	LifecycleReconnecting
	LifecycleStopping
	LifecycleStopped
	LifecycleFaulted
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleCreated:
		return "created"
	case LifecycleStarting:
		return "starting"
	case LifecycleRunning:
		return "running"
	case LifecycleReconnecting:
		return "reconnecting"
	case LifecycleStopping:
		return "stopping"
	case LifecycleStopped:
		return "stopped"
	case LifecycleFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state only leaves via an explicit Start.
func (s LifecycleState) IsTerminal() bool {
	return s == LifecycleStopped || s == LifecycleFaulted
}

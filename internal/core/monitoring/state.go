// Package monitoring derives the state of an instance from what the
// container runtime reports. It contains no I/O.
package monitoring

// Instance states.
const (
	StateRunning     = "running"      // every container is running
	StateDegraded    = "degraded"     // some containers are running
	StateStopped     = "stopped"      // no container is running
	StateNotDeployed = "not deployed" // the namespace has no containers
	StateUnknown     = "unknown"      // the runtime could not be asked
)

// containerRunning is the runtime state of a running container.
const containerRunning = "running"

// AggregateState determines the instance state from the runtime states of its
// containers ("running", "exited", "restarting", ...).
func AggregateState(containerStates []string) string {
	if len(containerStates) == 0 {
		return StateNotDeployed
	}

	running := 0
	for _, s := range containerStates {
		if s == containerRunning {
			running++
		}
	}

	switch running {
	case len(containerStates):
		return StateRunning
	case 0:
		return StateStopped
	default:
		return StateDegraded
	}
}

// Healthy reports whether state needs no operator attention.
func Healthy(state string) bool {
	return state == StateRunning
}

// Package lifecycle runs the EzSecurity service process: a validated state
// machine, start and stop hooks, long-running tasks, and dependency health
// checks.
//
// The lifecycle of a healthy service is:
//
//	Created → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may move to Failed. Both terminal states (Stopped,
// Failed) may move back to Starting for a restart.
//
// State is guarded by a [sync.RWMutex]; every method on [Service] is safe
// for concurrent use. Start and Stop create OpenTelemetry spans under the
// "github.com/StricklySoft/ezsecurity/pkg/lifecycle" scope.
package lifecycle

// State is the lifecycle state of a [Service].
//
// The zero value ("") is not a valid state; services are built in
// [StateCreated].
type State string

const (
	// StateCreated is the state of a service that has been built but never
	// started.
	StateCreated State = "created"

	// StateStarting is set before the OnStart hook runs.
	StateStarting State = "starting"

	// StateRunning is the only state in which [Service.Health] can succeed.
	StateRunning State = "running"

	// StateStopping is set before the OnStop hook runs.
	StateStopping State = "stopping"

	// StateStopped is terminal after a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed is terminal after a hook or task error.
	StateFailed State = "failed"
)

// validTransitions maps each state to the states it may move to.
var validTransitions = map[State][]State{
	StateCreated:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// ValidTransition reports whether a service may move from one state to
// another. Self-transitions are never valid.
func ValidTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

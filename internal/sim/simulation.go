package sim

import (
	"errors"

	"github.com/mojoee/Abmarl/internal/space"
)

// ErrConfiguration marks an agent or space that is structurally
// incompatible with a wrapper. It is returned from constructors and is
// never retried.
var ErrConfiguration = errors.New("configuration error")

// Simulation is the surface wrappers and the episode runner drive.
// Observation values are points of the agent's ObservationSpace and actions
// are points of its ActionSpace, as seen through Agents().
type Simulation interface {
	Reset() error
	Step(actions map[AgentID]space.Value) error
	Observation(id AgentID) (space.Value, error)
	Reward(id AgentID) float64
	Done(id AgentID) bool
	AllDone() bool
	Info(id AgentID) map[string]any
	Agents() map[AgentID]*Agent
}

// Unwrapped follows the wrapper chain to the innermost simulation.
func Unwrapped(s Simulation) Simulation {
	for {
		w, ok := s.(interface{ Wrapped() Simulation })
		if !ok {
			return s
		}
		s = w.Wrapped()
	}
}

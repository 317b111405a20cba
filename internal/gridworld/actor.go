package gridworld

import (
	"fmt"

	"github.com/mojoee/Abmarl/internal/geom"
	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/sim/wrappers"
	"github.com/mojoee/Abmarl/internal/space"
)

// Actor handles one named channel of an agent's action.
type Actor interface {
	Key() string
	Supports(a *sim.Agent) bool
	// ProcessAction applies the actor's channel of action to a. It reports
	// whether anything changed; unsupported agents are a no-op.
	ProcessAction(a *sim.Agent, action map[string]space.Value) (bool, error)
}

func registerChannel(a *sim.Agent, key string, s space.Space) {
	if d, ok := a.ActionSpace.(*space.Dict); ok {
		a.ActionSpace = d.With(key, s)
		return
	}
	a.ActionSpace = space.NewDict(space.Entry{Name: key, Space: s})
}

// MoveActor moves an agent by an integer offset bounded by its move range.
// Moves off the grid or onto an occupied cell are ignored.
type MoveActor struct {
	grid *Grid
}

// NewMoveActor adds the "move" channel to every supporting agent.
func NewMoveActor(grid *Grid, agents map[sim.AgentID]*sim.Agent) *MoveActor {
	m := &MoveActor{grid: grid}
	for _, id := range sim.SortedIDs(agents) {
		if a := agents[id]; m.Supports(a) {
			registerChannel(a, m.Key(), moveSpace(a))
		}
	}
	return m
}

func moveSpace(a *sim.Agent) *space.Box {
	r := float64(a.MoveRange)
	return space.UniformBox(-r, r, space.Int, 2)
}

func (m *MoveActor) Key() string { return "move" }

func (m *MoveActor) Supports(a *sim.Agent) bool {
	return a.Has(sim.CapAct|sim.CapPosition) && a.MoveRange > 0
}

func (m *MoveActor) ProcessAction(a *sim.Agent, action map[string]space.Value) (bool, error) {
	if !m.Supports(a) {
		return false, nil
	}
	v, ok := action[m.Key()]
	if !ok {
		return false, nil
	}
	d, err := space.Flatten(moveSpace(a), v)
	if err != nil {
		return false, fmt.Errorf("move %s: %w", a.ID, err)
	}
	to := a.Pos.Add(geom.Pos{R: int(d[0]), C: int(d[1])})
	if !m.grid.Move(a.Pos, to) {
		return false, nil
	}
	a.Pos = to
	return true, nil
}

// ActorWrapper presents one actor's channel to agents through a space
// wrapper. Incoming points are unwrapped before the inner actor sees them.
type ActorWrapper struct {
	actor   Actor
	wrapper wrappers.SpaceWrapper
	spaces  map[sim.AgentID]space.Space
}

// NewActorWrapper replaces the channel space of every agent the actor
// supports. An agent whose channel the wrapper cannot handle is a
// configuration error.
func NewActorWrapper(actor Actor, w wrappers.SpaceWrapper, agents map[sim.AgentID]*sim.Agent) (*ActorWrapper, error) {
	aw := &ActorWrapper{actor: actor, wrapper: w, spaces: make(map[sim.AgentID]space.Space)}
	key := actor.Key()
	for _, id := range sim.SortedIDs(agents) {
		a := agents[id]
		if !actor.Supports(a) {
			continue
		}
		d, ok := a.ActionSpace.(*space.Dict)
		if !ok {
			return nil, fmt.Errorf("%w: agent %s has no action channels", sim.ErrConfiguration, id)
		}
		ch, ok := d.Get(key)
		if !ok {
			return nil, fmt.Errorf("%w: agent %s has no %q channel", sim.ErrConfiguration, id, key)
		}
		if !w.CheckSpace(ch) {
			return nil, fmt.Errorf("%w: agent %s channel %q: %s cannot be wrapped", sim.ErrConfiguration, id, key, ch)
		}
		ws, err := w.WrapSpace(ch)
		if err != nil {
			return nil, fmt.Errorf("%w: agent %s channel %q: %v", sim.ErrConfiguration, id, key, err)
		}
		a.ActionSpace = d.With(key, ws)
		aw.spaces[id] = ws
	}
	return aw, nil
}

func (w *ActorWrapper) Wrapped() Actor              { return w.actor }
func (w *ActorWrapper) Key() string                 { return w.actor.Key() }
func (w *ActorWrapper) Supports(a *sim.Agent) bool { return w.actor.Supports(a) }

func (w *ActorWrapper) ProcessAction(a *sim.Agent, action map[string]space.Value) (bool, error) {
	if !w.actor.Supports(a) {
		return false, nil
	}
	key := w.actor.Key()
	v, ok := action[key]
	if !ok {
		return w.actor.ProcessAction(a, action)
	}
	ws, ok := w.spaces[a.ID]
	if !ok {
		return false, fmt.Errorf("%s: agent %s was not registered with the wrapper", key, a.ID)
	}
	inner, err := w.wrapper.UnwrapPoint(ws, v)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", key, a.ID, err)
	}
	forwarded := make(map[string]space.Value, len(action))
	for k, x := range action {
		forwarded[k] = x
	}
	forwarded[key] = inner
	return w.actor.ProcessAction(a, forwarded)
}

// UnwrappedActor follows actor wrappers down to the base actor.
func UnwrappedActor(a Actor) Actor {
	for {
		w, ok := a.(interface{ Wrapped() Actor })
		if !ok {
			return a
		}
		a = w.Wrapped()
	}
}

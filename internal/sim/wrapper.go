package sim

import (
	"fmt"
	"sort"

	"github.com/mojoee/Abmarl/internal/space"
)

// ValueFunc transforms one agent's observation or action. The agent passed
// in is the inner simulation's view of it, so its spaces are the unwrapped
// ones.
type ValueFunc func(a *Agent, v space.Value) (space.Value, error)

type RewardFunc func(a *Agent, r float64) float64

type SpaceFunc func(a *Agent) (space.Space, error)

// Hooks is the set of optional transforms a SAR wrapper applies. A nil
// field is the identity.
type Hooks struct {
	Name string

	ObservationSpace SpaceFunc
	ActionSpace      SpaceFunc

	WrapObservation   ValueFunc
	UnwrapObservation ValueFunc
	WrapAction        ValueFunc
	UnwrapAction      ValueFunc
	WrapReward        RewardFunc
	UnwrapReward      RewardFunc
}

// Wrapper exposes the Simulation surface of the simulation it owns while
// translating observations, actions and rewards through its hooks.
type Wrapper struct {
	inner Simulation
	hooks Hooks

	obsSpaces map[AgentID]space.Space
	actSpaces map[AgentID]space.Space
}

// Wrap stacks one wrapper per hook set around inner. The first hook set is
// applied closest to inner; the last one is what callers see.
func Wrap(inner Simulation, hooks ...Hooks) (*Wrapper, error) {
	if len(hooks) == 0 {
		hooks = []Hooks{{Name: "identity"}}
	}
	var w *Wrapper
	cur := inner
	for _, h := range hooks {
		next, err := wrapOne(cur, h)
		if err != nil {
			return nil, err
		}
		w, cur = next, next
	}
	return w, nil
}

func wrapOne(inner Simulation, h Hooks) (*Wrapper, error) {
	agents := inner.Agents()
	w := &Wrapper{
		inner:     inner,
		hooks:     h,
		obsSpaces: make(map[AgentID]space.Space, len(agents)),
		actSpaces: make(map[AgentID]space.Space, len(agents)),
	}
	for _, id := range SortedIDs(agents) {
		a := agents[id]
		obs, act := a.ObservationSpace, a.ActionSpace
		var err error
		if h.ObservationSpace != nil {
			if obs, err = h.ObservationSpace(a); err != nil {
				return nil, fmt.Errorf("%w: %s wrapper, agent %s observation space: %v", ErrConfiguration, h.Name, id, err)
			}
		}
		if h.ActionSpace != nil {
			if act, err = h.ActionSpace(a); err != nil {
				return nil, fmt.Errorf("%w: %s wrapper, agent %s action space: %v", ErrConfiguration, h.Name, id, err)
			}
		}
		w.obsSpaces[id] = obs
		w.actSpaces[id] = act
	}
	return w, nil
}

func (w *Wrapper) Wrapped() Simulation { return w.inner }

func (w *Wrapper) Name() string { return w.hooks.Name }

func (w *Wrapper) Reset() error { return w.inner.Reset() }

func (w *Wrapper) Step(actions map[AgentID]space.Value) error {
	if w.hooks.UnwrapAction == nil {
		return w.inner.Step(actions)
	}
	agents := w.inner.Agents()
	out := make(map[AgentID]space.Value, len(actions))
	for _, id := range sortedActionIDs(actions) {
		a, ok := agents[id]
		if !ok {
			return fmt.Errorf("%s wrapper: unknown agent %q", w.hooks.Name, id)
		}
		v, err := w.hooks.UnwrapAction(a, actions[id])
		if err != nil {
			return fmt.Errorf("%s wrapper: agent %s action: %w", w.hooks.Name, id, err)
		}
		out[id] = v
	}
	return w.inner.Step(out)
}

func (w *Wrapper) Observation(id AgentID) (space.Value, error) {
	v, err := w.inner.Observation(id)
	if err != nil || w.hooks.WrapObservation == nil {
		return v, err
	}
	a, ok := w.inner.Agents()[id]
	if !ok {
		return nil, fmt.Errorf("%s wrapper: unknown agent %q", w.hooks.Name, id)
	}
	out, err := w.hooks.WrapObservation(a, v)
	if err != nil {
		return nil, fmt.Errorf("%s wrapper: agent %s observation: %w", w.hooks.Name, id, err)
	}
	return out, nil
}

func (w *Wrapper) Reward(id AgentID) float64 {
	r := w.inner.Reward(id)
	if w.hooks.WrapReward == nil {
		return r
	}
	a, ok := w.inner.Agents()[id]
	if !ok {
		return r
	}
	return w.hooks.WrapReward(a, r)
}

func (w *Wrapper) Done(id AgentID) bool          { return w.inner.Done(id) }
func (w *Wrapper) AllDone() bool                 { return w.inner.AllDone() }
func (w *Wrapper) Info(id AgentID) map[string]any { return w.inner.Info(id) }

// Agents returns fresh copies of the inner agents carrying the spaces this
// wrapper exposes.
func (w *Wrapper) Agents() map[AgentID]*Agent {
	inner := w.inner.Agents()
	out := make(map[AgentID]*Agent, len(inner))
	for id, a := range inner {
		c := a.Clone()
		if s, ok := w.obsSpaces[id]; ok {
			c.ObservationSpace = s
		}
		if s, ok := w.actSpaces[id]; ok {
			c.ActionSpace = s
		}
		out[id] = c
	}
	return out
}

// UnwrapObservation converts an observation this wrapper produced back to
// the inner simulation's representation.
func (w *Wrapper) UnwrapObservation(id AgentID, v space.Value) (space.Value, error) {
	return w.apply(w.hooks.UnwrapObservation, id, v)
}

// WrapAction converts an inner action into the representation callers of
// this wrapper use.
func (w *Wrapper) WrapAction(id AgentID, v space.Value) (space.Value, error) {
	return w.apply(w.hooks.WrapAction, id, v)
}

func (w *Wrapper) UnwrapReward(id AgentID, r float64) float64 {
	if w.hooks.UnwrapReward == nil {
		return r
	}
	a, ok := w.inner.Agents()[id]
	if !ok {
		return r
	}
	return w.hooks.UnwrapReward(a, r)
}

func (w *Wrapper) apply(f ValueFunc, id AgentID, v space.Value) (space.Value, error) {
	if f == nil {
		return v, nil
	}
	a, ok := w.inner.Agents()[id]
	if !ok {
		return nil, fmt.Errorf("%s wrapper: unknown agent %q", w.hooks.Name, id)
	}
	return f(a, v)
}

func sortedActionIDs(actions map[AgentID]space.Value) []AgentID {
	ids := make([]AgentID, 0, len(actions))
	for id := range actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

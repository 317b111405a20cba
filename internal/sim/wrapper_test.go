package sim

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mojoee/Abmarl/internal/space"
)

type countingSim struct {
	agents  map[AgentID]*Agent
	last    map[AgentID]space.Value
	rewards map[AgentID]float64
	steps   int
}

func newCountingSim() *countingSim {
	return &countingSim{
		agents: map[AgentID]*Agent{
			"a": {ID: "a", Caps: CapAct | CapObserve, ActionSpace: space.NewDiscrete(4), ObservationSpace: space.UniformBox(0, 10, space.Int, 1)},
			"b": {ID: "b", Caps: CapObserve, ObservationSpace: space.UniformBox(0, 10, space.Int, 1)},
		},
		rewards: map[AgentID]float64{"a": 3, "b": -1},
	}
}

func (s *countingSim) Reset() error { s.steps = 0; return nil }

func (s *countingSim) Step(actions map[AgentID]space.Value) error {
	s.last = actions
	s.steps++
	return nil
}

func (s *countingSim) Observation(id AgentID) (space.Value, error) {
	if _, ok := s.agents[id]; !ok {
		return nil, fmt.Errorf("no agent %s", id)
	}
	return []int{s.steps}, nil
}

func (s *countingSim) Reward(id AgentID) float64      { return s.rewards[id] }
func (s *countingSim) Done(id AgentID) bool           { return s.steps >= 3 }
func (s *countingSim) AllDone() bool                  { return s.steps >= 3 }
func (s *countingSim) Info(id AgentID) map[string]any { return nil }

func (s *countingSim) Agents() map[AgentID]*Agent {
	out := make(map[AgentID]*Agent, len(s.agents))
	for id, a := range s.agents {
		out[id] = a.Clone()
	}
	return out
}

func TestWrapWithoutHooksIsIdentity(t *testing.T) {
	inner := newCountingSim()
	w, err := Wrap(inner)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if err := w.Step(map[AgentID]space.Value{"a": 2}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if inner.last["a"] != 2 {
		t.Fatalf("action not forwarded: %#v", inner.last)
	}
	obs, err := w.Observation("a")
	if err != nil {
		t.Fatalf("Observation: %v", err)
	}
	if !space.ValueEqual(obs, []int{1}) {
		t.Fatalf("obs=%v", obs)
	}
	if w.Reward("a") != 3 {
		t.Fatalf("reward=%v", w.Reward("a"))
	}
	if w.Agents()["a"].ActionSpace != inner.agents["a"].ActionSpace {
		t.Fatalf("identity wrapper changed the action space")
	}
}

func TestStackedHooksComposeInOrder(t *testing.T) {
	inner := newCountingSim()
	double := Hooks{
		Name:       "double",
		WrapReward: func(_ *Agent, r float64) float64 { return 2 * r },
	}
	shift := Hooks{
		Name:       "shift",
		WrapReward: func(_ *Agent, r float64) float64 { return r + 1 },
		UnwrapAction: func(_ *Agent, v space.Value) (space.Value, error) {
			return v.(int) - 1, nil
		},
	}
	w, err := Wrap(inner, double, shift)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if got := w.Reward("a"); got != 7 {
		t.Fatalf("reward=%v want (3*2)+1", got)
	}
	if err := w.Step(map[AgentID]space.Value{"a": 3}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if inner.last["a"] != 2 {
		t.Fatalf("inner saw %#v", inner.last["a"])
	}
	if Unwrapped(w) != Simulation(inner) {
		t.Fatalf("Unwrapped did not reach the inner simulation")
	}
	if w.Name() != "shift" {
		t.Fatalf("outermost wrapper=%s", w.Name())
	}
}

func TestSpaceHooksAreCachedPerAgent(t *testing.T) {
	inner := newCountingSim()
	calls := 0
	h := Hooks{
		Name: "obs",
		ObservationSpace: func(a *Agent) (space.Space, error) {
			calls++
			return space.FlattenSpace(a.ObservationSpace)
		},
		WrapObservation: func(a *Agent, v space.Value) (space.Value, error) {
			return space.Flatten(a.ObservationSpace, v)
		},
	}
	w, err := Wrap(inner, h)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	w.Agents()
	w.Agents()
	if calls != 2 {
		t.Fatalf("space hook called %d times, want once per agent", calls)
	}
	obs, err := w.Observation("b")
	if err != nil {
		t.Fatalf("Observation: %v", err)
	}
	if _, ok := obs.([]float64); !ok {
		t.Fatalf("wrapped observation type %T", obs)
	}
}

func TestSpaceHookFailureIsConfigurationError(t *testing.T) {
	h := Hooks{
		Name: "reject",
		ActionSpace: func(a *Agent) (space.Space, error) {
			return nil, errors.New("cannot handle")
		},
	}
	if _, err := Wrap(newCountingSim(), h); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err=%v", err)
	}
}

func TestUnknownAgentActionFails(t *testing.T) {
	h := Hooks{
		Name:         "act",
		UnwrapAction: func(_ *Agent, v space.Value) (space.Value, error) { return v, nil },
	}
	w, err := Wrap(newCountingSim(), h)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if err := w.Step(map[AgentID]space.Value{"ghost": 0}); err == nil {
		t.Fatalf("expected error for unknown agent")
	}
}

func TestCapabilityString(t *testing.T) {
	c := CapPosition | CapTeam
	if c.String() != "position|team" {
		t.Fatalf("String=%q", c.String())
	}
	if got, ok := ParseCapability("broadcast"); !ok || got != CapBroadcast {
		t.Fatalf("ParseCapability=%v %v", got, ok)
	}
	a := &Agent{Caps: c}
	if !a.Has(CapPosition) || a.Has(CapPosition|CapView) {
		t.Fatalf("Has mismatch for %s", c)
	}
}

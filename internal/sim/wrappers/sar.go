package wrappers

import (
	"fmt"

	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/space"
)

// Flatten presents every agent's observation and action as flat vectors.
func Flatten(inner sim.Simulation) (*sim.Wrapper, error) {
	return sim.Wrap(inner, FlattenHooks())
}

// FlattenAction flattens actions only; observations pass through.
func FlattenAction(inner sim.Simulation) (*sim.Wrapper, error) {
	return sim.Wrap(inner, FlattenActionHooks())
}

// RavelDiscrete presents every agent's finite action space as a single
// Discrete.
func RavelDiscrete(inner sim.Simulation) (*sim.Wrapper, error) {
	return sim.Wrap(inner, RavelDiscreteHooks())
}

func FlattenHooks() sim.Hooks {
	h := FlattenActionHooks()
	h.Name = "flatten"
	h.ObservationSpace = spaceHook(observationSpace, flatBox)
	h.WrapObservation = func(a *sim.Agent, v space.Value) (space.Value, error) {
		return flattenVia(a.ObservationSpace, v)
	}
	h.UnwrapObservation = func(a *sim.Agent, v space.Value) (space.Value, error) {
		return unflattenVia(a.ObservationSpace, v)
	}
	return h
}

func FlattenActionHooks() sim.Hooks {
	return sim.Hooks{
		Name:        "flatten_action",
		ActionSpace: spaceHook(actionSpace, flatBox),
		UnwrapAction: func(a *sim.Agent, v space.Value) (space.Value, error) {
			return unflattenVia(a.ActionSpace, v)
		},
		WrapAction: func(a *sim.Agent, v space.Value) (space.Value, error) {
			return flattenVia(a.ActionSpace, v)
		},
	}
}

func RavelDiscreteHooks() sim.Hooks {
	return sim.Hooks{
		Name: "ravel_discrete",
		ActionSpace: spaceHook(actionSpace, func(s space.Space) (space.Space, error) {
			n, err := space.Cardinality(s)
			if err != nil {
				return nil, err
			}
			return space.NewDiscrete(n), nil
		}),
		UnwrapAction: func(a *sim.Agent, v space.Value) (space.Value, error) {
			if a.ActionSpace == nil {
				return v, nil
			}
			n, _ := space.Cardinality(a.ActionSpace)
			idx, err := space.Coerce(space.NewDiscrete(n), v)
			if err != nil {
				return nil, err
			}
			return space.Unravel(a.ActionSpace, idx.(int))
		},
		WrapAction: func(a *sim.Agent, v space.Value) (space.Value, error) {
			if a.ActionSpace == nil {
				return v, nil
			}
			return space.Ravel(a.ActionSpace, v)
		},
	}
}

func observationSpace(a *sim.Agent) space.Space { return a.ObservationSpace }
func actionSpace(a *sim.Agent) space.Space      { return a.ActionSpace }

func flatBox(s space.Space) (space.Space, error) { return space.FlattenSpace(s) }

// spaceHook leaves agents without the picked space alone.
func spaceHook(pick func(*sim.Agent) space.Space, f func(space.Space) (space.Space, error)) sim.SpaceFunc {
	return func(a *sim.Agent) (space.Space, error) {
		s := pick(a)
		if s == nil {
			return nil, nil
		}
		return f(s)
	}
}

func flattenVia(s space.Space, v space.Value) (space.Value, error) {
	if s == nil {
		return v, nil
	}
	return space.Flatten(s, v)
}

func unflattenVia(s space.Space, v space.Value) (space.Value, error) {
	if s == nil {
		return v, nil
	}
	box, err := space.FlattenSpace(s)
	if err != nil {
		return nil, err
	}
	flat, err := space.Flatten(box, v)
	if err != nil {
		return nil, fmt.Errorf("flat point: %w", err)
	}
	return space.Unflatten(s, flat)
}

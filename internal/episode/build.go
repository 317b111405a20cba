package episode

import (
	"fmt"

	"github.com/mojoee/Abmarl/internal/gridworld"
	"github.com/mojoee/Abmarl/internal/protocol"
	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/sim/tuning"
	"github.com/mojoee/Abmarl/internal/sim/wrappers"
)

// Build constructs the grid world described by t and applies its wrapper
// stack. Super agents sit outermost.
func Build(t tuning.Tuning) (sim.Simulation, error) {
	cfg := gridworld.Config{
		Rows:           t.Grid.Rows,
		Cols:           t.Grid.Cols,
		Explorers:      t.Agents.Explorers,
		Walls:          t.Grid.Walls,
		Teams:          t.Agents.Teams,
		Layout:         t.Grid.Layout,
		View:           t.Agents.View,
		MoveRange:      t.Agents.MoveRange,
		BroadcastRange: t.Agents.BroadcastRange,
		Policy:         t.Observation.Policy,
		Filter:         t.Observation.Filter,
		Norm:           float64(t.Observation.Norm),
		Broadcast:      t.Observation.Broadcast,
		MaxSteps:       t.MaxSteps,
		Seed:           t.Seed,
	}
	var hooks []sim.Hooks
	for _, w := range t.Wrappers {
		switch w {
		case tuning.WrapRavelMove:
			cfg.MoveWrapper = gridworld.MoveWrapperRavel
		case tuning.WrapFlattenMove:
			cfg.MoveWrapper = gridworld.MoveWrapperFlatten
		case tuning.WrapFlatten:
			hooks = append(hooks, wrappers.FlattenHooks())
		case tuning.WrapFlattenAction:
			hooks = append(hooks, wrappers.FlattenActionHooks())
		case tuning.WrapRavelDiscrete:
			hooks = append(hooks, wrappers.RavelDiscreteHooks())
		default:
			return nil, fmt.Errorf("%w: unknown wrapper %q", sim.ErrConfiguration, w)
		}
	}
	base, err := gridworld.New(cfg)
	if err != nil {
		return nil, err
	}
	var env sim.Simulation = base
	if len(hooks) > 0 {
		if env, err = sim.Wrap(base, hooks...); err != nil {
			return nil, err
		}
	}
	if len(t.SuperAgents) > 0 {
		if env, err = wrappers.NewSuperAgent(env, t.SuperAgents); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		TickRateHz: t.TickRateHz,
		Params: protocol.EpisodeParams{
			TickRateHz: t.TickRateHz,
			Rows:       t.Grid.Rows,
			Cols:       t.Grid.Cols,
			View:       t.Agents.View,
			MaxSteps:   t.MaxSteps,
			Seed:       t.Seed,
		},
	}
}

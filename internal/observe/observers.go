// Package observe builds per-agent observations of other agents and
// restricts them to what the observing agent can perceive.
package observe

import (
	"github.com/mojoee/Abmarl/internal/geom"
	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/space"
)

// Observation maps a channel name to per-agent entries.
type Observation map[string]map[sim.AgentID]space.Value

// Observer produces one or more channels describing other agents. Every
// entry an observer blanks out is set to Null().
type Observer interface {
	Observe(agent *sim.Agent) Observation
	Null() space.Value
	// Spaces describes each channel the observer produces for agent, as a
	// Dict keyed by agent id.
	Spaces(agent *sim.Agent) map[string]space.Space
}

// Rebaser is implemented by observers whose values are relative to the
// observing agent. Rebase converts a value observed by from into the value
// to would have observed.
type Rebaser interface {
	Rebase(from, to *sim.Agent, v space.Value) space.Value
}

func perAgentDict(agents map[sim.AgentID]*sim.Agent, need sim.Capability, leaf func() space.Space) *space.Dict {
	var entries []space.Entry
	for _, id := range sim.SortedIDs(agents) {
		if agents[id].Has(need) {
			entries = append(entries, space.Entry{Name: id, Space: leaf()})
		}
	}
	return space.NewDict(entries...)
}

// Position reports the absolute grid position of every positioned agent.
type Position struct {
	agents     map[sim.AgentID]*sim.Agent
	rows, cols int
	leaf       *space.Box
}

func NewPosition(agents map[sim.AgentID]*sim.Agent, rows, cols int) *Position {
	leaf, _ := space.NewBox([]float64{-1, -1}, []float64{float64(rows - 1), float64(cols - 1)}, []int{2}, space.Int)
	return &Position{agents: agents, rows: rows, cols: cols, leaf: leaf}
}

func (p *Position) Observe(agent *sim.Agent) Observation {
	out := map[sim.AgentID]space.Value{}
	for id, other := range p.agents {
		if other.Has(sim.CapPosition) {
			out[id] = []int{other.Pos.R, other.Pos.C}
		}
	}
	return Observation{"position": out}
}

func (p *Position) Null() space.Value { return []int{-1, -1} }

func (p *Position) Spaces(agent *sim.Agent) map[string]space.Space {
	return map[string]space.Space{
		"position": perAgentDict(p.agents, sim.CapPosition, func() space.Space { return p.leaf }),
	}
}

// RelativePosition reports other agents' offsets from the observing agent.
// Observers without a position get no channel.
type RelativePosition struct {
	agents     map[sim.AgentID]*sim.Agent
	rows, cols int
	leaf       *space.Box
}

func NewRelativePosition(agents map[sim.AgentID]*sim.Agent, rows, cols int) *RelativePosition {
	leaf, _ := space.NewBox(
		[]float64{float64(-rows), float64(-cols)},
		[]float64{float64(rows - 1), float64(cols - 1)},
		[]int{2}, space.Int,
	)
	return &RelativePosition{agents: agents, rows: rows, cols: cols, leaf: leaf}
}

func (p *RelativePosition) Observe(agent *sim.Agent) Observation {
	if !agent.Has(sim.CapPosition) {
		return Observation{}
	}
	out := map[sim.AgentID]space.Value{}
	for id, other := range p.agents {
		if other.Has(sim.CapPosition) {
			d := other.Pos.Sub(agent.Pos)
			out[id] = []int{d.R, d.C}
		}
	}
	return Observation{"relative_position": out}
}

func (p *RelativePosition) Null() space.Value { return []int{-p.rows, -p.cols} }

func (p *RelativePosition) Spaces(agent *sim.Agent) map[string]space.Space {
	if !agent.Has(sim.CapPosition) {
		return nil
	}
	return map[string]space.Space{
		"relative_position": perAgentDict(p.agents, sim.CapPosition, func() space.Space { return p.leaf }),
	}
}

func (p *RelativePosition) Rebase(from, to *sim.Agent, v space.Value) space.Value {
	xs, ok := v.([]int)
	if !ok || len(xs) != 2 || space.ValueEqual(v, p.Null()) {
		return v
	}
	shift := from.Pos.Sub(to.Pos)
	abs := geom.Pos{R: xs[0] + shift.R, C: xs[1] + shift.C}
	return []int{abs.R, abs.C}
}

// Health reports the health of every agent that has one.
type Health struct {
	agents map[sim.AgentID]*sim.Agent
	leaf   *space.Box
}

func NewHealth(agents map[sim.AgentID]*sim.Agent) *Health {
	return &Health{agents: agents, leaf: space.UniformBox(-1, 1, space.Float, 1)}
}

func (h *Health) Observe(agent *sim.Agent) Observation {
	out := map[sim.AgentID]space.Value{}
	for id, other := range h.agents {
		if other.Has(sim.CapHealth) {
			out[id] = []float64{other.Health}
		}
	}
	return Observation{"health": out}
}

func (h *Health) Null() space.Value { return []float64{-1} }

func (h *Health) Spaces(agent *sim.Agent) map[string]space.Space {
	return map[string]space.Space{
		"health": perAgentDict(h.agents, sim.CapHealth, func() space.Space { return h.leaf }),
	}
}

// Team reports the team of every teamed agent. Teams are numbered from 0.
type Team struct {
	agents map[sim.AgentID]*sim.Agent
	leaf   *space.Box
}

func NewTeam(agents map[sim.AgentID]*sim.Agent, teams int) *Team {
	if teams < 1 {
		teams = 1
	}
	return &Team{agents: agents, leaf: space.UniformBox(-1, float64(teams-1), space.Int, 1)}
}

func (t *Team) Observe(agent *sim.Agent) Observation {
	out := map[sim.AgentID]space.Value{}
	for id, other := range t.agents {
		if other.Has(sim.CapTeam) {
			out[id] = []int{other.Team}
		}
	}
	return Observation{"team": out}
}

func (t *Team) Null() space.Value { return []int{-1} }

func (t *Team) Spaces(agent *sim.Agent) map[string]space.Space {
	return map[string]space.Space{
		"team": perAgentDict(t.agents, sim.CapTeam, func() space.Space { return t.leaf }),
	}
}

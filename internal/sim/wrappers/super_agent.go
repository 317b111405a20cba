package wrappers

import (
	"fmt"
	"sort"

	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/space"
)

// SuperAgent lets one policy drive several agents at once. Each super agent
// replaces the agents it covers: its action and observation spaces are
// Dicts keyed by covered agent id, its reward is the sum of theirs and it is
// done once all of them are. Agents nobody covers pass through unchanged.
type SuperAgent struct {
	inner  sim.Simulation
	covers map[sim.AgentID][]sim.AgentID
	owner  map[sim.AgentID]sim.AgentID
	agents map[sim.AgentID]*sim.Agent
}

// NewSuperAgent checks mapping against inner's agents. Every covered id must
// exist and be covered at most once, and super ids must not collide with
// existing agents.
func NewSuperAgent(inner sim.Simulation, mapping map[sim.AgentID][]sim.AgentID) (*SuperAgent, error) {
	base := inner.Agents()
	s := &SuperAgent{
		inner:  inner,
		covers: make(map[sim.AgentID][]sim.AgentID, len(mapping)),
		owner:  make(map[sim.AgentID]sim.AgentID),
	}
	supers := make([]sim.AgentID, 0, len(mapping))
	for id := range mapping {
		supers = append(supers, id)
	}
	sort.Strings(supers)
	for _, sid := range supers {
		if sid == "" {
			return nil, fmt.Errorf("%w: super agent with empty id", sim.ErrConfiguration)
		}
		if _, ok := base[sid]; ok {
			return nil, fmt.Errorf("%w: super agent %q collides with an agent", sim.ErrConfiguration, sid)
		}
		covered := mapping[sid]
		if len(covered) == 0 {
			return nil, fmt.Errorf("%w: super agent %q covers nothing", sim.ErrConfiguration, sid)
		}
		for _, id := range covered {
			if _, ok := base[id]; !ok {
				return nil, fmt.Errorf("%w: super agent %q covers unknown agent %q", sim.ErrConfiguration, sid, id)
			}
			if prev, ok := s.owner[id]; ok {
				return nil, fmt.Errorf("%w: agent %q covered by both %q and %q", sim.ErrConfiguration, id, prev, sid)
			}
			s.owner[id] = sid
		}
		ids := append([]sim.AgentID(nil), covered...)
		sort.Strings(ids)
		s.covers[sid] = ids
	}

	s.agents = make(map[sim.AgentID]*sim.Agent, len(base))
	for id, a := range base {
		if _, ok := s.owner[id]; !ok {
			s.agents[id] = a
		}
	}
	for _, sid := range supers {
		s.agents[sid] = s.superAgent(sid, base)
	}
	return s, nil
}

func (s *SuperAgent) superAgent(sid sim.AgentID, base map[sim.AgentID]*sim.Agent) *sim.Agent {
	a := &sim.Agent{ID: sid}
	var acts, obs []space.Entry
	for _, id := range s.covers[sid] {
		c := base[id]
		if c.Has(sim.CapAct) && c.ActionSpace != nil {
			acts = append(acts, space.Entry{Name: id, Space: c.ActionSpace})
		}
		if c.Has(sim.CapObserve) && c.ObservationSpace != nil {
			obs = append(obs, space.Entry{Name: id, Space: c.ObservationSpace})
		}
	}
	if len(acts) > 0 {
		a.Caps |= sim.CapAct
		a.ActionSpace = space.NewDict(acts...)
	}
	if len(obs) > 0 {
		a.Caps |= sim.CapObserve
		a.ObservationSpace = space.NewDict(obs...)
	}
	return a
}

func (s *SuperAgent) Wrapped() sim.Simulation { return s.inner }

// Covered returns the agents sid stands for, in ascending order.
func (s *SuperAgent) Covered(sid sim.AgentID) []sim.AgentID {
	return append([]sim.AgentID(nil), s.covers[sid]...)
}

func (s *SuperAgent) Reset() error { return s.inner.Reset() }

// Step unpacks each super agent's Dict action into its covered agents.
// Covered agents that are already done get no action. Acting for a covered
// agent directly is an error.
func (s *SuperAgent) Step(actions map[sim.AgentID]space.Value) error {
	out := make(map[sim.AgentID]space.Value, len(actions))
	for id, v := range actions {
		if sid, ok := s.owner[id]; ok {
			return fmt.Errorf("agent %s is covered by super agent %s", id, sid)
		}
		covered, ok := s.covers[id]
		if !ok {
			out[id] = v
			continue
		}
		parts, ok := v.(map[string]space.Value)
		if !ok {
			return fmt.Errorf("super agent %s: %w: action is %T", id, space.ErrMalformedEncoding, v)
		}
		for _, cid := range covered {
			cv, ok := parts[cid]
			if !ok || s.inner.Done(cid) {
				continue
			}
			out[cid] = cv
		}
	}
	return s.inner.Step(out)
}

func (s *SuperAgent) Observation(id sim.AgentID) (space.Value, error) {
	if _, ok := s.covers[id]; !ok {
		return s.inner.Observation(id)
	}
	obs, ok := s.agents[id].ObservationSpace.(*space.Dict)
	if !ok {
		return nil, fmt.Errorf("observation: super agent %s covers no observer", id)
	}
	out := make(map[string]space.Value, obs.Len())
	for _, cid := range obs.Keys() {
		v, err := s.inner.Observation(cid)
		if err != nil {
			return nil, fmt.Errorf("super agent %s: %w", id, err)
		}
		out[cid] = v
	}
	return out, nil
}

func (s *SuperAgent) Reward(id sim.AgentID) float64 {
	covered, ok := s.covers[id]
	if !ok {
		return s.inner.Reward(id)
	}
	total := 0.0
	for _, cid := range covered {
		total += s.inner.Reward(cid)
	}
	return total
}

func (s *SuperAgent) Done(id sim.AgentID) bool {
	covered, ok := s.covers[id]
	if !ok {
		return s.inner.Done(id)
	}
	for _, cid := range covered {
		if !s.inner.Done(cid) {
			return false
		}
	}
	return true
}

func (s *SuperAgent) AllDone() bool { return s.inner.AllDone() }

func (s *SuperAgent) Info(id sim.AgentID) map[string]any {
	covered, ok := s.covers[id]
	if !ok {
		return s.inner.Info(id)
	}
	out := make(map[string]any, len(covered))
	for _, cid := range covered {
		if info := s.inner.Info(cid); info != nil {
			out[cid] = info
		}
	}
	return out
}

// Agents hides covered agents and lists super agents in their place.
func (s *SuperAgent) Agents() map[sim.AgentID]*sim.Agent {
	inner := s.inner.Agents()
	out := make(map[sim.AgentID]*sim.Agent, len(s.agents))
	for id, a := range s.agents {
		if live, ok := inner[id]; ok {
			a = live
		}
		out[id] = a.Clone()
	}
	return out
}

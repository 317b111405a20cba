package observe

import (
	"math"
	"sort"

	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/space"
)

const MaskChannel = "mask"

// Composer applies one mask per observing agent across all of its
// observers, so a filtered agent is blanked in every channel at once, and
// optionally fills blanks from nearby broadcasting agents.
type Composer struct {
	observers []Observer
	agents    map[sim.AgentID]*sim.Agent
	policy    Policy

	// masks holds each observer's mask for the current tick. Random
	// policies draw once per pair per tick, including for broadcasters.
	masks map[sim.AgentID]Mask

	broadcast     bool
	broadcastNorm float64
}

type Option func(*Composer)

// WithPolicy sets the masking policy. Without one every agent is observed.
func WithPolicy(p Policy) Option {
	return func(c *Composer) { c.policy = p }
}

// WithBroadcast enables broadcast fusion with distances measured under the
// given p-norm; zero means the max norm.
func WithBroadcast(norm float64) Option {
	return func(c *Composer) {
		if norm == 0 {
			norm = math.Inf(1)
		}
		c.broadcast = true
		c.broadcastNorm = norm
	}
}

// NewComposer reads agents as the live agent table; positions are picked up
// on every call.
func NewComposer(observers []Observer, agents map[sim.AgentID]*sim.Agent, opts ...Option) *Composer {
	c := &Composer{observers: observers, agents: agents, masks: map[sim.AgentID]Mask{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NextTick forgets the masks drawn so far. The owning simulation calls it
// whenever positions change.
func (c *Composer) NextTick() {
	clear(c.masks)
}

func (c *Composer) mask(agent *sim.Agent) Mask {
	if m, ok := c.masks[agent.ID]; ok {
		return m
	}
	var m Mask
	if c.policy == nil {
		m = fullMask(c.agents)
	} else {
		m = c.policy.Mask(agent, c.agents)
	}
	c.masks[agent.ID] = m
	return m
}

// observeWith runs one observer and blanks every entry the mask filters.
func observeWith(o Observer, agent *sim.Agent, m Mask) Observation {
	obs := o.Observe(agent)
	for _, entries := range obs {
		for id, seen := range m {
			if _, ok := entries[id]; ok && seen == 0 {
				entries[id] = o.Null()
			}
		}
	}
	return obs
}

// Observe returns the observation for agent plus the mask channel. Agents
// that cannot observe get nil.
func (c *Composer) Observe(agent *sim.Agent) Observation {
	if !agent.Has(sim.CapObserve) {
		return nil
	}
	m := c.mask(agent)
	out := Observation{}
	for _, o := range c.observers {
		for ch, entries := range observeWith(o, agent, m) {
			out[ch] = entries
		}
	}
	if c.broadcast {
		c.fuse(agent, out)
	}
	maskEntries := make(map[sim.AgentID]space.Value, len(m))
	for id, v := range m {
		maskEntries[id] = v
	}
	out[MaskChannel] = maskEntries
	return out
}

// fuse fills null entries of receiver's observation from broadcasters in
// range, visited in ascending id order. Teammates share everything they
// observed; other broadcasters only reveal themselves. Non-null entries are
// never overwritten and the mask is left as the receiver's own.
func (c *Composer) fuse(receiver *sim.Agent, mine Observation) {
	if !receiver.Has(sim.CapPosition) {
		return
	}
	for _, bid := range sim.SortedIDs(c.agents) {
		b := c.agents[bid]
		if bid == receiver.ID || !b.Has(sim.CapBroadcast|sim.CapPosition) {
			continue
		}
		if distance(b.Pos, receiver.Pos, c.broadcastNorm) > b.BroadcastRange {
			continue
		}
		sameTeam := receiver.Has(sim.CapTeam) && b.Has(sim.CapTeam) && receiver.Team == b.Team
		bm := c.mask(b) // the broadcaster's own draw for this tick
		for _, o := range c.observers {
			null := o.Null()
			rebase, _ := o.(Rebaser)
			for ch, theirs := range observeWith(o, b, bm) {
				entries, ok := mine[ch]
				if !ok {
					continue
				}
				for id, v := range theirs {
					if !sameTeam && id != bid {
						continue
					}
					cur, ok := entries[id]
					if !ok || !space.ValueEqual(cur, null) || space.ValueEqual(v, null) {
						continue
					}
					if rebase != nil {
						v = rebase.Rebase(b, receiver, v)
					}
					entries[id] = v
				}
			}
		}
	}
}

// ObservationSpace describes what Observe returns for agent: a Dict of
// channels, each a Dict keyed by agent id, plus the mask channel.
func (c *Composer) ObservationSpace(agent *sim.Agent) *space.Dict {
	channels := map[string]space.Space{}
	for _, o := range c.observers {
		for ch, s := range o.Spaces(agent) {
			channels[ch] = s
		}
	}
	var maskEntries []space.Entry
	for _, id := range sim.SortedIDs(c.agents) {
		maskEntries = append(maskEntries, space.Entry{Name: id, Space: space.NewDiscrete(2)})
	}
	channels[MaskChannel] = space.NewDict(maskEntries...)

	names := make([]string, 0, len(channels))
	for ch := range channels {
		names = append(names, ch)
	}
	sort.Strings(names)
	entries := make([]space.Entry, len(names))
	for i, ch := range names {
		entries[i] = space.Entry{Name: ch, Space: channels[ch]}
	}
	return space.NewDict(entries...)
}

// ObservationValue is Observe converted to a point of ObservationSpace.
func (c *Composer) ObservationValue(agent *sim.Agent) map[string]space.Value {
	obs := c.Observe(agent)
	out := make(map[string]space.Value, len(obs))
	for ch, entries := range obs {
		out[ch] = map[string]space.Value(entries)
	}
	return out
}

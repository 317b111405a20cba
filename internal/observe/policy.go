package observe

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/mojoee/Abmarl/internal/geom"
	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/visibility"
)

// Mask marks each agent 1 (observed) or 0 (filtered) for one observer.
type Mask map[sim.AgentID]int

// Policy decides which agents an observer perceives this step. Masks are
// computed from the live agent table and never cached.
type Policy interface {
	Mask(observer *sim.Agent, agents map[sim.AgentID]*sim.Agent) Mask
}

// FilterFunc returns the probability of observing an agent at distance from
// an observer with the given view radius.
type FilterFunc func(distance float64, view int) float64

// StepFilter observes everything within view and nothing beyond it.
func StepFilter(distance float64, view int) float64 {
	if distance > float64(view) {
		return 0
	}
	return 1
}

// LinearDropOff observes with probability falling linearly from 1 at the
// observer to 0 just past the view radius.
func LinearDropOff(distance float64, view int) float64 {
	p := 1 - distance/float64(view+1)
	if p < 0 {
		return 0
	}
	return p
}

func distance(a, b geom.Pos, norm float64) float64 {
	return floats.Distance(a.Vec(), b.Vec(), norm)
}

func fullMask(agents map[sim.AgentID]*sim.Agent) Mask {
	m := make(Mask, len(agents))
	for id := range agents {
		m[id] = 1
	}
	return m
}

func canFilter(observer *sim.Agent) bool {
	return observer.Has(sim.CapPosition | sim.CapView)
}

// DistanceFilter draws one uniform sample per positioned (observer, other)
// pair, in ascending id order, and observes the other when the sample does
// not exceed Filter(distance, view).
type DistanceFilter struct {
	Filter FilterFunc
	Norm   float64
	Rand   *rand.Rand
}

// NewDistanceFilter fills in StepFilter and the max norm for zero values.
// A nil rng is a configuration error.
func NewDistanceFilter(filter FilterFunc, norm float64, rng *rand.Rand) (*DistanceFilter, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: distance filter needs a random source", sim.ErrConfiguration)
	}
	if filter == nil {
		filter = StepFilter
	}
	if norm == 0 {
		norm = math.Inf(1)
	}
	if norm < 1 {
		return nil, fmt.Errorf("%w: norm must be >= 1, got %v", sim.ErrConfiguration, norm)
	}
	return &DistanceFilter{Filter: filter, Norm: norm, Rand: rng}, nil
}

func (f *DistanceFilter) Mask(observer *sim.Agent, agents map[sim.AgentID]*sim.Agent) Mask {
	if !canFilter(observer) {
		return fullMask(agents)
	}
	m := make(Mask, len(agents))
	for _, id := range sim.SortedIDs(agents) {
		other := agents[id]
		if id == observer.ID || !other.Has(sim.CapPosition) {
			m[id] = 1
			continue
		}
		p := f.Filter(distance(observer.Pos, other.Pos, f.Norm), observer.View)
		if u := f.Rand.Float64(); p > 0 && u <= p {
			m[id] = 1
		} else {
			m[id] = 0
		}
	}
	return m
}

// LineOfSight observes agents inside the view window that no opaque agent
// hides.
type LineOfSight struct {
	Bounds visibility.Bounds
}

func (l LineOfSight) Mask(observer *sim.Agent, agents map[sim.AgentID]*sim.Agent) Mask {
	if !canFilter(observer) {
		return fullMask(agents)
	}
	var obstacles []geom.Pos
	for _, id := range sim.SortedIDs(agents) {
		a := agents[id]
		if id != observer.ID && a.Has(sim.CapPosition|sim.CapOpaque) {
			obstacles = append(obstacles, a.Pos)
		}
	}
	vis := visibility.Compute(observer.Pos, observer.View, obstacles, l.Bounds)
	m := make(Mask, len(agents))
	for id, other := range agents {
		if id == observer.ID || !other.Has(sim.CapPosition) || vis.Visible(other.Pos) {
			m[id] = 1
		} else {
			m[id] = 0
		}
	}
	return m
}

// Chain observes an agent only if every policy observes it. Policies run in
// order so random draws stay reproducible.
type Chain []Policy

func (c Chain) Mask(observer *sim.Agent, agents map[sim.AgentID]*sim.Agent) Mask {
	out := fullMask(agents)
	for _, p := range c {
		for id, v := range p.Mask(observer, agents) {
			if v == 0 {
				out[id] = 0
			}
		}
	}
	return out
}

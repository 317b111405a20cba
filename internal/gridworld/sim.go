// Package gridworld is a grid simulation of exploring agents and walls.
// Explorers move, see a local window of the grid that walls occlude, and
// are rewarded for reaching cells they have not visited before.
package gridworld

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/mojoee/Abmarl/internal/geom"
	"github.com/mojoee/Abmarl/internal/observe"
	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/sim/wrappers"
	"github.com/mojoee/Abmarl/internal/space"
	"github.com/mojoee/Abmarl/internal/visibility"
)

const (
	LayoutRandom = "random"
	LayoutNoise  = "noise"

	PolicyNone        = "none"
	PolicyDistance    = "distance"
	PolicyLineOfSight = "line_of_sight"
	// PolicyLineOfSightDistance hides occluded agents and then applies the
	// distance filter to the rest.
	PolicyLineOfSightDistance = "line_of_sight_distance"

	FilterStep   = "step"
	FilterLinear = "linear"

	MoveWrapperNone    = ""
	MoveWrapperRavel   = "ravel"
	MoveWrapperFlatten = "flatten"

	GridChannel = "grid"

	wallEncoding = 1
)

type Config struct {
	Rows, Cols int
	Explorers  int
	Walls      int
	Teams      int
	Layout     string

	View           int
	MoveRange      int
	BroadcastRange float64

	Policy    string
	Filter    string
	Norm      float64
	Broadcast bool

	MoveWrapper string
	MaxSteps    int
	Seed        int64
}

func (c Config) validate() error {
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("%w: grid %dx%d", sim.ErrConfiguration, c.Rows, c.Cols)
	}
	if c.Explorers < 0 || c.Walls < 0 || c.Explorers+c.Walls > c.Rows*c.Cols {
		return fmt.Errorf("%w: %d explorers and %d walls do not fit a %dx%d grid", sim.ErrConfiguration, c.Explorers, c.Walls, c.Rows, c.Cols)
	}
	if c.View < 0 || c.MoveRange < 0 {
		return fmt.Errorf("%w: negative view or move range", sim.ErrConfiguration)
	}
	switch c.Layout {
	case "", LayoutRandom, LayoutNoise:
	default:
		return fmt.Errorf("%w: unknown layout %q", sim.ErrConfiguration, c.Layout)
	}
	switch c.Policy {
	case "", PolicyNone, PolicyDistance, PolicyLineOfSight, PolicyLineOfSightDistance:
	default:
		return fmt.Errorf("%w: unknown observation policy %q", sim.ErrConfiguration, c.Policy)
	}
	switch c.Filter {
	case "", FilterStep, FilterLinear:
	default:
		return fmt.Errorf("%w: unknown filter %q", sim.ErrConfiguration, c.Filter)
	}
	switch c.MoveWrapper {
	case MoveWrapperNone, MoveWrapperRavel, MoveWrapperFlatten:
	default:
		return fmt.Errorf("%w: unknown move wrapper %q", sim.ErrConfiguration, c.MoveWrapper)
	}
	return nil
}

// Sim implements sim.Simulation. It is not safe for concurrent use; the
// episode runner drives it from a single goroutine.
type Sim struct {
	cfg    Config
	rng    *rand.Rand
	grid   *Grid
	agents map[sim.AgentID]*sim.Agent

	actors   []Actor
	composer *observe.Composer
	gridBox  *space.Box

	step    int
	visited map[sim.AgentID]map[geom.Pos]bool
	rewards map[sim.AgentID]float64
}

func New(cfg Config) (*Sim, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Teams < 1 {
		cfg.Teams = 1
	}
	s := &Sim{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		grid:    NewGrid(cfg.Rows, cfg.Cols),
		agents:  make(map[sim.AgentID]*sim.Agent),
		visited: make(map[sim.AgentID]map[geom.Pos]bool),
		rewards: make(map[sim.AgentID]float64),
	}
	for i := 0; i < cfg.Explorers; i++ {
		team := i % cfg.Teams
		id := fmt.Sprintf("explorer%d", i)
		s.agents[id] = &sim.Agent{
			ID:             id,
			Caps:           sim.CapPosition | sim.CapView | sim.CapAct | sim.CapObserve | sim.CapTeam | sim.CapHealth | sim.CapBroadcast,
			View:           cfg.View,
			Team:           team,
			Health:         1,
			BroadcastRange: cfg.BroadcastRange,
			MoveRange:      cfg.MoveRange,
			Encoding:       wallEncoding + 1 + team,
		}
	}
	for i := 0; i < cfg.Walls; i++ {
		id := fmt.Sprintf("wall%d", i)
		s.agents[id] = &sim.Agent{ID: id, Caps: sim.CapPosition | sim.CapOpaque, Encoding: wallEncoding}
	}

	var move Actor = NewMoveActor(s.grid, s.agents)
	switch cfg.MoveWrapper {
	case MoveWrapperRavel:
		w, err := NewActorWrapper(move, wrappers.NewRaveler(), s.agents)
		if err != nil {
			return nil, err
		}
		move = w
	case MoveWrapperFlatten:
		w, err := NewActorWrapper(move, wrappers.NewFlattener(), s.agents)
		if err != nil {
			return nil, err
		}
		move = w
	}
	s.actors = []Actor{move}

	opts, err := s.composerOptions()
	if err != nil {
		return nil, err
	}
	s.composer = observe.NewComposer([]observe.Observer{
		observe.NewPosition(s.agents, cfg.Rows, cfg.Cols),
		observe.NewTeam(s.agents, cfg.Teams),
		observe.NewHealth(s.agents),
	}, s.agents, opts...)

	side := 2*cfg.View + 1
	s.gridBox = space.UniformBox(-1, float64(wallEncoding+cfg.Teams), space.Int, side, side)
	for _, a := range s.agents {
		if a.Has(sim.CapObserve) {
			a.ObservationSpace = s.composer.ObservationSpace(a).With(GridChannel, s.gridBox)
		}
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sim) composerOptions() ([]observe.Option, error) {
	var opts []observe.Option
	los := observe.LineOfSight{Bounds: visibility.Bounds{Rows: s.cfg.Rows, Cols: s.cfg.Cols}}
	switch s.cfg.Policy {
	case PolicyDistance, PolicyLineOfSightDistance:
		filter := observe.StepFilter
		if s.cfg.Filter == FilterLinear {
			filter = observe.LinearDropOff
		}
		f, err := observe.NewDistanceFilter(filter, s.cfg.Norm, s.rng)
		if err != nil {
			return nil, err
		}
		if s.cfg.Policy == PolicyDistance {
			opts = append(opts, observe.WithPolicy(f))
		} else {
			opts = append(opts, observe.WithPolicy(observe.Chain{los, f}))
		}
	case PolicyLineOfSight:
		opts = append(opts, observe.WithPolicy(los))
	}
	if s.cfg.Broadcast {
		opts = append(opts, observe.WithBroadcast(s.cfg.Norm))
	}
	return opts, nil
}

func (s *Sim) Reset() error {
	s.grid.Clear()
	s.step = 0
	s.composer.NextTick()
	ids := sim.SortedIDs(s.agents)
	var walls, explorers []sim.AgentID
	for _, id := range ids {
		if s.agents[id].Has(sim.CapOpaque) {
			walls = append(walls, id)
		} else {
			explorers = append(explorers, id)
		}
	}
	cells := s.layout(len(walls))
	taken := make(map[int]bool, len(cells))
	for i, id := range walls {
		taken[cells[i]] = true
		if err := s.place(id, cells[i]); err != nil {
			return err
		}
	}
	free := make([]int, 0, s.cfg.Rows*s.cfg.Cols-len(walls))
	for _, c := range s.rng.Perm(s.cfg.Rows * s.cfg.Cols) {
		if !taken[c] {
			free = append(free, c)
		}
	}
	for i, id := range explorers {
		if err := s.place(id, free[i]); err != nil {
			return err
		}
		a := s.agents[id]
		s.visited[id] = map[geom.Pos]bool{a.Pos: true}
		s.rewards[id] = 0
		a.Health = 1
	}
	return nil
}

func (s *Sim) place(id sim.AgentID, cell int) error {
	p := geom.Pos{R: cell / s.cfg.Cols, C: cell % s.cfg.Cols}
	if err := s.grid.Place(id, p); err != nil {
		return err
	}
	s.agents[id].Pos = p
	return nil
}

// layout picks n distinct cells for walls.
func (s *Sim) layout(n int) []int {
	total := s.cfg.Rows * s.cfg.Cols
	if s.cfg.Layout != LayoutNoise {
		return s.rng.Perm(total)[:n]
	}
	noise := opensimplex.NewNormalized(s.rng.Int63())
	type scored struct {
		cell  int
		value float64
	}
	cells := make([]scored, total)
	for i := range cells {
		r, c := float64(i/s.cfg.Cols), float64(i%s.cfg.Cols)
		cells[i] = scored{cell: i, value: noise.Eval2(r*0.35, c*0.35)}
	}
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].value > cells[j].value })
	out := make([]int, n)
	for i := range out {
		out[i] = cells[i].cell
	}
	return out
}

func (s *Sim) Step(actions map[sim.AgentID]space.Value) error {
	s.step++
	s.composer.NextTick()
	for id := range s.rewards {
		s.rewards[id] = 0
	}
	ids := make([]sim.AgentID, 0, len(actions))
	for id := range actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a, ok := s.agents[id]
		if !ok {
			return fmt.Errorf("step: unknown agent %q", id)
		}
		if !a.Has(sim.CapAct) {
			return fmt.Errorf("step: agent %s cannot act", id)
		}
		action, ok := actions[id].(map[string]space.Value)
		if !ok {
			return fmt.Errorf("step: agent %s: %w: action is %T", id, space.ErrMalformedEncoding, actions[id])
		}
		for _, actor := range s.actors {
			if _, err := actor.ProcessAction(a, action); err != nil {
				return fmt.Errorf("step: %w", err)
			}
		}
		if !s.visited[id][a.Pos] {
			s.visited[id][a.Pos] = true
			s.rewards[id]++
		}
	}
	return nil
}

func (s *Sim) Observation(id sim.AgentID) (space.Value, error) {
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("observation: unknown agent %q", id)
	}
	if !a.Has(sim.CapObserve) {
		return nil, fmt.Errorf("observation: agent %s cannot observe", id)
	}
	obs := s.composer.ObservationValue(a)
	obs[GridChannel] = s.localGrid(a)
	return obs, nil
}

// localGrid encodes the observer's window row-major: -1 for cells that are
// occluded or off the grid, 0 for empty cells, otherwise the occupant's
// encoding.
func (s *Sim) localGrid(a *sim.Agent) []int {
	var obstacles []geom.Pos
	for _, id := range sim.SortedIDs(s.agents) {
		o := s.agents[id]
		if id != a.ID && o.Has(sim.CapOpaque|sim.CapPosition) {
			obstacles = append(obstacles, o.Pos)
		}
	}
	mask := visibility.Compute(a.Pos, a.View, obstacles, visibility.Bounds{Rows: s.cfg.Rows, Cols: s.cfg.Cols})
	side := 2*a.View + 1
	out := make([]int, 0, side*side)
	for dr := -a.View; dr <= a.View; dr++ {
		for dc := -a.View; dc <= a.View; dc++ {
			if mask.Local(dr, dc) != visibility.Visible {
				out = append(out, -1)
				continue
			}
			id, ok := s.grid.At(a.Pos.Add(geom.Pos{R: dr, C: dc}))
			if !ok {
				out = append(out, 0)
				continue
			}
			out = append(out, s.agents[id].Encoding)
		}
	}
	return out
}

func (s *Sim) Reward(id sim.AgentID) float64 { return s.rewards[id] }

func (s *Sim) Done(id sim.AgentID) bool { return s.AllDone() }

func (s *Sim) AllDone() bool { return s.cfg.MaxSteps > 0 && s.step >= s.cfg.MaxSteps }

func (s *Sim) Info(id sim.AgentID) map[string]any {
	info := map[string]any{"step": s.step}
	if v, ok := s.visited[id]; ok {
		info["visited"] = len(v)
	}
	return info
}

// Agents returns copies; the simulation owns the live table.
func (s *Sim) Agents() map[sim.AgentID]*sim.Agent {
	out := make(map[sim.AgentID]*sim.Agent, len(s.agents))
	for id, a := range s.agents {
		out[id] = a.Clone()
	}
	return out
}

// Coverage is the fraction of free cells explorers have visited so far.
func (s *Sim) Coverage() float64 {
	seen := map[geom.Pos]bool{}
	for _, v := range s.visited {
		for p := range v {
			seen[p] = true
		}
	}
	free := s.cfg.Rows*s.cfg.Cols - s.cfg.Walls
	if free <= 0 {
		return 0
	}
	return math.Min(1, float64(len(seen))/float64(free))
}

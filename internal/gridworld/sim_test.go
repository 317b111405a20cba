package gridworld

import (
	"errors"
	"testing"

	"github.com/mojoee/Abmarl/internal/geom"
	"github.com/mojoee/Abmarl/internal/sim"
	"github.com/mojoee/Abmarl/internal/sim/wrappers"
	"github.com/mojoee/Abmarl/internal/space"
)

func testConfig() Config {
	return Config{
		Rows: 6, Cols: 6,
		Explorers: 2, Walls: 3, Teams: 1,
		View: 2, MoveRange: 1, BroadcastRange: 3,
		MaxSteps: 5, Seed: 7,
	}
}

func newSim(t *testing.T, cfg Config) *Sim {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// arrange clears the grid and puts agents exactly where the test wants them.
func arrange(t *testing.T, s *Sim, at map[sim.AgentID]geom.Pos) {
	t.Helper()
	s.grid.Clear()
	for id, p := range at {
		if err := s.grid.Place(id, p); err != nil {
			t.Fatalf("Place: %v", err)
		}
		s.agents[id].Pos = p
		if s.agents[id].Has(sim.CapAct) {
			s.visited[id] = map[geom.Pos]bool{p: true}
		}
	}
}

func TestResetPlacesAgentsUniquely(t *testing.T) {
	s := newSim(t, testConfig())
	seen := map[geom.Pos]sim.AgentID{}
	for id, a := range s.Agents() {
		if prev, dup := seen[a.Pos]; dup {
			t.Fatalf("%s and %s share %v", id, prev, a.Pos)
		}
		seen[a.Pos] = id
		if got, ok := s.grid.At(a.Pos); !ok || got != id {
			t.Fatalf("grid at %v=%q want %q", a.Pos, got, id)
		}
	}
	if len(seen) != 5 {
		t.Fatalf("placed %d agents", len(seen))
	}
}

func TestSameSeedSameLayout(t *testing.T) {
	for _, layout := range []string{LayoutRandom, LayoutNoise} {
		cfg := testConfig()
		cfg.Layout = layout
		a, b := newSim(t, cfg).Agents(), newSim(t, cfg).Agents()
		for id := range a {
			if a[id].Pos != b[id].Pos {
				t.Fatalf("%s: %s at %v and %v", layout, id, a[id].Pos, b[id].Pos)
			}
		}
	}
}

func TestMoveBlockedAndRewarded(t *testing.T) {
	s := newSim(t, testConfig())
	arrange(t, s, map[sim.AgentID]geom.Pos{
		"explorer0": {R: 2, C: 2},
		"explorer1": {R: 5, C: 5},
		"wall0":     {R: 2, C: 3},
		"wall1":     {R: 0, C: 0},
		"wall2":     {R: 0, C: 1},
	})
	move := func(id sim.AgentID, dr, dc int) {
		t.Helper()
		err := s.Step(map[sim.AgentID]space.Value{id: map[string]space.Value{"move": []int{dr, dc}}})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	move("explorer0", 0, 1)
	if s.agents["explorer0"].Pos != (geom.Pos{R: 2, C: 2}) || s.Reward("explorer0") != 0 {
		t.Fatalf("move into wall: pos=%v reward=%v", s.agents["explorer0"].Pos, s.Reward("explorer0"))
	}
	move("explorer0", 1, 0)
	if s.agents["explorer0"].Pos != (geom.Pos{R: 3, C: 2}) || s.Reward("explorer0") != 1 {
		t.Fatalf("free move: pos=%v reward=%v", s.agents["explorer0"].Pos, s.Reward("explorer0"))
	}
	move("explorer0", -1, 0)
	if s.Reward("explorer0") != 0 {
		t.Fatalf("revisit rewarded")
	}
	move("explorer1", 1, 1)
	if s.agents["explorer1"].Pos != (geom.Pos{R: 5, C: 5}) {
		t.Fatalf("moved off the grid to %v", s.agents["explorer1"].Pos)
	}
	err := s.Step(map[sim.AgentID]space.Value{"explorer0": map[string]space.Value{"move": []int{2, 0}}})
	if !errors.Is(err, space.ErrValueOutOfRange) {
		t.Fatalf("over-range move err=%v", err)
	}
	if !s.AllDone() || !s.Done("explorer0") {
		t.Fatalf("episode should be done after %d steps", s.step)
	}
}

func TestLocalGridOcclusion(t *testing.T) {
	s := newSim(t, testConfig())
	arrange(t, s, map[sim.AgentID]geom.Pos{
		"explorer0": {R: 2, C: 2},
		"explorer1": {R: 0, C: 2},
		"wall0":     {R: 2, C: 3},
		"wall1":     {R: 5, C: 0},
		"wall2":     {R: 5, C: 1},
	})
	g := s.localGrid(s.agents["explorer0"])
	at := func(dr, dc int) int { return g[(dr+2)*5+(dc+2)] }
	if at(0, 0) != 2 {
		t.Fatalf("self cell=%d", at(0, 0))
	}
	if at(0, 1) != wallEncoding {
		t.Fatalf("wall cell=%d", at(0, 1))
	}
	if at(0, 2) != -1 {
		t.Fatalf("cell behind wall=%d", at(0, 2))
	}
	if at(-2, 0) != 2 {
		t.Fatalf("other explorer=%d", at(-2, 0))
	}
	if at(1, -1) != 0 {
		t.Fatalf("empty cell=%d", at(1, -1))
	}

	arrange(t, s, map[sim.AgentID]geom.Pos{
		"explorer0": {R: 0, C: 0},
		"explorer1": {R: 4, C: 4},
		"wall0":     {R: 3, C: 3},
		"wall1":     {R: 5, C: 0},
		"wall2":     {R: 5, C: 1},
	})
	g = s.localGrid(s.agents["explorer0"])
	for dc := -2; dc <= 2; dc++ {
		if at(-1, dc) != -1 {
			t.Fatalf("off-grid row should be -1: %v", g)
		}
	}
}

func TestObservationFitsSpace(t *testing.T) {
	for _, policy := range []string{PolicyNone, PolicyDistance, PolicyLineOfSight, PolicyLineOfSightDistance} {
		cfg := testConfig()
		cfg.Policy = policy
		cfg.Broadcast = true
		cfg.Teams = 2
		s := newSim(t, cfg)
		for id, a := range s.Agents() {
			if !a.Has(sim.CapObserve) {
				continue
			}
			obs, err := s.Observation(id)
			if err != nil {
				t.Fatalf("%s: Observation(%s): %v", policy, id, err)
			}
			if _, err := space.Flatten(a.ObservationSpace, obs); err != nil {
				t.Fatalf("%s: observation of %s does not fit: %v", policy, id, err)
			}
		}
	}
}

func TestRavelMoveWrapper(t *testing.T) {
	cfg := testConfig()
	cfg.MoveWrapper = MoveWrapperRavel
	s := newSim(t, cfg)
	d := s.Agents()["explorer0"].ActionSpace.(*space.Dict)
	ch, _ := d.Get("move")
	if disc, ok := ch.(*space.Discrete); !ok || disc.N != 9 {
		t.Fatalf("move channel=%v", ch)
	}
	arrange(t, s, map[sim.AgentID]geom.Pos{
		"explorer0": {R: 2, C: 2},
		"explorer1": {R: 5, C: 5},
		"wall0":     {R: 0, C: 0},
		"wall1":     {R: 0, C: 1},
		"wall2":     {R: 0, C: 2},
	})
	if err := s.Step(map[sim.AgentID]space.Value{"explorer0": map[string]space.Value{"move": 8}}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if s.agents["explorer0"].Pos != (geom.Pos{R: 3, C: 3}) {
		t.Fatalf("index 8 should move (+1,+1), at %v", s.agents["explorer0"].Pos)
	}
	if err := s.Step(map[sim.AgentID]space.Value{"explorer0": map[string]space.Value{"move": 9}}); !errors.Is(err, space.ErrValueOutOfRange) {
		t.Fatalf("index 9 err=%v", err)
	}
}

type speakActor struct{}

func (speakActor) Key() string                { return "speak" }
func (speakActor) Supports(a *sim.Agent) bool { return a.Has(sim.CapAct) }
func (speakActor) ProcessAction(a *sim.Agent, action map[string]space.Value) (bool, error) {
	return false, nil
}

func TestActorWrapperRejectsIncompatibleChannel(t *testing.T) {
	agents := map[sim.AgentID]*sim.Agent{
		"a": {ID: "a", Caps: sim.CapAct, ActionSpace: space.NewDict(
			space.Entry{Name: "speak", Space: space.UniformBox(0, 1, space.Float, 3)},
		)},
	}
	if _, err := NewActorWrapper(speakActor{}, wrappers.NewRaveler(), agents); !errors.Is(err, sim.ErrConfiguration) {
		t.Fatalf("float channel err=%v", err)
	}
	agents["a"].ActionSpace = space.NewDiscrete(2)
	if _, err := NewActorWrapper(speakActor{}, wrappers.NewFlattener(), agents); !errors.Is(err, sim.ErrConfiguration) {
		t.Fatalf("non-dict action space err=%v", err)
	}
	agents["b"] = &sim.Agent{ID: "b"}
	delete(agents, "a")
	w, err := NewActorWrapper(speakActor{}, wrappers.NewFlattener(), agents)
	if err != nil {
		t.Fatalf("unsupported agents should be skipped: %v", err)
	}
	if changed, err := w.ProcessAction(agents["b"], map[string]space.Value{"speak": 1}); changed || err != nil {
		t.Fatalf("unsupported agent: changed=%v err=%v", changed, err)
	}
	if UnwrappedActor(w) != Actor(speakActor{}) {
		t.Fatalf("UnwrappedActor did not reach the base actor")
	}
}

func TestFlattenWrappedGridSim(t *testing.T) {
	s := newSim(t, testConfig())
	w, err := wrappers.Flatten(s)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	a := w.Agents()["explorer0"]
	obs, err := w.Observation("explorer0")
	if err != nil {
		t.Fatalf("Observation: %v", err)
	}
	if !space.Contains(a.ObservationSpace, obs) {
		t.Fatalf("flat observation outside its box")
	}
	act := make([]float64, 2)
	act[0] = 1
	if err := w.Step(map[sim.AgentID]space.Value{"explorer0": act}); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

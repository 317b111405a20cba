package tuning

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Wrapper stack entries. The move wrappers replace the move channel of the
// grid world; the rest wrap the whole simulation in list order, first entry
// innermost.
const (
	WrapRavelMove     = "ravel_move"
	WrapFlattenMove   = "flatten_move"
	WrapFlatten       = "flatten"
	WrapFlattenAction = "flatten_action"
	WrapRavelDiscrete = "ravel_discrete"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Seed       int64 `yaml:"seed"`
	TickRateHz int   `yaml:"tick_rate_hz"`
	MaxSteps   int   `yaml:"max_steps"`

	Grid        Grid        `yaml:"grid"`
	Agents      Agents      `yaml:"agents"`
	Observation Observation `yaml:"observation"`

	Wrappers []string `yaml:"wrappers"`

	// SuperAgents maps a super agent id to the agent ids it controls.
	SuperAgents map[string][]string `yaml:"super_agents,omitempty"`
}

type Grid struct {
	Rows   int    `yaml:"rows"`
	Cols   int    `yaml:"cols"`
	Walls  int    `yaml:"walls"`
	Layout string `yaml:"layout"` // "random" or "noise"
}

type Agents struct {
	Explorers      int     `yaml:"explorers"`
	Teams          int     `yaml:"teams"`
	View           int     `yaml:"view"`
	MoveRange      int     `yaml:"move_range"`
	BroadcastRange float64 `yaml:"broadcast_range"`
}

type Observation struct {
	Policy    string `yaml:"policy"` // "none", "distance", "line_of_sight", "line_of_sight_distance"
	Filter    string `yaml:"filter"` // "step", "linear"
	Norm      Norm   `yaml:"norm"`
	Broadcast bool   `yaml:"broadcast"`
}

// Norm is the order of the p-norm used for distances. It reads "inf" or a
// number >= 1; zero stands for infinity.
type Norm float64

func (n *Norm) UnmarshalYAML(node *yaml.Node) error {
	s := strings.TrimSpace(strings.ToLower(node.Value))
	switch s {
	case "inf", "+inf", ".inf", "infinity":
		*n = Norm(math.Inf(1))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("norm %q: %w", node.Value, err)
	}
	*n = Norm(f)
	return nil
}

func (n Norm) MarshalYAML() (any, error) {
	if math.IsInf(float64(n), 1) || n == 0 {
		return "inf", nil
	}
	return float64(n), nil
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Seed:            1337,
		TickRateHz:      5,
		MaxSteps:        200,
		Grid:            Grid{Rows: 12, Cols: 12, Walls: 18, Layout: "random"},
		Agents:          Agents{Explorers: 4, Teams: 2, View: 3, MoveRange: 1, BroadcastRange: 4},
		Observation:     Observation{Policy: "line_of_sight", Filter: "step", Norm: Norm(math.Inf(1))},
	}
}

// Load reads a YAML file on top of Defaults and validates the result.
func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	t, err := Parse(raw)
	if err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse overlays YAML on Defaults and validates the result.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning: %w", err)
	}
	return t, nil
}

// Encode renders t as YAML that Parse reads back.
func (t Tuning) Encode() ([]byte, error) { return yaml.Marshal(t) }

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive, got %d", t.TickRateHz)
	}
	if t.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be >= 0, got %d", t.MaxSteps)
	}
	if t.Grid.Rows <= 0 || t.Grid.Cols <= 0 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", t.Grid.Rows, t.Grid.Cols)
	}
	if t.Agents.Explorers <= 0 {
		return fmt.Errorf("explorers must be positive, got %d", t.Agents.Explorers)
	}
	if t.Grid.Walls < 0 || t.Grid.Walls+t.Agents.Explorers > t.Grid.Rows*t.Grid.Cols {
		return fmt.Errorf("%d walls and %d explorers do not fit a %dx%d grid",
			t.Grid.Walls, t.Agents.Explorers, t.Grid.Rows, t.Grid.Cols)
	}
	if t.Agents.View < 0 || t.Agents.MoveRange < 0 || t.Agents.BroadcastRange < 0 {
		return fmt.Errorf("view, move_range and broadcast_range must be >= 0")
	}
	if !oneOf(t.Grid.Layout, "", "random", "noise") {
		return fmt.Errorf("unknown layout %q", t.Grid.Layout)
	}
	if !oneOf(t.Observation.Policy, "", "none", "distance", "line_of_sight", "line_of_sight_distance") {
		return fmt.Errorf("unknown observation policy %q", t.Observation.Policy)
	}
	if !oneOf(t.Observation.Filter, "", "step", "linear") {
		return fmt.Errorf("unknown filter %q", t.Observation.Filter)
	}
	if n := float64(t.Observation.Norm); n != 0 && n < 1 {
		return fmt.Errorf("norm must be >= 1 or inf, got %v", n)
	}
	moves := 0
	for _, w := range t.Wrappers {
		switch w {
		case WrapRavelMove, WrapFlattenMove:
			moves++
		case WrapFlatten, WrapFlattenAction, WrapRavelDiscrete:
		default:
			return fmt.Errorf("unknown wrapper %q", w)
		}
	}
	if moves > 1 {
		return fmt.Errorf("at most one of %s and %s", WrapRavelMove, WrapFlattenMove)
	}
	covered := map[string]string{}
	for sid, ids := range t.SuperAgents {
		if strings.TrimSpace(sid) == "" || len(ids) == 0 {
			return fmt.Errorf("super agent %q must have an id and cover at least one agent", sid)
		}
		for _, id := range ids {
			if prev, ok := covered[id]; ok {
				return fmt.Errorf("agent %q covered by both %q and %q", id, prev, sid)
			}
			covered[id] = sid
		}
	}
	return nil
}

func oneOf(s string, allowed ...string) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

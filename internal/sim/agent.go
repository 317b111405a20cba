// Package sim defines the agents a simulation exposes, the simulation
// contract the rest of the module drives, and the SAR wrapper used to
// translate observations, actions and rewards at the simulation boundary.
package sim

import (
	"sort"

	"github.com/mojoee/Abmarl/internal/geom"
	"github.com/mojoee/Abmarl/internal/space"
)

type AgentID = string

// Capability is a closed set of flags describing what an agent can do.
type Capability uint16

const (
	CapPosition Capability = 1 << iota
	CapView
	CapAct
	CapObserve
	CapTeam
	CapBroadcast
	CapHealth
	CapOpaque
)

var capNames = []struct {
	c    Capability
	name string
}{
	{CapPosition, "position"},
	{CapView, "view"},
	{CapAct, "act"},
	{CapObserve, "observe"},
	{CapTeam, "team"},
	{CapBroadcast, "broadcast"},
	{CapHealth, "health"},
	{CapOpaque, "opaque"},
}

func (c Capability) String() string {
	out := ""
	for _, n := range capNames {
		if c&n.c == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	if out == "" {
		return "none"
	}
	return out
}

// ParseCapability maps a lowercase capability name to its flag.
func ParseCapability(name string) (Capability, bool) {
	for _, n := range capNames {
		if n.name == name {
			return n.c, true
		}
	}
	return 0, false
}

type Agent struct {
	ID   AgentID
	Caps Capability

	Pos            geom.Pos
	View           int
	Team           int
	Health         float64
	BroadcastRange float64
	MoveRange      int

	// Encoding is the value the agent shows up as in grid observations.
	Encoding int

	ActionSpace      space.Space
	ObservationSpace space.Space
}

// Has reports whether a carries every flag in c.
func (a *Agent) Has(c Capability) bool { return a.Caps&c == c }

// Clone returns a shallow copy. Spaces are immutable and shared.
func (a *Agent) Clone() *Agent {
	c := *a
	return &c
}

// SortedIDs returns the agent ids in ascending order. Every place that
// iterates agents in a reproducible order goes through here.
func SortedIDs(agents map[AgentID]*Agent) []AgentID {
	ids := make([]AgentID, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package gridworld

import (
	"fmt"

	"github.com/mojoee/Abmarl/internal/geom"
	"github.com/mojoee/Abmarl/internal/sim"
)

// Grid holds at most one agent per cell.
type Grid struct {
	Rows, Cols int
	cells      []sim.AgentID
}

func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, cells: make([]sim.AgentID, rows*cols)}
}

func (g *Grid) InBounds(p geom.Pos) bool { return geom.InRect(p, g.Rows, g.Cols) }

func (g *Grid) idx(p geom.Pos) int { return p.R*g.Cols + p.C }

// At returns the agent occupying p, if any.
func (g *Grid) At(p geom.Pos) (sim.AgentID, bool) {
	if !g.InBounds(p) {
		return "", false
	}
	id := g.cells[g.idx(p)]
	return id, id != ""
}

func (g *Grid) Place(id sim.AgentID, p geom.Pos) error {
	if !g.InBounds(p) {
		return fmt.Errorf("place %s: %v outside %dx%d grid", id, p, g.Rows, g.Cols)
	}
	if cur := g.cells[g.idx(p)]; cur != "" {
		return fmt.Errorf("place %s: %v occupied by %s", id, p, cur)
	}
	g.cells[g.idx(p)] = id
	return nil
}

// Move relocates the occupant of from to to. It does nothing and returns
// false when to is outside the grid or occupied.
func (g *Grid) Move(from, to geom.Pos) bool {
	if from == to || !g.InBounds(to) || !g.InBounds(from) {
		return false
	}
	if g.cells[g.idx(to)] != "" {
		return false
	}
	g.cells[g.idx(to)] = g.cells[g.idx(from)]
	g.cells[g.idx(from)] = ""
	return true
}

func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i] = ""
	}
}

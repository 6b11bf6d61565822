// Package fire is the forest-fire transition rule applied to one rank's band.
package fire

import (
	"errors"
	"fmt"

	"github.com/danmuck/firegrid/internal/grid"
)

var ErrMissingGhost = errors.New("fire: missing ghost row")

// Params are the per-cell event probabilities, each in [0,1].
type Params struct {
	Ignition float64
	Growth   float64
}

// offsets are the eight relative neighbour positions. Cells on the grid edge
// keep only the in-bounds ones, giving 3, 5 or 8 neighbours.
var offsets = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// Neighbors counts the in-bounds neighbours of absolute cell (row, col).
func Neighbors(rows, cols, row, col int) int {
	n := 0
	for _, o := range offsets {
		if inBounds(rows, cols, row+o[0], col+o[1]) {
			n++
		}
	}
	return n
}

func inBounds(rows, cols, r, c int) bool {
	return r >= 0 && r < rows && c >= 0 && c < cols
}

// Engine applies the rule to bands of a Rows x Cols grid.
type Engine struct {
	Rows   int
	Cols   int
	Params Params
	Source Source
}

// Step computes generation gen of cur's rows from cur (generation gen-1) and
// its ghosts. cur and the ghosts are only read; the result is a new band.
func (e Engine) Step(cur *grid.Band, ghosts grid.Ghosts, gen uint64) (*grid.Band, error) {
	if err := e.checkGhosts(cur, ghosts); err != nil {
		return nil, err
	}
	view := bandView{band: cur, ghosts: ghosts}
	next := &grid.Band{Start: cur.Start, Cols: cur.Cols, Cells: make([]grid.Cell, len(cur.Cells))}
	for r := cur.Start; r < cur.End(); r++ {
		for c := 0; c < e.Cols; c++ {
			ignite, grow := e.Source.Draws(gen, r, c)
			next.Set(r, c, e.cell(view, r, c, ignite, grow))
		}
	}
	return next, nil
}

func (e Engine) cell(v bandView, r, c int, ignite, grow float64) grid.Cell {
	trees, burning := 0, false
	for _, o := range offsets {
		nr, nc := r+o[0], c+o[1]
		if !inBounds(e.Rows, e.Cols, nr, nc) {
			continue
		}
		switch v.at(nr, nc) {
		case grid.Tree:
			trees++
		case grid.Fire:
			burning = true
		}
	}

	switch v.at(r, c) {
	case grid.Fire:
		return grid.Empty
	case grid.Tree:
		if burning || ignite < e.Params.Ignition {
			return grid.Fire
		}
		return grid.Tree
	default:
		if grow < min(1, e.Params.Growth*float64(trees+1)) {
			return grid.Tree
		}
		return grid.Empty
	}
}

func (e Engine) checkGhosts(cur *grid.Band, ghosts grid.Ghosts) error {
	if cur.Cols != e.Cols || cur.Start < 0 || cur.End() > e.Rows {
		return fmt.Errorf("fire: band rows [%d,%d) x %d outside %dx%d grid", cur.Start, cur.End(), cur.Cols, e.Rows, e.Cols)
	}
	if cur.Start > 0 && len(ghosts.Above) != e.Cols {
		return fmt.Errorf("%w: above row %d", ErrMissingGhost, cur.Start-1)
	}
	if cur.End() < e.Rows && len(ghosts.Below) != e.Cols {
		return fmt.Errorf("%w: below row %d", ErrMissingGhost, cur.End())
	}
	return nil
}

// bandView reads absolute rows from a band and the ghost rows around it.
type bandView struct {
	band   *grid.Band
	ghosts grid.Ghosts
}

func (v bandView) at(r, c int) grid.Cell {
	switch {
	case r < v.band.Start:
		return v.ghosts.Above[c]
	case r >= v.band.End():
		return v.ghosts.Below[c]
	default:
		return v.band.At(r, c)
	}
}

package grid

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

var (
	ErrInvalidCell = errors.New("grid: invalid cell")
	ErrDimensions  = errors.New("grid: dimension mismatch")
)

// Cell is one grid position. Values are the bytes of the grid file alphabet.
type Cell byte

const (
	Empty Cell = ' '
	Tree  Cell = 'T'
	Fire  Cell = 'X'
)

func (c Cell) Valid() bool {
	switch c {
	case Empty, Tree, Fire:
		return true
	default:
		return false
	}
}

func (c Cell) String() string {
	switch c {
	case Empty:
		return "empty"
	case Tree:
		return "tree"
	case Fire:
		return "fire"
	default:
		return fmt.Sprintf("cell(%q)", byte(c))
	}
}

// Grid is the full R x C automaton state, row-major.
type Grid struct {
	Rows  int
	Cols  int
	Cells []Cell
}

// New returns an all-Empty grid.
func New(rows, cols int) *Grid {
	cells := make([]Cell, rows*cols)
	for i := range cells {
		cells[i] = Empty
	}
	return &Grid{Rows: rows, Cols: cols, Cells: cells}
}

// Fill returns a grid where every cell is c.
func Fill(rows, cols int, c Cell) *Grid {
	g := New(rows, cols)
	for i := range g.Cells {
		g.Cells[i] = c
	}
	return g
}

func (g *Grid) At(row, col int) Cell {
	return g.Cells[row*g.Cols+col]
}

func (g *Grid) Set(row, col int, c Cell) {
	g.Cells[row*g.Cols+col] = c
}

// Row returns row r as a slice aliasing the grid.
func (g *Grid) Row(r int) []Cell {
	return g.Cells[r*g.Cols : (r+1)*g.Cols]
}

// Span returns rows [start, end) aliasing the grid.
func (g *Grid) Span(start, end int) []Cell {
	return g.Cells[start*g.Cols : end*g.Cols]
}

func (g *Grid) Clone() *Grid {
	cells := make([]Cell, len(g.Cells))
	copy(cells, g.Cells)
	return &Grid{Rows: g.Rows, Cols: g.Cols, Cells: cells}
}

func (g *Grid) Equal(o *Grid) bool {
	if g == nil || o == nil {
		return g == o
	}
	if g.Rows != o.Rows || g.Cols != o.Cols {
		return false
	}
	return equalCells(g.Cells, o.Cells)
}

// Diff returns the first differing position, or ok=false when the grids match.
func (g *Grid) Diff(o *Grid) (row, col int, ok bool) {
	for i := range g.Cells {
		if i >= len(o.Cells) || g.Cells[i] != o.Cells[i] {
			return i / g.Cols, i % g.Cols, true
		}
	}
	return 0, 0, false
}

// Copy writes rows into g starting at absolute row start.
func (g *Grid) Copy(start int, rows []Cell) error {
	if len(rows)%g.Cols != 0 {
		return fmt.Errorf("%w: %d cells is not a whole number of %d-column rows", ErrDimensions, len(rows), g.Cols)
	}
	n := len(rows) / g.Cols
	if start < 0 || start+n > g.Rows {
		return fmt.Errorf("%w: rows [%d,%d) outside [0,%d)", ErrDimensions, start, start+n, g.Rows)
	}
	copy(g.Cells[start*g.Cols:], rows)
	return nil
}

func equalCells(a, b []Cell) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Bytes converts cells to their wire form.
func Bytes(cells []Cell) []byte {
	out := make([]byte, len(cells))
	for i, c := range cells {
		out[i] = byte(c)
	}
	return out
}

// FromBytes converts wire bytes to cells, rejecting anything outside the alphabet.
func FromBytes(b []byte) ([]Cell, error) {
	out := make([]Cell, len(b))
	for i, v := range b {
		c := Cell(v)
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q at offset %d", ErrInvalidCell, v, i)
		}
		out[i] = c
	}
	return out, nil
}

// CloneCells returns an independent copy of cells.
func CloneCells(cells []Cell) []Cell {
	if cells == nil {
		return nil
	}
	out := make([]Cell, len(cells))
	copy(out, cells)
	return out
}

// Generate returns a random rows x cols forest: each cell is Fire with
// probability fires, else Tree with probability trees, else Empty.
func Generate(rows, cols int, trees, fires float64, seed uint64) *Grid {
	r := rand.New(rand.NewPCG(seed, 0x666972656772))
	g := New(rows, cols)
	for i := range g.Cells {
		switch u := r.Float64(); {
		case u < fires:
			g.Cells[i] = Fire
		case u < fires+trees:
			g.Cells[i] = Tree
		}
	}
	return g
}

// Package partition assigns contiguous row bands to ranks and describes the
// vertical neighbour topology between them.
package partition

import (
	"errors"
	"fmt"

	"github.com/danmuck/firegrid/internal/grid"
)

var (
	ErrInvalidLayout   = errors.New("partition: invalid layout")
	ErrUnevenPartition = errors.New("partition: rank count does not divide row count")
)

// NoNeighbor marks a missing vertical neighbour at a grid extreme.
const NoNeighbor = -1

// Layout is the fixed grid shape and rank count for one run.
type Layout struct {
	Rows  int
	Cols  int
	Ranks int
}

// Range is the half-open absolute row range [Start, End).
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int {
	return r.End - r.Start
}

// Topology is one rank's view of its position among the bands.
type Topology struct {
	Rank  int
	Size  int
	Above int
	Below int
}

func (t Topology) HasAbove() bool {
	return t.Above != NoNeighbor
}

func (t Topology) HasBelow() bool {
	return t.Below != NoNeighbor
}

// NewLayout validates the grid shape against the rank count.
func NewLayout(rows, cols, ranks int) (Layout, error) {
	if rows <= 0 || cols <= 0 {
		return Layout{}, fmt.Errorf("%w: grid %dx%d", ErrInvalidLayout, rows, cols)
	}
	if ranks <= 0 || ranks > rows {
		return Layout{}, fmt.Errorf("%w: %d ranks over %d rows", ErrInvalidLayout, ranks, rows)
	}
	if rows%ranks != 0 {
		return Layout{}, fmt.Errorf("%w: %d rows over %d ranks", ErrUnevenPartition, rows, ranks)
	}
	return Layout{Rows: rows, Cols: cols, Ranks: ranks}, nil
}

// BandRows is the number of rows every rank owns.
func (l Layout) BandRows() int {
	return l.Rows / l.Ranks
}

func (l Layout) Range(rank int) Range {
	n := l.BandRows()
	return Range{Start: rank * n, End: (rank + 1) * n}
}

func (l Layout) Topology(rank int) Topology {
	t := Topology{Rank: rank, Size: l.Ranks, Above: NoNeighbor, Below: NoNeighbor}
	if rank > 0 {
		t.Above = rank - 1
	}
	if rank < l.Ranks-1 {
		t.Below = rank + 1
	}
	return t
}

// Owner returns the rank owning absolute row r.
func (l Layout) Owner(row int) int {
	return row / l.BandRows()
}

// ValidRank reports whether rank is within [0, Ranks).
func (l Layout) ValidRank(rank int) bool {
	return rank >= 0 && rank < l.Ranks
}

// Extract copies a rank's band out of a full grid.
func (l Layout) Extract(g *grid.Grid, rank int) (*grid.Band, error) {
	if g.Rows != l.Rows || g.Cols != l.Cols {
		return nil, fmt.Errorf("%w: grid %dx%d, layout %dx%d", ErrInvalidLayout, g.Rows, g.Cols, l.Rows, l.Cols)
	}
	if !l.ValidRank(rank) {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrInvalidLayout, rank, l.Ranks)
	}
	r := l.Range(rank)
	return &grid.Band{
		Start: r.Start,
		Cols:  l.Cols,
		Cells: grid.CloneCells(g.Span(r.Start, r.End)),
	}, nil
}

// Split extracts every band in rank order.
func (l Layout) Split(g *grid.Grid) ([]*grid.Band, error) {
	bands := make([]*grid.Band, l.Ranks)
	for rank := range bands {
		b, err := l.Extract(g, rank)
		if err != nil {
			return nil, err
		}
		bands[rank] = b
	}
	return bands, nil
}

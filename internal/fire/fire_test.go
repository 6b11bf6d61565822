package fire

import (
	"math/rand/v2"
	"testing"

	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func fullBand(g *grid.Grid) *grid.Band {
	return &grid.Band{Start: 0, Cols: g.Cols, Cells: grid.CloneCells(g.Cells)}
}

func bandGrid(b *grid.Band, rows int) *grid.Grid {
	return &grid.Grid{Rows: rows, Cols: b.Cols, Cells: b.Cells}
}

func TestNeighborCardinality(t *testing.T) {
	const rows, cols = 40, 80
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			edgeR := r == 0 || r == rows-1
			edgeC := c == 0 || c == cols-1
			want := 8
			switch {
			case edgeR && edgeC:
				want = 3
			case edgeR || edgeC:
				want = 5
			}
			require.Equal(t, want, Neighbors(rows, cols, r, c), "cell (%d,%d)", r, c)
		}
	}
}

func TestCornerFireSpreadsToItsThreeNeighbours(t *testing.T) {
	g := grid.MustParse("XTT\nTTT\nTTT")
	e := Engine{Rows: 3, Cols: 3, Params: Params{}, Source: KeyedSource{Seed: 1}}
	next, err := e.Step(fullBand(g), grid.Ghosts{}, 1)
	require.NoError(t, err)
	want := grid.MustParse(" XT\nXXT\nTTT")
	assert.Equal(t, want.String(), bandGrid(next, 3).String())
}

func TestFireAlwaysDecays(t *testing.T) {
	g := grid.Fill(6, 7, grid.Fire)
	e := Engine{Rows: 6, Cols: 7, Params: Params{Ignition: 1, Growth: 1}, Source: KeyedSource{Seed: 9}}
	next, err := e.Step(fullBand(g), grid.Ghosts{}, 1)
	require.NoError(t, err)
	for i, c := range next.Cells {
		require.Equal(t, grid.Empty, c, "cell %d", i)
	}
}

func TestStepDoesNotMutateInput(t *testing.T) {
	g := grid.MustParse("XT \nT T\n TX")
	cur := fullBand(g)
	before := grid.CloneCells(cur.Cells)
	e := Engine{Rows: 3, Cols: 3, Params: Params{Ignition: 0.5, Growth: 0.5}, Source: KeyedSource{Seed: 3}}
	_, err := e.Step(cur, grid.Ghosts{}, 1)
	require.NoError(t, err)
	assert.Equal(t, before, cur.Cells)
}

func TestNoSpreadWithoutFire(t *testing.T) {
	g := grid.MustParse("TT T\n  TT\nT  T\nTTTT")
	e := Engine{Rows: 4, Cols: 4, Params: Params{}, Source: KeyedSource{Seed: 5}}
	cur := fullBand(g)
	for gen := uint64(1); gen <= 25; gen++ {
		next, err := e.Step(cur, grid.Ghosts{}, gen)
		require.NoError(t, err)
		cur = next
	}
	assert.Equal(t, g.String(), bandGrid(cur, 4).String())
}

func TestCertainIgnitionAndGrowth(t *testing.T) {
	g := grid.MustParse("T \n T")
	e := Engine{Rows: 2, Cols: 2, Params: Params{Ignition: 1, Growth: 1}, Source: KeyedSource{Seed: 5}}
	next, err := e.Step(fullBand(g), grid.Ghosts{}, 1)
	require.NoError(t, err)
	assert.Equal(t, "XT\nTX", bandGrid(next, 2).String())
}

func TestGrowthScalesWithTreeNeighbours(t *testing.T) {
	const (
		growth = 0.15
		trials = 4000
	)
	order := [][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 2}, {2, 0}, {2, 1}, {2, 2}}
	for k := 0; k <= 8; k++ {
		g := grid.New(3, 3)
		for _, rc := range order[:k] {
			g.Set(rc[0], rc[1], grid.Tree)
		}
		e := Engine{Rows: 3, Cols: 3, Params: Params{Growth: growth}, Source: KeyedSource{Seed: uint64(100 + k)}}
		cur := fullBand(g)
		grown := 0
		for gen := uint64(1); gen <= trials; gen++ {
			next, err := e.Step(cur, grid.Ghosts{}, gen)
			require.NoError(t, err)
			if next.At(1, 1) == grid.Tree {
				grown++
			}
		}

		p := min(1, growth*float64(k+1))
		if p == 1 {
			assert.Equal(t, trials, grown, "k=%d", k)
			continue
		}
		dist := distuv.Binomial{N: trials, P: p}
		tol := 5 * dist.StdDev()
		assert.InDelta(t, dist.Mean(), float64(grown), tol, "k=%d p=%.2f", k, p)
	}
}

func TestInternalBandEdgesNeedGhosts(t *testing.T) {
	g := grid.MustParse("TTT\nTTT\nTTT\nTTT")
	layout, err := partition.NewLayout(4, 3, 2)
	require.NoError(t, err)
	bands, err := layout.Split(g)
	require.NoError(t, err)
	e := Engine{Rows: 4, Cols: 3, Source: KeyedSource{}}

	_, err = e.Step(bands[0], grid.Ghosts{}, 1)
	assert.ErrorIs(t, err, ErrMissingGhost)
	_, err = e.Step(bands[1], grid.Ghosts{Below: g.Row(0)}, 1)
	assert.ErrorIs(t, err, ErrMissingGhost)
	_, err = e.Step(bands[1], grid.Ghosts{Above: g.Row(1)}, 1)
	assert.NoError(t, err)
}

func TestBandsWithGhostsMatchWholeGrid(t *testing.T) {
	g := grid.MustParse("TXT T\n TT X\nTTTTT\nX   T\nT T T\nTTXTT")
	e := Engine{Rows: 6, Cols: 5, Params: Params{Ignition: 0.2, Growth: 0.3}, Source: KeyedSource{Seed: 77}}
	whole, err := e.Step(fullBand(g), grid.Ghosts{}, 4)
	require.NoError(t, err)

	layout, err := partition.NewLayout(6, 5, 3)
	require.NoError(t, err)
	bands, err := layout.Split(g)
	require.NoError(t, err)
	for rank, b := range bands {
		var ghosts grid.Ghosts
		if b.Start > 0 {
			ghosts.Above = g.Row(b.Start - 1)
		}
		if b.End() < g.Rows {
			ghosts.Below = g.Row(b.End())
		}
		next, err := e.Step(b, ghosts, 4)
		require.NoError(t, err)
		r := layout.Range(rank)
		assert.Equal(t, whole.Cells[r.Start*5:r.End*5], next.Cells, "rank %d", rank)
	}
}

func TestKeyedSourceIsDeterministic(t *testing.T) {
	a, b := KeyedSource{Seed: 42}, KeyedSource{Seed: 42}
	i1, g1 := a.Draws(3, 10, 20)
	i2, g2 := b.Draws(3, 10, 20)
	assert.Equal(t, i1, i2)
	assert.Equal(t, g1, g2)
	assert.NotEqual(t, i1, g1)

	i3, _ := a.Draws(4, 10, 20)
	assert.NotEqual(t, i1, i3, "generation must change the draw")
	i4, _ := KeyedSource{Seed: 43}.Draws(3, 10, 20)
	assert.NotEqual(t, i1, i4, "seed must change the draw")
	for _, v := range []float64{i1, g1, i3, i4} {
		assert.True(t, v >= 0 && v < 1, "draw %v outside [0,1)", v)
	}
}

func TestStreamSourceConsumesTwoDrawsPerCell(t *testing.T) {
	const seed, rows, cols = 11, 4, 6
	src := NewStreamSource(seed, 0)
	e := Engine{Rows: rows, Cols: cols, Params: Params{Ignition: 0.5, Growth: 0.5}, Source: src}
	_, err := e.Step(fullBand(grid.MustParse("TTTTTT\nT X  T\n      \nXXTT  ")), grid.Ghosts{}, 1)
	require.NoError(t, err)

	ref := rand.New(rand.NewPCG(seed, 0))
	for i := 0; i < 2*rows*cols; i++ {
		ref.Float64()
	}
	ignite, grow := src.Draws(2, 0, 0)
	assert.Equal(t, ref.Float64(), ignite)
	assert.Equal(t, ref.Float64(), grow)
}

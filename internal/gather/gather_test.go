package gather

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/firegrid/internal/comm"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/partition"
	"github.com/danmuck/firegrid/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const sample = "" +
	"TTXT\n" +
	"T  T\n" +
	" XX \n" +
	"TTTT\n" +
	"X  X\n" +
	"T T \n"

func setup(t *testing.T, ranks int) (context.Context, *grid.Grid, partition.Layout, []*grid.Band, []*comm.Local) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	g := grid.MustParse(sample)
	layout, err := partition.NewLayout(g.Rows, g.Cols, ranks)
	require.NoError(t, err)
	bands, err := layout.Split(g)
	require.NoError(t, err)
	return ctx, g, layout, bands, comm.NewLocalWorld(ranks)
}

func TestCollectReassemblesGrid(t *testing.T) {
	testlog.Start(t)
	for _, collector := range []int{0, 2} {
		ctx, g, layout, bands, world := setup(t, 3)
		eg, ectx := errgroup.WithContext(ctx)
		var snap *Snapshot
		for rank := range bands {
			eg.Go(func() error {
				if rank == collector {
					s, err := Collect(ectx, world[rank], layout, 7, bands[rank])
					snap = s
					return err
				}
				return Contribute(ectx, world[rank], collector, 7, bands[rank])
			})
		}
		require.NoError(t, eg.Wait())
		assert.Equal(t, uint64(7), snap.Generation)
		assert.True(t, g.Equal(snap.Grid), "collector %d snapshot:\n%s", collector, snap.Grid)
	}
}

func TestCollectIgnoresArrivalOrder(t *testing.T) {
	testlog.Start(t)
	ctx, g, layout, bands, world := setup(t, 6)
	for _, rank := range []int{5, 2, 4, 1, 3} {
		require.NoError(t, Contribute(ctx, world[rank], 0, 1, bands[rank]))
	}
	snap, err := Collect(ctx, world[0], layout, 1, bands[0])
	require.NoError(t, err)
	assert.True(t, g.Equal(snap.Grid))
}

func TestCollectCopiesBands(t *testing.T) {
	testlog.Start(t)
	ctx, _, layout, bands, world := setup(t, 2)
	require.NoError(t, Contribute(ctx, world[1], 0, 0, bands[1]))
	snap, err := Collect(ctx, world[0], layout, 0, bands[0])
	require.NoError(t, err)
	want := snap.Grid.Clone()
	bands[0].Cells[0] = grid.Fire
	bands[1].Cells[0] = grid.Fire
	assert.True(t, want.Equal(snap.Grid))
}

func TestCollectRejectsForeignRows(t *testing.T) {
	testlog.Start(t)
	ctx, _, layout, bands, world := setup(t, 3)
	require.NoError(t, Contribute(ctx, world[1], 0, 2, bands[1]))
	// rank 2 reports rank 1's rows
	require.NoError(t, comm.Send(ctx, world[2], 0, comm.Packet{
		Tag: comm.TagBand, Generation: 2, StartRow: bands[1].Start, Cols: bands[1].Cols, Cells: bands[1].Cells,
	}))
	_, err := Collect(ctx, world[0], layout, 2, bands[0])
	assert.ErrorIs(t, err, ErrBandMismatch)
}

func TestCollectRejectsStaleGeneration(t *testing.T) {
	testlog.Start(t)
	ctx, _, layout, bands, world := setup(t, 2)
	require.NoError(t, Contribute(ctx, world[1], 0, 3, bands[1]))
	_, err := Collect(ctx, world[0], layout, 4, bands[0])
	assert.ErrorIs(t, err, ErrBandMismatch)
}

func TestCollectFailsOnLostContributor(t *testing.T) {
	testlog.Start(t)
	ctx, _, layout, bands, world := setup(t, 3)
	require.NoError(t, Contribute(ctx, world[1], 0, 0, bands[1]))
	require.NoError(t, world[2].Close())
	_, err := Collect(ctx, world[0], layout, 0, bands[0])
	assert.ErrorIs(t, err, comm.ErrPeerLost)
}

func TestCollectSingleRank(t *testing.T) {
	testlog.Start(t)
	ctx, g, layout, bands, world := setup(t, 1)
	snap, err := Collect(ctx, world[0], layout, 9, bands[0])
	require.NoError(t, err)
	assert.True(t, g.Equal(snap.Grid))
}

func TestScatterDistributesBands(t *testing.T) {
	testlog.Start(t)
	ctx, g, layout, bands, world := setup(t, 3)
	got := make([]*grid.Band, 3)
	eg, ectx := errgroup.WithContext(ctx)
	for rank := range world {
		eg.Go(func() error {
			var err error
			if rank == 1 {
				got[rank], err = Scatter(ectx, world[rank], layout, g)
			} else {
				got[rank], err = ReceiveBand(ectx, world[rank], layout, 1)
			}
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for rank := range bands {
		assert.Equal(t, bands[rank].Start, got[rank].Start, "rank %d", rank)
		assert.Equal(t, bands[rank].Cells, got[rank].Cells, "rank %d", rank)
	}
}

func TestReceiveBandRejectsWrongRows(t *testing.T) {
	testlog.Start(t)
	ctx, _, layout, bands, world := setup(t, 2)
	require.NoError(t, comm.Send(ctx, world[0], 1, comm.Packet{
		Tag: comm.TagScatter, StartRow: bands[0].Start, Cols: bands[0].Cols, Cells: bands[0].Cells,
	}))
	_, err := ReceiveBand(ctx, world[1], layout, 0)
	assert.ErrorIs(t, err, ErrBandMismatch)
}

// Package gather assembles full-grid snapshots at the collector rank and
// distributes the initial grid from it.
package gather

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/firegrid/internal/comm"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/partition"
	"github.com/rs/zerolog/log"
)

var ErrBandMismatch = errors.New("gather: band does not fit layout")

// Snapshot is the assembled grid at one generation.
type Snapshot struct {
	Generation uint64
	Grid       *grid.Grid
}

// Contribute sends band to the collector for generation gen.
func Contribute(ctx context.Context, c comm.Comm, collector int, gen uint64, band *grid.Band) error {
	err := comm.Send(ctx, c, collector, comm.Packet{
		Tag:        comm.TagBand,
		Generation: gen,
		StartRow:   band.Start,
		Cols:       band.Cols,
		Cells:      band.Cells,
	})
	if err != nil {
		return fmt.Errorf("gather: contribute gen %d to rank %d: %w", gen, collector, err)
	}
	return nil
}

// Collect receives every other rank's band for generation gen and copies
// them, with the collector's own band, into a fresh snapshot. Bands are
// placed by the start row they carry, so arrival order does not matter.
func Collect(ctx context.Context, c comm.Comm, layout partition.Layout, gen uint64, own *grid.Band) (*Snapshot, error) {
	g := grid.New(layout.Rows, layout.Cols)
	if err := place(g, layout, c.Rank(), gen, comm.Packet{
		Source:     c.Rank(),
		Generation: gen,
		StartRow:   own.Start,
		Cols:       own.Cols,
		Cells:      own.Cells,
	}); err != nil {
		return nil, err
	}

	reqs := make(map[int]*comm.RecvRequest, layout.Ranks-1)
	for rank := 0; rank < layout.Ranks; rank++ {
		if rank != c.Rank() {
			reqs[rank] = c.Irecv(ctx, rank, comm.TagBand)
		}
	}
	for rank := 0; rank < layout.Ranks; rank++ {
		req, ok := reqs[rank]
		if !ok {
			continue
		}
		p, err := req.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("gather: collect gen %d from rank %d: %w", gen, rank, err)
		}
		if err := place(g, layout, rank, gen, p); err != nil {
			return nil, err
		}
	}
	log.Debug().Uint64("gen", gen).Int("ranks", layout.Ranks).Msg("gather.Collect assembled")
	return &Snapshot{Generation: gen, Grid: g}, nil
}

// place checks p against the band rank owns and copies it into g.
func place(g *grid.Grid, layout partition.Layout, rank int, gen uint64, p comm.Packet) error {
	want := layout.Range(rank)
	switch {
	case p.Generation != gen:
		return fmt.Errorf("%w: rank %d sent gen %d, want %d", ErrBandMismatch, rank, p.Generation, gen)
	case p.Cols != layout.Cols:
		return fmt.Errorf("%w: rank %d sent %d columns, want %d", ErrBandMismatch, rank, p.Cols, layout.Cols)
	case p.StartRow != want.Start || p.Rows() != want.Len() || len(p.Cells) != want.Len()*layout.Cols:
		return fmt.Errorf("%w: rank %d sent rows [%d,%d), owns [%d,%d)", ErrBandMismatch, rank, p.StartRow, p.StartRow+p.Rows(), want.Start, want.End)
	}
	if err := g.Copy(p.StartRow, p.Cells); err != nil {
		return fmt.Errorf("%w: %v", ErrBandMismatch, err)
	}
	return nil
}

// Scatter sends every other rank its band of g and returns the root's own.
func Scatter(ctx context.Context, c comm.Comm, layout partition.Layout, g *grid.Grid) (*grid.Band, error) {
	bands, err := layout.Split(g)
	if err != nil {
		return nil, err
	}
	var reqs []*comm.Request
	for rank, b := range bands {
		if rank == c.Rank() {
			continue
		}
		reqs = append(reqs, c.Isend(ctx, rank, comm.Packet{
			Tag:      comm.TagScatter,
			StartRow: b.Start,
			Cols:     b.Cols,
			Cells:    b.Cells,
		}))
	}
	for _, req := range reqs {
		if err := req.Wait(ctx); err != nil {
			return nil, fmt.Errorf("gather: scatter: %w", err)
		}
	}
	return bands[c.Rank()], nil
}

// ReceiveBand waits for this rank's initial band from root.
func ReceiveBand(ctx context.Context, c comm.Comm, layout partition.Layout, root int) (*grid.Band, error) {
	p, err := comm.Recv(ctx, c, root, comm.TagScatter)
	if err != nil {
		return nil, fmt.Errorf("gather: receive band from rank %d: %w", root, err)
	}
	want := layout.Range(c.Rank())
	if p.Cols != layout.Cols || p.StartRow != want.Start || len(p.Cells) != want.Len()*layout.Cols {
		return nil, fmt.Errorf("%w: scattered rows [%d,%d), want [%d,%d)", ErrBandMismatch, p.StartRow, p.StartRow+p.Rows(), want.Start, want.End)
	}
	return &grid.Band{Start: p.StartRow, Cols: p.Cols, Cells: p.Cells}, nil
}

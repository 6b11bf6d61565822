// Package halo exchanges boundary rows between vertically adjacent ranks.
package halo

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/firegrid/internal/comm"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/partition"
)

var ErrHaloMismatch = errors.New("halo: mismatched ghost row")

// Exchange sends the band's boundary rows to its neighbours and returns their
// boundary rows as ghosts for generation gen.
//
// Both sends are posted before either receive is waited on, so two neighbours
// exchanging at once cannot deadlock. The call returns only after every send
// and receive has completed; band may be mutated afterwards.
func Exchange(ctx context.Context, c comm.Comm, topo partition.Topology, gen uint64, band *grid.Band) (grid.Ghosts, error) {
	var (
		sends    []*comm.Request
		fromUp   *comm.RecvRequest
		fromDown *comm.RecvRequest
	)
	if topo.HasBelow() {
		sends = append(sends, c.Isend(ctx, topo.Below, comm.Packet{
			Tag:        comm.TagRowDown,
			Generation: gen,
			StartRow:   band.End() - 1,
			Cols:       band.Cols,
			Cells:      grid.CloneCells(band.Bottom()),
		}))
		fromDown = c.Irecv(ctx, topo.Below, comm.TagRowUp)
	}
	if topo.HasAbove() {
		sends = append(sends, c.Isend(ctx, topo.Above, comm.Packet{
			Tag:        comm.TagRowUp,
			Generation: gen,
			StartRow:   band.Start,
			Cols:       band.Cols,
			Cells:      grid.CloneCells(band.Top()),
		}))
		fromUp = c.Irecv(ctx, topo.Above, comm.TagRowDown)
	}

	var ghosts grid.Ghosts
	var err error
	if fromUp != nil {
		ghosts.Above, err = await(ctx, fromUp, gen, band.Start-1, band.Cols)
		if err != nil {
			return grid.Ghosts{}, err
		}
	}
	if fromDown != nil {
		ghosts.Below, err = await(ctx, fromDown, gen, band.End(), band.Cols)
		if err != nil {
			return grid.Ghosts{}, err
		}
	}
	for _, req := range sends {
		if err := req.Wait(ctx); err != nil {
			return grid.Ghosts{}, fmt.Errorf("halo: send gen %d: %w", gen, err)
		}
	}
	return ghosts, nil
}

func await(ctx context.Context, req *comm.RecvRequest, gen uint64, row, cols int) ([]grid.Cell, error) {
	p, err := req.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("halo: recv row %d gen %d: %w", row, gen, err)
	}
	switch {
	case p.Generation != gen:
		return nil, fmt.Errorf("%w: row %d from rank %d is gen %d, want %d", ErrHaloMismatch, row, p.Source, p.Generation, gen)
	case p.StartRow != row:
		return nil, fmt.Errorf("%w: rank %d sent row %d, want %d", ErrHaloMismatch, p.Source, p.StartRow, row)
	case p.Cols != cols || len(p.Cells) != cols:
		return nil, fmt.Errorf("%w: row %d from rank %d has %d cells, want %d", ErrHaloMismatch, row, p.Source, len(p.Cells), cols)
	}
	return p.Cells, nil
}

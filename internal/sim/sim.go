// Package sim drives the generation loop on every rank.
//
// Each generation a rank exchanges halos, steps its band into a fresh buffer,
// swaps the buffers and, when the generation is observed, sends its band to
// the collector. Ranks only meet at halo exchanges and gathers.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/firegrid/internal/comm"
	"github.com/danmuck/firegrid/internal/gather"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/halo"
	"github.com/danmuck/firegrid/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// RunRank advances band through cfg.Generations generations and returns the
// final band. obs is only called on the collector.
func RunRank(ctx context.Context, c comm.Comm, cfg Config, band *grid.Band, obs Observer) (*grid.Band, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rank := c.Rank()
	if c.Size() != cfg.Layout.Ranks {
		return nil, fmt.Errorf("%w: comm has %d ranks, layout %d", ErrInvalidConfig, c.Size(), cfg.Layout.Ranks)
	}
	if want := cfg.Layout.Range(rank); band.Start != want.Start || band.Rows() != want.Len() || band.Cols != cfg.Layout.Cols {
		return nil, fmt.Errorf("%w: rank %d band [%d,%d) want [%d,%d)", ErrInvalidConfig, rank, band.Start, band.End(), want.Start, want.End)
	}
	topo := cfg.Layout.Topology(rank)
	engine := cfg.engine(rank)
	logger := log.With().Str("component", "sim").Int("rank", rank).Logger()

	cur := band
	if cfg.Mode == ModeAnimated {
		if err := observe(ctx, c, cfg, 0, cur, obs); err != nil {
			return nil, err
		}
	}
	for gen := 1; gen <= cfg.Generations; gen++ {
		start := time.Now()
		ghosts, err := halo.Exchange(ctx, c, topo, uint64(gen-1), cur)
		if err != nil {
			return nil, err
		}
		observability.RecordPhase(rank, observability.PhaseHalo, time.Since(start))

		start = time.Now()
		next, err := engine.Step(cur, ghosts, uint64(gen))
		if err != nil {
			return nil, err
		}
		cur = next
		observability.RecordPhase(rank, observability.PhaseStep, time.Since(start))

		if cfg.Observed(gen) {
			start = time.Now()
			if err := observe(ctx, c, cfg, gen, cur, obs); err != nil {
				return nil, err
			}
			observability.RecordPhase(rank, observability.PhaseGather, time.Since(start))
		}
		observability.RecordGeneration(rank)
		logger.Trace().Int("gen", gen).Msg("sim.RunRank generation done")
	}
	logger.Debug().Int("generations", cfg.Generations).Msg("sim.RunRank finished")
	return cur, nil
}

func observe(ctx context.Context, c comm.Comm, cfg Config, gen int, band *grid.Band, obs Observer) error {
	if c.Rank() != cfg.Collector {
		return gather.Contribute(ctx, c, cfg.Collector, uint64(gen), band)
	}
	snap, err := gather.Collect(ctx, c, cfg.Layout, uint64(gen), band)
	if err != nil {
		return err
	}
	observability.RecordSnapshot()
	if obs == nil {
		return nil
	}
	if err := obs.Observe(ctx, snap); err != nil {
		return fmt.Errorf("sim: observe gen %d: %w", gen, err)
	}
	return nil
}

// Run executes every rank as a goroutine over an in-process world and
// returns the final grid. Any rank's error cancels the rest.
func Run(ctx context.Context, cfg Config, g *grid.Grid, obs Observer) (*grid.Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bands, err := cfg.Layout.Split(g)
	if err != nil {
		return nil, err
	}
	world := comm.NewLocalWorld(cfg.Layout.Ranks)
	defer func() {
		for _, c := range world {
			c.Close()
		}
	}()

	log.Info().
		Int("rows", cfg.Layout.Rows).
		Int("cols", cfg.Layout.Cols).
		Int("ranks", cfg.Layout.Ranks).
		Int("generations", cfg.Generations).
		Str("mode", string(cfg.Mode)).
		Str("draws", string(cfg.Draws)).
		Msg("sim.Run start")

	finals := make([]*grid.Band, len(bands))
	eg, ectx := errgroup.WithContext(ctx)
	for rank := range bands {
		eg.Go(func() error {
			final, err := RunRank(ectx, world[rank], cfg, bands[rank], obs)
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			finals[rank] = final
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := grid.New(cfg.Layout.Rows, cfg.Layout.Cols)
	for _, b := range finals {
		if err := out.Copy(b.Start, b.Cells); err != nil {
			return nil, err
		}
	}
	log.Info().Int("generations", cfg.Generations).Msg("sim.Run done")
	return out, nil
}

// RunMember runs this process's rank of a distributed run. The collector
// loads g and scatters it; other ranks pass nil and receive their band. The
// collector returns the final gathered grid, other ranks return nil.
func RunMember(ctx context.Context, c comm.Comm, cfg Config, g *grid.Grid, obs Observer) (*grid.Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		band *grid.Band
		err  error
	)
	if c.Rank() == cfg.Collector {
		if g == nil {
			return nil, fmt.Errorf("%w: collector has no initial grid", ErrInvalidConfig)
		}
		band, err = gather.Scatter(ctx, c, cfg.Layout, g)
	} else {
		band, err = gather.ReceiveBand(ctx, c, cfg.Layout, cfg.Collector)
	}
	if err != nil {
		return nil, err
	}

	last := &lastSnapshot{}
	if _, err := RunRank(ctx, c, cfg, band, Observers{obs, last}); err != nil {
		return nil, err
	}
	if last.snap == nil {
		return nil, nil
	}
	return last.snap.Grid, nil
}

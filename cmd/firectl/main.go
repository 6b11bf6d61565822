package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/firegrid/internal/census"
	"github.com/danmuck/firegrid/internal/config"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/logging"
	"github.com/danmuck/firegrid/internal/observe"
	"github.com/danmuck/firegrid/internal/render"
	"github.com/danmuck/firegrid/internal/sim"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "firectl: %v\n", err)
		os.Exit(1)
	}
}

// run executes a whole simulation in this process, one goroutine per rank.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, quiet, err := parseFlags(args)
	if err != nil {
		return err
	}
	simCfg, err := cfg.Sim()
	if err != nil {
		return err
	}
	g, err := grid.Load(cfg.GridPath, cfg.Rows, cfg.Cols)
	if err != nil {
		return err
	}

	rec := census.NewRecorder()
	observers := sim.Observers{rec}
	if !quiet {
		term := render.NewTerminal(stdout, cfg.FrameDelay)
		defer term.Close()
		observers = append(observers, term)
	}

	eg, ectx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(ectx)
	if cfg.ObserveAddr != "" {
		srv := observe.New("firectl", cfg.CorsOrigins, rec)
		observers = append(observers, srv)
		eg.Go(func() error {
			return srv.Serve(runCtx, cfg.ObserveAddr)
		})
	}

	var final *grid.Grid
	eg.Go(func() error {
		defer finish()
		var err error
		final, err = sim.Run(runCtx, simCfg, g, observers)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	if cfg.OutputPath != "" {
		if err := grid.Save(cfg.OutputPath, final); err != nil {
			return err
		}
		log.Info().Str("path", cfg.OutputPath).Msg("firectl wrote final grid")
	}
	s := rec.Summary()
	log.Info().
		Int("snapshots", s.Snapshots).
		Float64("mean_trees", s.MeanTrees).
		Float64("peak_fires", s.PeakFires).
		Uint64("peak_generation", s.PeakGen).
		Msg("firectl run complete")
	return nil
}

// parseFlags loads -config (or the defaults) and applies the flags that were
// set explicitly on top.
func parseFlags(args []string) (config.Config, bool, error) {
	fs := flag.NewFlagSet("firectl", flag.ContinueOnError)
	path := fs.String("config", "", "path to a TOML run config")
	gridPath := fs.String("grid", "", "initial grid file")
	output := fs.String("output", "", "write the final grid here")
	generations := fs.Int("generations", 0, "number of generations")
	ignition := fs.Float64("ignition", 0, "ignition probability in [0,1]")
	growth := fs.Float64("growth", 0, "growth probability in [0,1]")
	ranks := fs.Int("ranks", 0, "rank count; must divide the row count")
	seed := fs.Uint64("seed", 0, "random seed")
	draws := fs.String("draws", "", "draw source: keyed|stream")
	mode := fs.String("mode", "", "observation mode: batch|animated")
	observeAddr := fs.String("observe", "", "serve /health, /metrics and /snapshot on this address")
	quiet := fs.Bool("quiet", false, "do not draw frames")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, err
	}

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return config.Config{}, false, err
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "grid":
			cfg.GridPath = *gridPath
		case "output":
			cfg.OutputPath = *output
		case "generations":
			cfg.Generations = *generations
		case "ignition":
			cfg.Ignition = *ignition
		case "growth":
			cfg.Growth = *growth
		case "ranks":
			cfg.Ranks = *ranks
		case "seed":
			cfg.Seed = *seed
		case "draws":
			cfg.Draws = sim.DrawMode(*draws)
		case "mode":
			cfg.Mode = sim.Mode(*mode)
		case "observe":
			cfg.ObserveAddr = *observeAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, err
	}
	return cfg, *quiet, nil
}

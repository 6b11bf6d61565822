package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/firegrid/internal/census"
	"github.com/danmuck/firegrid/internal/comm"
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
		fmt.Fprintf(os.Stderr, "rankctl: %v\n", err)
		os.Exit(1)
	}
}

// run joins one rank of a multi-process run described by a cluster config.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("rankctl", flag.ContinueOnError)
	path := fs.String("config", "", "path to this rank's TOML config")
	rank := fs.Int("rank", -1, "override cluster.rank")
	gridPath := fs.String("grid", "", "override the initial grid (collector only)")
	quiet := fs.Bool("quiet", false, "do not draw frames on the collector")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("%w: -config is required", config.ErrInvalidConfig)
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	if *rank >= 0 {
		cfg.Cluster.Rank = *rank
	}
	if *gridPath != "" {
		cfg.GridPath = *gridPath
	}
	if err := cfg.ValidateCluster(); err != nil {
		return err
	}
	simCfg, err := cfg.Sim()
	if err != nil {
		return err
	}

	ln, err := listen(cfg)
	if err != nil {
		return err
	}
	mesh, err := comm.Connect(ctx, ln, cfg.Mesh())
	if err != nil {
		return err
	}
	defer mesh.Close()

	collector := cfg.Cluster.Rank == cfg.Cluster.Collector
	var (
		g         *grid.Grid
		observers sim.Observers
		rec       = census.NewRecorder()
	)
	if collector {
		if g, err = grid.Load(cfg.GridPath, cfg.Rows, cfg.Cols); err != nil {
			return err
		}
		observers = append(observers, rec)
		if !*quiet {
			term := render.NewTerminal(stdout, cfg.FrameDelay)
			defer term.Close()
			observers = append(observers, term)
		}
	}

	eg, ectx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(ectx)
	if collector && cfg.ObserveAddr != "" {
		srv := observe.New(fmt.Sprintf("%s/rank-%d", cfg.Cluster.ID, cfg.Cluster.Rank), cfg.CorsOrigins, rec)
		observers = append(observers, srv)
		eg.Go(func() error {
			return srv.Serve(runCtx, cfg.ObserveAddr)
		})
	}

	var final *grid.Grid
	eg.Go(func() error {
		defer finish()
		var err error
		final, err = sim.RunMember(runCtx, mesh, simCfg, g, observers)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	if collector && cfg.OutputPath != "" && final != nil {
		if err := grid.Save(cfg.OutputPath, final); err != nil {
			return err
		}
		log.Info().Str("path", cfg.OutputPath).Msg("rankctl wrote final grid")
	}
	log.Info().
		Str("cluster", cfg.Cluster.ID).
		Int("rank", cfg.Cluster.Rank).
		Int("generations", cfg.Generations).
		Msg("rankctl run complete")
	return nil
}

// listen binds every interface on the port of this rank's peer address.
func listen(cfg config.Config) (net.Listener, error) {
	_, port, err := net.SplitHostPort(cfg.Cluster.Peers[cfg.Cluster.Rank])
	if err != nil {
		return nil, fmt.Errorf("%w: cluster.peers[%d]: %w", config.ErrInvalidConfig, cfg.Cluster.Rank, err)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", port))
	if err != nil {
		return nil, fmt.Errorf("rank %d listen: %w", cfg.Cluster.Rank, err)
	}
	log.Debug().Str("addr", ln.Addr().String()).Int("rank", cfg.Cluster.Rank).Msg("rankctl listening")
	return ln, nil
}

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/firegrid/internal/config"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("configgen", flag.ContinueOnError)
	output := fs.String("output", "config.toml", "output path for the config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "config.toml", "config path for -validate")
	clusterDir := fs.String("cluster-dir", "", "write one rank-<i>.toml per rank into this directory")
	baseConfig := fs.String("base-config", "", "config the cluster files derive from (defaults when empty)")
	host := fs.String("host", "127.0.0.1", "peer host for -cluster-dir")
	basePort := fs.Int("base-port", 7400, "rank 0 port for -cluster-dir; rank i uses base+i")
	forest := fs.String("forest", "", "write a random initial grid to this path")
	rows := fs.Int("rows", 40, "grid rows for -forest")
	cols := fs.Int("cols", 80, "grid columns for -forest")
	trees := fs.Float64("trees", 0.6, "tree density for -forest")
	fires := fs.Float64("fires", 0.001, "fire density for -forest")
	seed := fs.Uint64("seed", 1, "seed for -forest")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *validate:
		cfg, err := config.Load(*input)
		if err != nil {
			return err
		}
		if len(cfg.Cluster.Peers) > 0 {
			if err := cfg.ValidateCluster(); err != nil {
				return err
			}
		}
		log.Info().Str("path", *input).Msg("configgen validated config")
		fmt.Fprintf(stdout, "ok %s\n", *input)
		return nil

	case *clusterDir != "":
		base := config.Default()
		if *baseConfig != "" {
			loaded, err := config.Load(*baseConfig)
			if err != nil {
				return err
			}
			base = loaded
		}
		cfgs, err := config.ClusterConfigs(base, *host, *basePort)
		if err != nil {
			return err
		}
		paths, err := config.WriteClusterConfigs(*clusterDir, cfgs, *force)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(stdout, p)
		}
		log.Info().Str("dir", *clusterDir).Int("ranks", len(paths)).Msg("configgen wrote cluster configs")
		return nil

	case *forest != "":
		if *trees < 0 || *fires < 0 || *trees+*fires > 1 {
			return fmt.Errorf("%w: densities trees=%g fires=%g", config.ErrParameterRange, *trees, *fires)
		}
		if *rows <= 0 || *cols <= 0 {
			return fmt.Errorf("%w: grid %dx%d", config.ErrInvalidConfig, *rows, *cols)
		}
		if !*force {
			if _, err := os.Stat(*forest); err == nil {
				return fmt.Errorf("grid already exists: %s", *forest)
			}
		}
		if err := grid.Save(*forest, grid.Generate(*rows, *cols, *trees, *fires, *seed)); err != nil {
			return err
		}
		log.Info().Str("path", *forest).Int("rows", *rows).Int("cols", *cols).Msg("configgen wrote grid")
		fmt.Fprintln(stdout, *forest)
		return nil
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		return err
	}
	log.Info().Str("path", *output).Msg("configgen wrote config template")
	fmt.Fprintln(stdout, *output)
	return nil
}

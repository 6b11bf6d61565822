package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/firegrid/internal/config"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/sim"
	"github.com/danmuck/firegrid/internal/testutil/testlog"
)

func TestRunWritesSameGridAsSimRun(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "forest.txt")
	out := filepath.Join(dir, "final.txt")
	start := grid.Generate(40, 80, 0.6, 0.01, 3)
	if err := grid.Save(in, start); err != nil {
		t.Fatalf("save grid: %v", err)
	}

	args := []string{"-grid", in, "-output", out, "-generations", "12", "-ranks", "8", "-growth", "0.05", "-seed", "7", "-quiet"}
	if err := run(context.Background(), args, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := grid.Load(out, 40, 80)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}

	cfg := config.Default()
	cfg.Generations = 12
	cfg.Ranks = 1
	cfg.Growth = 0.05
	cfg.Seed = 7
	simCfg, err := cfg.Sim()
	if err != nil {
		t.Fatalf("sim config: %v", err)
	}
	want, err := sim.Run(context.Background(), simCfg, start, nil)
	if err != nil {
		t.Fatalf("reference run: %v", err)
	}
	if r, c, ok := got.Diff(want); ok {
		t.Fatalf("output differs from single-rank run at (%d,%d)", r, c)
	}
}

func TestRunDrawsFinalFrame(t *testing.T) {
	testlog.Start(t)
	in := filepath.Join(t.TempDir(), "forest.txt")
	if err := grid.Save(in, grid.Fill(40, 80, grid.Tree)); err != nil {
		t.Fatalf("save grid: %v", err)
	}
	var stdout bytes.Buffer
	args := []string{"-grid", in, "-generations", "3", "-ignition", "0", "-growth", "0"}
	if err := run(context.Background(), args, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "generation 3  trees 3200  fires 0  empty 0") {
		t.Fatalf("missing final frame header in %q", stdout.String()[:min(len(stdout.String()), 200)])
	}
}

func TestParseFlagsOverridesOnlyExplicitFlags(t *testing.T) {
	testlog.Start(t)
	cfg, quiet, err := parseFlags([]string{"-ranks", "5", "-mode", "animated", "-quiet"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !quiet {
		t.Fatalf("expected quiet")
	}
	want := config.Default()
	want.Ranks = 5
	want.Mode = sim.ModeAnimated
	if cfg.Ranks != want.Ranks || cfg.Mode != want.Mode || cfg.Generations != want.Generations || cfg.Ignition != want.Ignition {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseFlagsRejectsIndivisibleRanks(t *testing.T) {
	testlog.Start(t)
	if _, _, err := parseFlags([]string{"-ranks", "3"}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

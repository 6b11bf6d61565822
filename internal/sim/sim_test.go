package sim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/firegrid/internal/comm"
	"github.com/danmuck/firegrid/internal/fire"
	"github.com/danmuck/firegrid/internal/gather"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/partition"
	"github.com/danmuck/firegrid/internal/protocol/session"
	"github.com/danmuck/firegrid/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// forest builds a deterministic 40x80 grid with a few fires.
func forest() *grid.Grid {
	g := grid.New(40, 80)
	src := fire.KeyedSource{Seed: 2024}
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			a, _ := src.Draws(0, r, c)
			switch {
			case a < 0.02:
				g.Set(r, c, grid.Fire)
			case a < 0.65:
				g.Set(r, c, grid.Tree)
			}
		}
	}
	return g
}

func testConfig(t *testing.T, ranks int) Config {
	t.Helper()
	layout, err := partition.NewLayout(40, 80, ranks)
	require.NoError(t, err)
	return Config{
		Layout:      layout,
		Generations: 30,
		Params:      fire.Params{Ignition: 0.001, Growth: 0.02},
		Seed:        99,
		Draws:       DrawsKeyed,
		Mode:        ModeBatch,
	}
}

func runCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// sequential steps the whole grid on one band with no communication.
func sequential(t *testing.T, cfg Config, g *grid.Grid) *grid.Grid {
	t.Helper()
	e := cfg.engine(0)
	cur := &grid.Band{Start: 0, Cols: g.Cols, Cells: grid.CloneCells(g.Cells)}
	for gen := 1; gen <= cfg.Generations; gen++ {
		next, err := e.Step(cur, grid.Ghosts{}, uint64(gen))
		require.NoError(t, err)
		cur = next
	}
	return &grid.Grid{Rows: g.Rows, Cols: g.Cols, Cells: cur.Cells}
}

func requireSameGrid(t *testing.T, want, got *grid.Grid, msg string) {
	t.Helper()
	if r, c, diff := want.Diff(got); diff {
		t.Fatalf("%s: grids differ at (%d,%d): want %q got %q", msg, r, c, want.At(r, c), got.At(r, c))
	}
}

func TestRunIsPartitionTransparent(t *testing.T) {
	testlog.Start(t)
	g := forest()
	want := sequential(t, testConfig(t, 1), g)
	for _, ranks := range []int{1, 2, 4, 5, 8, 10, 40} {
		cfg := testConfig(t, ranks)
		got, err := Run(runCtx(t), cfg, g, nil)
		require.NoError(t, err, "ranks=%d", ranks)
		requireSameGrid(t, want, got, fmt.Sprintf("ranks=%d", ranks))
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	testlog.Start(t)
	g := forest()
	before := g.Clone()
	_, err := Run(runCtx(t), testConfig(t, 4), g, nil)
	require.NoError(t, err)
	assert.True(t, before.Equal(g))
}

func TestRunCollectorMatchesFinalGrid(t *testing.T) {
	testlog.Start(t)
	g := forest()
	for _, collector := range []int{0, 3} {
		cfg := testConfig(t, 4)
		cfg.Collector = collector
		last := &lastSnapshot{}
		got, err := Run(runCtx(t), cfg, g, last)
		require.NoError(t, err)
		require.NotNil(t, last.snap)
		assert.Equal(t, uint64(cfg.Generations), last.snap.Generation)
		requireSameGrid(t, got, last.snap.Grid, "collector snapshot")
	}
}

func TestAnimatedModeObservesEveryGeneration(t *testing.T) {
	testlog.Start(t)
	g := forest()
	cfg := testConfig(t, 5)
	cfg.Mode = ModeAnimated
	cfg.Generations = 6

	var gens []uint64
	var snaps []*grid.Grid
	obs := ObserverFunc(func(_ context.Context, s *gather.Snapshot) error {
		gens = append(gens, s.Generation)
		snaps = append(snaps, s.Grid)
		return nil
	})
	final, err := Run(runCtx(t), cfg, g, obs)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6}, gens)
	requireSameGrid(t, g, snaps[0], "generation 0")
	requireSameGrid(t, final, snaps[6], "final generation")
}

func TestBatchModeObservesOnlyFinalGeneration(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t, 2)
	cfg.Generations = 4
	calls := 0
	_, err := Run(runCtx(t), cfg, forest(), ObserverFunc(func(_ context.Context, s *gather.Snapshot) error {
		calls++
		assert.Equal(t, uint64(4), s.Generation)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestNoFireNoIgnitionIsStable(t *testing.T) {
	testlog.Start(t)
	g := forest()
	for i, c := range g.Cells {
		if c == grid.Fire {
			g.Cells[i] = grid.Tree
		}
	}
	cfg := testConfig(t, 4)
	cfg.Params = fire.Params{}
	got, err := Run(runCtx(t), cfg, g, nil)
	require.NoError(t, err)
	requireSameGrid(t, g, got, "no spread")
}

func TestStreamDrawsSingleRankMatchSequential(t *testing.T) {
	testlog.Start(t)
	g := forest()
	cfg := testConfig(t, 1)
	cfg.Draws = DrawsStream
	got, err := Run(runCtx(t), cfg, g, nil)
	require.NoError(t, err)
	requireSameGrid(t, sequential(t, cfg, g), got, "stream draws")
}

func TestObserverErrorStopsRun(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t, 4)
	cfg.Mode = ModeAnimated
	boom := errors.New("renderer gone")
	_, err := Run(runCtx(t), cfg, forest(), ObserverFunc(func(_ context.Context, s *gather.Snapshot) error {
		if s.Generation == 3 {
			return boom
		}
		return nil
	}))
	assert.ErrorIs(t, err, boom)
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	base := testConfig(t, 4)
	cases := map[string]func(*Config){
		"generations": func(c *Config) { c.Generations = 0 },
		"collector":   func(c *Config) { c.Collector = 4 },
		"mode":        func(c *Config) { c.Mode = "loop" },
		"draws":       func(c *Config) { c.Draws = "" },
		"layout":      func(c *Config) { c.Layout = partition.Layout{} },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, name)
	}
	assert.NoError(t, base.Validate())
}

func TestRunRejectsMismatchedGrid(t *testing.T) {
	testlog.Start(t)
	_, err := Run(runCtx(t), testConfig(t, 4), grid.New(10, 10), nil)
	assert.ErrorIs(t, err, partition.ErrInvalidLayout)
}

func TestMeshRunMatchesInProcess(t *testing.T) {
	testlog.Start(t)
	ctx := runCtx(t)
	g := forest()
	cfg := testConfig(t, 4)
	cfg.Collector = 1
	cfg.Generations = 12
	want, err := Run(ctx, cfg, g, nil)
	require.NoError(t, err)

	lns := make([]net.Listener, cfg.Layout.Ranks)
	addrs := make([]string, cfg.Layout.Ranks)
	for i := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns[i] = ln
		addrs[i] = ln.Addr().String()
	}

	var mu sync.Mutex
	var got *grid.Grid
	eg, ectx := errgroup.WithContext(ctx)
	for rank := range lns {
		eg.Go(func() error {
			m, err := comm.Connect(ectx, lns[rank], comm.MeshConfig{
				ClusterID: "sim-test",
				Rank:      rank,
				Peers:     addrs,
				Session:   session.Config{Backoff: session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 100 * time.Millisecond}},
			})
			if err != nil {
				return err
			}
			defer m.Close()
			var initial *grid.Grid
			if rank == cfg.Collector {
				initial = g
			}
			final, err := RunMember(ectx, m, cfg, initial, nil)
			if err != nil {
				return err
			}
			if final != nil {
				mu.Lock()
				got = final
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.NotNil(t, got)
	requireSameGrid(t, want, got, "mesh run")
}

func TestRunMemberCollectorNeedsGrid(t *testing.T) {
	testlog.Start(t)
	world := comm.NewLocalWorld(1)
	cfg := testConfig(t, 1)
	_, err := RunMember(runCtx(t), world[0], cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

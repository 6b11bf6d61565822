// Package config loads and validates firegrid run configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/firegrid/internal/comm"
	"github.com/danmuck/firegrid/internal/fire"
	"github.com/danmuck/firegrid/internal/partition"
	"github.com/danmuck/firegrid/internal/protocol/session"
	"github.com/danmuck/firegrid/internal/sim"
)

var (
	ErrInvalidConfig  = errors.New("config: invalid config")
	ErrParameterRange = errors.New("config: parameter out of range")
)

// Cluster places this process in a multi-process run.
type Cluster struct {
	ID                 string
	Rank               int
	Collector          int
	Peers              []string
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	MaxConnectAttempts int
}

// Config is a resolved run configuration.
type Config struct {
	GridPath    string
	OutputPath  string
	Rows        int
	Cols        int
	Ranks       int
	Generations int
	Ignition    float64
	Growth      float64
	Seed        uint64
	Draws       sim.DrawMode
	Mode        sim.Mode
	FrameDelay  time.Duration
	ObserveAddr string
	CorsOrigins []string
	Cluster     Cluster
}

// Default matches the classic 40x80 forest run.
func Default() Config {
	s := session.DefaultConfig()
	return Config{
		GridPath:    "forest.txt",
		Rows:        40,
		Cols:        80,
		Ranks:       4,
		Generations: 100,
		Ignition:    0.0001,
		Growth:      0.01,
		Seed:        1,
		Draws:       sim.DrawsKeyed,
		Mode:        sim.ModeBatch,
		FrameDelay:  time.Second,
		Cluster: Cluster{
			ID:                 "firegrid",
			ConnectTimeout:     s.ConnectTimeout,
			HandshakeTimeout:   s.HandshakeTimeout,
			MaxConnectAttempts: s.MaxConnectAttempts,
		},
	}
}

// Load overlays the keys present in path onto Default and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	var raw File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}
	if err := cfg.overlay(meta, raw); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) overlay(meta toml.MetaData, raw File) error {
	if meta.IsDefined("grid") {
		c.GridPath = strings.TrimSpace(raw.Grid)
	}
	if meta.IsDefined("output") {
		c.OutputPath = strings.TrimSpace(raw.Output)
	}
	if meta.IsDefined("rows") {
		c.Rows = raw.Rows
	}
	if meta.IsDefined("cols") {
		c.Cols = raw.Cols
	}
	if meta.IsDefined("ranks") {
		c.Ranks = raw.Ranks
	}
	if meta.IsDefined("generations") {
		c.Generations = raw.Generations
	}
	if meta.IsDefined("ignition_probability") {
		c.Ignition = raw.IgnitionProbability
	}
	if meta.IsDefined("growth_probability") {
		c.Growth = raw.GrowthProbability
	}
	if meta.IsDefined("seed") {
		c.Seed = raw.Seed
	}
	if meta.IsDefined("draws") {
		c.Draws = sim.DrawMode(strings.ToLower(strings.TrimSpace(raw.Draws)))
	}
	if meta.IsDefined("mode") {
		c.Mode = sim.Mode(strings.ToLower(strings.TrimSpace(raw.Mode)))
	}
	if meta.IsDefined("frame_delay") {
		d, err := parseDuration("frame_delay", raw.FrameDelay)
		if err != nil {
			return err
		}
		c.FrameDelay = d
	}
	if meta.IsDefined("observe_addr") {
		c.ObserveAddr = strings.TrimSpace(raw.ObserveAddr)
	}
	if meta.IsDefined("cors_origins") {
		c.CorsOrigins = raw.CorsOrigins
	}

	if meta.IsDefined("cluster", "id") {
		c.Cluster.ID = strings.TrimSpace(raw.Cluster.ID)
	}
	if meta.IsDefined("cluster", "rank") {
		c.Cluster.Rank = raw.Cluster.Rank
	}
	if meta.IsDefined("cluster", "collector") {
		c.Cluster.Collector = raw.Cluster.Collector
	}
	if meta.IsDefined("cluster", "peers") {
		c.Cluster.Peers = raw.Cluster.Peers
	}
	if meta.IsDefined("cluster", "connect_timeout") {
		d, err := parseDuration("cluster.connect_timeout", raw.Cluster.ConnectTimeout)
		if err != nil {
			return err
		}
		c.Cluster.ConnectTimeout = d
	}
	if meta.IsDefined("cluster", "handshake_timeout") {
		d, err := parseDuration("cluster.handshake_timeout", raw.Cluster.HandshakeTimeout)
		if err != nil {
			return err
		}
		c.Cluster.HandshakeTimeout = d
	}
	if meta.IsDefined("cluster", "max_connect_attempts") {
		c.Cluster.MaxConnectAttempts = raw.Cluster.MaxConnectAttempts
	}
	return nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidConfig, key)
	}
	return d, nil
}

// Validate checks everything a single-process run depends on.
func (c Config) Validate() error {
	if c.Ignition < 0 || c.Ignition > 1 {
		return fmt.Errorf("%w: ignition_probability %v not in [0,1]", ErrParameterRange, c.Ignition)
	}
	if c.Growth < 0 || c.Growth > 1 {
		return fmt.Errorf("%w: growth_probability %v not in [0,1]", ErrParameterRange, c.Growth)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("%w: generations must be positive, got %d", ErrInvalidConfig, c.Generations)
	}
	if _, err := partition.NewLayout(c.Rows, c.Cols, c.Ranks); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Draws {
	case sim.DrawsKeyed, sim.DrawsStream:
	default:
		return fmt.Errorf("%w: draws %q (expected keyed or stream)", ErrInvalidConfig, c.Draws)
	}
	switch c.Mode {
	case sim.ModeBatch, sim.ModeAnimated:
	default:
		return fmt.Errorf("%w: mode %q (expected batch or animated)", ErrInvalidConfig, c.Mode)
	}
	if c.Cluster.Collector < 0 || c.Cluster.Collector >= c.Ranks {
		return fmt.Errorf("%w: collector %d outside [0,%d)", ErrInvalidConfig, c.Cluster.Collector, c.Ranks)
	}
	return nil
}

// ValidateCluster additionally checks the multi-process settings.
func (c Config) ValidateCluster() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Cluster.ID) == "" {
		return fmt.Errorf("%w: cluster.id is required", ErrInvalidConfig)
	}
	if len(c.Cluster.Peers) != c.Ranks {
		return fmt.Errorf("%w: %d cluster.peers for %d ranks", ErrInvalidConfig, len(c.Cluster.Peers), c.Ranks)
	}
	if c.Cluster.Rank < 0 || c.Cluster.Rank >= c.Ranks {
		return fmt.Errorf("%w: cluster.rank %d outside [0,%d)", ErrInvalidConfig, c.Cluster.Rank, c.Ranks)
	}
	for i, p := range c.Cluster.Peers {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: cluster.peers[%d] is empty", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Layout returns the validated partition layout.
func (c Config) Layout() (partition.Layout, error) {
	return partition.NewLayout(c.Rows, c.Cols, c.Ranks)
}

// Sim converts c into the coordinator's config.
func (c Config) Sim() (sim.Config, error) {
	layout, err := c.Layout()
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		Layout:      layout,
		Generations: c.Generations,
		Params:      fire.Params{Ignition: c.Ignition, Growth: c.Growth},
		Seed:        c.Seed,
		Draws:       c.Draws,
		Mode:        c.Mode,
		Collector:   c.Cluster.Collector,
	}, nil
}

// Mesh returns this rank's TCP mesh settings.
func (c Config) Mesh() comm.MeshConfig {
	s := session.DefaultConfig()
	s.ConnectTimeout = c.Cluster.ConnectTimeout
	s.HandshakeTimeout = c.Cluster.HandshakeTimeout
	s.MaxConnectAttempts = c.Cluster.MaxConnectAttempts
	return comm.MeshConfig{
		ClusterID: c.Cluster.ID,
		Rank:      c.Cluster.Rank,
		Peers:     append([]string(nil), c.Cluster.Peers...),
		Session:   s,
	}
}

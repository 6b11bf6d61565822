package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk TOML shape. Durations are Go duration strings.
type File struct {
	Grid                string      `toml:"grid"`
	Output              string      `toml:"output,omitempty"`
	Rows                int         `toml:"rows"`
	Cols                int         `toml:"cols"`
	Ranks               int         `toml:"ranks"`
	Generations         int         `toml:"generations"`
	IgnitionProbability float64     `toml:"ignition_probability"`
	GrowthProbability   float64     `toml:"growth_probability"`
	Seed                uint64      `toml:"seed"`
	Draws               string      `toml:"draws"`
	Mode                string      `toml:"mode"`
	FrameDelay          string      `toml:"frame_delay"`
	ObserveAddr         string      `toml:"observe_addr,omitempty"`
	CorsOrigins         []string    `toml:"cors_origins,omitempty"`
	Cluster             FileCluster `toml:"cluster"`
}

type FileCluster struct {
	ID                 string   `toml:"id"`
	Rank               int      `toml:"rank"`
	Collector          int      `toml:"collector"`
	Peers              []string `toml:"peers,omitempty"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	HandshakeTimeout   string   `toml:"handshake_timeout"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
}

// File converts c back to its on-disk shape.
func (c Config) File() File {
	return File{
		Grid:                c.GridPath,
		Output:              c.OutputPath,
		Rows:                c.Rows,
		Cols:                c.Cols,
		Ranks:               c.Ranks,
		Generations:         c.Generations,
		IgnitionProbability: c.Ignition,
		GrowthProbability:   c.Growth,
		Seed:                c.Seed,
		Draws:               string(c.Draws),
		Mode:                string(c.Mode),
		FrameDelay:          c.FrameDelay.String(),
		ObserveAddr:         c.ObserveAddr,
		CorsOrigins:         c.CorsOrigins,
		Cluster: FileCluster{
			ID:                 c.Cluster.ID,
			Rank:               c.Cluster.Rank,
			Collector:          c.Cluster.Collector,
			Peers:              c.Cluster.Peers,
			ConnectTimeout:     c.Cluster.ConnectTimeout.String(),
			HandshakeTimeout:   c.Cluster.HandshakeTimeout.String(),
			MaxConnectAttempts: c.Cluster.MaxConnectAttempts,
		},
	}
}

// Marshal renders c as TOML that Load reads back.
func Marshal(c Config) ([]byte, error) {
	return toml.Marshal(c.File())
}

// Template is a commented starting config for a single-process run.
func Template() string {
	return template
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// ClusterConfigs derives one config per rank from base. Rank i listens on
// host:basePort+i.
func ClusterConfigs(base Config, host string, basePort int) ([]Config, error) {
	if basePort <= 0 || basePort+base.Ranks-1 > 65535 {
		return nil, fmt.Errorf("%w: base port %d for %d ranks", ErrInvalidConfig, basePort, base.Ranks)
	}
	peers := make([]string, base.Ranks)
	for i := range peers {
		peers[i] = net.JoinHostPort(host, strconv.Itoa(basePort+i))
	}
	out := make([]Config, base.Ranks)
	for i := range out {
		cfg := base
		cfg.CorsOrigins = append([]string(nil), base.CorsOrigins...)
		cfg.Cluster.Rank = i
		cfg.Cluster.Peers = append([]string(nil), peers...)
		if i != base.Cluster.Collector {
			cfg.OutputPath = ""
			cfg.ObserveAddr = ""
		}
		if err := cfg.ValidateCluster(); err != nil {
			return nil, err
		}
		out[i] = cfg
	}
	return out, nil
}

// WriteClusterConfigs writes rank-<i>.toml files into dir and returns their
// paths in rank order.
func WriteClusterConfigs(dir string, cfgs []Config, overwrite bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		path := filepath.Join(dir, fmt.Sprintf("rank-%d.toml", cfg.Cluster.Rank))
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("config already exists: %s", path)
			}
		}
		data, err := Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal rank %d config: %w", cfg.Cluster.Rank, err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

const template = `# firegrid run configuration
grid = "forest.txt"
output = "final.txt"
rows = 40
cols = 80
ranks = 4
generations = 100
ignition_probability = 0.0001
growth_probability = 0.01
seed = 1
# keyed draws give the same result for any rank count; stream draws follow
# one generator per rank
draws = "keyed"
# batch gathers the final generation, animated gathers every generation
mode = "batch"
frame_delay = "1s"
# serve /health, /metrics and /snapshot from the collector when set
observe_addr = ""
cors_origins = ["http://localhost:3000"]

[cluster]
id = "firegrid"
rank = 0
collector = 0
peers = ["127.0.0.1:9400", "127.0.0.1:9401", "127.0.0.1:9402", "127.0.0.1:9403"]
connect_timeout = "5s"
handshake_timeout = "5s"
max_connect_attempts = 20
`

package sim

import (
	"errors"
	"fmt"

	"github.com/danmuck/firegrid/internal/fire"
	"github.com/danmuck/firegrid/internal/partition"
)

var ErrInvalidConfig = errors.New("sim: invalid config")

// Mode selects which generations are gathered at the collector.
type Mode string

const (
	// ModeBatch gathers only the final generation.
	ModeBatch Mode = "batch"
	// ModeAnimated gathers generation 0 and every generation after it.
	ModeAnimated Mode = "animated"
)

// DrawMode selects the random draw source.
type DrawMode string

const (
	DrawsKeyed  DrawMode = "keyed"
	DrawsStream DrawMode = "stream"
)

// Config is everything a rank needs to run, identical on every rank.
type Config struct {
	Layout      partition.Layout
	Generations int
	Params      fire.Params
	Seed        uint64
	Draws       DrawMode
	Mode        Mode
	Collector   int
}

func (c Config) Validate() error {
	if c.Layout.Ranks <= 0 || c.Layout.Rows <= 0 || c.Layout.Cols <= 0 {
		return fmt.Errorf("%w: empty layout %+v", ErrInvalidConfig, c.Layout)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("%w: generations %d", ErrInvalidConfig, c.Generations)
	}
	if !c.Layout.ValidRank(c.Collector) {
		return fmt.Errorf("%w: collector %d of %d ranks", ErrInvalidConfig, c.Collector, c.Layout.Ranks)
	}
	switch c.Mode {
	case ModeBatch, ModeAnimated:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidConfig, c.Mode)
	}
	switch c.Draws {
	case DrawsKeyed, DrawsStream:
	default:
		return fmt.Errorf("%w: draws %q", ErrInvalidConfig, c.Draws)
	}
	return nil
}

// Observed reports whether generation gen is gathered.
func (c Config) Observed(gen int) bool {
	if c.Mode == ModeAnimated {
		return true
	}
	return gen == c.Generations
}

func (c Config) engine(rank int) fire.Engine {
	var src fire.Source = fire.KeyedSource{Seed: c.Seed}
	if c.Draws == DrawsStream {
		src = fire.NewStreamSource(c.Seed, rank)
	}
	return fire.Engine{
		Rows:   c.Layout.Rows,
		Cols:   c.Layout.Cols,
		Params: c.Params,
		Source: src,
	}
}

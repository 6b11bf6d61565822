// Package census counts cell states per snapshot and summarises a run.
package census

import (
	"context"
	"sync"

	"github.com/danmuck/firegrid/internal/gather"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/observability"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Counts is the number of cells in each state.
type Counts struct {
	Generation uint64 `json:"generation"`
	Trees      int    `json:"trees"`
	Fires      int    `json:"fires"`
	Empty      int    `json:"empty"`
}

func (c Counts) Total() int {
	return c.Trees + c.Fires + c.Empty
}

// Density is the fraction of cells holding a tree.
func (c Counts) Density() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Trees) / float64(c.Total())
}

func Count(g *grid.Grid) Counts {
	var c Counts
	for _, cell := range g.Cells {
		switch cell {
		case grid.Tree:
			c.Trees++
		case grid.Fire:
			c.Fires++
		default:
			c.Empty++
		}
	}
	return c
}

// Summary describes the counts observed over a run.
type Summary struct {
	Snapshots   int     `json:"snapshots"`
	MeanTrees   float64 `json:"mean_trees"`
	StdDevTrees float64 `json:"stddev_trees"`
	MeanFires   float64 `json:"mean_fires"`
	StdDevFires float64 `json:"stddev_fires"`
	PeakFires   float64 `json:"peak_fires"`
	PeakGen     uint64  `json:"peak_generation"`
}

// Recorder is an observer that keeps the counts of every snapshot it sees.
type Recorder struct {
	mu      sync.Mutex
	history []Counts
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Observe(_ context.Context, snap *gather.Snapshot) error {
	c := Count(snap.Grid)
	c.Generation = snap.Generation
	observability.SetCellCounts(c.Trees, c.Fires, c.Empty)

	r.mu.Lock()
	r.history = append(r.history, c)
	r.mu.Unlock()
	return nil
}

// History returns a copy of the recorded counts in observation order.
func (r *Recorder) History() []Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Counts(nil), r.history...)
}

// Latest returns the most recent counts.
func (r *Recorder) Latest() (Counts, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return Counts{}, false
	}
	return r.history[len(r.history)-1], true
}

func (r *Recorder) Summary() Summary {
	return Summarize(r.History())
}

// Summarize reports the sample mean and deviation of the tree and fire
// counts along with the generation where fires peaked.
func Summarize(history []Counts) Summary {
	s := Summary{Snapshots: len(history)}
	if len(history) == 0 {
		return s
	}
	trees := make([]float64, len(history))
	fires := make([]float64, len(history))
	for i, c := range history {
		trees[i] = float64(c.Trees)
		fires[i] = float64(c.Fires)
	}
	s.MeanTrees, s.StdDevTrees = stat.MeanStdDev(trees, nil)
	s.MeanFires, s.StdDevFires = stat.MeanStdDev(fires, nil)
	peak := floats.MaxIdx(fires)
	s.PeakFires = fires[peak]
	s.PeakGen = history[peak].Generation
	if len(history) == 1 {
		s.StdDevTrees, s.StdDevFires = 0, 0
	}
	return s
}

package fire

import (
	"math/rand/v2"
)

// Source supplies the two uniform draws in [0,1) each cell consumes per
// generation: the ignition draw first, then the growth draw.
type Source interface {
	Draws(gen uint64, row, col int) (ignite, grow float64)
}

// KeyedSource derives each cell's draws from (Seed, generation, row, column)
// alone, so any partitioning of the grid sees the same values.
type KeyedSource struct {
	Seed uint64
}

func (k KeyedSource) Draws(gen uint64, row, col int) (float64, float64) {
	var p rand.PCG
	p.Seed(mix(k.Seed^mix(gen+1)), mix(uint64(uint32(row))<<32|uint64(uint32(col))))
	return unit(p.Uint64()), unit(p.Uint64())
}

// StreamSource draws sequentially from one generator, ignoring the cell key.
// Results depend on the order cells are visited, so they change with the rank
// count.
type StreamSource struct {
	r *rand.Rand
}

// NewStreamSource seeds a per-rank stream.
func NewStreamSource(seed uint64, rank int) *StreamSource {
	return &StreamSource{r: rand.New(rand.NewPCG(seed, uint64(rank)))}
}

func (s *StreamSource) Draws(uint64, int, int) (float64, float64) {
	ignite := s.r.Float64()
	return ignite, s.r.Float64()
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

func unit(u uint64) float64 {
	return float64(u<<11>>11) / (1 << 53)
}

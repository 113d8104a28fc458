package hnsw

import "math"

// rng is a xorshift64* generator. Its whole state is one word, which makes it
// trivial to persist alongside the graph.
type rng struct {
	state uint64
}

func newRNG(seed uint64) rng {
	if seed == 0 {
		seed = 0x9E3779B97F4A7C15
	}
	return rng{state: seed}
}

func (r *rng) next() uint64 {
	x := r.state
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	r.state = x
	return x * 0x2545F4914F6CDD1D
}

// float64 returns a value in (0, 1].
func (r *rng) float64() float64 {
	return float64((r.next()>>11)+1) / (1 << 53)
}

// level draws a node level from the exponential distribution with normalization mL.
func (r *rng) level(mL float64, maxLevel int) int {
	l := int(math.Floor(-math.Log(r.float64()) * mL))
	if l > maxLevel {
		l = maxLevel
	}
	return l
}

package dedup

import "math/rand/v2"

// mersennePrime bounds the universal hash family; it also serves as the
// "infinity" sentinel of the dense projection since no hash reaches it.
const mersennePrime = int64(1)<<31 - 1

// Sentinel is the initial value of every dense-vector slot.
const Sentinel = mersennePrime

// HashFunction maps a vocabulary index to an integer.
type HashFunction interface {
	Hash(index int) int64
}

// HashFunc adapts a plain function to HashFunction.
type HashFunc func(index int) int64

// Hash calls f.
func (f HashFunc) Hash(index int) int64 {
	return f(index)
}

type universalHash struct {
	a, b int64
}

func (h universalHash) Hash(index int) int64 {
	return (h.a*int64(index) + h.b) % mersennePrime
}

// NewUniversalFamily returns n functions (a*x + b) mod (2^31 - 1) drawn from a
// generator seeded with seed, so signatures are reproducible across runs.
func NewUniversalFamily(n int, seed uint64) []HashFunction {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]HashFunction, n)
	for i := range out {
		out[i] = universalHash{
			a: 1 + rng.Int64N(mersennePrime-1),
			b: rng.Int64N(mersennePrime),
		}
	}
	return out
}

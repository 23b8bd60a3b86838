package core

import (
	"context"
	"math/bits"

	"github.com/lamng3/gojax/internal/backend"
	"github.com/lamng3/gojax/internal/shapes"
)

// Counter-based PRNG: Threefry-2x32 with 20 rounds. Keys are uint32[2];
// element i of a draw is the first output word of the block cipher applied
// to counter (i, 0).

const threefryParity = 0x1BD11BDA

var threefryRot = [8]int{13, 15, 26, 6, 17, 29, 16, 24}

func threefry2x32(k0, k1, x0, x1 uint32) (uint32, uint32) {
	ks := [3]uint32{k0, k1, k0 ^ k1 ^ threefryParity}
	x0 += ks[0]
	x1 += ks[1]
	for g := 0; g < 5; g++ {
		for i := 0; i < 4; i++ {
			x0 += x1
			x1 = bits.RotateLeft32(x1, threefryRot[(g%2)*4+i])
			x1 ^= x0
		}
		x0 += ks[(g+1)%3]
		x1 += ks[(g+2)%3] + uint32(g+1)
	}
	return x0, x1
}

// NewKey derives a PRNG key from a seed.
func NewKey(be backend.Backend, seed uint64) (*Array, error) {
	return NewArray(be, shapes.Uint32, []int{2}, []float64{
		float64(uint32(seed >> 32)),
		float64(uint32(seed)),
	})
}

func readKey(key *Array) (k0, k1 uint32, err error) {
	vals, err := key.Read(context.Background())
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, typeErrorf("prng key must have 2 words, got %d", len(vals))
	}
	return uint32(vals[0]), uint32(vals[1]), nil
}

// evalRandomBits is the concrete rule behind the random_bits primitive.
func evalRandomBits(key *Array, shape []int) *Array {
	k0, k1, err := readKey(key)
	if err != nil {
		fail(err)
	}
	n := shapes.Shape(shape).Size()
	vals := make([]float64, n)
	for i := range vals {
		w, _ := threefry2x32(k0, k1, uint32(i), 0)
		vals[i] = float64(w)
	}
	out, err := NewArray(key.be, shapes.Uint32, shape, vals)
	if err != nil {
		fail(err)
	}
	return out
}

// Split derives n statistically independent subkeys, adding a leading
// axis of size n.
func Split(key *Array, n int) (*Array, error) {
	k0, k1, err := readKey(key)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		w0, w1 := threefry2x32(k0, k1, uint32(i), 0)
		vals = append(vals, float64(w0), float64(w1))
	}
	return NewArray(key.be, shapes.Uint32, []int{n, 2}, vals)
}

// Uniform draws float32s in [0, 1) by scaling the top 24 bits of each
// word.
func Uniform(key *Array, shape []int) (*Array, error) {
	k0, k1, err := readKey(key)
	if err != nil {
		return nil, err
	}
	n := shapes.Shape(shape).Size()
	vals := make([]float64, n)
	for i := range vals {
		w, _ := threefry2x32(k0, k1, uint32(i), 0)
		vals[i] = float64(w>>8) * 0x1p-24
	}
	return NewArray(key.be, shapes.Float32, shape, vals)
}

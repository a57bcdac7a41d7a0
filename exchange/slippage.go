package exchange

import "math/rand"

// DefaultSlippageBound is the maximum slippage fraction applied to an
// execution price: 0.05%.
const DefaultSlippageBound = 0.0005

// Slippage perturbs an execution price to emulate market impact.
type Slippage interface {
	Apply(price float64) float64
}

// Uniform returns a slippage model drawing a fraction in [0, bound) with a
// random sign for every execution. Runs with the same seed reproduce the
// same price sequence.
func Uniform(bound float64, seed int64) Slippage {
	return &uniform{
		bound: bound,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

type uniform struct {
	bound float64
	rng   *rand.Rand
}

func (u *uniform) Apply(price float64) float64 {
	part := price * u.rng.Float64() * u.bound
	sign := float64(u.rng.Intn(3) - 1) // -1, 0 or +1
	return price + part*sign
}

// None returns a slippage model that leaves prices untouched.
func None() Slippage { return none{} }

type none struct{}

func (none) Apply(price float64) float64 { return price }

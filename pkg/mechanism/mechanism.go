// Package mechanism defines the black-box ABI that randomized mechanisms
// under test must satisfy: a dataset in, an argument bag in, one sample out.
package mechanism

import "fmt"

// EpsilonKey is the well-known Args key every mechanism invocation must carry.
const EpsilonKey = "epsilon"

// Dataset is an ordered sequence of real numbers. Adjacency between two
// datasets is defined by whichever pkg/generator shape produced them.
type Dataset []float64

// Clone returns an independent copy of d.
func (d Dataset) Clone() Dataset {
	c := make(Dataset, len(d))
	copy(c, d)
	return c
}

// Args is an opaque bag of mechanism options. Only EpsilonKey is inspected
// by the pipeline; every other key passes through unchanged. Args is always
// treated as a value: callers get a fresh copy rather than a mutated shared
// map (see WithEpsilon).
type Args map[string]float64

// Epsilon returns the value stored under EpsilonKey and whether it was present.
func (a Args) Epsilon() (float64, bool) {
	v, ok := a[EpsilonKey]
	return v, ok
}

// WithEpsilon returns a copy of a with EpsilonKey set to eps, leaving a itself
// untouched. The orchestrator does not call it: the test ε0 it sweeps is
// never written into a mechanism's Args.
func (a Args) WithEpsilon(eps float64) Args {
	out := make(Args, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	out[EpsilonKey] = eps
	return out
}

// Clone returns an independent copy of a.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Output is one sample from a mechanism invocation. Values has length 1 for
// a scalar-output mechanism, or R for a mechanism returning an R-tuple; the
// arity must be stable across invocations with the same Args (the Runner's
// probe enforces this).
type Output struct {
	Values []float64
}

// Arity returns the number of components in the output.
func (o Output) Arity() int { return len(o.Values) }

// Mechanism is the black-box callable under test. It must be safe to call
// concurrently from multiple goroutines with the same Dataset and Args —
// the Runner and worker pool invoke it from many workers at once — so
// implementations must not hold mutable package-level state.
type Mechanism func(d Dataset, args Args) (Output, error)

// SchemaMismatchError is returned when a mechanism invocation yields an
// output shape inconsistent with its initial probe: a different arity, or a
// non-finite (NaN/±Inf) component where the ABI promises real numbers.
type SchemaMismatchError struct {
	Probed int
	Got    int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("mechanism schema mismatch: probe returned arity %d, invocation returned arity %d", e.Probed, e.Got)
}

// Package generator produces the canonical adjacent-database pairs the
// detector searches over when the caller does not supply its own databases.
package generator

import (
	"errors"

	"github.com/jihwankim/statdp/pkg/mechanism"
)

// ErrMissingEpsilon is returned when defaultArgs carries no EpsilonKey entry:
// every mechanism invocation needs a privacy budget to probe, so this is a
// configuration error the caller must fix before a Detect pass starts.
var ErrMissingEpsilon = errors.New("generator: default args missing epsilon")

// Input is one (D1, D2, args) candidate the selector will evaluate.
type Input struct {
	D1   mechanism.Dataset
	D2   mechanism.Dataset
	Args mechanism.Args
}

// Generate produces the eight canonical adjacent pairs of size n, all
// sharing the same defaultArgs. D1 is all-ones of length n except for the
// X-shape pair, which uses its own halves for both D1 and D2.
func Generate(n int, defaultArgs mechanism.Args) ([]Input, error) {
	if _, ok := defaultArgs.Epsilon(); !ok {
		return nil, ErrMissingEpsilon
	}

	ones := make(mechanism.Dataset, n)
	for i := range ones {
		ones[i] = 1
	}

	pairs := make([]struct{ d1, d2 mechanism.Dataset }, 0, 8)

	oneBelow := append(mechanism.Dataset{0}, ones[1:]...)
	pairs = append(pairs, struct{ d1, d2 mechanism.Dataset }{ones, oneBelow})

	oneAbove := append(mechanism.Dataset{2}, ones[1:]...)
	pairs = append(pairs, struct{ d1, d2 mechanism.Dataset }{ones, oneAbove})

	oneAboveRestBelow := make(mechanism.Dataset, n)
	if n > 0 {
		oneAboveRestBelow[0] = 2
	}
	pairs = append(pairs, struct{ d1, d2 mechanism.Dataset }{ones, oneAboveRestBelow})

	oneBelowRestAbove := make(mechanism.Dataset, n)
	for i := 1; i < n; i++ {
		oneBelowRestAbove[i] = 2
	}
	pairs = append(pairs, struct{ d1, d2 mechanism.Dataset }{ones, oneBelowRestAbove})

	half := n / 2
	halfHalf := make(mechanism.Dataset, n)
	for i := 0; i < half; i++ {
		halfHalf[i] = 2
	}
	pairs = append(pairs, struct{ d1, d2 mechanism.Dataset }{ones, halfHalf})

	allAbove := make(mechanism.Dataset, n)
	for i := range allAbove {
		allAbove[i] = 2
	}
	pairs = append(pairs, struct{ d1, d2 mechanism.Dataset }{ones, allAbove})

	allBelow := make(mechanism.Dataset, n)
	pairs = append(pairs, struct{ d1, d2 mechanism.Dataset }{ones, allBelow})

	floorHalf := n / 2
	ceilHalf := n - floorHalf
	xD1 := make(mechanism.Dataset, 0, n)
	for i := 0; i < floorHalf; i++ {
		xD1 = append(xD1, 1)
	}
	for i := 0; i < ceilHalf; i++ {
		xD1 = append(xD1, 0)
	}
	xD2 := make(mechanism.Dataset, 0, n)
	for i := 0; i < floorHalf; i++ {
		xD2 = append(xD2, 0)
	}
	for i := 0; i < ceilHalf; i++ {
		xD2 = append(xD2, 1)
	}
	pairs = append(pairs, struct{ d1, d2 mechanism.Dataset }{xD1, xD2})

	inputs := make([]Input, len(pairs))
	for i, p := range pairs {
		inputs[i] = Input{D1: p.d1, D2: p.d2, Args: defaultArgs.Clone()}
	}
	return inputs, nil
}

// GenerateSizes runs Generate for every size in sizes and concatenates the
// results, matching spec.md §6's "num_input may be a scalar or a sequence
// of sizes to union".
func GenerateSizes(sizes []int, defaultArgs mechanism.Args) ([]Input, error) {
	var all []Input
	for _, n := range sizes {
		ins, err := Generate(n, defaultArgs)
		if err != nil {
			return nil, err
		}
		all = append(all, ins...)
	}
	return all, nil
}

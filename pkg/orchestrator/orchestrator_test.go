package orchestrator_test

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jihwankim/statdp/pkg/eventspace"
	"github.com/jihwankim/statdp/pkg/mechanism"
	"github.com/jihwankim/statdp/pkg/orchestrator"
)

func explicitZeroEvent() eventspace.Event {
	return eventspace.Event{{Kind: eventspace.Value, V: 0}}
}

// laplaceSample draws one Laplace(0, scale) sample via inverse-CDF
// sampling, the same construction every scenario mechanism below uses for
// its noise.
func laplaceSample(scale float64) float64 {
	u := rand.Float64() - 0.5
	if u >= 0 {
		return -scale * math.Log(1-2*u)
	}
	return scale * math.Log(1+2*u)
}

// noisyArgMax is the textbook epsilon-DP exponential-mechanism-free
// noisy-argmax: add Laplace(2/epsilon) to every query and return the index
// of the largest noisy value. Grounded on noisy_max_v1a in
// original_source/statdp/algorithms.py.
func noisyArgMax(d mechanism.Dataset, args mechanism.Args) (mechanism.Output, error) {
	eps, _ := args.Epsilon()
	best, bestIdx := math.Inf(-1), 0
	for i, q := range d {
		v := q + laplaceSample(2.0/eps)
		if v > best {
			best, bestIdx = v, i
		}
	}
	return mechanism.Output{Values: []float64{float64(bestIdx)}}, nil
}

// maxOfNoisyValues is the known-non-DP variant that returns the noisy
// *value* of the maximum rather than its index. Grounded on noisy_max_v1b.
func maxOfNoisyValues(d mechanism.Dataset, args mechanism.Args) (mechanism.Output, error) {
	eps, _ := args.Epsilon()
	best := math.Inf(-1)
	for _, q := range d {
		v := q + laplaceSample(2.0/eps)
		if v > best {
			best = v
		}
	}
	return mechanism.Output{Values: []float64{best}}, nil
}

// laplaceHistogramFirstBin adds Laplace(1/epsilon) noise to the first bin
// and reports it, rounded to the nearest integer so its output is
// categorical (matching the "event=0 exact match" scenario spec.md §8
// describes). Grounded on the `histogram` function in algorithms.py.
func laplaceHistogramFirstBin(d mechanism.Dataset, args mechanism.Args) (mechanism.Output, error) {
	eps, _ := args.Epsilon()
	noisy := d[0] + laplaceSample(1.0/eps)
	return mechanism.Output{Values: []float64{math.Round(noisy)}}, nil
}

// svtCorrect is a faithful transliteration of SVT(queries, epsilon, N, T)
// from original_source/statdp/algorithms.py: it returns the count of
// queries classified False before N Trues have been observed (or the
// queries run out). N and T are read from args["N"]/args["T"].
func svtCorrect(d mechanism.Dataset, args mechanism.Args) (mechanism.Output, error) {
	eps, _ := args.Epsilon()
	n := args["N"]
	t := args["T"]

	noisyT := t + laplaceSample(2.0/eps)

	falseCount := 0.0
	trueCount := 0.0
	for _, q := range d {
		eta2 := laplaceSample(4.0 * n / eps)
		if q+eta2 >= noisyT {
			trueCount++
			if trueCount >= n {
				break
			}
		} else {
			falseCount++
		}
	}
	return mechanism.Output{Values: []float64{falseCount}}, nil
}

// iSVT1Mismatch is a faithful transliteration of iSVT1 from algorithms.py:
// a known-non-DP SVT variant that adds no noise at all to the per-query
// comparison (eta2=0), only to the threshold. It reports how many queries
// disagree with the "first half True, second half False" pattern a
// well-behaved run is expected to follow.
func iSVT1Mismatch(d mechanism.Dataset, args mechanism.Args) (mechanism.Output, error) {
	eps, _ := args.Epsilon()
	t := args["T"]
	const delta = 1.0

	noisyT := t + laplaceSample(2.0*delta/eps)

	out := make([]bool, len(d))
	for i, q := range d {
		out[i] = q >= noisyT // eta2 = 0: the non-private shortcut iSVT1 takes
	}
	return mechanism.Output{Values: []float64{float64(mismatchCount(out))}}, nil
}

// iSVT2Mismatch is iSVT2 from algorithms.py: every per-query comparison is
// noised (unlike iSVT1) but, unlike the correct SVT, the loop never stops
// early after N positives — every query is evaluated.
func iSVT2Mismatch(d mechanism.Dataset, args mechanism.Args) (mechanism.Output, error) {
	eps, _ := args.Epsilon()
	t := args["T"]
	const delta = 1.0

	noisyT := t + laplaceSample(2.0*delta/eps)

	out := make([]bool, len(d))
	for i, q := range d {
		eta2 := laplaceSample(2.0 * delta / eps)
		out[i] = q+eta2 >= noisyT
	}
	return mechanism.Output{Values: []float64{float64(mismatchCount(out))}}, nil
}

// iSVT3Mismatch is iSVT3 from algorithms.py: a strict ">" comparison with a
// 4*delta/(3*epsilon) per-query noise scale instead of the correct SVT's
// ">=" and 4*N/epsilon. Queries skipped by the early stop are treated as
// False, matching the zero-value of the out slice.
func iSVT3Mismatch(d mechanism.Dataset, args mechanism.Args) (mechanism.Output, error) {
	eps, _ := args.Epsilon()
	t := args["T"]
	n := args["N"]
	const delta = 1.0

	noisyT := t + laplaceSample(4.0*delta/eps)

	out := make([]bool, len(d))
	trueCount := 0.0
	for i, q := range d {
		eta2 := laplaceSample((4.0 * delta) / (3.0 * eps))
		if q+eta2 > noisyT {
			out[i] = true
			trueCount++
			if trueCount >= n {
				break
			}
		}
	}
	return mechanism.Output{Values: []float64{float64(mismatchCount(out))}}, nil
}

// mismatchCount counts how many entries of out disagree with the
// "first half True, rest False" pattern np.count_nonzero(out != pattern)
// checks in algorithms.py's iSVT1/2/3.
func mismatchCount(out []bool) int {
	trueCount := len(out) / 2
	mismatches := 0
	for i, v := range out {
		if v != (i < trueCount) {
			mismatches++
		}
	}
	return mismatches
}

func TestDetect_GeneratorShapes(t *testing.T) {
	results, err := orchestrator.Detect(
		context.Background(),
		noisyArgMax,
		[]float64{0.7},
		orchestrator.WithDefaultArgs(mechanism.Args{mechanism.EpsilonKey: 0.7}),
		orchestrator.WithNumInput(5),
		orchestrator.WithEventIterations(2000),
		orchestrator.WithDetectIterations(4000),
		orchestrator.WithCores(1),
		orchestrator.WithQuiet(true),
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.GreaterOrEqual(t, results[0].PValue, 0.0)
	require.LessOrEqual(t, results[0].PValue, 1.0)
	require.Len(t, results[0].D1, 5)
	require.Len(t, results[0].D2, 5)
	_, ok := results[0].Args.Epsilon()
	require.True(t, ok)
}

// Correct noisy-argmax truly satisfies epsilon-DP at its own mechanism
// epsilon (0.7, fixed via WithDefaultArgs and never touched by the
// test_ε₀ loop): claiming a tighter ε₀ than that should look inconsistent,
// while claiming a much looser one should look highly consistent (spec.md
// §8 scenario 1, thresholds loosened to tolerate this test's small
// iteration counts).
func TestDetect_NoisyArgMax_LooseVsTightEpsilon(t *testing.T) {
	mechEps := 0.7
	args := mechanism.Args{mechanism.EpsilonKey: mechEps}

	results, err := orchestrator.Detect(
		context.Background(), noisyArgMax, []float64{0.6, 0.7, 0.8},
		orchestrator.WithDefaultArgs(args),
		orchestrator.WithNumInput(5),
		orchestrator.WithEventIterations(4000),
		orchestrator.WithDetectIterations(8000),
		orchestrator.WithCores(1),
		orchestrator.WithQuiet(true),
	)
	require.NoError(t, err)
	require.Len(t, results, 3)

	tight, loose := results[0].PValue, results[2].PValue
	require.Less(t, tight, loose, "claiming a tighter epsilon than the mechanism's true epsilon should score lower than claiming a looser one")
	require.Greater(t, loose, 0.5, "claiming a much looser epsilon than the mechanism's true epsilon should look highly consistent")

	for _, res := range results {
		eps, ok := res.Args.Epsilon()
		require.True(t, ok)
		require.Equal(t, mechEps, eps, "the mechanism's claimed epsilon must never be overwritten by the test_ε₀ loop")
	}
}

// The known-non-DP max-of-noisy-values mechanism should register as a
// counterexample (low p-value) when tested at its own mechanism epsilon
// (spec.md §8 scenario 2).
func TestDetect_MaxOfNoisyValues_IsNotDP(t *testing.T) {
	mechEps := 0.7
	results, err := orchestrator.Detect(
		context.Background(), maxOfNoisyValues, []float64{mechEps},
		orchestrator.WithDefaultArgs(mechanism.Args{mechanism.EpsilonKey: mechEps}),
		orchestrator.WithNumInput(5),
		orchestrator.WithEventIterations(3000),
		orchestrator.WithDetectIterations(6000),
		orchestrator.WithCores(1),
		orchestrator.WithQuiet(true),
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Less(t, results[0].PValue, 0.3, "the non-DP max-of-values mechanism should look inconsistent at its own mechanism epsilon")
}

// Scalar Laplace-threshold histogram on its first bin, across the three
// claimed epsilons spec.md §8 scenario 3 names.
func TestDetect_LaplaceHistogram_ThreeEpsilons(t *testing.T) {
	mechEps := 0.5
	args := mechanism.Args{mechanism.EpsilonKey: mechEps}

	results, err := orchestrator.Detect(
		context.Background(), laplaceHistogramFirstBin, []float64{0.25, 0.5, 0.75},
		orchestrator.WithDefaultArgs(args),
		orchestrator.WithDatabases(
			mechanism.Dataset{0, 2, 2, 2, 2},
			mechanism.Dataset{1, 1, 1, 1, 1},
		),
		orchestrator.WithEventIterations(3000),
		orchestrator.WithDetectIterations(6000),
		orchestrator.WithCores(1),
		orchestrator.WithQuiet(true),
	)
	require.NoError(t, err)
	require.Len(t, results, 3)

	tight, loose := results[0].PValue, results[2].PValue
	require.Less(t, tight, loose, "claiming a tighter epsilon than the mechanism's true epsilon should score lower than claiming a looser one")
}

// SVT correct (N=1, T=0.5) over 10-element inputs shows the same
// loose-vs-tight pattern as scenario 1; spec.md §8 scenario 4 explicitly
// allows retries since the Monte Carlo estimate can be flaky at this
// test's small iteration counts.
func TestDetect_SVTCorrect_LooseVsTightEpsilon(t *testing.T) {
	mechEps := 0.7
	args := mechanism.Args{mechanism.EpsilonKey: mechEps, "N": 1, "T": 0.5}

	const maxAttempts = 5
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		results, err := orchestrator.Detect(
			context.Background(), svtCorrect, []float64{0.6, 0.8},
			orchestrator.WithDefaultArgs(args),
			orchestrator.WithNumInput(10),
			orchestrator.WithEventIterations(2000),
			orchestrator.WithDetectIterations(4000),
			orchestrator.WithCores(1),
			orchestrator.WithQuiet(true),
		)
		if err != nil {
			lastErr = err
			continue
		}
		tight, loose := results[0].PValue, results[1].PValue
		if tight < loose {
			return
		}
		lastErr = fmt.Errorf("attempt %d: tight p=%.3f, loose p=%.3f, expected tight < loose", attempt, tight, loose)
	}
	t.Fatalf("SVT loose-vs-tight pattern did not hold after %d attempts: %v", maxAttempts, lastErr)
}

// iSVT variants 1-3 are documented non-DP SVT variants; each should look
// inconsistent with its own claimed epsilon (spec.md §8 scenario 5).
func TestDetect_ISVTVariants_AreNotDP(t *testing.T) {
	mechEps := 0.7
	args := mechanism.Args{mechanism.EpsilonKey: mechEps, "N": 3, "T": 0.5}

	variants := []struct {
		name string
		mech mechanism.Mechanism
	}{
		{"iSVT1", iSVT1Mismatch},
		{"iSVT2", iSVT2Mismatch},
		{"iSVT3", iSVT3Mismatch},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			results, err := orchestrator.Detect(
				context.Background(), v.mech, []float64{mechEps},
				orchestrator.WithDefaultArgs(args),
				orchestrator.WithNumInput(10),
				orchestrator.WithEventIterations(3000),
				orchestrator.WithDetectIterations(6000),
				orchestrator.WithCores(1),
				orchestrator.WithQuiet(true),
			)
			require.NoError(t, err)
			require.Len(t, results, 1)
			require.Less(t, results[0].PValue, 0.3, v.name+" should look inconsistent with its own claimed epsilon")
		})
	}
}

func TestDetect_ExplicitEventRoundTrip(t *testing.T) {
	args := mechanism.Args{mechanism.EpsilonKey: 0.5}

	results, err := orchestrator.Detect(
		context.Background(), laplaceHistogramFirstBin, []float64{0.5},
		orchestrator.WithDefaultArgs(args),
		orchestrator.WithDatabases(
			mechanism.Dataset{0, 2, 2, 2, 2},
			mechanism.Dataset{1, 1, 1, 1, 1},
		),
		orchestrator.WithEvent(explicitZeroEvent()),
		orchestrator.WithEventIterations(500),
		orchestrator.WithDetectIterations(1000),
		orchestrator.WithCores(1),
		orchestrator.WithQuiet(true),
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, explicitZeroEvent(), results[0].Event)
}

// An explicit event whose arity does not match the mechanism's actual
// output arity must be rejected before any pipeline stage starts, not
// panic inside pkg/counter's row indexing.
func TestDetect_ExplicitEventWrongArity_ReturnsError(t *testing.T) {
	args := mechanism.Args{mechanism.EpsilonKey: 0.5}
	twoRowEvent := eventspace.Event{
		{Kind: eventspace.Value, V: 0},
		{Kind: eventspace.Value, V: 0},
	}

	_, err := orchestrator.Detect(
		context.Background(), laplaceHistogramFirstBin, []float64{0.5},
		orchestrator.WithDefaultArgs(args),
		orchestrator.WithDatabases(
			mechanism.Dataset{0, 2, 2, 2, 2},
			mechanism.Dataset{1, 1, 1, 1, 1},
		),
		orchestrator.WithEvent(twoRowEvent),
		orchestrator.WithEventIterations(500),
		orchestrator.WithDetectIterations(1000),
		orchestrator.WithCores(1),
		orchestrator.WithQuiet(true),
	)
	require.Error(t, err)
}

// Package stattest computes the privacy-loss test statistic: given the
// (cx, cy) event counts from pkg/counter, it estimates how surprising they
// would be under the claimed epsilon via binomial-thinning Monte Carlo
// resampling and a hypergeometric tail test.
package stattest

import (
	"math"
	"math/rand"

	"github.com/jihwankim/statdp/pkg/reporting"
	"github.com/jihwankim/statdp/pkg/stattest/hypergeom"
	"gonum.org/v1/gonum/stat/distuv"
)

// NumDraws is the number of Monte Carlo binomial-thinning draws averaged
// into each p-value, matching spec.md §4.D's fixed resampling budget.
const NumDraws = 200

// Tester scores a (cx, cy) count pair against a claimed epsilon.
type Tester struct {
	backend hypergeom.Backend
}

// New builds a Tester against the named hypergeometric backend ("logspace"
// or "native"; anything else falls back to "logspace").
func New(backendName string) *Tester {
	return &Tester{backend: hypergeom.Name(backendName)}
}

// NewWithBackend builds a Tester against an explicit backend, primarily for
// tests that need to force a specific (or misbehaving) implementation.
func NewWithBackend(backend hypergeom.Backend) *Tester {
	return &Tester{backend: backend}
}

// PValue estimates how consistent the observed counts are with epsilon-DP.
// cx is thinned NumDraws times via Binomial(cx, exp(-epsilon)) — simulating
// what cx would look like if the privacy bound held with equality — and
// each thinned draw s is scored against cy with the hypergeometric upper
// tail over a population of 2*iterations balls, iterations of which are
// "successes"; the reported p-value is the mean of the NumDraws scores.
// iterations is the per-dataset sample count N the counts were drawn from,
// not cx+cy. rng must not be shared across concurrent callers; each
// pkg/workerpool worker owns its own *rand.Rand. logger may be nil; when
// non-nil and the backend returns NaN for one or more draws (hypergeometric
// overflow at extreme counts), PValue substitutes p=1.0 for each affected
// draw and logs once at Debug, per spec.md §7's numerical-error clause.
func (t *Tester) PValue(rng *rand.Rand, cx, cy int, epsilon float64, iterations int, logger *reporting.Logger) float64 {
	if cx < cy {
		cx, cy = cy, cx
	}
	if cx == 0 {
		return 1
	}

	keep := math.Exp(-epsilon)
	thin := distuv.Binomial{
		N:   float64(cx),
		P:   keep,
		Src: rand.NewSource(rng.Int63()),
	}

	m := 2 * iterations
	sum := 0.0
	nanDraws := 0
	for i := 0; i < NumDraws; i++ {
		s := int(thin.Rand())
		n := s + cy
		v := t.backend.SurvivalFromKMinusOne(s, m, iterations, n)
		if math.IsNaN(v) {
			v = 1.0
			nanDraws++
		}
		sum += v
	}
	if nanDraws > 0 && logger != nil {
		logger.Debug("stattest: hypergeometric backend returned NaN, substituting p=1.0 for affected draws",
			"nan_draws", nanDraws, "total_draws", NumDraws, "cx", cx, "cy", cy, "iterations", iterations)
	}
	return sum / float64(NumDraws)
}

// Package hyptest implements the Hypothesis Tester: it re-runs the
// mechanism at high resolution on a selected (D1, D2, event) and scores the
// resulting counts, sharding the iteration budget across the worker pool.
package hyptest

import (
	"fmt"
	"math/rand"

	"github.com/jihwankim/statdp/pkg/counter"
	"github.com/jihwankim/statdp/pkg/eventspace"
	"github.com/jihwankim/statdp/pkg/mechanism"
	"github.com/jihwankim/statdp/pkg/reporting"
	"github.com/jihwankim/statdp/pkg/runner"
	"github.com/jihwankim/statdp/pkg/stattest"
	"github.com/jihwankim/statdp/pkg/workerpool"
)

// Result is the outcome of one Test call: the primary p-value and,
// optionally, the reverse-direction diagnostic p-value.
type Result struct {
	PVal  float64
	PVal2 float64 // only meaningful when ReportP2 was requested
}

// Test re-runs mech on d1/d2 with detectIterations total invocations per
// dataset, sharded as evenly as possible across pool's workers (the last
// shard absorbing any remainder), sums the resulting counts across shards,
// and scores them against epsilon. When reportP2 is set, it also computes
// the reverse-direction statistic pvalue(cy, cx, epsilon, N) for diagnostic
// use. logger may be nil.
func Test(pool *workerpool.Pool, mech mechanism.Mechanism, d1, d2 mechanism.Dataset, args mechanism.Args, event eventspace.Event, epsilon float64, detectIterations int, reportP2 bool, tester *stattest.Tester, logger *reporting.Logger) (Result, error) {
	shards := shardSizes(detectIterations, pool.Size())

	type shardCounts struct {
		cx, cy int
		err    error
	}

	counts, err := workerpool.Gather(pool, shards, func(rng *rand.Rand, n int) shardCounts {
		r := runner.New()
		m1, err := r.Run(mech, d1, args, n)
		if err != nil {
			return shardCounts{err: err}
		}
		m2, err := r.Run(mech, d2, args, n)
		if err != nil {
			return shardCounts{err: err}
		}
		// raw per-dataset counts: canonical ordering is applied once, after
		// the shards are summed.
		return shardCounts{cx: counter.Count(m1.Rows, event), cy: counter.Count(m2.Rows, event)}
	})
	if err != nil {
		return Result{}, fmt.Errorf("hyptest: %w", err)
	}

	var cx, cy int
	for _, c := range counts {
		if c.err != nil {
			return Result{}, c.err
		}
		cx += c.cx
		cy += c.cy
	}
	if cx < cy {
		cx, cy = cy, cx
	}

	rng := pool.RNG()
	res := Result{PVal: tester.PValue(rng, cx, cy, epsilon, detectIterations, logger)}
	if reportP2 {
		res.PVal2 = tester.PValue(rng, cy, cx, epsilon, detectIterations, logger)
	}
	return res, nil
}

// shardSizes splits total into n roughly-equal shards, folding the
// remainder into the last one — a direct generalization of the teacher's
// "process_iterations[cpu_count()-1] += iterations % ..." pattern.
func shardSizes(total, n int) []int {
	if n < 1 {
		n = 1
	}
	base := total / n
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = base
	}
	sizes[n-1] += total - base*n
	return sizes
}

// Package selector implements the Event Selector: for a list of candidate
// (D1, D2, args) inputs, it runs the mechanism, builds the event space, and
// picks the single (input, event) pair with the lowest estimated p-value.
package selector

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/jihwankim/statdp/pkg/counter"
	"github.com/jihwankim/statdp/pkg/eventspace"
	"github.com/jihwankim/statdp/pkg/generator"
	"github.com/jihwankim/statdp/pkg/mechanism"
	"github.com/jihwankim/statdp/pkg/reporting"
	"github.com/jihwankim/statdp/pkg/runner"
	"github.com/jihwankim/statdp/pkg/stattest"
	"github.com/jihwankim/statdp/pkg/workerpool"
)

// SignalThreshold is the fraction of N*e^eps at or below which an event's
// combined count is treated as too sparse to trust: cx+cy <= SignalThreshold*N*e^eps
// is skipped with p = +Inf per spec.md §4.D's Failure clause.
const SignalThreshold = 0.001

// ErrInvalidEventArity is returned by Select before any pipeline stage
// starts when an explicit event (pkg/orchestrator's WithEvent) carries a
// different number of predicates than the mechanism's probed output arity.
var ErrInvalidEventArity = errors.New("selector: explicit event arity does not match mechanism output arity")

// Result is the winning (input, event) pair and its estimated p-value.
type Result struct {
	D1    mechanism.Dataset
	D2    mechanism.Dataset
	Args  mechanism.Args
	Event eventspace.Event
	PVal  float64
}

// candidate is one scored (input-index, event-index) pair, kept around
// only long enough to pick the lexicographically-smallest-index winner on
// ties.
type candidate struct {
	inputIdx int
	eventIdx int
	input    generator.Input
	event    eventspace.Event
	pval     float64
	count    int // cx+cy, used only by the all-filtered fallback
}

// Select runs the selector pass: one pkg/workerpool task per candidate
// input, each producing every scored candidate event for that input; the
// overall winner is the argmin p-value with (input-index, event-index)
// tie-break, or — if every event was filtered by the signal threshold —
// the event with the largest cx+cy, reported with p=1.0 and logged at Info.
// explicitEvent, when non-nil, collapses every candidate input's event
// space to the singleton {explicitEvent} (spec.md §8's round-trip
// property), bypassing pkg/eventspace's auto-derivation entirely; in that
// case Select first probes the mechanism's output arity and returns
// ErrInvalidEventArity before dispatching any pipeline stage if it does not
// match len(explicitEvent). logger may be nil.
func Select(pool *workerpool.Pool, mech mechanism.Mechanism, inputs []generator.Input, epsilon float64, eventIterations int, tester *stattest.Tester, explicitEvent eventspace.Event, logger *reporting.Logger) (Result, error) {
	if explicitEvent != nil && len(inputs) > 0 {
		probe, err := mech(inputs[0].D1, inputs[0].Args)
		if err != nil {
			return Result{}, fmt.Errorf("selector: probing mechanism arity: %w", err)
		}
		if len(explicitEvent) != probe.Arity() {
			return Result{}, fmt.Errorf("%w: event has %d predicates, mechanism output arity is %d", ErrInvalidEventArity, len(explicitEvent), probe.Arity())
		}
	}

	perInput, err := workerpool.Gather(pool, inputs, func(rng *rand.Rand, in generator.Input) []candidate {
		return scoreInput(rng, mech, in, epsilon, eventIterations, tester, explicitEvent, logger)
	})
	if err != nil {
		return Result{}, fmt.Errorf("selector: %w", err)
	}

	var best *candidate
	var fallback *candidate
	for i, cands := range perInput {
		for j, c := range cands {
			c.inputIdx, c.eventIdx = i, j
			if math.IsInf(c.pval, 1) {
				if fallback == nil || c.count > fallback.count ||
					(c.count == fallback.count && (c.inputIdx < fallback.inputIdx ||
						(c.inputIdx == fallback.inputIdx && c.eventIdx < fallback.eventIdx))) {
					cc := c
					fallback = &cc
				}
				continue
			}
			if best == nil || c.pval < best.pval ||
				(c.pval == best.pval && (c.inputIdx < best.inputIdx ||
					(c.inputIdx == best.inputIdx && c.eventIdx < best.eventIdx))) {
				cc := c
				best = &cc
			}
		}
	}

	if best != nil {
		return Result{
			D1:    best.input.D1,
			D2:    best.input.D2,
			Args:  best.input.Args,
			Event: best.event,
			PVal:  best.pval,
		}, nil
	}
	if fallback != nil {
		if logger != nil {
			logger.Info("selector: every candidate event was underpowered, falling back to the largest-count event",
				"input_idx", fallback.inputIdx, "event_idx", fallback.eventIdx, "cx_plus_cy", fallback.count)
		}
		return Result{
			D1:    fallback.input.D1,
			D2:    fallback.input.D2,
			Args:  fallback.input.Args,
			Event: fallback.event,
			PVal:  1.0,
		}, nil
	}
	return Result{}, nil
}

// scoreInput runs A+B+C+D for one candidate input, scoring every event in
// its auto-derived search space, or the singleton {explicitEvent} when the
// caller pinned one.
func scoreInput(rng *rand.Rand, mech mechanism.Mechanism, in generator.Input, epsilon float64, iterations int, tester *stattest.Tester, explicitEvent eventspace.Event, logger *reporting.Logger) []candidate {
	r := runner.New()

	m1, err := r.Run(mech, in.D1, in.Args, iterations)
	if err != nil {
		return nil
	}
	m2, err := r.Run(mech, in.D2, in.Args, iterations)
	if err != nil {
		return nil
	}

	var space eventspace.Space
	if explicitEvent != nil {
		space = eventspace.BuildExplicit(explicitEvent)
	} else {
		space, err = eventspace.Build(m1.Rows, m2.Rows)
		if err != nil {
			return nil
		}
	}

	events := space.Events()
	candidates := make([]candidate, 0, len(events))
	threshold := SignalThreshold * float64(iterations) * math.Exp(epsilon)

	for _, ev := range events {
		counts := counter.CountPair(m1.Rows, m2.Rows, ev)
		total := counts.CX + counts.CY
		if float64(total) <= threshold {
			candidates = append(candidates, candidate{input: in, event: ev, pval: math.Inf(1), count: total})
			continue
		}
		p := tester.PValue(rng, counts.CX, counts.CY, epsilon, iterations, logger)
		candidates = append(candidates, candidate{input: in, event: ev, pval: p, count: total})
	}
	return candidates
}

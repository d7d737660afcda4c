// Package eventspace builds per-row candidate event predicates from observed
// mechanism output, auto-deriving either a categorical value set or a set of
// open (-inf, alpha) interval thresholds depending on what the data looks like.
package eventspace

import (
	"fmt"
	"math"
	"sort"
)

// NegInf is the typed sentinel for an interval predicate's unbounded lower
// end. Comparisons against it must never be done via subtraction against a
// literal math.Inf(-1) — Predicate.Match below compares it directly.
var NegInf = math.Inf(-1)

// categoricalRatio and continuousWindow mirror the Python reference's
// constants (statdp/selectors.py): a row is treated as categorical when its
// distinct-value count is under 0.002*N (iterations*0.02*0.1 in the
// original), and otherwise the densest 70% window of the sorted combined
// samples anchors the 10 threshold predicates.
const (
	categoricalRatio = 0.002
	continuousWindow = 0.70
	numThresholds    = 10
)

// Kind distinguishes a Predicate's matching rule.
type Kind int

const (
	// Value matches iff the output equals V exactly (categorical rows).
	Value Kind = iota
	// Interval matches iff Lo < output < Hi (continuous rows).
	Interval
)

// Predicate is one per-row matching rule: either an exact value or an
// open (Lo, Hi) interval (both ends excluded), Lo possibly NegInf.
type Predicate struct {
	Kind Kind
	V    float64 // used when Kind == Value
	Lo   float64 // used when Kind == Interval
	Hi   float64 // used when Kind == Interval
}

// Match reports whether x satisfies p.
func (p Predicate) Match(x float64) bool {
	switch p.Kind {
	case Value:
		return x == p.V
	case Interval:
		return x > p.Lo && x < p.Hi
	default:
		return false
	}
}

func (p Predicate) String() string {
	switch p.Kind {
	case Value:
		return fmt.Sprintf("==%g", p.V)
	case Interval:
		if p.Lo == NegInf {
			return fmt.Sprintf("(-inf, %g)", p.Hi)
		}
		return fmt.Sprintf("(%g, %g)", p.Lo, p.Hi)
	default:
		return "?"
	}
}

// Event is a conjunction of one Predicate per output row: an output matches
// the event iff every row's predicate matches that row's component.
type Event []Predicate

func (e Event) String() string {
	s := "("
	for i, p := range e {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	return s + ")"
}

// Space is a per-row predicate list; the Cartesian product across rows is
// the full event search space. Space is materialized explicitly (not as a
// lazy iterator) because per-row predicate counts are small and bounded
// (at most 10 for continuous rows, |U| for categorical ones).
type Space [][]Predicate

// Events expands the Cartesian product of s into concrete Event values.
func (s Space) Events() []Event {
	if len(s) == 0 {
		return nil
	}
	total := 1
	for _, row := range s {
		if len(row) == 0 {
			return nil
		}
		total *= len(row)
	}
	events := make([]Event, total)
	for i := range events {
		events[i] = make(Event, len(s))
	}
	stride := total
	for r, row := range s {
		stride /= len(row)
		for i := 0; i < total; i++ {
			events[i][r] = row[(i/stride)%len(row)]
		}
	}
	return events
}

// Build forms the per-row event search space from paired D1/D2 output
// matrices, one row at a time. rowsD1 and rowsD2 must have the same number
// of rows R (the mechanism arity) and each row pair is independent of the
// others.
func Build(rowsD1, rowsD2 [][]float64) (Space, error) {
	if len(rowsD1) != len(rowsD2) {
		return nil, fmt.Errorf("eventspace: row count mismatch: %d vs %d", len(rowsD1), len(rowsD2))
	}
	space := make(Space, len(rowsD1))
	for r := range rowsD1 {
		space[r] = buildRow(rowsD1[r], rowsD2[r])
	}
	return space, nil
}

// BuildExplicit collapses the search space to the singleton {event}: used
// when the caller supplies an already-constructed Event of the correct
// arity, bypassing auto-derivation entirely.
func BuildExplicit(event Event) Space {
	space := make(Space, len(event))
	for r, p := range event {
		space[r] = []Predicate{p}
	}
	return space
}

// buildRow implements the per-row rule from spec.md §4.B: concatenate the
// two samples, decide categorical vs continuous from the distinct-value
// count, and in the continuous case pick the densest-70% window before
// laying 10 equally-spaced upper thresholds across it.
func buildRow(d1, d2 []float64) []Predicate {
	n := len(d1)
	combined := make([]float64, 0, len(d1)+len(d2))
	combined = append(combined, d1...)
	combined = append(combined, d2...)

	unique := distinct(combined)
	if float64(len(unique)) < categoricalRatio*float64(n) {
		preds := make([]Predicate, len(unique))
		for i, u := range unique {
			preds[i] = Predicate{Kind: Value, V: u}
		}
		return preds
	}

	sort.Float64s(combined)
	total := len(combined)
	w := int(continuousWindow * float64(total))
	if w < 1 {
		w = 1
	}
	if w > total {
		w = total
	}

	loIdx, bestSpan := 0, math.Inf(1)
	for j := w; j < total; j++ {
		span := combined[j] - combined[j-w]
		if span < bestSpan {
			bestSpan = span
			loIdx = j - w
		}
	}
	lo, hi := combined[loIdx], combined[loIdx+w-1]

	preds := make([]Predicate, numThresholds)
	for i := 0; i < numThresholds; i++ {
		var alpha float64
		if numThresholds == 1 {
			alpha = lo
		} else {
			alpha = lo + (hi-lo)*float64(i)/float64(numThresholds-1)
		}
		preds[i] = Predicate{Kind: Interval, Lo: NegInf, Hi: alpha}
	}
	return preds
}

func distinct(xs []float64) []float64 {
	seen := make(map[float64]struct{}, len(xs))
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; !ok {
			seen[x] = struct{}{}
			out = append(out, x)
		}
	}
	sort.Float64s(out)
	return out
}

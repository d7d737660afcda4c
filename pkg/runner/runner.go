// Package runner implements the Mechanism Runner: it probes a mechanism once
// to discover its output arity, then drives it through N further invocations
// on a fixed dataset and returns the dense OutputMatrix spec.md calls for.
package runner

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mathrand "math/rand"

	"github.com/jihwankim/statdp/pkg/mechanism"
)

// OutputMatrix is a row-major R×N matrix of mechanism outputs on one fixed
// dataset: Rows[r][i] is the r-th output component of the i-th invocation.
type OutputMatrix struct {
	Rows [][]float64
}

// Arity returns R, the number of output rows.
func (m OutputMatrix) Arity() int { return len(m.Rows) }

// N returns the number of iterations captured, 0 if the matrix is empty.
func (m OutputMatrix) N() int {
	if len(m.Rows) == 0 {
		return 0
	}
	return len(m.Rows[0])
}

// Runner executes a Mechanism many times on a fixed dataset.
type Runner struct{}

// New creates a Runner. Runner carries no state of its own — every piece of
// per-invocation state (the RNG a mechanism implementation might consult)
// lives with the caller, matching spec.md's "no long-lived mutable state
// except the worker pool" lifecycle note.
func New() *Runner {
	return &Runner{}
}

// Run probes mech once on d to learn the output arity, then invokes it n
// further times, returning the R×n OutputMatrix of those n invocations (the
// probe's output is used only for its arity). Before probing, Run reseeds
// math/rand's process-wide global source from OS entropy. That source is
// shared by every goroutine, so mechanisms that draw from it (rather than
// from their own *rand.Rand) share one stream across all workers; the
// reseed does not give each worker a stream of its own.
func (r *Runner) Run(mech mechanism.Mechanism, d mechanism.Dataset, args mechanism.Args, n int) (OutputMatrix, error) {
	reseedGlobal()

	probe, err := mech(d, args)
	if err != nil {
		return OutputMatrix{}, fmt.Errorf("probe invocation: %w", err)
	}
	arity := probe.Arity()
	if arity == 0 {
		return OutputMatrix{}, &mechanism.SchemaMismatchError{Probed: 0, Got: 0}
	}

	rows := make([][]float64, arity)
	for r := range rows {
		rows[r] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		out, err := mech(d, args)
		if err != nil {
			return OutputMatrix{}, fmt.Errorf("invocation %d: %w", i+1, err)
		}
		if out.Arity() != arity {
			return OutputMatrix{}, &mechanism.SchemaMismatchError{Probed: arity, Got: out.Arity()}
		}
		for r := 0; r < arity; r++ {
			v := out.Values[r]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return OutputMatrix{}, &mechanism.SchemaMismatchError{Probed: arity, Got: out.Arity()}
			}
			rows[r][i] = v
		}
	}

	return OutputMatrix{Rows: rows}, nil
}

// reseedGlobal draws 8 bytes of OS entropy and reseeds math/rand's global
// source. The global source is process-wide: every worker that calls Run
// reseeds the same source, and mechanisms that use rand.Float64() etc.
// directly all draw from it.
func reseedGlobal() {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return
	}
	mathrand.Seed(int64(binary.LittleEndian.Uint64(buf[:]))) //nolint:staticcheck
}

// Package workerpool wraps github.com/JekaMas/workerpool with the two
// properties spec.md §5 requires that the bare pool does not give you:
// each worker owns an independently-seeded *rand.Rand, and callers gather
// typed task results through Gather, where each task writes only its own
// slot of the result slice.
package workerpool

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"sync"

	"github.com/JekaMas/workerpool"
)

// Pool is a fixed-size pool of goroutine workers. It is the single shared
// resource the orchestrator owns for the lifetime of one Detect call; no
// mutex-protected structure crosses a task boundary, only each task's
// return value (spec.md §5's "communication is by message").
type Pool struct {
	wp      *workerpool.WorkerPool
	size    int
	rngs    []*mathrand.Rand
	rngNext int
	mu      sync.Mutex
}

// New builds a Pool of size workers, each seeded from independent OS
// entropy at fill time so no worker observes another's RNG state (spec.md
// §9's RNG-independence invariant). size <= 1 runs everything in-process on
// a single worker, matching spec.md §6's "1 = in-process" convention.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		wp:   workerpool.New(size),
		size: size,
		rngs: make([]*mathrand.Rand, size),
	}
	for i := range p.rngs {
		p.rngs[i] = mathrand.New(mathrand.NewSource(seedFromEntropy()))
	}
	return p
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return p.size }

// RNG returns a fresh generator owned by the caller, seeded from the next of
// the pool's pre-seeded generators round-robin (those are only read under
// the pool's mutex). Tasks dispatched via Submit should call RNG once per
// task invocation rather than caching the result, so concurrent tasks never
// share a generator.
func (p *Pool) RNG() *mathrand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.rngs[p.rngNext%len(p.rngs)]
	p.rngNext++
	return mathrand.New(mathrand.NewSource(r.Int63()))
}

// Submit runs fn on the pool and blocks the caller until it starts; results
// are communicated back through state captured in fn's closure that no
// other task writes (a channel, or a slot of its own as in Gather).
func (p *Pool) Submit(fn func()) {
	p.wp.Submit(fn)
}

// PanicError wraps a panic value recovered from inside a pkg/workerpool
// task. Gather converts a worker-crash into this error rather than letting
// it bring down the process, per spec.md §7's worker-crash clause; the
// caller's own defer pool.StopWait() still tears the pool down as it would
// on any other error return.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workerpool: task panicked: %v", e.Value)
}

// Gather runs one task per item in items concurrently across the pool and
// returns their results in input order once every task has completed. This
// is the only synchronization point in the pipeline (spec.md §5's "gather"
// suspension point). If any task panics, the panic is recovered inside that
// task's goroutine, the pool keeps draining the remaining tasks, and Gather
// returns a non-nil *PanicError alongside the partial results — the
// originating panic value is never silently lost.
func Gather[T any, R any](p *Pool, items []T, fn func(*mathrand.Rand, T) R) ([]R, error) {
	results := make([]R, len(items))
	panics := make([]interface{}, len(items))
	var wg sync.WaitGroup
	wg.Add(len(items))
	for i, item := range items {
		i, item := i, item
		p.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panics[i] = r
				}
			}()
			results[i] = fn(p.RNG(), item)
		})
	}
	wg.Wait()

	for _, r := range panics {
		if r != nil {
			return results, &PanicError{Value: r}
		}
	}
	return results, nil
}

// StopWait drains and joins every worker. The orchestrator calls this
// unconditionally on teardown, successful or cancelled (spec.md §5's
// "must be joined before detect returns").
func (p *Pool) StopWait() {
	p.wp.StopWait()
}

func seedFromEntropy() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		var buf [8]byte
		_, _ = rand.Read(buf[:])
		return int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return n.Int64()
}

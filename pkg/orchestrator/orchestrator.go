// Package orchestrator implements the top-level Detect entry point: for
// each requested test_epsilon value it runs the Selector then the
// Hypothesis Tester and reports one line of progress, tearing the worker
// pool down unconditionally on return or cancellation.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"

	"github.com/jihwankim/statdp/pkg/eventspace"
	"github.com/jihwankim/statdp/pkg/generator"
	"github.com/jihwankim/statdp/pkg/hyptest"
	"github.com/jihwankim/statdp/pkg/mechanism"
	"github.com/jihwankim/statdp/pkg/reporting"
	"github.com/jihwankim/statdp/pkg/selector"
	"github.com/jihwankim/statdp/pkg/stattest"
	"github.com/jihwankim/statdp/pkg/teardown"
	"github.com/jihwankim/statdp/pkg/workerpool"
)

// Result is one completed test_epsilon iteration.
type Result struct {
	Epsilon float64
	PValue  float64
	PValue2 float64 // only set when options.reportP2 was requested
	D1      mechanism.Dataset
	D2      mechanism.Dataset
	Args    mechanism.Args
	Event   eventspace.Event
}

type options struct {
	defaultArgs      mechanism.Args
	databases        *generator.Input
	numInput         []int
	eventIterations  int
	detectIterations int
	cores            int
	quiet            bool
	reportP2         bool
	hypergeomBackend string
	logger           *reporting.Logger
	progressFormat   reporting.OutputFormat
	explicitEvent    eventspace.Event
}

// Option configures a Detect call.
type Option func(*options)

// WithDefaultArgs sets the mechanism args every invocation carries,
// including the mechanism's own claimed epsilon (mechanism.EpsilonKey).
// This is a wholly separate value from testEpsilon: the loop in Detect
// never rewrites it, so the mechanism is always exercised at the epsilon
// it actually claims to satisfy while each ε₀ in testEpsilon is scored as
// an independent null hypothesis against that fixed behavior.
func WithDefaultArgs(args mechanism.Args) Option {
	return func(o *options) { o.defaultArgs = args }
}

// WithDatabases overrides the generator with a single caller-supplied
// (D1, D2) pair.
func WithDatabases(d1, d2 mechanism.Dataset) Option {
	return func(o *options) { o.databases = &generator.Input{D1: d1, D2: d2} }
}

// WithNumInput sets the generator size(s) to union when databases is not
// supplied. A single size is equivalent to []int{n}.
func WithNumInput(sizes ...int) Option {
	return func(o *options) { o.numInput = sizes }
}

// WithEventIterations sets N for the selector pass (default 100_000).
func WithEventIterations(n int) Option {
	return func(o *options) { o.eventIterations = n }
}

// WithDetectIterations sets N_det for the tester pass (default 500_000).
func WithDetectIterations(n int) Option {
	return func(o *options) { o.detectIterations = n }
}

// WithCores sets the worker pool size (0 = runtime.NumCPU(), 1 = in-process).
func WithCores(n int) Option {
	return func(o *options) { o.cores = n }
}

// WithQuiet suppresses the per-ε₀ progress line.
func WithQuiet(quiet bool) Option {
	return func(o *options) { o.quiet = quiet }
}

// WithReportP2 requests the reverse-direction diagnostic p-value.
func WithReportP2(reportP2 bool) Option {
	return func(o *options) { o.reportP2 = reportP2 }
}

// WithHypergeomBackend selects the hypergeom.Backend by name ("logspace" or
// "native"; default "logspace").
func WithHypergeomBackend(name string) Option {
	return func(o *options) { o.hypergeomBackend = name }
}

// WithLogger attaches a structured logger; an info-level text logger
// writing to stdout is used when omitted.
func WithLogger(logger *reporting.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProgressFormat selects the progress line's rendering (default FormatText).
func WithProgressFormat(format reporting.OutputFormat) Option {
	return func(o *options) { o.progressFormat = format }
}

// WithEvent pins an explicit event, bypassing the event-space builder
// entirely: the selector's search space collapses to the singleton {E}.
func WithEvent(event eventspace.Event) Option {
	return func(o *options) { o.explicitEvent = event }
}

func defaultOptions() options {
	return options{
		defaultArgs:      mechanism.Args{},
		numInput:         []int{5, 10},
		eventIterations:  100_000,
		detectIterations: 500_000,
		cores:            0,
		hypergeomBackend: "logspace",
		progressFormat:   reporting.FormatText,
	}
}

// Detect is the one exported entry point: it builds one worker pool for the
// whole call, and for each ε₀ in testEpsilon runs the Selector then the
// Hypothesis Tester against that ε₀ as the null-hypothesis test epsilon,
// and emits one progress line. The mechanism's own claimed epsilon (set via
// WithDefaultArgs, carried in every candidate input's Args) is never
// touched by this loop — ε₀ and the mechanism's claimed epsilon are
// deliberately independent values, exactly as spec.md's methodology
// requires. The pool is closed and joined in a defer unconditionally; ctx
// cancellation or SIGINT/SIGTERM drains the in-flight ε₀ iteration and
// returns early, discarding its partial result.
func Detect(ctx context.Context, mech mechanism.Mechanism, testEpsilon []float64, opts ...Option) ([]Result, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = reporting.NewLogger(reporting.LoggerConfig{Level: reporting.LogLevelInfo, Format: reporting.LogFormatText})
	}
	progress := reporting.NewProgressReporter(o.progressFormat, o.logger, o.quiet)

	inputs, err := resolveInputs(o)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	cores := o.cores
	if cores == 0 {
		cores = runtime.NumCPU()
	}
	pool := workerpool.New(cores)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctrl := teardown.New(teardown.Config{EnableSignalHandlers: true})
	ctrl.OnStop(func() { pool.StopWait() })
	ctrl.Start(runCtx)
	defer pool.StopWait()

	tester := stattest.New(o.hypergeomBackend)

	results := make([]Result, 0, len(testEpsilon))
	for _, eps := range testEpsilon {
		select {
		case <-ctrl.StopChannel():
			return results, nil
		default:
		}

		epsLogger := o.logger.WithEpsilon(eps)

		// inputs carries the mechanism's own claimed args (set once via
		// WithDefaultArgs/the generator's defaultArgs) entirely unmodified:
		// eps is the null-hypothesis test epsilon the Selector and
		// Hypothesis Tester score against, never written into Args. Mixing
		// the two would let the mechanism trivially "self-calibrate" to
		// whatever ε₀ is being probed.
		sel, err := selector.Select(pool, mech, inputs, eps, o.eventIterations, tester, o.explicitEvent, epsLogger)
		if err != nil {
			return results, fmt.Errorf("selector failed at epsilon=%g: %w", eps, err)
		}

		var hr hyptest.Result
		if sel.Event != nil {
			hr, err = hyptest.Test(pool, mech, sel.D1, sel.D2, sel.Args, sel.Event, eps, o.detectIterations, o.reportP2, tester, epsLogger)
			if err != nil {
				return results, fmt.Errorf("hypothesis test failed at epsilon=%g: %w", eps, err)
			}
		} else {
			hr = hyptest.Result{PVal: 1.0}
		}

		select {
		case <-ctrl.StopChannel():
			return results, nil
		default:
		}

		res := Result{
			Epsilon: eps,
			PValue:  hr.PVal,
			PValue2: hr.PVal2,
			D1:      sel.D1,
			D2:      sel.D2,
			Args:    sel.Args,
			Event:   sel.Event,
		}
		results = append(results, res)
		progress.ReportEpsilonResult(reporting.EpsilonResult{Epsilon: eps, PValue: hr.PVal, Event: sel.Event.String()})
	}

	return results, nil
}

func resolveInputs(o options) ([]generator.Input, error) {
	if o.databases != nil {
		return []generator.Input{{D1: o.databases.D1, D2: o.databases.D2, Args: o.defaultArgs.Clone()}}, nil
	}
	return generator.GenerateSizes(o.numInput, o.defaultArgs)
}

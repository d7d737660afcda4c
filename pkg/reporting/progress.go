package reporting

import (
	"encoding/json"
	"fmt"
)

// OutputFormat represents the progress output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatTUI  OutputFormat = "tui"
)

// EpsilonResult is one completed test_epsilon iteration, the unit the
// orchestrator reports progress on.
type EpsilonResult struct {
	Epsilon float64 `json:"epsilon"`
	PValue  float64 `json:"p_value"`
	Event   string  `json:"event"`
}

// ProgressReporter reports detector run progress, one line per completed
// test_epsilon value, suppressed entirely when the caller requests quiet.
type ProgressReporter struct {
	format OutputFormat
	logger *Logger
	quiet  bool
}

// NewProgressReporter creates a new progress reporter.
func NewProgressReporter(format OutputFormat, logger *Logger, quiet bool) *ProgressReporter {
	return &ProgressReporter{
		format: format,
		logger: logger,
		quiet:  quiet,
	}
}

// ReportEpsilonResult emits spec.md §6's mandated progress line: "Epsilon:
// <ε0> | p-value: <p:.3f> | Event: <E>". No-op when quiet is set.
func (pr *ProgressReporter) ReportEpsilonResult(result EpsilonResult) {
	if pr.quiet {
		return
	}
	switch pr.format {
	case FormatJSON:
		pr.reportJSON(result)
	case FormatTUI:
		pr.reportTUI(result)
	default:
		pr.reportText(result)
	}
}

func (pr *ProgressReporter) reportText(result EpsilonResult) {
	fmt.Printf("Epsilon: %g | p-value: %.3f | Event: %s\n", result.Epsilon, result.PValue, result.Event)
}

func (pr *ProgressReporter) reportJSON(result EpsilonResult) {
	data, err := json.Marshal(result)
	if err != nil {
		if pr.logger != nil {
			pr.logger.Error("failed to marshal progress result", "error", err)
		}
		return
	}
	fmt.Println(string(data))
}

func (pr *ProgressReporter) reportTUI(result EpsilonResult) {
	verdict := "no counterexample"
	if result.PValue <= 0.05 {
		verdict = "counterexample found"
	}
	fmt.Printf("ε₀=%-6g  p=%.3f  %-22s  event=%s\n", result.Epsilon, result.PValue, verdict, result.Event)
}

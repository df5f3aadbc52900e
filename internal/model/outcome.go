package model

import "time"

// OutcomeKind classifies the result of one test attempt.
type OutcomeKind string

// Possible outcome kinds.
const (
	OutcomePassed     OutcomeKind = "passed"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeSkipped    OutcomeKind = "skipped"
	OutcomeExpectFail OutcomeKind = "expect_failed"
	OutcomeError      OutcomeKind = "error"
)

// ErrorPhase narrows error outcomes to the phase that produced them.
type ErrorPhase string

// Phases an error outcome can originate from.
const (
	PhaseCollection ErrorPhase = "collection"
	PhaseSetup      ErrorPhase = "setup"
	PhaseTeardown   ErrorPhase = "teardown"
	PhaseWorker     ErrorPhase = "worker"
)

// DiagnosticKind labels a diagnostic for rendering.
type DiagnosticKind string

// Diagnostic kinds produced by the engine.
const (
	DiagParseError    DiagnosticKind = "parse-error"
	DiagFixtureCycle  DiagnosticKind = "fixture-cycle"
	DiagMissingValue  DiagnosticKind = "missing-value"
	DiagInvalidParams DiagnosticKind = "invalid-parametrize"
	DiagScopeConflict DiagnosticKind = "scope-conflict"
	DiagTestFailure   DiagnosticKind = "test-failure"
	DiagSetupError    DiagnosticKind = "setup-error"
	DiagTeardownError DiagnosticKind = "teardown-error"
	DiagWorkerError   DiagnosticKind = "worker-error"
)

// Diagnostic is a structured report against a source location.
type Diagnostic struct {
	Kind      DiagnosticKind `json:"kind"`
	Location  Location       `json:"location"`
	Message   string         `json:"message"`
	Secondary []Location     `json:"secondary,omitempty"`
	Traceback string         `json:"traceback,omitempty"`
}

// Outcome is the result of one normalized test for one attempt chain:
// retries collapse into a single outcome with an attempt count.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Phase      ErrorPhase  `json:"phase,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
	Duration   int64       `json:"duration_ns"`
	Attempts   int         `json:"attempts"`
	Output     string      `json:"output,omitempty"`
}

// Passing reports whether the outcome counts toward a zero exit code.
func (o Outcome) Passing() bool {
	switch o.Kind {
	case OutcomePassed, OutcomeSkipped, OutcomeExpectFail:
		return true
	default:
		return false
	}
}

// ResultRecord is one serialized entry in a worker's results file.
type ResultRecord struct {
	DisplayName  string  `json:"display_name"`
	Module       Path    `json:"module"`
	Line         int     `json:"line"`
	VariantIndex int     `json:"variant_index"`
	Outcome      Outcome `json:"outcome"`
}

// RunMeta is the run directory manifest (meta.json).
type RunMeta struct {
	RunID    string     `json:"run_id"`
	Workers  int        `json:"workers"`
	Shards   [][]string `json:"shards"`
	StartedAt time.Time  `json:"started_at"`
}

// PyErrorKind classifies a python exception surfaced by the bridge.
type PyErrorKind string

// Exception classes the executor cares about.
const (
	PyErrSkip      PyErrorKind = "skip"
	PyErrFail      PyErrorKind = "fail"
	PyErrAssertion PyErrorKind = "assertion"
	PyErrOther     PyErrorKind = "exception"
)

// PyError is a classified python exception.
type PyError struct {
	Kind      PyErrorKind
	TypeName  string
	Message   string
	Traceback string
}

// Error implements the error interface.
func (e *PyError) Error() string {
	if e.Message == "" {
		return e.TypeName
	}
	return e.TypeName + ": " + e.Message
}

package schemas

import "time"

// -- Failure Classification --

// FailureKind is the classified category of a test run outcome. Every raw
// runner output maps to exactly one kind; the healing engine dispatches its
// remediation strategy on this value.
type FailureKind string

const (
	KindSuccess             FailureKind = "success"
	KindLocatorError        FailureKind = "locator_error"
	KindImportError         FailureKind = "import_error"
	KindExportError         FailureKind = "export_error"
	KindSyntaxError         FailureKind = "syntax_error"
	KindTypeError           FailureKind = "type_error"
	KindInfrastructureError FailureKind = "infrastructure_error"
	KindUnknown             FailureKind = "unknown"
)

// FailureSignal is the typed result of classifying one test run. It carries
// the raw output so audit trails lose nothing, plus whatever the classifier
// could extract (the failing locator string, a file/line hint).
type FailureSignal struct {
	Kind             FailureKind `json:"kind"`
	RawMessage       string      `json:"raw_message"`
	ExtractedLocator string      `json:"extracted_locator,omitempty"`
	FileHint         string      `json:"file_hint,omitempty"`
	LineHint         int         `json:"line_hint,omitempty"`
}

// -- Candidate Metadata --

// StrategyType identifies how a captured selector locates its element.
// The ordering of preference between strategies is fixed; see StrategyPriority.
type StrategyType string

const (
	StrategyRole   StrategyType = "role"
	StrategyTestID StrategyType = "testid"
	StrategyLabel  StrategyType = "label"
	StrategyText   StrategyType = "text"
	StrategyCSS    StrategyType = "css"
	StrategyXPath  StrategyType = "xpath"
)

// StrategyPriority ranks selector strategies from most to least stable.
// Semantic strategies (role, testid) survive markup churn better than
// structural ones (css, xpath), so they are preferred when healing.
var StrategyPriority = map[StrategyType]int{
	StrategyRole:   0,
	StrategyTestID: 1,
	StrategyLabel:  2,
	StrategyText:   3,
	StrategyCSS:    4,
	StrategyXPath:  5,
}

// Confidence grades how strongly a candidate is believed to identify the
// same element as the failing locator.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// ElementRecord is one previously observed UI element, produced by the
// upstream capture pipeline. Records are immutable; the healing engine only
// ever reads them.
type ElementRecord struct {
	ID          string                  `json:"id"`
	PageContext string                  `json:"page_context"`
	Selectors   map[StrategyType]string `json:"selectors"`
	Action      string                  `json:"action"`
	VisibleText string                  `json:"visible_text,omitempty"`
	Tag         string                  `json:"tag,omitempty"`
	CapturedAt  time.Time               `json:"captured_at"`
}

// AlternativeCandidate is one replacement selector proposed for a failing
// locator. Every candidate traces back to a captured ElementRecord; the
// engine never fabricates selectors.
type AlternativeCandidate struct {
	Selector       string       `json:"selector"`
	Strategy       StrategyType `json:"strategy"`
	SourceRecordID string       `json:"source_record_id"`
	Confidence     Confidence   `json:"confidence"`
}

// -- Session History --

// AttemptRecord captures one healing attempt: the run's classified signal,
// the candidates that were considered, and whether a patch was applied.
// Records are append-only and never edited after creation.
type AttemptRecord struct {
	AttemptNumber        int                    `json:"attempt_number"`
	Signal               FailureSignal          `json:"signal"`
	CandidatesConsidered []AlternativeCandidate `json:"candidates_considered,omitempty"`
	Chosen               *AlternativeCandidate  `json:"chosen,omitempty"`
	Patched              bool                   `json:"patched"`
	Timestamp            time.Time              `json:"timestamp"`
}

// SessionOutcome is the terminal (or current) state of a healing session.
type SessionOutcome string

const (
	OutcomeInProgress   SessionOutcome = "in_progress"
	OutcomeSuccess      SessionOutcome = "success"
	OutcomeExhausted    SessionOutcome = "exhausted"
	OutcomeNonRetryable SessionOutcome = "nonretryable"
)

// HealingResult is the caller-facing summary of a completed session.
// The full attempt history is always present, success or not.
type HealingResult struct {
	SessionID          string          `json:"session_id"`
	Success            bool            `json:"success"`
	Outcome            SessionOutcome  `json:"outcome"`
	Attempts           []AttemptRecord `json:"attempts"`
	FinalScriptContent string          `json:"final_script_content"`
	FinalSignal        *FailureSignal  `json:"final_signal,omitempty"`
}

// RunResult is the raw output of one test runner invocation.
type RunResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// CombinedOutput returns stdout and stderr joined for classification.
// Runners differ in which stream carries the failure text, so the
// classifier always sees both.
func (r *RunResult) CombinedOutput() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

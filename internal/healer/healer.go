// Package healer drives the self-healing retry loop: run the script,
// classify the failure, apply one fix, run again, within a bounded attempt
// budget. The loop is an explicit state machine returning structured
// results per attempt; classified failures travel as values, and Go errors
// are reserved for genuine harness faults.
package healer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/classifier"
)

// State identifies a position in the healing state machine. States exist
// for observability: every transition is logged with the session ID.
type State string

const (
	StateInit           State = "INIT"
	StateRunningAttempt State = "RUNNING_ATTEMPT"
	StateClassifying    State = "CLASSIFYING"
	StatePatching       State = "PATCHING"
	StateSuccess        State = "SUCCESS"
	StateFailed         State = "FAILED"
)

// DefaultMaxAttempts bounds the retry loop when no override is configured.
const DefaultMaxAttempts = 5

// Session is the mutable state of one healing run. The session exclusively
// owns Script for its lifetime; only fixers mutate it, and only as the
// result of a chosen candidate. History is append-only.
type Session struct {
	ID          string
	PageContext string
	Script      string
	History     []schemas.AttemptRecord
	Outcome     schemas.SessionOutcome
}

// FixOutcome reports what a fixer did for one failure occurrence.
type FixOutcome struct {
	// Changed is false when the fixer could not produce any actionable
	// change (empty candidate list, zero files patched). The session then
	// fails fast instead of burning the remaining attempt budget.
	Changed    bool
	Candidates []schemas.AlternativeCandidate
	Chosen     *schemas.AlternativeCandidate
}

// Fixer attempts exactly one remediation for its registered failure kind.
// A non-nil error means the fixer itself faulted (I/O, store access); an
// unchanged outcome is the normal "nothing I can do" answer.
type Fixer interface {
	Fix(ctx context.Context, sess *Session, sig schemas.FailureSignal) (*FixOutcome, error)
}

// Options tune one orchestrator instance.
type Options struct {
	MaxAttempts int
	WorkDir     string
	Env         map[string]string
}

// Orchestrator coordinates runner, classifier and fixers across bounded
// attempts. Attempts are strictly sequential: the runner represents an
// exclusive browser context, so there is never overlap between running and
// healing phases.
type Orchestrator struct {
	log         *zap.Logger
	runner      schemas.TestRunner
	classify    func(rawOutput string, exitCode int) schemas.FailureSignal
	fixers      map[schemas.FailureKind]Fixer
	maxAttempts int
	workDir     string
	env         map[string]string
}

// New creates an orchestrator. The fixer table maps failure kinds to their
// remediation; kinds without an entry (unknown, infrastructure_error) fail
// the session immediately.
func New(runner schemas.TestRunner, fixers map[schemas.FailureKind]Fixer, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if runner == nil {
		return nil, fmt.Errorf("cannot initialize healer with a nil test runner")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Orchestrator{
		log:         logger.Named("healer"),
		runner:      runner,
		classify:    classifier.Classify,
		fixers:      fixers,
		maxAttempts: maxAttempts,
		workDir:     opts.WorkDir,
		env:         opts.Env,
	}, nil
}

// Heal runs the bounded attempt loop for one script and returns the
// structured result. The full attempt history is always populated, success
// or not; nothing is silently dropped.
func (o *Orchestrator) Heal(ctx context.Context, scriptContent, pageContext string) (*schemas.HealingResult, error) {
	sess := &Session{
		ID:          uuid.NewString(),
		PageContext: pageContext,
		Script:      scriptContent,
		Outcome:     schemas.OutcomeInProgress,
	}
	log := o.log.With(zap.String("session_id", sess.ID))
	log.Info("Healing session started.",
		zap.String("page_context", pageContext),
		zap.Int("max_attempts", o.maxAttempts))

	state := StateInit
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		state = o.transition(log, state, StateRunningAttempt, attempt)

		sig := o.runAndClassify(ctx, log, sess, attempt)
		state = o.transition(log, state, StateClassifying, attempt)

		record := schemas.AttemptRecord{
			AttemptNumber: attempt,
			Signal:        sig,
			Timestamp:     time.Now().UTC(),
		}

		switch {
		case sig.Kind == schemas.KindSuccess:
			sess.History = append(sess.History, record)
			sess.Outcome = schemas.OutcomeSuccess
			o.transition(log, state, StateSuccess, attempt)
			return o.result(sess), nil

		case sig.Kind == schemas.KindInfrastructureError:
			// Retrying reproduces the same harness fault; don't waste the
			// attempt budget.
			sess.History = append(sess.History, record)
			sess.Outcome = schemas.OutcomeNonRetryable
			log.Error("Infrastructure failure; session is non-retryable.",
				zap.String("raw_message", truncateForLog(sig.RawMessage)))
			o.transition(log, state, StateFailed, attempt)
			return o.result(sess), nil

		case attempt == o.maxAttempts:
			sess.History = append(sess.History, record)
			sess.Outcome = schemas.OutcomeExhausted
			log.Warn("Attempt budget exhausted without success.",
				zap.Int("attempts", len(sess.History)))
			o.transition(log, state, StateFailed, attempt)
			return o.result(sess), nil
		}

		fixer, ok := o.fixers[sig.Kind]
		if !ok {
			sess.History = append(sess.History, record)
			sess.Outcome = schemas.OutcomeNonRetryable
			log.Warn("No fixer registered for failure kind; failing fast.",
				zap.String("kind", string(sig.Kind)))
			o.transition(log, state, StateFailed, attempt)
			return o.result(sess), nil
		}

		state = o.transition(log, state, StatePatching, attempt)
		outcome, err := fixer.Fix(ctx, sess, sig)
		if err != nil {
			sess.History = append(sess.History, record)
			sess.Outcome = schemas.OutcomeNonRetryable
			o.transition(log, state, StateFailed, attempt)
			return o.result(sess), fmt.Errorf("fixer for kind '%s' faulted: %w", sig.Kind, err)
		}

		record.CandidatesConsidered = outcome.Candidates
		record.Chosen = outcome.Chosen
		record.Patched = outcome.Changed
		sess.History = append(sess.History, record)

		if !outcome.Changed {
			// A known-unfixable state: looping to maxAttempts would only
			// replay the identical failure.
			sess.Outcome = schemas.OutcomeNonRetryable
			log.Warn("Fixer produced no actionable change; failing fast.",
				zap.String("kind", string(sig.Kind)),
				zap.Int("candidates_considered", len(outcome.Candidates)))
			o.transition(log, state, StateFailed, attempt)
			return o.result(sess), nil
		}

		log.Info("Fix applied; re-running script.",
			zap.Int("attempt", attempt),
			zap.String("kind", string(sig.Kind)))
	}

	// Unreachable: the loop always returns from its final iteration.
	sess.Outcome = schemas.OutcomeExhausted
	return o.result(sess), nil
}

// runAndClassify invokes the runner and maps the output, or the runner's
// own fault, to a failure signal.
func (o *Orchestrator) runAndClassify(ctx context.Context, log *zap.Logger, sess *Session, attempt int) schemas.FailureSignal {
	runResult, err := o.runner.Run(ctx, sess.Script, o.workDir, o.env)
	if err != nil {
		// The harness itself failed to execute. That is categorically
		// non-retryable.
		log.Error("Test runner fault.", zap.Int("attempt", attempt), zap.Error(err))
		return schemas.FailureSignal{
			Kind:       schemas.KindInfrastructureError,
			RawMessage: err.Error(),
		}
	}
	return o.classify(runResult.CombinedOutput(), runResult.ExitCode)
}

func (o *Orchestrator) transition(log *zap.Logger, from, to State, attempt int) State {
	log.Debug("State transition.",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("attempt", attempt))
	return to
}

func (o *Orchestrator) result(sess *Session) *schemas.HealingResult {
	res := &schemas.HealingResult{
		SessionID:          sess.ID,
		Success:            sess.Outcome == schemas.OutcomeSuccess,
		Outcome:            sess.Outcome,
		Attempts:           sess.History,
		FinalScriptContent: sess.Script,
	}
	if n := len(sess.History); n > 0 {
		last := sess.History[n-1].Signal
		res.FinalSignal = &last
	}
	return res
}

func truncateForLog(s string) string {
	const max = 400
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

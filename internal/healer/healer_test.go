// internal/healer/healer_test.go
package healer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// runStep is one canned runner invocation. check, when set, inspects the
// script content the orchestrator handed to the runner.
type runStep struct {
	output   string
	exitCode int
	err      error
	check    func(t *testing.T, script string)
}

// scriptedRunner replays a fixed sequence of run outcomes.
type scriptedRunner struct {
	t     *testing.T
	steps []runStep
	calls int
}

func (r *scriptedRunner) Run(_ context.Context, scriptContent, _ string, _ map[string]string) (*schemas.RunResult, error) {
	require.Less(r.t, r.calls, len(r.steps), "runner invoked more times than scripted")
	step := r.steps[r.calls]
	r.calls++
	if step.check != nil {
		step.check(r.t, scriptContent)
	}
	if step.err != nil {
		return nil, step.err
	}
	return &schemas.RunResult{ExitCode: step.exitCode, Stderr: step.output}, nil
}

// stubFixer applies a marker replacement so each invocation visibly changes
// the script.
type stubFixer struct {
	calls  int
	change bool
	err    error
	chosen *schemas.AlternativeCandidate
	found  []schemas.AlternativeCandidate
}

func (f *stubFixer) Fix(_ context.Context, sess *Session, _ schemas.FailureSignal) (*FixOutcome, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.change {
		sess.Script += fmt.Sprintf("\n// patched %d", f.calls)
	}
	return &FixOutcome{Changed: f.change, Candidates: f.found, Chosen: f.chosen}, nil
}

const (
	passOutput    = "3 passed (2.1s)"
	locatorOutput = "TimeoutError: locator.click: Timeout 30000ms exceeded.\nwaiting for locator('#submit-btn')"
	infraOutput   = "browserType.launch: Failed to launch chromium"
)

func newTestOrchestrator(t *testing.T, runner schemas.TestRunner, fixers map[schemas.FailureKind]Fixer, maxAttempts int) *Orchestrator {
	t.Helper()
	o, err := New(runner, fixers, Options{MaxAttempts: maxAttempts}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return o
}

func TestHeal_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	runner := &scriptedRunner{t: t, steps: []runStep{{output: passOutput, exitCode: 0}}}
	o := newTestOrchestrator(t, runner, nil, 5)

	result, err := o.Heal(context.Background(), "await expect(true).toBe(true);", "checkout")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, schemas.OutcomeSuccess, result.Outcome)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, schemas.KindSuccess, result.Attempts[0].Signal.Kind)
	assert.False(t, result.Attempts[0].Patched)
	assert.Equal(t, 1, runner.calls)
	assert.NotEmpty(t, result.SessionID)
}

func TestHeal_DeterministicAttemptCount(t *testing.T) {
	t.Parallel()

	// k healable failures followed by a pass must take exactly k+1 attempts
	// with the first k records patched.
	for k := 1; k <= 3; k++ {
		k := k
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			t.Parallel()
			steps := make([]runStep, 0, k+1)
			for i := 0; i < k; i++ {
				steps = append(steps, runStep{output: locatorOutput, exitCode: 1})
			}
			steps = append(steps, runStep{output: passOutput, exitCode: 0})

			fixer := &stubFixer{change: true}
			o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: steps},
				map[schemas.FailureKind]Fixer{schemas.KindLocatorError: fixer}, 5)

			result, err := o.Heal(context.Background(), "script", "checkout")
			require.NoError(t, err)

			assert.True(t, result.Success)
			require.Len(t, result.Attempts, k+1)
			for i := 0; i < k; i++ {
				assert.True(t, result.Attempts[i].Patched, "attempt %d must be patched", i+1)
				assert.Equal(t, i+1, result.Attempts[i].AttemptNumber)
			}
			assert.False(t, result.Attempts[k].Patched)
			assert.Equal(t, k, fixer.calls)
		})
	}
}

func TestHeal_MaxAttemptsExhausted(t *testing.T) {
	t.Parallel()
	steps := make([]runStep, 5)
	for i := range steps {
		steps[i] = runStep{output: locatorOutput, exitCode: 1}
	}
	fixer := &stubFixer{change: true}
	o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: steps},
		map[schemas.FailureKind]Fixer{schemas.KindLocatorError: fixer}, 5)

	result, err := o.Heal(context.Background(), "script", "checkout")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, schemas.OutcomeExhausted, result.Outcome)
	assert.Len(t, result.Attempts, 5)
	// The final attempt's failure is classified and recorded but no fix is
	// applied for it.
	assert.False(t, result.Attempts[4].Patched)
	assert.Equal(t, 4, fixer.calls)
}

func TestHeal_InfrastructureFailureIsTerminal(t *testing.T) {
	t.Parallel()
	fixer := &stubFixer{change: true}
	o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: []runStep{{output: infraOutput, exitCode: 1}}},
		map[schemas.FailureKind]Fixer{schemas.KindLocatorError: fixer}, 5)

	result, err := o.Heal(context.Background(), "script", "checkout")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, schemas.OutcomeNonRetryable, result.Outcome)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, schemas.KindInfrastructureError, result.Attempts[0].Signal.Kind)
	assert.Zero(t, fixer.calls)
}

func TestHeal_RunnerFaultMapsToInfrastructure(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: []runStep{{err: errors.New("fork/exec: no such file")}}}, nil, 5)

	result, err := o.Heal(context.Background(), "script", "checkout")
	require.NoError(t, err)

	assert.Equal(t, schemas.OutcomeNonRetryable, result.Outcome)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, schemas.KindInfrastructureError, result.Attempts[0].Signal.Kind)
	assert.Contains(t, result.Attempts[0].Signal.RawMessage, "fork/exec")
}

func TestHeal_UnknownFailureHasNoFixer(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: []runStep{{output: "inexplicable", exitCode: 1}}},
		map[schemas.FailureKind]Fixer{schemas.KindLocatorError: &stubFixer{change: true}}, 5)

	result, err := o.Heal(context.Background(), "script", "checkout")
	require.NoError(t, err)

	assert.Equal(t, schemas.OutcomeNonRetryable, result.Outcome)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, schemas.KindUnknown, result.Attempts[0].Signal.Kind)
}

func TestHeal_NoOpFixerFailsFast(t *testing.T) {
	t.Parallel()
	fixer := &stubFixer{change: false}
	o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: []runStep{{output: locatorOutput, exitCode: 1}}},
		map[schemas.FailureKind]Fixer{schemas.KindLocatorError: fixer}, 5)

	result, err := o.Heal(context.Background(), "script", "checkout")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, schemas.OutcomeNonRetryable, result.Outcome)
	require.Len(t, result.Attempts, 1)
	assert.False(t, result.Attempts[0].Patched)
	assert.Equal(t, 1, fixer.calls, "the engine must not retry a known-unfixable state")
}

func TestHeal_FixerFaultSurfacesAsError(t *testing.T) {
	t.Parallel()
	fixer := &stubFixer{err: errors.New("store unreachable")}
	o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: []runStep{{output: locatorOutput, exitCode: 1}}},
		map[schemas.FailureKind]Fixer{schemas.KindLocatorError: fixer}, 5)

	result, err := o.Heal(context.Background(), "script", "checkout")
	require.Error(t, err)
	require.NotNil(t, result, "the partial history must survive a fixer fault")
	assert.Equal(t, schemas.OutcomeNonRetryable, result.Outcome)
	assert.Len(t, result.Attempts, 1)
}

func TestHeal_HistoryIsAppendOnlyAndComplete(t *testing.T) {
	t.Parallel()
	steps := []runStep{
		{output: locatorOutput, exitCode: 1},
		{output: locatorOutput, exitCode: 1},
		{output: passOutput, exitCode: 0},
	}
	chosen := &schemas.AlternativeCandidate{Selector: "#order-submit", Strategy: schemas.StrategyCSS}
	fixer := &stubFixer{change: true, chosen: chosen, found: []schemas.AlternativeCandidate{*chosen}}
	o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: steps},
		map[schemas.FailureKind]Fixer{schemas.KindLocatorError: fixer}, 5)

	result, err := o.Heal(context.Background(), "script", "checkout")
	require.NoError(t, err)

	require.Len(t, result.Attempts, 3)
	for i, rec := range result.Attempts {
		assert.Equal(t, i+1, rec.AttemptNumber, "attempt numbers must be strictly sequential")
		assert.False(t, rec.Timestamp.IsZero())
		assert.NotEmpty(t, rec.Signal.RawMessage)
	}
	assert.Equal(t, chosen, result.Attempts[0].Chosen)
	assert.Len(t, result.Attempts[0].CandidatesConsidered, 1)
	require.NotNil(t, result.FinalSignal)
	assert.Equal(t, schemas.KindSuccess, result.FinalSignal.Kind)
}

func TestHeal_ScriptMutationsReachTheRunner(t *testing.T) {
	t.Parallel()
	steps := []runStep{
		{output: locatorOutput, exitCode: 1, check: func(t *testing.T, script string) {
			assert.Equal(t, "script", script)
		}},
		{output: passOutput, exitCode: 0, check: func(t *testing.T, script string) {
			assert.True(t, strings.Contains(script, "// patched 1"), "the second run must see the patched script")
		}},
	}
	o := newTestOrchestrator(t, &scriptedRunner{t: t, steps: steps},
		map[schemas.FailureKind]Fixer{schemas.KindLocatorError: &stubFixer{change: true}}, 5)

	result, err := o.Heal(context.Background(), "script", "checkout")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.FinalScriptContent, "// patched 1")
}

func TestNew_RejectsNilRunner(t *testing.T) {
	t.Parallel()
	_, err := New(nil, nil, Options{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNew_DefaultsMaxAttempts(t *testing.T) {
	t.Parallel()
	o, err := New(&scriptedRunner{t: t}, nil, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, o.maxAttempts)
}

func TestWriteAudit(t *testing.T) {
	t.Parallel()
	result := &schemas.HealingResult{
		SessionID: "sess-1",
		Success:   true,
		Outcome:   schemas.OutcomeSuccess,
		Attempts: []schemas.AttemptRecord{
			{AttemptNumber: 1, Signal: schemas.FailureSignal{Kind: schemas.KindSuccess}, Timestamp: time.Now()},
		},
		FinalScriptContent: "script",
	}

	path, err := WriteAudit(t.TempDir(), result, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, path, "session-sess-1.json")

	var report auditReport
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "sess-1", report.SessionID)
	assert.Equal(t, schemas.OutcomeSuccess, report.Outcome)
	assert.Len(t, report.Attempts, 1)
}

// Package selection picks one replacement candidate among the ranked
// alternatives produced by the resolver. The choice is deterministic-first:
// the reasoning service is only consulted when there is a real ambiguity,
// and its answer is constrained to an index into the original candidate
// list so it can never smuggle an unobserved selector into a patch.
package selection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/llmutil"
)

// DefaultTimeout bounds the reasoning-service call. The policy degrades to
// the static priority ordering on expiry; it never blocks the session.
const DefaultTimeout = 30 * time.Second

// indexResponse is the only answer shape accepted from the reasoning service.
type indexResponse struct {
	SelectedIndex int    `json:"selected_index"`
	Reason        string `json:"reason,omitempty"`
}

// Policy chooses a replacement candidate. A nil LLM client is valid and
// yields purely deterministic selection.
type Policy struct {
	llm     schemas.LLMClient
	timeout time.Duration
	log     *zap.Logger
}

// NewPolicy creates a selection policy. timeout <= 0 selects DefaultTimeout.
func NewPolicy(llm schemas.LLMClient, timeout time.Duration, logger *zap.Logger) *Policy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Policy{
		llm:     llm,
		timeout: timeout,
		log:     logger.Named("selection"),
	}
}

// Select returns the chosen candidate, or nil when there is nothing to
// choose from. Candidates are expected in static-priority order, so index 0
// is always the deterministic fallback.
func (p *Policy) Select(ctx context.Context, sig schemas.FailureSignal, candidates []schemas.AlternativeCandidate, codeSnippet string) *schemas.AlternativeCandidate {
	if len(candidates) == 0 {
		return nil
	}

	// A single unambiguous high-confidence hit needs no external call.
	if idx, ok := soleHighConfidence(candidates); ok {
		p.log.Debug("Single high-confidence candidate; skipping reasoning service.",
			zap.String("selector", candidates[idx].Selector))
		return &candidates[idx]
	}

	if len(candidates) == 1 {
		return &candidates[0]
	}

	if p.llm == nil {
		return &candidates[0]
	}

	chosen, err := p.askReasoningService(ctx, sig, candidates, codeSnippet)
	if err != nil {
		p.log.Warn("Reasoning service unusable; falling back to static priority.",
			zap.Error(err),
			zap.String("fallback_selector", candidates[0].Selector))
		return &candidates[0]
	}
	return chosen
}

// soleHighConfidence reports the index of the only high-confidence entry,
// if there is exactly one.
func soleHighConfidence(candidates []schemas.AlternativeCandidate) (int, bool) {
	found := -1
	for i, c := range candidates {
		if c.Confidence == schemas.ConfidenceHigh {
			if found != -1 {
				return 0, false
			}
			found = i
		}
	}
	return found, found != -1
}

// askReasoningService asks the LLM to pick a candidate by index. Any answer
// that is not a valid index into the original list is an error; the caller
// falls back deterministically.
func (p *Policy) askReasoningService(ctx context.Context, sig schemas.FailureSignal, candidates []schemas.AlternativeCandidate, codeSnippet string) (*schemas.AlternativeCandidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   p.buildPrompt(sig, candidates, codeSnippet),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	}

	response, err := p.llm.Generate(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("reasoning service call failed: %w", err)
	}

	parsed, err := llmutil.ParseJSONResponse[indexResponse](response)
	if err != nil {
		return nil, err
	}
	if parsed.SelectedIndex < 0 || parsed.SelectedIndex >= len(candidates) {
		return nil, fmt.Errorf("reasoning service returned out-of-range index %d (candidates: %d)", parsed.SelectedIndex, len(candidates))
	}

	p.log.Info("Reasoning service selected candidate.",
		zap.Int("index", parsed.SelectedIndex),
		zap.String("selector", candidates[parsed.SelectedIndex].Selector),
		zap.String("reason", parsed.Reason))
	return &candidates[parsed.SelectedIndex], nil
}

const systemPrompt = `You are a senior UI test automation engineer. You will be given a failing locator, a short code snippet, and a numbered list of replacement selector candidates that were all actually observed on the page. Pick the single candidate most likely to identify the element the test intended to interact with. You must answer with the index of a listed candidate; you may not invent selectors.`

func (p *Policy) buildPrompt(sig schemas.FailureSignal, candidates []schemas.AlternativeCandidate, codeSnippet string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "A browser test failed with kind '%s'.\n", sig.Kind)
	if sig.ExtractedLocator != "" {
		fmt.Fprintf(&b, "Failing locator: %s\n", sig.ExtractedLocator)
	}
	if codeSnippet != "" {
		fmt.Fprintf(&b, "\nSurrounding code:\n%s\n", codeSnippet)
	}

	b.WriteString("\nReplacement candidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. [%s, %s confidence] %s\n", i, c.Strategy, c.Confidence, c.Selector)
	}

	b.WriteString(`
Respond with strict JSON: {"selected_index": <int>, "reason": "<short reason>"}
The index must be one of the listed candidates.`)
	return b.String()
}

package schemas

import "context"

// -- Test Runner --

// TestRunner executes the current script content against the real test
// harness and reports the raw outcome. The engine treats it as opaque: it
// may shell out to a subprocess, drive a remote grid, or be a scripted fake
// in tests. A non-nil error means the runner itself could not execute (a
// harness fault), not that the test failed.
type TestRunner interface {
	Run(ctx context.Context, scriptContent, workDir string, env map[string]string) (*RunResult, error)
}

// -- Candidate Store --

// CandidateStore is a read-only view over element records captured by the
// upstream recording pipeline, keyed by page context. The healing engine
// never mutates it.
type CandidateStore interface {
	// RecordsForPage returns every record scoped to the given page context.
	// An empty slice is a valid answer, not an error.
	RecordsForPage(ctx context.Context, pageContext string) ([]ElementRecord, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier selects a large language model by a preference for speed versus
// capability.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the reasoning service provider (e.g. Gemini). The
// engine only ever asks it to choose among already-captured candidates or
// to rewrite a single flagged line; its output is always validated before
// use and never trusted to introduce new selectors.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// NewClient builds the tiered LLM router from the agent configuration: one
// client for the fast model (index selection) and one for the powerful model
// (line rewrites).
func NewClient(cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := newProviderClient(cfg.LLM, cfg.LLM.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build fast-tier client: %w", err)
	}
	powerful, err := newProviderClient(cfg.LLM, cfg.LLM.DefaultPowerfulModel, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build powerful-tier client: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}

// newProviderClient creates a concrete client for one configured model.
func newProviderClient(cfg config.LLMRouterConfig, modelName string, logger *zap.Logger) (schemas.LLMClient, error) {
	modelCfg, ok := cfg.Models[modelName]
	if !ok {
		// A model without a dedicated block inherits nothing; fall back to
		// a bare Gemini config keyed by name.
		modelCfg = config.LLMModelConfig{Provider: config.ProviderGemini, Model: modelName}
	}
	if modelCfg.Model == "" {
		modelCfg.Model = modelName
	}

	switch modelCfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(modelCfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", modelCfg.Provider, config.ProviderGemini)
	}
}

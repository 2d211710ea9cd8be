package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// LLMRouter implements the LLMClient interface and routes requests to the
// client configured for the requested model tier.
type LLMRouter struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
}

// NewLLMRouter creates a new router with the specified clients for each tier.
func NewLLMRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient) (*LLMRouter, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	return &LLMRouter{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
	}, nil
}

// Generate selects the appropriate client based on the request's Tier.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}

// Close closes every underlying client, reporting the first failure.
func (r *LLMRouter) Close() error {
	var firstErr error
	for tier, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s tier client: %w", tier, err)
		}
	}
	return firstErr
}

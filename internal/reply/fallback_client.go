package reply

import (
	"context"

	"github.com/lawnloop/lawnloop-platform/pkg/logging"
)

// FallbackLLMClient wraps a primary LLM client with a secondary provider.
// If the primary fails, it retries the same request against the secondary.
type FallbackLLMClient struct {
	primary   LLMClient
	secondary LLMClient
	// secondaryModel replaces the request model when routing to the
	// secondary backend, since model ids are provider-specific.
	secondaryModel string
	logger         *logging.Logger
}

// NewFallbackLLMClient composes the chain. A nil secondary leaves the
// primary on its own.
func NewFallbackLLMClient(primary, secondary LLMClient, secondaryModel string, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("reply: primary LLM client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{
		primary:        primary,
		secondary:      secondary,
		secondaryModel: secondaryModel,
		logger:         logger,
	}
}

// Complete implements LLMClient.
func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary LLM failed",
		"error", err,
		"secondary_available", c.secondary != nil,
	)
	if c.secondary == nil {
		return LLMResponse{}, err
	}

	if c.secondaryModel != "" {
		req.Model = c.secondaryModel
	}
	resp, secondaryErr := c.secondary.Complete(ctx, req)
	if secondaryErr != nil {
		c.logger.Error("secondary LLM also failed",
			"primary_error", err,
			"secondary_error", secondaryErr,
		)
		return LLMResponse{}, secondaryErr
	}
	c.logger.Info("secondary LLM succeeded after primary failure")
	return resp, nil
}

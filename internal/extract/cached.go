package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kinforge/internal/cache"
	"kinforge/internal/store"
)

// CachedOracle is a read-through cache around another Oracle. Responses are
// keyed on prompt version, model, and document text, so a re-run of the same
// obituary never pays for a second extraction call.
type CachedOracle struct {
	inner     Oracle
	store     *store.Store
	modelName string
	log       *slog.Logger
}

// NewCachedOracle wraps inner with the persistent extraction cache.
func NewCachedOracle(inner Oracle, st *store.Store, modelName string, log *slog.Logger) *CachedOracle {
	return &CachedOracle{inner: inner, store: st, modelName: modelName, log: log}
}

func (c *CachedOracle) Name() string {
	return c.inner.Name() + "+cache"
}

func (c *CachedOracle) IsAvailable(ctx context.Context) bool {
	return c.inner.IsAvailable(ctx)
}

func (c *CachedOracle) Extract(ctx context.Context, text, promptVersion string) (*Response, error) {
	key := cache.ExtractionKey(promptVersion, c.modelName, text)

	cached, err := c.store.GetExtraction(ctx, key)
	if err == nil {
		c.log.Debug("extraction cache hit", "key", key, "model", cached.Model)
		return &Response{
			Raw:    cached.Response,
			Model:  cached.Model,
			Cached: true,
			Usage: Usage{
				PromptTokens:     cached.PromptTokens,
				CompletionTokens: cached.CompletionTokens,
				CostUSD:          0, // already paid for
			},
		}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("extraction cache lookup: %w", err)
	}

	resp, err := c.inner.Extract(ctx, text, promptVersion)
	if err != nil {
		return nil, err
	}

	put := &store.Extraction{
		CacheKey:         key,
		Model:            resp.Model,
		PromptVersion:    promptVersion,
		Response:         resp.Raw,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          resp.Usage.CostUSD,
	}
	if err := c.store.PutExtraction(ctx, put); err != nil {
		// A write failure only costs the next run money; the extraction
		// itself succeeded.
		c.log.Warn("extraction cache write failed", "key", key, "error", err)
	}
	return resp, nil
}

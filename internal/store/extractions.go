package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Extraction is one cached extractor response with its usage accounting.
// Rows never expire: re-running a document must not re-bill the oracle.
type Extraction struct {
	CacheKey         string    `json:"cache_key"`
	Model            string    `json:"model"`
	PromptVersion    string    `json:"prompt_version"`
	Response         string    `json:"response"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	HitCount         int       `json:"hit_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageStats aggregates extraction spend for the stats surface.
type UsageStats struct {
	Responses        int64   `json:"responses"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	CacheHits        int64   `json:"cache_hits"`
}

// GetExtraction returns the cached response for a key and bumps its hit
// counter, or ErrNotFound on a miss.
func (s *Store) GetExtraction(ctx context.Context, key string) (*Extraction, error) {
	var e Extraction
	err := s.db.QueryRowContext(ctx, `
		SELECT cache_key, model, prompt_version, response, prompt_tokens,
			completion_tokens, cost_usd, hit_count, created_at
		FROM extractions WHERE cache_key = ?`, key).
		Scan(&e.CacheKey, &e.Model, &e.PromptVersion, &e.Response, &e.PromptTokens,
			&e.CompletionTokens, &e.CostUSD, &e.HitCount, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading extraction cache: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE extractions SET hit_count = hit_count + 1 WHERE cache_key = ?", key); err != nil {
		return nil, fmt.Errorf("bumping extraction hit count: %w", err)
	}
	e.HitCount++
	return &e, nil
}

// PutExtraction stores a response. Writes are last-writer-wins upserts; the
// value for a key is idempotent per prompt version and model.
func (s *Store) PutExtraction(ctx context.Context, e *Extraction) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions (cache_key, model, prompt_version, response,
			prompt_tokens, completion_tokens, cost_usd, hit_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			model = excluded.model,
			prompt_version = excluded.prompt_version,
			response = excluded.response,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			cost_usd = excluded.cost_usd`,
		e.CacheKey, e.Model, e.PromptVersion, e.Response,
		e.PromptTokens, e.CompletionTokens, e.CostUSD, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("writing extraction cache: %w", err)
	}
	return nil
}

// Usage totals the stored extraction spend.
func (s *Store) Usage(ctx context.Context) (*UsageStats, error) {
	var u UsageStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(hit_count), 0)
		FROM extractions`).
		Scan(&u.Responses, &u.PromptTokens, &u.CompletionTokens, &u.CostUSD, &u.CacheHits)
	if err != nil {
		return nil, fmt.Errorf("totaling extraction usage: %w", err)
	}
	return &u, nil
}

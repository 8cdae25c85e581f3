package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"kinforge/internal/model"
)

// Setting keys for the runtime-tunable thresholds. Every tunable the engine
// honors is settable through these; unknown keys are rejected.
const (
	SettingAutoStoreConfidence = "confidence_threshold_auto_store"
	SettingReviewConfidence    = "confidence_threshold_review"
	SettingAlwaysReview        = "always_review"
	SettingBirthToleranceDays  = "date_tolerance_birth_days"
	SettingDeathToleranceDays  = "date_tolerance_death_days"
	SettingAmbiguousScoreDiff  = "ambiguous_match_score_diff"
	SettingFuzzyMatchThreshold = "fuzzy_match_threshold"
	SettingMinCandidateScore   = "min_candidate_score"
	SettingMaxRetryAttempts    = "max_retry_attempts"
	SettingCacheExpiryDays     = "cache_expiry_days"
)

type settingKind int

const (
	kindFloat settingKind = iota
	kindInt
	kindBool
)

var settingKinds = map[string]settingKind{
	SettingAutoStoreConfidence: kindFloat,
	SettingReviewConfidence:    kindFloat,
	SettingAlwaysReview:        kindBool,
	SettingBirthToleranceDays:  kindInt,
	SettingDeathToleranceDays:  kindInt,
	SettingAmbiguousScoreDiff:  kindFloat,
	SettingFuzzyMatchThreshold: kindFloat,
	SettingMinCandidateScore:   kindFloat,
	SettingMaxRetryAttempts:    kindInt,
	SettingCacheExpiryDays:     kindInt,
}

// KnownSetting reports whether key is a recognized tunable.
func KnownSetting(key string) bool {
	_, ok := settingKinds[key]
	return ok
}

// GetSetting returns the stored value for a key, or ErrNotFound when it has
// never been overridden.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	if !KnownSetting(key) {
		return "", fmt.Errorf("unknown setting %q", key)
	}
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting validates and stores one tunable.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	kind, ok := settingKinds[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	switch kind {
	case kindFloat:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 || v > 1 {
			return fmt.Errorf("setting %s wants a number in [0,1], got %q", key, value)
		}
	case kindInt:
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 {
			return fmt.Errorf("setting %s wants a non-negative integer, got %q", key, value)
		}
	case kindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("setting %s wants a boolean, got %q", key, value)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// ListSettings returns all stored overrides.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// LoadThresholds overlays stored overrides on the given defaults and
// returns the effective snapshot for a run.
func (s *Store) LoadThresholds(ctx context.Context, defaults model.Thresholds) (model.Thresholds, error) {
	overrides, err := s.ListSettings(ctx)
	if err != nil {
		return defaults, err
	}

	th := defaults
	for key, value := range overrides {
		switch key {
		case SettingAutoStoreConfidence:
			th.AutoStoreConfidence = parseFloat(value, th.AutoStoreConfidence)
		case SettingReviewConfidence:
			th.ReviewConfidence = parseFloat(value, th.ReviewConfidence)
		case SettingAlwaysReview:
			if v, err := strconv.ParseBool(value); err == nil {
				th.AlwaysReview = v
			}
		case SettingBirthToleranceDays:
			th.BirthToleranceDays = parseInt(value, th.BirthToleranceDays)
		case SettingDeathToleranceDays:
			th.DeathToleranceDays = parseInt(value, th.DeathToleranceDays)
		case SettingAmbiguousScoreDiff:
			th.AmbiguousScoreDiff = parseFloat(value, th.AmbiguousScoreDiff)
		case SettingFuzzyMatchThreshold:
			th.FuzzyMatchThreshold = parseFloat(value, th.FuzzyMatchThreshold)
		case SettingMinCandidateScore:
			th.MinCandidateScore = parseFloat(value, th.MinCandidateScore)
		case SettingMaxRetryAttempts:
			th.MaxRetryAttempts = parseInt(value, th.MaxRetryAttempts)
		}
	}
	return th, nil
}

// LoadCacheExpiry returns the effective document cache expiry in days,
// preferring a stored override over the configured default.
func (s *Store) LoadCacheExpiry(ctx context.Context, defaultDays int) int {
	value, err := s.GetSetting(ctx, SettingCacheExpiryDays)
	if err != nil {
		return defaultDays
	}
	return parseInt(value, defaultDays)
}

func parseFloat(s string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return fallback
}

func parseInt(s string, fallback int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return fallback
}

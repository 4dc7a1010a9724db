// Package thresholds provides the versioned threshold configuration store.
//
// Reads go through a TTL cache; writes append a new version in a single
// transaction and explicitly invalidate the cache, so the next evaluation
// sees the new value with no restart.
package thresholds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-survey/kestrel/internal/domain"
	"github.com/opensource-survey/kestrel/internal/repository"
)

// CacheKey is where the active threshold set lives in the cache.
const CacheKey = "fraud:thresholds:active"

// DefaultTTL is the cache lifetime when none is configured.
const DefaultTTL = 5 * time.Minute

var (
	ErrRuleNotFound = errors.New("threshold rule not found")
)

// Store mediates all threshold access. The durable rows live in the
// repository; the cache fronts reads.
type Store struct {
	repo   domain.Repository
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a threshold store.
func New(repo domain.Repository, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// ActiveThresholds returns the current active threshold set, cache-first.
// Cache failures are logged and fall back to the repository; only a
// repository failure is returned to the caller.
func (s *Store) ActiveThresholds(ctx context.Context) ([]*domain.ThresholdConfig, error) {
	if cached, err := s.cache.Get(ctx, CacheKey); err != nil {
		s.logger.Warn("threshold cache read failed, falling back to repository",
			"error", err)
	} else if cached != nil {
		var thresholds []*domain.ThresholdConfig
		if err := json.Unmarshal(cached, &thresholds); err == nil {
			return thresholds, nil
		}
		s.logger.Warn("threshold cache entry corrupt, falling back to repository")
	}

	thresholds, err := s.repo.ListActiveThresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active thresholds: %w", err)
	}

	if data, err := json.Marshal(thresholds); err == nil {
		if err := s.cache.Set(ctx, CacheKey, data, s.ttl); err != nil {
			s.logger.Warn("threshold cache write failed", "error", err)
		}
	}

	return thresholds, nil
}

// Value returns a named threshold's value from the given set, or the
// fallback when the rule is absent or inactive.
func Value(thresholds []*domain.ThresholdConfig, ruleKey string, fallback float64) float64 {
	for _, t := range thresholds {
		if t.RuleKey == ruleKey && t.IsActive {
			return t.Value
		}
	}
	return fallback
}

// ByCategory filters a threshold set to one category.
func ByCategory(thresholds []*domain.ThresholdConfig, category domain.Category) []*domain.ThresholdConfig {
	return domain.FilterByCategory(thresholds, category)
}

// CurrentConfigVersion returns the highest version among active thresholds,
// or 1 when the table is empty. Stamped onto every detection result.
func (s *Store) CurrentConfigVersion(ctx context.Context) (int, error) {
	thresholds, err := s.ActiveThresholds(ctx)
	if err != nil {
		return 0, err
	}

	version := 1
	for _, t := range thresholds {
		if t.Version > version {
			version = t.Version
		}
	}
	return version, nil
}

// UpdateOptions carries the optional fields of a threshold update. Nil
// fields carry forward from the superseded row.
type UpdateOptions struct {
	Weight        *float64
	SeverityFloor *string
	IsActive      *bool
	Notes         *string
}

// UpdateThreshold appends a new version of a rule: the current row is
// closed and the replacement inserted in one transaction, then the cache
// is invalidated so the change applies to the next evaluation immediately.
func (s *Store) UpdateThreshold(ctx context.Context, ruleKey string, newValue float64, updatedBy string, opts *UpdateOptions) (*domain.ThresholdConfig, error) {
	if ruleKey == "" {
		return nil, fmt.Errorf("%w: empty rule key", ErrRuleNotFound)
	}
	if updatedBy == "" {
		updatedBy = "unknown"
	}

	current, err := s.repo.GetCurrentThreshold(ctx, ruleKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleKey)
		}
		return nil, err
	}

	now := time.Now().UTC()
	next := &domain.ThresholdConfig{
		ID:            uuid.New().String(),
		RuleKey:       current.RuleKey,
		DisplayName:   current.DisplayName,
		Category:      current.Category,
		Value:         newValue,
		Weight:        current.Weight,
		SeverityFloor: current.SeverityFloor,
		IsActive:      current.IsActive,
		EffectiveFrom: now,
		Version:       current.Version + 1,
		CreatedBy:     updatedBy,
		CreatedAt:     now,
		Notes:         current.Notes,
	}

	if opts != nil {
		if opts.Weight != nil {
			next.Weight = opts.Weight
		}
		if opts.SeverityFloor != nil {
			next.SeverityFloor = opts.SeverityFloor
		}
		if opts.IsActive != nil {
			next.IsActive = *opts.IsActive
		}
		if opts.Notes != nil {
			next.Notes = *opts.Notes
		}
	}

	if err := s.repo.ReplaceThreshold(ctx, current.ID, next); err != nil {
		return nil, fmt.Errorf("failed to replace threshold %s: %w", ruleKey, err)
	}

	s.InvalidateCache(ctx)

	s.logger.Info("threshold updated",
		"rule_key", ruleKey,
		"old_value", current.Value,
		"new_value", newValue,
		"version", next.Version,
		"updated_by", updatedBy)

	return next, nil
}

// InvalidateCache drops the cached threshold set. Failures are logged,
// not returned: the TTL bounds staleness even if the delete is lost.
func (s *Store) InvalidateCache(ctx context.Context) {
	if err := s.cache.Delete(ctx, CacheKey); err != nil {
		s.logger.Warn("threshold cache invalidation failed", "error", err)
	}
}

// Package engine orchestrates fraud evaluation: it assembles the
// submission context, runs every registered heuristic against the active
// threshold set, and folds the component scores into a severity-graded
// detection result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-survey/kestrel/internal/domain"
	"github.com/opensource-survey/kestrel/internal/repository"
	"github.com/opensource-survey/kestrel/internal/thresholds"
)

var ErrSubmissionNotFound = errors.New("submission not found")

const (
	// maxTotalScore caps the composite score.
	maxTotalScore = 100

	// recentLimit bounds the same-enumerator history fetched per evaluation.
	recentLimit = 100

	// nearbyLimit bounds the cross-enumerator GPS context per evaluation.
	nearbyLimit = 200
)

// Engine evaluates submissions for fraud.
type Engine struct {
	repo     domain.Repository
	store    *thresholds.Store
	registry []domain.Heuristic
	logger   *slog.Logger
}

// New creates a fraud engine over the given heuristic registry. The
// registry order is fixed at construction and never changes at runtime.
func New(repo domain.Repository, store *thresholds.Store, registry []domain.Heuristic, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:     repo,
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Evaluate scores one submission and returns the detection result. The
// result is not persisted here; the worker owns persistence.
func (e *Engine) Evaluate(ctx context.Context, submissionID string) (*domain.FraudDetectionResult, error) {
	start := time.Now()

	sub, err := e.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
		}
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}

	active, err := e.store.ActiveThresholds(ctx)
	if err != nil {
		return nil, err
	}
	configVersion := 1
	for _, t := range active {
		if t.Version > configVersion {
			configVersion = t.Version
		}
	}

	subCtx, err := e.buildContext(ctx, sub, active)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("evaluate_start",
		"submission_id", submissionID,
		"enumerator_id", sub.EnumeratorID,
		"config_version", configVersion,
		"recent_count", len(subCtx.RecentSubmissions),
		"nearby_count", len(subCtx.NearbySubmissions))

	results := e.runHeuristics(ctx, subCtx, active)

	var scores domain.ComponentScores
	var details domain.DetectionDetails
	for idx, h := range e.registry {
		r := results[idx]
		switch h.Category() {
		case domain.CategoryGPS:
			scores.GPS = r.Score
			details.GPS = r.Details
		case domain.CategorySpeed:
			scores.Speed = r.Score
			details.Speed = r.Details
		case domain.CategoryStraightline:
			scores.Straightline = r.Score
			details.Straightline = r.Details
		case domain.CategoryDuplicate:
			scores.Duplicate = r.Score
			details.Duplicate = r.Details
		case domain.CategoryTiming:
			scores.Timing = r.Score
			details.Timing = r.Details
		}
	}

	total := math.Min(scores.Sum(), maxTotalScore)
	total = math.Round(total*100) / 100
	severity := mapSeverity(total, active)

	result := &domain.FraudDetectionResult{
		ID:              uuid.New().String(),
		SubmissionID:    sub.ID,
		EnumeratorID:    sub.EnumeratorID,
		ConfigVersion:   configVersion,
		ComponentScores: scores,
		TotalScore:      total,
		Severity:        severity,
		Details:         details,
		EvaluatedAt:     time.Now().UTC(),
	}

	e.logger.Info("evaluate_complete",
		"submission_id", submissionID,
		"total_score", total,
		"severity", string(severity),
		"config_version", configVersion,
		"duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

// buildContext assembles the read-only context handed to every heuristic.
// The lookback window is the larger of the GPS cluster window and the
// duplicate lookback window, so both heuristics see the history they need.
func (e *Engine) buildContext(ctx context.Context, sub *domain.Submission, active []*domain.ThresholdConfig) (*domain.SubmissionContext, error) {
	gpsWindow := time.Duration(thresholds.Value(active, "gps_cluster_time_window_h", 4)) * time.Hour
	dupWindow := time.Duration(thresholds.Value(active, "duplicate_lookback_days", 7)) * 24 * time.Hour

	lookback := gpsWindow
	if dupWindow > lookback {
		lookback = dupWindow
	}
	since := sub.SubmittedAt.Add(-lookback)

	recent, err := e.repo.GetRecentSubmissions(ctx, sub.EnumeratorID, since, sub.ID, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent submissions: %w", err)
	}

	var nearby []*domain.Submission
	if sub.HasGPS() {
		gpsSince := sub.SubmittedAt.Add(-gpsWindow)
		nearby, err = e.repo.GetNearbySubmissions(ctx, sub.EnumeratorID, gpsSince, sub.ID, nearbyLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load nearby submissions: %w", err)
		}
	}

	subCtx := &domain.SubmissionContext{
		SubmissionID:          sub.ID,
		EnumeratorID:          sub.EnumeratorID,
		QuestionnaireFormID:   sub.QuestionnaireFormID,
		SubmittedAt:           sub.SubmittedAt,
		GPSLatitude:           sub.GPSLatitude,
		GPSLongitude:          sub.GPSLongitude,
		CompletionTimeSeconds: sub.CompletionTimeSeconds,
		RawData:               sub.RawData,
		RecentSubmissions:     recent,
		NearbySubmissions:     nearby,
	}

	if sub.QuestionnaireFormID != "" {
		form, err := e.repo.GetForm(ctx, sub.QuestionnaireFormID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load form: %w", err)
		}
		if form != nil {
			subCtx.FormSchema = form.Schema
		}
	}

	return subCtx, nil
}

// runHeuristics executes all registered heuristics in parallel. Each runs
// isolated: a panic or error in one yields a zero score with an error
// detail and never disturbs the others.
func (e *Engine) runHeuristics(ctx context.Context, subCtx *domain.SubmissionContext, active []*domain.ThresholdConfig) []domain.HeuristicResult {
	results := make([]domain.HeuristicResult, len(e.registry))
	var wg sync.WaitGroup

	for i, h := range e.registry {
		wg.Add(1)
		go func(idx int, h domain.Heuristic) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("heuristic panicked",
						"heuristic", h.Key(),
						"submission_id", subCtx.SubmissionID,
						"panic", fmt.Sprintf("%v", r))
					results[idx] = domain.HeuristicResult{
						Score:   0,
						Details: map[string]any{"error": fmt.Sprintf("panic: %v", r)},
					}
				}
			}()

			categoryThresholds := domain.FilterByCategory(active, h.Category())
			if disabled(categoryThresholds) {
				results[idx] = domain.HeuristicResult{
					Score:   0,
					Details: map[string]any{"reason": "heuristic_disabled"},
				}
				return
			}

			result, err := h.Evaluate(ctx, subCtx, active)
			if err != nil {
				e.logger.Warn("heuristic failed",
					"heuristic", h.Key(),
					"submission_id", subCtx.SubmissionID,
					"error", err)
				results[idx] = domain.HeuristicResult{
					Score:   0,
					Details: map[string]any{"error": err.Error()},
				}
				return
			}
			results[idx] = result
		}(i, h)
	}

	wg.Wait()
	return results
}

// disabled reports whether a heuristic's category has been switched off:
// threshold rows exist for it but none is active.
func disabled(categoryThresholds []*domain.ThresholdConfig) bool {
	if len(categoryThresholds) == 0 {
		return false
	}
	for _, t := range categoryThresholds {
		if t.IsActive {
			return false
		}
	}
	return true
}

// mapSeverity grades a total score against the composite cutoffs.
// Missing cutoffs fall back to 25/50/70/85.
func mapSeverity(total float64, active []*domain.ThresholdConfig) domain.Severity {
	lowMin := thresholds.Value(active, "severity_low_min", 25)
	mediumMin := thresholds.Value(active, "severity_medium_min", 50)
	highMin := thresholds.Value(active, "severity_high_min", 70)
	criticalMin := thresholds.Value(active, "severity_critical_min", 85)

	switch {
	case total >= criticalMin:
		return domain.SeverityCritical
	case total >= highMin:
		return domain.SeverityHigh
	case total >= mediumMin:
		return domain.SeverityMedium
	case total >= lowMin:
		return domain.SeverityLow
	default:
		return domain.SeverityClean
	}
}

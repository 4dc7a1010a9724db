package heuristics

import (
	"context"
	"strings"

	"github.com/opensource-survey/kestrel/internal/domain"
)

// DuplicateResponse detects copied answer sets. Max 20 points.
//
// The submission's answers are compared field-by-field against the
// enumerator's recent submissions of the same form. A match ratio at or
// above the exact threshold scores full weight; at or above the partial
// threshold, half.
type DuplicateResponse struct{}

func (h *DuplicateResponse) Key() string               { return "duplicate_response" }
func (h *DuplicateResponse) Category() domain.Category { return domain.CategoryDuplicate }

func (h *DuplicateResponse) Evaluate(ctx context.Context, sub *domain.SubmissionContext, thresholds []*domain.ThresholdConfig) (domain.HeuristicResult, error) {
	if len(sub.RawData) == 0 || len(sub.RecentSubmissions) == 0 {
		return domain.HeuristicResult{
			Score:   0,
			Details: map[string]any{"reason": "no_data_or_history"},
		}, nil
	}

	exactThreshold := thresholdValue(thresholds, "duplicate_exact_threshold", 1.0)
	partialThreshold := thresholdValue(thresholds, "duplicate_partial_threshold", 0.7)
	weight := thresholdValue(thresholds, "duplicate_weight", 20)

	type match struct {
		SubmissionID string  `json:"submissionId"`
		Ratio        float64 `json:"ratio"`
	}

	bestRatio := 0.0
	bestID := ""
	var matches []match
	compared := 0

	for _, s := range sub.RecentSubmissions {
		if len(s.RawData) == 0 || s.QuestionnaireFormID != sub.QuestionnaireFormID {
			continue
		}
		compared++

		ratio := FieldMatchRatio(sub.RawData, s.RawData)
		if ratio >= partialThreshold {
			matches = append(matches, match{SubmissionID: s.ID, Ratio: round2(ratio)})
		}
		if ratio > bestRatio {
			bestRatio = ratio
			bestID = s.ID
		}
	}

	var score float64
	matchType := "none"

	if bestRatio >= exactThreshold {
		score = weight
		matchType = "exact"
	} else if bestRatio >= partialThreshold {
		score = weight * 0.5
		matchType = "partial"
	}

	return domain.HeuristicResult{
		Score: round2(score),
		Details: map[string]any{
			"matchType":        matchType,
			"bestMatchRatio":   round2(bestRatio),
			"bestMatchId":      bestID,
			"matches":          matches,
			"comparedCount":    compared,
			"exactThreshold":   exactThreshold,
			"partialThreshold": partialThreshold,
		},
	}, nil
}

// FieldMatchRatio returns the fraction of matching fields over the union
// of both answer sets' keys. Metadata keys (underscore-prefixed) are
// ignored. Two empty sets yield 0.
func FieldMatchRatio(a, b map[string]any) float64 {
	keys := map[string]bool{}
	for k := range a {
		if !strings.HasPrefix(k, "_") {
			keys[k] = true
		}
	}
	for k := range b {
		if !strings.HasPrefix(k, "_") {
			keys[k] = true
		}
	}

	if len(keys) == 0 {
		return 0
	}

	matching := 0
	for k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		if aok && bok && responseKey(av) == responseKey(bv) {
			matching++
		}
	}

	return float64(matching) / float64(len(keys))
}

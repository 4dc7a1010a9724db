package heuristics

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/opensource-survey/kestrel/internal/domain"
)

// SpeedRun detects implausibly fast completions. Max 25 points.
//
// The completion time is compared against a reference: the empirical
// median of the enumerator's recent completions of the same form once
// enough samples exist, otherwise a theoretical minimum derived from the
// form's question mix. Two tiers: below the superspeceder cutoff scores
// full weight, below the speeder cutoff scores just under half.
type SpeedRun struct{}

func (h *SpeedRun) Key() string               { return "speed_run" }
func (h *SpeedRun) Category() domain.Category { return domain.CategorySpeed }

func (h *SpeedRun) Evaluate(ctx context.Context, sub *domain.SubmissionContext, thresholds []*domain.ThresholdConfig) (domain.HeuristicResult, error) {
	if sub.CompletionTimeSeconds == nil {
		return domain.HeuristicResult{
			Score:   0,
			Details: map[string]any{"reason": "no_completion_time"},
		}, nil
	}
	completionTime := float64(*sub.CompletionTimeSeconds)

	superspecederPct := thresholdValue(thresholds, "speed_superspeceder_pct", 25) / 100
	speederPct := thresholdValue(thresholds, "speed_speeder_pct", 50) / 100
	bootstrapN := int(thresholdValue(thresholds, "speed_bootstrap_n", 30))
	weight := thresholdValue(thresholds, "speed_weight", 25)

	// Historical completion times for the same form by the same enumerator.
	var historical []float64
	for _, s := range sub.RecentSubmissions {
		if s.CompletionTimeSeconds != nil && *s.CompletionTimeSeconds > 0 &&
			s.QuestionnaireFormID == sub.QuestionnaireFormID {
			historical = append(historical, float64(*s.CompletionTimeSeconds))
		}
	}

	var referenceTime float64
	var referenceType string

	if len(historical) >= bootstrapN {
		referenceTime = median(historical)
		referenceType = "empirical_median"
	} else {
		referenceTime = theoreticalMinimum(sub.FormSchema)
		referenceType = "theoretical_minimum"
	}

	if referenceTime <= 0 {
		return domain.HeuristicResult{
			Score: 0,
			Details: map[string]any{
				"reason":        "invalid_reference_time",
				"referenceTime": referenceTime,
				"referenceType": referenceType,
			},
		}, nil
	}

	ratio := completionTime / referenceTime
	var score float64
	tier := "normal"

	if ratio < superspecederPct {
		score = weight
		tier = "superspeceder"
	} else if ratio < speederPct {
		score = math.Round(weight * 0.48)
		tier = "speeder"
	}

	return domain.HeuristicResult{
		Score: score,
		Details: map[string]any{
			"completionTimeSeconds": *sub.CompletionTimeSeconds,
			"referenceTime":         math.Round(referenceTime),
			"referenceType":         referenceType,
			"ratio":                 round2(ratio),
			"tier":                  tier,
			"historicalSampleSize":  len(historical),
			"thresholds": map[string]any{
				"superspecederPct": superspecederPct * 100,
				"speederPct":       speederPct * 100,
				"bootstrapN":       bootstrapN,
			},
		},
	}, nil
}

// median returns the middle value of the set, averaging the two middle
// values for even-sized sets. Empty input yields 0.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 != 0 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// theoreticalMinimum estimates the fastest honest completion from the
// question mix: 3s per closed question, 8s per open, 4s per numeric, plus
// 30s overhead. No schema falls back to one minute.
func theoreticalMinimum(schema *domain.FormSchema) float64 {
	if schema == nil {
		return 60
	}

	var closedQ, openQ, numericQ int
	for _, section := range schema.Sections {
		for _, q := range section.Questions {
			switch strings.ToLower(q.Type) {
			case "select_one", "select_multiple", "radio", "checkbox", "boolean", "likert":
				closedQ++
			case "text", "textarea", "string":
				openQ++
			case "number", "integer", "decimal", "numeric":
				numericQ++
			default:
				// Unknown types priced as closed questions
				closedQ++
			}
		}
	}

	minimum := float64(closedQ*3 + openQ*8 + numericQ*4 + 30)
	if minimum < 30 {
		minimum = 30
	}
	return minimum
}

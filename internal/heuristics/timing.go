package heuristics

import (
	"context"
	"time"

	"github.com/opensource-survey/kestrel/internal/domain"
)

// OffHours flags submissions at implausible local times. Max 10 points.
//
// Night submissions (local hour at or after the night start, or before the
// night end) score full weight; weekend submissions add a small penalty.
// The sum is capped at the weight. Timestamps are converted to the
// registry's local timezone, WAT by default.
type OffHours struct {
	Location *time.Location
}

func (h *OffHours) Key() string               { return "off_hours" }
func (h *OffHours) Category() domain.Category { return domain.CategoryTiming }

func (h *OffHours) Evaluate(ctx context.Context, sub *domain.SubmissionContext, thresholds []*domain.ThresholdConfig) (domain.HeuristicResult, error) {
	nightStart := int(thresholdValue(thresholds, "timing_night_start_hour", 23))
	nightEnd := int(thresholdValue(thresholds, "timing_night_end_hour", 5))
	weekendPenalty := thresholdValue(thresholds, "timing_weekend_penalty", 5)
	weight := thresholdValue(thresholds, "timing_weight", 10)

	local := sub.SubmittedAt.In(h.location())
	hour := local.Hour()
	weekday := local.Weekday()
	weekend := weekday == time.Saturday || weekday == time.Sunday

	var score float64
	flags := []string{}

	if hour >= nightStart || hour < nightEnd {
		score += weight
		flags = append(flags, "night_hours")
	}

	if weekend {
		score += weekendPenalty
		flags = append(flags, "weekend")
	}

	if score > weight {
		score = weight
	}

	return domain.HeuristicResult{
		Score: round2(score),
		Details: map[string]any{
			"watHour":  hour,
			"weekday":  weekday.String(),
			"weekend":  weekend,
			"flags":    flags,
			"timezone": h.location().String(),
			"thresholds": map[string]any{
				"nightStartHour": nightStart,
				"nightEndHour":   nightEnd,
				"weekendPenalty": weekendPenalty,
			},
		},
	}, nil
}

func (h *OffHours) location() *time.Location {
	if h.Location != nil {
		return h.Location
	}
	return time.FixedZone("WAT", 3600)
}

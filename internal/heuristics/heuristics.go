// Package heuristics implements the five fraud heuristics.
//
// The set is closed: heuristics are compiled in and registered in fixed
// order, so component scores and evaluation logs stay comparable across
// runs. Each heuristic reads its parameters from the active threshold set
// at evaluation time.
package heuristics

import (
	"math"
	"time"

	"github.com/opensource-survey/kestrel/internal/domain"
)

// Registry returns the full heuristic set in canonical order:
// gps_clustering, speed_run, straight_lining, duplicate_response, off_hours.
func Registry(loc *time.Location) []domain.Heuristic {
	if loc == nil {
		loc = time.FixedZone("WAT", 3600)
	}
	return []domain.Heuristic{
		&GPSClustering{},
		&SpeedRun{},
		&StraightLining{},
		&DuplicateResponse{},
		&OffHours{Location: loc},
	}
}

// thresholdValue returns a named threshold's value, or the fallback when
// the rule is absent or inactive.
func thresholdValue(thresholds []*domain.ThresholdConfig, ruleKey string, fallback float64) float64 {
	for _, t := range thresholds {
		if t.RuleKey == ruleKey && t.IsActive {
			return t.Value
		}
	}
	return fallback
}

// round2 rounds to two decimal places, the precision all scores carry.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// round1 rounds to one decimal place, used for diagnostic distances/speeds.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

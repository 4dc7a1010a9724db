package heuristics

import (
	"time"

	"github.com/opensource-survey/kestrel/internal/domain"
)

// testThresholds builds an active threshold set from a key→value map.
func testThresholds(values map[string]float64) []*domain.ThresholdConfig {
	now := time.Now().UTC()
	var out []*domain.ThresholdConfig
	for key, value := range values {
		out = append(out, &domain.ThresholdConfig{
			ID:            key,
			RuleKey:       key,
			DisplayName:   key,
			Value:         value,
			IsActive:      true,
			EffectiveFrom: now,
			Version:       1,
			CreatedBy:     "test",
			CreatedAt:     now,
		})
	}
	return out
}

func gpsThresholds() []*domain.ThresholdConfig {
	return testThresholds(map[string]float64{
		"gps_cluster_radius_m":            50,
		"gps_cluster_min_samples":         3,
		"gps_teleport_speed_kmh":          120,
		"gps_duplicate_coord_threshold_m": 5,
		"gps_weight":                      25,
	})
}

func speedThresholds() []*domain.ThresholdConfig {
	return testThresholds(map[string]float64{
		"speed_superspeceder_pct": 25,
		"speed_speeder_pct":       50,
		"speed_bootstrap_n":       30,
		"speed_weight":            25,
	})
}

func straightlineThresholds() []*domain.ThresholdConfig {
	return testThresholds(map[string]float64{
		"straightline_pir_threshold":         0.8,
		"straightline_min_battery_size":      5,
		"straightline_entropy_threshold":     0.5,
		"straightline_min_flagged_batteries": 2,
		"straightline_weight":                20,
	})
}

func duplicateThresholds() []*domain.ThresholdConfig {
	return testThresholds(map[string]float64{
		"duplicate_exact_threshold":   1.0,
		"duplicate_partial_threshold": 0.7,
		"duplicate_weight":            20,
	})
}

func timingThresholds() []*domain.ThresholdConfig {
	return testThresholds(map[string]float64{
		"timing_night_start_hour": 23,
		"timing_night_end_hour":   5,
		"timing_weekend_penalty":  5,
		"timing_weight":           10,
	})
}

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }

func submissionAt(at time.Time, lat, lon *float64) *domain.Submission {
	return &domain.Submission{
		ID:           "sub-" + at.Format("150405"),
		EnumeratorID: "enum-1",
		SubmittedAt:  at,
		GPSLatitude:  lat,
		GPSLongitude: lon,
		CreatedAt:    at,
	}
}

func baseContext(at time.Time) *domain.SubmissionContext {
	return &domain.SubmissionContext{
		SubmissionID:        "sub-current",
		EnumeratorID:        "enum-1",
		QuestionnaireFormID: "form-1",
		SubmittedAt:         at,
	}
}

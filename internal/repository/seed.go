package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-survey/kestrel/internal/domain"
)

type seedRecord struct {
	ruleKey       string
	displayName   string
	category      domain.Category
	value         float64
	weight        *float64
	severityFloor *string
	notes         string
}

func fptr(v float64) *float64 { return &v }
func sptr(v string) *string   { return &v }

// thresholdDefaults is the default threshold set: 27 records covering every
// heuristic category plus the composite severity cutoffs. All version 1,
// all active.
var thresholdDefaults = []seedRecord{
	// GPS clustering
	{"gps_cluster_radius_m", "GPS Cluster Radius (meters)", domain.CategoryGPS, 50, nil, nil,
		"DBSCAN epsilon parameter. Nigerian urban plots ~18x36m. 50m accounts for GPS inaccuracy on TECNO/Infinix devices."},
	{"gps_cluster_min_samples", "GPS Cluster Minimum Samples", domain.CategoryGPS, 3, nil, nil,
		"DBSCAN minSamples. Minimum submissions from same location to form a cluster. 2 is too sensitive (legitimate revisit)."},
	{"gps_cluster_time_window_h", "GPS Cluster Time Window (hours)", domain.CategoryGPS, 4, nil, nil,
		"Hours within which to analyze GPS clustering per enumerator. Prevents flagging multi-day returns to same area."},
	{"gps_max_accuracy_m", "GPS Maximum Accuracy (meters)", domain.CategoryGPS, 50, nil, nil,
		"Readings with reported accuracy >50m flagged as unreliable. Budget smartphones typically 5-20m outdoors, >100m indoors."},
	{"gps_teleport_speed_kmh", "GPS Teleportation Speed (km/h)", domain.CategoryGPS, 120, nil, nil,
		"Max plausible travel speed between consecutive interviews. Oyo roads rarely >80km/h. 120 allows for highway segments."},
	{"gps_weight", "GPS Heuristic Weight", domain.CategoryGPS, 25, fptr(25), nil,
		"Component weight in composite score (max 25 points). Strong physical evidence of fabrication."},

	// Speed run
	{"speed_superspeceder_pct", "Superspeceder Threshold (%)", domain.CategorySpeed, 25, nil, nil,
		"Below 25% of median is physically implausible. Research (PMC11646990) confirms <25% as strong indicator."},
	{"speed_speeder_pct", "Speeder Threshold (%)", domain.CategorySpeed, 50, nil, nil,
		"Below 50% of median is suspicious but possible for experienced enumerators with cooperative respondents."},
	{"speed_bootstrap_n", "Speed Bootstrap Minimum Interviews", domain.CategorySpeed, 30, nil, nil,
		"Minimum interviews needed for empirical median. Uses theoretical minimum below this threshold."},
	{"speed_weight", "Speed Heuristic Weight", domain.CategorySpeed, 25, fptr(25), nil,
		"Component weight in composite score (max 25 points). Strong behavioral evidence of rushing."},

	// Straight-lining
	{"straightline_pir_threshold", "PIR Threshold", domain.CategoryStraightline, 0.8, nil, nil,
		"Percentage Identical Responses threshold. 80% identical in a battery of 5+ scale questions. Research (PMC8944307)."},
	{"straightline_min_battery_size", "Minimum Battery Size", domain.CategoryStraightline, 5, nil, nil,
		"Minimum questions to constitute a battery for straight-lining analysis. <5 not statistically meaningful."},
	{"straightline_entropy_threshold", "Shannon Entropy Threshold (bits)", domain.CategoryStraightline, 0.5, nil, nil,
		"Flag when entropy < 0.5 bits (near-zero diversity). 5-point equal distribution = 2.32 bits; all-same = 0 bits."},
	{"straightline_min_flagged_batteries", "Minimum Flagged Batteries", domain.CategoryStraightline, 2, nil, nil,
		"Require 2+ flagged batteries for full penalty (20 pts). Single battery = partial (10 pts). Reduces false positives."},
	{"straightline_weight", "Straight-lining Heuristic Weight", domain.CategoryStraightline, 20, fptr(20), nil,
		"Component weight in composite score (max 20 points). Moderate evidence — could be legitimate uniform opinion."},

	// Duplicate response
	{"duplicate_exact_threshold", "Exact Duplicate Match Ratio", domain.CategoryDuplicate, 1.0, nil, nil,
		"Field match ratio for exact duplicate detection. 1.0 = 100% field match."},
	{"duplicate_partial_threshold", "Partial Duplicate Match Ratio", domain.CategoryDuplicate, 0.7, nil, nil,
		"Field match ratio for partial duplicate detection. >70% field match scores half weight."},
	{"duplicate_lookback_days", "Duplicate Lookback Window (days)", domain.CategoryDuplicate, 7, nil, nil,
		"Days to look back when comparing submissions for duplicates. Same form only."},
	{"duplicate_weight", "Duplicate Response Heuristic Weight", domain.CategoryDuplicate, 20, fptr(20), nil,
		"Component weight in composite score (max 20 points). Strong evidence when triggered."},

	// Off-hours timing
	{"timing_night_start_hour", "Night Window Start Hour", domain.CategoryTiming, 23, nil, nil,
		"Start of off-hours window (local time, 24h format). Submissions between start and end are flagged. WAT (UTC+1)."},
	{"timing_night_end_hour", "Night Window End Hour", domain.CategoryTiming, 5, nil, nil,
		"End of off-hours window (local time, 24h format). Submissions before this hour in the morning are flagged."},
	{"timing_weekend_penalty", "Weekend Submission Penalty (points)", domain.CategoryTiming, 5, nil, nil,
		"Points awarded for weekend submissions. Lower than night penalty since weekend fieldwork is common in survey operations."},
	{"timing_weight", "Off-Hours Timing Heuristic Weight", domain.CategoryTiming, 10, fptr(10), nil,
		"Component weight in composite score (max 10 points). Weakest signal — timing alone is contextual."},

	// Composite severity cutoffs
	{"severity_low_min", "Low Severity Minimum Score", domain.CategoryComposite, 25, nil, sptr("low"),
		"Scores 25-49 = low severity. Weekly review batch for supervisor."},
	{"severity_medium_min", "Medium Severity Minimum Score", domain.CategoryComposite, 50, nil, sptr("medium"),
		"Scores 50-69 = medium severity. Next-day callback/verification. SLA: 24 hours."},
	{"severity_high_min", "High Severity Minimum Score", domain.CategoryComposite, 70, nil, sptr("high"),
		"Scores 70-84 = high severity. Immediate notification, hold payment. SLA: 4 hours."},
	{"severity_critical_min", "Critical Severity Minimum Score", domain.CategoryComposite, 85, nil, sptr("critical"),
		"Scores 85-100 = critical severity. Auto-quarantine, block enumerator until cleared. Immediate SLA."},
}

// SeedDefaultThresholds inserts the default threshold set if the thresholds
// table is empty. Idempotent: an already-seeded database is left alone.
func SeedDefaultThresholds(ctx context.Context, repo domain.Repository) (int, error) {
	existing, err := repo.ListActiveThresholds(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	inserted := 0
	for _, rec := range thresholdDefaults {
		t := &domain.ThresholdConfig{
			ID:            uuid.New().String(),
			RuleKey:       rec.ruleKey,
			DisplayName:   rec.displayName,
			Category:      rec.category,
			Value:         rec.value,
			Weight:        rec.weight,
			SeverityFloor: rec.severityFloor,
			IsActive:      true,
			EffectiveFrom: now,
			Version:       1,
			CreatedBy:     "system",
			CreatedAt:     now,
			Notes:         rec.notes,
		}
		if err := repo.InsertThreshold(ctx, t); err != nil {
			return inserted, err
		}
		inserted++
	}

	return inserted, nil
}

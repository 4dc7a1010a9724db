package domain

import "time"

// Severity is the tier a composite score maps to.
type Severity string

const (
	SeverityClean    Severity = "clean"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// NeedsAlert reports whether the severity warrants immediate supervisor
// notification.
func (s Severity) NeedsAlert() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// ComponentScores holds one bounded score per heuristic category.
type ComponentScores struct {
	GPS          float64 `json:"gps"`
	Speed        float64 `json:"speed"`
	Straightline float64 `json:"straightline"`
	Duplicate    float64 `json:"duplicate"`
	Timing       float64 `json:"timing"`
}

// Sum returns the uncapped total of all components.
func (c ComponentScores) Sum() float64 {
	return c.GPS + c.Speed + c.Straightline + c.Duplicate + c.Timing
}

// DetectionDetails carries the per-category diagnostic payloads explaining
// why each score was assigned. Required for human review.
type DetectionDetails struct {
	GPS          map[string]any `json:"gps,omitempty"`
	Speed        map[string]any `json:"speed,omitempty"`
	Straightline map[string]any `json:"straightline,omitempty"`
	Duplicate    map[string]any `json:"duplicate,omitempty"`
	Timing       map[string]any `json:"timing,omitempty"`
}

// FraudDetectionResult is the engine's output for one submission.
// ConfigVersion binds the result to the exact threshold configuration in
// force at evaluation time.
type FraudDetectionResult struct {
	ID              string           `json:"id"`
	SubmissionID    string           `json:"submissionId"`
	EnumeratorID    string           `json:"enumeratorId"`
	ConfigVersion   int              `json:"configVersion"`
	ComponentScores ComponentScores  `json:"componentScores"`
	TotalScore      float64          `json:"totalScore"`
	Severity        Severity         `json:"severity"`
	Details         DetectionDetails `json:"details"`
	EvaluatedAt     time.Time        `json:"evaluatedAt"`
}

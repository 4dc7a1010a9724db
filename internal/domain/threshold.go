package domain

import "time"

// Category groups thresholds by the heuristic that consumes them.
// The composite category holds the severity cutoffs.
type Category string

const (
	CategoryGPS          Category = "gps"
	CategorySpeed        Category = "speed"
	CategoryStraightline Category = "straightline"
	CategoryDuplicate    Category = "duplicate"
	CategoryTiming       Category = "timing"
	CategoryComposite    Category = "composite"
)

// ThresholdConfig is one versioned, named numeric parameter.
//
// Rows are append-only: changing a value closes the current row (sets
// EffectiveUntil) and inserts a new row with Version+1 in one transaction.
// For a given RuleKey at most one row has EffectiveUntil == nil; that row
// is authoritative.
type ThresholdConfig struct {
	ID             string     `json:"id"`
	RuleKey        string     `json:"ruleKey"`
	DisplayName    string     `json:"displayName"`
	Category       Category   `json:"category"`
	Value          float64    `json:"value"`
	Weight         *float64   `json:"weight,omitempty"`
	SeverityFloor  *string    `json:"severityFloor,omitempty"`
	IsActive       bool       `json:"isActive"`
	EffectiveFrom  time.Time  `json:"effectiveFrom"`
	EffectiveUntil *time.Time `json:"effectiveUntil,omitempty"`
	Version        int        `json:"version"`
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	Notes          string     `json:"notes,omitempty"`
}

// Current reports whether this row is the authoritative version.
func (t *ThresholdConfig) Current() bool {
	return t.EffectiveUntil == nil
}

// FilterByCategory returns the thresholds belonging to one category,
// preserving order.
func FilterByCategory(thresholds []*ThresholdConfig, category Category) []*ThresholdConfig {
	var out []*ThresholdConfig
	for _, t := range thresholds {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

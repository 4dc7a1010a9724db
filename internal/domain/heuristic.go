package domain

import "context"

// HeuristicResult is one heuristic's verdict: a bounded score plus the
// diagnostic details a human reviewer needs to understand it.
type HeuristicResult struct {
	Score   float64        `json:"score"`
	Details map[string]any `json:"details"`
}

// Heuristic is the contract every fraud heuristic implements.
//
// Implementations are stateless and safe for concurrent use across
// evaluations. Missing or malformed submission data must degrade to a zero
// score with an explanatory detail, never an error; errors are reserved for
// genuinely unexpected failures, which the engine isolates per heuristic.
type Heuristic interface {
	// Key uniquely identifies the heuristic (e.g. "gps_clustering").
	Key() string

	// Category names the threshold group the heuristic consumes.
	Category() Category

	// Evaluate scores one submission context against the category's
	// thresholds. The context is shared and must not be mutated.
	Evaluate(ctx context.Context, sub *SubmissionContext, thresholds []*ThresholdConfig) (HeuristicResult, error)
}

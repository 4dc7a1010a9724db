package heuristics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/opensource-survey/kestrel/internal/domain"
)

func TestFieldMatchRatio(t *testing.T) {
	cases := []struct {
		name string
		a, b map[string]any
		want float64
	}{
		{"both empty", map[string]any{}, map[string]any{}, 0},
		{"identical", map[string]any{"q1": "a", "q2": "b"}, map[string]any{"q1": "a", "q2": "b"}, 1.0},
		{"half match", map[string]any{"q1": "a", "q2": "b", "q3": "c", "q4": "d"},
			map[string]any{"q1": "a", "q2": "b", "q3": "x", "q4": "y"}, 0.5},
		{"union of keys", map[string]any{"q1": "a", "q2": "b"},
			map[string]any{"q1": "a", "q3": "c"}, 1.0 / 3.0},
		{"metadata ignored", map[string]any{"q1": "a", "_gps": "7.3", "_meta": "x"},
			map[string]any{"q1": "a", "_gps": "99", "_meta": "y"}, 1.0},
		{"only metadata", map[string]any{"_a": 1}, map[string]any{"_a": 1}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FieldMatchRatio(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("FieldMatchRatio = %v, want %v", got, tc.want)
			}
		})
	}
}

func dupContext(raw map[string]any, history ...*domain.Submission) *domain.SubmissionContext {
	sub := baseContext(time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC))
	sub.RawData = raw
	sub.RecentSubmissions = history
	return sub
}

func historySubmission(id string, raw map[string]any) *domain.Submission {
	return &domain.Submission{
		ID:                  id,
		EnumeratorID:        "enum-1",
		QuestionnaireFormID: "form-1",
		SubmittedAt:         time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC),
		RawData:             raw,
	}
}

func TestDuplicateNoDataOrHistory(t *testing.T) {
	h := &DuplicateResponse{}

	t.Run("NoRawData", func(t *testing.T) {
		result, err := h.Evaluate(context.Background(),
			dupContext(nil, historySubmission("prev", map[string]any{"q1": "a"})), duplicateThresholds())
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if result.Score != 0 || result.Details["reason"] != "no_data_or_history" {
			t.Errorf("expected 0/no_data_or_history, got %v/%v", result.Score, result.Details["reason"])
		}
	})

	t.Run("NoHistory", func(t *testing.T) {
		result, err := h.Evaluate(context.Background(),
			dupContext(map[string]any{"q1": "a"}), duplicateThresholds())
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if result.Score != 0 || result.Details["reason"] != "no_data_or_history" {
			t.Errorf("expected 0/no_data_or_history, got %v/%v", result.Score, result.Details["reason"])
		}
	})
}

func TestDuplicateExactMatch(t *testing.T) {
	h := &DuplicateResponse{}

	raw := map[string]any{"q1": "a", "q2": "b", "q3": "c"}
	sub := dupContext(raw, historySubmission("prev-1", map[string]any{"q1": "a", "q2": "b", "q3": "c"}))

	result, err := h.Evaluate(context.Background(), sub, duplicateThresholds())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Score != 20 {
		t.Errorf("expected full weight 20, got %v", result.Score)
	}
	if result.Details["matchType"] != "exact" {
		t.Errorf("expected exact match, got %v", result.Details["matchType"])
	}
	if result.Details["bestMatchId"] != "prev-1" {
		t.Errorf("expected prev-1, got %v", result.Details["bestMatchId"])
	}
}

func TestDuplicatePartialMatch(t *testing.T) {
	h := &DuplicateResponse{}

	// 3 of 4 fields match: ratio 0.75, above partial, below exact.
	raw := map[string]any{"q1": "a", "q2": "b", "q3": "c", "q4": "d"}
	sub := dupContext(raw, historySubmission("prev-1",
		map[string]any{"q1": "a", "q2": "b", "q3": "c", "q4": "DIFFERENT"}))

	result, err := h.Evaluate(context.Background(), sub, duplicateThresholds())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Score != 10 {
		t.Errorf("expected half weight 10, got %v", result.Score)
	}
	if result.Details["matchType"] != "partial" {
		t.Errorf("expected partial match, got %v", result.Details["matchType"])
	}
}

func TestDuplicateLowSimilarity(t *testing.T) {
	h := &DuplicateResponse{}

	raw := map[string]any{"q1": "a", "q2": "b", "q3": "c", "q4": "d"}
	sub := dupContext(raw, historySubmission("prev-1",
		map[string]any{"q1": "x", "q2": "y", "q3": "z", "q4": "w"}))

	result, err := h.Evaluate(context.Background(), sub, duplicateThresholds())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Score != 0 || result.Details["matchType"] != "none" {
		t.Errorf("expected 0/none, got %v/%v", result.Score, result.Details["matchType"])
	}
}

func TestDuplicateSkipsOtherFormsAndEmptyHistory(t *testing.T) {
	h := &DuplicateResponse{}

	raw := map[string]any{"q1": "a", "q2": "b"}

	otherForm := historySubmission("other-form", map[string]any{"q1": "a", "q2": "b"})
	otherForm.QuestionnaireFormID = "form-2"
	noData := historySubmission("no-data", nil)

	sub := dupContext(raw, otherForm, noData)

	result, err := h.Evaluate(context.Background(), sub, duplicateThresholds())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Score != 0 {
		t.Errorf("expected 0 when only incomparable history exists, got %v", result.Score)
	}
	if result.Details["comparedCount"] != 0 {
		t.Errorf("expected 0 compared, got %v", result.Details["comparedCount"])
	}
}

func TestDuplicateBestMatchWins(t *testing.T) {
	h := &DuplicateResponse{}

	raw := map[string]any{"q1": "a", "q2": "b", "q3": "c", "q4": "d"}
	sub := dupContext(raw,
		historySubmission("weak", map[string]any{"q1": "a", "q2": "x", "q3": "y", "q4": "z"}),
		historySubmission("strong", map[string]any{"q1": "a", "q2": "b", "q3": "c", "q4": "d"}),
	)

	result, err := h.Evaluate(context.Background(), sub, duplicateThresholds())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Score != 20 || result.Details["bestMatchId"] != "strong" {
		t.Errorf("expected exact match against strong, got %v/%v", result.Score, result.Details["bestMatchId"])
	}
}

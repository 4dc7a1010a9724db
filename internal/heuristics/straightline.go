package heuristics

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/opensource-survey/kestrel/internal/domain"
)

// StraightLining detects response-pattern uniformity in scale-question
// batteries. Max 20 points.
//
// Primary signal: PIR (percentage of identical responses) at or above the
// threshold in two or more batteries scores full weight; a single flagged
// battery scores half. Secondary signals: a long run of identical answers
// and near-zero Shannon entropy each add a quarter of the weight, but only
// while the score is still below the cap.
type StraightLining struct{}

func (h *StraightLining) Key() string               { return "straight_lining" }
func (h *StraightLining) Category() domain.Category { return domain.CategoryStraightline }

// battery is a group of scale questions in one section large enough to
// analyze for uniformity.
type battery struct {
	sectionID     string
	questionNames []string
}

func (h *StraightLining) Evaluate(ctx context.Context, sub *domain.SubmissionContext, thresholds []*domain.ThresholdConfig) (domain.HeuristicResult, error) {
	pirThreshold := thresholdValue(thresholds, "straightline_pir_threshold", 0.8)
	minBatterySize := int(thresholdValue(thresholds, "straightline_min_battery_size", 5))
	entropyThreshold := thresholdValue(thresholds, "straightline_entropy_threshold", 0.5)
	minFlaggedBatteries := int(thresholdValue(thresholds, "straightline_min_flagged_batteries", 2))
	weight := thresholdValue(thresholds, "straightline_weight", 20)

	batteries := identifyBatteries(sub.FormSchema, minBatterySize)
	if len(batteries) == 0 {
		return domain.HeuristicResult{
			Score:   0,
			Details: map[string]any{"reason": "no_batteries_found", "batteryCount": 0},
		}, nil
	}

	type batteryResult struct {
		SectionID     string  `json:"sectionId"`
		QuestionCount int     `json:"questionCount"`
		PIR           float64 `json:"pir"`
		LIS           int     `json:"lis"`
		Entropy       float64 `json:"entropy"`
		Flagged       bool    `json:"flagged"`
	}

	var results []batteryResult
	flaggedCount := 0

	for _, b := range batteries {
		var responses []any
		for _, name := range b.questionNames {
			if v, ok := sub.RawData[name]; ok && v != nil && v != "" {
				responses = append(responses, v)
			}
		}

		if len(responses) < minBatterySize {
			continue
		}

		pir := PIR(responses)
		lis := LIS(responses)
		entropy := ShannonEntropy(responses)

		flagged := pir >= pirThreshold
		if flagged {
			flaggedCount++
		}

		results = append(results, batteryResult{
			SectionID:     b.sectionID,
			QuestionCount: len(responses),
			PIR:           round2(pir),
			LIS:           lis,
			Entropy:       entropy,
			Flagged:       flagged,
		})
	}

	var score float64
	flags := []string{}

	if flaggedCount >= minFlaggedBatteries {
		score = weight
		flags = append(flags, "multi_battery_straight_lining")
	} else if flaggedCount == 1 {
		score = weight * 0.5
		flags = append(flags, "single_battery_straight_lining")
	}

	// Secondary: a long run of identical answers, bonus only below the cap.
	maxLIS := 0
	for _, r := range results {
		if r.LIS > maxLIS {
			maxLIS = r.LIS
		}
	}
	if maxLIS >= 8 && score < weight {
		score = math.Min(score+weight*0.25, weight)
		flags = append(flags, "long_identical_string")
	}

	// Secondary: near-zero response diversity.
	minEntropy := math.Inf(1)
	for _, r := range results {
		if r.Entropy < minEntropy {
			minEntropy = r.Entropy
		}
	}
	if minEntropy < entropyThreshold && score < weight {
		score = math.Min(score+weight*0.25, weight)
		flags = append(flags, "low_entropy")
	}

	if score > weight {
		score = weight
	}
	score = round2(score)

	details := map[string]any{
		"batteryCount":      len(batteries),
		"analyzedBatteries": len(results),
		"flaggedBatteries":  flaggedCount,
		"maxLIS":            maxLIS,
		"batteryResults":    results,
		"flags":             flags,
		"thresholds": map[string]any{
			"pirThreshold":        pirThreshold,
			"minBatterySize":      minBatterySize,
			"entropyThreshold":    entropyThreshold,
			"minFlaggedBatteries": minFlaggedBatteries,
		},
	}
	if math.IsInf(minEntropy, 1) {
		details["minEntropy"] = nil
	} else {
		details["minEntropy"] = minEntropy
	}

	return domain.HeuristicResult{Score: score, Details: details}, nil
}

// identifyBatteries finds sections containing at least minBatterySize
// scale questions (select_one, likert, radio).
func identifyBatteries(schema *domain.FormSchema, minBatterySize int) []battery {
	if schema == nil {
		return nil
	}

	var batteries []battery
	for _, section := range schema.Sections {
		var scaleQuestions []string
		for _, q := range section.Questions {
			switch strings.ToLower(q.Type) {
			case "select_one", "likert", "radio":
				scaleQuestions = append(scaleQuestions, q.Name)
			}
		}
		if len(scaleQuestions) >= minBatterySize {
			batteries = append(batteries, battery{
				sectionID:     section.ID,
				questionNames: scaleQuestions,
			})
		}
	}
	return batteries
}

func responseKey(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// PIR returns the fraction of responses identical to the mode.
// An empty battery yields 0.
func PIR(responses []any) float64 {
	if len(responses) == 0 {
		return 0
	}

	freq := map[string]int{}
	for _, r := range responses {
		freq[responseKey(r)]++
	}

	maxCount := 0
	for _, c := range freq {
		if c > maxCount {
			maxCount = c
		}
	}
	return float64(maxCount) / float64(len(responses))
}

// LIS returns the longest run of consecutive identical responses.
func LIS(responses []any) int {
	if len(responses) == 0 {
		return 0
	}

	maxRun, currentRun := 1, 1
	for i := 1; i < len(responses); i++ {
		if responseKey(responses[i]) == responseKey(responses[i-1]) {
			currentRun++
			if currentRun > maxRun {
				maxRun = currentRun
			}
		} else {
			currentRun = 1
		}
	}
	return maxRun
}

// ShannonEntropy returns the response diversity in bits, rounded to two
// decimals. All-identical responses yield exactly 0.
func ShannonEntropy(responses []any) float64 {
	if len(responses) == 0 {
		return 0
	}

	freq := map[string]int{}
	for _, r := range responses {
		freq[responseKey(r)]++
	}

	var entropy float64
	n := float64(len(responses))
	for _, count := range freq {
		p := float64(count) / n
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	return round2(entropy)
}

//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel fraud
// detection engine.
//
// These tests verify the COMPLETE evaluation pipeline:
//
//	Submission → SubmissionContext → Heuristics → Composite → Severity
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. SUBMISSION: One field-data record from an enumerator, optionally
//    carrying a GPS fix, a completion time, and the raw answers.
//
// 2. HEURISTIC: A fraud signal detector. Five run on every evaluation:
//   - gps_clustering (max 25): DBSCAN cluster + teleportation + coordinate reuse
//   - speed_run (max 25): completion time vs empirical median or theoretical minimum
//   - straight_lining (max 20): identical answers across scale-question batteries
//   - duplicate_response (max 20): field-match ratio against recent submissions
//   - off_hours (max 10): night-window and weekend submission timing
//
// 3. SEVERITY: Composite score (capped at 100) mapped through cutoffs:
//   - < 25 → clean, 25-49 → low, 50-69 → medium, 70-84 → high, 85+ → critical
//
// 4. THRESHOLDS: every knob above is a versioned database row. Updating one
//    via PUT /api/v1/thresholds/{ruleKey} appends a new version and applies
//    to the very next evaluation — no restart.
//
// The server seeds its default threshold catalogue on first boot; no
// fixture loading is required before running these tests.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

type GPSInfo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SubmissionRequest is the body sent to POST /api/v1/submissions
type SubmissionRequest struct {
	ID                    string         `json:"id,omitempty"`
	EnumeratorID          string         `json:"enumeratorId"`
	QuestionnaireFormID   string         `json:"questionnaireFormId,omitempty"`
	SubmittedAt           *time.Time     `json:"submittedAt,omitempty"`
	GPS                   *GPSInfo       `json:"gps,omitempty"`
	CompletionTimeSeconds *int           `json:"completionTimeSeconds,omitempty"`
	Data                  map[string]any `json:"data,omitempty"`
}

type IngestResponse struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
}

// DetectionResult is what POST /api/v1/submissions/{id}/evaluate returns
type DetectionResult struct {
	ID              string  `json:"id"`
	SubmissionID    string  `json:"submissionId"`
	EnumeratorID    string  `json:"enumeratorId"`
	ConfigVersion   int     `json:"configVersion"`
	TotalScore      float64 `json:"totalScore"`
	Severity        string  `json:"severity"`
	ComponentScores struct {
		GPS          float64 `json:"gps"`
		Speed        float64 `json:"speed"`
		Straightline float64 `json:"straightline"`
		Duplicate    float64 `json:"duplicate"`
		Timing       float64 `json:"timing"`
	} `json:"componentScores"`
	Details struct {
		GPS       map[string]any `json:"gps"`
		Duplicate map[string]any `json:"duplicate"`
	} `json:"details"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

var httpClient = &http.Client{Timeout: 10 * time.Second}

func doJSON(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func ingest(t *testing.T, config TestConfig, req SubmissionRequest) string {
	t.Helper()

	status, body := doJSON(t, http.MethodPost, config.BaseURL+"/api/v1/submissions", req)
	if status != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", status, string(body))
	}

	var resp IngestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal ingest response: %v", err)
	}
	return resp.SubmissionID
}

func evaluate(t *testing.T, config TestConfig, submissionID string) DetectionResult {
	t.Helper()

	status, body := doJSON(t, http.MethodPost,
		config.BaseURL+"/api/v1/submissions/"+submissionID+"/evaluate", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result DetectionResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal detection: %v (body: %s)", err, string(body))
	}
	return result
}

func updateThreshold(t *testing.T, config TestConfig, ruleKey string, value float64) {
	t.Helper()

	status, body := doJSON(t, http.MethodPut,
		config.BaseURL+"/api/v1/thresholds/"+ruleKey,
		map[string]any{"value": value, "updatedBy": "integration-test"})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200 updating %s, got %d: %s", ruleKey, status, string(body))
	}
}

// uniqueID isolates each test run from earlier data in the server's database.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// ============================================================================
// SCENARIO 1: Clean Submission (No Signals)
// ============================================================================

func TestCleanSubmission_NoSignals(t *testing.T) {
	/*
	   SCENARIO: A lone submission with no GPS fix, no completion time, no
	   answers, and no history for its enumerator.

	   EXPECTED BEHAVIOR:
	   - gps_clustering: no fix → 0 (reason no_gps_data)
	   - speed_run: no completion time → 0
	   - straight_lining: no batteries → 0
	   - duplicate_response: nothing to compare → 0
	   - off_hours: at most 10 if the test runs at night or on a weekend

	   FINAL DECISION: total ≤ 10 → severity "clean"
	*/
	config := getTestConfig()
	enumerator := uniqueID("enum-clean")

	subID := ingest(t, config, SubmissionRequest{EnumeratorID: enumerator})
	result := evaluate(t, config, subID)

	if result.Severity != "clean" {
		t.Errorf("Expected severity clean, got %s (score %.1f)", result.Severity, result.TotalScore)
	}
	if result.ComponentScores.GPS != 0 {
		t.Errorf("Expected gps score 0 without a fix, got %.1f", result.ComponentScores.GPS)
	}
	if result.ConfigVersion < 1 {
		t.Errorf("Expected config version >= 1, got %d", result.ConfigVersion)
	}

	t.Logf("✓ Clean submission: severity=%s, score=%.1f", result.Severity, result.TotalScore)
}

// ============================================================================
// SCENARIO 2: GPS Cluster (Fabrication from One Spot)
// ============================================================================

func TestGPSCluster_SignalFires(t *testing.T) {
	/*
	   SCENARIO: An enumerator files five submissions within an hour, all
	   from GPS fixes a few meters apart — the classic sit-in-one-spot
	   fabrication pattern.

	   EXPECTED BEHAVIOR:
	   - DBSCAN (radius 50m, minSamples 3) puts all five points in one
	     cluster; the evaluated submission is inside it → 60% of the GPS
	     weight = 15 points
	   - No teleportation (meters apart, an hour between fixes)

	   FINAL DECISION: gps component = 15, inCluster detail true
	*/
	config := getTestConfig()
	enumerator := uniqueID("enum-cluster")
	now := time.Now().UTC()
	lat, lon := 7.37750, 3.94700

	// Four historical fixes ~5m apart
	for k := 0; k < 4; k++ {
		at := now.Add(-time.Duration(k+1) * 15 * time.Minute)
		ingest(t, config, SubmissionRequest{
			EnumeratorID: enumerator,
			SubmittedAt:  &at,
			GPS:          &GPSInfo{Latitude: lat + float64(k)*0.00005, Longitude: lon},
		})
	}

	subID := ingest(t, config, SubmissionRequest{
		EnumeratorID: enumerator,
		SubmittedAt:  &now,
		GPS:          &GPSInfo{Latitude: lat, Longitude: lon},
	})

	result := evaluate(t, config, subID)

	if result.ComponentScores.GPS < 15 {
		t.Errorf("Expected gps component >= 15 for clustered fixes, got %.1f", result.ComponentScores.GPS)
	}
	if inCluster, _ := result.Details.GPS["inCluster"].(bool); !inCluster {
		t.Errorf("Expected inCluster detail to be true: %v", result.Details.GPS)
	}

	t.Logf("✓ GPS cluster fired: gps=%.1f, severity=%s", result.ComponentScores.GPS, result.Severity)
}

// ============================================================================
// SCENARIO 3: Scattered Fixes (No False Positive)
// ============================================================================

func TestScatteredFixes_NoSignal(t *testing.T) {
	/*
	   SCENARIO: The same volume of work, but each fix is hundreds of
	   meters from the last — normal door-to-door movement.

	   EXPECTED BEHAVIOR: no DBSCAN cluster forms (radius 50m), so the
	   primary GPS signal stays silent.
	*/
	config := getTestConfig()
	enumerator := uniqueID("enum-scatter")
	now := time.Now().UTC()
	lat, lon := 7.37750, 3.94700

	for k := 0; k < 4; k++ {
		at := now.Add(-time.Duration(k+1) * 30 * time.Minute)
		// ~550m apart per step
		ingest(t, config, SubmissionRequest{
			EnumeratorID: enumerator,
			SubmittedAt:  &at,
			GPS:          &GPSInfo{Latitude: lat + float64(k+1)*0.005, Longitude: lon},
		})
	}

	subID := ingest(t, config, SubmissionRequest{
		EnumeratorID: enumerator,
		SubmittedAt:  &now,
		GPS:          &GPSInfo{Latitude: lat, Longitude: lon},
	})

	result := evaluate(t, config, subID)

	if result.ComponentScores.GPS != 0 {
		t.Errorf("Expected gps component 0 for scattered fixes, got %.1f (details %v)",
			result.ComponentScores.GPS, result.Details.GPS)
	}

	t.Logf("✓ Scattered fixes stayed clean: gps=%.1f", result.ComponentScores.GPS)
}

// ============================================================================
// SCENARIO 4: Duplicate Responses (Copy-Paste Interview)
// ============================================================================

func TestDuplicateResponses_ExactMatch(t *testing.T) {
	/*
	   SCENARIO: An enumerator submits the exact same answer set twice for
	   the same form within the lookback window.

	   EXPECTED BEHAVIOR:
	   - field match ratio 1.0 >= exact threshold → full duplicate weight (20)
	   - matchType detail "exact"
	*/
	config := getTestConfig()
	enumerator := uniqueID("enum-dup")
	formID := uniqueID("form")
	now := time.Now().UTC()
	earlier := now.Add(-2 * time.Hour)

	answers := map[string]any{
		"household_size": 4,
		"income_source":  "farming",
		"has_borehole":   "no",
	}

	ingest(t, config, SubmissionRequest{
		EnumeratorID:        enumerator,
		QuestionnaireFormID: formID,
		SubmittedAt:         &earlier,
		Data:                answers,
	})

	subID := ingest(t, config, SubmissionRequest{
		EnumeratorID:        enumerator,
		QuestionnaireFormID: formID,
		SubmittedAt:         &now,
		Data:                answers,
	})

	result := evaluate(t, config, subID)

	if result.ComponentScores.Duplicate != 20 {
		t.Errorf("Expected duplicate component 20 for exact copy, got %.1f (details %v)",
			result.ComponentScores.Duplicate, result.Details.Duplicate)
	}
	if matchType, _ := result.Details.Duplicate["matchType"].(string); matchType != "exact" {
		t.Errorf("Expected matchType exact, got %q", matchType)
	}

	t.Logf("✓ Duplicate detected: duplicate=%.1f, severity=%s",
		result.ComponentScores.Duplicate, result.Severity)
}

// ============================================================================
// SCENARIO 5: Threshold Update Applies Immediately
// ============================================================================

func TestThresholdUpdate_AppliesToNextEvaluation(t *testing.T) {
	/*
	   SCENARIO: A supervisor tightens gps_cluster_radius_m from 50 to 1,
	   then the same clustered submission is re-evaluated.

	   EXPECTED BEHAVIOR:
	   - First evaluation: cluster forms at 50m radius → gps = 15
	   - After the update: fixes ~5m apart no longer reach each other at
	     a 1m radius, no cluster forms → gps = 0
	   - No restart, no cache staleness: the update invalidates the
	     threshold cache explicitly.

	   The original value is restored at the end so later runs see the
	   default catalogue.
	*/
	config := getTestConfig()
	enumerator := uniqueID("enum-knob")
	now := time.Now().UTC()
	lat, lon := 7.37750, 3.94700

	for k := 0; k < 4; k++ {
		at := now.Add(-time.Duration(k+1) * 15 * time.Minute)
		ingest(t, config, SubmissionRequest{
			EnumeratorID: enumerator,
			SubmittedAt:  &at,
			GPS:          &GPSInfo{Latitude: lat + float64(k)*0.00005, Longitude: lon},
		})
	}
	subID := ingest(t, config, SubmissionRequest{
		EnumeratorID: enumerator,
		SubmittedAt:  &now,
		GPS:          &GPSInfo{Latitude: lat, Longitude: lon},
	})

	before := evaluate(t, config, subID)
	if before.ComponentScores.GPS < 15 {
		t.Fatalf("Expected gps >= 15 before the update, got %.1f", before.ComponentScores.GPS)
	}

	updateThreshold(t, config, "gps_cluster_radius_m", 1)
	defer updateThreshold(t, config, "gps_cluster_radius_m", 50)

	after := evaluate(t, config, subID)
	if after.ComponentScores.GPS != 0 {
		t.Errorf("Expected gps 0 after tightening the radius to 1m, got %.1f", after.ComponentScores.GPS)
	}
	if after.ConfigVersion <= before.ConfigVersion {
		t.Errorf("Expected config version to advance (%d -> %d)",
			before.ConfigVersion, after.ConfigVersion)
	}

	t.Logf("✓ Threshold update applied immediately: gps %.1f -> %.1f, version %d -> %d",
		before.ComponentScores.GPS, after.ComponentScores.GPS,
		before.ConfigVersion, after.ConfigVersion)
}

// ============================================================================
// SCENARIO 6: Detection Persistence
// ============================================================================

func TestDetectionPersisted_ReadableByBothRoutes(t *testing.T) {
	/*
	   SCENARIO: Every evaluation persists a detection row binding the
	   result to the threshold config version in force at the time.
	*/
	config := getTestConfig()
	enumerator := uniqueID("enum-persist")

	subID := ingest(t, config, SubmissionRequest{EnumeratorID: enumerator})
	result := evaluate(t, config, subID)

	status, body := doJSON(t, http.MethodGet, config.BaseURL+"/api/v1/detections/"+result.ID, nil)
	if status != http.StatusOK {
		t.Errorf("Expected 200 reading detection by id, got %d: %s", status, string(body))
	}

	status, body = doJSON(t, http.MethodGet,
		config.BaseURL+"/api/v1/submissions/"+subID+"/detection", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 reading detection by submission, got %d: %s", status, string(body))
	}

	var stored DetectionResult
	if err := json.Unmarshal(body, &stored); err != nil {
		t.Fatalf("Failed to unmarshal stored detection: %v", err)
	}
	if stored.SubmissionID != subID {
		t.Errorf("Expected stored detection for %s, got %s", subID, stored.SubmissionID)
	}
	if stored.ConfigVersion != result.ConfigVersion {
		t.Errorf("Expected stored config version %d, got %d", result.ConfigVersion, stored.ConfigVersion)
	}

	t.Logf("✓ Detection persisted: id=%s, configVersion=%d", result.ID[:8], stored.ConfigVersion)
}

// ============================================================================
// SCENARIO 7: Input Validation
// ============================================================================

func TestMissingEnumeratorID_Error(t *testing.T) {
	/*
	   SCENARIO: Ingest without the required enumeratorId.

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	status, _ := doJSON(t, http.MethodPost, config.BaseURL+"/api/v1/submissions",
		SubmissionRequest{Data: map[string]any{"q1": "yes"}})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing enumeratorId, got %d", status)
	}

	t.Logf("✓ Validation test passed: missing enumeratorId → HTTP %d", status)
}

func TestUnknownSubmission_Error(t *testing.T) {
	/*
	   SCENARIO: Evaluate a submission id that was never ingested.

	   EXPECTED: HTTP 404 Not Found
	*/
	config := getTestConfig()

	status, _ := doJSON(t, http.MethodPost,
		config.BaseURL+"/api/v1/submissions/"+uniqueID("ghost")+"/evaluate", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown submission, got %d", status)
	}

	t.Logf("✓ Validation test passed: unknown submission → HTTP %d", status)
}

func TestUnknownThresholdRule_Error(t *testing.T) {
	/*
	   SCENARIO: Update a rule key that does not exist in the catalogue.

	   EXPECTED: HTTP 404 Not Found (RULE_NOT_FOUND, never an upsert)
	*/
	config := getTestConfig()

	status, _ := doJSON(t, http.MethodPut,
		config.BaseURL+"/api/v1/thresholds/"+uniqueID("no_such_rule"),
		map[string]any{"value": 1.0})
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown rule key, got %d", status)
	}

	t.Logf("✓ Validation test passed: unknown rule key → HTTP %d", status)
}

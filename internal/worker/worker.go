// Package worker provides async fraud evaluation off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-survey/kestrel/internal/domain"
	"github.com/opensource-survey/kestrel/internal/engine"
)

// Worker consumes submission-ingested events, runs the fraud engine, and
// persists the detection. High and critical results additionally raise a
// fraud alert event for supervisor tooling.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	engine *engine.Engine
	logger *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// SubmissionMessage is the payload on the submission-ingested topic.
type SubmissionMessage struct {
	SubmissionID string `json:"submissionId"`
}

// DetectionMessage is the payload on the detection-completed and
// fraud-alert topics.
type DetectionMessage struct {
	DetectionID  string  `json:"detectionId"`
	SubmissionID string  `json:"submissionId"`
	EnumeratorID string  `json:"enumeratorId"`
	TotalScore   float64 `json:"totalScore"`
	Severity     string  `json:"severity"`
}

// New creates a new async worker.
func New(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		engine: eng,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the submission-ingested topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicSubmissionIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started", "topic", domain.TopicSubmissionIngested)
	return nil
}

// Stop unsubscribes and halts processing.
func (w *Worker) Stop() {
	w.cancel()
	for _, sub := range w.subscriptions {
		_ = sub.Unsubscribe()
	}
	w.subscriptions = nil
	w.logger.Info("worker stopped")
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var payload SubmissionMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		w.logger.Error("invalid submission message",
			"message_id", msg.ID,
			"error", err)
		return err
	}
	if payload.SubmissionID == "" {
		w.logger.Error("submission message missing submissionId", "message_id", msg.ID)
		return fmt.Errorf("missing submissionId")
	}

	_, err := w.Process(ctx, payload.SubmissionID)
	return err
}

// Process evaluates one submission, persists the result, and publishes
// the outcome events. Exposed so the API can run a synchronous
// evaluation through the same path.
func (w *Worker) Process(ctx context.Context, submissionID string) (*domain.FraudDetectionResult, error) {
	start := time.Now()

	result, err := w.engine.Evaluate(ctx, submissionID)
	if err != nil {
		w.logger.Error("evaluation failed",
			"submission_id", submissionID,
			"error", err)
		return nil, err
	}

	if err := w.repo.SaveDetection(ctx, result); err != nil {
		w.logger.Error("failed to persist detection",
			"submission_id", submissionID,
			"detection_id", result.ID,
			"error", err)
		return nil, err
	}

	w.publishResults(ctx, result)

	if result.Severity.NeedsAlert() {
		w.logger.Warn("high-severity fraud detection",
			"submission_id", submissionID,
			"enumerator_id", result.EnumeratorID,
			"total_score", result.TotalScore,
			"severity", string(result.Severity))
	}

	w.logger.Info("submission processed",
		"submission_id", submissionID,
		"detection_id", result.ID,
		"severity", string(result.Severity),
		"duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

// publishResults emits the detection-completed event and, for severities
// needing attention, the fraud-alert event. Publish failures are logged
// only; the detection is already durable.
func (w *Worker) publishResults(ctx context.Context, result *domain.FraudDetectionResult) {
	payload, err := json.Marshal(DetectionMessage{
		DetectionID:  result.ID,
		SubmissionID: result.SubmissionID,
		EnumeratorID: result.EnumeratorID,
		TotalScore:   result.TotalScore,
		Severity:     string(result.Severity),
	})
	if err != nil {
		return
	}

	if err := w.bus.Publish(ctx, domain.TopicDetectionCompleted, payload); err != nil {
		w.logger.Warn("failed to publish detection event",
			"detection_id", result.ID,
			"error", err)
	}

	if result.Severity.NeedsAlert() {
		if err := w.bus.Publish(ctx, domain.TopicFraudAlert, payload); err != nil {
			w.logger.Warn("failed to publish fraud alert",
				"detection_id", result.ID,
				"error", err)
		}
	}
}

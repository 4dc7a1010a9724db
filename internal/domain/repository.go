// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Submission operations
	SaveSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)

	// GetRecentSubmissions returns one enumerator's submissions since the
	// cutoff, excluding excludeID, most recent first, capped at limit.
	GetRecentSubmissions(ctx context.Context, enumeratorID string, since time.Time, excludeID string, limit int) ([]*Submission, error)

	// GetNearbySubmissions returns other enumerators' GPS-bearing
	// submissions since the cutoff, excluding excludeEnumeratorID's rows
	// and the excludeID submission, capped at limit.
	GetNearbySubmissions(ctx context.Context, excludeEnumeratorID string, since time.Time, excludeID string, limit int) ([]*Submission, error)

	// Questionnaire form operations
	SaveForm(ctx context.Context, form *QuestionnaireForm) error
	GetForm(ctx context.Context, id string) (*QuestionnaireForm, error)

	// Threshold operations. Threshold rows are append-only: ReplaceThreshold
	// closes the current row and inserts the next version in one transaction.
	ListActiveThresholds(ctx context.Context) ([]*ThresholdConfig, error)
	GetCurrentThreshold(ctx context.Context, ruleKey string) (*ThresholdConfig, error)
	InsertThreshold(ctx context.Context, t *ThresholdConfig) error
	ReplaceThreshold(ctx context.Context, currentID string, next *ThresholdConfig) error

	// Detection results
	SaveDetection(ctx context.Context, det *FraudDetectionResult) error
	GetDetection(ctx context.Context, id string) (*FraudDetectionResult, error)
	GetDetectionBySubmission(ctx context.Context, submissionID string) (*FraudDetectionResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

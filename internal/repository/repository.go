// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-survey/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrVersionConflict means the row being superseded was already closed
	// by a concurrent threshold update.
	ErrVersionConflict = errors.New("threshold version conflict")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveSubmission stores a submission record.
func (r *SQLRepository) SaveSubmission(ctx context.Context, sub *domain.Submission) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("%w: submission id is required", ErrInvalidInput)
	}

	rawData, _ := json.Marshal(sub.RawData)

	query := `
		INSERT INTO submissions (
			id, enumerator_id, questionnaire_form_id, submitted_at,
			gps_latitude, gps_longitude, completion_time_seconds,
			raw_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		sub.ID, sub.EnumeratorID, sub.QuestionnaireFormID, sub.SubmittedAt,
		nullFloat(sub.GPSLatitude), nullFloat(sub.GPSLongitude), nullInt(sub.CompletionTimeSeconds),
		string(rawData), sub.CreatedAt,
	)
	return err
}

// GetSubmission retrieves a submission by ID.
func (r *SQLRepository) GetSubmission(ctx context.Context, id string) (*domain.Submission, error) {
	query := `
		SELECT id, enumerator_id, questionnaire_form_id, submitted_at,
			   gps_latitude, gps_longitude, completion_time_seconds,
			   raw_data, created_at
		FROM submissions
		WHERE id = ?
	`

	sub, err := scanSubmission(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

// GetRecentSubmissions retrieves an enumerator's submissions since the
// cutoff, excluding one submission, most recent first.
func (r *SQLRepository) GetRecentSubmissions(ctx context.Context, enumeratorID string, since time.Time, excludeID string, limit int) ([]*domain.Submission, error) {
	if enumeratorID == "" {
		return nil, fmt.Errorf("%w: enumeratorID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, enumerator_id, questionnaire_form_id, submitted_at,
			   gps_latitude, gps_longitude, completion_time_seconds,
			   raw_data, created_at
		FROM submissions
		WHERE enumerator_id = ?
		  AND submitted_at >= ?
		  AND id != ?
		ORDER BY submitted_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), enumeratorID, since, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubmissions(rows)
}

// GetNearbySubmissions retrieves other enumerators' GPS-bearing submissions
// since the cutoff.
func (r *SQLRepository) GetNearbySubmissions(ctx context.Context, excludeEnumeratorID string, since time.Time, excludeID string, limit int) ([]*domain.Submission, error) {
	query := `
		SELECT id, enumerator_id, questionnaire_form_id, submitted_at,
			   gps_latitude, gps_longitude, completion_time_seconds,
			   raw_data, created_at
		FROM submissions
		WHERE submitted_at >= ?
		  AND gps_latitude IS NOT NULL
		  AND gps_longitude IS NOT NULL
		  AND id != ?
		  AND enumerator_id != ?
		ORDER BY submitted_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, excludeID, excludeEnumeratorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubmissions(rows)
}

// SaveForm stores a questionnaire form with its schema.
func (r *SQLRepository) SaveForm(ctx context.Context, form *domain.QuestionnaireForm) error {
	if form == nil || form.ID == "" {
		return fmt.Errorf("%w: form id is required", ErrInvalidInput)
	}

	schema, _ := json.Marshal(form.Schema)

	query := `
		INSERT INTO questionnaire_forms (id, name, form_schema, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			form_schema = excluded.form_schema
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		form.ID, form.Name, string(schema), form.CreatedAt,
	)
	return err
}

// GetForm retrieves a questionnaire form by ID.
func (r *SQLRepository) GetForm(ctx context.Context, id string) (*domain.QuestionnaireForm, error) {
	query := `
		SELECT id, name, form_schema, created_at
		FROM questionnaire_forms
		WHERE id = ?
	`

	var form domain.QuestionnaireForm
	var schema sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&form.ID, &form.Name, &schema, &form.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if schema.Valid && schema.String != "" && schema.String != "null" {
		var fs domain.FormSchema
		if err := json.Unmarshal([]byte(schema.String), &fs); err != nil {
			return nil, fmt.Errorf("failed to parse form schema for %s: %w", id, err)
		}
		form.Schema = &fs
	}

	return &form, nil
}

// ListActiveThresholds returns every current-version threshold row,
// ordered by category then rule key. Deactivated rules are included with
// IsActive false so callers can tell a switched-off rule from a missing one.
func (r *SQLRepository) ListActiveThresholds(ctx context.Context) ([]*domain.ThresholdConfig, error) {
	query := `
		SELECT id, rule_key, display_name, rule_category, threshold_value,
			   weight, severity_floor, is_active, effective_from,
			   effective_until, version, created_by, created_at, notes
		FROM fraud_thresholds
		WHERE effective_until IS NULL
		ORDER BY rule_category, rule_key
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ThresholdConfig
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, t)
	}

	return configs, rows.Err()
}

// GetCurrentThreshold retrieves the authoritative row for a rule key,
// active or not.
func (r *SQLRepository) GetCurrentThreshold(ctx context.Context, ruleKey string) (*domain.ThresholdConfig, error) {
	query := `
		SELECT id, rule_key, display_name, rule_category, threshold_value,
			   weight, severity_floor, is_active, effective_from,
			   effective_until, version, created_by, created_at, notes
		FROM fraud_thresholds
		WHERE rule_key = ? AND effective_until IS NULL
		ORDER BY version DESC
		LIMIT 1
	`

	t, err := scanThreshold(r.db.QueryRowContext(ctx, r.rebind(query), ruleKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// InsertThreshold stores a new threshold row. Used for seeding; versioned
// updates go through ReplaceThreshold.
func (r *SQLRepository) InsertThreshold(ctx context.Context, t *domain.ThresholdConfig) error {
	if t == nil || t.RuleKey == "" {
		return fmt.Errorf("%w: rule key is required", ErrInvalidInput)
	}
	return r.insertThreshold(ctx, r.db, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) insertThreshold(ctx context.Context, ex execer, t *domain.ThresholdConfig) error {
	query := `
		INSERT INTO fraud_thresholds (
			id, rule_key, display_name, rule_category, threshold_value,
			weight, severity_floor, is_active, effective_from,
			effective_until, version, created_by, created_at, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	active := 0
	if t.IsActive {
		active = 1
	}

	_, err := ex.ExecContext(ctx, r.rebind(query),
		t.ID, t.RuleKey, t.DisplayName, string(t.Category), t.Value,
		nullFloat(t.Weight), nullString(t.SeverityFloor), active, t.EffectiveFrom,
		nullTime(t.EffectiveUntil), t.Version, t.CreatedBy, t.CreatedAt, t.Notes,
	)
	return err
}

// ReplaceThreshold closes the current row and inserts the next version in
// one transaction. Readers observe either the fully-old or fully-new state.
func (r *SQLRepository) ReplaceThreshold(ctx context.Context, currentID string, next *domain.ThresholdConfig) error {
	if currentID == "" || next == nil {
		return fmt.Errorf("%w: current id and next row are required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	closeQuery := `
		UPDATE fraud_thresholds
		SET effective_until = ?
		WHERE id = ? AND effective_until IS NULL
	`

	result, err := tx.ExecContext(ctx, r.rebind(closeQuery), next.EffectiveFrom, currentID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Already closed by a concurrent update.
		return ErrVersionConflict
	}

	if err := r.insertThreshold(ctx, tx, next); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveDetection stores a fraud detection result.
func (r *SQLRepository) SaveDetection(ctx context.Context, det *domain.FraudDetectionResult) error {
	if det == nil || det.ID == "" {
		return fmt.Errorf("%w: detection id is required", ErrInvalidInput)
	}

	details, _ := json.Marshal(det.Details)

	query := `
		INSERT INTO fraud_detections (
			id, submission_id, enumerator_id, config_version,
			gps_score, speed_score, straightline_score, duplicate_score, timing_score,
			total_score, severity, details, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		det.ID, det.SubmissionID, det.EnumeratorID, det.ConfigVersion,
		det.ComponentScores.GPS, det.ComponentScores.Speed, det.ComponentScores.Straightline,
		det.ComponentScores.Duplicate, det.ComponentScores.Timing,
		det.TotalScore, string(det.Severity), string(details), det.EvaluatedAt,
	)
	return err
}

// GetDetection retrieves a detection result by ID.
func (r *SQLRepository) GetDetection(ctx context.Context, id string) (*domain.FraudDetectionResult, error) {
	query := detectionSelect + ` WHERE id = ?`
	det, err := scanDetection(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return det, err
}

// GetDetectionBySubmission retrieves the most recent detection for a submission.
func (r *SQLRepository) GetDetectionBySubmission(ctx context.Context, submissionID string) (*domain.FraudDetectionResult, error) {
	query := detectionSelect + ` WHERE submission_id = ? ORDER BY evaluated_at DESC LIMIT 1`
	det, err := scanDetection(r.db.QueryRowContext(ctx, r.rebind(query), submissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return det, err
}

const detectionSelect = `
	SELECT id, submission_id, enumerator_id, config_version,
		   gps_score, speed_score, straightline_score, duplicate_score, timing_score,
		   total_score, severity, details, evaluated_at
	FROM fraud_detections
`

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*domain.Submission, error) {
	var sub domain.Submission
	var formID sql.NullString
	var lat, lon sql.NullFloat64
	var completion sql.NullInt64
	var rawData sql.NullString

	err := row.Scan(
		&sub.ID, &sub.EnumeratorID, &formID, &sub.SubmittedAt,
		&lat, &lon, &completion, &rawData, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.QuestionnaireFormID = formID.String
	if lat.Valid {
		sub.GPSLatitude = &lat.Float64
	}
	if lon.Valid {
		sub.GPSLongitude = &lon.Float64
	}
	if completion.Valid {
		v := int(completion.Int64)
		sub.CompletionTimeSeconds = &v
	}
	if rawData.Valid && rawData.String != "" && rawData.String != "null" {
		json.Unmarshal([]byte(rawData.String), &sub.RawData)
	}

	return &sub, nil
}

func collectSubmissions(rows *sql.Rows) ([]*domain.Submission, error) {
	var subs []*domain.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanThreshold(row rowScanner) (*domain.ThresholdConfig, error) {
	var t domain.ThresholdConfig
	var category string
	var weight sql.NullFloat64
	var severityFloor sql.NullString
	var active int
	var until sql.NullTime
	var notes sql.NullString

	err := row.Scan(
		&t.ID, &t.RuleKey, &t.DisplayName, &category, &t.Value,
		&weight, &severityFloor, &active, &t.EffectiveFrom,
		&until, &t.Version, &t.CreatedBy, &t.CreatedAt, &notes,
	)
	if err != nil {
		return nil, err
	}

	t.Category = domain.Category(category)
	if weight.Valid {
		t.Weight = &weight.Float64
	}
	if severityFloor.Valid {
		t.SeverityFloor = &severityFloor.String
	}
	t.IsActive = active == 1
	if until.Valid {
		t.EffectiveUntil = &until.Time
	}
	t.Notes = notes.String

	return &t, nil
}

func scanDetection(row rowScanner) (*domain.FraudDetectionResult, error) {
	var det domain.FraudDetectionResult
	var severity string
	var details string

	err := row.Scan(
		&det.ID, &det.SubmissionID, &det.EnumeratorID, &det.ConfigVersion,
		&det.ComponentScores.GPS, &det.ComponentScores.Speed, &det.ComponentScores.Straightline,
		&det.ComponentScores.Duplicate, &det.ComponentScores.Timing,
		&det.TotalScore, &severity, &details, &det.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}

	det.Severity = domain.Severity(severity)
	json.Unmarshal([]byte(details), &det.Details)

	return &det, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
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

	// Configure connection pool
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

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateBatch stores the batch and its record set in one transaction and
// returns the batch with its id set. The sequence number is assigned by the
// database, so concurrent creates never collide.
func (r *SQLRepository) CreateBatch(ctx context.Context, batch *domain.Batch, records []domain.CustomerRecord) (*domain.Batch, error) {
	if batch == nil || len(records) == 0 {
		return nil, fmt.Errorf("%w: batch and records are required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insertBatch := `
		INSERT INTO batches (
			name, upload_date, total_records, status, current_step
		) VALUES (?, ?, ?, ?, ?)
		RETURNING seq
	`
	var seq int64
	if err := tx.QueryRowContext(ctx, r.rebind(insertBatch),
		batch.Name, batch.UploadDate,
		batch.TotalRecords, batch.Status, batch.CurrentStep,
	).Scan(&seq); err != nil {
		return nil, err
	}

	batch.Seq = seq
	batch.ID = domain.FormatBatchID(seq)

	if _, err := tx.ExecContext(ctx, r.rebind(`UPDATE batches SET id = ? WHERE seq = ?`), batch.ID, seq); err != nil {
		return nil, err
	}

	insertRecord := r.rebind(`
		INSERT INTO records (batch_id, seq, customer_id, data) VALUES (?, ?, ?, ?)
	`)
	for i := range records {
		data, err := json.Marshal(&records[i])
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, insertRecord, batch.ID, i, records[i].CustomerID, string(data)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return batch, nil
}

// GetBatch retrieves a batch by id.
func (r *SQLRepository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	query := `
		SELECT id, seq, name, upload_date, total_records, status, current_step,
			   fraud_summary, intel_summary, search_summary
		FROM batches
		WHERE id = ?
	`

	batch, err := scanBatch(r.db.QueryRowContext(ctx, r.rebind(query), batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	return batch, err
}

// ListBatches retrieves all batches, newest first.
func (r *SQLRepository) ListBatches(ctx context.Context) ([]*domain.Batch, error) {
	query := `
		SELECT id, seq, name, upload_date, total_records, status, current_step,
			   fraud_summary, intel_summary, search_summary
		FROM batches
		ORDER BY seq DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}

	return batches, rows.Err()
}

// GetRecords retrieves a batch's records in upload order.
func (r *SQLRepository) GetRecords(ctx context.Context, batchID string) ([]domain.CustomerRecord, error) {
	query := `SELECT data FROM records WHERE batch_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.CustomerRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec domain.CustomerRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CompleteStage updates the batch transition and replaces the assessment
// list in one transaction.
func (r *SQLRepository) CompleteStage(ctx context.Context, batch *domain.Batch, assessments []*domain.CustomerAssessment) error {
	if batch == nil {
		return fmt.Errorf("%w: batch is required", ErrInvalidInput)
	}

	fraudSummary := marshalJSON(batch.Results.FraudDetection)
	intelSummary := marshalJSON(batch.Results.MarketIntel)
	searchSummary := marshalJSON(batch.Results.CustomerSearch)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	update := `
		UPDATE batches
		SET status = ?, current_step = ?,
			fraud_summary = ?, intel_summary = ?, search_summary = ?
		WHERE id = ?
	`
	result, err := tx.ExecContext(ctx, r.rebind(update),
		batch.Status, batch.CurrentStep,
		fraudSummary, intelSummary, searchSummary,
		batch.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrBatchNotFound
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM assessments WHERE batch_id = ?`), batch.ID); err != nil {
		return err
	}

	insert := r.rebind(`
		INSERT INTO assessments (batch_id, seq, customer_id, fraud, geo, similarity)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for i, a := range assessments {
		if _, err := tx.ExecContext(ctx, insert,
			batch.ID, i, a.CustomerID,
			marshalJSON(a.Fraud), marshalJSON(a.Geo), marshalJSON(a.Similarity),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetAssessments retrieves a batch's assessments in upload order.
func (r *SQLRepository) GetAssessments(ctx context.Context, batchID string) ([]*domain.CustomerAssessment, error) {
	query := `
		SELECT customer_id, fraud, geo, similarity
		FROM assessments
		WHERE batch_id = ?
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.CustomerAssessment
	for rows.Next() {
		var a domain.CustomerAssessment
		var fraud, geo, similarity sql.NullString

		if err := rows.Scan(&a.CustomerID, &fraud, &geo, &similarity); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(fraud, &a.Fraud); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(geo, &a.Geo); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(similarity, &a.Similarity); err != nil {
			return nil, err
		}

		assessments = append(assessments, &a)
	}

	return assessments, rows.Err()
}

// SaveScoringConfig upserts a scoring expression. Saving an enabled
// config disables all others, so at most one is active.
func (r *SQLRepository) SaveScoringConfig(ctx context.Context, cfg *domain.ScoringConfig) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("%w: config id is required", ErrInvalidInput)
	}

	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if cfg.Enabled {
		if _, err := tx.ExecContext(ctx, r.rebind(`UPDATE scoring_configs SET enabled = 0 WHERE id != ?`), cfg.ID); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO scoring_configs (
			id, name, description, version, expression, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		cfg.ID, cfg.Name, cfg.Description, cfg.Version,
		cfg.Expression, enabled, cfg.CreatedAt, cfg.UpdatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetScoringConfig retrieves a scoring expression by id.
func (r *SQLRepository) GetScoringConfig(ctx context.Context, id string) (*domain.ScoringConfig, error) {
	query := `
		SELECT id, name, description, version, expression, enabled, created_at, updated_at
		FROM scoring_configs
		WHERE id = ?
	`

	var cfg domain.ScoringConfig
	var description, version sql.NullString
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&cfg.ID, &cfg.Name, &description, &version,
		&cfg.Expression, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Version = version.String
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListScoringConfigs retrieves all scoring expressions, most recently
// updated first.
func (r *SQLRepository) ListScoringConfigs(ctx context.Context) ([]*domain.ScoringConfig, error) {
	query := `
		SELECT id, name, description, version, expression, enabled, created_at, updated_at
		FROM scoring_configs
		ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ScoringConfig
	for rows.Next() {
		var cfg domain.ScoringConfig
		var description, version sql.NullString
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &description, &version,
			&cfg.Expression, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Description = description.String
		cfg.Version = version.String
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

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

	// Convert ? to $1, $2, etc.
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

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*domain.Batch, error) {
	var b domain.Batch
	var fraudSummary, intelSummary, searchSummary sql.NullString

	if err := row.Scan(
		&b.ID, &b.Seq, &b.Name, &b.UploadDate,
		&b.TotalRecords, &b.Status, &b.CurrentStep,
		&fraudSummary, &intelSummary, &searchSummary,
	); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(fraudSummary, &b.Results.FraudDetection); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(intelSummary, &b.Results.MarketIntel); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(searchSummary, &b.Results.CustomerSearch); err != nil {
		return nil, err
	}

	return &b, nil
}

// marshalJSON renders v for a nullable TEXT column; nil pointers map to NULL.
func marshalJSON[T any](v *T) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func unmarshalJSON[T any](col sql.NullString, dst **T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return fmt.Errorf("failed to parse stored JSON: %w", err)
	}
	*dst = &v
	return nil
}

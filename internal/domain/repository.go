// Package domain defines the core interfaces and types for FraudGuard.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for batch persistence. The workflow
// holds a Repository handle; there is no ambient global batch list.
type Repository interface {
	// Batch operations. CreateBatch assigns the next sequence number and
	// the formatted batch id, and stores the record set with it.
	CreateBatch(ctx context.Context, batch *Batch, records []CustomerRecord) (*Batch, error)
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListBatches(ctx context.Context) ([]*Batch, error)

	// GetRecords returns a batch's records in upload order.
	GetRecords(ctx context.Context, batchID string) ([]CustomerRecord, error)

	// CompleteStage writes the batch transition and the full assessment
	// list in one transaction. Either everything commits or nothing does.
	CompleteStage(ctx context.Context, batch *Batch, assessments []*CustomerAssessment) error

	// GetAssessments returns a batch's assessments in upload order.
	GetAssessments(ctx context.Context, batchID string) ([]*CustomerAssessment, error)

	// Scoring expression configuration
	SaveScoringConfig(ctx context.Context, cfg *ScoringConfig) error
	GetScoringConfig(ctx context.Context, id string) (*ScoringConfig, error)
	ListScoringConfigs(ctx context.Context) ([]*ScoringConfig, error)

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

package domain

import (
	"time"
)

// ScoringConfig is a persisted stage-1 scoring expression.
type ScoringConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over record features, evaluating to a value in [0,1]
	Expression string `json:"expression"`

	// Whether this is the active expression
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

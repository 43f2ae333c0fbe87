// Package stats provides cross-batch dashboard aggregates.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// DashboardCacheKey is the cache entry holding the memoized dashboard.
// Writers that change batch state delete it so the next read recomputes.
const DashboardCacheKey = "dashboard"

// Dashboard summarizes the state of all batches for the overview page.
type Dashboard struct {
	TotalBatches     int `json:"totalBatches"`
	PendingBatches   int `json:"pendingBatches"`
	ActiveBatches    int `json:"activeBatches"`
	CompletedBatches int `json:"completedBatches"`

	TotalRecords     int `json:"totalRecords"`
	RecordsProcessed int `json:"recordsProcessed"`
	FraudDetected    int `json:"fraudDetected"`

	// AvgAccuracy averages stage-1 accuracy over batches that ran it.
	AvgAccuracy float64 `json:"avgAccuracy"`
}

// Service computes dashboard aggregates from the repository, memoized
// in the cache between requests.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a new stats service. cache may be nil; aggregates
// are then recomputed on every call.
func NewService(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// Dashboard returns aggregates over all batches.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, DashboardCacheKey); err == nil && data != nil {
			var d Dashboard
			if err := json.Unmarshal(data, &d); err == nil {
				return &d, nil
			}
		}
	}

	batches, err := s.repo.ListBatches(ctx)
	if err != nil {
		return nil, err
	}

	d := compute(batches)

	if s.cache != nil {
		if data, err := json.Marshal(d); err == nil {
			if err := s.cache.Set(ctx, DashboardCacheKey, data, s.ttl); err != nil {
				slog.Debug("failed to cache dashboard", "error", err)
			}
		}
	}

	return d, nil
}

func compute(batches []*domain.Batch) *Dashboard {
	d := &Dashboard{
		TotalBatches: len(batches),
	}

	var accuracySum float64
	var accuracyCount int

	for _, b := range batches {
		switch b.Status {
		case domain.BatchPending:
			d.PendingBatches++
		case domain.BatchProcessing:
			d.ActiveBatches++
		case domain.BatchCompleted:
			d.CompletedBatches++
		}

		d.TotalRecords += b.TotalRecords

		if fd := b.Results.FraudDetection; fd != nil {
			d.RecordsProcessed += fd.Processed
			d.FraudDetected += fd.FraudDetected
			accuracySum += fd.Accuracy
			accuracyCount++
		}
	}

	if accuracyCount > 0 {
		d.AvgAccuracy = accuracySum / float64(accuracyCount)
	}

	return d
}

// Package workflow implements the batch state machine: batch creation,
// strictly sequential stage unlocking, and at-most-once stage execution.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/intel"
	"github.com/fraudguard-io/fraudguard/internal/scoring"
	"github.com/fraudguard-io/fraudguard/internal/similarity"
	"github.com/fraudguard-io/fraudguard/internal/stats"
)

// Service owns the batch lifecycle. All state lives in the Repository;
// the service only holds per-batch run locks.
type Service struct {
	repo     domain.Repository
	detector *scoring.Detector
	intel    *intel.Engine
	searcher *similarity.Searcher
	bus      domain.EventBus
	cache    domain.Cache
	opts     domain.IntelOptions

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a workflow service. bus and cache may be nil in tests;
// events and memoization are then skipped.
func New(repo domain.Repository, detector *scoring.Detector, intelEngine *intel.Engine, searcher *similarity.Searcher, bus domain.EventBus, cache domain.Cache, opts domain.IntelOptions) *Service {
	return &Service{
		repo:     repo,
		detector: detector,
		intel:    intelEngine,
		searcher: searcher,
		bus:      bus,
		cache:    cache,
		opts:     opts,
		locks:    make(map[string]*sync.Mutex),
	}
}

// CreateBatch validates the record set and stores a new pending batch.
// Validation failures are reported per row so the caller can fix and
// resubmit only the offending rows.
func (s *Service) CreateBatch(ctx context.Context, name string, records []domain.CustomerRecord) (*domain.Batch, error) {
	if len(records) == 0 {
		return nil, domain.NewValidationError("record set is empty")
	}

	var rowErrs []domain.RowError
	seen := make(map[string]int, len(records))
	for i := range records {
		for _, reason := range records[i].Validate() {
			rowErrs = append(rowErrs, domain.RowError{Row: i, Reason: reason})
		}
		if id := records[i].CustomerID; id != "" {
			if first, dup := seen[id]; dup {
				rowErrs = append(rowErrs, domain.RowError{
					Row:    i,
					Field:  "customerId",
					Reason: fmt.Sprintf("duplicate of row %d", first),
				})
			} else {
				seen[id] = i
			}
		}
	}
	if len(rowErrs) > 0 {
		return nil, &domain.ValidationError{Rows: rowErrs}
	}

	if name == "" {
		name = "Untitled batch"
	}

	batch := &domain.Batch{
		Name:         name,
		UploadDate:   time.Now().UTC(),
		TotalRecords: len(records),
		Status:       domain.BatchPending,
		CurrentStep:  domain.StageFraudDetection,
	}

	batch, err := s.repo.CreateBatch(ctx, batch, records)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	s.publish(ctx, domain.TopicBatchCreated, &domain.StageEvent{BatchID: batch.ID})
	s.invalidateDashboard(ctx)

	slog.Info("batch created",
		"batch_id", batch.ID,
		"name", batch.Name,
		"records", batch.TotalRecords,
	)

	return batch, nil
}

// GetBatch returns a batch by id.
func (s *Service) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// ListBatches returns all batches, newest first.
func (s *Service) ListBatches(ctx context.Context) ([]*domain.Batch, error) {
	return s.repo.ListBatches(ctx)
}

// Assessments returns a batch's per-record assessments in upload order.
func (s *Service) Assessments(ctx context.Context, batchID string) ([]*domain.CustomerAssessment, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.GetAssessments(ctx, batchID)
}

// Records returns a batch's record set in upload order.
func (s *Service) Records(ctx context.Context, batchID string) ([]domain.CustomerRecord, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.GetRecords(ctx, batchID)
}

// RunStage executes one pipeline stage. Preconditions: the batch exists
// and stage is the current unlocked step. Re-running a completed stage is
// a no-op returning the unchanged batch. Concurrent duplicate calls for
// the same batch serialize on a per-batch lock, so the stage computes at
// most once.
func (s *Service) RunStage(ctx context.Context, batchID string, stage int) (*domain.Batch, error) {
	if stage < domain.StageFraudDetection || stage > domain.StageCustomerSearch {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown stage %d", stage))
	}

	lock := s.lockFor(batchID)
	lock.Lock()
	defer lock.Unlock()

	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	if batch.StageComplete(stage) {
		return batch, nil
	}
	if stage != batch.CurrentStep {
		return nil, fmt.Errorf("%w: stage %d requested, step %d unlocked",
			domain.ErrStageLocked, stage, batch.CurrentStep)
	}

	start := time.Now()

	records, err := s.repo.GetRecords(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	assessments, err := s.repo.GetAssessments(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assessments: %w", err)
	}

	assessments, err = s.execute(ctx, stage, records, assessments, batch)
	if err != nil {
		// The batch is untouched; the caller may retry.
		return nil, fmt.Errorf("%w: %v", domain.ErrStageFailed, err)
	}

	if stage < domain.StageCustomerSearch {
		batch.CurrentStep = stage + 1
		batch.Status = domain.BatchProcessing
	} else {
		batch.Status = domain.BatchCompleted
	}

	if err := s.repo.CompleteStage(ctx, batch, assessments); err != nil {
		return nil, fmt.Errorf("failed to commit stage %d: %w", stage, err)
	}

	s.afterStage(ctx, batch, stage)

	slog.Info("stage completed",
		"batch_id", batch.ID,
		"stage", stage,
		"status", batch.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return batch, nil
}

// execute runs the stage engine and merges its output into the
// per-record assessment list. The batch summary field is set on batch
// but nothing is persisted here.
func (s *Service) execute(ctx context.Context, stage int, records []domain.CustomerRecord, assessments []*domain.CustomerAssessment, batch *domain.Batch) ([]*domain.CustomerAssessment, error) {
	switch stage {
	case domain.StageFraudDetection:
		risks, summary, err := s.detector.Run(ctx, records)
		if err != nil {
			return nil, err
		}
		assessments = make([]*domain.CustomerAssessment, len(records))
		for i := range records {
			assessments[i] = &domain.CustomerAssessment{
				CustomerID: records[i].CustomerID,
				Fraud:      risks[i],
			}
		}
		batch.Results.FraudDetection = summary

	case domain.StageMarketIntelligence:
		if len(assessments) != len(records) {
			return nil, fmt.Errorf("stage 1 assessments missing")
		}
		cityProfiles := s.intel.Aggregate(records, domain.GroupByCity)
		pincodeProfiles := s.intel.Aggregate(records, domain.GroupByPincode)
		geos := s.intel.Enrich(records, pincodeProfiles)
		for i := range assessments {
			assessments[i].Geo = geos[i]
		}
		batch.Results.MarketIntel = intel.Summarize(len(records), cityProfiles)

	case domain.StageCustomerSearch:
		risks := make([]*domain.RiskAssessment, len(assessments))
		geos := make([]*domain.GeoAssessment, len(assessments))
		for i, a := range assessments {
			risks[i] = a.Fraud
			geos[i] = a.Geo
			if risks[i] == nil || geos[i] == nil {
				return nil, fmt.Errorf("earlier stage assessments missing for %s", a.CustomerID)
			}
		}
		sims, summary, err := s.searcher.Run(records, risks, geos)
		if err != nil {
			return nil, err
		}
		for i := range assessments {
			assessments[i].Similarity = sims[i]
		}
		batch.Results.CustomerSearch = summary
	}

	return assessments, nil
}

// afterStage emits lifecycle events and bookkeeping; all best-effort.
func (s *Service) afterStage(ctx context.Context, batch *domain.Batch, stage int) {
	event := &domain.StageEvent{BatchID: batch.ID, Stage: stage}
	s.publish(ctx, domain.TopicStageCompleted, event)

	if batch.Status == domain.BatchCompleted {
		s.publish(ctx, domain.TopicBatchCompleted, event)
	}

	if stage == domain.StageMarketIntelligence &&
		batch.Results.MarketIntel != nil && batch.Results.MarketIntel.HighRiskAreas > 0 {
		s.publish(ctx, domain.TopicAlert, event)
	}

	if s.cache != nil {
		if _, err := s.cache.IncrementCounter(ctx, "stage_runs", time.Hour); err != nil {
			slog.Debug("stage counter unavailable", "error", err)
		}
		// Stage output changes the live views; drop stale entries.
		for _, key := range []domain.GroupKey{domain.GroupByCity, domain.GroupByPincode} {
			if err := s.cache.Delete(ctx, groupCacheKey(batch.ID, key)); err != nil {
				slog.Debug("failed to invalidate group cache", "error", err)
			}
		}
	}
	s.invalidateDashboard(ctx)
}

// invalidateDashboard drops the memoized cross-batch dashboard so the
// next stats read reflects the change.
func (s *Service) invalidateDashboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, stats.DashboardCacheKey); err != nil {
		slog.Debug("failed to invalidate dashboard cache", "error", err)
	}
}

// RequestStage publishes an async stage run request for the worker.
func (s *Service) RequestStage(ctx context.Context, batchID string, stage int) error {
	if s.bus == nil {
		return fmt.Errorf("event bus not configured")
	}
	payload, err := json.Marshal(&domain.StageEvent{BatchID: batchID, Stage: stage})
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, domain.TopicStageRequested, payload)
}

// GroupProfiles serves the live aggregation views over a batch's
// records, memoized in the cache between stage runs.
func (s *Service) GroupProfiles(ctx context.Context, batchID string, key domain.GroupKey) ([]domain.GroupRiskProfile, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}

	cacheKey := groupCacheKey(batchID, key)
	if s.cache != nil {
		if profiles, err := s.cache.GetGroupProfiles(ctx, cacheKey); err == nil && profiles != nil {
			return profiles, nil
		}
	}

	records, err := s.repo.GetRecords(ctx, batchID)
	if err != nil {
		return nil, err
	}
	profiles := s.intel.Aggregate(records, key)

	if s.cache != nil {
		ttl := time.Duration(s.opts.CacheTTLSeconds) * time.Second
		if err := s.cache.SetGroupProfiles(ctx, cacheKey, profiles, ttl); err != nil {
			slog.Debug("failed to cache group profiles", "error", err)
		}
	}

	return profiles, nil
}

// HighRiskView applies the configured threshold policy for the grouping
// key: fraud-rate for city dashboards, composite score for pincode
// heatmaps, capped at the configured top-N.
func (s *Service) HighRiskView(ctx context.Context, batchID string, key domain.GroupKey) ([]domain.GroupRiskProfile, error) {
	profiles, err := s.GroupProfiles(ctx, batchID, key)
	if err != nil {
		return nil, err
	}

	var policy intel.ThresholdPolicy
	if key == domain.GroupByPincode {
		policy = intel.ByRiskScore(s.opts.PincodeRiskScoreThreshold)
	} else {
		policy = intel.ByFraudRate(s.opts.CityFraudRateThreshold)
	}

	return intel.Top(intel.HighRisk(profiles, policy), s.opts.TopGroups), nil
}

func (s *Service) lockFor(batchID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[batchID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[batchID] = lock
	}
	return lock
}

func (s *Service) publish(ctx context.Context, topic string, event *domain.StageEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}

func groupCacheKey(batchID string, key domain.GroupKey) string {
	return fmt.Sprintf("groups:%s:%s", batchID, key)
}

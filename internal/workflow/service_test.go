package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/cache"
	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/intel"
	"github.com/fraudguard-io/fraudguard/internal/repository"
	"github.com/fraudguard-io/fraudguard/internal/scoring"
	"github.com/fraudguard-io/fraudguard/internal/similarity"
	"github.com/fraudguard-io/fraudguard/internal/stats"
)

func tempRepo(t *testing.T) domain.Repository {
	t.Helper()

	f, err := os.CreateTemp("", "workflow-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: f.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newService(t *testing.T, scorer scoring.Scorer) *Service {
	t.Helper()

	if scorer == nil {
		scorer = scoring.ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
			return r.FinancialRiskScore, nil
		})
	}

	opts := domain.DefaultConfig().Intel
	return New(
		tempRepo(t),
		scoring.NewDetector(scorer, 4),
		intel.NewEngine(opts),
		similarity.NewSearcher(similarity.NewCosineMatcher(0.85)),
		nil,
		cache.NewLRUCache(100),
		opts,
	)
}

func testRecords() []domain.CustomerRecord {
	return []domain.CustomerRecord{
		{
			CustomerID:  "CUST-001",
			City:        "Mumbai",
			Pincode:     "400001",
			CreditScore: 720,

			DocumentQualityScore:       0.8,
			DocumentConsistencyScore:   0.7,
			BiometricVerificationScore: 0.9,
			IdentityMatchScore:         0.85,
			FinancialRiskScore:         0.2,
			DigitalConsistencyScore:    0.75,
			DigitalFootprintScore:      0.6,
			IncomeAlignmentScore:       0.7,
			DigitalReputationScore:     0.65,
			IdentityMismatchScore:      0.1,
		},
		{
			CustomerID:  "CUST-002",
			City:        "Mumbai",
			Pincode:     "400001",
			CreditScore: 480,
			IsFraud:     1,

			DocumentQualityScore:       0.2,
			DocumentConsistencyScore:   0.3,
			BiometricVerificationScore: 0.4,
			IdentityMatchScore:         0.3,
			FinancialRiskScore:         0.9,
			DigitalConsistencyScore:    0.2,
			DigitalFootprintScore:      0.3,
			IncomeAlignmentScore:       0.25,
			DigitalReputationScore:     0.3,
			IdentityMismatchScore:      0.8,
		},
		{
			CustomerID:  "CUST-003",
			City:        "Delhi",
			Pincode:     "110001",
			CreditScore: 660,

			DocumentQualityScore:       0.6,
			DocumentConsistencyScore:   0.55,
			BiometricVerificationScore: 0.7,
			IdentityMatchScore:         0.65,
			FinancialRiskScore:         0.45,
			DigitalConsistencyScore:    0.5,
			DigitalFootprintScore:      0.55,
			IncomeAlignmentScore:       0.6,
			DigitalReputationScore:     0.5,
			IdentityMismatchScore:      0.35,
		},
	}
}

func TestCreateBatch(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)

	t.Run("EmptyRecordSet", func(t *testing.T) {
		_, err := svc.CreateBatch(ctx, "empty", nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("InvalidRows", func(t *testing.T) {
		records := testRecords()
		records[1].CreditScore = 200
		records[2].DocumentQualityScore = 1.5

		_, err := svc.CreateBatch(ctx, "bad rows", records)

		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if len(verr.Rows) != 2 {
			t.Fatalf("expected 2 row errors, got %d: %v", len(verr.Rows), verr.Rows)
		}
		if verr.Rows[0].Row != 1 {
			t.Errorf("expected first error on row 1, got %d", verr.Rows[0].Row)
		}
	})

	t.Run("DuplicateCustomerIDs", func(t *testing.T) {
		records := testRecords()
		records[2].CustomerID = "CUST-001"

		_, err := svc.CreateBatch(ctx, "dupes", records)

		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if verr.Rows[0].Field != "customerId" {
			t.Errorf("expected customerId field error, got %+v", verr.Rows[0])
		}
	})

	t.Run("Success", func(t *testing.T) {
		batch, err := svc.CreateBatch(ctx, "march upload", testRecords())
		if err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}

		if batch.ID != "BATCH-001" {
			t.Errorf("expected BATCH-001, got %s", batch.ID)
		}
		if batch.Status != domain.BatchPending {
			t.Errorf("expected status pending, got %s", batch.Status)
		}
		if batch.CurrentStep != domain.StageFraudDetection {
			t.Errorf("expected step 1, got %d", batch.CurrentStep)
		}
		if batch.TotalRecords != 3 {
			t.Errorf("expected 3 records, got %d", batch.TotalRecords)
		}
	})

	t.Run("DefaultName", func(t *testing.T) {
		batch, err := svc.CreateBatch(ctx, "", testRecords())
		if err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}
		if batch.Name != "Untitled batch" {
			t.Errorf("expected default name, got %q", batch.Name)
		}
	})
}

func TestRunStageGating(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)

	batch, err := svc.CreateBatch(ctx, "gated", testRecords())
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	t.Run("UnknownBatch", func(t *testing.T) {
		_, err := svc.RunStage(ctx, "BATCH-999", domain.StageFraudDetection)
		if !errors.Is(err, domain.ErrBatchNotFound) {
			t.Fatalf("expected batch not found, got %v", err)
		}
	})

	t.Run("UnknownStage", func(t *testing.T) {
		_, err := svc.RunStage(ctx, batch.ID, 4)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		_, err = svc.RunStage(ctx, batch.ID, 0)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("LockedStage", func(t *testing.T) {
		_, err := svc.RunStage(ctx, batch.ID, domain.StageMarketIntelligence)
		if !errors.Is(err, domain.ErrStageLocked) {
			t.Fatalf("expected stage locked, got %v", err)
		}
		_, err = svc.RunStage(ctx, batch.ID, domain.StageCustomerSearch)
		if !errors.Is(err, domain.ErrStageLocked) {
			t.Fatalf("expected stage locked, got %v", err)
		}
	})
}

func TestRunStageProgression(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)

	batch, err := svc.CreateBatch(ctx, "progression", testRecords())
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	t.Run("FraudDetection", func(t *testing.T) {
		got, err := svc.RunStage(ctx, batch.ID, domain.StageFraudDetection)
		if err != nil {
			t.Fatalf("RunStage failed: %v", err)
		}

		if got.CurrentStep != domain.StageMarketIntelligence {
			t.Errorf("expected step 2 unlocked, got %d", got.CurrentStep)
		}
		if got.Status != domain.BatchProcessing {
			t.Errorf("expected status processing, got %s", got.Status)
		}

		summary := got.Results.FraudDetection
		if summary == nil {
			t.Fatal("expected fraud detection summary")
		}
		if summary.Processed != 3 {
			t.Errorf("expected 3 processed, got %d", summary.Processed)
		}
		// Scorer returns FinancialRiskScore: 0.9 is HIGH and matches
		// the fraud label; the other two predict non-fraud correctly.
		if summary.FraudDetected != 1 {
			t.Errorf("expected 1 fraud detected, got %d", summary.FraudDetected)
		}
		if summary.Accuracy != 100.0 {
			t.Errorf("expected accuracy 100, got %v", summary.Accuracy)
		}

		assessments, err := svc.Assessments(ctx, batch.ID)
		if err != nil {
			t.Fatalf("Assessments failed: %v", err)
		}
		if len(assessments) != 3 {
			t.Fatalf("expected 3 assessments, got %d", len(assessments))
		}
		if assessments[0].CustomerID != "CUST-001" {
			t.Errorf("expected input order preserved, got %s first", assessments[0].CustomerID)
		}
		if assessments[1].Fraud.RiskCategory != domain.RiskCritical {
			t.Errorf("expected CRITICAL for p=0.9, got %s", assessments[1].Fraud.RiskCategory)
		}
		if assessments[0].Geo != nil || assessments[0].Similarity != nil {
			t.Error("expected later stage fields nil after stage 1")
		}
	})

	t.Run("MarketIntelligence", func(t *testing.T) {
		got, err := svc.RunStage(ctx, batch.ID, domain.StageMarketIntelligence)
		if err != nil {
			t.Fatalf("RunStage failed: %v", err)
		}

		if got.CurrentStep != domain.StageCustomerSearch {
			t.Errorf("expected step 3 unlocked, got %d", got.CurrentStep)
		}

		summary := got.Results.MarketIntel
		if summary == nil {
			t.Fatal("expected market intel summary")
		}
		if summary.Analyzed != 3 {
			t.Errorf("expected 3 analyzed, got %d", summary.Analyzed)
		}

		assessments, _ := svc.Assessments(ctx, batch.ID)
		for i, a := range assessments {
			if a.Geo == nil {
				t.Fatalf("expected geo assessment for record %d", i)
			}
			if a.Geo.PriorityScore < 1 || a.Geo.PriorityScore > 5 {
				t.Errorf("priority score out of range: %d", a.Geo.PriorityScore)
			}
			if a.Fraud == nil {
				t.Errorf("stage 1 output lost for record %d", i)
			}
		}
	})

	t.Run("CustomerSearch", func(t *testing.T) {
		got, err := svc.RunStage(ctx, batch.ID, domain.StageCustomerSearch)
		if err != nil {
			t.Fatalf("RunStage failed: %v", err)
		}

		if got.Status != domain.BatchCompleted {
			t.Errorf("expected status completed, got %s", got.Status)
		}

		summary := got.Results.CustomerSearch
		if summary == nil {
			t.Fatal("expected customer search summary")
		}
		if summary.Processed != 3 {
			t.Errorf("expected 3 processed, got %d", summary.Processed)
		}

		assessments, _ := svc.Assessments(ctx, batch.ID)
		for i, a := range assessments {
			if a.Similarity == nil {
				t.Fatalf("expected similarity assessment for record %d", i)
			}
			if a.Similarity.FinalRiskScore < 0 || a.Similarity.FinalRiskScore > 1 {
				t.Errorf("final risk score out of range: %v", a.Similarity.FinalRiskScore)
			}
			if a.Similarity.Recommendation == "" {
				t.Errorf("expected recommendation for record %d", i)
			}
		}
	})

	t.Run("RerunIsNoop", func(t *testing.T) {
		before, _ := svc.GetBatch(ctx, batch.ID)

		got, err := svc.RunStage(ctx, batch.ID, domain.StageFraudDetection)
		if err != nil {
			t.Fatalf("re-run failed: %v", err)
		}

		if got.Status != before.Status || got.CurrentStep != before.CurrentStep {
			t.Errorf("re-run changed batch state: %+v vs %+v", got, before)
		}
		if *got.Results.FraudDetection != *before.Results.FraudDetection {
			t.Error("re-run changed stage-1 summary")
		}
	})
}

func TestRunStageFailure(t *testing.T) {
	ctx := context.Background()

	boom := scoring.ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
		return 0, fmt.Errorf("model unavailable")
	})
	svc := newService(t, boom)

	batch, err := svc.CreateBatch(ctx, "failing", testRecords())
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	_, err = svc.RunStage(ctx, batch.ID, domain.StageFraudDetection)
	if !errors.Is(err, domain.ErrStageFailed) {
		t.Fatalf("expected stage failed, got %v", err)
	}

	// The batch must be untouched so the caller can retry.
	got, err := svc.GetBatch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got.Status != domain.BatchPending {
		t.Errorf("expected status pending after failure, got %s", got.Status)
	}
	if got.CurrentStep != domain.StageFraudDetection {
		t.Errorf("expected step 1 after failure, got %d", got.CurrentStep)
	}
	if got.Results.FraudDetection != nil {
		t.Error("expected no stage-1 summary after failure")
	}
}

func TestRunStageAtMostOnce(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32
	counting := scoring.ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
		calls.Add(1)
		return r.FinancialRiskScore, nil
	})
	svc := newService(t, counting)

	batch, err := svc.CreateBatch(ctx, "concurrent", testRecords())
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.RunStage(ctx, batch.ID, domain.StageFraudDetection)
			if err != nil {
				t.Errorf("RunStage failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// 3 records scored exactly once despite 8 concurrent requests.
	if calls.Load() != 3 {
		t.Errorf("expected 3 scorer calls, got %d", calls.Load())
	}
}

func TestGroupViews(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, nil)

	batch, err := svc.CreateBatch(ctx, "groups", testRecords())
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	t.Run("GroupProfiles", func(t *testing.T) {
		profiles, err := svc.GroupProfiles(ctx, batch.ID, domain.GroupByCity)
		if err != nil {
			t.Fatalf("GroupProfiles failed: %v", err)
		}
		if len(profiles) != 2 {
			t.Fatalf("expected 2 city groups, got %d", len(profiles))
		}

		// Mumbai has the fraud record; it must outrank Delhi.
		if profiles[0].Key != "Mumbai" {
			t.Errorf("expected Mumbai ranked first, got %s", profiles[0].Key)
		}

		// Second call is served from cache and must match.
		cached, err := svc.GroupProfiles(ctx, batch.ID, domain.GroupByCity)
		if err != nil {
			t.Fatalf("cached GroupProfiles failed: %v", err)
		}
		if len(cached) != len(profiles) || cached[0].RiskScore != profiles[0].RiskScore {
			t.Error("cached profiles differ from computed profiles")
		}
	})

	t.Run("UnknownBatch", func(t *testing.T) {
		_, err := svc.GroupProfiles(ctx, "BATCH-999", domain.GroupByCity)
		if !errors.Is(err, domain.ErrBatchNotFound) {
			t.Fatalf("expected batch not found, got %v", err)
		}
	})

	t.Run("HighRiskView", func(t *testing.T) {
		view, err := svc.HighRiskView(ctx, batch.ID, domain.GroupByCity)
		if err != nil {
			t.Fatalf("HighRiskView failed: %v", err)
		}

		// Mumbai's fraud rate is 0.5 > 0.15 threshold; Delhi has none.
		if len(view) != 1 || view[0].Key != "Mumbai" {
			t.Errorf("expected only Mumbai in the high-risk view, got %v", view)
		}
	})
}

func TestDashboardReflectsLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := tempRepo(t)

	c := cache.NewLRUCache(100)
	defer c.Close()

	opts := domain.DefaultConfig().Intel
	scorer := scoring.ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
		return r.FinancialRiskScore, nil
	})
	svc := New(
		repo,
		scoring.NewDetector(scorer, 4),
		intel.NewEngine(opts),
		similarity.NewSearcher(similarity.NewCosineMatcher(0.85)),
		nil,
		c,
		opts,
	)
	statsSvc := stats.NewService(repo, c, time.Minute)

	// Warm the dashboard cache before anything exists.
	empty, err := statsSvc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if empty.TotalBatches != 0 {
		t.Fatalf("expected empty dashboard, got %d batches", empty.TotalBatches)
	}

	batch, err := svc.CreateBatch(ctx, "dashboard", testRecords())
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	t.Run("AfterCreate", func(t *testing.T) {
		d, err := statsSvc.Dashboard(ctx)
		if err != nil {
			t.Fatalf("Dashboard failed: %v", err)
		}
		if d.TotalBatches != 1 || d.PendingBatches != 1 {
			t.Errorf("expected 1 pending batch, got %+v", d)
		}
	})

	if _, err := svc.RunStage(ctx, batch.ID, domain.StageFraudDetection); err != nil {
		t.Fatalf("RunStage failed: %v", err)
	}

	t.Run("AfterStageRun", func(t *testing.T) {
		d, err := statsSvc.Dashboard(ctx)
		if err != nil {
			t.Fatalf("Dashboard failed: %v", err)
		}
		if d.PendingBatches != 0 || d.ActiveBatches != 1 {
			t.Errorf("expected 1 active batch, got %+v", d)
		}
		if d.RecordsProcessed != 3 {
			t.Errorf("expected 3 records processed, got %d", d.RecordsProcessed)
		}
	})
}

func TestAssessmentsUnknownBatch(t *testing.T) {
	svc := newService(t, nil)

	_, err := svc.Assessments(context.Background(), "BATCH-404")
	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected batch not found, got %v", err)
	}

	_, err = svc.Records(context.Background(), "BATCH-404")
	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected batch not found, got %v", err)
	}
}

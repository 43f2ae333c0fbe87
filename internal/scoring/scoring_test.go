package scoring

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

func fixedScorer(p float64) Scorer {
	return ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
		return p, nil
	})
}

func sampleRecord(id string) domain.CustomerRecord {
	return domain.CustomerRecord{
		CustomerID:              id,
		City:                    "Mumbai",
		Pincode:                 "400001",
		CreditScore:             700,
		DocumentQualityScore:    0.8,
		FinancialRiskScore:      0.2,
		DigitalConsistencyScore: 0.9,
		IdentityMatchScore:      0.9,
	}
}

func TestRiskCategoryBoundaries(t *testing.T) {
	cases := []struct {
		p    float64
		want domain.RiskCategory
	}{
		{0.0, domain.RiskMinimal},
		{0.19, domain.RiskMinimal},
		{0.2, domain.RiskLow},
		{0.39, domain.RiskLow},
		{0.4, domain.RiskMedium},
		{0.59, domain.RiskMedium},
		{0.6, domain.RiskHigh},
		{0.79, domain.RiskHigh},
		{0.8, domain.RiskCritical},
		{1.0, domain.RiskCritical},
	}

	for _, c := range cases {
		t.Run(fmt.Sprintf("p=%.2f", c.p), func(t *testing.T) {
			if got := domain.RiskCategoryFor(c.p); got != c.want {
				t.Errorf("expected %s for p=%.2f, got %s", c.want, c.p, got)
			}
		})
	}
}

func TestDetectorFlags(t *testing.T) {
	d := NewDetector(fixedScorer(0.5), 4)

	rec := sampleRecord("cust-001")
	rec.DocumentQualityScore = 0.2
	rec.FinancialRiskScore = 0.8
	rec.DigitalConsistencyScore = 0.25

	assessments, _, err := d.Run(context.Background(), []domain.CustomerRecord{rec})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	a := assessments[0]
	if !a.DocumentQualityFlag {
		t.Error("expected document quality flag for score 0.2")
	}
	if !a.FinancialRiskFlag {
		t.Error("expected financial risk flag for score 0.8")
	}
	if !a.DigitalInconsistencyFlag {
		t.Error("expected digital inconsistency flag for score 0.25")
	}

	// Exact thresholds do not trip the flags
	rec.DocumentQualityScore = 0.3
	rec.FinancialRiskScore = 0.7
	rec.DigitalConsistencyScore = 0.3

	assessments, _, _ = d.Run(context.Background(), []domain.CustomerRecord{rec})
	a = assessments[0]
	if a.DocumentQualityFlag || a.FinancialRiskFlag || a.DigitalInconsistencyFlag {
		t.Error("threshold-exact values should not set flags")
	}
}

func TestDetectorOrderPreserved(t *testing.T) {
	// Score by record index so output order is observable
	scorer := ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
		var idx int
		fmt.Sscanf(r.CustomerID, "cust-%d", &idx)
		return float64(idx) / 100.0, nil
	})

	d := NewDetector(scorer, 3)

	records := make([]domain.CustomerRecord, 20)
	for i := range records {
		records[i] = sampleRecord(fmt.Sprintf("cust-%d", i))
	}

	assessments, summary, err := d.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.Processed != 20 {
		t.Errorf("expected 20 processed, got %d", summary.Processed)
	}
	for i, a := range assessments {
		want := Round3(float64(i) / 100.0)
		if a.FraudProbability != want {
			t.Errorf("record %d: expected probability %.3f, got %.3f", i, want, a.FraudProbability)
		}
	}
}

func TestDetectorScorerError(t *testing.T) {
	scorer := ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
		if r.CustomerID == "cust-002" {
			return 0, fmt.Errorf("model unavailable")
		}
		return 0.1, nil
	})

	d := NewDetector(scorer, 2)

	records := []domain.CustomerRecord{
		sampleRecord("cust-001"),
		sampleRecord("cust-002"),
		sampleRecord("cust-003"),
	}

	assessments, summary, err := d.Run(context.Background(), records)
	if err == nil {
		t.Fatal("expected error from failing scorer")
	}
	if assessments != nil || summary != nil {
		t.Error("expected no partial output on scorer failure")
	}
}

func TestDetectorSummary(t *testing.T) {
	// Probability tracks the label, so predictions are all correct
	scorer := ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
		if r.IsFraud == 1 {
			return 0.9, nil
		}
		return 0.1, nil
	})

	d := NewDetector(scorer, 4)

	records := []domain.CustomerRecord{
		sampleRecord("cust-001"),
		sampleRecord("cust-002"),
		sampleRecord("cust-003"),
		sampleRecord("cust-004"),
	}
	records[0].IsFraud = 1
	records[3].IsFraud = 1

	_, summary, err := d.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.FraudDetected != 2 {
		t.Errorf("expected 2 fraud detected, got %d", summary.FraudDetected)
	}
	if summary.Accuracy != 100.0 {
		t.Errorf("expected accuracy 100.0, got %.1f", summary.Accuracy)
	}
}

func TestDetectorSingleScorePerRecord(t *testing.T) {
	var calls int32
	scorer := ScorerFunc(func(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 0.5, nil
	})

	d := NewDetector(scorer, 4)

	records := make([]domain.CustomerRecord, 10)
	for i := range records {
		records[i] = sampleRecord(fmt.Sprintf("cust-%03d", i))
	}

	if _, _, err := d.Run(context.Background(), records); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 10 {
		t.Errorf("expected 10 scorer calls, got %d", got)
	}
}

func TestEngineDefaultExpression(t *testing.T) {
	engine, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	rec := sampleRecord("cust-001")
	p1, err := engine.Score(context.Background(), &rec)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if p1 < 0 || p1 > 1 {
		t.Errorf("probability %.4f outside [0,1]", p1)
	}

	p2, _ := engine.Score(context.Background(), &rec)
	if p1 != p2 {
		t.Errorf("expected deterministic score, got %.6f then %.6f", p1, p2)
	}
}

func TestEngineInvalidExpression(t *testing.T) {
	engine, _ := NewEngine(nil)

	if err := engine.Validate("this is not valid CEL !!!"); err == nil {
		t.Error("expected error for invalid CEL expression")
	}

	// A failed reload keeps the previous program
	err := engine.Reload(&domain.ScoringConfig{ID: "bad", Expression: "nonsense("})
	if err == nil {
		t.Fatal("expected reload to fail")
	}

	rec := sampleRecord("cust-001")
	if _, err := engine.Score(context.Background(), &rec); err != nil {
		t.Errorf("engine unusable after failed reload: %v", err)
	}
}

func TestEngineReload(t *testing.T) {
	engine, _ := NewEngine(nil)

	cfg := &domain.ScoringConfig{
		ID:         "flat",
		Name:       "Flat score",
		Expression: "0.75",
		Enabled:    true,
	}
	if err := engine.Reload(cfg); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	rec := sampleRecord("cust-001")
	p, err := engine.Score(context.Background(), &rec)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if p != 0.75 {
		t.Errorf("expected 0.75, got %.4f", p)
	}

	if engine.Current().ID != "flat" {
		t.Errorf("expected active config 'flat', got '%s'", engine.Current().ID)
	}
}

func TestEngineClampsOutOfRange(t *testing.T) {
	engine, _ := NewEngine(&domain.ScoringConfig{ID: "high", Expression: "2.5"})

	rec := sampleRecord("cust-001")
	p, _ := engine.Score(context.Background(), &rec)
	if p != 1.0 {
		t.Errorf("expected clamp to 1.0, got %.4f", p)
	}

	engine.Reload(&domain.ScoringConfig{ID: "low", Expression: "-0.5"})
	p, _ = engine.Score(context.Background(), &rec)
	if p != 0.0 {
		t.Errorf("expected clamp to 0.0, got %.4f", p)
	}
}

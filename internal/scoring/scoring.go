// Package scoring implements the first pipeline stage: per-record fraud
// probability scoring, tier classification, and threshold flags.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// Scorer produces a fraud probability in [0,1] for one record.
// The thresholding pipeline around it is fixed; the score function is the
// pluggable part, so a real model can be substituted without touching the
// workflow or the aggregation engine.
type Scorer interface {
	Score(ctx context.Context, r *domain.CustomerRecord) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(ctx context.Context, r *domain.CustomerRecord) (float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, r *domain.CustomerRecord) (float64, error) {
	return f(ctx, r)
}

// Flag thresholds applied to every assessed record.
const (
	documentQualityFloor  = 0.3
	financialRiskCeiling  = 0.7
	digitalConsistencyMin = 0.3
)

// Detector runs the stage-1 pipeline over a batch's record set.
type Detector struct {
	scorer     Scorer
	maxWorkers int
}

// NewDetector creates a stage-1 detector around the supplied scorer.
func NewDetector(scorer Scorer, maxWorkers int) *Detector {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Detector{scorer: scorer, maxWorkers: maxWorkers}
}

// Run scores every record and returns one assessment per input record, in
// input order, plus the batch summary. Any scorer error aborts the whole
// run; no partial output is returned.
func (d *Detector) Run(ctx context.Context, records []domain.CustomerRecord) ([]*domain.RiskAssessment, *domain.FraudDetectionSummary, error) {
	assessments := make([]*domain.RiskAssessment, len(records))
	errs := make([]error, len(records))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxWorkers)

	for i := range records {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			assessments[idx], errs[idx] = d.assess(ctx, &records[idx])
		}(i)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("record %s: %w", records[i].CustomerID, err)
		}
	}

	summary := summarize(records, assessments)
	return assessments, summary, nil
}

func (d *Detector) assess(ctx context.Context, r *domain.CustomerRecord) (*domain.RiskAssessment, error) {
	p, err := d.scorer.Score(ctx, r)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(p) {
		return nil, fmt.Errorf("scorer returned NaN")
	}

	p = Round3(clamp01(p))

	return &domain.RiskAssessment{
		FraudProbability:         p,
		RiskCategory:             domain.RiskCategoryFor(p),
		DocumentQualityFlag:      r.DocumentQualityScore < documentQualityFloor,
		FinancialRiskFlag:        r.FinancialRiskScore > financialRiskCeiling,
		DigitalInconsistencyFlag: r.DigitalConsistencyScore < digitalConsistencyMin,
	}, nil
}

// summarize computes the batch summary. Accuracy compares the predicted
// fraud set (HIGH or CRITICAL) against the ground-truth labels; it is
// reported back to the caller, never fed into scoring.
func summarize(records []domain.CustomerRecord, assessments []*domain.RiskAssessment) *domain.FraudDetectionSummary {
	var flagged, correct int
	for i, a := range assessments {
		predicted := a.RiskCategory == domain.RiskHigh || a.RiskCategory == domain.RiskCritical
		if predicted {
			flagged++
		}
		if predicted == (records[i].IsFraud == 1) {
			correct++
		}
	}

	accuracy := 0.0
	if len(records) > 0 {
		accuracy = math.Round(float64(correct)/float64(len(records))*1000) / 10
	}

	return &domain.FraudDetectionSummary{
		Processed:     len(records),
		FraudDetected: flagged,
		Accuracy:      accuracy,
	}
}

// Round3 rounds to 3-decimal precision, the reporting precision for all
// probability fields.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

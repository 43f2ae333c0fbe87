// Package similarity implements the third pipeline stage: similar-customer
// matching and the final risk decision.
package similarity

import (
	"fmt"
	"math"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// Match is one similar customer found for a record.
type Match struct {
	CustomerID string  `json:"customerId"`
	Score      float64 `json:"score"`
	IsFraud    bool    `json:"isFraud"`
}

// Matcher finds similar customers for a record within its batch
// population. self is the record's own index in the population and is
// excluded from matching. Injected so a real vector store can replace
// the built-in matcher.
type Matcher interface {
	Matches(self int, population []domain.CustomerRecord) []Match
}

// CosineMatcher matches records by cosine similarity over the
// normalized feature vector.
type CosineMatcher struct {
	threshold float64
}

// NewCosineMatcher creates a matcher with the given minimum similarity.
func NewCosineMatcher(threshold float64) *CosineMatcher {
	if threshold <= 0 {
		threshold = 0.85
	}
	return &CosineMatcher{threshold: threshold}
}

// Matches implements Matcher.
func (m *CosineMatcher) Matches(self int, population []domain.CustomerRecord) []Match {
	base := featureVector(&population[self])

	var out []Match
	for i := range population {
		if i == self {
			continue
		}
		score := cosine(base, featureVector(&population[i]))
		if score >= m.threshold {
			out = append(out, Match{
				CustomerID: population[i].CustomerID,
				Score:      math.Round(score*1000) / 1000,
				IsFraud:    population[i].IsFraud == 1,
			})
		}
	}
	return out
}

// featureVector projects a record onto the comparison space: the ten
// normalized feature scores plus scaled credit and debt figures.
func featureVector(r *domain.CustomerRecord) []float64 {
	dti := r.DebtToIncomeRatio
	if dti > 1 {
		dti = 1
	}
	return []float64{
		r.DocumentQualityScore,
		r.DocumentConsistencyScore,
		r.BiometricVerificationScore,
		r.IdentityMatchScore,
		r.FinancialRiskScore,
		r.DigitalConsistencyScore,
		r.DigitalFootprintScore,
		r.IncomeAlignmentScore,
		r.DigitalReputationScore,
		r.IdentityMismatchScore,
		(float64(r.CreditScore) - 300) / 550,
		dti,
	}
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Searcher runs the stage-3 pipeline over a batch.
type Searcher struct {
	matcher Matcher
}

// NewSearcher creates a stage-3 searcher around the supplied matcher.
func NewSearcher(matcher Matcher) *Searcher {
	return &Searcher{matcher: matcher}
}

// Run combines each record's fraud probability, geographic risk, and
// similarity risk into the final decision. Assessment slices must align
// with the record slice; output preserves input order.
func (s *Searcher) Run(records []domain.CustomerRecord, risks []*domain.RiskAssessment, geos []*domain.GeoAssessment) ([]*domain.SimilarityAssessment, *domain.CustomerSearchSummary, error) {
	if len(risks) != len(records) || len(geos) != len(records) {
		return nil, nil, fmt.Errorf("assessment count mismatch: %d records, %d risk, %d geo",
			len(records), len(risks), len(geos))
	}

	out := make([]*domain.SimilarityAssessment, len(records))
	var withMatches int
	var similaritySum float64

	for i := range records {
		matches := s.matcher.Matches(i, records)

		var fraudMatches int
		var scoreSum float64
		for _, m := range matches {
			if m.IsFraud {
				fraudMatches++
			}
			scoreSum += m.Score
		}

		// Unmatched records contribute zero similarity risk rather
		// than an undefined ratio.
		riskFromSimilarity := 0.0
		similarityScore := 0.0
		if len(matches) > 0 {
			riskFromSimilarity = float64(fraudMatches) / float64(len(matches))
			similarityScore = scoreSum / float64(len(matches))
			withMatches++
		}

		final := (risks[i].FraudProbability + geos[i].GeographicRisk + riskFromSimilarity) / 3

		out[i] = &domain.SimilarityAssessment{
			SimilarityScore:    round3(similarityScore),
			MatchedCount:       len(matches),
			FraudMatchCount:    fraudMatches,
			RiskFromSimilarity: round3(riskFromSimilarity),
			FinalRiskScore:     round3(final),
			Recommendation:     recommend(riskFromSimilarity),
		}
		similaritySum += out[i].SimilarityScore
	}

	avgSimilarity := 0.0
	if len(records) > 0 {
		avgSimilarity = round3(similaritySum / float64(len(records)))
	}

	summary := &domain.CustomerSearchSummary{
		Processed:         len(records),
		SimilarityMatches: withMatches,
		AvgSimilarity:     avgSimilarity,
	}
	return out, summary, nil
}

func recommend(riskFromSimilarity float64) string {
	switch {
	case riskFromSimilarity > 0.5:
		return domain.RecommendReject
	case riskFromSimilarity > 0.3:
		return domain.RecommendManualReview
	default:
		return domain.RecommendApprove
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

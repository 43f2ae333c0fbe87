package domain

// RiskCategory is the per-record risk tier derived from fraud probability.
// Distinct from GroupRiskLevel: the two scales use different cut points.
type RiskCategory string

const (
	RiskMinimal  RiskCategory = "MINIMAL"
	RiskLow      RiskCategory = "LOW"
	RiskMedium   RiskCategory = "MEDIUM"
	RiskHigh     RiskCategory = "HIGH"
	RiskCritical RiskCategory = "CRITICAL"
)

// RiskCategoryFor maps a fraud probability to its tier.
// Boundary values land on the upper tier (0.8 is CRITICAL, not HIGH).
func RiskCategoryFor(p float64) RiskCategory {
	switch {
	case p >= 0.8:
		return RiskCritical
	case p >= 0.6:
		return RiskHigh
	case p >= 0.4:
		return RiskMedium
	case p >= 0.2:
		return RiskLow
	default:
		return RiskMinimal
	}
}

// RiskAssessment is the stage-1 output for a single record.
// RiskCategory is always derived from FraudProbability, never set directly.
type RiskAssessment struct {
	FraudProbability         float64      `json:"fraudProbability"`
	RiskCategory             RiskCategory `json:"riskCategory"`
	DocumentQualityFlag      bool         `json:"documentQualityFlag"`
	FinancialRiskFlag        bool         `json:"financialRiskFlag"`
	DigitalInconsistencyFlag bool         `json:"digitalInconsistencyFlag"`
}

// Geographic recommendation values produced by stage 2.
const (
	GeoRecommendEnhancedVerification = "EnhancedVerification"
	GeoRecommendManualReview         = "ManualReview"
	GeoRecommendAdditionalChecks     = "AdditionalChecks"
	GeoRecommendStandardProcessing   = "StandardProcessing"
)

// PriorityScoreFor steps 5/4/3/2/1 at geographic risk thresholds
// 0.7/0.5/0.3/0.1, boundaries inclusive on the upper step.
func PriorityScoreFor(risk float64) int {
	switch {
	case risk >= 0.7:
		return 5
	case risk >= 0.5:
		return 4
	case risk >= 0.3:
		return 3
	case risk >= 0.1:
		return 2
	default:
		return 1
	}
}

// GeoRecommendationFor maps geographic risk to a handling recommendation.
func GeoRecommendationFor(risk float64) string {
	switch {
	case risk >= 0.7:
		return GeoRecommendEnhancedVerification
	case risk >= 0.5:
		return GeoRecommendManualReview
	case risk >= 0.3:
		return GeoRecommendAdditionalChecks
	default:
		return GeoRecommendStandardProcessing
	}
}

// GeoAssessment is the stage-2 output for a single record.
type GeoAssessment struct {
	GeographicRisk float64 `json:"geographicRisk"`
	IsKnownHotspot bool    `json:"isKnownHotspot"`
	PriorityScore  int     `json:"priorityScore"`
	Recommendation string  `json:"recommendation"`
}

// Final recommendation values produced by stage 3.
const (
	RecommendReject       = "Reject"
	RecommendManualReview = "ManualReview"
	RecommendApprove      = "Approve"
)

// SimilarityAssessment is the stage-3 output for a single record.
// RiskFromSimilarity is fraudMatchCount/matchedCount, 0 when nothing matched.
type SimilarityAssessment struct {
	SimilarityScore    float64 `json:"similarityScore"`
	MatchedCount       int     `json:"matchedCount"`
	FraudMatchCount    int     `json:"fraudMatchCount"`
	RiskFromSimilarity float64 `json:"riskFromSimilarity"`
	FinalRiskScore     float64 `json:"finalRiskScore"`
	Recommendation     string  `json:"recommendation"`
}

// CustomerAssessment collects the per-stage outputs for one record.
// Stage fields are nil until the corresponding stage has run.
type CustomerAssessment struct {
	CustomerID string                `json:"customerId"`
	Fraud      *RiskAssessment       `json:"fraud,omitempty"`
	Geo        *GeoAssessment        `json:"geo,omitempty"`
	Similarity *SimilarityAssessment `json:"similarity,omitempty"`
}

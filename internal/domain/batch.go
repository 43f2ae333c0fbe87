package domain

import (
	"fmt"
	"time"
)

// Batch statuses.
const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
)

// Pipeline stages, run strictly in order.
const (
	StageFraudDetection     = 1
	StageMarketIntelligence = 2
	StageCustomerSearch     = 3
)

// FraudDetectionSummary is the stage-1 batch result.
type FraudDetectionSummary struct {
	Processed     int     `json:"processed"`
	FraudDetected int     `json:"fraudDetected"`
	Accuracy      float64 `json:"accuracy"`
}

// MarketIntelSummary is the stage-2 batch result.
type MarketIntelSummary struct {
	Analyzed      int     `json:"analyzed"`
	HighRiskAreas int     `json:"highRiskAreas"`
	AvgRiskScore  float64 `json:"avgRiskScore"`
}

// CustomerSearchSummary is the stage-3 batch result.
type CustomerSearchSummary struct {
	Processed         int     `json:"processed"`
	SimilarityMatches int     `json:"similarityMatches"`
	AvgSimilarity     float64 `json:"avgSimilarity"`
}

// BatchResults holds the per-stage summaries. A field is nil until its
// stage has run; marketIntel can be non-nil only if fraudDetection is,
// and customerSearch only if marketIntel is.
type BatchResults struct {
	FraudDetection *FraudDetectionSummary `json:"fraudDetection"`
	MarketIntel    *MarketIntelSummary    `json:"marketIntel"`
	CustomerSearch *CustomerSearchSummary `json:"customerSearch"`
}

// Batch is one uploaded record set progressing through the pipeline.
type Batch struct {
	ID           string       `json:"id"`
	Seq          int64        `json:"-"`
	Name         string       `json:"name"`
	UploadDate   time.Time    `json:"uploadDate"`
	TotalRecords int          `json:"totalRecords"`
	Status       string       `json:"status"`
	CurrentStep  int          `json:"currentStep"`
	Results      BatchResults `json:"results"`
}

// FormatBatchID renders the external batch identifier for a sequence number.
func FormatBatchID(seq int64) string {
	return fmt.Sprintf("BATCH-%03d", seq)
}

// StageComplete reports whether a stage's result has been recorded.
func (b *Batch) StageComplete(stage int) bool {
	switch stage {
	case StageFraudDetection:
		return b.Results.FraudDetection != nil
	case StageMarketIntelligence:
		return b.Results.MarketIntel != nil
	case StageCustomerSearch:
		return b.Results.CustomerSearch != nil
	default:
		return false
	}
}

// CreateBatchRequest is the API payload for direct JSON batch creation.
type CreateBatchRequest struct {
	Name    string           `json:"name"`
	Records []CustomerRecord `json:"records"`
}

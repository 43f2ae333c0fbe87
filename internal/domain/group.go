package domain

// GroupKey selects the partition dimension for aggregation.
type GroupKey string

const (
	GroupByCity    GroupKey = "city"
	GroupByPincode GroupKey = "pincode"
)

// GroupRiskLevel is the per-group risk tier.
// Its cut points differ from the per-record RiskCategory scale on purpose;
// keep the two types separate.
type GroupRiskLevel string

const (
	GroupRiskLow      GroupRiskLevel = "LOW"
	GroupRiskMedium   GroupRiskLevel = "MEDIUM"
	GroupRiskHigh     GroupRiskLevel = "HIGH"
	GroupRiskCritical GroupRiskLevel = "CRITICAL"
)

// GroupRiskLevelFor maps a composite group risk score to its tier.
// Thresholds are strict: exactly 0.6 is HIGH, not CRITICAL.
func GroupRiskLevelFor(score float64) GroupRiskLevel {
	switch {
	case score > 0.6:
		return GroupRiskCritical
	case score > 0.4:
		return GroupRiskHigh
	case score > 0.2:
		return GroupRiskMedium
	default:
		return GroupRiskLow
	}
}

// GroupRiskProfile is the aggregation output for one city or pincode.
// Recomputed fully on every call; a pure function of the input records.
type GroupRiskProfile struct {
	Key                string         `json:"key"`
	TotalRecords       int            `json:"totalRecords"`
	FraudRecords       int            `json:"fraudRecords"`
	FraudRate          float64        `json:"fraudRate"`
	AvgCreditScore     float64        `json:"avgCreditScore"`
	AvgDocumentQuality float64        `json:"avgDocumentQuality"`
	AvgFinancialRisk   float64        `json:"avgFinancialRisk"`
	RiskScore          float64        `json:"riskScore"`
	RiskLevel          GroupRiskLevel `json:"riskLevel"`
}

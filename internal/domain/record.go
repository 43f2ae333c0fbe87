package domain

import (
	"fmt"
)

// CustomerRecord is one applicant row in an uploaded batch.
// Records are created by ingestion, validated once, and never mutated
// afterwards; the pipeline only annotates them with derived assessments.
type CustomerRecord struct {
	// Core identifiers
	CustomerID string `json:"customerId"`
	Name       string `json:"name,omitempty"`
	City       string `json:"city"`
	Pincode    string `json:"pincode"`

	// Financial profile
	CreditScore          int     `json:"creditScore"`
	MonthlyIncome        float64 `json:"monthlyIncome,omitempty"`
	BankingHistoryMonths int     `json:"bankingHistoryMonths"`
	DebtToIncomeRatio    float64 `json:"debtToIncomeRatio"`

	// Normalized feature scores, all in [0,1]
	DocumentQualityScore       float64 `json:"documentQualityScore"`
	DocumentConsistencyScore   float64 `json:"documentConsistencyScore"`
	BiometricVerificationScore float64 `json:"biometricVerificationScore"`
	IdentityMatchScore         float64 `json:"identityMatchScore"`
	FinancialRiskScore         float64 `json:"financialRiskScore"`
	DigitalConsistencyScore    float64 `json:"digitalConsistencyScore"`
	DigitalFootprintScore      float64 `json:"digitalFootprintScore"`
	IncomeAlignmentScore       float64 `json:"incomeAlignmentScore"`
	DigitalReputationScore     float64 `json:"digitalReputationScore"`
	IdentityMismatchScore      float64 `json:"identityMismatchScore"`

	// Categorical verification outcomes
	AddressVerification    string `json:"addressVerificationResult"`
	IncomeVerification     string `json:"incomeVerificationResult"`
	EmploymentVerification string `json:"employmentVerificationResult"`

	// Ground-truth label, display and validation only.
	// Never an input to scoring.
	IsFraud int `json:"isFraud"`
}

// Allowed verification outcome values.
const (
	OutcomeVerified      = "Verified"
	OutcomeNotVerified   = "Not Verified"
	OutcomePartial       = "Partial"
	OutcomePass          = "Pass"
	OutcomeFail          = "Fail"
	OutcomeInvalid       = "Invalid"
	OutcomeNotApplicable = "Not Applicable"
)

var validOutcomes = map[string]bool{
	OutcomeVerified:      true,
	OutcomeNotVerified:   true,
	OutcomePartial:       true,
	OutcomePass:          true,
	OutcomeFail:          true,
	OutcomeInvalid:       true,
	OutcomeNotApplicable: true,
}

// ValidOutcome reports whether s is an accepted verification outcome.
// The empty string is accepted as "not supplied".
func ValidOutcome(s string) bool {
	return s == "" || validOutcomes[s]
}

// Validate checks field invariants and returns one reason per violation.
// An empty slice means the record is well formed.
func (r *CustomerRecord) Validate() []string {
	var reasons []string

	if r.CustomerID == "" {
		reasons = append(reasons, "customerId is required")
	}
	if r.CreditScore < 300 || r.CreditScore > 850 {
		reasons = append(reasons, fmt.Sprintf("creditScore %d outside [300,850]", r.CreditScore))
	}
	if r.BankingHistoryMonths < 0 {
		reasons = append(reasons, "bankingHistoryMonths must be >= 0")
	}
	if r.DebtToIncomeRatio < 0 {
		reasons = append(reasons, "debtToIncomeRatio must be >= 0")
	}
	if r.IsFraud != 0 && r.IsFraud != 1 {
		reasons = append(reasons, fmt.Sprintf("isFraud must be 0 or 1, got %d", r.IsFraud))
	}

	scores := []struct {
		name  string
		value float64
	}{
		{"documentQualityScore", r.DocumentQualityScore},
		{"documentConsistencyScore", r.DocumentConsistencyScore},
		{"biometricVerificationScore", r.BiometricVerificationScore},
		{"identityMatchScore", r.IdentityMatchScore},
		{"financialRiskScore", r.FinancialRiskScore},
		{"digitalConsistencyScore", r.DigitalConsistencyScore},
		{"digitalFootprintScore", r.DigitalFootprintScore},
		{"incomeAlignmentScore", r.IncomeAlignmentScore},
		{"digitalReputationScore", r.DigitalReputationScore},
		{"identityMismatchScore", r.IdentityMismatchScore},
	}
	for _, s := range scores {
		if s.value < 0 || s.value > 1 {
			reasons = append(reasons, fmt.Sprintf("%s %.3f outside [0,1]", s.name, s.value))
		}
	}

	for _, v := range []struct {
		name  string
		value string
	}{
		{"addressVerificationResult", r.AddressVerification},
		{"incomeVerificationResult", r.IncomeVerification},
		{"employmentVerificationResult", r.EmploymentVerification},
	} {
		if !ValidOutcome(v.value) {
			reasons = append(reasons, fmt.Sprintf("%s has unknown value %q", v.name, v.value))
		}
	}

	return reasons
}

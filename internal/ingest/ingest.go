// Package ingest parses uploaded customer datasets and exports
// assessment views as delimited text.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// Column headers accepted in uploaded CSV files. Matching is
// case-insensitive; unknown columns are ignored.
const (
	colCustomerID           = "customer_id"
	colName                 = "name"
	colCity                 = "city"
	colPincode              = "pincode"
	colCreditScore          = "credit_score"
	colMonthlyIncome        = "monthly_income"
	colBankingHistoryMonths = "banking_history_months"
	colDebtToIncomeRatio    = "debt_to_income_ratio"
	colIsFraud              = "is_fraud"

	colDocumentQuality       = "document_quality_score"
	colDocumentConsistency   = "document_consistency_score"
	colBiometricVerification = "biometric_verification_score"
	colIdentityMatch         = "identity_match_score"
	colFinancialRisk         = "financial_risk_score"
	colDigitalConsistency    = "digital_consistency_score"
	colDigitalFootprint      = "digital_footprint_score"
	colIncomeAlignment       = "income_alignment_score"
	colDigitalReputation     = "digital_reputation_score"
	colIdentityMismatch      = "identity_mismatch_score"

	colAddressVerification    = "address_verification_result"
	colIncomeVerification     = "income_verification_result"
	colEmploymentVerification = "employment_verification_result"
)

// fieldSetter writes one parsed cell into a record.
type fieldSetter func(r *domain.CustomerRecord, value string) error

var setters = map[string]fieldSetter{
	colCustomerID: func(r *domain.CustomerRecord, v string) error { r.CustomerID = v; return nil },
	colName:       func(r *domain.CustomerRecord, v string) error { r.Name = v; return nil },
	colCity:       func(r *domain.CustomerRecord, v string) error { r.City = v; return nil },
	colPincode:    func(r *domain.CustomerRecord, v string) error { r.Pincode = v; return nil },

	colCreditScore: intSetter(func(r *domain.CustomerRecord, v int) { r.CreditScore = v }),
	colBankingHistoryMonths: intSetter(func(r *domain.CustomerRecord, v int) {
		r.BankingHistoryMonths = v
	}),
	colIsFraud: intSetter(func(r *domain.CustomerRecord, v int) { r.IsFraud = v }),

	colMonthlyIncome: floatSetter(func(r *domain.CustomerRecord, v float64) { r.MonthlyIncome = v }),
	colDebtToIncomeRatio: floatSetter(func(r *domain.CustomerRecord, v float64) {
		r.DebtToIncomeRatio = v
	}),

	colDocumentQuality:       floatSetter(func(r *domain.CustomerRecord, v float64) { r.DocumentQualityScore = v }),
	colDocumentConsistency:   floatSetter(func(r *domain.CustomerRecord, v float64) { r.DocumentConsistencyScore = v }),
	colBiometricVerification: floatSetter(func(r *domain.CustomerRecord, v float64) { r.BiometricVerificationScore = v }),
	colIdentityMatch:         floatSetter(func(r *domain.CustomerRecord, v float64) { r.IdentityMatchScore = v }),
	colFinancialRisk:         floatSetter(func(r *domain.CustomerRecord, v float64) { r.FinancialRiskScore = v }),
	colDigitalConsistency:    floatSetter(func(r *domain.CustomerRecord, v float64) { r.DigitalConsistencyScore = v }),
	colDigitalFootprint:      floatSetter(func(r *domain.CustomerRecord, v float64) { r.DigitalFootprintScore = v }),
	colIncomeAlignment:       floatSetter(func(r *domain.CustomerRecord, v float64) { r.IncomeAlignmentScore = v }),
	colDigitalReputation:     floatSetter(func(r *domain.CustomerRecord, v float64) { r.DigitalReputationScore = v }),
	colIdentityMismatch:      floatSetter(func(r *domain.CustomerRecord, v float64) { r.IdentityMismatchScore = v }),

	colAddressVerification:    func(r *domain.CustomerRecord, v string) error { r.AddressVerification = v; return nil },
	colIncomeVerification:     func(r *domain.CustomerRecord, v string) error { r.IncomeVerification = v; return nil },
	colEmploymentVerification: func(r *domain.CustomerRecord, v string) error { r.EmploymentVerification = v; return nil },
}

func intSetter(set func(*domain.CustomerRecord, int)) fieldSetter {
	return func(r *domain.CustomerRecord, v string) error {
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		set(r, n)
		return nil
	}
}

func floatSetter(set func(*domain.CustomerRecord, float64)) fieldSetter {
	return func(r *domain.CustomerRecord, v string) error {
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", v)
		}
		set(r, f)
		return nil
	}
}

// ParseCSV reads a header-led customer dataset. Cell-level parse
// failures are collected per row into a single ValidationError rather
// than aborting at the first bad cell. Range validation of parsed
// values happens at batch creation, not here.
func ParseCSV(r io.Reader) ([]domain.CustomerRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, domain.NewValidationError("empty file")
	}
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("malformed header: %v", err))
	}

	cols := make([]fieldSetter, len(header))
	names := make([]string, len(header))
	sawCustomerID := false
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		names[i] = name
		cols[i] = setters[name]
		if name == colCustomerID {
			sawCustomerID = true
		}
	}
	if !sawCustomerID {
		return nil, domain.NewValidationError("missing required column customer_id")
	}

	var records []domain.CustomerRecord
	var rowErrs []domain.RowError

	for row := 0; ; row++ {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, domain.RowError{
				Row:    row,
				Reason: err.Error(),
			})
			continue
		}

		var rec domain.CustomerRecord
		for i, cell := range cells {
			if i >= len(cols) || cols[i] == nil {
				continue
			}
			if err := cols[i](&rec, cell); err != nil {
				rowErrs = append(rowErrs, domain.RowError{
					Row:    row,
					Field:  names[i],
					Reason: err.Error(),
				})
			}
		}
		records = append(records, rec)
	}

	if len(rowErrs) > 0 {
		return nil, &domain.ValidationError{Rows: rowErrs}
	}
	if len(records) == 0 {
		return nil, domain.NewValidationError("no data rows")
	}

	return records, nil
}

// exportHeader is the column order for assessment exports.
var exportHeader = []string{
	"customer_id", "city", "pincode",
	"fraud_probability", "risk_category",
	"geographic_risk", "priority_score", "geo_recommendation",
	"similarity_score", "matched_count", "final_risk_score", "recommendation",
}

// WriteAssessmentsCSV writes one row per assessment. Stage fields that
// have not run yet are left empty.
func WriteAssessmentsCSV(w io.Writer, records []domain.CustomerRecord, assessments []*domain.CustomerAssessment) error {
	if len(records) != len(assessments) {
		return fmt.Errorf("records and assessments length mismatch: %d vs %d", len(records), len(assessments))
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return err
	}

	for i, a := range assessments {
		row := []string{
			a.CustomerID,
			records[i].City,
			records[i].Pincode,
			"", "", "", "", "", "", "", "", "",
		}

		if f := a.Fraud; f != nil {
			row[3] = formatFloat(f.FraudProbability)
			row[4] = string(f.RiskCategory)
		}
		if g := a.Geo; g != nil {
			row[5] = formatFloat(g.GeographicRisk)
			row[6] = strconv.Itoa(g.PriorityScore)
			row[7] = g.Recommendation
		}
		if s := a.Similarity; s != nil {
			row[8] = formatFloat(s.SimilarityScore)
			row[9] = strconv.Itoa(s.MatchedCount)
			row[10] = formatFloat(s.FinalRiskScore)
			row[11] = s.Recommendation
		}

		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

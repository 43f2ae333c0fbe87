// Package intel implements the second pipeline stage: the market
// intelligence aggregation engine and per-record geographic enrichment.
// The engine is pure: recomputing from the same input is deterministic
// and side-effect-free, so it also backs the live dashboard views.
package intel

import (
	"math"
	"sort"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// Composite score weights, fixed design constants.
const (
	weightFraudRate     = 0.4
	weightCreditDeficit = 0.3
	weightFinancialRisk = 0.3

	maxCreditScore = 850.0
)

// Engine aggregates records into group risk profiles and enriches
// records with geographic risk.
type Engine struct {
	opts            domain.IntelOptions
	hotspotCities   map[string]bool
	hotspotPincodes map[string]bool
}

// NewEngine creates an aggregation engine with the given options.
func NewEngine(opts domain.IntelOptions) *Engine {
	e := &Engine{
		opts:            opts,
		hotspotCities:   make(map[string]bool, len(opts.HotspotCities)),
		hotspotPincodes: make(map[string]bool, len(opts.HotspotPincodes)),
	}
	for _, c := range opts.HotspotCities {
		e.hotspotCities[c] = true
	}
	for _, p := range opts.HotspotPincodes {
		e.hotspotPincodes[p] = true
	}
	return e
}

// Aggregate partitions records by the chosen key and computes one
// GroupRiskProfile per distinct key, ranked by risk score descending.
// Ties rank by key ascending so repeated runs order identically.
func (e *Engine) Aggregate(records []domain.CustomerRecord, key domain.GroupKey) []domain.GroupRiskProfile {
	groups := make(map[string][]int)
	order := make([]string, 0)

	for i := range records {
		k := groupKeyOf(&records[i], key)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	profiles := make([]domain.GroupRiskProfile, 0, len(order))
	for _, k := range order {
		profiles = append(profiles, e.profile(k, records, groups[k]))
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].RiskScore != profiles[j].RiskScore {
			return profiles[i].RiskScore > profiles[j].RiskScore
		}
		return profiles[i].Key < profiles[j].Key
	})

	return profiles
}

func (e *Engine) profile(key string, records []domain.CustomerRecord, idx []int) domain.GroupRiskProfile {
	n := len(idx)
	p := domain.GroupRiskProfile{Key: key, TotalRecords: n}
	if n == 0 {
		// Cannot occur by construction; guard the division anyway.
		p.RiskLevel = domain.GroupRiskLow
		return p
	}

	var sumCredit, sumDocQuality, sumFinRisk float64
	for _, i := range idx {
		r := &records[i]
		p.FraudRecords += r.IsFraud
		sumCredit += float64(r.CreditScore)
		sumDocQuality += r.DocumentQualityScore
		sumFinRisk += r.FinancialRiskScore
	}

	fn := float64(n)
	p.FraudRate = float64(p.FraudRecords) / fn
	p.AvgCreditScore = sumCredit / fn
	p.AvgDocumentQuality = sumDocQuality / fn
	p.AvgFinancialRisk = sumFinRisk / fn

	p.RiskScore = weightFraudRate*p.FraudRate +
		weightCreditDeficit*(1-p.AvgCreditScore/maxCreditScore) +
		weightFinancialRisk*p.AvgFinancialRisk
	p.RiskLevel = domain.GroupRiskLevelFor(p.RiskScore)

	return p
}

// ThresholdPolicy selects groups for a high-risk view.
type ThresholdPolicy func(p *domain.GroupRiskProfile) bool

// ByFraudRate marks groups whose fraud rate exceeds min. Used by the
// city-level dashboards (default min 0.15).
func ByFraudRate(min float64) ThresholdPolicy {
	return func(p *domain.GroupRiskProfile) bool {
		return p.FraudRate > min
	}
}

// ByRiskScore marks groups whose composite score exceeds min. Used by
// the pincode heatmaps (default min 0.6).
func ByRiskScore(min float64) ThresholdPolicy {
	return func(p *domain.GroupRiskProfile) bool {
		return p.RiskScore > min
	}
}

// HighRisk filters a ranked profile list through a threshold policy,
// preserving rank order.
func HighRisk(profiles []domain.GroupRiskProfile, policy ThresholdPolicy) []domain.GroupRiskProfile {
	out := make([]domain.GroupRiskProfile, 0)
	for i := range profiles {
		if policy(&profiles[i]) {
			out = append(out, profiles[i])
		}
	}
	return out
}

// Top caps a ranked list at n entries. n <= 0 means unlimited.
func Top(profiles []domain.GroupRiskProfile, n int) []domain.GroupRiskProfile {
	if n <= 0 || len(profiles) <= n {
		return profiles
	}
	return profiles[:n]
}

// Summarize computes the stage-2 batch summary from the city profiles.
func Summarize(analyzed int, profiles []domain.GroupRiskProfile) *domain.MarketIntelSummary {
	var highRisk int
	var sum float64
	for i := range profiles {
		if profiles[i].RiskLevel == domain.GroupRiskHigh || profiles[i].RiskLevel == domain.GroupRiskCritical {
			highRisk++
		}
		sum += profiles[i].RiskScore
	}

	avg := 0.0
	if len(profiles) > 0 {
		avg = math.Round(sum/float64(len(profiles))*1000) / 1000
	}

	return &domain.MarketIntelSummary{
		Analyzed:      analyzed,
		HighRiskAreas: highRisk,
		AvgRiskScore:  avg,
	}
}

// Enrich produces one GeoAssessment per record, in input order. A
// record's geographic risk is its pincode group's composite score,
// lifted when the record sits in a configured hotspot.
func (e *Engine) Enrich(records []domain.CustomerRecord, pincodeProfiles []domain.GroupRiskProfile) []*domain.GeoAssessment {
	scoreByPincode := make(map[string]float64, len(pincodeProfiles))
	for i := range pincodeProfiles {
		scoreByPincode[pincodeProfiles[i].Key] = pincodeProfiles[i].RiskScore
	}

	out := make([]*domain.GeoAssessment, len(records))
	for i := range records {
		r := &records[i]
		hotspot := e.hotspotCities[r.City] || e.hotspotPincodes[r.Pincode]

		risk := scoreByPincode[r.Pincode]
		if hotspot {
			risk += e.opts.HotspotUplift
		}
		if risk > 1 {
			risk = 1
		}
		risk = math.Round(risk*1000) / 1000

		out[i] = &domain.GeoAssessment{
			GeographicRisk: risk,
			IsKnownHotspot: hotspot,
			PriorityScore:  domain.PriorityScoreFor(risk),
			Recommendation: domain.GeoRecommendationFor(risk),
		}
	}
	return out
}

func groupKeyOf(r *domain.CustomerRecord, key domain.GroupKey) string {
	if key == domain.GroupByPincode {
		return r.Pincode
	}
	return r.City
}

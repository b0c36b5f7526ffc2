package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/mbd888/fraudsight/internal/extract"
	"github.com/mbd888/fraudsight/internal/geo"
	"github.com/mbd888/fraudsight/internal/velocity"
)

// Weights holds the per-factor contributions.
type Weights struct {
	GeoMismatch  float64
	HighVelocity float64
	Suspicious   float64
	Rapid        float64
	Outlier      float64
	Proxy        float64
}

// DefaultWeights returns the standard factor weights.
func DefaultWeights() Weights {
	return Weights{
		GeoMismatch:  DefaultWeightGeoMismatch,
		HighVelocity: DefaultWeightHighVelocity,
		Suspicious:   DefaultWeightSuspicious,
		Rapid:        DefaultWeightRapid,
		Outlier:      DefaultWeightOutlier,
		Proxy:        DefaultWeightProxy,
	}
}

// Scorer turns a transaction plus its enrichment signals into a composite
// score and an ordered factor list. It carries configuration only; Score has
// no hidden state and is safe for concurrent use.
type Scorer struct {
	weights           Weights
	scoreCap          float64
	velocityHigh      int
	velocityCritical  int
	rapidSuccession   time.Duration
	anomalyThreshold  float64
	suspiciousAmounts map[int64]bool
	proxyKeywords     []string
}

// NewScorer creates a scorer with default weights and thresholds. Suspicious
// amounts are in minor units.
func NewScorer(suspiciousAmounts []int64) *Scorer {
	s := &Scorer{
		weights:           DefaultWeights(),
		scoreCap:          DefaultScoreCap,
		velocityHigh:      DefaultVelocityHigh,
		velocityCritical:  DefaultVelocityCritical,
		rapidSuccession:   DefaultRapidSuccession,
		anomalyThreshold:  DefaultAnomalyThreshold,
		suspiciousAmounts: make(map[int64]bool, len(suspiciousAmounts)),
	}
	for _, a := range suspiciousAmounts {
		s.suspiciousAmounts[a] = true
	}
	return s
}

// WithWeights overrides the factor weights.
func (s *Scorer) WithWeights(w Weights) *Scorer {
	s.weights = w
	return s
}

// WithScoreCap overrides the composite score cap.
func (s *Scorer) WithScoreCap(cap float64) *Scorer {
	s.scoreCap = cap
	return s
}

// WithVelocityThresholds overrides the high and critical window counts.
func (s *Scorer) WithVelocityThresholds(high, critical int) *Scorer {
	s.velocityHigh = high
	s.velocityCritical = critical
	return s
}

// WithRapidSuccession overrides the minimum safe inter-arrival gap.
func (s *Scorer) WithRapidSuccession(d time.Duration) *Scorer {
	s.rapidSuccession = d
	return s
}

// WithAnomalyThreshold overrides the outlier cutoff.
func (s *Scorer) WithAnomalyThreshold(t float64) *Scorer {
	s.anomalyThreshold = t
	return s
}

// WithProxyKeywords sets the org/ASN identifiers that mark datacenter or
// VPN egress.
func (s *Scorer) WithProxyKeywords(keywords []string) *Scorer {
	s.proxyKeywords = keywords
	return s
}

// Score evaluates the factors in their fixed order and returns the capped
// composite score with the triggered factors. Unknown inputs never trigger:
// a missing country is not a mismatch, a missing amount is not suspicious.
// anomalyScore is meaningful only when hasAnomaly is true.
func (s *Scorer) Score(tx *extract.Transaction, facts geo.Facts, vel velocity.Snapshot, anomalyScore float64, hasAnomaly bool) (float64, []Factor) {
	var factors []Factor

	// 1. Geographic mismatch. Billing-vs-IP and BIN-vs-IP are independent
	// signals and both contribute when both trigger.
	if facts.HasCountry() && tx.BillingCountry != "" && tx.BillingCountry != facts.Country {
		factors = append(factors, Factor{
			Kind:   FactorGeographicMismatch,
			Weight: s.weights.GeoMismatch,
			Detail: fmt.Sprintf("billing country %s but IP resolves to %s", tx.BillingCountry, facts.Country),
		})
	}
	if facts.HasCountry() && tx.BINCountry != "" && tx.BINCountry != facts.Country {
		factors = append(factors, Factor{
			Kind:   FactorGeographicMismatch,
			Weight: s.weights.GeoMismatch,
			Detail: fmt.Sprintf("card issued in %s but IP resolves to %s", tx.BINCountry, facts.Country),
		})
	}

	// 2. Velocity, strict > on both thresholds, cumulative. Snapshot.Count
	// covers only prior transactions, so compare the window total including
	// the one being scored. A zero snapshot (no user key) never triggers.
	if vel.Window > 0 {
		total := vel.Count + 1
		if total > s.velocityHigh {
			factors = append(factors, Factor{
				Kind:   FactorHighVelocity,
				Weight: s.weights.HighVelocity,
				Detail: fmt.Sprintf("%d transactions in %s exceeds %d", total, vel.Window, s.velocityHigh),
			})
		}
		if total > s.velocityCritical {
			factors = append(factors, Factor{
				Kind:   FactorCriticalVelocity,
				Weight: s.weights.HighVelocity,
				Detail: fmt.Sprintf("%d transactions in %s exceeds critical threshold %d", total, vel.Window, s.velocityCritical),
			})
		}
	}

	// 3. Known test/fraud amount.
	if tx.HasAmount && s.suspiciousAmounts[tx.Amount] {
		factors = append(factors, Factor{
			Kind:   FactorSuspiciousAmount,
			Weight: s.weights.Suspicious,
			Detail: fmt.Sprintf("amount %d matches a known suspicious amount", tx.Amount),
		})
	}

	// 4. Rapid succession.
	if vel.HasPrevious && vel.SincePrevious < s.rapidSuccession {
		factors = append(factors, Factor{
			Kind:   FactorRapidSuccession,
			Weight: s.weights.Rapid,
			Detail: fmt.Sprintf("only %s since previous transaction", vel.SincePrevious),
		})
	}

	// 5. Statistical outlier.
	if hasAnomaly && math.Abs(anomalyScore) > s.anomalyThreshold {
		factors = append(factors, Factor{
			Kind:   FactorStatisticalOutlier,
			Weight: s.weights.Outlier,
			Detail: fmt.Sprintf("anomaly score %.2f exceeds %.2f", anomalyScore, s.anomalyThreshold),
		})
	}

	// 6. Proxy/datacenter origin.
	if facts.IsProxy || facts.MatchesProxyIndicator(s.proxyKeywords) {
		detail := "IP flagged as anonymous proxy"
		if !facts.IsProxy {
			detail = fmt.Sprintf("IP owned by %s", facts.Organization)
		}
		factors = append(factors, Factor{
			Kind:   FactorProxyOrDatacenter,
			Weight: s.weights.Proxy,
			Detail: detail,
		})
	}

	score := 0.0
	for _, f := range factors {
		score += f.Weight
	}
	if score > s.scoreCap {
		score = s.scoreCap
	}
	return score, factors
}

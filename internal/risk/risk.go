// Package risk implements weighted-factor fraud scoring for payment
// transactions.
//
// Every transaction is evaluated against a fixed sequence of risk factors:
// geographic mismatch, transaction velocity, known suspicious amounts, rapid
// succession, statistical outliers, and proxy/datacenter origin. Triggered
// factors add their weights into a composite score, capped at a configured
// maximum, which a classifier maps to a risk level. Scoring is a pure
// function of its inputs; the same batch always yields the same assessments.
package risk

import (
	"context"
	"time"

	"github.com/mbd888/fraudsight/internal/geo"
	"github.com/mbd888/fraudsight/internal/pagination"
	"github.com/mbd888/fraudsight/internal/velocity"
)

// Level is the classified severity of an assessment.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// FactorKind identifies one of the fixed risk signals.
type FactorKind string

const (
	FactorGeographicMismatch FactorKind = "GEOGRAPHIC_MISMATCH"
	FactorHighVelocity       FactorKind = "HIGH_VELOCITY"
	FactorCriticalVelocity   FactorKind = "CRITICAL_VELOCITY"
	FactorSuspiciousAmount   FactorKind = "SUSPICIOUS_AMOUNT"
	FactorRapidSuccession    FactorKind = "RAPID_SUCCESSION"
	FactorStatisticalOutlier FactorKind = "STATISTICAL_OUTLIER"
	FactorProxyOrDatacenter  FactorKind = "PROXY_OR_DATACENTER"
)

// Default factor weights and thresholds.
const (
	DefaultWeightGeoMismatch  = 3.0
	DefaultWeightHighVelocity = 2.0
	DefaultWeightSuspicious   = 2.0
	DefaultWeightRapid        = 1.0
	DefaultWeightOutlier      = 1.5
	DefaultWeightProxy        = 2.5
	DefaultScoreCap           = 10.0
	DefaultVelocityHigh       = 5
	DefaultVelocityCritical   = 10
	DefaultRapidSuccession    = 5 * time.Minute
	DefaultAnomalyThreshold   = 3.0
)

// Factor is one triggered risk signal with its contribution and a
// human-readable explanation.
type Factor struct {
	Kind   FactorKind `json:"kind"`
	Weight float64    `json:"weight"`
	Detail string     `json:"detail"`
}

// Assessment is the scoring output for one transaction. Immutable once
// created; Factors preserves evaluation order.
type Assessment struct {
	ID             string            `json:"id"`
	TransactionID  string            `json:"transactionId"`
	UserKey        string            `json:"userKey"`
	CompositeScore float64           `json:"compositeScore"`
	RiskLevel      Level             `json:"riskLevel"`
	Factors        []Factor          `json:"factors"`
	GeoFacts       geo.Facts         `json:"geoFacts"`
	Velocity       velocity.Snapshot `json:"velocity"`
	EvaluatedAt    time.Time         `json:"evaluatedAt"`
}

// Store persists assessments for the audit trail. ListByUser returns
// assessments most recent first; a non-nil cursor restricts results to
// entries strictly older than the cursor position.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	ListByUser(ctx context.Context, userKey string, limit int, before *pagination.Cursor) ([]*Assessment, error)
}

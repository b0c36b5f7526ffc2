// Package extract turns semi-structured transaction payloads into typed
// records.
//
// Upstream exports are messy: the same semantic value (payer IP, billing
// country, email) shows up under different column names and nested JSON paths
// depending on which gateway produced the row. Extraction is declarative:
// one ordered candidate-path list per semantic field, evaluated by a single
// generic resolution routine. It fails soft, so a missing or malformed field
// becomes "unknown", never a fabricated default.
package extract

import (
	"time"
)

// Status classifies the transaction outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusOther   Status = "other"
)

// Transaction is one payment transaction with the fields the scoring engine
// consumes. Optional fields use explicit unknown representations: empty
// string, zero time, or the Has* flags. Immutable once extracted.
type Transaction struct {
	ID             string            `json:"id"`
	UserKey        string            `json:"userKey"`        // normalized email or user identifier
	Amount         int64             `json:"amount"`         // minor units; meaningful only if HasAmount
	HasAmount      bool              `json:"hasAmount"`
	Currency       string            `json:"currency,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`      // UTC; zero means unknown
	BillingCountry string            `json:"billingCountry,omitempty"` // ISO 3166-1 alpha-2
	BINCountry     string            `json:"binCountry,omitempty"`     // issuer country from card BIN
	PayerIP        string            `json:"payerIp,omitempty"`
	Status         Status            `json:"status"`
	ProcessingMS   float64           `json:"processingMs,omitempty"` // gateway processing time
	HasProcessing  bool              `json:"hasProcessing"`
	Device         map[string]string `json:"device,omitempty"` // browser/device/card facts
}

// Audit records which candidate path produced each extracted field, for
// explainability of the extraction itself.
type Audit struct {
	MatchedPaths map[string]string `json:"matchedPaths"` // semantic field -> source path
}

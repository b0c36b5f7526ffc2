package risk

import "fmt"

// Default band boundaries: LOW below Medium, MEDIUM below High, HIGH below
// Critical, CRITICAL at or above Critical. With the default score cap of
// 10.0 the CRITICAL band starts above the cap and is unreachable; operators
// who want it raise the cap or lower the boundary.
const (
	DefaultMediumBoundary   = 5.0
	DefaultHighBoundary     = 8.0
	DefaultCriticalBoundary = 11.0
)

// Classifier maps composite scores to risk levels using three ascending
// boundaries.
type Classifier struct {
	medium   float64
	high     float64
	critical float64
}

// NewClassifier validates that the boundaries ascend strictly.
func NewClassifier(medium, high, critical float64) (*Classifier, error) {
	if !(medium < high && high < critical) {
		return nil, fmt.Errorf("risk: boundaries must ascend, got %v/%v/%v", medium, high, critical)
	}
	return &Classifier{medium: medium, high: high, critical: critical}, nil
}

// DefaultClassifier returns a classifier with the standard bands.
func DefaultClassifier() *Classifier {
	c, _ := NewClassifier(DefaultMediumBoundary, DefaultHighBoundary, DefaultCriticalBoundary)
	return c
}

// Classify returns the band for a composite score. Bands are half-open:
// a score exactly on a boundary belongs to the higher band.
func (c *Classifier) Classify(score float64) Level {
	switch {
	case score >= c.critical:
		return LevelCritical
	case score >= c.high:
		return LevelHigh
	case score >= c.medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Package anomaly scores how far each value in a batch sits from the rest.
//
// Three interchangeable methods are supported. All of them are pure functions
// of the input slice: same values in, same scores out. Degenerate inputs
// (fewer than two present values, zero spread) score everything zero rather
// than dividing by nothing, so an absent signal never looks anomalous.
package anomaly

import (
	"fmt"
	"math"
	"sort"
)

// Method selects the anomaly scoring algorithm.
type Method string

const (
	MethodZScore Method = "zscore"
	MethodIQR    Method = "iqr"
	MethodMAD    Method = "mad"
)

// madScale converts a median absolute deviation into a stddev-comparable
// unit for normally distributed data.
const madScale = 0.6745

// ParseMethod validates a method name from configuration.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodZScore, MethodIQR, MethodMAD:
		return Method(s), nil
	default:
		return "", fmt.Errorf("anomaly: unknown method %q", s)
	}
}

// Score computes one anomaly score per input value. present[i] marks whether
// values[i] carries a real observation; missing values always score zero and
// are excluded from the batch statistics. present may be nil, meaning all
// values are present.
func Score(method Method, values []float64, present []bool) []float64 {
	scores := make([]float64, len(values))
	obs := collect(values, present)
	if len(obs) < 2 {
		return scores
	}

	switch method {
	case MethodIQR:
		scoreIQR(values, present, obs, scores)
	case MethodMAD:
		scoreMAD(values, present, obs, scores)
	default:
		scoreZ(values, present, obs, scores)
	}
	return scores
}

func collect(values []float64, present []bool) []float64 {
	obs := make([]float64, 0, len(values))
	for i, v := range values {
		if isPresent(present, i) {
			obs = append(obs, v)
		}
	}
	return obs
}

func isPresent(present []bool, i int) bool {
	return present == nil || present[i]
}

// scoreZ is the classic z-score against the sample mean and stddev.
func scoreZ(values []float64, present []bool, obs, scores []float64) {
	mean := mean(obs)
	sd := stddev(obs, mean)
	if sd == 0 {
		return
	}
	for i, v := range values {
		if isPresent(present, i) {
			scores[i] = (v - mean) / sd
		}
	}
}

// scoreIQR scores zero inside the Tukey fences and the IQR-normalized
// distance past the nearer fence outside them, signed by direction.
func scoreIQR(values []float64, present []bool, obs, scores []float64) {
	sorted := append([]float64(nil), obs...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	if iqr == 0 {
		return
	}
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr
	for i, v := range values {
		if !isPresent(present, i) {
			continue
		}
		switch {
		case v < lower:
			scores[i] = (v - lower) / iqr
		case v > upper:
			scores[i] = (v - upper) / iqr
		}
	}
}

// scoreMAD is the modified z-score built on the median absolute deviation,
// robust against the outliers it is meant to find.
func scoreMAD(values []float64, present []bool, obs, scores []float64) {
	sorted := append([]float64(nil), obs...)
	sort.Float64s(sorted)
	med := median(sorted)

	dev := make([]float64, len(obs))
	for i, v := range obs {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	mad := median(dev)
	if mad == 0 {
		return
	}
	for i, v := range values {
		if isPresent(present, i) {
			scores[i] = madScale * (v - med) / mad
		}
	}
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// quantile expects sorted input and interpolates linearly between ranks.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

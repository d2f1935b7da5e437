package factor

import (
	"math"
	"sort"
)

// Normalization methods and fill policies.
const (
	MethodZScore = "zscore"
	MethodMinMax = "minmax"

	FillSkip    = "skip"
	FillNeutral = "neutral"

	neutralZScore = 0.0
	neutralMinMax = 0.5
)

// Winsorize clips the cross-section to the [lowQ, highQ] quantile band.
// Quantiles are linearly interpolated. The input map is left untouched.
func Winsorize(values map[string]float64, lowQ, highQ float64) map[string]float64 {
	out := make(map[string]float64, len(values))
	if len(values) == 0 {
		return out
	}
	sorted := sortedValues(values)
	lo := quantile(sorted, lowQ)
	hi := quantile(sorted, highQ)
	for symbol, v := range values {
		out[symbol] = math.Min(math.Max(v, lo), hi)
	}
	return out
}

// Normalize winsorizes the cross-section and standardizes it with the
// given method. When the clipped section's variance falls below the
// epsilon the method's neutral constant is substituted for every
// instrument instead of dividing by near-zero; the second result
// reports that substitution so the caller can log it.
func Normalize(values map[string]float64, method string, lowQ, highQ float64) (map[string]float64, bool) {
	out := make(map[string]float64, len(values))
	if len(values) == 0 {
		return out, false
	}

	clipped := Winsorize(values, lowQ, highQ)
	sorted := sortedValues(clipped)

	switch method {
	case MethodMinMax:
		lo := sorted[0]
		hi := sorted[len(sorted)-1]
		if hi-lo < VarianceEpsilon {
			for symbol := range clipped {
				out[symbol] = neutralMinMax
			}
			return out, true
		}
		for symbol, v := range clipped {
			out[symbol] = (v - lo) / (hi - lo)
		}
		return out, false
	default: // zscore
		mean := sampleMean(sorted)
		std := sampleStdDev(sorted)
		if std*std < VarianceEpsilon {
			for symbol := range clipped {
				out[symbol] = neutralZScore
			}
			return out, true
		}
		for symbol, v := range clipped {
			out[symbol] = (v - mean) / std
		}
		return out, false
	}
}

// NeutralValue returns the method's neutral constant, used both for
// degenerate cross-sections and the neutral fill policy.
func NeutralValue(method string) float64 {
	if method == MethodMinMax {
		return neutralMinMax
	}
	return neutralZScore
}

// quantile returns the linearly interpolated q-quantile of an ascending
// slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	idx := int(math.Floor(pos))
	if idx+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(idx)
	return sorted[idx] + frac*(sorted[idx+1]-sorted[idx])
}

// sortedValues extracts map values in ascending order. Moments computed
// over the sorted slice sum in a fixed order, keeping results identical
// across runs regardless of map iteration.
func sortedValues(values map[string]float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

package benchmetrics

import "math"

// reportedPercentiles is the full percentile set of a task report. Small
// sample counts report a subset; see SupportedPercentiles.
var reportedPercentiles = []float64{50, 90, 99, 99.9, 100}

// SupportedPercentiles filters the reported percentile set by sample count.
// Percentile p is kept iff the denominator of p/100 in lowest terms is at
// most n: one sample reports only the maximum, two add the median, ten the
// 90th, a hundred the 99th and a thousand the 99.9th.
func SupportedPercentiles(n int64) []float64 {
	if n <= 0 {
		return nil
	}
	var out []float64
	for _, p := range reportedPercentiles {
		if percentileDenominator(p) <= n {
			out = append(out, p)
		}
	}
	return out
}

// percentileDenominator reduces p/100 at one decimal of resolution, i.e.
// round(10p)/1000, and returns the denominator in lowest terms.
func percentileDenominator(p float64) int64 {
	num := int64(math.Round(p * 10))
	if num <= 0 {
		return 1000
	}
	return 1000 / gcd(num, 1000)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Percentile interpolates linearly over sorted values at rank p/100*(n-1).
// The input must be sorted ascending.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

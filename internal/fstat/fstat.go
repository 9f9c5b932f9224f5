// Package fstat provides the single-precision summary statistics shared by
// the event segmenter and query normalization, backed by gonum/stat so the
// mean/variance accumulation is the same stable (Welford-style) routine
// everywhere spec.md requires numeric reproducibility.
package fstat

import "gonum.org/v1/gonum/stat"

// MeanStdDev returns the population mean and standard deviation of x.
// x is accumulated in float64 and the result rounded back to float32,
// matching the pore-model / event-table's single-precision storage.
func MeanStdDev(x []float32) (mean, stdv float32) {
	if len(x) == 0 {
		return 0, 0
	}
	xs := make([]float64, len(x))
	for i, v := range x {
		xs[i] = float64(v)
	}
	m, s := stat.PopMeanStdDev(xs, nil)
	return float32(m), float32(s)
}

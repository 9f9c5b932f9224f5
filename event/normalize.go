package event

import (
	"github.com/pkg/errors"

	"github.com/beebdev/sigfish-haru/internal/fstat"
)

// ErrDegenerateWindow is returned when the normalization window has zero
// standard deviation (spec.md §4.4): a dead read, or prefix/query sized
// wrong for the data.
var ErrDegenerateWindow = errors.New("degenerate normalization window")

// NormalizeResult reports the clamped window actually used, so callers can
// take the query from exactly the events that were normalized.
type NormalizeResult struct {
	Start, End int // the clamped [start, end) used
	Clamped    bool
}

// Normalize z-score normalizes t.Events[start:end].Mean in place, where
// start=prefixSize and end=prefixSize+querySize, clamped to len(t.Events)
// (spec.md §4.4). It returns ErrDegenerateWindow if the window's standard
// deviation is zero.
func (t *Table) Normalize(prefixSize, querySize int) (NormalizeResult, error) {
	n := len(t.Events)
	start := prefixSize
	end := prefixSize + querySize
	clamped := false
	if start > n {
		start = n
		clamped = true
	}
	if end > n {
		end = n
		clamped = true
	}

	means := make([]float32, end-start)
	for i := start; i < end; i++ {
		means[i-start] = t.Events[i].Mean
	}
	mean, stdv := fstat.MeanStdDev(means)
	if stdv == 0 {
		return NormalizeResult{Start: start, End: end, Clamped: clamped}, ErrDegenerateWindow
	}
	for i := start; i < end; i++ {
		t.Events[i].Mean = (t.Events[i].Mean - mean) / stdv
	}
	return NormalizeResult{Start: start, End: end, Clamped: clamped}, nil
}

// Window returns the (already-normalized) slice of event means in
// [start, end), suitable as dtw's query.
func (t *Table) Window(start, end int) []float32 {
	out := make([]float32, end-start)
	for i := start; i < end; i++ {
		out[i-start] = t.Events[i].Mean
	}
	return out
}

// Package event implements the event segmenter (C3): it reduces a raw
// current trace into an ordered sequence of (mean, stdv, length, start)
// events using the two-window t-test peak detector popularized by the
// open-source nanopore basecaller family.
//
// original_source/src/sigfish.c's event_single shows the call shape
// (getevents, then reverse the table for RNA); the segmenter/cdtw
// internals themselves were filtered out of the retrieval by its
// per-file size cap, so the t-test recurrence below follows spec.md
// §4.3's description directly.
package event

import (
	"math"

	"github.com/beebdev/sigfish-haru/internal/fstat"
)

// Event is one detected dwell segment.
type Event struct {
	Start  uint64
	Length float32
	Mean   float32
	Stdv   float32
}

// Table is the ordered event sequence for one read.
type Table struct {
	Events []Event
}

// Reverse reverses the event order in place. Per spec.md §4.3, RNA reads
// are reversed after segmentation so events run 3'->5', matching the
// synthesized RNA reference orientation.
func (t *Table) Reverse() {
	e := t.Events
	for i, j := 0, len(e)-1; i < j; i, j = i+1, j-1 {
		e[i], e[j] = e[j], e[i]
	}
}

// Params are the two-window t-test segmenter's tunables.
type Params struct {
	W1, W2     int
	Thr1, Thr2 float32
}

// DNAParams and RNAParams are spec.md §4.3's fixed presets.
var (
	DNAParams = Params{W1: 3, W2: 6, Thr1: 1.4, Thr2: 9.0}
	RNAParams = Params{W1: 7, W2: 14, Thr1: 2.5, Thr2: 9.0}
)

// mergeRadius is the minimum sample gap enforced between two accepted
// boundaries; within this radius, only the larger t-statistic peak wins.
const mergeRadius = 1

// Segment reduces signal (picoamp-converted current samples) into a Table
// using params. An empty signal, or one shorter than W1+W2, yields an
// empty table (spec.md §4.3 edge cases).
func Segment(signal []float32, params Params) Table {
	n := len(signal)
	if n == 0 || n < params.W1+params.W2 {
		return Table{}
	}

	tstat := computeTStatistics(signal, params)
	boundaries := pickBoundaries(tstat, params)
	// Always include the trace start and end as boundaries.
	if len(boundaries) == 0 || boundaries[0] != 0 {
		boundaries = append([]int{0}, boundaries...)
	}
	if boundaries[len(boundaries)-1] != n {
		boundaries = append(boundaries, n)
	}

	events := make([]Event, 0, len(boundaries)-1)
	for i := 0; i < len(boundaries)-1; i++ {
		s0, s1 := boundaries[i], boundaries[i+1]
		if s1 <= s0 {
			continue
		}
		mean, stdv := fstat.MeanStdDev(signal[s0:s1])
		events = append(events, Event{
			Start:  uint64(s0),
			Length: float32(s1 - s0),
			Mean:   mean,
			Stdv:   stdv,
		})
	}
	return Table{Events: events}
}

// computeTStatistics returns, for every valid center position i, a score
// built from two t statistics: one between the w1-sample windows just
// before and just after i, and one between the w2-sample windows just
// before and just after i (Welch's t-test shape per spec.md §4.3).
func computeTStatistics(signal []float32, p Params) []float32 {
	n := len(signal)
	tstat := make([]float32, n)
	w1, w2 := p.W1, p.W2
	maxW := w1
	if w2 > maxW {
		maxW = w2
	}
	for i := maxW; i < n-maxW; i++ {
		m1, s1 := fstat.MeanStdDev(signal[i-w1 : i])
		m2, s2 := fstat.MeanStdDev(signal[i : i+w1])
		t1 := tStatistic(m1, s1, w1, m2, s2, w1)

		m3, s3 := fstat.MeanStdDev(signal[i-w2 : i])
		m4, s4 := fstat.MeanStdDev(signal[i : i+w2])
		t2 := tStatistic(m3, s3, w2, m4, s4, w2)

		// A position is a candidate if either window width clears its own
		// threshold; record the larger statistic, scaled by that width's
		// threshold so pickBoundaries can compare on a common footing.
		v1 := float32(0)
		if t1 >= p.Thr1 {
			v1 = t1 / p.Thr1
		}
		v2 := float32(0)
		if t2 >= p.Thr2 {
			v2 = t2 / p.Thr2
		}
		if v1 > v2 {
			tstat[i] = v1
		} else {
			tstat[i] = v2
		}
	}
	return tstat
}

func tStatistic(m1 float32, s1 float32, n1 int, m2 float32, s2 float32, n2 int) float32 {
	v1, v2 := s1*s1, s2*s2
	pooled := (v1/float32(n1) + v2/float32(n2))
	if pooled <= 0 {
		return 0
	}
	diff := m2 - m1
	if diff < 0 {
		diff = -diff
	}
	return diff / sqrt32(pooled)
}

func sqrt32(v float32) float32 {
	if v <= 0 {
		return 0
	}
	return float32(math.Sqrt(float64(v)))
}

// pickBoundaries finds local maxima of tstat that clear 1.0 (i.e. cleared
// at least one window's threshold), merging peaks within mergeRadius
// samples by keeping only the larger one, per spec.md §4.3's "boundary with
// the larger t-statistic wins within a merge radius".
func pickBoundaries(tstat []float32, p Params) []int {
	var candidates []int
	n := len(tstat)
	for i := 1; i < n-1; i++ {
		if tstat[i] < 1.0 {
			continue
		}
		if tstat[i] >= tstat[i-1] && tstat[i] >= tstat[i+1] {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	merged := make([]int, 0, len(candidates))
	merged = append(merged, candidates[0])
	for _, c := range candidates[1:] {
		last := merged[len(merged)-1]
		if c-last <= mergeRadius {
			if tstat[c] > tstat[last] {
				merged[len(merged)-1] = c
			}
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// Package dtw implements the subsequence-DTW aligner (C4): aligning a
// normalized query window against every reference strand and returning
// the global minimum-cost ending.
//
// Grounded on original_source/src/sigfish.c's dtw_single (the per-contig
// forward/reverse call-and-argmin loop); the subsequence() matrix
// recurrence itself follows spec.md §4.5 (the cdtw.c/cdtw.h source that
// sigfish.c calls into was filtered out of original_source by the
// retrieval's per-file size cap).
package dtw

import (
	"math"

	"github.com/beebdev/sigfish-haru/refsynth"
)

// Strand is '+' (forward) or '-' (reverse-complement).
type Strand byte

const (
	Forward Strand = '+'
	Reverse Strand = '-'
)

// Result is the best-scoring alignment found across every contig and
// strand.
type Result struct {
	Score  float32
	RefPos int32 // forward-strand coordinate; Align maps reverse-strand hits
	RefID  int32
	Strand Strand
}

// Matrix computes the subsequence-DTW cost matrix of query (length m)
// against ref (length n) into a reused scratch buffer, and returns the
// minimum cost in the final row and its column index.
//
// Recurrence (spec.md §4.5):
//
//	D[0,j]   = |Q[0]-R[j]|
//	D[i,0]   = D[i-1,0] + |Q[i]-R[0]|,  i>0
//	D[i,j]   = |Q[i]-R[j]| + min(D[i-1,j], D[i,j-1], D[i-1,j-1])
//
// scratch is reused when its capacity is at least m*n; otherwise Matrix
// allocates a larger one. It returns the (possibly reallocated) buffer so
// callers can reuse it across calls.
func Matrix(query, ref []float32, scratch []float32) (minCost float32, argmin int, buf []float32) {
	m, n := len(query), len(ref)
	need := m * n
	if cap(scratch) < need {
		scratch = make([]float32, need)
	}
	d := scratch[:need]

	for j := 0; j < n; j++ {
		d[j] = absDiff(query[0], ref[j])
	}
	for i := 1; i < m; i++ {
		row := d[i*n : i*n+n]
		prev := d[(i-1)*n : (i-1)*n+n]
		row[0] = prev[0] + absDiff(query[i], ref[0])
		for j := 1; j < n; j++ {
			best := prev[j]
			if row[j-1] < best {
				best = row[j-1]
			}
			if prev[j-1] < best {
				best = prev[j-1]
			}
			row[j] = absDiff(query[i], ref[j]) + best
		}
	}

	lastRow := d[(m-1)*n : (m-1)*n+n]
	minCost = lastRow[0]
	argmin = 0
	for j := 1; j < n; j++ {
		if lastRow[j] < minCost {
			minCost = lastRow[j]
			argmin = j
		}
	}
	return minCost, argmin, d
}

func absDiff(a, b float32) float32 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

// Align runs subsequence DTW of query against every contig and strand in
// ref, keeping the global (score, pos, rid, strand) with the strictly
// lowest score; ties keep the earlier contig/strand (spec.md §4.5's
// deterministic tie-break). scratch is reused across contigs within a
// read; pass nil on the first call and keep reusing the returned buffer.
func Align(query []float32, ref *refsynth.Reference, scratch []float32) (Result, []float32) {
	best := Result{Score: inf, RefID: -1}

	for cidx, c := range ref.Contigs {
		if len(c.Forward) == 0 {
			continue
		}
		score, j, buf := Matrix(query, c.Forward, scratch)
		scratch = buf
		if score < best.Score {
			best = Result{Score: score, RefPos: int32(j), RefID: int32(cidx), Strand: Forward}
		}

		score, j, buf = Matrix(query, c.Reverse, scratch)
		scratch = buf
		if score < best.Score {
			// Reverse hits are mapped to forward-strand coordinates:
			// ref_pos = length_c - j*, per spec.md §4.5's position convention.
			best = Result{Score: score, RefPos: int32(c.Length - j), RefID: int32(cidx), Strand: Reverse}
		}
	}
	return best, scratch
}

var inf = float32(math.Inf(1))

// Package refsynth implements the reference synthesizer (C2): turning a
// nucleotide reference into expected-current arrays (forward and
// reverse-complement) via k-mer lookup against a pore model.
package refsynth

import (
	"github.com/pkg/errors"

	"github.com/beebdev/sigfish-haru/internal/sequtil"
	"github.com/beebdev/sigfish-haru/model"
)

// ErrMalformedReference is returned when no contig survives filtering.
var ErrMalformedReference = errors.New("malformed reference")

// ContigSource yields (name, sequence) pairs, in file order. It is the
// seam between refsynth and whatever FASTA (or other) reader supplies
// contigs — per spec.md §1, the reference-FASTA reader itself is an
// external collaborator.
type ContigSource interface {
	// Next returns the next contig, or ok=false at end of input.
	Next() (name, sequence string, ok bool, err error)
}

// Contig holds the synthesized forward/reverse-complement expected-signal
// arrays for one reference sequence.
type Contig struct {
	Name    string
	Length  int // len(sequence) - K + 1, the number of k-mers
	Forward []float32
	Reverse []float32
}

// Reference is the ordered list of synthesized contigs, built once at init
// and shared read-only by every alignment worker.
type Reference struct {
	Contigs []Contig
}

// Options configures Synthesize.
type Options struct {
	// RNA replaces U with T before encoding, matching the RNA pore model's
	// k-mer alphabet.
	RNA bool
	// QuerySize is informational only: contigs shorter than
	// QuerySize+K-1 are skipped, since no query window could ever align
	// to them. Zero disables the check.
	QuerySize int
	// RegionFilter, if non-nil, restricts synthesis to contigs for which
	// it returns true. This is the hook point for spec.md §1's BED-region
	// filtering, which remains an external collaborator; RegionFilter
	// itself is built by the caller (e.g. from a -region flag).
	RegionFilter func(contigName string) bool
}

// Synthesize builds the synthetic Reference from src using pm, a k-mer
// width of K. It returns ErrMalformedReference if no contig is left once
// RegionFilter, the K-length check and the QuerySize check have been
// applied, including when src yields no contigs at all (spec.md §7:
// "empty file" is fatal for reference synthesis).
func Synthesize(src ContigSource, pm *model.Model, opts Options) (*Reference, error) {
	k := pm.K()
	var ref Reference
	for {
		name, seq, ok, err := src.Next()
		if err != nil {
			return nil, errors.Wrap(err, "reading reference contig")
		}
		if !ok {
			break
		}
		if opts.RegionFilter != nil && !opts.RegionFilter(name) {
			continue
		}
		if len(seq) < k {
			continue // too short to yield even one k-mer
		}
		if opts.QuerySize > 0 && len(seq) < opts.QuerySize+k-1 {
			continue
		}
		ref.Contigs = append(ref.Contigs, synthesizeContig(name, seq, pm, k, opts.RNA))
	}
	if len(ref.Contigs) == 0 {
		return nil, errors.Wrap(ErrMalformedReference, "no contigs in reference after filtering")
	}
	return &ref, nil
}

func synthesizeContig(name, seq string, pm *model.Model, k int, rna bool) Contig {
	raw := []byte(seq)
	sequtil.CleanInplace(raw)
	if rna {
		for i, b := range raw {
			if b == 'U' {
				raw[i] = 'T'
			}
		}
	}

	n := len(raw) - k + 1
	forward := make([]float32, n)
	for i := 0; i < n; i++ {
		forward[i] = pm.Expected(model.Encode(raw[i : i+k])).Mean
	}

	rc := sequtil.ReverseComplement(raw)
	reverse := make([]float32, n)
	for i := 0; i < n; i++ {
		reverse[i] = pm.Expected(model.Encode(rc[i : i+k])).Mean
	}

	return Contig{Name: name, Length: n, Forward: forward, Reverse: reverse}
}

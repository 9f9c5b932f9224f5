// Package fasta contains code for parsing FASTA reference files.  FASTA
// files consist of a number of named sequences that may be interrupted by
// newlines. For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text appear after a space are ignored.
// For example, '>chr1 A viral sequence' becomes 'chr1'.
//
// sigfish-haru reads a reference once, start to finish, to synthesize
// expected-signal arrays (refsynth.Synthesize); unlike the teacher package
// this is adapted from, there is no indexed/random-access path here.
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/beebdev/sigfish-haru/internal/sequtil"
)

const (
	mib            = 1024 * 1024
	bufferInitSize = 300 * mib
)

// Fasta represents FASTA-formatted data, consisting of a set of named
// sequences.
type Fasta interface {
	// Get returns a substring of the given sequence name at the given
	// coordinates, which are treated as a 0-based half-open interval
	// [start, end). Get is thread-safe.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the given sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns the names of all sequences, in the order of appearance in
	// the FASTA file.
	SeqNames() []string
}

type opts struct {
	Clean bool
}

// Opt is an optional argument to New.
type Opt func(*opts)

// OptClean specifies returned FASTA sequences should be uppercased and have
// any non-ACGTU byte replaced with 'N' (internal/sequtil.CleanInplace).
func OptClean(o *opts) { o.Clean = true }

func makeOpts(userOpts ...Opt) opts {
	var parsedOpts opts
	for _, userOpt := range userOpts {
		userOpt(&parsedOpts)
	}
	return parsedOpts
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New creates a new Fasta that holds all the FASTA data from the given
// reader in memory.
func New(r io.Reader, userOpts ...Opt) (Fasta, error) {
	parsedOpts := makeOpts(userOpts...)
	f := &fasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, bufferInitSize)
	var seqName string
	var seq strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			if seq.Len() != 0 { // We need to store the previous sequence first.
				if seqName == "" {
					return nil, errors.Errorf("malformed FASTA file")
				}
				f.store(seqName, seq.String(), parsedOpts.Clean)
				seq.Reset()
			}
			seqName = strings.Split(line[1:], " ")[0]
		} else {
			seq.WriteString(line)
		}
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), "couldn't read FASTA data")
	}
	if seqName == "" {
		return nil, errors.Errorf("empty FASTA file")
	}
	f.store(seqName, seq.String(), parsedOpts.Clean)
	return f, nil
}

func (f *fasta) store(name, seq string, clean bool) {
	if clean {
		b := []byte(seq)
		sequtil.CleanInplace(b)
		seq = string(b)
	}
	f.seqs[name] = seq
	f.seqNames = append(f.seqNames, name)
}

// Get implements Fasta.Get().
func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	s, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", seqName)
	}
	if end <= start {
		return "", fmt.Errorf("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("invalid query range %d - %d for sequence %s with length %d",
			start, end, seqName, len(s))
	}
	return s[start:end], nil
}

// Len implements Fasta.Len().
func (f *fasta) Len(seq string) (uint64, error) {
	s, ok := f.seqs[seq]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", seq)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *fasta) SeqNames() []string {
	return f.seqNames
}

// ContigSource adapts a Fasta into refsynth.ContigSource, iterating
// contigs in file order.
type ContigSource struct {
	fa   Fasta
	i    int
	seqs []string
}

// NewContigSource wraps fa for consumption by refsynth.Synthesize.
func NewContigSource(fa Fasta) *ContigSource {
	return &ContigSource{fa: fa, seqs: fa.SeqNames()}
}

// Next implements refsynth.ContigSource.
func (c *ContigSource) Next() (name, sequence string, ok bool, err error) {
	if c.i >= len(c.seqs) {
		return "", "", false, nil
	}
	name = c.seqs[c.i]
	c.i++
	n, err := c.fa.Len(name)
	if err != nil {
		return "", "", false, err
	}
	seq, err := c.fa.Get(name, 0, n)
	if err != nil {
		return "", "", false, err
	}
	return name, seq, true, nil
}

// Package model implements the pore-model registry (C1): a dense table
// mapping each k-mer of a fixed width K to its expected current
// (mean, stdv), indexed by a base-4 encoding of the k-mer.
//
// See original_source/src/misc.h's read_model/set_model prototypes for the
// contract this package fulfills; sigfish-haru ships no real ONT
// calibration tables (they are proprietary and were not part of the
// retrieved sources), so the built-ins are deterministically generated —
// see builtin.go.
package model

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedModel is wrapped with call-site context (line number, field)
// whenever a pore-model file fails to parse.
var ErrMalformedModel = errors.New("malformed pore model")

// ID selects one of the built-in models.
type ID int

const (
	// DNANucleotide is the built-in K=6 DNA model.
	DNANucleotide ID = iota
	// RNANucleotide is the built-in K=9 RNA model.
	RNANucleotide
)

// Entry is one k-mer's expected current statistics.
type Entry struct {
	Mean float32
	Stdv float32
}

// Model is a dense, read-only k-mer -> Entry table. The zero value is not
// usable; construct with Builtin or Load.
type Model struct {
	k       int
	entries []Entry
}

// K returns the k-mer width this model was built for.
func (m *Model) K() int { return m.k }

// Size returns len(entries), which must equal 4^K.
func (m *Model) Size() int { return len(m.entries) }

// Expected returns the (mean, stdv) for the k-mer encoded as code.
// Expected panics if code is out of range, which indicates a caller bug
// (Encode of a K-length k-mer always returns a value in [0, 4^K)).
func (m *Model) Expected(code int) Entry {
	return m.entries[code]
}

// Encode maps a k-mer (bytes already uppercased, U treated as T) to its
// dense table index, base-4 with A=0,C=1,G=2,T/U=3. Any other byte (N,
// IUPAC ambiguity codes, etc) is treated as A, per spec.md §3's stated
// ambiguous-base policy.
func Encode(kmer []byte) int {
	code := 0
	for _, b := range kmer {
		code <<= 2
		switch b {
		case 'C', 'c':
			code |= 1
		case 'G', 'g':
			code |= 2
		case 'T', 't', 'U', 'u':
			code |= 3
		default: // A/a and anything ambiguous
		}
	}
	return code
}

// Builtin returns the statically known table for id.
func Builtin(id ID) *Model {
	switch id {
	case RNANucleotide:
		return rnaNucleotideModel()
	default:
		return dnaNucleotideModel()
	}
}

// Load reads a text pore-model file: non-comment, non-header lines each
// contain "kmer mean stdv ...". Lines starting with '#' or beginning with
// "kmer\t" (the conventional header) are skipped. K is inferred from the
// first k-mer encountered; every subsequent k-mer must share that width.
func Load(r io.Reader) (*Model, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)

	var k int
	var entries []Entry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "kmer\t") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, errors.Wrapf(ErrMalformedModel, "line %d: expected at least 3 fields, got %d", lineNo, len(fields))
		}
		kmer := fields[0]
		if entries == nil {
			k = len(kmer)
			entries = make([]Entry, pow4(k))
		} else if len(kmer) != k {
			return nil, errors.Wrapf(ErrMalformedModel, "line %d: k-mer %q has width %d, expected %d", lineNo, kmer, len(kmer), k)
		}
		mean, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedModel, "line %d: bad mean %q: %v", lineNo, fields[1], err)
		}
		stdv, err := strconv.ParseFloat(fields[2], 32)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedModel, "line %d: bad stdv %q: %v", lineNo, fields[2], err)
		}
		entries[Encode([]byte(kmer))] = Entry{Mean: float32(mean), Stdv: float32(stdv)}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading pore model")
	}
	if entries == nil {
		return nil, errors.Wrap(ErrMalformedModel, "empty model file")
	}
	return &Model{k: k, entries: entries}, nil
}

func pow4(k int) int {
	n := 1
	for i := 0; i < k; i++ {
		n *= 4
	}
	return n
}

// Package sequtil provides small byte-level nucleotide sequence helpers
// shared by the FASTA reader and the reference synthesizer.
//
// The reverse-complement table and clean-in-place logic follow
// biosimd's ReverseComp8Inplace/CleanASCIISeqInplace (grailbio/bio), with
// the amd64/generic SIMD split collapsed into a single portable loop: the
// SIMD variant leans on grailbio/base/simd's private kernels, which aren't
// available outside that module.
package sequtil

var complementTable = [256]byte{}

func init() {
	for i := range complementTable {
		complementTable[i] = 'N'
	}
	complementTable['A'], complementTable['a'] = 'T', 'T'
	complementTable['C'], complementTable['c'] = 'G', 'G'
	complementTable['G'], complementTable['g'] = 'C', 'C'
	complementTable['T'], complementTable['t'] = 'A', 'A'
	complementTable['U'], complementTable['u'] = 'A', 'A'
}

// ReverseComplement returns the reverse complement of seq. Bases outside
// ACGTU map to 'N'.
func ReverseComplement(seq []byte) []byte {
	n := len(seq)
	out := make([]byte, n)
	for i, b := range seq {
		out[n-1-i] = complementTable[b]
	}
	return out
}

// CleanInplace uppercases seq and maps anything outside ACGTU to 'N'.
func CleanInplace(seq []byte) {
	for i, b := range seq {
		switch b {
		case 'a':
			b = 'A'
		case 'c':
			b = 'C'
		case 'g':
			b = 'G'
		case 't':
			b = 'T'
		case 'u':
			b = 'U'
		case 'A', 'C', 'G', 'T', 'U':
		default:
			b = 'N'
		}
		seq[i] = b
	}
}

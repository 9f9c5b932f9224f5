package pipeline_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/beebdev/sigfish-haru/model"
	"github.com/beebdev/sigfish-haru/pipeline"
	"github.com/beebdev/sigfish-haru/refsynth"
)

// fakeSource hands out RawReads verbatim; "compression" is just an index
// into the backing slice, since exercising the real slow5/zstd framing is
// encoding/slow5's job.
type fakeSource struct {
	reads []pipeline.RawRead
	i     int
}

func (f *fakeSource) NextCompressedBlob() ([]byte, int, error) {
	if f.i >= len(f.reads) {
		return nil, 0, io.EOF
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(f.i))
	f.i++
	return buf, len(buf), nil
}

func (f *fakeSource) DecompressAndParse(blob []byte) (pipeline.RawRead, error) {
	idx := binary.LittleEndian.Uint64(blob)
	return f.reads[idx], nil
}

type contigSrc struct {
	contigs [][2]string
	i       int
}

func (c *contigSrc) Next() (name, seq string, ok bool, err error) {
	if c.i >= len(c.contigs) {
		return "", "", false, nil
	}
	v := c.contigs[c.i]
	c.i++
	return v[0], v[1], true, nil
}

// toRawSignal synthesizes a raw ADC trace whose picoamp-converted values
// hover around the pore model's expected current for kmer, with enough
// small, deterministic (non-random) wobble for the segmenter to find real
// event boundaries rather than collapsing the whole trace into one event.
func toRawSignal(pm *model.Model, kmer string, n int) []int16 {
	e := pm.Expected(model.Encode([]byte(kmer)))
	const rng, dig, off = float32(100), float32(8192), float32(0)
	raw := make([]int16, n)
	for i := range raw {
		wobble := 2.5*math.Sin(float64(i)*0.31) + 1.1*math.Sin(float64(i)*0.07)
		pa := e.Mean + float32(wobble)
		raw[i] = int16(pa/(rng/dig) - off)
	}
	return raw
}

// ScenarioA — identity: a reference of all-A's, a read synthesized from the
// same k-mer, should align on the forward strand of contig 0 with a low
// score.
func TestScenarioA_Identity(t *testing.T) {
	pm := model.Builtin(model.DNANucleotide)
	seq := strings.Repeat("A", 600)
	ref, err := refsynth.Synthesize(&contigSrc{contigs: [][2]string{{"chr1", seq}}}, pm, refsynth.Options{})
	if err != nil {
		t.Fatal(err)
	}

	raw := pipeline.RawRead{
		ReadID:       "read1",
		RawSignal:    toRawSignal(pm, "AAAAAA", 2000),
		Range:        100,
		Digitisation: 8192,
		Offset:       0,
	}
	var out bytes.Buffer
	runner := &pipeline.Runner{
		Model:     pm,
		Reference: ref,
		Opts:      pipeline.Opts{BatchSize: 8, BatchSizeBytes: 1 << 20, NumThread: 2, PrefixSize: 50, QuerySize: 250},
		Source:    &fakeSource{reads: []pipeline.RawRead{raw}},
		Out:       &out,
	}
	if err := runner.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fields := strings.Split(strings.TrimSpace(out.String()), "\t")
	if fields[0] != "read1" {
		t.Fatalf("read_id = %q", fields[0])
	}
	if fields[4] != "+" {
		t.Fatalf("strand = %q, want '+'", fields[4])
	}
	if fields[5] != "chr1" {
		t.Fatalf("ref_name = %q, want chr1", fields[5])
	}
}

// ScenarioE — empty signal produces a sentinel row, no crash.
func TestScenarioE_EmptySignal(t *testing.T) {
	pm := model.Builtin(model.DNANucleotide)
	ref, err := refsynth.Synthesize(&contigSrc{contigs: [][2]string{{"chr1", strings.Repeat("ACGT", 50)}}}, pm, refsynth.Options{})
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	runner := &pipeline.Runner{
		Model:     pm,
		Reference: ref,
		Opts:      pipeline.DefaultOpts,
		Source:    &fakeSource{reads: []pipeline.RawRead{{ReadID: "empty"}}},
		Out:       &out,
	}
	if err := runner.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fields := strings.Split(strings.TrimSpace(out.String()), "\t")
	if fields[0] != "empty" || fields[5] != "*" {
		t.Fatalf("sentinel row mismatch: %v", fields)
	}
}

// ScenarioD — a too-short read still produces an alignment after a
// clamp-and-warn.
func TestScenarioD_ShortRead(t *testing.T) {
	pm := model.Builtin(model.DNANucleotide)
	ref, err := refsynth.Synthesize(&contigSrc{contigs: [][2]string{{"chr1", strings.Repeat("A", 600)}}}, pm, refsynth.Options{})
	if err != nil {
		t.Fatal(err)
	}
	raw := pipeline.RawRead{
		ReadID:       "shortread",
		RawSignal:    toRawSignal(pm, "AAAAAA", 400), // yields far fewer than 300 events
		Range:        100,
		Digitisation: 8192,
	}
	var out bytes.Buffer
	runner := &pipeline.Runner{
		Model:     pm,
		Reference: ref,
		Opts:      pipeline.Opts{BatchSize: 4, BatchSizeBytes: 1 << 20, NumThread: 1, PrefixSize: 50, QuerySize: 250},
		Source:    &fakeSource{reads: []pipeline.RawRead{raw}},
		Out:       &out,
	}
	if err := runner.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() == 0 {
		t.Fatalf("expected a row to be emitted for the short read")
	}
}

func TestDeterminism(t *testing.T) {
	pm := model.Builtin(model.DNANucleotide)
	ref, err := refsynth.Synthesize(&contigSrc{contigs: [][2]string{{"chr1", strings.Repeat("ACGTA", 200)}}}, pm, refsynth.Options{})
	if err != nil {
		t.Fatal(err)
	}
	reads := make([]pipeline.RawRead, 6)
	for i := range reads {
		reads[i] = pipeline.RawRead{
			ReadID:       "r" + string(rune('0'+i)),
			RawSignal:    toRawSignal(pm, "ACGTA", 2000),
			Range:        100,
			Digitisation: 8192,
		}
	}
	run := func() string {
		var out bytes.Buffer
		r := &pipeline.Runner{
			Model:     pm,
			Reference: ref,
			Opts:      pipeline.Opts{BatchSize: 4, BatchSizeBytes: 1 << 20, NumThread: 4, PrefixSize: 50, QuerySize: 250},
			Source:    &fakeSource{reads: reads},
			Out:       &out,
		}
		if err := r.Run(); err != nil {
			t.Fatal(err)
		}
		return out.String()
	}
	a, b := run(), run()
	if a != b {
		t.Fatalf("non-deterministic output:\n%q\nvs\n%q", a, b)
	}
}

// TestByteCapBindsBeforeBatchSize reproduces a pipeline that never hits a
// full BatchSize-sized load because BatchSizeBytes binds first on every
// call to load(): the run must still continue until the source is
// actually exhausted, not stop after the first short batch.
func TestByteCapBindsBeforeBatchSize(t *testing.T) {
	pm := model.Builtin(model.DNANucleotide)
	ref, err := refsynth.Synthesize(&contigSrc{contigs: [][2]string{{"chr1", strings.Repeat("ACGTA", 200)}}}, pm, refsynth.Options{})
	if err != nil {
		t.Fatal(err)
	}
	const numReads = 10
	reads := make([]pipeline.RawRead, numReads)
	for i := range reads {
		reads[i] = pipeline.RawRead{
			ReadID:       "r" + string(rune('0'+i)),
			RawSignal:    toRawSignal(pm, "ACGTA", 2000),
			Range:        100,
			Digitisation: 8192,
		}
	}
	var out bytes.Buffer
	runner := &pipeline.Runner{
		Model:     pm,
		Reference: ref,
		// BatchSize is large enough to never bind; BatchSizeBytes (each
		// fakeSource blob reports as 8 bytes) caps every load() call to a
		// few records well short of BatchSize.
		Opts:   pipeline.Opts{BatchSize: 100, BatchSizeBytes: 20, NumThread: 2, PrefixSize: 50, QuerySize: 250},
		Source: &fakeSource{reads: reads},
		Out:    &out,
	}
	if err := runner.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != numReads {
		t.Fatalf("got %d output rows, want %d (byte-capped batches must not truncate the run)", len(lines), numReads)
	}
}

// Package pipeline implements the batched parallel pipeline (C5): a
// bounded producer/consumer that loads, parses, processes, and emits
// batches of reads. The phases of a batch run one after another; records
// within the process phase run in parallel.
//
// Grounded on pileup/snp/pileup.go's traverse.Each worker-pool idiom and
// original_source/src/sigfish.c's load_db/process_db/output_db/
// free_db_tmp batch lifecycle, which Runner.Run mirrors.
package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"

	"github.com/beebdev/sigfish-haru/dtw"
	"github.com/beebdev/sigfish-haru/event"
	"github.com/beebdev/sigfish-haru/internal/warnonce"
	"github.com/beebdev/sigfish-haru/model"
	"github.com/beebdev/sigfish-haru/refsynth"
)

// ErrMalformedRecord is wrapped with the offending read's context whenever
// a compressed blob fails to parse.
var ErrMalformedRecord = errors.New("malformed signal record")

// RawRead is one parsed signal record (spec.md §3's "Raw read record").
type RawRead struct {
	ReadID       string
	RawSignal    []int16
	Range        float32
	Digitisation float32
	Offset       float32
}

// Source is the external signal-file container library's contract
// (spec.md §6): a stream of still-compressed blobs, each independently
// decompressible and parseable into a RawRead.
type Source interface {
	// NextCompressedBlob returns the next record's compressed bytes and its
	// on-wire size (for batch_size_bytes accounting), or io.EOF at end of
	// input.
	NextCompressedBlob() (blob []byte, byteSize int, err error)
	// DecompressAndParse turns one compressed blob into a RawRead.
	DecompressAndParse(blob []byte) (RawRead, error)
}

// Opts are the run options from spec.md §3.
type Opts struct {
	BatchSize      int
	BatchSizeBytes int64
	NumThread      int
	PrefixSize     int
	QuerySize      int
	RNA            bool
}

// DefaultOpts matches spec.md §3's default column.
var DefaultOpts = Opts{
	BatchSize:      512,
	BatchSizeBytes: 2_000_000,
	NumThread:      8,
	PrefixSize:     50,
	QuerySize:      250,
}

// Stats accumulates the cumulative timing/throughput counters spec.md §5
// and §9 describe as owned by the pipeline and updated only on the main
// thread between phases.
type Stats struct {
	LoadTime, ProcessTime, OutputTime float64 // seconds
	TotalReads                        int64
	TotalBytes                        int64
}

// Runner drives the load -> process -> emit loop.
type Runner struct {
	Model     *model.Model
	Reference *refsynth.Reference
	Opts      Opts
	Source    Source
	Out       io.Writer

	stats Stats
}

// Stats returns a snapshot of the cumulative counters.
func (r *Runner) Stats() Stats { return r.stats }

// batchRecord holds one record's per-read working state; slots are reused
// across batches (spec.md §9's "arenas over pointer graphs": Reclaim frees
// only the per-record allocations below, not the slice of batchRecords
// itself).
type batchRecord struct {
	blob     []byte
	byteSize int
	raw      RawRead
	events   event.Table
	result   dtw.Result
	nEvents  int
	err      error
}

// Run drives the pipeline to completion, writing one PAF-like row per read
// to r.Out in input order. It returns the first fatal error encountered
// (spec.md §7: parse failure, malformed record, allocation failure, I/O
// failure all terminate the run).
func (r *Runner) Run() error {
	warnings := warnonce.NewSet()
	capacity := r.Opts.BatchSize
	if capacity <= 0 {
		capacity = DefaultOpts.BatchSize
	}
	records := make([]batchRecord, capacity)
	scratches := make([][]float32, numWorkers(r.Opts.NumThread))

	for {
		loadStart := time.Now()
		n, sumBytes, err := r.load(records)
		r.stats.LoadTime += time.Since(loadStart).Seconds()
		if err != nil {
			return errors.Wrap(err, "loading batch")
		}
		if n == 0 {
			return nil
		}

		procStart := time.Now()
		err = r.process(records[:n], scratches, warnings)
		r.stats.ProcessTime += time.Since(procStart).Seconds()
		if err != nil {
			return err
		}

		outStart := time.Now()
		err = r.emit(records[:n])
		r.stats.OutputTime += time.Since(outStart).Seconds()
		if err != nil {
			return errors.Wrap(err, "emitting batch")
		}

		r.stats.TotalReads += int64(n)
		r.stats.TotalBytes += sumBytes
		reclaim(records[:n])
	}
}

func numWorkers(n int) int {
	if n <= 0 {
		return DefaultOpts.NumThread
	}
	return n
}

// load pulls up to len(records) raw blobs, stopping early once cumulative
// compressed bytes reach Opts.BatchSizeBytes (spec.md §4.6 step 1).
func (r *Runner) load(records []batchRecord) (n int, sumBytes int64, err error) {
	maxBytes := r.Opts.BatchSizeBytes
	if maxBytes <= 0 {
		maxBytes = DefaultOpts.BatchSizeBytes
	}
	for n < len(records) && sumBytes < maxBytes {
		blob, size, err := r.Source.NextCompressedBlob()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, sumBytes, err
		}
		records[n] = batchRecord{blob: blob, byteSize: size}
		sumBytes += int64(size)
		n++
	}
	return n, sumBytes, nil
}

// process runs parse -> picoamp conversion -> segment -> normalize ->
// align for every record in the batch in parallel (spec.md §4.6 step 2,
// §5's "work unit: one record", realized with traverse.Each exactly as
// pileup/snp/pileup.go shards its per-job work).
func (r *Runner) process(records []batchRecord, scratches [][]float32, warnings *warnonce.Set) error {
	workers := numWorkers(r.Opts.NumThread)
	return traverse.Each(workers, func(workerIdx int) error {
		for i := workerIdx; i < len(records); i += workers {
			r.processOne(&records[i], &scratches[workerIdx], warnings)
			if records[i].err != nil {
				// A parse/allocation failure for one read is fatal for the
				// whole run, per spec.md §7's MalformedRecord policy.
				return errors.Wrapf(records[i].err, "read %q", records[i].raw.ReadID)
			}
		}
		return nil
	})
}

func (r *Runner) processOne(rec *batchRecord, scratch *[]float32, warnings *warnonce.Set) {
	raw, err := r.Source.DecompressAndParse(rec.blob)
	if err != nil {
		rec.err = errors.Wrap(ErrMalformedRecord, err.Error())
		return
	}
	rec.raw = raw

	if len(raw.RawSignal) == 0 {
		rec.events = event.Table{}
		return
	}

	signal := toPicoamps(raw)
	params := event.DNAParams
	if r.Opts.RNA {
		params = event.RNAParams
	}
	tbl := event.Segment(signal, params)
	if r.Opts.RNA {
		tbl.Reverse()
	}
	rec.nEvents = len(tbl.Events)

	need := r.Opts.PrefixSize + r.Opts.QuerySize
	if rec.nEvents < need && warnings.First("short-read:"+raw.ReadID) {
		log.Error.Printf("read %s has only %d events, fewer than prefix+query (%d); clamping", raw.ReadID, rec.nEvents, need)
	}

	res, err := tbl.Normalize(r.Opts.PrefixSize, r.Opts.QuerySize)
	if err != nil {
		rec.err = errors.Wrapf(err, "read %s", raw.ReadID)
		return
	}
	query := tbl.Window(res.Start, res.End)

	alignResult, buf := dtw.Align(query, r.Reference, *scratch)
	*scratch = buf
	rec.result = alignResult
	rec.events = tbl
}

// toPicoamps converts raw ADC samples to picoamps: pa[j] = (raw[j] +
// offset) * (range / digitisation), per spec.md §3.
func toPicoamps(raw RawRead) []float32 {
	out := make([]float32, len(raw.RawSignal))
	unit := raw.Range / raw.Digitisation
	for j, v := range raw.RawSignal {
		out[j] = (float32(v) + raw.Offset) * unit
	}
	return out
}

// emit writes one output row per record, in record order (spec.md §4.6
// step 3).
func (r *Runner) emit(records []batchRecord) error {
	w := r.Out
	for i := range records {
		if err := r.writeRow(w, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) writeRow(w io.Writer, rec *batchRecord) error {
	if len(rec.raw.RawSignal) == 0 {
		// Empty-signal sentinel row: see DESIGN.md's Open Question decision.
		_, err := fmt.Fprintf(w, "%s\t%d\t%d\t%d\t*\t*\t-1\t-1\t-1\t-1\t-1\t60\n",
			rec.raw.ReadID, r.Opts.QuerySize, r.Opts.PrefixSize, r.Opts.PrefixSize+r.Opts.QuerySize)
		return err
	}

	res := rec.result
	k := r.Model.K()
	contigLen := 0
	contigName := "*"
	if int(res.RefID) >= 0 && int(res.RefID) < len(r.Reference.Contigs) {
		c := r.Reference.Contigs[res.RefID]
		contigLen = c.Length + k - 1
		contigName = c.Name
	}
	_, err := fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%c\t%s\t%d\t%d\t%d\t%d\t%d\t60\n",
		rec.raw.ReadID,
		r.Opts.QuerySize,
		r.Opts.PrefixSize,
		r.Opts.PrefixSize+r.Opts.QuerySize,
		res.Strand,
		contigName,
		contigLen,
		int(res.RefPos)-r.Opts.QuerySize,
		res.RefPos,
		contigLen,
		contigLen,
	)
	return err
}

// reclaim frees the per-record signal/event/raw allocations while
// retaining the batch's record slots, per spec.md §4.6 step 4 / §9's
// "arenas" note.
func reclaim(records []batchRecord) {
	for i := range records {
		records[i].blob = nil
		records[i].events = event.Table{}
		records[i].raw.RawSignal = nil
		records[i].err = nil
	}
}

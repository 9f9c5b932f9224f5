// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
sigfish aligns raw nanopore signal reads against a reference, without
basecalling, by synthesizing the reference's expected signal from a pore
model and running subsequence DTW against each read's segmented events.
*/

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"

	"github.com/beebdev/sigfish-haru/encoding/fasta"
	"github.com/beebdev/sigfish-haru/encoding/slow5"
	"github.com/beebdev/sigfish-haru/model"
	"github.com/beebdev/sigfish-haru/pipeline"
	"github.com/beebdev/sigfish-haru/refsynth"
)

var (
	modelPath      = flag.String("model", "", "Pore-model file; defaults to the built-in DNA/RNA table selected by -rna")
	rna            = flag.Bool("rna", false, "Input is direct RNA (9-mer model, 3'->5' event order); default is DNA")
	region         = flag.String("region", "", "Restrict the reference to the named contig (bed xor region; empty = whole reference)")
	bedPath        = flag.String("bed", "", "BED file restricting the reference to the contigs it names (bed xor region)")
	prefixSize     = flag.Int("prefix-size", pipeline.DefaultOpts.PrefixSize, "Number of leading events skipped before the query window")
	querySize      = flag.Int("query-size", pipeline.DefaultOpts.QuerySize, "Number of events aligned per read")
	batchSize      = flag.Int("batch-size", pipeline.DefaultOpts.BatchSize, "Maximum reads loaded per batch")
	batchSizeBytes = flag.Int64("batch-size-bytes", pipeline.DefaultOpts.BatchSizeBytes, "Maximum cumulative compressed bytes loaded per batch")
	numThread      = flag.Int("num-thread", pipeline.DefaultOpts.NumThread, "Number of alignment worker goroutines")
	outPrefix      = flag.String("out", "", "Output path prefix; default writes the PAF-like rows to stdout")
)

func sigfishUsage() {
	fmt.Printf("Usage: %s [OPTIONS] refpath slow5path\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = sigfishUsage
	shutdown := grail.Init()
	defer shutdown()

	allArgs := flag.Args()
	if len(allArgs) != 2 {
		log.Fatalf("missing positional arguments (refpath and slow5path required); please check flag syntax: '%s'", strings.Join(allArgs, " "))
	}
	refPath, slow5Path := allArgs[0], allArgs[1]

	if *region != "" && *bedPath != "" {
		log.Fatalf("-region and -bed are mutually exclusive")
	}

	pm, err := loadModel(*modelPath, *rna)
	if err != nil {
		log.Panicf("%v", err)
	}

	contigFilter, err := regionFilter(*region, *bedPath)
	if err != nil {
		log.Panicf("%v", err)
	}

	refFile, err := os.Open(refPath)
	if err != nil {
		log.Panicf("opening %s: %v", refPath, err)
	}
	defer refFile.Close()

	fa, err := fasta.New(refFile, fasta.OptClean)
	if err != nil {
		log.Panicf("parsing %s: %v", refPath, err)
	}

	ref, err := refsynth.Synthesize(fasta.NewContigSource(fa), pm, refsynth.Options{
		RNA:          *rna,
		QuerySize:    *querySize,
		RegionFilter: contigFilter,
	})
	if err != nil {
		log.Panicf("synthesizing reference: %v", err)
	}

	slow5File, err := os.Open(slow5Path)
	if err != nil {
		log.Panicf("opening %s: %v", slow5Path, err)
	}
	defer slow5File.Close()

	src, err := slow5.NewReader(slow5File)
	if err != nil {
		log.Panicf("parsing %s: %v", slow5Path, err)
	}

	out, closeOut, err := openOutput(*outPrefix)
	if err != nil {
		log.Panicf("opening output: %v", err)
	}
	defer closeOut()

	runner := &pipeline.Runner{
		Model:     pm,
		Reference: ref,
		Opts: pipeline.Opts{
			BatchSize:      *batchSize,
			BatchSizeBytes: *batchSizeBytes,
			NumThread:      *numThread,
			PrefixSize:     *prefixSize,
			QuerySize:      *querySize,
			RNA:            *rna,
		},
		Source: src,
		Out:    out,
	}
	if err := runner.Run(); err != nil {
		log.Panicf("%v", err)
	}
	stats := runner.Stats()
	log.Debug.Printf("processed %d reads (%d bytes) in load=%.2fs process=%.2fs output=%.2fs",
		stats.TotalReads, stats.TotalBytes, stats.LoadTime, stats.ProcessTime, stats.OutputTime)
}

func loadModel(path string, rna bool) (*model.Model, error) {
	if path == "" {
		id := model.DNANucleotide
		if rna {
			id = model.RNANucleotide
		}
		return model.Builtin(id), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return model.Load(f)
}

// regionFilter builds a contig-name predicate from -region or -bed, or
// nil (no restriction) when neither is set.
func regionFilter(region, bedPath string) (func(string) bool, error) {
	switch {
	case region != "":
		name := strings.SplitN(region, ":", 2)[0]
		return func(contig string) bool { return contig == name }, nil
	case bedPath != "":
		names, err := readBedContigs(bedPath)
		if err != nil {
			return nil, err
		}
		return func(contig string) bool { return names[contig] }, nil
	default:
		return nil, nil
	}
}

func readBedContigs(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names[strings.Fields(line)[0]] = true
	}
	return names, scanner.Err()
}

func openOutput(prefix string) (out *bufio.Writer, closeFn func(), err error) {
	if prefix == "" {
		w := bufio.NewWriter(os.Stdout)
		return w, func() { w.Flush() }, nil
	}
	f, err := os.Create(prefix + ".paf")
	if err != nil {
		return nil, nil, err
	}
	w := bufio.NewWriter(f)
	return w, func() { w.Flush(); f.Close() }, nil
}

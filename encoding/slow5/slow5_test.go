package slow5_test

import (
	"io"
	"strings"
	"testing"

	"github.com/beebdev/sigfish-haru/encoding/slow5"
)

const sampleFile = "#slow5_version\t1.0.0\n" +
	"#num_read_groups\t1\n" +
	"channel_number\t1\n" +
	"#char*\tuint32_t\tdouble\tdouble\tdouble\n" +
	"#read_id\tread_group\tdigitisation\toffset\trange\n" +
	"read0\t0\t8192\t4\t100\n" +
	"read1\t0\t8192\t-2\t95.5\n"

func TestReadHeader(t *testing.T) {
	r, err := slow5.NewReader(strings.NewReader(sampleFile))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	hdr := r.Header()
	if len(hdr.HeaderValues) != 1 {
		t.Fatalf("num read groups = %d, want 1", len(hdr.HeaderValues))
	}
	if hdr.HeaderValues[0].Attributes["channel_number"] != "1" {
		t.Fatalf("channel_number attribute = %q", hdr.HeaderValues[0].Attributes["channel_number"])
	}
}

func TestRoundTripNoSignal(t *testing.T) {
	r, err := slow5.NewReader(strings.NewReader(sampleFile))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	var reads []string
	for {
		blob, _, err := r.NextCompressedBlob()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextCompressedBlob: %v", err)
		}
		rec, err := r.DecompressAndParse(blob)
		if err != nil {
			t.Fatalf("DecompressAndParse: %v", err)
		}
		reads = append(reads, rec.ReadID)
		if rec.Digitisation != 8192 {
			t.Fatalf("digitisation = %v, want 8192", rec.Digitisation)
		}
	}
	if len(reads) != 2 || reads[0] != "read0" || reads[1] != "read1" {
		t.Fatalf("reads = %v", reads)
	}
}

func TestRoundTripWithRawSignal(t *testing.T) {
	file := "#slow5_version\t1.0.0\n" +
		"#num_read_groups\t1\n" +
		"channel_number\t1\n" +
		"#char*\tuint32_t\tdouble\tdouble\tdouble\tint16_t*\n" +
		"#read_id\tread_group\tdigitisation\toffset\trange\traw_signal\n" +
		"read0\t0\t8192\t0\t100\t10,20,-5,3000,-3000\n"

	r, err := slow5.NewReader(strings.NewReader(file))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	blob, _, err := r.NextCompressedBlob()
	if err != nil {
		t.Fatalf("NextCompressedBlob: %v", err)
	}
	rec, err := r.DecompressAndParse(blob)
	if err != nil {
		t.Fatalf("DecompressAndParse: %v", err)
	}
	want := []int16{10, 20, -5, 3000, -3000}
	if len(rec.RawSignal) != len(want) {
		t.Fatalf("raw signal length = %d, want %d", len(rec.RawSignal), len(want))
	}
	for i, v := range want {
		if rec.RawSignal[i] != v {
			t.Fatalf("raw signal[%d] = %d, want %d", i, rec.RawSignal[i], v)
		}
	}
}

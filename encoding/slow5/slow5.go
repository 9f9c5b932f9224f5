// Package slow5 reads SLOW5-formatted nanopore signal files: a
// tab-separated ASCII format that records one raw-signal read per line,
// preceded by a small header block.
//
// slow5 is an alternative to Oxford Nanopore's fast5/hdf5 container; the
// format is described at https://hasindu2008.github.io/slow5specs/.
//
// Grounded on other_examples' bebop-poly slow5.go parser (header/record
// field layout, Read struct) and its StreamVByte raw-signal compression
// idiom, which Reader.NextCompressedBlob/DecompressAndParse reuse to
// satisfy pipeline.Source's compressed-blob contract: each record's
// numeric columns are zstd-compressed and its raw_signal column is
// additionally svb-compressed, mirroring how blow5 layers svb under a
// general-purpose codec.
package slow5

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/koeng101/svb"
	"github.com/pkg/errors"

	"github.com/beebdev/sigfish-haru/pipeline"
)

// ErrMalformedRecord is wrapped with line context on any parse failure.
var ErrMalformedRecord = errors.New("malformed slow5 record")

// HeaderValue holds one read group's attributes, keyed the same way the
// file's `#attribute\tvalue0\tvalue1...` lines declare them.
type HeaderValue struct {
	ReadGroupID  uint32
	Slow5Version string
	Attributes   map[string]string
}

// Header is the metadata block preceding a slow5 file's reads.
type Header struct {
	HeaderValues []HeaderValue
}

// Reader parses a slow5 file's header once, then hands out each
// subsequent line as an opaque compressed blob (pipeline.Source).
type Reader struct {
	br        *bufio.Reader
	headerMap map[int]string // column index -> field name
	header    Header
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewReader parses r's header block and returns a Reader positioned at
// the first read record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	headerMap := make(map[int]string)
	var headers []HeaderValue
	var slow5Version string
	var numReadGroups uint32

	for {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return nil, errors.Wrap(err, "reading slow5 header")
		}
		line = strings.TrimRight(line, "\r\n")
		values := strings.Split(line, "\t")
		if len(values) < 2 {
			return nil, errors.Wrapf(ErrMalformedRecord, "header line without tabs: %q", line)
		}

		if numReadGroups == 0 {
			switch values[0] {
			case "#slow5_version":
				slow5Version = values[1]
			case "#num_read_groups":
				n, err := strconv.ParseUint(values[1], 10, 32)
				if err != nil {
					return nil, errors.Wrapf(ErrMalformedRecord, "num_read_groups: %v", err)
				}
				numReadGroups = uint32(n)
				for id := uint32(0); id < numReadGroups; id++ {
					headers = append(headers, HeaderValue{Slow5Version: slow5Version, ReadGroupID: id, Attributes: make(map[string]string)})
				}
			}
			continue
		}
		if values[0] == "#char*" {
			continue // type line carries no data we need beyond column order
		}
		if values[0] == "#read_id" {
			headerMap[0] = "read_id"
			for i := 1; i < len(values); i++ {
				headerMap[i] = values[i]
			}
			break
		}
		if len(values) != int(numReadGroups+1) {
			return nil, errors.Wrapf(ErrMalformedRecord, "attribute %q: want %d values, got %d", values[0], numReadGroups, len(values)-1)
		}
		for id := 0; id < int(numReadGroups); id++ {
			headers[id].Attributes[values[0]] = values[id+1]
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "initializing zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "initializing zstd decoder")
	}
	return &Reader{br: br, headerMap: headerMap, header: Header{HeaderValues: headers}, enc: enc, dec: dec}, nil
}

// Header returns the parsed header block.
func (r *Reader) Header() Header { return r.header }

// blob is the on-wire framing NextCompressedBlob produces: a
// zstd-compressed tab-separated line with the raw_signal column
// replaced by a placeholder, plus the column's svb-compressed mask and
// data arrays and the signal's element count.
type blob struct {
	zstdLine  []byte
	svbMask   []byte
	svbData   []byte
	signalLen uint32
}

const rawSignalPlaceholder = "\x00"

// NextCompressedBlob implements pipeline.Source: it reads one record
// line, compresses it, and returns the on-wire byte count for
// batch_size_bytes accounting.
func (r *Reader) NextCompressedBlob() ([]byte, int, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			if strings.TrimSpace(line) == "" {
				return nil, 0, io.EOF
			}
		} else {
			return nil, 0, err
		}
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, 0, io.EOF
	}
	fields := strings.Split(line, "\t")

	var mask, data []byte
	var signalLen uint32
	rest := make([]string, len(fields))
	copy(rest, fields)
	for i, f := range fields {
		if r.headerMap[i] != "raw_signal" {
			continue
		}
		signal, err := parseRawSignal(f)
		if err != nil {
			return nil, 0, errors.Wrapf(ErrMalformedRecord, "raw_signal: %v", err)
		}
		mask, data = svbCompressRawSignal(signal)
		signalLen = uint32(len(signal))
		rest[i] = rawSignalPlaceholder
	}

	zstdLine := r.enc.EncodeAll([]byte(strings.Join(rest, "\t")), nil)
	b := blob{zstdLine: zstdLine, svbMask: mask, svbData: data, signalLen: signalLen}
	encoded := encodeBlob(b)
	return encoded, len(encoded), nil
}

// DecompressAndParse implements pipeline.Source.
func (r *Reader) DecompressAndParse(raw []byte) (pipeline.RawRead, error) {
	b, err := decodeBlob(raw)
	if err != nil {
		return pipeline.RawRead{}, errors.Wrap(ErrMalformedRecord, err.Error())
	}
	lineBytes, err := r.dec.DecodeAll(b.zstdLine, nil)
	if err != nil {
		return pipeline.RawRead{}, errors.Wrap(ErrMalformedRecord, err.Error())
	}
	fields := strings.Split(string(lineBytes), "\t")

	var out pipeline.RawRead
	for i, v := range fields {
		name := r.headerMap[i]
		if v == "." {
			continue
		}
		switch name {
		case "read_id":
			out.ReadID = v
		case "digitisation":
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return out, errors.Wrapf(ErrMalformedRecord, "digitisation: %v", err)
			}
			out.Digitisation = float32(f)
		case "offset":
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return out, errors.Wrapf(ErrMalformedRecord, "offset: %v", err)
			}
			out.Offset = float32(f)
		case "range":
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				return out, errors.Wrapf(ErrMalformedRecord, "range: %v", err)
			}
			out.Range = float32(f)
		case "raw_signal":
			out.RawSignal = svbDecompressRawSignal(int(b.signalLen), b.svbMask, b.svbData)
		}
	}
	return out, nil
}

func parseRawSignal(field string) ([]int16, error) {
	if field == "." || field == "" {
		return nil, nil
	}
	parts := strings.Split(field, ",")
	out := make([]int16, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = int16(v)
	}
	return out, nil
}

// svbCompressRawSignal converts raw signal samples to a StreamVByte mask
// and data array; both are required to decompress.
func svbCompressRawSignal(rawSignal []int16) (mask, data []byte) {
	u := make([]uint32, len(rawSignal))
	for i, v := range rawSignal {
		u[i] = uint32(v)
	}
	return svb.Uint32Encode(u)
}

// svbDecompressRawSignal reverses svbCompressRawSignal given the
// original sample count.
func svbDecompressRawSignal(lenRawSignal int, mask, data []byte) []int16 {
	if lenRawSignal == 0 {
		return nil
	}
	u := make([]uint32, lenRawSignal)
	svb.Uint32Decode32(mask, data, u)
	out := make([]int16, lenRawSignal)
	for i := 0; i < lenRawSignal; i++ {
		out[i] = int16(u[i])
	}
	return out
}

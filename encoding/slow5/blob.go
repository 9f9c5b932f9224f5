package slow5

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// encodeBlob writes b.signalLen as a uint32, then frames b's three
// variable-length parts with a uint32 length prefix apiece so decodeBlob
// can split them back out without a delimiter that could collide with
// compressed bytes.
func encodeBlob(b blob) []byte {
	out := make([]byte, 0, 20+len(b.zstdLine)+len(b.svbMask)+len(b.svbData))
	var lenBuf [4]byte

	binary.LittleEndian.PutUint32(lenBuf[:], b.signalLen)
	out = append(out, lenBuf[:]...)

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b.zstdLine)))
	out = append(out, lenBuf[:]...)
	out = append(out, b.zstdLine...)

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b.svbMask)))
	out = append(out, lenBuf[:]...)
	out = append(out, b.svbMask...)

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b.svbData)))
	out = append(out, lenBuf[:]...)
	out = append(out, b.svbData...)

	return out
}

func decodeBlob(raw []byte) (blob, error) {
	var b blob
	readUint32 := func() (uint32, error) {
		if len(raw) < 4 {
			return 0, errors.New("truncated blob")
		}
		v := binary.LittleEndian.Uint32(raw[:4])
		raw = raw[4:]
		return v, nil
	}
	readBytes := func(n uint32) ([]byte, error) {
		if uint32(len(raw)) < n {
			return nil, errors.New("truncated blob")
		}
		v := raw[:n]
		raw = raw[n:]
		return v, nil
	}

	n, err := readUint32()
	if err != nil {
		return b, err
	}
	b.signalLen = n

	n, err = readUint32()
	if err != nil {
		return b, err
	}
	if b.zstdLine, err = readBytes(n); err != nil {
		return b, err
	}

	n, err = readUint32()
	if err != nil {
		return b, err
	}
	if b.svbMask, err = readBytes(n); err != nil {
		return b, err
	}

	n, err = readUint32()
	if err != nil {
		return b, err
	}
	if b.svbData, err = readBytes(n); err != nil {
		return b, err
	}
	return b, nil
}

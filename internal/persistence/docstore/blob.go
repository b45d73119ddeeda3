package docstore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Documents are stored behind a one byte frame so compressed and raw blobs can coexist.
const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zdec, _ = zstd.NewReader(nil)
)

func frame(doc []byte, compress bool) []byte {
	if compress && len(doc) > 64 {
		out := make([]byte, 1, len(doc)/2+1)
		out[0] = frameZstd
		out = zenc.EncodeAll(doc, out)
		if len(out) < len(doc)+1 {
			return out
		}
	}
	out := make([]byte, len(doc)+1)
	out[0] = frameRaw
	copy(out[1:], doc)
	return out
}

func unframe(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("docstore: empty blob")
	}
	switch b[0] {
	case frameRaw:
		out := make([]byte, len(b)-1)
		copy(out, b[1:])
		return out, nil
	case frameZstd:
		out, err := zdec.DecodeAll(b[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("docstore: zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("docstore: unknown blob frame %d", b[0])
	}
}

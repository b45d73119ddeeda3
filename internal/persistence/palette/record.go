package palette

import (
	"bytes"
	"fmt"

	"github.com/oriumgames/nbt"
)

// versionRecord is one stored dictionary: descriptors in id order at the time it was written.
type versionRecord struct {
	ID      int32    `nbt:"_id"`
	Entries []string `nbt:"entries"`
}

func encodeVersion(r versionRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := nbt.NewEncoderWithEncoding(&buf, nbt.BigEndian).Encode(r); err != nil {
		return nil, fmt.Errorf("encode palette version %d: %w", r.ID, err)
	}
	return buf.Bytes(), nil
}

func decodeVersion(doc []byte) (versionRecord, error) {
	var r versionRecord
	if err := nbt.NewDecoderWithEncoding(bytes.NewReader(doc), nbt.BigEndian).Decode(&r); err != nil {
		return r, fmt.Errorf("decode palette version: %w", err)
	}
	return r, nil
}

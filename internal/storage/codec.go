package storage

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Export and import lists are stored as zstd-compressed JSON. Encoder and
// decoder are safe for concurrent EncodeAll/DecodeAll use.
var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
)

// encodeBlob marshals v to JSON and compresses it
func encodeBlob(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blob: %w", err)
	}
	return blobEncoder.EncodeAll(raw, nil), nil
}

// decodeBlob decompresses data and unmarshals it into v. Empty data leaves
// v untouched.
func decodeBlob(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	raw, err := blobDecoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("failed to decompress blob: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal blob: %w", err)
	}
	return nil
}

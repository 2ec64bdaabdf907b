package protocol

import (
	"fmt"

	"chunkforge.dev/internal/world/chunk"
)

// Binary frames open with a one-byte kind tag.
const (
	// FrameChunk carries one chunk: tag, 8-byte big-endian chunk key,
	// then the zstd-compressed chunk record.
	FrameChunk byte = 0x01
)

const frameHeaderLen = 1 + 8

// EncodeChunkFrame builds the binary frame for one compressed chunk record.
func EncodeChunkFrame(key chunk.Key, compressed []byte) []byte {
	out := make([]byte, 0, frameHeaderLen+len(compressed))
	out = append(out, FrameChunk)
	out = append(out, key.StoreKey()...)
	out = append(out, compressed...)
	return out
}

// DecodeChunkFrame splits a binary frame back into its key and compressed
// record. The payload slice aliases the input.
func DecodeChunkFrame(b []byte) (chunk.Key, []byte, error) {
	if len(b) < frameHeaderLen {
		return chunk.Key{}, nil, fmt.Errorf("chunk frame too short: %d bytes", len(b))
	}
	if b[0] != FrameChunk {
		return chunk.Key{}, nil, fmt.Errorf("unknown binary frame kind 0x%02x", b[0])
	}
	key, err := chunk.ParseStoreKey(b[1:frameHeaderLen])
	if err != nil {
		return chunk.Key{}, nil, err
	}
	return key, b[frameHeaderLen:], nil
}

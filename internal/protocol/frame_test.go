package protocol

import (
	"bytes"
	"testing"

	"chunkforge.dev/internal/world/chunk"
)

func TestChunkFrameRoundTrip(t *testing.T) {
	key := chunk.Key{CX: -12, CZ: 90}
	payload := []byte{0x28, 0xb5, 0x2f, 0xfd, 0x01, 0x02, 0x03}

	frame := EncodeChunkFrame(key, payload)
	if frame[0] != FrameChunk {
		t.Fatalf("frame kind = 0x%02x, want 0x%02x", frame[0], FrameChunk)
	}

	gotKey, gotPayload, err := DecodeChunkFrame(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotKey != key {
		t.Fatalf("key = %s, want %s", gotKey, key)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: %x vs %x", gotPayload, payload)
	}
}

func TestChunkFrameRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeChunkFrame(nil); err == nil {
		t.Fatalf("empty frame accepted")
	}
	if _, _, err := DecodeChunkFrame([]byte{FrameChunk, 1, 2}); err == nil {
		t.Fatalf("truncated frame accepted")
	}
	frame := EncodeChunkFrame(chunk.Key{CX: 1, CZ: 1}, []byte{0xff})
	frame[0] = 0x7f
	if _, _, err := DecodeChunkFrame(frame); err == nil {
		t.Fatalf("unknown frame kind accepted")
	}
}

func TestDecodeBaseRoutesByType(t *testing.T) {
	base, err := DecodeBase([]byte(`{"type":"POSE","protocol_version":"1.0","x":4,"z":-9}`))
	if err != nil {
		t.Fatalf("decode base: %v", err)
	}
	if base.Type != TypePose || base.ProtocolVersion != Version {
		t.Fatalf("base = %+v", base)
	}
	if _, err := DecodeBase([]byte(`{`)); err == nil {
		t.Fatalf("malformed JSON accepted")
	}
}

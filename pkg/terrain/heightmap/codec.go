package heightmap

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// blobVersion prefixes every encoded heightmap.
const blobVersion = 1

// MaxBlobWidth bounds the width accepted by Decode.
const MaxBlobWidth = 1 << 15

// Encode packs h as a zlib-compressed blob: version byte, big-endian uint32
// width, then width² little-endian float32 heights.
func Encode(h *Heightmap) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	raw := make([]byte, 5+4*len(h.Data))
	raw[0] = blobVersion
	binary.BigEndian.PutUint32(raw[1:5], uint32(h.Width))
	for i, v := range h.Data {
		binary.LittleEndian.PutUint32(raw[5+4*i:], math.Float32bits(float32(v)))
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress heightmap: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zlib writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(blob []byte) (*Heightmap, error) {
	zr, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("open zlib reader: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress heightmap: %w", err)
	}
	if len(raw) < 5 {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrInvalidGeometry, len(raw))
	}
	if raw[0] != blobVersion {
		return nil, fmt.Errorf("unsupported heightmap blob version %d", raw[0])
	}

	width := int(binary.BigEndian.Uint32(raw[1:5]))
	if width <= 0 || width > MaxBlobWidth {
		return nil, fmt.Errorf("%w: blob width %d outside [1, %d]", ErrInvalidGeometry, width, MaxBlobWidth)
	}
	if want := 5 + 4*width*width; len(raw) != want {
		return nil, fmt.Errorf("%w: blob holds %d bytes, want %d for width %d", ErrInvalidGeometry, len(raw), want, width)
	}

	h := New(width)
	for i := range h.Data {
		h.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[5+4*i:])))
	}
	return h, nil
}

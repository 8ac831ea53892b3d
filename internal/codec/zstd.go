package codec

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ErrDecompressedTooLarge is returned when a zstd payload would decompress
// past the configured cap. Callers must not have allocated past that cap
// when this is returned (spec.md §8 property 12, zip-bomb safety).
var ErrDecompressedTooLarge = errors.New("codec: decompressed payload exceeds cap")

// ZstdCompressor wraps a reusable zstd encoder for a single connection's
// compression envelope (spec.md §4.1) or for transfer chunk compression
// (spec.md §4.8).
type ZstdCompressor struct {
	enc *zstd.Encoder
}

// NewZstdCompressor creates a streaming zstd compressor at the given level.
func NewZstdCompressor(level zstd.EncoderLevel) (*ZstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	return &ZstdCompressor{enc: enc}, nil
}

// Compress returns the zstd-compressed form of src. The encoder is reused
// across calls; each call produces an independent zstd frame.
func (c *ZstdCompressor) Compress(src []byte) []byte {
	return c.enc.EncodeAll(src, nil)
}

// Close releases the encoder's resources.
func (c *ZstdCompressor) Close() error {
	return c.enc.Close()
}

// ZstdDecompressor wraps a reusable zstd decoder with an enforced output cap.
type ZstdDecompressor struct {
	dec *zstd.Decoder
}

// NewZstdDecompressor creates a streaming zstd decompressor.
func NewZstdDecompressor() (*ZstdDecompressor, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ZstdDecompressor{dec: dec}, nil
}

// Decompress decodes src, refusing to allocate more than maxSize bytes of
// output. It streams through an io.LimitReader rather than decoding the
// whole frame up front, so a maliciously large declared size cannot force
// an over-cap allocation.
func (d *ZstdDecompressor) Decompress(src []byte, maxSize int64) ([]byte, error) {
	if err := d.dec.Reset(bytes.NewReader(src)); err != nil {
		return nil, err
	}
	limited := io.LimitReader(d.dec, maxSize+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > maxSize {
		return nil, ErrDecompressedTooLarge
	}
	return out, nil
}

// Close releases the decoder's resources.
func (d *ZstdDecompressor) Close() {
	d.dec.Close()
}

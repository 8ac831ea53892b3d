package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Deflater compresses pixel frame payloads with raw DEFLATE (no zlib
// header), so browser clients can decode with the native
// DecompressionStream('deflate-raw') API (spec.md §4.5).
type Deflater struct {
	level int
	buf   bytes.Buffer
	w     *flate.Writer
}

// NewDeflater returns a reusable raw-DEFLATE compressor at the given level.
func NewDeflater(level int) (*Deflater, error) {
	d := &Deflater{level: level}
	w, err := flate.NewWriter(&d.buf, level)
	if err != nil {
		return nil, fmt.Errorf("codec: new deflate writer: %w", err)
	}
	d.w = w
	return d, nil
}

// Compress appends the raw-DEFLATE encoding of src to dst and returns the
// extended slice. Reuses an internal scratch buffer across calls.
func (d *Deflater) Compress(dst, src []byte) ([]byte, error) {
	d.buf.Reset()
	d.w.Reset(&d.buf)

	if _, err := d.w.Write(src); err != nil {
		return nil, fmt.Errorf("codec: deflate write: %w", err)
	}
	if err := d.w.Close(); err != nil {
		return nil, fmt.Errorf("codec: deflate close: %w", err)
	}

	return append(dst, d.buf.Bytes()...), nil
}

// InflateRaw decompresses a raw-DEFLATE payload with no zlib header.
func InflateRaw(compressed []byte, expectedSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	out := make([]byte, 0, expectedSize)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("codec: inflate: %w", err)
	}
	return buf.Bytes(), nil
}

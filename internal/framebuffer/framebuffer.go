// Package framebuffer implements the pixel capture, diff, and compression
// pipeline for a single panel (spec.md §4.5). It owns the four fixed-size
// pixel buffers and the wire-format pixel frame encoder.
package framebuffer

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/termweb/termweb-go/internal/codec"
)

// FrameType tags a pixel frame's wire header (spec.md §3 "Pixel frame").
type FrameType byte

const (
	FrameTypeKeyframe        FrameType = 1
	FrameTypeDelta           FrameType = 2
	FrameTypeRequestKeyframe FrameType = 3
)

const (
	keyframeIntervalDefault = 2000 * time.Millisecond
	wireHeaderSize          = 1 + 4 + 2 + 2 + 4 // type + sequence + width + height + compressed_size
)

// FrameBuffer holds the four pixel buffers for one panel and the deflate
// compressor used to encode outgoing frames (spec.md §3 "FrameBuffer").
// current and previous are swapped, never copied, at the end of each frame.
type FrameBuffer struct {
	width, height int

	raw      []byte // BGRA scratch, width*height*4
	current  []byte // RGB, width*height*3
	previous []byte // RGB, width*height*3
	diff     []byte // XOR scratch, width*height*3

	out      []byte // wire frame output, cap rgb+1024: 13-byte header, then compressed data
	deflater *codec.Deflater

	sequence       uint32
	lastKeyframeMs int64
	forceKeyframe  bool

	keyframeInterval time.Duration
}

// New allocates a FrameBuffer for the given pixel dimensions.
func New(width, height int, deflateLevel int) (*FrameBuffer, error) {
	d, err := codec.NewDeflater(deflateLevel)
	if err != nil {
		return nil, fmt.Errorf("framebuffer: new deflater: %w", err)
	}
	fb := &FrameBuffer{keyframeInterval: keyframeIntervalDefault, deflater: d}
	fb.resize(width, height)
	return fb, nil
}

func (fb *FrameBuffer) resize(width, height int) {
	rgbSize := width * height * 3
	fb.width = width
	fb.height = height
	fb.raw = make([]byte, width*height*4)
	fb.current = make([]byte, rgbSize)
	fb.previous = make([]byte, rgbSize)
	fb.diff = make([]byte, rgbSize)
	fb.out = make([]byte, 0, rgbSize+1024)
	fb.forceKeyframe = true
}

// Resize discards all four buffers and forces the next frame to be a
// keyframe (spec.md §3 "Resize discards both and forces a keyframe").
func (fb *FrameBuffer) Resize(width, height int) {
	if width == fb.width && height == fb.height {
		return
	}
	fb.resize(width, height)
}

// Dimensions returns the current pixel size.
func (fb *FrameBuffer) Dimensions() (width, height int) { return fb.width, fb.height }

// ForceKeyframe marks the next PrepareFrame call to emit a keyframe.
func (fb *FrameBuffer) ForceKeyframe() { fb.forceKeyframe = true }

// SetKeyframeInterval overrides the default 2000ms keyframe interval
// (spec.md §9 Open Question 2, decided configurable in DESIGN.md).
func (fb *FrameBuffer) SetKeyframeInterval(d time.Duration) {
	if d > 0 {
		fb.keyframeInterval = d
	}
}

// CaptureBGRA converts srcStride-respecting BGRA source bytes into the
// current RGB buffer (spec.md §4.5 "BGRA→RGB"). Alpha is dropped. The
// source row stride may exceed width*4 for hardware surfaces; only
// min(dst_row, src_row) bytes are copied per row.
func (fb *FrameBuffer) CaptureBGRA(src []byte, srcStride int) {
	dstRowBytes := fb.width * 3
	srcRowBytes := fb.width * 4
	n := srcRowBytes
	if srcStride < n {
		n = srcStride
	}

	for y := 0; y < fb.height; y++ {
		srcRow := src[y*srcStride : y*srcStride+n]
		dstRow := fb.current[y*dstRowBytes : y*dstRowBytes+dstRowBytes]
		pixels := n / 4
		for x := 0; x < pixels; x++ {
			s := srcRow[x*4 : x*4+4]
			d := dstRow[x*3 : x*3+3]
			d[0] = s[2] // R
			d[1] = s[1] // G
			d[2] = s[0] // B
		}
	}
}

// xorDiff computes diff[i] = current[i] ^ previous[i] over the full RGB
// buffer, batching 8 bytes at a time to help the compiler auto-vectorize
// (spec.md §4.5 recommends 32-byte batches; 8-byte word XOR achieves the
// same effect with less bookkeeping in Go).
func xorDiff(dst, current, previous []byte) {
	n := len(current)
	i := 0
	for ; i+8 <= n; i += 8 {
		cw := binary.LittleEndian.Uint64(current[i : i+8])
		pw := binary.LittleEndian.Uint64(previous[i : i+8])
		binary.LittleEndian.PutUint64(dst[i:i+8], cw^pw)
	}
	for ; i < n; i++ {
		dst[i] = current[i] ^ previous[i]
	}
}

// shouldEmitKeyframe implements spec.md §4.5's keyframe decision.
func (fb *FrameBuffer) shouldEmitKeyframe(nowMs int64) bool {
	if fb.sequence == 0 {
		return true
	}
	if fb.forceKeyframe {
		return true
	}
	return nowMs-fb.lastKeyframeMs >= fb.keyframeInterval.Milliseconds()
}

// PrepareFrame computes the keyframe decision, compresses the appropriate
// source buffer, writes the wire header, swaps current/previous, and
// increments sequence (spec.md §4.6 prepare_frame). The returned slice is
// a borrowed view into the FrameBuffer's output buffer — callers must not
// retain it past the next PrepareFrame call.
func (fb *FrameBuffer) PrepareFrame(nowMs int64) (payload []byte, isKeyframe bool, err error) {
	isKeyframe = fb.shouldEmitKeyframe(nowMs)

	var source []byte
	if isKeyframe {
		source = fb.current
	} else {
		xorDiff(fb.diff, fb.current, fb.previous)
		source = fb.diff
	}

	// Compress past the header slot, then fill the header in last.
	out, err := fb.deflater.Compress(fb.out[:wireHeaderSize], source)
	if err != nil {
		return nil, false, fmt.Errorf("framebuffer: compress: %w", err)
	}
	fb.out = out[:0] // reset length but keep capacity for next call

	frameType := FrameTypeDelta
	if isKeyframe {
		frameType = FrameTypeKeyframe
	}

	out[0] = byte(frameType)
	binary.LittleEndian.PutUint32(out[1:5], fb.sequence)
	binary.LittleEndian.PutUint16(out[5:7], uint16(fb.width))
	binary.LittleEndian.PutUint16(out[7:9], uint16(fb.height))
	binary.LittleEndian.PutUint32(out[9:13], uint32(len(out)-wireHeaderSize))

	if isKeyframe {
		fb.forceKeyframe = false
		fb.lastKeyframeMs = nowMs
	}
	fb.sequence++ // wraps per spec.md §3 "monotonically wrapping sequence"

	fb.current, fb.previous = fb.previous, fb.current // O(1) swap, no copy

	return out, isKeyframe, nil
}

// Sequence returns the next sequence number to be emitted.
func (fb *FrameBuffer) Sequence() uint32 { return fb.sequence }

// Package wsconn implements the WebSocket connection layer of spec.md §4.1:
// handshake, frame read/write, an app-level zstd compression envelope,
// masked payload handling, vectored writes that preserve frame atomicity
// under backpressure, and clean teardown under concurrent sends.
//
// This is deliberately not built on a WebSocket client/server library —
// implementing this layer is the subject of the specification. See
// DESIGN.md for the full justification.
package wsconn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/termweb/termweb-go/internal/codec"
	"github.com/termweb/termweb-go/internal/logging"
)

const maxPayloadBytes = 16 * 1024 * 1024

var log = logging.L("wsconn")

// Config controls per-connection behavior.
type Config struct {
	EnableCompression    bool
	MaxPayloadBytes      int64
	MaxDecompressedBytes int64
	WriteTimeout         time.Duration
}

// DefaultConfig mirrors spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		EnableCompression:    false,
		MaxPayloadBytes:      maxPayloadBytes,
		MaxDecompressedBytes: maxPayloadBytes,
		WriteTimeout:         time.Second,
	}
}

// Conn is a single accepted, handshake-complete WebSocket connection.
// Owns a byte stream, a write mutex that serializes concurrent writes
// with teardown, optional per-connection compressor/decompressor state,
// and an opaque UserData binding it to a Panel or TransferSession
// (spec.md §3 "Connection").
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	cfg  Config
	uri  string

	writeMu sync.Mutex
	isOpen  bool

	compressor   *codec.ZstdCompressor
	decompressor *codec.ZstdDecompressor

	// UserData binds this connection to a Panel or TransferSession. Only
	// ever touched under an external lock (the orchestrator's server
	// mutex) — the connection itself does not synchronize access to it.
	UserData any
}

// Accept performs the server-side WebSocket handshake on conn and, if
// cfg.EnableCompression is set, initializes the per-connection zstd
// streaming compressor and decompressor (spec.md §4.1).
func Accept(conn net.Conn, cfg Config) (*Conn, error) {
	req, br, err := readHandshake(conn)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeResponse(conn, req.key); err != nil {
		return nil, fmt.Errorf("wsconn: write handshake response: %w", err)
	}

	c := &Conn{
		conn:   conn,
		br:     br,
		cfg:    cfg,
		uri:    req.uri,
		isOpen: true,
	}

	if cfg.EnableCompression {
		comp, err := codec.NewZstdCompressor(3)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("wsconn: new zstd compressor: %w", err)
		}
		decomp, err := codec.NewZstdDecompressor()
		if err != nil {
			comp.Close()
			conn.Close()
			return nil, fmt.Errorf("wsconn: new zstd decompressor: %w", err)
		}
		c.compressor = comp
		c.decompressor = decomp
	}

	return c, nil
}

// URI returns the handshake request's URI (for auth-token extraction, for
// example), captured at accept time.
func (c *Conn) URI() string { return c.uri }

// IsOpen reports whether the connection is still open, under the write
// mutex as spec.md §4.1 requires ("worker threads check is_open under the
// write mutex before writing").
func (c *Conn) IsOpen() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.isOpen
}

// ReadFrame parses the next complete frame off the wire (spec.md §4.1).
func (c *Conn) ReadFrame() (Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(c.br, header[:]); err != nil {
		return Frame{}, c.classifyReadErr(err)
	}

	fin := header[0]&0x80 != 0
	opcode := Opcode(header[0] & 0x0F)
	masked := header[1]&0x80 != 0
	length := int64(header[1] & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(c.br, ext[:]); err != nil {
			return Frame{}, c.classifyReadErr(err)
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(c.br, ext[:]); err != nil {
			return Frame{}, c.classifyReadErr(err)
		}
		length = int64(binary.BigEndian.Uint64(ext[:]))
	}

	if length > c.effectiveMaxPayload() {
		return Frame{}, ErrPayloadTooLarge
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(c.br, maskKey[:]); err != nil {
			return Frame{}, c.classifyReadErr(err)
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return Frame{}, c.classifyReadErr(err)
	}

	if masked {
		maskPayload(payload, maskKey[:])
	}

	if opcode == OpBinary && c.cfg.EnableCompression && len(payload) >= 2 {
		flag := payload[0]
		body := payload[1:]
		switch flag {
		case envelopeUncompressed:
			payload = body
		case envelopeZstd:
			decompressed, err := c.decompressor.Decompress(body, c.effectiveMaxDecompressed())
			if err != nil {
				return Frame{}, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
			}
			payload = decompressed
		default:
			// Unknown flag values pass through unchanged per spec.md §4.1.
		}
	}

	return Frame{Fin: fin, Opcode: opcode, Payload: payload}, nil
}

func (c *Conn) classifyReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrBrokenPipe
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return err // let the caller distinguish shutdown-poll timeouts
	}
	return fmt.Errorf("wsconn: read: %w", err)
}

func (c *Conn) effectiveMaxPayload() int64 {
	if c.cfg.MaxPayloadBytes > 0 {
		return c.cfg.MaxPayloadBytes
	}
	return maxPayloadBytes
}

func (c *Conn) effectiveMaxDecompressed() int64 {
	if c.cfg.MaxDecompressedBytes > 0 {
		return c.cfg.MaxDecompressedBytes
	}
	return maxPayloadBytes
}

// SetReadDeadline forwards to the underlying connection, used by the
// server's per-connection loop for cooperative shutdown polling.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// SendText sends a text frame.
func (c *Conn) SendText(s string) error {
	return c.writeFrame(OpText, []byte(s), false)
}

// SendBinary sends a binary frame, applying the compression envelope if
// enabled.
func (c *Conn) SendBinary(payload []byte) error {
	return c.writeFrame(OpBinary, payload, true)
}

// SendBinaryParts sends a binary frame built from prefix and payload without
// concatenating them first (spec.md §4.1 send_binary_parts).
func (c *Conn) SendBinaryParts(prefix, payload []byte) error {
	if !c.cfg.EnableCompression {
		return c.writeParts(OpBinary, [][]byte{prefix, payload})
	}
	// Compression requires a contiguous source buffer, so parts are joined
	// only on the compression path.
	joined := make([]byte, 0, len(prefix)+len(payload))
	joined = append(joined, prefix...)
	joined = append(joined, payload...)
	return c.writeFrame(OpBinary, joined, true)
}

// SendClose sends a close control frame.
func (c *Conn) SendClose(code uint16, reason string) error {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	return c.writeFrame(OpClose, payload, false)
}

// SendPong replies to a ping.
func (c *Conn) SendPong(data []byte) error {
	return c.writeFrame(OpPong, data, false)
}

// writeFrame applies the compression envelope (if this is a
// compression-enabled binary frame) and writes the result.
func (c *Conn) writeFrame(opcode Opcode, payload []byte, maybeCompress bool) error {
	if maybeCompress && opcode == OpBinary && c.cfg.EnableCompression {
		compressed := c.compressor.Compress(payload)
		if len(compressed)+1 < len(payload) {
			return c.writeParts(opcode, [][]byte{{envelopeZstd}, compressed})
		}
		return c.writeParts(opcode, [][]byte{{envelopeUncompressed}, payload})
	}
	return c.writeParts(opcode, [][]byte{payload})
}

// writeParts assembles header + parts into a single vectored write
// (spec.md §4.1 "all physical writes use a vectored write primitive").
func (c *Conn) writeParts(opcode Opcode, parts [][]byte) error {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	header := buildFrameHeader(opcode, total, true)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.isOpen {
		return ErrConnectionClosed
	}

	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}

	bufs := make(net.Buffers, 0, len(parts)+1)
	bufs = append(bufs, header)
	bufs = append(bufs, parts...)

	n, err := bufs.WriteTo(c.conn)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if n == 0 {
				// Nothing went out yet: safe to drop this frame and try
				// again later (spec.md §4.1, §9 "per-frame drop on
				// backpressure").
				return ErrWouldBlock
			}
			// Partial frame on the wire: resuming would interleave bytes
			// with a concurrent sender. Close instead of risking
			// corruption (spec.md §9 Design Notes).
			c.isOpen = false
			return ErrBrokenPipe
		}
		c.isOpen = false
		return fmt.Errorf("wsconn: write: %w", err)
	}
	return nil
}

// Close tears down the connection: acquires the write mutex, clears
// isOpen, closes codecs under the lock, releases the lock, then closes the
// stream (spec.md §3 "teardown closes codecs under the write lock before
// closing the stream to eliminate use-after-free from concurrent
// broadcasts").
func (c *Conn) Close() error {
	c.writeMu.Lock()
	if !c.isOpen {
		c.writeMu.Unlock()
		return nil
	}
	c.isOpen = false

	if c.compressor != nil {
		if err := c.compressor.Close(); err != nil {
			log.Debug("compressor close error", "error", err)
		}
	}
	if c.decompressor != nil {
		c.decompressor.Close()
	}
	c.writeMu.Unlock()

	return c.conn.Close()
}

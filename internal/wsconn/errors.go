package wsconn

import "errors"

// Error kinds the connection layer distinguishes (spec.md §4.1, §7).
var (
	ErrConnectionClosed    = errors.New("wsconn: connection closed")
	ErrInvalidHandshake    = errors.New("wsconn: invalid handshake")
	ErrPayloadTooLarge     = errors.New("wsconn: payload too large")
	ErrDecompressionFailed = errors.New("wsconn: decompression failed")
	ErrBrokenPipe          = errors.New("wsconn: broken pipe")
	ErrWouldBlock          = errors.New("wsconn: would block")
)

//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package evloop

import "errors"

// ErrUnsupportedPlatform is returned by New() on platforms without an
// evented primitive wired up. The streaming core never requires this —
// per-connection goroutines use blocking reads with cooperative timeouts
// regardless of platform (spec.md §4.3).
var ErrUnsupportedPlatform = errors.New("evloop: no event loop backend on this platform")

func newPlatformLoop() (Loop, error) {
	return nil, ErrUnsupportedPlatform
}

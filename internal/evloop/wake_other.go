//go:build !linux

package evloop

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// pipeWake implements WakeSignal with a nonblocking pipe pair: writing the
// read end's other half wakes a poll() on the read fd.
type pipeWake struct {
	r, w    *os.File
	pending atomic.Bool
}

func newPlatformWakeSignal() (WakeSignal, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("evloop: pipe: %w", err)
	}
	return &pipeWake{r: r, w: w}, nil
}

func (p *pipeWake) Notify() {
	if !p.pending.CompareAndSwap(false, true) {
		return
	}
	_, _ = p.w.Write([]byte{1})
}

// WaitTimeout polls the read end in a bounded loop with a millisecond cap,
// since the portable fallback has no nanosecond-precision poll.
func (p *pipeWake) WaitTimeout(nanos int64) bool {
	deadline := time.Now().Add(time.Duration(nanos))
	buf := make([]byte, 1)

	step := 5 * time.Millisecond
	for {
		if err := p.r.SetReadDeadline(time.Now().Add(step)); err != nil {
			return false
		}
		n, err := p.r.Read(buf)
		if n > 0 {
			p.pending.Store(false)
			return true
		}
		if err != nil && !os.IsTimeout(err) {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

func (p *pipeWake) Close() error {
	_ = p.w.Close()
	return p.r.Close()
}

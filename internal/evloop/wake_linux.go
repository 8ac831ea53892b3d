//go:build linux

package evloop

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// eventfdWake implements WakeSignal with a single eventfd used for both
// the notifying and the waiting end.
type eventfdWake struct {
	fd      int
	pending atomic.Bool
}

func newPlatformWakeSignal() (WakeSignal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("evloop: eventfd: %w", err)
	}
	return &eventfdWake{fd: fd}, nil
}

func (w *eventfdWake) Notify() {
	// Coalesce: if a notification is already pending, skip the write.
	if !w.pending.CompareAndSwap(false, true) {
		return
	}
	buf := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *eventfdWake) WaitTimeout(nanos int64) bool {
	ts := unix.NsecToTimespec(nanos)
	pfd := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}

	n, err := unix.Ppoll(pfd, &ts, nil)
	if err != nil || n <= 0 {
		return false
	}

	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
	w.pending.Store(false)
	return true
}

func (w *eventfdWake) Close() error {
	return unix.Close(w.fd)
}

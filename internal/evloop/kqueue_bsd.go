//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package evloop

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type kqueueLoop struct {
	fd int

	mu   sync.Mutex
	data map[int]any
}

func newPlatformLoop() (Loop, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("evloop: kqueue: %w", err)
	}
	return &kqueueLoop{fd: fd, data: make(map[int]any)}, nil
}

func (l *kqueueLoop) AddRead(fd int, userData any) error {
	l.mu.Lock()
	l.data[fd] = userData
	l.mu.Unlock()

	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}
	if _, err := unix.Kevent(l.fd, changes, nil, nil); err != nil {
		l.mu.Lock()
		delete(l.data, fd)
		l.mu.Unlock()
		return fmt.Errorf("evloop: kevent add: %w", err)
	}
	return nil
}

func (l *kqueueLoop) Remove(fd int) error {
	l.mu.Lock()
	_, ok := l.data[fd]
	delete(l.data, fd)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}}
	_, _ = unix.Kevent(l.fd, changes, nil, nil)
	return nil
}

func (l *kqueueLoop) Wait(dst []Event, timeoutMs int) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	raw := make([]unix.Kevent_t, len(dst))

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		d := time.Duration(timeoutMs) * time.Millisecond
		t := unix.NsecToTimespec(d.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(l.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("evloop: kevent wait: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Ident)
		ud, ok := l.data[fd]
		if !ok {
			continue
		}
		ev := Event{
			UserData: ud,
			Readable: true,
			EOF:      raw[i].Flags&unix.EV_EOF != 0,
		}
		dst[count] = ev
		count++
	}
	return count, nil
}

func (l *kqueueLoop) Close() error {
	return unix.Close(l.fd)
}

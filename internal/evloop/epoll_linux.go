//go:build linux

package evloop

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

type epollLoop struct {
	fd int

	mu   sync.Mutex
	data map[int]any
}

func newPlatformLoop() (Loop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("evloop: epoll_create1: %w", err)
	}
	return &epollLoop{fd: fd, data: make(map[int]any)}, nil
}

func (l *epollLoop) AddRead(fd int, userData any) error {
	l.mu.Lock()
	l.data[fd] = userData
	l.mu.Unlock()

	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(l.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		l.mu.Lock()
		delete(l.data, fd)
		l.mu.Unlock()
		return fmt.Errorf("evloop: epoll_ctl add: %w", err)
	}
	return nil
}

func (l *epollLoop) Remove(fd int) error {
	l.mu.Lock()
	_, ok := l.data[fd]
	delete(l.data, fd)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	// Errors here are expected if the fd was already closed by the caller.
	_ = unix.EpollCtl(l.fd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (l *epollLoop) Wait(dst []Event, timeoutMs int) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	raw := make([]unix.EpollEvent, len(dst))

	n, err := unix.EpollWait(l.fd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("evloop: epoll_wait: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		ud, ok := l.data[fd]
		if !ok {
			continue
		}
		ev := Event{
			UserData: ud,
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
			EOF:      raw[i].Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		}
		dst[count] = ev
		count++
	}
	return count, nil
}

func (l *epollLoop) Close() error {
	return unix.Close(l.fd)
}

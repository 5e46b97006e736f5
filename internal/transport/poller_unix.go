//go:build unix

package transport

import (
	"sync"

	"golang.org/x/sys/unix"
)

// unixPoller multiplexes readiness with a single unix.Poll call per
// tick (golang.org/x/sys/unix), the portable poll(2) wrapper available
// across Linux/BSD/Darwin -- the same one-syscall-per-tick shape the
// teacher engine's epoll wrapper uses, without committing to a
// Linux-only backend.
type unixPoller struct {
	mu  sync.Mutex
	fds map[int]bool // fd -> wants-writable
}

// NewPoller returns the unix poll(2)-backed Poller.
func NewPoller() (Poller, error) {
	return &unixPoller{fds: make(map[int]bool)}, nil
}

func (p *unixPoller) Add(fd int, writable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = writable
	return nil
}

func (p *unixPoller) Modify(fd int, writable bool) error {
	return p.Add(fd, writable)
}

func (p *unixPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func (p *unixPoller) Wait(timeoutMS int) ([]Event, error) {
	p.mu.Lock()
	pollfds := make([]unix.PollFd, 0, len(p.fds))
	for fd, writable := range p.fds {
		events := int16(unix.POLLIN)
		if writable {
			events |= unix.POLLOUT
		}
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	p.mu.Unlock()

	if len(pollfds) == 0 {
		return nil, nil
	}

	n, err := unix.Poll(pollfds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	events := make([]Event, 0, n)
	for _, pfd := range pollfds {
		if pfd.Revents == 0 {
			continue
		}
		events = append(events, Event{
			FD:       int(pfd.Fd),
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
		})
	}
	return events, nil
}

func (p *unixPoller) Close() error { return nil }

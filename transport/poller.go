package transport

import (
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/luma/waycore/wire"
)

// Ready describes one descriptor reported by a poll wait.
type Ready struct {
	Fd       int
	Readable bool
	Writable bool
	Closed   bool
}

// Poller is an epoll instance plus an eventfd for waking blocked
// waits from other goroutines.
type Poller struct {
	fd     int
	wakeFd int
}

func MakePoller() (*Poller, error) {
	var (
		poller Poller
		err    error
	)

	// https://man7.org/linux/man-pages/man2/epoll_create.2.html
	poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	// https://man7.org/linux/man-pages/man2/eventfd.2.html
	poller.wakeFd, err = unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(poller.fd)
		return nil, err
	}

	event := &unix.EpollEvent{
		Fd:     int32(poller.wakeFd),
		Events: unix.EPOLLIN,
	}

	if err = unix.EpollCtl(poller.fd, unix.EPOLL_CTL_ADD, poller.wakeFd, event); err != nil {
		unix.Close(poller.wakeFd)
		unix.Close(poller.fd)
		return nil, err
	}

	return &poller, nil
}

// Add registers fd for readability.
func (p *Poller) Add(fd int) error {
	event := &unix.EpollEvent{
		Fd:     int32(fd),
		Events: unix.EPOLLIN,
	}

	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, event)
}

// SetWritable adds or removes write-readiness interest for fd. Only
// descriptors with queued outbound bytes should watch for writability,
// otherwise every wait reports them.
func (p *Poller) SetWritable(fd int, on bool) error {
	events := uint32(unix.EPOLLIN)
	if on {
		events |= unix.EPOLLOUT
	}

	event := &unix.EpollEvent{
		Fd:     int32(fd),
		Events: events,
	}

	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, event)
}

func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered descriptor is ready, the
// timeout elapses or Wake is called. timeoutMs of -1 blocks
// indefinitely. Returns an empty slice on timeout, wake or interrupt.
func (p *Poller) Wait(timeoutMs int) ([]Ready, error) {
	var events [32]unix.EpollEvent

	n, err := unix.EpollWait(p.fd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	ready := make([]Ready, 0, n)
	for _, event := range events[:n] {
		fd := int(event.Fd)

		if fd == p.wakeFd {
			p.drainWake()
			continue
		}

		ready = append(ready, Ready{
			Fd:       fd,
			Readable: event.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: event.Events&unix.EPOLLOUT != 0,
			Closed:   event.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}

	return ready, nil
}

// Wake interrupts a concurrent Wait. Safe to call from any goroutine.
func (p *Poller) Wake() error {
	var buf [8]byte
	wire.HostOrder.PutUint64(buf[:], 1)

	_, err := unix.Write(p.wakeFd, buf[:])
	if err == unix.EAGAIN {
		// Counter saturated, the wait will fire regardless.
		return nil
	}

	return err
}

func (p *Poller) drainWake() {
	var buf [8]byte
	unix.Read(p.wakeFd, buf[:])
}

func (p *Poller) Close() error {
	return multierr.Append(unix.Close(p.wakeFd), unix.Close(p.fd))
}

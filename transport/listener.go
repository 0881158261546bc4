package transport

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Listener accepts client connections on a unix display socket.
type Listener struct {
	fd   int
	path string
}

// Listen binds and listens on the unix socket at path. A stale socket
// file at the same path must be removed by the caller first.
func Listen(path string) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %s: %w", path, err)
	}

	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("transport: listen %s: %w", path, err)
	}

	return &Listener{fd: fd, path: path}, nil
}

// Accept takes one pending connection off the queue. Returns
// ErrWouldBlock when none is pending.
func (l *Listener) Accept() (*Socket, error) {
	fd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("transport: accept: %w", err)
	}

	return NewSocket(fd), nil
}

func (l *Listener) Fd() int {
	return l.fd
}

func (l *Listener) Path() string {
	return l.path
}

// Close closes the listening socket and removes the socket file.
func (l *Listener) Close() error {
	err := unix.Close(l.fd)

	if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
		err = multierr.Append(err, rerr)
	}

	return err
}

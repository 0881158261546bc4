package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock reports that a non-blocking socket operation could not
// make progress. Callers wait for poller readiness and retry.
var ErrWouldBlock = errors.New("transport: operation would block")

// Room for 32 descriptors of ancillary data per receive.
const maxFdsPerRecv = 32

// DefaultSocketPath resolves the display socket path from the
// environment: $WAYLAND_DISPLAY relative to $XDG_RUNTIME_DIR, with
// "wayland-0" as the default display name. An absolute display name is
// used as is.
func DefaultSocketPath() (string, error) {
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}

	if filepath.IsAbs(display) {
		return display, nil
	}

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", errors.New("transport: XDG_RUNTIME_DIR is not set")
	}

	return filepath.Join(runtimeDir, display), nil
}

// Socket is a non-blocking AF_UNIX stream socket able to carry file
// descriptors as SCM_RIGHTS ancillary data.
type Socket struct {
	fd int
}

// NewSocket wraps an already-connected socket descriptor, for example
// one returned by accept. The descriptor must be in non-blocking mode.
func NewSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// Connect dials the display socket at path.
func Connect(path string) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: socket: %w", err)
	}

	// Connect on a fresh unix socket completes immediately or fails,
	// non-blocking mode notwithstanding.
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: connect %s: %w", path, err)
	}

	return &Socket{fd: fd}, nil
}

// ConnectDefault dials the socket named by the environment.
func ConnectDefault() (*Socket, error) {
	path, err := DefaultSocketPath()
	if err != nil {
		return nil, err
	}

	return Connect(path)
}

// Recv reads at most len(buf) bytes plus any ancillary file
// descriptors. Received descriptors carry the close-on-exec flag and
// are owned by the caller. Returns ErrWouldBlock when no data is
// queued.
func (s *Socket) Recv(buf []byte) (int, []int, error) {
	oob := make([]byte, unix.CmsgSpace(maxFdsPerRecv*4))

	n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, fmt.Errorf("transport: recvmsg: %w", err)
	}

	var fds []int
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return n, nil, fmt.Errorf("transport: parse control message: %w", err)
		}

		for _, cmsg := range cmsgs {
			got, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			fds = append(fds, got...)
		}
	}

	return n, fds, nil
}

// Send writes b with fds attached as SCM_RIGHTS ancillary data.
// Returns the number of bytes accepted by the kernel; ancillary data is
// transferred whole whenever that count is non-zero. Returns
// ErrWouldBlock when the send buffer is full and nothing was written.
func (s *Socket) Send(b []byte, fds []int) (int, error) {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	n, err := unix.SendmsgN(s.fd, b, oob, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("transport: sendmsg: %w", err)
	}

	return n, nil
}

func (s *Socket) Fd() int {
	return s.fd
}

func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

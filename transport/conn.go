package transport

import (
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/waycore/protocol"
	"github.com/luma/waycore/registry"
)

var (
	// ErrConnectionClosed reports use of a connection after Close.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrDisconnected reports that the peer hung up.
	ErrDisconnected = errors.New("transport: peer disconnected")
)

// outSegment tracks one queued outbound message: how many of the
// buffered bytes belong to it and the descriptors to send with its
// first byte.
type outSegment struct {
	size int
	fds  []int
}

// Conn is one protocol connection: a non-blocking socket, the framer
// reassembling its byte stream and the registry of its live objects.
//
// A Conn expects a single goroutine driving it. Receive, Enqueue, Flush
// and Dispatch must not be called concurrently.
type Conn struct {
	sock    *Socket
	framer  *protocol.Framer
	objects *registry.Registry

	// Outbound bytes not yet accepted by the kernel, with per-message
	// segment boundaries. segOff is the progress into the first
	// segment.
	out    []byte
	segs   []outSegment
	segOff int

	readBuf [4096]byte

	serial uint32

	// client flips which message table decodes inbound traffic:
	// servers receive requests, clients receive events.
	client bool
	closed bool

	log   *zap.Logger
	trace bool
}

// NewConn wraps an accepted socket as the server end of a connection.
func NewConn(sock *Socket, log *zap.Logger) *Conn {
	return newConn(sock, log, false)
}

// NewClientConn wraps a dialed socket as the client end of a
// connection.
func NewClientConn(sock *Socket, log *zap.Logger) *Conn {
	return newConn(sock, log, true)
}

func newConn(sock *Socket, log *zap.Logger, client bool) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	return &Conn{
		sock:    sock,
		framer:  protocol.NewFramer(),
		objects: registry.New(),
		client:  client,
		log:     log,
	}
}

// Objects returns the registry of this connection's live objects.
func (c *Conn) Objects() *registry.Registry {
	return c.objects
}

func (c *Conn) Fd() int {
	return c.sock.fd
}

func (c *Conn) Closed() bool {
	return c.closed
}

// PendingOut returns the number of outbound bytes still waiting on the
// kernel. Non-zero after a short write; the caller should poll for
// writability and Flush again.
func (c *Conn) PendingOut() int {
	return len(c.out)
}

// NextSerial returns the next value of the connection's event serial
// counter. Serials start at 1.
func (c *Conn) NextSerial() uint32 {
	c.serial++
	return c.serial
}

// SetTrace enables logging of every message in and out.
func (c *Conn) SetTrace(on bool) {
	c.trace = on
}

// Receive performs one read from the socket and returns every complete
// message it completed. Received descriptors stay in the framer queue
// until Dispatch resolves the message that declares them; an earlier
// message in the batch may bind the very object a later one targets.
// Returns (nil, nil) when the socket had no data.
// Returns ErrDisconnected after tearing the connection down when the
// peer has hung up.
func (c *Conn) Receive() ([]*protocol.Message, error) {
	if c.closed {
		return nil, ErrConnectionClosed
	}

	n, fds, err := c.sock.Recv(c.readBuf[:])
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil, nil
		}

		c.teardown()
		return nil, err
	}

	if n == 0 && len(fds) == 0 {
		c.teardown()
		return nil, ErrDisconnected
	}

	c.framer.Push(c.readBuf[:n], fds)

	var msgs []*protocol.Message
	for {
		msg, err := c.framer.Next()
		if err != nil {
			c.teardown()
			return nil, err
		}
		if msg == nil {
			return msgs, nil
		}

		if c.trace {
			c.log.Debug("recv",
				zap.Stringer("object", msg.Object),
				zap.Uint16("opcode", msg.Opcode),
				zap.Int("size", len(msg.Payload)))
		}

		msgs = append(msgs, msg)
	}
}

func (c *Conn) incomingDesc(rec *registry.Record, opcode uint16) *protocol.MessageDesc {
	if c.client {
		return rec.Interface.Event(opcode)
	}
	return rec.Interface.Request(opcode)
}

// Enqueue buffers one outbound message. The descriptors are owned by
// the connection from here on; they are closed once transmitted or on
// teardown. Nothing reaches the socket until Flush.
func (c *Conn) Enqueue(object protocol.ObjectID, opcode uint16, payload []byte, fds []int) error {
	if c.closed {
		return ErrConnectionClosed
	}

	b, err := protocol.EncodeMessage(object, opcode, payload)
	if err != nil {
		return err
	}

	if c.trace {
		c.log.Debug("send",
			zap.Stringer("object", object),
			zap.Uint16("opcode", opcode),
			zap.Int("size", len(payload)),
			zap.Int("fds", len(fds)))
	}

	c.out = append(c.out, b...)
	c.segs = append(c.segs, outSegment{size: len(b), fds: fds})

	return nil
}

// Flush writes buffered outbound bytes until the buffer drains or the
// kernel pushes back. A message's descriptors travel with its first
// byte, so a partially written message never resends them. Returns nil
// on push-back; check PendingOut to see whether anything remains.
func (c *Conn) Flush() error {
	if c.closed {
		return ErrConnectionClosed
	}

	for len(c.out) > 0 {
		seg := c.segs[0]

		chunk := c.out[:seg.size-c.segOff]

		var fds []int
		if c.segOff == 0 {
			fds = seg.fds
		}

		n, err := c.sock.Send(chunk, fds)
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil
			}

			c.teardown()
			return err
		}

		if n > 0 && c.segOff == 0 {
			closeAll(seg.fds)
			c.segs[0].fds = nil
		}

		c.out = c.out[n:]
		c.segOff += n

		if c.segOff == seg.size {
			c.segs = c.segs[1:]
			c.segOff = 0
		}

		if n < len(chunk) {
			return nil
		}
	}

	return nil
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}

	return c.teardown()
}

// teardown releases everything the connection holds: undelivered
// inbound and outbound descriptors, the object table and the socket.
func (c *Conn) teardown() error {
	if c.closed {
		return nil
	}
	c.closed = true

	closeAll(c.framer.DrainFiles())

	for _, seg := range c.segs {
		closeAll(seg.fds)
	}
	c.segs = nil
	c.out = nil

	c.objects.Each(func(rec *registry.Record) {
		c.objects.Destroy(rec.ID)
	})

	var err error
	if cerr := c.sock.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}

	return err
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

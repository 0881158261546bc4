package transport

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/tidwall/sjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/waycore/registry"
)

// Display owns the listening socket and drives every accepted
// connection from a single poll loop: accept, read, dispatch, flush.
type Display struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	path     string
	listener *Listener
	poller   *Poller

	onConnect func(conn *Conn) error

	// mu guards conns and the object tables behind it: the poll loop
	// mutates them while Snapshot and Close read them from other
	// goroutines.
	mu    sync.Mutex
	conns map[int]*Conn

	log   *zap.Logger
	trace bool
}

func NewDisplay(options Options) *Display {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Display{
		path:      options.SocketPath,
		onConnect: options.OnConnect,
		conns:     make(map[int]*Conn),
		trace:     options.Trace,
		log:       log,
	}
}

// Start binds the display socket and launches the poll loop.
func (d *Display) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	d.cancel = cancel

	path := d.path
	if path == "" {
		var err error
		if path, err = DefaultSocketPath(); err != nil {
			cancel()
			return err
		}
		d.path = path
	}

	listener, err := Listen(path)
	if err != nil {
		cancel()
		return err
	}
	d.listener = listener

	poller, err := MakePoller()
	if err != nil {
		cancel()
		listener.Close()
		return err
	}
	d.poller = poller

	if err := poller.Add(listener.Fd()); err != nil {
		cancel()
		poller.Close()
		listener.Close()
		return err
	}

	d.log.Info("Listening on display socket", zap.String("path", path))

	d.stopWaiter.Add(1)
	go func() {
		defer d.stopWaiter.Done()
		d.run(ctx)
	}()

	go func() {
		<-ctx.Done()
		poller.Wake()
	}()

	return nil
}

// Path returns the socket path the display is bound to.
func (d *Display) Path() string {
	return d.path
}

func (d *Display) run(ctx context.Context) {
	log := d.log.Named("loop")

	for {
		ready, err := d.poller.Wait(-1)
		if err != nil {
			log.Error("Poll wait failed", zap.Error(err))
			return
		}

		if ctx.Err() != nil {
			log.Info("Poll loop exiting")
			return
		}

		for _, ev := range ready {
			if ev.Fd == d.listener.Fd() {
				d.acceptAll(log)
				continue
			}

			d.service(log, ev)
		}
	}
}

func (d *Display) acceptAll(log *zap.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		sock, err := d.listener.Accept()
		if err != nil {
			if !errors.Is(err, ErrWouldBlock) {
				log.Warn("Accept failed", zap.Error(err))
			}
			return
		}

		conn := NewConn(sock, d.log.Named("conn").With(zap.Int("fd", sock.Fd())))
		conn.SetTrace(d.trace)

		if d.onConnect != nil {
			if err := d.onConnect(conn); err != nil {
				log.Warn("Rejecting connection", zap.Error(err))
				conn.Close()
				continue
			}
		}

		if err := d.poller.Add(sock.Fd()); err != nil {
			log.Warn("Failed to register connection", zap.Error(err))
			conn.Close()
			continue
		}

		d.conns[sock.Fd()] = conn
		log.Info("Client connected", zap.Int("fd", sock.Fd()))
	}
}

func (d *Display) service(log *zap.Logger, ev Ready) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, ok := d.conns[ev.Fd]
	if !ok {
		return
	}

	if ev.Readable {
		msgs, err := conn.Receive()
		if err != nil {
			if !errors.Is(err, ErrDisconnected) {
				log.Warn("Receive failed", zap.Int("fd", ev.Fd), zap.Error(err))
			}
			d.drop(ev.Fd, conn)
			return
		}

		for _, msg := range msgs {
			if err := conn.Dispatch(msg); err != nil {
				d.drop(ev.Fd, conn)
				return
			}
		}
	}

	if ev.Closed && !conn.Closed() {
		d.drop(ev.Fd, conn)
		return
	}

	if conn.Closed() {
		d.drop(ev.Fd, conn)
		return
	}

	// Flush when the kernel signalled room or dispatch queued replies.
	if ev.Writable || conn.PendingOut() > 0 {
		if err := conn.Flush(); err != nil {
			d.drop(ev.Fd, conn)
			return
		}
	}

	if err := d.poller.SetWritable(ev.Fd, conn.PendingOut() > 0); err != nil {
		log.Warn("Failed to update poll interest", zap.Int("fd", ev.Fd), zap.Error(err))
	}
}

// drop removes a connection. The caller holds mu.
func (d *Display) drop(fd int, conn *Conn) {
	d.poller.Remove(fd)
	conn.Close()
	delete(d.conns, fd)
	d.log.Info("Client disconnected", zap.Int("fd", fd))
}

// Snapshot renders the current connections and their object tables as
// JSON. Safe to call from any goroutine; it holds the display lock
// while walking the tables, so keep it to debug endpoints and tests.
func (d *Display) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := []byte(`{}`)
	state, _ = sjson.SetBytes(state, "socket", d.path)
	state, _ = sjson.SetBytes(state, "connections", []interface{}{})

	i := 0
	for fd, conn := range d.conns {
		state, _ = sjson.SetBytes(state, keyf(i, "fd"), fd)

		j := 0
		conn.Objects().Each(func(rec *registry.Record) {
			prefix := keyf(i, "objects") + "." + strconv.Itoa(j)
			state, _ = sjson.SetBytes(state, prefix+".id", uint64(rec.ID))
			if rec.Interface != nil {
				state, _ = sjson.SetBytes(state, prefix+".interface", rec.Interface.Name)
			}
			state, _ = sjson.SetBytes(state, prefix+".version", rec.Version)
			j++
		})

		i++
	}

	return state
}

func keyf(i int, field string) string {
	return "connections." + strconv.Itoa(i) + "." + field
}

// Close stops the poll loop, closes every connection and removes the
// socket file.
func (d *Display) Close() error {
	d.log.Info("Stopping display")

	if d.cancel != nil {
		d.cancel()
	}
	if d.poller != nil {
		d.poller.Wake()
	}

	d.stopWaiter.Wait()

	var err error

	d.mu.Lock()
	for fd, conn := range d.conns {
		err = multierr.Append(err, conn.Close())
		delete(d.conns, fd)
	}
	d.mu.Unlock()

	if d.poller != nil {
		err = multierr.Append(err, d.poller.Close())
	}
	if d.listener != nil {
		err = multierr.Append(err, d.listener.Close())
	}

	return err
}

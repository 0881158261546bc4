// Package client is a minimal display client: enough to connect,
// introspect the registry and round-trip with the server. Servers and
// tests use it to exercise a display end to end.
package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/waycore/protocol"
	"github.com/luma/waycore/registry"
	"github.com/luma/waycore/transport"
	"github.com/luma/waycore/wire"
	"github.com/luma/waycore/wl"
)

// Global is one announcement received from the server's registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Conn is the client end of a display connection. It owns its own
// poller and drives the transport from whichever goroutine calls
// Roundtrip; it is not safe for concurrent use.
type Conn struct {
	conn   *transport.Conn
	poller *transport.Poller

	// fatal holds the first display error event received. Every
	// Roundtrip after that fails with it.
	fatal error

	log *zap.Logger
}

// Connect dials the display socket at path, or the one named by the
// environment when path is empty.
func Connect(path string, log *zap.Logger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		sock *transport.Socket
		err  error
	)

	if path == "" {
		sock, err = transport.ConnectDefault()
	} else {
		sock, err = transport.Connect(path)
	}
	if err != nil {
		return nil, err
	}

	poller, err := transport.MakePoller()
	if err != nil {
		sock.Close()
		return nil, err
	}

	if err := poller.Add(sock.Fd()); err != nil {
		poller.Close()
		sock.Close()
		return nil, err
	}

	c := &Conn{
		conn:   transport.NewClientConn(sock, log.Named("conn")),
		poller: poller,
		log:    log,
	}

	if err := c.bindDisplay(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// bindDisplay records the display singleton so its events decode and
// dispatch.
func (c *Conn) bindDisplay() error {
	return c.conn.Objects().BindServer(&registry.Record{
		ID:        registry.DisplayID,
		Interface: wl.Display,
		Version:   1,
		Handler:   registry.HandlerFunc(c.handleDisplay),
	})
}

func (c *Conn) handleDisplay(msg *protocol.Message) error {
	dec := wire.NewDecoder(msg.Payload, msg.Files)

	switch msg.Opcode {
	case wl.EvError:
		object, err := dec.Object()
		if err != nil {
			return err
		}
		code, err := dec.Uint32()
		if err != nil {
			return err
		}
		text, err := dec.String()
		if err != nil {
			return err
		}

		c.log.Error("Display error",
			zap.Uint32("object", object),
			zap.Uint32("code", code),
			zap.String("message", text))

		c.fatal = fmt.Errorf("client: display error %d on object %d: %s", code, object, text)

		return nil

	case wl.EvDeleteID:
		id, err := dec.Uint32()
		if err != nil {
			return err
		}

		c.conn.Objects().Destroy(protocol.ObjectID(id))

		return nil
	}

	return transport.ErrInvalidOpcode
}

// Transport exposes the underlying connection for sending requests on
// bound objects.
func (c *Conn) Transport() *transport.Conn {
	return c.conn
}

// Sync asks the server for a sync callback. The done function runs
// with the event serial once every prior request has been processed.
func (c *Conn) Sync(done func(serial uint32)) error {
	objects := c.conn.Objects()

	id, err := objects.NextClientID()
	if err != nil {
		return err
	}

	if err := objects.BindClient(&registry.Record{
		ID:        id,
		Interface: wl.Callback,
		Version:   1,
		Handler: registry.HandlerFunc(func(msg *protocol.Message) error {
			if msg.Opcode != wl.EvCallbackDone {
				return transport.ErrInvalidOpcode
			}

			serial, err := wire.NewDecoder(msg.Payload, msg.Files).Uint32()
			if err != nil {
				return err
			}

			if done != nil {
				done(serial)
			}

			return nil
		}),
	}); err != nil {
		return err
	}

	var enc wire.Encoder
	enc.PutNewID(uint32(id))

	return c.conn.Enqueue(registry.DisplayID, wl.OpSync, enc.Bytes(), nil)
}

// GetRegistry binds a registry object and reports each global the
// server announces to onGlobal.
func (c *Conn) GetRegistry(onGlobal func(g Global)) (protocol.ObjectID, error) {
	objects := c.conn.Objects()

	id, err := objects.NextClientID()
	if err != nil {
		return 0, err
	}

	if err := objects.BindClient(&registry.Record{
		ID:        id,
		Interface: wl.Registry,
		Version:   1,
		Handler: registry.HandlerFunc(func(msg *protocol.Message) error {
			return c.handleRegistry(msg, onGlobal)
		}),
	}); err != nil {
		return 0, err
	}

	var enc wire.Encoder
	enc.PutNewID(uint32(id))

	if err := c.conn.Enqueue(registry.DisplayID, wl.OpGetRegistry, enc.Bytes(), nil); err != nil {
		return 0, err
	}

	return id, nil
}

func (c *Conn) handleRegistry(msg *protocol.Message, onGlobal func(g Global)) error {
	dec := wire.NewDecoder(msg.Payload, msg.Files)

	switch msg.Opcode {
	case wl.EvGlobal:
		name, err := dec.Uint32()
		if err != nil {
			return err
		}
		iface, err := dec.String()
		if err != nil {
			return err
		}
		version, err := dec.Uint32()
		if err != nil {
			return err
		}

		if onGlobal != nil {
			onGlobal(Global{Name: name, Interface: iface, Version: version})
		}

		return nil

	case wl.EvGlobalRemove:
		_, err := dec.Uint32()
		return err
	}

	return transport.ErrInvalidOpcode
}

// Bind binds a global to a fresh client id on a registry object.
func (c *Conn) Bind(reg protocol.ObjectID, g Global, iface *protocol.Interface, handler registry.Handler) (protocol.ObjectID, error) {
	objects := c.conn.Objects()

	id, err := objects.NextClientID()
	if err != nil {
		return 0, err
	}

	if err := objects.BindClient(&registry.Record{
		ID:        id,
		Interface: iface,
		Version:   g.Version,
		Handler:   handler,
	}); err != nil {
		return 0, err
	}

	var enc wire.Encoder
	enc.PutUint32(g.Name)
	enc.PutString(g.Interface)
	enc.PutUint32(g.Version)
	enc.PutNewID(uint32(id))

	if err := c.conn.Enqueue(reg, wl.OpRegistryBind, enc.Bytes(), nil); err != nil {
		return 0, err
	}

	return id, nil
}

// Roundtrip flushes every pending request and blocks until the server
// confirms it has processed them all.
func (c *Conn) Roundtrip(ctx context.Context) error {
	done := false
	if err := c.Sync(func(uint32) { done = true }); err != nil {
		return err
	}

	for !done {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.fatal != nil {
			return c.fatal
		}
		if c.conn.Closed() {
			return transport.ErrConnectionClosed
		}

		if err := c.conn.Flush(); err != nil {
			return err
		}

		if _, err := c.poller.Wait(100); err != nil {
			return err
		}

		msgs, err := c.conn.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrDisconnected) && c.fatal != nil {
				return c.fatal
			}
			return err
		}

		for _, msg := range msgs {
			if err := c.conn.Dispatch(msg); err != nil {
				return err
			}
		}
	}

	if c.fatal != nil {
		return c.fatal
	}

	return nil
}

func (c *Conn) Close() error {
	return multierr.Append(c.poller.Close(), c.conn.Close())
}

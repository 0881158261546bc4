// Package wl carries the bootstrap interfaces every connection starts
// from: the display singleton, its callback objects and the global
// registry. Attach wires them onto a freshly accepted server
// connection.
package wl

import (
	"fmt"

	"github.com/luma/waycore/protocol"
	"github.com/luma/waycore/registry"
	"github.com/luma/waycore/transport"
	"github.com/luma/waycore/wire"
)

// Display opcodes.
const (
	OpSync        uint16 = 0
	OpGetRegistry uint16 = 1

	EvError    uint16 = 0
	EvDeleteID uint16 = 1
)

// Callback opcodes.
const (
	EvCallbackDone uint16 = 0
)

// Registry opcodes.
const (
	OpRegistryBind uint16 = 0

	EvGlobal       uint16 = 0
	EvGlobalRemove uint16 = 1
)

var Display = &protocol.Interface{
	Name:    "wl_display",
	Version: 1,
	Requests: []protocol.MessageDesc{
		{Name: "sync", Since: 1, Signature: protocol.Signature{protocol.ArgNewID}},
		{Name: "get_registry", Since: 1, Signature: protocol.Signature{protocol.ArgNewID}},
	},
	Events: []protocol.MessageDesc{
		{Name: "error", Since: 1, Signature: protocol.Signature{protocol.ArgObject, protocol.ArgUint, protocol.ArgString}},
		{Name: "delete_id", Since: 1, Signature: protocol.Signature{protocol.ArgUint}},
	},
}

var Callback = &protocol.Interface{
	Name:    "wl_callback",
	Version: 1,
	Events: []protocol.MessageDesc{
		{Name: "done", Since: 1, Signature: protocol.Signature{protocol.ArgUint}},
	},
}

var Registry = &protocol.Interface{
	Name:    "wl_registry",
	Version: 1,
	Requests: []protocol.MessageDesc{
		{Name: "bind", Since: 1, Signature: protocol.Signature{protocol.ArgUint, protocol.ArgString, protocol.ArgUint, protocol.ArgNewID}},
	},
	Events: []protocol.MessageDesc{
		{Name: "global", Since: 1, Signature: protocol.Signature{protocol.ArgUint, protocol.ArgString, protocol.ArgUint}},
		{Name: "global_remove", Since: 1, Signature: protocol.Signature{protocol.ArgUint}},
	},
}

// Global is one interface a server advertises through the registry.
// Bind runs when a client binds the global; it is responsible for
// recording the new object on the connection.
type Global struct {
	Name      uint32
	Interface *protocol.Interface
	Version   uint32
	Bind      func(conn *transport.Conn, id protocol.ObjectID, version uint32) error
}

// Attach binds the display singleton on a server connection. The
// globals become visible to clients through get_registry.
func Attach(conn *transport.Conn, globals []*Global) error {
	return conn.Objects().BindServer(&registry.Record{
		ID:        registry.DisplayID,
		Interface: Display,
		Version:   1,
		Handler: registry.HandlerFunc(func(msg *protocol.Message) error {
			return handleDisplay(conn, globals, msg)
		}),
	})
}

func handleDisplay(conn *transport.Conn, globals []*Global, msg *protocol.Message) error {
	dec := wire.NewDecoder(msg.Payload, msg.Files)

	switch msg.Opcode {
	case OpSync:
		id, err := dec.NewID()
		if err != nil {
			return err
		}

		return handleSync(conn, protocol.ObjectID(id))

	case OpGetRegistry:
		id, err := dec.NewID()
		if err != nil {
			return err
		}

		return handleGetRegistry(conn, globals, protocol.ObjectID(id))
	}

	return transport.ErrInvalidOpcode
}

// handleSync answers a sync request: the callback fires immediately
// because dispatch is serialized, then the id is handed back through
// delete_id.
func handleSync(conn *transport.Conn, id protocol.ObjectID) error {
	objects := conn.Objects()

	if err := objects.BindClient(&registry.Record{
		ID:        id,
		Interface: Callback,
		Version:   1,
	}); err != nil {
		return &protocol.Error{
			Object:  registry.DisplayID,
			Code:    protocol.CodeInvalidObject,
			Message: fmt.Sprintf("cannot bind callback %d: %s", id, err),
		}
	}

	if err := SendDone(conn, id, conn.NextSerial()); err != nil {
		return err
	}

	objects.Destroy(id)

	return SendDeleteID(conn, id)
}

func handleGetRegistry(conn *transport.Conn, globals []*Global, id protocol.ObjectID) error {
	if err := conn.Objects().BindClient(&registry.Record{
		ID:        id,
		Interface: Registry,
		Version:   1,
		Handler: registry.HandlerFunc(func(msg *protocol.Message) error {
			return handleRegistryBind(conn, globals, msg)
		}),
	}); err != nil {
		return &protocol.Error{
			Object:  registry.DisplayID,
			Code:    protocol.CodeInvalidObject,
			Message: fmt.Sprintf("cannot bind registry %d: %s", id, err),
		}
	}

	for _, g := range globals {
		if err := SendGlobal(conn, id, g); err != nil {
			return err
		}
	}

	return nil
}

func handleRegistryBind(conn *transport.Conn, globals []*Global, msg *protocol.Message) error {
	if msg.Opcode != OpRegistryBind {
		return transport.ErrInvalidOpcode
	}

	dec := wire.NewDecoder(msg.Payload, msg.Files)

	name, err := dec.Uint32()
	if err != nil {
		return err
	}
	ifaceName, err := dec.String()
	if err != nil {
		return err
	}
	version, err := dec.Uint32()
	if err != nil {
		return err
	}
	id, err := dec.NewID()
	if err != nil {
		return err
	}

	for _, g := range globals {
		if g.Name != name {
			continue
		}

		if ifaceName != g.Interface.Name {
			return &protocol.Error{
				Object:  msg.Object,
				Code:    protocol.CodeInvalidObject,
				Message: fmt.Sprintf("global %d is %s, not %s", name, g.Interface.Name, ifaceName),
			}
		}

		if version > g.Version {
			return &protocol.Error{
				Object:  msg.Object,
				Code:    protocol.CodeInvalidObject,
				Message: fmt.Sprintf("global %d supports version %d, requested %d", name, g.Version, version),
			}
		}

		return g.Bind(conn, protocol.ObjectID(id), version)
	}

	return &protocol.Error{
		Object:  msg.Object,
		Code:    protocol.CodeInvalidObject,
		Message: fmt.Sprintf("no global named %d", name),
	}
}

// SendDone emits a callback done event.
func SendDone(conn *transport.Conn, callback protocol.ObjectID, serial uint32) error {
	var enc wire.Encoder
	enc.PutUint32(serial)

	return conn.Enqueue(callback, EvCallbackDone, enc.Bytes(), nil)
}

// SendDeleteID tells the client an id it allocated is free again.
func SendDeleteID(conn *transport.Conn, id protocol.ObjectID) error {
	var enc wire.Encoder
	enc.PutUint32(uint32(id))

	return conn.Enqueue(registry.DisplayID, EvDeleteID, enc.Bytes(), nil)
}

// SendGlobal announces one global on a registry object.
func SendGlobal(conn *transport.Conn, reg protocol.ObjectID, g *Global) error {
	var enc wire.Encoder
	enc.PutUint32(g.Name)
	enc.PutString(g.Interface.Name)
	enc.PutUint32(g.Version)

	return conn.Enqueue(reg, EvGlobal, enc.Bytes(), nil)
}

// SendGlobalRemove withdraws a global from a registry object.
func SendGlobalRemove(conn *transport.Conn, reg protocol.ObjectID, name uint32) error {
	var enc wire.Encoder
	enc.PutUint32(name)

	return conn.Enqueue(reg, EvGlobalRemove, enc.Bytes(), nil)
}

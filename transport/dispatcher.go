package transport

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/luma/waycore/protocol"
	"github.com/luma/waycore/wire"
)

var (
	ErrUnknownObject      = errors.New("transport: message for unknown object")
	ErrInvalidOpcode      = errors.New("transport: invalid opcode")
	ErrUnsupportedVersion = errors.New("transport: message beyond bound version")
)

// The display error event is emitted directly here so that protocol
// violations can be reported without the bindings package.
const (
	displayObject      protocol.ObjectID = 1
	displayErrorOpcode uint16            = 0
)

// Dispatch routes one received message to the handler of its target
// object, attaching the descriptors its signature declares once the
// object and opcode have resolved. Protocol violations emit a display
// error event and tear the connection down. A handler returning
// *protocol.Error reports the error to the peer and keeps the
// connection open; any other handler error is fatal to the connection.
func (c *Conn) Dispatch(msg *protocol.Message) error {
	rec, ok := c.objects.Lookup(msg.Object)
	if !ok {
		c.fatal(msg.Object, protocol.CodeInvalidObject,
			fmt.Sprintf("unknown object %d", msg.Object))
		return ErrUnknownObject
	}

	ifaceName := "unknown"
	var desc *protocol.MessageDesc
	if rec.Interface != nil {
		ifaceName = rec.Interface.Name
		desc = c.incomingDesc(rec, msg.Opcode)
	}

	if desc == nil {
		c.fatal(msg.Object, protocol.CodeInvalidMethod,
			fmt.Sprintf("invalid opcode %d on %s", msg.Opcode, ifaceName))
		return ErrInvalidOpcode
	}

	if desc.Since > rec.Version {
		c.fatal(msg.Object, protocol.CodeInvalidMethod,
			fmt.Sprintf("%s.%s requires version %d, object bound at %d",
				rec.Interface.Name, desc.Name, desc.Since, rec.Version))
		return ErrUnsupportedVersion
	}

	// Descriptors are consumed here, not at decode time: an earlier
	// message in the same batch may have bound the object this one
	// targets, so the signature is only knowable once dispatch reaches
	// it.
	if n := desc.Signature.Files(); n > 0 {
		msg.Files = c.framer.TakeFiles(n)
	}

	if rec.Handler == nil {
		closeAll(msg.Files)
		msg.Files = nil
		return nil
	}

	if err := rec.Handler.Handle(msg); err != nil {
		perr := new(protocol.Error)
		if errors.As(err, &perr) {
			c.log.Warn("Protocol error, connection stays up",
				zap.Stringer("object", perr.Object),
				zap.Uint32("code", perr.Code),
				zap.String("message", perr.Message))

			if serr := c.SendError(perr.Object, perr.Code, perr.Message); serr != nil {
				c.teardown()
				return serr
			}

			return nil
		}

		c.log.Warn("Handler failed, closing connection",
			zap.Stringer("object", msg.Object),
			zap.Uint16("opcode", msg.Opcode),
			zap.Error(err))

		c.teardown()
		return err
	}

	return nil
}

// SendError enqueues a display error event naming the offending
// object.
func (c *Conn) SendError(object protocol.ObjectID, code uint32, message string) error {
	var enc wire.Encoder
	enc.PutObject(uint32(object))
	enc.PutUint32(code)
	enc.PutString(message)

	return c.Enqueue(displayObject, displayErrorOpcode, enc.Bytes(), nil)
}

// fatal reports a protocol violation and tears the connection down.
// The error event is delivered best effort with a single flush; a full
// send buffer loses it.
func (c *Conn) fatal(object protocol.ObjectID, code uint32, message string) {
	c.log.Warn("Fatal protocol error, closing connection",
		zap.Stringer("object", object),
		zap.Uint32("code", code),
		zap.String("message", message))

	if err := c.SendError(object, code, message); err == nil {
		c.Flush()
	}

	c.teardown()
}

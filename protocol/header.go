package protocol

import (
	"github.com/luma/waycore/wire"
)

const (
	// HeaderSize is the fixed size of a message header in bytes.
	HeaderSize = 8

	// MaxMessageSize is the largest encodable message, header
	// included, as the size field is 16 bits wide.
	MaxMessageSize = 1<<16 - 1
)

// Header is the fixed 8-byte prefix of every message.
type Header struct {
	Object ObjectID
	Opcode uint16
	Size   uint16
}

// ParseHeader reads a header from b, which must hold at least
// HeaderSize bytes.
func ParseHeader(b []byte) Header {
	word := wire.HostOrder.Uint32(b[4:])

	return Header{
		Object: ObjectID(wire.HostOrder.Uint32(b)),
		Opcode: uint16(word & 0xffff),
		Size:   uint16(word >> 16),
	}
}

// PutHeader writes h into b, which must hold at least HeaderSize bytes.
func PutHeader(b []byte, h Header) {
	wire.HostOrder.PutUint32(b, uint32(h.Object))
	wire.HostOrder.PutUint32(b[4:], uint32(h.Size)<<16|uint32(h.Opcode))
}

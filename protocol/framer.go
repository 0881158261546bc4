package protocol

import (
	"fmt"
)

// Framer accumulates inbound socket bytes and surfaces whole messages.
// It tolerates arbitrary partial delivery: bytes pushed across any
// number of receive cycles decode identically to bytes pushed whole.
//
// Received file descriptors are queued in arrival order. The Framer is
// signature-blind; the connection takes descriptors off the queue
// according to the fd count the target message's signature declares.
type Framer struct {
	buf []byte
	fds []int
}

func NewFramer() *Framer {
	return &Framer{}
}

// Push appends one receive cycle's bytes and ancillary descriptors.
func (f *Framer) Push(b []byte, fds []int) {
	f.buf = append(f.buf, b...)
	f.fds = append(f.fds, fds...)
}

// Buffered reports how many undecoded bytes are held.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next decodes the next complete message, or returns (nil, nil) when
// the buffer does not yet hold one. A header declaring an impossible
// size is a protocol violation and fatal for the connection.
func (f *Framer) Next() (*Message, error) {
	if len(f.buf) < HeaderSize {
		return nil, nil
	}

	h := ParseHeader(f.buf)

	if h.Size < HeaderSize || h.Size%4 != 0 {
		return nil, fmt.Errorf("%w: declared size %d (object %d, opcode %d)",
			ErrMalformedMessage, h.Size, h.Object, h.Opcode)
	}

	if len(f.buf) < int(h.Size) {
		// Incomplete; wait for another receive cycle.
		return nil, nil
	}

	payload := append([]byte(nil), f.buf[HeaderSize:h.Size]...)
	f.buf = f.buf[h.Size:]

	return &Message{
		Object:  h.Object,
		Opcode:  h.Opcode,
		Payload: payload,
	}, nil
}

// TakeFiles removes and returns up to n descriptors from the front of
// the received-fd queue.
func (f *Framer) TakeFiles(n int) []int {
	if n > len(f.fds) {
		n = len(f.fds)
	}
	if n == 0 {
		return nil
	}

	out := append([]int(nil), f.fds[:n]...)
	f.fds = f.fds[n:]

	return out
}

// DrainFiles removes and returns every queued descriptor. The caller
// owns them and must close them; this is the teardown path that keeps
// a dying connection from leaking descriptors.
func (f *Framer) DrainFiles() []int {
	out := f.fds
	f.fds = nil
	return out
}

// EncodeMessage frames a pre-encoded argument payload with its header.
// The payload must be 4-byte aligned, and the whole message must fit
// the 16-bit size field; larger payloads are a caller contract
// violation.
func EncodeMessage(object ObjectID, opcode uint16, payload []byte) ([]byte, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("%w: payload of %d bytes is not 4-byte aligned",
			ErrMalformedMessage, len(payload))
	}

	size := HeaderSize + len(payload)
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	b := make([]byte, size)
	PutHeader(b, Header{Object: object, Opcode: opcode, Size: uint16(size)})
	copy(b[HeaderSize:], payload)

	return b, nil
}

package protocol

// This package implements framing for the Wayland wire format: turning
// an accumulating byte stream into whole messages and whole messages
// back into bytes. It also defines the interface metadata contract that
// generated protocol glue supplies to the dispatcher.
//
// === Wire framing
//
// Every message starts with an 8-byte header
//
//   ```
//   <object id : u32> <size : u16 | opcode : u16>
//   ```
//
// where the second word packs the total message size (header included)
// in its upper 16 bits and the opcode in the lower 16. Both words are
// host byte order. The argument payload follows, 4-byte aligned
// throughout, so `size` is always a multiple of four and at least 8.
//
// Requests (client to server) and events (server to client) share this
// layout; only the direction and the opcode table differ.
//
// === Partial delivery
//
// A Unix stream socket may deliver any prefix of a message. The Framer
// buffers bytes across receive cycles and only surfaces a Message once
// all `size` bytes have arrived. "Not enough bytes yet" is not an
// error; a header declaring a size below 8 or not a multiple of four
// is, and such a violation is fatal for the connection.
//
// === File descriptors
//
// Descriptors never appear in the byte stream. They arrive as ancillary
// data on the socket and are queued by the Framer in arrival order; the
// connection attaches them to a decoded Message according to the fd
// count declared by the target message's signature.
//
// === Interface metadata
//
// The code generator (out of scope here) emits, per interface, its
// name, version and the ordered request/event signatures. The
// dispatcher consumes only that shape, via Interface and MessageDesc.

package wire

// This package implements encoding and decoding of the primitive argument
// types used by the Wayland wire format. It performs no I/O; it only
// converts between Go values and byte slices.
//
// All values are carried in the host byte order, as the protocol is
// restricted to local-machine transport and both peers share one
// convention.
//
// The primitive kinds are
//
// - `int` / `uint`    - 32 bit integers
// - `fixed`           - signed 24.8 fixed-point numbers
// - `object`/`new_id` - 32 bit object identifiers
// - `string`          - uint32 length (including the terminating NUL),
//                       NUL-terminated bytes, zero-padded to a 4-byte
//                       boundary
// - `array`           - uint32 length, raw bytes, zero-padded to a
//                       4-byte boundary
// - `fd`              - file descriptors. These are never part of the
//                       byte stream; they travel as ancillary data on
//                       the socket. The codec only tracks the slot so
//                       that arguments keep their declared order.
//
// Every argument starts on a 4-byte boundary, so a well-formed payload
// always has a length that is a multiple of four.

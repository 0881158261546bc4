package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"
)

var (
	ErrMalformedArgument = errors.New("wire: malformed argument")
)

// HostOrder is the byte order shared by both peers on a connection.
var HostOrder binary.ByteOrder = binary.LittleEndian

func init() {
	n := uint32(1)
	b := (*[4]byte)(unsafe.Pointer(&n))
	if b[0] == 0 {
		HostOrder = binary.BigEndian
	}
}

// pad4 rounds n up to the next multiple of four.
func pad4(n int) int {
	return (n + 3) &^ 3
}

// Encoder builds a message payload by appending primitive arguments.
// File descriptor arguments are collected separately, preserving their
// declared order, as they are never part of the byte stream.
type Encoder struct {
	buf []byte
	fds []int
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) PutUint32(v uint32) {
	var b [4]byte
	HostOrder.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) PutInt32(v int32) {
	e.PutUint32(uint32(v))
}

func (e *Encoder) PutFixed(f Fixed) {
	e.PutUint32(uint32(int32(f)))
}

func (e *Encoder) PutObject(id uint32) {
	e.PutUint32(id)
}

func (e *Encoder) PutNewID(id uint32) {
	e.PutUint32(id)
}

func (e *Encoder) PutString(s string) {
	e.PutUint32(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	e.pad()
}

func (e *Encoder) PutArray(b []byte) {
	e.PutUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	e.pad()
}

// PutFD records a file descriptor slot. The descriptor is carried
// out-of-band by the transport, alongside the message that declares it.
func (e *Encoder) PutFD(fd int) {
	e.fds = append(e.fds, fd)
}

func (e *Encoder) pad() {
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
}

// Bytes returns the encoded payload. The slice aliases the encoder's
// internal buffer and is only valid until the next Put or Reset.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Files returns the file descriptors recorded by PutFD, in order.
func (e *Encoder) Files() []int {
	return e.fds
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.fds = e.fds[:0]
}

// Decoder walks a message payload, consuming one argument per call.
// The fds slice holds the descriptors received alongside the message,
// in their declared order.
type Decoder struct {
	buf []byte
	off int
	fds []int
}

func NewDecoder(payload []byte, fds []int) *Decoder {
	return &Decoder{buf: payload, fds: fds}
}

func (d *Decoder) Uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, fmt.Errorf("%w: truncated uint at offset %d", ErrMalformedArgument, d.off)
	}
	v := HostOrder.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

func (d *Decoder) Fixed() (Fixed, error) {
	v, err := d.Uint32()
	return Fixed(int32(v)), err
}

func (d *Decoder) Object() (uint32, error) {
	return d.Uint32()
}

func (d *Decoder) NewID() (uint32, error) {
	return d.Uint32()
}

func (d *Decoder) String() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		// A zero length encodes the null string.
		return "", nil
	}
	size := int(n)
	if size < 0 || d.off+size > len(d.buf) {
		return "", fmt.Errorf("%w: string length %d exceeds remaining buffer", ErrMalformedArgument, n)
	}
	if d.buf[d.off+size-1] != 0 {
		return "", fmt.Errorf("%w: string is not NUL terminated", ErrMalformedArgument)
	}
	s := string(d.buf[d.off : d.off+size-1])
	d.off += pad4(size)
	if d.off > len(d.buf) {
		d.off = len(d.buf)
	}
	return s, nil
}

func (d *Decoder) Array() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	size := int(n)
	if size < 0 || d.off+size > len(d.buf) {
		return nil, fmt.Errorf("%w: array length %d exceeds remaining buffer", ErrMalformedArgument, n)
	}
	out := append([]byte(nil), d.buf[d.off:d.off+size]...)
	d.off += pad4(size)
	if d.off > len(d.buf) {
		d.off = len(d.buf)
	}
	return out, nil
}

// FD consumes the next received file descriptor.
func (d *Decoder) FD() (int, error) {
	if len(d.fds) == 0 {
		return -1, fmt.Errorf("%w: missing file descriptor", ErrMalformedArgument)
	}
	fd := d.fds[0]
	d.fds = d.fds[1:]
	return fd, nil
}

// Remaining reports how many payload bytes have not been consumed.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

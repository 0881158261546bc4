package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage = errors.New("protocol: malformed message")
	ErrMessageTooLarge  = errors.New("protocol: message exceeds the 16-bit size field")
)

// Error codes carried by the display error event, as fixed by the core
// protocol.
const (
	CodeInvalidObject  uint32 = 0
	CodeInvalidMethod  uint32 = 1
	CodeNoMemory       uint32 = 2
	CodeImplementation uint32 = 3
)

// Error is an application-level protocol error raised by a request
// handler. The dispatcher reports it to the peer as an error event and
// keeps the connection open; any other handler error terminates the
// connection.
type Error struct {
	Object  ObjectID
	Code    uint32
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d on object %d: %s", e.Code, e.Object, e.Message)
}

package transport

import (
	"go.uber.org/zap"
)

type Options struct {
	// SocketPath of the display socket. Resolved from the environment
	// via DefaultSocketPath when empty.
	SocketPath string

	// OnConnect runs for every accepted connection before it joins the
	// poll loop. Use it to bind the connection's initial objects. A
	// non-nil error rejects the connection.
	OnConnect func(conn *Conn) error

	// Trace will dump messages to the log. This is only useful in local debugging
	Trace bool

	Log *zap.Logger
}

package usbdo96

import "context"

// Transport opens byte sessions to a card. Implementations resolve which
// physical port to use; the core only sends frames.
type Transport interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is an open session. Send must surface failures promptly; the core
// never reads from it.
type Conn interface {
	Send(frame CommandFrame) error
	Close() error
}

package transport

import "context"

// Channel dials the duplex wire carrying newline-free JSON-encoded event
// strings out and control messages in.
type Channel interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one established connection. Send and Recv may be used from
// different goroutines; Recv returns an error once the connection dies.
type Conn interface {
	Send(msg string) error
	Recv() (string, error)
	Close() error
}

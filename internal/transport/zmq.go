package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// ZMQChannel dials a DEALER socket to the collection server. The socket has
// no connection lifecycle of its own, so Dial performs a hello/ack handshake
// and treats a handshake timeout as a failed open.
type ZMQChannel struct {
	addr             string
	handshakeTimeout time.Duration
}

// NewZMQChannel creates a channel for addr (e.g. "tcp://host:port").
func NewZMQChannel(addr string) *ZMQChannel {
	return &ZMQChannel{addr: addr, handshakeTimeout: 5 * time.Second}
}

const helloFrame = `{"status":"hello"}`

// Dial implements Channel.
func (c *ZMQChannel) Dial(ctx context.Context) (Conn, error) {
	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return nil, err
	}
	if err := sock.Connect(c.addr); err != nil {
		_ = sock.Close()
		return nil, err
	}
	conn := &zmqConn{sock: sock}

	if err := conn.Send(helloFrame); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// The ack is the first inbound frame; anything the server says counts.
	deadline := time.Now().Add(c.handshakeTimeout)
	for {
		if ctx.Err() != nil {
			_ = conn.Close()
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			_ = conn.Close()
			return nil, fmt.Errorf("transport: handshake with %s timed out", c.addr)
		}
		msg, ok, err := conn.tryRecv(100 * time.Millisecond)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if ok {
			conn.stash(msg)
			return conn, nil
		}
	}
}

// ErrConnClosed is returned by Send/Recv after Close.
var ErrConnClosed = errors.New("transport: connection closed")

// zmqConn guards the socket with a mutex; zmq sockets are not safe for
// concurrent use, so Recv polls in short windows to let Send interleave.
type zmqConn struct {
	mu      sync.Mutex
	sock    *zmq.Socket
	stashed []string
	closed  bool
}

func (c *zmqConn) stash(msg string) {
	c.mu.Lock()
	c.stashed = append(c.stashed, msg)
	c.mu.Unlock()
}

// Send implements Conn.
func (c *zmqConn) Send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	_, err := c.sock.Send(msg, 0)
	return err
}

// tryRecv polls for one inbound frame within window.
func (c *zmqConn) tryRecv(window time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false, ErrConnClosed
	}
	if len(c.stashed) > 0 {
		msg := c.stashed[0]
		c.stashed = c.stashed[1:]
		return msg, true, nil
	}
	poller := zmq.NewPoller()
	poller.Add(c.sock, zmq.POLLIN)
	polled, err := poller.Poll(window)
	if err != nil {
		return "", false, err
	}
	if len(polled) == 0 {
		return "", false, nil
	}
	msg, err := c.sock.Recv(0)
	if err != nil {
		return "", false, err
	}
	return msg, true, nil
}

// Recv implements Conn, blocking until a frame arrives or the connection
// closes.
func (c *zmqConn) Recv() (string, error) {
	for {
		msg, ok, err := c.tryRecv(100 * time.Millisecond)
		if err != nil {
			return "", err
		}
		if ok {
			return msg, nil
		}
	}
}

// Close implements Conn.
func (c *zmqConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.sock.Close()
}

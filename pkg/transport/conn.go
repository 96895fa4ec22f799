package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// Conn adapts a net.Conn into a Transport using read deadlines.
type Conn struct {
	net.Conn

	lock        sync.Mutex
	readTimeout time.Duration
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{Conn: conn}
}

// SetReadTimeout implements Transport.
func (c *Conn) SetReadTimeout(d time.Duration) error {
	c.lock.Lock()
	c.readTimeout = d
	c.lock.Unlock()
	if d <= 0 {
		return c.Conn.SetReadDeadline(time.Time{})
	}
	return nil
}

// Read implements io.Reader.
func (c *Conn) Read(p []byte) (int, error) {
	c.lock.Lock()
	timeout := c.readTimeout
	c.lock.Unlock()
	if timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

// DialTCP connects to a TCP endpoint.
func DialTCP(ctx context.Context, addr string) (*Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

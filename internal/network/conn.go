package network

import (
	"net"
	"time"
)

// PacketWriter sends a datagram to an arbitrary address. Workers use it to reply to clients and
// to forward queries upstream over the same socket the listener reads from.
type PacketWriter interface {
	WriteTo(buf []byte, addr net.Addr) (int, error)
}

// UDPConn is an abstraction over a UDP net.PacketConn that applies a write timeout to every send.
// Reads are owned by the server's receive loop and are not exposed.
type UDPConn struct {
	conn         net.PacketConn
	writeTimeout time.Duration
}

// NewUDPConn creates a UDPConn from a backing net.PacketConn.
func NewUDPConn(conn net.PacketConn, writeTimeout time.Duration) *UDPConn {
	return &UDPConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// WriteTo sets a write deadline followed by writing to the specified address. The deadline is
// shared by every worker on the socket; each write pushes it forward by the same timeout.
func (c *UDPConn) WriteTo(buf []byte, addr net.Addr) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}

	return c.conn.WriteTo(buf, addr)
}

// LocalAddr obtains the socket's local address.
func (c *UDPConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

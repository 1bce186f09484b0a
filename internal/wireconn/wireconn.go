// Package wireconn wraps net.Conn with the byte/timestamp accounting the
// metrics package exposes, and with direct socket-level controls in place
// of the original's signal-driven (alarm+EINTR) timeouts. Grounded on
// runZeroInc-sockstats's Conn wrapper (wrap.go): a net.Conn embedded in a
// struct that tracks bytes and open/close timestamps around Read/Write/
// Close.
package wireconn

import (
	"net"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// Conn wraps a net.Conn, accounting bytes transferred and connection
// lifetime, and exposing SetLinger for abrupt-teardown control.
type Conn struct {
	net.Conn

	OpenedAt time.Time
	ClosedAt time.Time
	RxBytes  int64
	TxBytes  int64
}

// Wrap returns c accounted for byte/time tracking.
func Wrap(c net.Conn) *Conn {
	return &Conn{Conn: c, OpenedAt: time.Now()}
}

func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.RxBytes += int64(n)
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.TxBytes += int64(n)
	return n, err
}

func (c *Conn) Close() error {
	c.ClosedAt = time.Now()
	return c.Conn.Close()
}

// SetLinger sets SO_LINGER directly on the underlying socket: on, with a
// zero timeout, makes the next Close abort the connection with RST
// instead of lingering through a graceful FIN+ACK, for use when the
// no-peer flag is set and teardown must not block on a half-dead peer.
// Off restores the platform default (graceful close).
func (c *Conn) SetLinger(on bool) error {
	fd, err := netfd.GetFdFromConn(c.Conn)
	if err != nil {
		return err
	}
	var onoff int32
	if on {
		onoff = 1
	}
	return unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{
		Onoff:  onoff,
		Linger: 0,
	})
}

// Deadline sets a deadline d out from now on the underlying connection for
// both read and write, the direct-socket-control replacement for the
// original's alarm()-based per-operation timeout.
func (c *Conn) Deadline(d time.Duration) error {
	if d <= 0 {
		return c.Conn.SetDeadline(time.Time{})
	}
	return c.Conn.SetDeadline(time.Now().Add(d))
}

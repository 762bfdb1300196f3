//go:build !linux

package tcp

import (
	"errors"
	"net"
	"strconv"
)

// listenTCP binds the port with the OS-default backlog. Backlog trimming
// and raw socket options are Linux-only.
func listenTCP(port int) (*net.TCPListener, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}

func setPlatformOptions(conn *net.TCPConn) {}

// SetKeepAliveCount sets the TCP_KEEPCNT option
func SetKeepAliveCount(conn *net.TCPConn, count int) (err error) {
	return errors.New("not supported")
}

package tcp

import (
	"net"
)

// DefaultReceiveBufferSize is a reasonable receive buffer size for
// control-path traffic.
const DefaultReceiveBufferSize = 4 << 10

// closeConn forcibly shuts both directions down and closes the socket.
// Errors are ignored; the peer may already be gone.
func closeConn(conn *net.TCPConn) {
	conn.CloseRead()
	conn.CloseWrite()
	conn.Close()
}

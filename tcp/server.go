package tcp

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/edgelink/rtnet/reactor"
)

// ReceiveCallback is invoked once per completed read with the receive
// buffer and the number of valid bytes. The buffer is overwritten by the
// next read; callbacks must copy anything they want to keep.
type ReceiveCallback func(data []byte, n int)

// ErrServerClosed means server has been closed
var ErrServerClosed = errors.New("rtnet/tcp: Server closed")

// Server owns one listening port and serves at most one client at a time.
// A newly accepted connection always replaces the current one: the old
// client is shut down server-side and the new client becomes active. The
// acceptor stays armed for the whole lifetime of the Server, so the next
// client can connect even while the current one is being served.
//
// Accept and read completions run serialized on the shared reactor worker.
// Write, IsConnected and Close may be called from any goroutine, but Write
// must not be called from inside a receive callback.
type Server struct {
	opts   ServerOptions
	port   int
	engine *reactor.Engine

	ln *net.TCPListener

	mu     sync.Mutex // guards conn, connID, recvCb, closed
	conn   *net.TCPConn
	connID uuid.UUID
	recvCb ReceiveCallback
	closed bool

	readMu  sync.Mutex // serializes reads into readBuf across connections
	readBuf []byte
}

// NewServer binds the port with address reuse and a listen backlog of one
// pending connection. bufSize fixes the receive buffer for the lifetime of
// the Server. Fails with reactor.ErrNotRunning if the shared reactor has
// not been started.
func NewServer(port int, bufSize int, opts ...ServerOption) (*Server, error) {
	engine, err := reactor.Shared()
	if err != nil {
		return nil, err
	}

	ln, err := listenTCP(port)
	if err != nil {
		return nil, err
	}

	opt := newServerOptions(opts...)
	return &Server{
		opts:    *opt,
		port:    port,
		engine:  engine,
		ln:      ln,
		readBuf: make([]byte, bufSize),
	}, nil
}

// Addr returns the acceptor's bound address.
func (srv *Server) Addr() net.Addr {
	return srv.ln.Addr()
}

// SetReceiveCallback replaces the receive callback. Takes effect for
// subsequent reads.
func (srv *Server) SetReceiveCallback(cb ReceiveCallback) {
	srv.mu.Lock()
	srv.recvCb = cb
	srv.mu.Unlock()
}

// Listen starts the accept loop. Call once.
func (srv *Server) Listen() {
	go srv.acceptLoop()
}

// acceptLoop re-arms the acceptor forever. Accept failures drop the active
// client but never terminate the loop; only closing the acceptor does.
func (srv *Server) acceptLoop() {
	for {
		rw, err := srv.ln.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			srv.engine.Dispatch(func() { srv.onAcceptError(err) })
			continue
		}
		srv.engine.Dispatch(func() { srv.onAccepted(rw) })
	}
}

// onAccepted installs a freshly accepted connection. Runs on the reactor
// worker.
func (srv *Server) onAccepted(conn *net.TCPConn) {
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		closeConn(conn)
		return
	}
	if srv.conn != nil {
		srv.opts.logger.Info("rtnet/tcp: new connection, closing old client",
			"port", srv.port,
			"old_remote", srv.conn.RemoteAddr(),
			"conn_id", srv.connID)
		closeConn(srv.conn)
	}
	srv.setConnOptions(conn)
	srv.conn = conn
	srv.connID = uuid.New()
	id := srv.connID
	srv.mu.Unlock()

	srv.opts.logger.Info("rtnet/tcp: accepted client",
		"port", srv.port,
		"remote", conn.RemoteAddr(),
		"conn_id", id)
	go srv.readLoop(conn, id)
}

// onAcceptError drops service on an acceptor failure. Runs on the reactor
// worker. The accept loop retries immediately; there is deliberately no
// backoff.
func (srv *Server) onAcceptError(err error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closed {
		return
	}
	if srv.conn != nil {
		srv.opts.logger.Error("rtnet/tcp: accept failed, closing client",
			"port", srv.port,
			"remote", srv.conn.RemoteAddr(),
			"conn_id", srv.connID,
			"err", err)
		closeConn(srv.conn)
		srv.conn = nil
	} else {
		srv.opts.logger.Error("rtnet/tcp: accept failed", "port", srv.port, "err", err)
	}
}

// readLoop streams from one specific connection until it errors. The
// connection is captured at loop start, not looked up per read: a
// superseded connection keeps draining independently and discovers its
// own closure on the next read attempt.
func (srv *Server) readLoop(conn *net.TCPConn, id uuid.UUID) {
	for {
		srv.readMu.Lock()
		n, err := conn.Read(srv.readBuf)
		if n > 0 {
			if c := srv.opts.recvCounter; c != nil {
				c.Add(int64(n))
			}
			srv.engine.Dispatch(func() { srv.deliver(n) })
		}
		srv.readMu.Unlock()
		if err != nil {
			srv.engine.Dispatch(func() { srv.onReadError(conn, id, err) })
			return
		}
	}
}

// deliver hands the buffer to the receive callback. Runs on the reactor
// worker while readLoop still holds readMu, so the buffer is stable for
// the duration of the callback.
func (srv *Server) deliver(n int) {
	srv.mu.Lock()
	cb := srv.recvCb
	closed := srv.closed
	srv.mu.Unlock()
	if closed || cb == nil {
		return
	}
	cb(srv.readBuf[:n], n)
}

// onReadError shuts the failed connection down. Runs on the reactor
// worker. A connection is never read again after an error; service
// resumes with the next accepted client.
func (srv *Server) onReadError(conn *net.TCPConn, id uuid.UUID, err error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closed {
		return
	}
	srv.opts.logger.Info("rtnet/tcp: closing client",
		"port", srv.port,
		"remote", conn.RemoteAddr(),
		"conn_id", id,
		"reason", err)
	closeConn(conn)
	if srv.conn == conn {
		srv.conn = nil
	}
}

// Write sends p to the active client, blocking until the OS has accepted
// all of it. Returns the number of bytes written, or -1 when no client is
// connected or the write fails. This is the one synchronous I/O path; it
// does not go through the reactor.
func (srv *Server) Write(p []byte) int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closed || srv.conn == nil {
		return -1
	}
	n, err := srv.conn.Write(p)
	if err != nil || n < 0 {
		return -1
	}
	if c := srv.opts.sendCounter; c != nil {
		c.Add(int64(n))
	}
	return n
}

// IsConnected reports whether a client is currently active. No side
// effects.
func (srv *Server) IsConnected() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.conn != nil && !srv.closed
}

// Close cancels the acceptor and force-closes any active connection.
// Safe to call while accept and read completions are in flight; they
// observe the closed state under the mutex and perform no work.
func (srv *Server) Close() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closed {
		return ErrServerClosed
	}
	srv.closed = true
	err := srv.ln.Close()
	if srv.conn != nil {
		closeConn(srv.conn)
		srv.conn = nil
	}
	return err
}

// setConnOptions applies the transport's socket options to a new client.
// All of these are best-effort; a failure never rejects the connection.
func (srv *Server) setConnOptions(conn *net.TCPConn) {
	conn.SetNoDelay(true)
	conn.SetKeepAlive(true)
	if period := srv.opts.keepAlivePeriod; period > 0 {
		conn.SetKeepAlivePeriod(period)
	}
	if count := srv.opts.keepAliveCount; count > 0 {
		SetKeepAliveCount(conn, count)
	}
	setPlatformOptions(conn)
}

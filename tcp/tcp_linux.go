package tcp

import (
	"net"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenTCP binds the port with SO_REUSEADDR and a listen backlog of
// exactly one pending connection. Only one client is ever kept, so a
// deeper backlog has no use.
func listenTCP(port int) (*net.TCPListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), "tcp:"+strconv.Itoa(port))
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}

// setPlatformOptions applies the Linux-only latency options: immediate
// acks and an elevated traffic class. Best-effort; failures are ignored.
func setPlatformOptions(conn *net.TCPConn) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return
	}

	rawConn.Control(func(fdPtr uintptr) {
		fd := int(fdPtr)
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, 6)
	})
}

// SetKeepAliveCount sets the TCP_KEEPCNT option
func SetKeepAliveCount(conn *net.TCPConn, count int) (err error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	rawConn.Control(func(fdPtr uintptr) {
		// got socket file descriptor. Setting parameters.
		fd := int(fdPtr)
		// Number of probes.
		err = syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_KEEPCNT, count)
	})

	return err
}

package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/edgelink/rtnet/reactor"
)

func newTestServer(t *testing.T, bufSize int, opts ...ServerOption) *Server {
	t.Helper()
	srv, err := NewServer(0, bufSize, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	srv.Listen()
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	port := srv.Addr().(*net.TCPAddr).Port
	c, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPingPong(t *testing.T) {
	reactor.Start()
	defer reactor.Stop()

	srv := newTestServer(t, 64)
	received := make(chan string, 16)
	srv.SetReceiveCallback(func(data []byte, n int) {
		received <- string(data[:n])
	})

	client := dial(t, srv)
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-received:
		if got != "ping" {
			t.Fatalf("received %q, want %q", got, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("payload was not delivered")
	}

	if !srv.IsConnected() {
		t.Fatal("IsConnected() = false with an active client")
	}
	if n := srv.Write([]byte("pong")); n != 4 {
		t.Fatalf("Write = %d, want 4", n)
	}

	buf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "pong" {
		t.Fatalf("client read %q, want %q", buf, "pong")
	}
}

func TestNewClientReplacesOld(t *testing.T) {
	reactor.Start()
	defer reactor.Stop()

	srv := newTestServer(t, 64)
	a := dial(t, srv)
	waitFor(t, "first client", srv.IsConnected)

	b := dial(t, srv)

	// The server shuts A down before installing B, so A observing EOF (or
	// a reset) means the replacement is complete.
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := a.Read(make([]byte, 1)); err == nil {
		t.Fatal("old client still readable after replacement")
	}
	if !srv.IsConnected() {
		t.Fatal("IsConnected() = false with the replacement client active")
	}

	if n := srv.Write([]byte("pong")); n != 4 {
		t.Fatalf("Write = %d, want 4", n)
	}
	buf := make([]byte, 4)
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(b, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "pong" {
		t.Fatalf("new client read %q, want %q", buf, "pong")
	}
}

func TestWriteWithoutClient(t *testing.T) {
	reactor.Start()
	defer reactor.Stop()

	srv := newTestServer(t, 64)
	if srv.IsConnected() {
		t.Fatal("IsConnected() = true before any client connected")
	}
	if n := srv.Write([]byte("anything")); n != -1 {
		t.Fatalf("Write = %d, want -1", n)
	}
}

func TestClientDisconnectMidStream(t *testing.T) {
	reactor.Start()
	defer reactor.Stop()

	srv := newTestServer(t, 64)
	received := make(chan string, 16)
	srv.SetReceiveCallback(func(data []byte, n int) {
		received <- string(data[:n])
	})

	a := dial(t, srv)
	if _, err := a.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("payload was not delivered")
	}

	a.Close()
	waitFor(t, "disconnect detection", func() bool { return !srv.IsConnected() })
	if n := srv.Write([]byte("x")); n != -1 {
		t.Fatalf("Write after disconnect = %d, want -1", n)
	}

	// The accept loop must still be serving.
	b := dial(t, srv)
	waitFor(t, "new client", srv.IsConnected)
	if _, err := b.Write([]byte("xyz")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-received:
		if got != "xyz" {
			t.Fatalf("received %q, want %q", got, "xyz")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("payload from new client was not delivered")
	}
}

func TestReceiveOrderPreserved(t *testing.T) {
	reactor.Start()
	defer reactor.Stop()

	srv := newTestServer(t, 4)
	received := make(chan string, 64)
	srv.SetReceiveCallback(func(data []byte, n int) {
		received <- string(data[:n])
	})

	client := dial(t, srv)
	if _, err := client.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}

	// Reads may split anywhere, but concatenated they preserve wire order.
	var got string
	deadline := time.After(2 * time.Second)
	for len(got) < 16 {
		select {
		case s := <-received:
			got += s
		case <-deadline:
			t.Fatalf("received %q so far, want all 16 bytes", got)
		}
	}
	if got != "0123456789abcdef" {
		t.Fatalf("received %q out of order", got)
	}
}

func TestNewServerRequiresReactor(t *testing.T) {
	if reactor.Running() {
		reactor.Stop()
	}
	if _, err := NewServer(0, 64); !errors.Is(err, reactor.ErrNotRunning) {
		t.Fatalf("NewServer without reactor: err = %v, want %v", err, reactor.ErrNotRunning)
	}
}

func TestCloseWhileServing(t *testing.T) {
	reactor.Start()
	defer reactor.Stop()

	srv := newTestServer(t, 64)
	client := dial(t, srv)
	waitFor(t, "client", srv.IsConnected)

	if err := srv.Close(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Close(); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("second Close: err = %v, want %v", err, ErrServerClosed)
	}
	if srv.IsConnected() {
		t.Fatal("IsConnected() = true after Close")
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Fatal("client still readable after server Close")
	}
}

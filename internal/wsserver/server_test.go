package wsserver

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/termweb/termweb-go/internal/wsconn"
)

// dialRawWebSocket performs a minimal client-side handshake over a plain
// TCP connection, used to drive Server.Serve without a real browser.
func dialRawWebSocket(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	req := "GET /panel/1 HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	br := bufio.NewReader(conn)
	statusLine, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !bytes.Contains([]byte(statusLine), []byte("101")) {
		t.Fatalf("unexpected status line: %q", statusLine)
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read headers: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}
	return conn
}

func clientSendMasked(t *testing.T, conn net.Conn, opcode byte, payload []byte) {
	t.Helper()
	key := [4]byte{1, 2, 3, 4}
	masked := append([]byte(nil), payload...)
	for i := range masked {
		masked[i] ^= key[i%4]
	}

	header := []byte{0x80 | opcode, 0x80 | byte(len(payload))}
	buf := append(header, key[:]...)
	buf = append(buf, masked...)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

func readServerFrame(t *testing.T, conn net.Conn) (opcode byte, payload []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var header [2]byte
	if _, err := readFull(conn, header[:]); err != nil {
		t.Fatalf("read header: %v", err)
	}
	opcode = header[0] & 0x0F
	length := int(header[1] & 0x7F)
	if length == 126 {
		var ext [2]byte
		readFull(conn, ext[:])
		length = int(binary.BigEndian.Uint16(ext[:]))
	}
	payload = make([]byte, length)
	readFull(conn, payload)
	return opcode, payload
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServerEchoesTextMessage(t *testing.T) {
	var mu sync.Mutex
	var received string

	srv, err := New("127.0.0.1:0", Config{}, Callbacks{
		OnMessage: func(conn *wsconn.Conn, payload []byte, isBinary bool) {
			mu.Lock()
			received = string(payload)
			mu.Unlock()
			conn.SendText("echo:" + string(payload))
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve()
	defer srv.Stop()

	conn := dialRawWebSocket(t, srv.Addr().String())
	defer conn.Close()

	clientSendMasked(t, conn, 0x1, []byte("hello"))

	opcode, payload := readServerFrame(t, conn)
	if opcode != 0x1 {
		t.Fatalf("opcode = %x, want text", opcode)
	}
	if string(payload) != "echo:hello" {
		t.Fatalf("payload = %q, want %q", payload, "echo:hello")
	}

	mu.Lock()
	defer mu.Unlock()
	if received != "hello" {
		t.Fatalf("OnMessage saw %q, want %q", received, "hello")
	}
}

func TestServerRespondsToPing(t *testing.T) {
	srv, err := New("127.0.0.1:0", Config{}, Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve()
	defer srv.Stop()

	conn := dialRawWebSocket(t, srv.Addr().String())
	defer conn.Close()

	clientSendMasked(t, conn, 0x9, []byte("ping-data"))

	opcode, payload := readServerFrame(t, conn)
	if opcode != 0xA {
		t.Fatalf("opcode = %x, want pong", opcode)
	}
	if string(payload) != "ping-data" {
		t.Fatalf("pong payload = %q, want %q", payload, "ping-data")
	}
}

func TestServerStopDrainsConnections(t *testing.T) {
	connectedCh := make(chan struct{}, 1)
	srv, err := New("127.0.0.1:0", Config{}, Callbacks{
		OnConnect: func(conn *wsconn.Conn) {
			connectedCh <- struct{}{}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go srv.Serve()

	conn := dialRawWebSocket(t, srv.Addr().String())
	defer conn.Close()
	<-connectedCh

	start := time.Now()
	srv.Stop()
	if time.Since(start) > 4*time.Second {
		t.Fatalf("Stop took too long to drain")
	}
	if srv.ActiveConnections() != 0 {
		t.Fatalf("ActiveConnections = %d, want 0 after drain", srv.ActiveConnections())
	}

	// Stop must be idempotent.
	srv.Stop()
}

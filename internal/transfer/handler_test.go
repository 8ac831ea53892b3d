package transfer

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/termweb/termweb-go/internal/wsconn"
)

// handshakeConn performs a real RFC 6455 handshake over an in-memory
// net.Pipe via wsconn's exported Accept, returning the server-side Conn
// and a reader for unmasked server->client frames written on the pipe.
func handshakeConn(t *testing.T) (*wsconn.Conn, chan []byte) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	done := make(chan struct{})
	var conn *wsconn.Conn
	var acceptErr error
	go func() {
		conn, acceptErr = wsconn.Accept(server, wsconn.DefaultConfig())
		close(done)
	}()

	req := "GET /control HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		client.Read(buf) // handshake response
		close(readDone)
	}()
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	<-readDone
	<-done
	if acceptErr != nil {
		t.Fatalf("Accept: %v", acceptErr)
	}

	frames := make(chan []byte, 256)
	go readFrames(client, frames)

	return conn, frames
}

// readFrames decodes a stream of unmasked server->client binary frames
// (RFC 6455, no extension bits) and pushes each payload onto out.
func readFrames(conn net.Conn, out chan<- []byte) {
	defer close(out)
	header := make([]byte, 2)
	for {
		if _, err := readFull(conn, header); err != nil {
			return
		}
		length := int(header[1] & 0x7F)
		switch length {
		case 126:
			ext := make([]byte, 2)
			if _, err := readFull(conn, ext); err != nil {
				return
			}
			length = int(binary.BigEndian.Uint16(ext))
		case 127:
			ext := make([]byte, 8)
			if _, err := readFull(conn, ext); err != nil {
				return
			}
			length = int(binary.BigEndian.Uint64(ext))
		}
		payload := make([]byte, length)
		if length > 0 {
			if _, err := readFull(conn, payload); err != nil {
				return
			}
		}
		out <- payload
	}
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

func nextFrame(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func writeTestFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestHandleInitDownloadStreamsChunksAndCompletes(t *testing.T) {
	src := t.TempDir()
	writeTestFile(t, src, "a.txt", []byte("hello world"))

	m := NewManager(t.TempDir(), 4) // tiny chunk size forces multiple chunks
	conn, frames := handshakeConn(t)

	init := ParseableInit(DirectionDownload, 0, src, nil)
	m.HandleMessage(conn, append([]byte{TagTransferInit}, init...))

	ready := nextFrame(t, frames)
	if ready[0] != TagTransferReady {
		t.Fatalf("expected transfer_ready, got tag %#x", ready[0])
	}
	id := binary.LittleEndian.Uint32(ready[1:5])

	listReq := make([]byte, 5)
	listReq[0] = TagFileListRequest
	binary.LittleEndian.PutUint32(listReq[1:5], id)
	m.HandleMessage(conn, listReq)

	list := nextFrame(t, frames)
	if list[0] != TagFileList {
		t.Fatalf("expected file_list, got tag %#x", list[0])
	}

	var total uint64
	var gotChunks int
	for {
		f := nextFrame(t, frames)
		if f == nil {
			t.Fatal("connection closed before transfer_complete")
		}
		if f[0] == TagFileChunk {
			gotChunks++
			sz := binary.LittleEndian.Uint32(f[17:21])
			total += uint64(sz)
			continue
		}
		if f[0] == TagTransferDone {
			doneTotal := binary.LittleEndian.Uint64(f[5:13])
			if doneTotal != total {
				t.Errorf("transfer_complete total = %d, want %d", doneTotal, total)
			}
			break
		}
		t.Fatalf("unexpected tag %#x", f[0])
	}

	if gotChunks < 2 {
		t.Errorf("expected multiple chunks with a 4-byte chunk size, got %d", gotChunks)
	}
	if total != uint64(len("hello world")) {
		t.Errorf("total transferred = %d, want %d", total, len("hello world"))
	}
	if m.Count() != 0 {
		t.Errorf("session should be removed after transfer_complete, Count() = %d", m.Count())
	}
}

func TestClassifyReportsAllNewWithNoBaseline(t *testing.T) {
	m := NewManager(t.TempDir(), 0)
	entries := []FileEntry{{Path: "a.txt", Size: 10, Hash: 1}, {Path: "b.txt", Size: 20, Hash: 2}}

	rows, newC, updC, delC := m.classify("/tmp/x", entries, 0)
	if newC != 2 || updC != 0 || delC != 0 {
		t.Fatalf("counts = %d/%d/%d, want 2/0/0", newC, updC, delC)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
}

func TestClassifyDetectsUpdatesAndDeletes(t *testing.T) {
	stateDir := t.TempDir()
	m := NewManager(stateDir, 0)

	baseline := State{
		ID:       1,
		BasePath: "/tmp/x",
		Entries: []FileEntry{
			{Path: "a.txt", Size: 10, Hash: 1, Mtime: 100},
			{Path: "gone.txt", Size: 5, Hash: 9, Mtime: 100},
		},
	}
	if err := Save(stateDir, baseline); err != nil {
		t.Fatalf("Save: %v", err)
	}

	current := []FileEntry{
		{Path: "a.txt", Size: 12, Hash: 2, Mtime: 200}, // changed
		{Path: "new.txt", Size: 3, Hash: 3, Mtime: 300},
	}

	rows, newC, updC, delC := m.classify("/tmp/x", current, FlagDeleteExtra)
	if newC != 1 || updC != 1 || delC != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/1", newC, updC, delC)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	_, newC2, updC2, delC2 := m.classify("/tmp/x", current, 0)
	if delC2 != 0 {
		t.Errorf("delete count without FlagDeleteExtra = %d, want 0", delC2)
	}
	if newC2 != 1 || updC2 != 1 {
		t.Errorf("counts without FlagDeleteExtra = %d/%d, want 1/1", newC2, updC2)
	}
}

// ParseableInit builds a transfer_init body for tests without going
// through the wire encoder (there is no production encoder for this
// client-sent message; tests assemble the bytes directly per spec.md's
// documented layout).
func ParseableInit(direction Direction, flags Flag, path string, excludes []string) []byte {
	out := make([]byte, 0, 5+len(path))
	out = append(out, byte(direction), byte(flags), byte(len(excludes)))
	pathLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(pathLen, uint16(len(path)))
	out = append(out, pathLen...)
	out = append(out, []byte(path)...)
	for _, e := range excludes {
		out = append(out, byte(len(e)))
		out = append(out, []byte(e)...)
	}
	return out
}

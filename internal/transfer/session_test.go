package transfer

import (
	"path/filepath"
	"testing"

	"github.com/termweb/termweb-go/internal/codec"
)

func TestManagerCreateGetRemoveSession(t *testing.T) {
	m := NewManager(t.TempDir(), 0)
	s, err := m.CreateSession(DirectionDownload, 0, "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID == 0 {
		t.Fatal("expected a non-zero session id")
	}

	got, ok := m.GetSession(s.ID)
	if !ok || got != s {
		t.Fatal("GetSession should return the created session")
	}

	m.RemoveSession(s.ID)
	if _, ok := m.GetSession(s.ID); ok {
		t.Fatal("session should be gone after RemoveSession")
	}
}

func TestManagerAssignsDistinctIDs(t *testing.T) {
	m := NewManager(t.TempDir(), 0)
	s1, _ := m.CreateSession(DirectionUpload, 0, "/a")
	s2, _ := m.CreateSession(DirectionUpload, 0, "/b")
	if s1.ID == s2.ID {
		t.Fatal("expected distinct session ids")
	}
}

func TestSessionReadChunkBoundsByFileSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "f.bin"), "0123456789")

	m := NewManager(t.TempDir(), 0)
	s, err := m.CreateSession(DirectionDownload, 0, root)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	entries, total, err := BuildFileList(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.SetFileList(entries, total)

	chunk, err := s.ReadChunk(0, 5, 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(chunk) != "56789" {
		t.Fatalf("chunk = %q, want %q", chunk, "56789")
	}
}

func TestSessionReadChunkRejectsDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "f.bin"), "x")

	m := NewManager(t.TempDir(), 0)
	s, err := m.CreateSession(DirectionDownload, 0, root)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	entries, total, err := BuildFileList(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.SetFileList(entries, total)

	var dirIndex = -1
	for i, e := range entries {
		if e.IsDir {
			dirIndex = i
		}
	}
	if dirIndex == -1 {
		t.Fatal("expected a directory entry in the file list")
	}

	if _, err := s.ReadChunk(dirIndex, 0, 10); err != ErrIsDirectory {
		t.Fatalf("err = %v, want ErrIsDirectory", err)
	}
}

func TestSessionReadChunkInvalidIndex(t *testing.T) {
	m := NewManager(t.TempDir(), 0)
	s, err := m.CreateSession(DirectionDownload, 0, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.ReadChunk(0, 0, 10); err != ErrInvalidFileIndex {
		t.Fatalf("err = %v, want ErrInvalidFileIndex", err)
	}
}

func TestSessionCompressChunkRoundTrips(t *testing.T) {
	root := t.TempDir()
	content := "the quick brown fox jumps over the lazy dog"
	writeFile(t, filepath.Join(root, "f.txt"), content)

	m := NewManager(t.TempDir(), 0)
	s, err := m.CreateSession(DirectionDownload, 0, root)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	entries, total, err := BuildFileList(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.SetFileList(entries, total)

	compressed, uncompressedSize, err := s.CompressChunk(0, 0, int64(len(content)))
	if err != nil {
		t.Fatal(err)
	}
	if uncompressedSize != len(content) {
		t.Fatalf("uncompressedSize = %d, want %d", uncompressedSize, len(content))
	}

	dec, err := codec.NewZstdDecompressor()
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	out, err := dec.Decompress(compressed, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != content {
		t.Fatalf("decompressed = %q, want %q", out, content)
	}
}

func TestSessionCancel(t *testing.T) {
	m := NewManager(t.TempDir(), 0)
	s, err := m.CreateSession(DirectionUpload, 0, "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if s.Cancelled() {
		t.Fatal("new session should not be cancelled")
	}
	s.Cancel()
	if !s.Cancelled() {
		t.Fatal("Cancel should set Cancelled()")
	}
}

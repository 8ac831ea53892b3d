// Package transfer implements the file-transfer session engine (spec.md
// §4.8): a thread-safe session manager, mmap-backed sequential file
// reads, zstd chunk compression, and a resumable on-disk cursor.
package transfer

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"github.com/termweb/termweb-go/internal/codec"
	"github.com/termweb/termweb-go/internal/logging"
)

var log = logging.L("transfer")

// chunkCompressionLevel is fixed at zstd level 3 (spec.md §4.8
// "compress_from_mapped ... runs zstd at level 3").
var chunkCompressionLevel = zstd.EncoderLevelFromZstd(3)

// Session is one active file-transfer exchange (glossary: "a stateful
// file-transfer exchange with a deterministic file list and a cursor,
// persistable to disk for resume").
type Session struct {
	ID        uint32
	Direction Direction
	Flags     Flag
	BasePath  string

	mu      sync.Mutex
	entries []FileEntry
	total   uint64
	mapped  mappedFile

	cursorFileIndex   uint32
	cursorOffset      uint64
	cursorTransferred uint64

	compressor *codec.ZstdCompressor

	cancelled atomic.Bool
}

func newSession(id uint32, direction Direction, flags Flag, basePath string) (*Session, error) {
	compressor, err := codec.NewZstdCompressor(chunkCompressionLevel)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:         id,
		Direction:  direction,
		Flags:      flags,
		BasePath:   basePath,
		compressor: compressor,
	}, nil
}

// SetFileList replaces the session's file list (used after BuildFileList
// for downloads, or populated directly for uploads as files arrive).
func (s *Session) SetFileList(entries []FileEntry, totalBytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.total = totalBytes
}

// FileList returns the session's current file list and total byte count.
func (s *Session) FileList() ([]FileEntry, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FileEntry(nil), s.entries...), s.total
}

// ReadChunk implements "read_chunk(file_index, offset, max_size) → slice"
// (spec.md §4.8), remapping the backing file only when file_index changes.
func (s *Session) ReadChunk(fileIndex int, offset, maxSize int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fileIndex < 0 || fileIndex >= len(s.entries) {
		return nil, ErrInvalidFileIndex
	}
	entry := s.entries[fileIndex]
	if entry.IsDir {
		return nil, ErrIsDirectory
	}

	if err := s.mapped.ensure(fileIndex, s.resolvePath(entry.Path)); err != nil {
		return nil, err
	}
	return s.mapped.readChunk(offset, maxSize), nil
}

// CompressChunk implements "compress_from_mapped" by reading via
// ReadChunk and compressing the slice at zstd level 3.
func (s *Session) CompressChunk(fileIndex int, offset, maxSize int64) (compressed []byte, uncompressedSize int, err error) {
	raw, err := s.ReadChunk(fileIndex, offset, maxSize)
	if err != nil {
		return nil, 0, err
	}
	return s.compressor.Compress(raw), len(raw), nil
}

// SetCursor restores a session's in-progress cursor, used when resuming
// from persisted state so streaming continues where it left off.
func (s *Session) SetCursor(fileIndex uint32, offset, transferred uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorFileIndex = fileIndex
	s.cursorOffset = offset
	s.cursorTransferred = transferred
}

// Cursor returns the session's current in-progress cursor.
func (s *Session) Cursor() (fileIndex uint32, offset, transferred uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorFileIndex, s.cursorOffset, s.cursorTransferred
}

func (s *Session) resolvePath(relPath string) string {
	if relPath == "" {
		return s.BasePath
	}
	return filepath.Join(s.BasePath, relPath)
}

// Cancel marks the session cancelled (spec.md §5 "honors transfer_cancel
// by removing the session"); Manager.RemoveSession performs the removal.
func (s *Session) Cancel() { s.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// Close releases the session's mmap and compressor resources.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mapped.close()
	if s.compressor != nil {
		s.compressor.Close()
	}
}

// Snapshot captures enough of a session's state to persist via Save.
func (s *Session) Snapshot(currentFileIndex uint32, currentFileOffset, bytesTransferred uint64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:                s.ID,
		Direction:         s.Direction,
		Flags:             s.Flags,
		CurrentFileIndex:  currentFileIndex,
		CurrentFileOffset: currentFileOffset,
		BytesTransferred:  bytesTransferred,
		BasePath:          s.BasePath,
		Entries:           append([]FileEntry(nil), s.entries...),
	}
}

// Manager owns the process's transfer sessions, keyed by a freshly
// assigned u32 id (spec.md §4.8 "Manager").
type Manager struct {
	mu         sync.RWMutex
	sessions   map[uint32]*Session
	nextID     uint32
	stateDir   string
	chunkBytes int64
}

const defaultChunkBytes = 1 << 20

// NewManager constructs an empty Manager. stateDir is where resumable
// session state is persisted (internal/config's TransferStateDir,
// normally $HOME/.termweb/transfers). chunkBytes bounds a single
// file_chunk's uncompressed size (internal/config's TransferChunkBytes);
// a value <= 0 uses a 1 MiB default.
func NewManager(stateDir string, chunkBytes int) *Manager {
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}
	return &Manager{
		sessions:   make(map[uint32]*Session),
		stateDir:   stateDir,
		chunkBytes: int64(chunkBytes),
	}
}

// CreateSession assigns a fresh id and registers a new Session.
func (m *Manager) CreateSession(direction Direction, flags Flag, basePath string) (*Session, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	s, err := newSession(id, direction, flags, basePath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s, nil
}

// GetSession looks up a session by id.
func (m *Manager) GetSession(id uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// RemoveSession closes and drops a session from the registry.
func (m *Manager) RemoveSession(id uint32) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// SaveState persists a session's current cursor for later resume.
func (m *Manager) SaveState(st State) error {
	return Save(m.stateDir, st)
}

// LoadState loads a session's persisted cursor, if any.
func (m *Manager) LoadState(id uint32) (State, error) {
	return Load(m.stateDir, id)
}

// Count reports the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

package transfer

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// State is the on-disk resumable cursor for a transfer session (spec.md
// §4.8 "Resumable state"), persisted at
// $HOME/.termweb/transfers/<id>.state.
type State struct {
	ID                uint32
	Direction         Direction
	Flags             Flag
	CurrentFileIndex  uint32
	CurrentFileOffset uint64
	BytesTransferred  uint64
	BasePath          string
	Entries           []FileEntry
}

// statePath returns the path a session's state file lives at within
// stateDir (normally $HOME/.termweb/transfers, see internal/config).
func statePath(stateDir string, id uint32) string {
	return filepath.Join(stateDir, fmt.Sprintf("%d.state", id))
}

// Save writes the session state atomically enough for spec.md's stated
// recovery policy: a write to a temp file followed by a rename, so a
// process crash mid-write leaves either the old or no file, never a
// half-written one.
func Save(stateDir string, st State) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("transfer: mkdir state dir: %w", err)
	}

	data := encodeState(st)

	tmp := statePath(stateDir, st.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("transfer: write temp state: %w", err)
	}
	if err := os.Rename(tmp, statePath(stateDir, st.ID)); err != nil {
		return fmt.Errorf("transfer: rename state: %w", err)
	}
	return nil
}

// Load reads and decodes the state file for id. Load rejects mismatched
// ids (spec.md "Load rejects mismatched ids") and a missing or truncated
// file is reported distinctly so the caller can retry the session from
// scratch rather than treat it as fatal.
func Load(stateDir string, id uint32) (State, error) {
	data, err := os.ReadFile(statePath(stateDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateMissing
		}
		return State{}, fmt.Errorf("transfer: read state: %w", err)
	}

	st, err := decodeState(data)
	if err != nil {
		return State{}, err
	}
	if st.ID != id {
		return State{}, ErrInvalidStateFile
	}
	return st, nil
}

// ListStates loads every persisted session state under stateDir, skipping
// temp files and entries that fail to decode (a partial write simply
// doesn't count as a prior manifest).
func ListStates(stateDir string) ([]State, error) {
	dirEntries, err := os.ReadDir(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("transfer: list state dir: %w", err)
	}

	var out []State
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".state") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(stateDir, name))
		if err != nil {
			continue
		}
		st, err := decodeState(data)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// encodeState lays out
// [id:u32][direction:u8][flags:u8][current_file_index:u32][current_file_offset:u64][bytes_transferred:u64]
// [base_path_len:u16][base_path]
// [file_count:u32] then per entry [path_len:u16][path][size:u64][mtime:u64][hash:u64][is_dir:u8].
func encodeState(st State) []byte {
	size := 4 + 1 + 1 + 4 + 8 + 8
	size += 2 + len(st.BasePath)
	size += 4
	for _, e := range st.Entries {
		size += 2 + len(e.Path) + 8 + 8 + 8 + 1
	}

	out := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(out[off:], st.ID)
	off += 4
	out[off] = byte(st.Direction)
	off++
	out[off] = byte(st.Flags)
	off++
	binary.LittleEndian.PutUint32(out[off:], st.CurrentFileIndex)
	off += 4
	binary.LittleEndian.PutUint64(out[off:], st.CurrentFileOffset)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], st.BytesTransferred)
	off += 8

	binary.LittleEndian.PutUint16(out[off:], uint16(len(st.BasePath)))
	off += 2
	off += copy(out[off:], st.BasePath)

	binary.LittleEndian.PutUint32(out[off:], uint32(len(st.Entries)))
	off += 4
	for _, e := range st.Entries {
		binary.LittleEndian.PutUint16(out[off:], uint16(len(e.Path)))
		off += 2
		off += copy(out[off:], e.Path)
		binary.LittleEndian.PutUint64(out[off:], e.Size)
		off += 8
		binary.LittleEndian.PutUint64(out[off:], e.Mtime)
		off += 8
		binary.LittleEndian.PutUint64(out[off:], e.Hash)
		off += 8
		if e.IsDir {
			out[off] = 1
		}
		off++
	}
	return out
}

func decodeState(data []byte) (State, error) {
	if len(data) < 4+1+1+4+8+8+2 {
		return State{}, ErrInvalidStateFile
	}
	var st State
	off := 0
	st.ID = binary.LittleEndian.Uint32(data[off:])
	off += 4
	st.Direction = Direction(data[off])
	off++
	st.Flags = Flag(data[off])
	off++
	st.CurrentFileIndex = binary.LittleEndian.Uint32(data[off:])
	off += 4
	st.CurrentFileOffset = binary.LittleEndian.Uint64(data[off:])
	off += 8
	st.BytesTransferred = binary.LittleEndian.Uint64(data[off:])
	off += 8

	if off+2 > len(data) {
		return State{}, ErrInvalidStateFile
	}
	pathLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+pathLen > len(data) {
		return State{}, ErrInvalidStateFile
	}
	st.BasePath = string(data[off : off+pathLen])
	off += pathLen

	if off+4 > len(data) {
		return State{}, ErrInvalidStateFile
	}
	count := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	st.Entries = make([]FileEntry, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(data) {
			return State{}, ErrInvalidStateFile
		}
		plen := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+plen+8+8+8+1 > len(data) {
			return State{}, ErrInvalidStateFile
		}
		path := string(data[off : off+plen])
		off += plen
		size := binary.LittleEndian.Uint64(data[off:])
		off += 8
		mtime := binary.LittleEndian.Uint64(data[off:])
		off += 8
		hash := binary.LittleEndian.Uint64(data[off:])
		off += 8
		isDir := data[off] != 0
		off++
		st.Entries = append(st.Entries, FileEntry{
			Path: path, Size: size, Mtime: mtime, Hash: hash, IsDir: isDir,
		})
	}
	return st, nil
}

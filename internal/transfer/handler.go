package transfer

import (
	"fmt"

	"github.com/termweb/termweb-go/internal/wsconn"
)

// HandleMessage dispatches one binary transfer-tagged frame received on
// the control channel against m, replying on conn as needed (spec.md
// §4.8 "Wire messages"). Unknown tags and malformed bodies are ignored;
// callers gate only on isBinary before calling.
func (m *Manager) HandleMessage(conn *wsconn.Conn, payload []byte) {
	if len(payload) == 0 {
		return
	}
	tag := payload[0]
	body := payload[1:]

	switch tag {
	case TagTransferInit:
		m.handleInit(conn, body)
	case TagFileListRequest:
		m.handleFileListRequest(conn, body)
	case TagFileData:
		m.handleFileData(conn, body)
	case TagTransferResume:
		m.handleResume(conn, body)
	case TagTransferCancel:
		m.handleCancel(conn, body)
	}
}

func (m *Manager) handleInit(conn *wsconn.Conn, body []byte) {
	req, err := ParseTransferInit(body)
	if err != nil {
		log.Debug("malformed transfer_init", "error", err)
		return
	}

	session, err := m.CreateSession(req.Direction, req.Flags, req.Path)
	if err != nil {
		_ = conn.SendBinary(EncodeTransferError(0, err.Error()))
		return
	}

	if req.Direction == DirectionDownload {
		entries, total, err := BuildFileList(req.Path, req.Excludes)
		if err != nil {
			_ = conn.SendBinary(EncodeTransferError(session.ID, err.Error()))
			m.RemoveSession(session.ID)
			return
		}
		session.SetFileList(entries, total)

		if req.Flags&FlagDryRun != 0 {
			m.sendDryRunReport(conn, session.ID, req.Path, entries, req.Flags)
			m.RemoveSession(session.ID)
			return
		}
	}

	_ = conn.SendBinary(EncodeTransferReady(session.ID))
}

// sendDryRunReport classifies the freshly walked entries against the most
// recent persisted state for the same base_path (the closest thing to a
// destination manifest this engine has on hand, since a download session's
// actual destination lives on the remote client): entries absent from
// that baseline are new, entries present with a different hash or mtime
// are updates, and — when FlagDeleteExtra is set — baseline entries no
// longer present in the walk are deletes (spec.md §3 TransferSession
// flags.dry_run / flags.delete_extra).
func (m *Manager) sendDryRunReport(conn *wsconn.Conn, id uint32, basePath string, entries []FileEntry, flags Flag) {
	rows, newCount, updateCount, deleteCount := m.classify(basePath, entries, flags)
	_ = conn.SendBinary(EncodeDryRunReport(id, newCount, updateCount, deleteCount, rows))
}

func (m *Manager) classify(basePath string, entries []FileEntry, flags Flag) (rows []DryRunRow, newCount, updateCount, deleteCount uint32) {
	baseline := m.baselineEntries(basePath)
	byPath := make(map[string]FileEntry, len(baseline))
	for _, e := range baseline {
		byPath[e.Path] = e
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		seen[e.Path] = true
		prev, existed := byPath[e.Path]
		switch {
		case !existed:
			rows = append(rows, DryRunRow{Action: DryRunNew, Path: e.Path, Size: e.Size})
			newCount++
		case prev.Hash != e.Hash || prev.Mtime != e.Mtime:
			rows = append(rows, DryRunRow{Action: DryRunUpdate, Path: e.Path, Size: e.Size})
			updateCount++
		}
	}

	if flags&FlagDeleteExtra != 0 {
		for _, e := range baseline {
			if e.IsDir || seen[e.Path] {
				continue
			}
			rows = append(rows, DryRunRow{Action: DryRunDelete, Path: e.Path, Size: e.Size})
			deleteCount++
		}
	}
	return rows, newCount, updateCount, deleteCount
}

// baselineEntries returns the file list of the most recently persisted
// session state for basePath, or nil if none exists yet — the first
// dry-run (or the first real transfer) against a path has no baseline, so
// every entry reports as new.
func (m *Manager) baselineEntries(basePath string) []FileEntry {
	states, err := ListStates(m.stateDir)
	if err != nil {
		return nil
	}
	var best *State
	for i := range states {
		if states[i].BasePath != basePath {
			continue
		}
		if best == nil || states[i].ID > best.ID {
			best = &states[i]
		}
	}
	if best == nil {
		return nil
	}
	return best.Entries
}

func (m *Manager) handleFileListRequest(conn *wsconn.Conn, body []byte) {
	id, err := ParseFileListRequest(body)
	if err != nil {
		return
	}
	session, ok := m.GetSession(id)
	if !ok {
		_ = conn.SendBinary(EncodeTransferError(id, ErrSessionNotFound.Error()))
		return
	}
	entries, total := session.FileList()
	_ = conn.SendBinary(EncodeFileList(id, entries, total))

	if session.Direction == DirectionDownload {
		m.streamDownload(conn, session)
	}
}

// streamDownload drives a download session to completion: for every
// non-directory entry, mmap-backed chunks are read, compressed at zstd
// level 3, and sent as file_chunk frames, with the session's cursor
// persisted after each chunk so a mid-stream crash can resume from disk
// (spec.md §4.8 Chunk read/Compression, §8 property 9, S6). A session
// cancelled mid-stream (transfer_cancel) stops without sending
// transfer_complete.
func (m *Manager) streamDownload(conn *wsconn.Conn, session *Session) {
	entries, _ := session.FileList()
	startFileIndex, startOffset, transferred := session.Cursor()

	for fi, entry := range entries {
		if entry.IsDir || fi < int(startFileIndex) {
			continue
		}
		offset := int64(0)
		if fi == int(startFileIndex) {
			offset = int64(startOffset)
		}

		for offset < int64(entry.Size) {
			if session.Cancelled() {
				return
			}
			compressed, uncompressedSize, err := session.CompressChunk(fi, offset, m.chunkBytes)
			if err != nil {
				_ = conn.SendBinary(EncodeTransferError(session.ID, err.Error()))
				return
			}
			if uncompressedSize == 0 {
				break
			}

			_ = conn.SendBinary(EncodeFileChunk(session.ID, uint32(fi), uint64(offset), uint32(uncompressedSize), compressed))

			offset += int64(uncompressedSize)
			transferred += uint64(uncompressedSize)
			session.SetCursor(uint32(fi), uint64(offset), transferred)

			st := session.Snapshot(uint32(fi), uint64(offset), transferred)
			if err := m.SaveState(st); err != nil {
				log.Debug("save transfer state failed", "session_id", session.ID, "error", err)
			}
		}
	}

	_ = conn.SendBinary(EncodeTransferComplete(session.ID, transferred))
	m.RemoveSession(session.ID)
}

func (m *Manager) handleFileData(conn *wsconn.Conn, body []byte) {
	chunk, err := ParseFileData(body)
	if err != nil {
		return
	}
	session, ok := m.GetSession(chunk.SessionID)
	if !ok {
		_ = conn.SendBinary(EncodeTransferError(chunk.SessionID, ErrSessionNotFound.Error()))
		return
	}

	received := chunk.Offset + uint64(chunk.UncompressedSize)
	_ = conn.SendBinary(EncodeFileAck(chunk.SessionID, chunk.FileIndex, received))

	st := session.Snapshot(chunk.FileIndex, chunk.Offset+uint64(chunk.UncompressedSize), received)
	if err := m.SaveState(st); err != nil {
		log.Debug("save transfer state failed", "session_id", chunk.SessionID, "error", err)
	}
}

func (m *Manager) handleResume(conn *wsconn.Conn, body []byte) {
	id, err := ParseTransferResume(body)
	if err != nil {
		return
	}
	st, err := m.LoadState(id)
	if err != nil {
		_ = conn.SendBinary(EncodeTransferError(id, fmt.Sprintf("resume failed: %v", err)))
		return
	}

	session, err := newSession(st.ID, st.Direction, st.Flags, st.BasePath)
	if err != nil {
		_ = conn.SendBinary(EncodeTransferError(id, err.Error()))
		return
	}
	session.SetFileList(st.Entries, totalBytes(st.Entries))
	session.SetCursor(st.CurrentFileIndex, st.CurrentFileOffset, st.BytesTransferred)

	m.mu.Lock()
	m.sessions[id] = session
	if id > m.nextID {
		m.nextID = id
	}
	m.mu.Unlock()

	_ = conn.SendBinary(EncodeTransferReady(id))
}

func (m *Manager) handleCancel(conn *wsconn.Conn, body []byte) {
	id, err := ParseTransferCancel(body)
	if err != nil {
		return
	}
	if session, ok := m.GetSession(id); ok {
		session.Cancel()
	}
	m.RemoveSession(id)
}

func totalBytes(entries []FileEntry) uint64 {
	var total uint64
	for _, e := range entries {
		if !e.IsDir {
			total += e.Size
		}
	}
	return total
}
